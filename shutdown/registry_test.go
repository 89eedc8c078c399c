package shutdown

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestShutdownRegistry_Order(t *testing.T) {
	registry := NewShutdownRegistry()
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			order = append(order, name)
			return nil
		}
	}

	registry.Register("database", PriorityStorage, record("database"))
	registry.Register("http", PriorityHTTPServer, record("http"))
	registry.Register("redis", PriorityStorage, record("redis"))
	registry.Register("logger", PriorityLogger, record("logger"))

	want := []string{"http", "database", "redis", "logger"}
	if got := registry.Names(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Names = %v, want %v", got, want)
	}
	if errs := registry.Shutdown(context.Background()); len(errs) != 0 {
		t.Fatalf("Shutdown errors: %v", errs)
	}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestShutdownRegistry_ContinuesAfterError(t *testing.T) {
	registry := NewShutdownRegistry()
	boom := errors.New("boom")
	ran := false

	registry.Register("first", 1, func(context.Context) error { return boom })
	registry.Register("second", 2, func(context.Context) error {
		ran = true
		return nil
	})

	errs := registry.Shutdown(context.Background())
	if len(errs) != 1 || !errors.Is(errs[0], boom) {
		t.Fatalf("errs = %v", errs)
	}
	if !strings.HasPrefix(errs[0].Error(), "first: ") {
		t.Errorf("error not prefixed with entry name: %v", errs[0])
	}
	if !ran {
		t.Error("second handler did not run")
	}
}

func TestShutdownRegistry_OnlyOnce(t *testing.T) {
	registry := NewShutdownRegistry()
	calls := 0
	registry.Register("h", 1, func(context.Context) error {
		calls++
		return nil
	})

	registry.Shutdown(context.Background())
	registry.Shutdown(context.Background())
	registry.Register("late", 0, func(context.Context) error {
		t.Error("registered after shutdown must not run")
		return nil
	})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if registry.Count() != 1 {
		t.Errorf("Count = %d, want 1", registry.Count())
	}
}

func TestShutdownRegistry_PassesContext(t *testing.T) {
	registry := NewShutdownRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	registry.Register("h", 1, func(ctx context.Context) error { return ctx.Err() })
	errs := registry.Shutdown(ctx)
	if len(errs) != 1 || !errors.Is(errs[0], context.Canceled) {
		t.Errorf("errs = %v", errs)
	}
}
