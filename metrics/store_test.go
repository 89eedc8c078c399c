package metrics

import (
	"sync"
	"testing"
	"time"

	"bgstudio/catalog"
)

func call(op, status string, cost string, d time.Duration) CallRecord {
	return CallRecord{
		TaskID:    "task",
		Operation: op,
		Status:    status,
		Cost:      catalog.MustParseAmount(cost),
		Attempts:  1,
		Duration:  d,
	}
}

func TestNewStore(t *testing.T) {
	t.Run("defaults capacity", func(t *testing.T) {
		store := NewStore(0, time.Now())
		if store.cap != DefaultHistoryCapacity {
			t.Errorf("expected capacity %d, got %d", DefaultHistoryCapacity, store.cap)
		}
	})

	t.Run("empty store", func(t *testing.T) {
		store := NewStore(10, time.Now())
		if got := store.RecentCalls(5); len(got) != 0 {
			t.Errorf("expected no calls, got %d", len(got))
		}
		summary := store.Summary()
		if summary.TotalCalls != 0 || len(summary.ByOperation) != 0 {
			t.Errorf("expected empty summary, got %+v", summary)
		}
	})
}

func TestStore_Summary(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(10, start)
	store.now = func() time.Time { return start.Add(time.Hour) }

	store.RecordCall(call("removeBackground", CallStatusSuccess, "0.0006", 100*time.Millisecond))
	store.RecordCall(call("synthesize", CallStatusSuccess, "0.05", 2*time.Second))
	failed := call("synthesize", CallStatusError, "0", 4*time.Second)
	failed.Attempts = 3
	store.RecordCall(failed)

	summary := store.Summary()
	if summary.TotalCalls != 3 || summary.TotalSuccess != 2 || summary.TotalErrors != 1 {
		t.Errorf("unexpected totals %+v", summary)
	}
	if want := catalog.MustParseAmount("0.0506"); summary.TotalSpend != want {
		t.Errorf("expected spend %s, got %s", want, summary.TotalSpend)
	}
	if summary.Uptime != time.Hour {
		t.Errorf("expected uptime 1h, got %s", summary.Uptime)
	}

	synth := summary.ByOperation["synthesize"]
	if synth == nil {
		t.Fatal("missing synthesize stats")
	}
	if synth.Count != 2 {
		t.Errorf("expected 2 synthesize calls, got %d", synth.Count)
	}
	if synth.SuccessRate != 50 {
		t.Errorf("expected 50%% success, got %v", synth.SuccessRate)
	}
	if synth.AvgDuration != 3*time.Second {
		t.Errorf("expected avg 3s, got %s", synth.AvgDuration)
	}
	if synth.AvgAttempts != 2 {
		t.Errorf("expected 2 avg attempts, got %v", synth.AvgAttempts)
	}
	if synth.Spend != catalog.MustParseAmount("0.05") {
		t.Errorf("expected synthesize spend 0.05, got %s", synth.Spend)
	}
}

func TestStore_BilledFailuresCountAsSpend(t *testing.T) {
	store := NewStore(10, time.Now())
	store.RecordCall(call("synthesize", CallStatusError, "0.05", time.Second))

	summary := store.Summary()
	if summary.TotalErrors != 1 {
		t.Errorf("expected 1 error, got %d", summary.TotalErrors)
	}
	if summary.TotalSpend != catalog.MustParseAmount("0.05") {
		t.Errorf("expected billed failure in spend, got %s", summary.TotalSpend)
	}
}

func TestStore_RecentCallsWrapAround(t *testing.T) {
	store := NewStore(3, time.Now())
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		rec := call("synthesize", CallStatusSuccess, "0.05", time.Second)
		rec.TaskID = id
		store.RecordCall(rec)
	}

	got := store.RecentCalls(10)
	if len(got) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(got))
	}
	for i, want := range []string{"e", "d", "c"} {
		if got[i].TaskID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, got[i].TaskID)
		}
	}

	if got := store.RecentCalls(1); len(got) != 1 || got[0].TaskID != "e" {
		t.Errorf("expected only the latest call, got %+v", got)
	}
	if total := store.Summary().TotalCalls; total != 5 {
		t.Errorf("aggregates count evicted calls too, got %d", total)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	store := NewStore(50, time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.RecordCall(call("synthesize", CallStatusSuccess, "0.01", time.Millisecond))
				_ = store.RecentCalls(5)
				_ = store.Summary()
			}
		}()
	}
	wg.Wait()

	if total := store.Summary().TotalCalls; total != 1000 {
		t.Errorf("expected 1000 calls, got %d", total)
	}
}
