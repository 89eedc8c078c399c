package core

import (
	"bytes"
	"strings"
	"testing"
)

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		-5:              "0 B",
		0:               "0 B",
		512:             "512 B",
		1536:            "1.50 KB",
		20 * BytesPerMB: "20.00 MB",
		3 * BytesPerGB:  "3.00 GB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := map[string]int64{
		"500":    500,
		"64KB":   64 * BytesPerKB,
		"1.5 MB": BytesPerMB + BytesPerMB/2,
		"2gb":    2 * BytesPerGB,
		"10B":    10,
	}
	for in, want := range tests {
		got, err := ParseBytes(in)
		if err != nil || got != want {
			t.Errorf("ParseBytes(%q) = %d, %v; want %d", in, got, err, want)
		}
	}
	for _, in := range []string{"", "MB", "-1KB", "ten"} {
		if _, err := ParseBytes(in); err == nil {
			t.Errorf("ParseBytes(%q) expected error", in)
		}
	}
}

func TestPrintStartupSummary(t *testing.T) {
	var buf bytes.Buffer
	ok := PrintStartupSummary(&buf, []StartupCheck{
		{Name: "Catalog", Status: CheckPassed, Detail: "2 models"},
		{Name: "Workflow store", Status: CheckWarning, Detail: "in-memory"},
	})
	if !ok {
		t.Error("warnings should not fail the summary")
	}
	out := buf.String()
	for _, want := range []string{"bgstudio", "Catalog", "2 models", "in-memory"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	if PrintStartupSummary(&buf, []StartupCheck{{Name: "Database", Status: CheckFailed}}) {
		t.Error("failed check should fail the summary")
	}
}
