package debug

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// withCategories swaps the enabled set for the duration of a test.
func withCategories(t *testing.T, s string) {
	t.Helper()
	prev := enabled.Load()
	set := parseCategories(s)
	enabled.Store(&set)
	t.Cleanup(func() { enabled.Store(prev) })
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{"", nil},
		{"sandbox", []string{"sandbox"}},
		{" sandbox , Remote ", []string{"sandbox", "remote"}},
		{"SANDBOX,,remote,", []string{"sandbox", "remote"}},
	}
	for _, tt := range tests {
		got := parseCategories(tt.input)
		if len(got) != len(tt.want) {
			t.Errorf("%q: got %v, want %v", tt.input, got, tt.want)
			continue
		}
		for _, w := range tt.want {
			if _, ok := got[w]; !ok {
				t.Errorf("%q: missing %q", tt.input, w)
			}
		}
	}
}

func TestEnabled(t *testing.T) {
	withCategories(t, "providers,sandbox")
	for cat, want := range map[string]bool{"providers": true, "sandbox": true, "remote": false, "all": false} {
		if got := Enabled(cat); got != want {
			t.Errorf("Enabled(%q) = %v, want %v", cat, got, want)
		}
	}

	withCategories(t, "all")
	if !Enabled("routing") {
		t.Error("all should enable every category")
	}

	withCategories(t, "")
	if Enabled("routing") {
		t.Error("nothing should be enabled")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"TRACE":   LevelTrace,
		"debug":   slog.LevelDebug,
		" info ":  slog.LevelInfo,
		"Warning": slog.LevelWarn,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := Truncate("abcdefghij", 4); got != "abcd..." {
		t.Errorf("got %q", got)
	}
	// "é" is two bytes; cutting inside it backs up to the rune start.
	if got := Truncate("aé", 2); got != "a..." {
		t.Errorf("got %q", got)
	}
}

func TestSetupGatesByCategoryAndLevel(t *testing.T) {
	t.Setenv("PLOTWISE_DEBUG", "")
	t.Setenv("PLOTWISE_LOG_LEVEL", "")
	t.Setenv("PLOTWISE_LOG_FORMAT", "")
	prevSet := enabled.Load()
	prevLogger := slog.Default()
	t.Cleanup(func() {
		enabled.Store(prevSet)
		slog.SetDefault(prevLogger)
	})

	var buf bytes.Buffer
	slog.SetDefault(Setup(&buf, Settings{Level: "TRACE", Categories: "sandbox", Format: "json"}))

	Log("sandbox", "kept", "n", 1)
	Trace("sandbox", "trace kept")
	Log("remote", "dropped")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d records: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec["level"] != "TRACE" || rec["debug"] != "sandbox" || rec["msg"] != "trace kept" {
		t.Errorf("record = %v", rec)
	}
}

func TestSetupEnvironmentWins(t *testing.T) {
	t.Setenv("PLOTWISE_DEBUG", "remote")
	t.Setenv("PLOTWISE_LOG_LEVEL", "ERROR")
	t.Setenv("PLOTWISE_LOG_FORMAT", "")
	prev := enabled.Load()
	t.Cleanup(func() { enabled.Store(prev) })

	var buf bytes.Buffer
	logger := Setup(&buf, Settings{Level: "DEBUG", Categories: "sandbox"})
	if !Enabled("remote") || Enabled("sandbox") {
		t.Error("PLOTWISE_DEBUG should replace configured categories")
	}
	logger.Warn("below threshold")
	if buf.Len() != 0 {
		t.Errorf("warn logged at ERROR level: %s", buf.String())
	}
}
