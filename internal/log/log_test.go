package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelInfo)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Debug("hidden debug line")
	Info("visible info line", "source", "family")
	Warn("source fetch failed", errors.New("boom"), "source", "work")

	out := buf.String()
	if strings.Contains(out, "hidden debug line") {
		t.Fatalf("debug line logged at INFO level: %q", out)
	}
	for _, want := range []string{"visible info line", "INFO", "WARN", "boom", `"source"`, "work"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %q", want, out)
		}
	}
}

func TestDebugEnabled(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelDebug)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	Debug("now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Fatalf("debug line missing: %q", buf.String())
	}
}

func TestPairsDropsMalformed(t *testing.T) {
	got := pairs([]any{"a", 1, 2, "b", "dangling"})
	if len(got) != 2 || got[0] != "a" || got[1] != 1 {
		t.Fatalf("pairs = %v", got)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":  LevelDebug,
		" WARN ": LevelWarn,
		"error":  LevelError,
		"":       LevelInfo,
		"chatty": LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
