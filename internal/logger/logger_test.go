package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(WarnLevel, &buf)

	log.Infow("hidden", "k", 1)
	log.Warnw("shown", "k", 2)
	_ = log.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line logged at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "WARN") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestNamedAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	New(DebugLevel, &buf).Named("daemon").Debugw("tick")
	if !strings.Contains(buf.String(), "daemon") {
		t.Fatalf("component name missing: %q", buf.String())
	}
}

func TestToZapLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "debug",
		" WARN ":  "warn",
		"error":   "error",
		"":        "info",
		"verbose": "info",
	}
	for in, want := range tests {
		if got := toZapLevel(in).String(); got != want {
			t.Errorf("toZapLevel(%q) = %s, want %s", in, got, want)
		}
	}
	if ValidLevel("verbose") {
		t.Errorf("ValidLevel(verbose) = true, want false")
	}
	if !ValidLevel("Info") {
		t.Errorf("ValidLevel(Info) = false, want true")
	}
}
