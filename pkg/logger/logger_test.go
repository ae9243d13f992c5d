package logger

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewDefaultScopesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewDefault("lifecycle")
	log.SetOutput(&buf)

	log.Info("gift created")
	out := buf.String()
	if !strings.Contains(out, "lifecycle") {
		t.Fatalf("output missing component: %q", out)
	}
	if !strings.Contains(out, "gift created") {
		t.Fatalf("output missing message: %q", out)
	}
}

func TestWithFieldAndError(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "debug", Format: "json", Component: "test"})
	log.SetOutput(&buf)

	log.WithField("gift", "abc").WithError(errors.New("boom")).Warn("claim failed")
	out := buf.String()
	for _, want := range []string{`"gift":"abc"`, "boom", "claim failed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %q", want, out)
		}
	}
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "chatty", Component: "test"})
	log.SetOutput(&buf)

	log.Debug("hidden")
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug should be suppressed at info level: %q", buf.String())
	}
	log.Info("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("info should pass: %q", buf.String())
	}
}
