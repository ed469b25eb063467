package logx

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWriterLevelAndFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With(String("comp", "test"))

	log.Info("hidden")
	log.Warn("shown", Int("n", 3), Err(errors.New("boom")), Err(nil))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %s", out)
	}
	for _, want := range []string{`"message":"shown"`, `"comp":"test"`, `"n":3`, `"boom"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %s", want, out)
		}
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	t.Parallel()
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("dropped", String("k", "v"))
	if Nop().IsZero() {
		t.Fatal("Nop is an explicit logger, not the zero value")
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"", "info", "DEBUG", " warning ", "trace", "error"} {
		if !ValidLevel(s) {
			t.Fatalf("ValidLevel(%q) = false", s)
		}
	}
	if ValidLevel("verbose") {
		t.Fatal("ValidLevel(verbose) = true")
	}
}

func TestSometimesThrottles(t *testing.T) {
	t.Parallel()
	s := NewSometimes(time.Hour)
	n := 0
	for i := 0; i < 5; i++ {
		s.Do(func() { n++ })
	}
	if n != 1 {
		t.Fatalf("ran %d times, want 1", n)
	}

	n = 0
	var nilThrottle *Sometimes
	nilThrottle.Do(func() { n++ })
	NewSometimes(0).Do(func() { n++ })
	if n != 2 {
		t.Fatalf("unthrottled ran %d times, want 2", n)
	}
}

func TestTraceOnlyAtTraceLevel(t *testing.T) {
	t.Parallel()
	var debugBuf, traceBuf bytes.Buffer
	NewWriter(&debugBuf, "debug").Trace("deep")
	NewWriter(&traceBuf, "trace").Trace("deep")

	if debugBuf.Len() != 0 {
		t.Fatalf("trace line written at debug level: %s", debugBuf.String())
	}
	if out := traceBuf.String(); !strings.Contains(out, `"level":"trace"`) || !strings.Contains(out, "deep") {
		t.Fatalf("trace line missing: %s", out)
	}
}
