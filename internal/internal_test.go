package internal

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jeffrom/logroute/config"
)

type failCloser struct{ err error }

func (c failCloser) Close() error { return c.err }

func TestCloseAllReturnsFirstError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	first := errors.New("first")
	second := errors.New("second")

	err := CloseAll(zap.New(core), []io.Closer{nil, failCloser{}, failCloser{first}, failCloser{second}})
	if err != first {
		t.Fatalf("expected first error, got %v", err)
	}
	if logs.Len() != 2 {
		t.Fatalf("expected 2 logged close errors, got %d", logs.Len())
	}
}

func TestErrorSignature(t *testing.T) {
	base := errors.New("disk full")
	a := pkgerrors.Wrap(base, "failed to write")
	b := pkgerrors.Wrap(base, "failed to open")

	if ErrorSignature(a) != ErrorSignature(b) {
		t.Fatalf("wrapped errors with one cause should share a signature: %q != %q", ErrorSignature(a), ErrorSignature(b))
	}
	if ErrorSignature(nil) != "" {
		t.Fatal("nil error should have an empty signature")
	}
	if ErrorSignature(errors.New("other")) == ErrorSignature(base) {
		t.Fatal("different messages should not share a signature")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short"); got != "short" {
		t.Fatalf("expected short string untouched, got %q", got)
	}
	long := strings.Repeat("a", 200) + "zz"
	got := Truncate(long)
	if len(got) != 100 || !strings.HasSuffix(got, "...zz") {
		t.Fatalf("unexpected truncation: %q (%d)", got, len(got))
	}
}

func TestStats(t *testing.T) {
	s := NewStats()
	s.Incr(StatSubmitted)
	s.Add(StatWrites, 3)
	s.Decr(StatWrites)

	if got := s.Get(StatSubmitted); got != 1 {
		t.Fatalf("expected 1 submitted, got %d", got)
	}
	if got := s.Get(StatWrites); got != 2 {
		t.Fatalf("expected 2 writes, got %d", got)
	}

	out := string(s.Bytes())
	if !strings.Contains(out, "lines_written: 2\n") {
		t.Fatalf("missing counter in output: %q", out)
	}

	var nilStats *Stats
	nilStats.Incr(StatSubmitted)
	if nilStats.Get(StatSubmitted) != 0 {
		t.Fatal("nil stats should report zero")
	}
}

func TestNewLoggerToFile(t *testing.T) {
	conf := config.New()
	conf.Verbose = true
	conf.BootstrapLogFile = filepath.Join(t.TempDir(), "bootstrap.log")

	l, err := NewLogger(conf)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	l.Debug("hello bootstrap")
	l.SetVerbose(false)
	if l.Verbose() {
		t.Fatal("expected info level after SetVerbose(false)")
	}
	l.Debug("hidden line")
	l.Info("info line")

	if err := l.Close(); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %+v", err)
	}

	b, err := os.ReadFile(conf.BootstrapLogFile)
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if !strings.Contains(string(b), "hello bootstrap") {
		t.Fatalf("expected debug line in bootstrap log, got %q", b)
	}
	if strings.Contains(string(b), "hidden line") {
		t.Fatalf("debug line written at info level: %q", b)
	}
	if !strings.Contains(string(b), "info line") {
		t.Fatalf("expected info line in bootstrap log, got %q", b)
	}
}

func TestNewLoggerToStdout(t *testing.T) {
	l, err := NewLogger(config.New())
	if err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
	if l.Verbose() {
		t.Fatal("expected info level by default")
	}
	l.SetVerbose(true)
	if !l.Verbose() {
		t.Fatal("expected debug level after SetVerbose(true)")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("unexpected error: %+v", err)
	}
}
