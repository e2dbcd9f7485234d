package internal

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeffrom/logroute/config"
)

// LifecycleManager handles application startup / shutdown for the engine and
// its writers.
type LifecycleManager interface {
	Setup() error
	Shutdown() error
}

const timeLayout = "2006/01/02 15:04:05.000"

// Bootstrap is the logger the engine reports its own failures through. It
// never writes through the engine itself, so a broken channel can't recurse
// into more failures.
type Bootstrap struct {
	*zap.Logger
	level zap.AtomicLevel
	file  io.Closer
}

// NewLogger builds the bootstrap logger from conf.
func NewLogger(conf *config.Config) (*Bootstrap, error) {
	b := &Bootstrap{level: zap.NewAtomicLevel()}
	b.SetVerbose(conf.Verbose)

	ws := zapcore.Lock(os.Stdout)
	if conf.BootstrapLogFile != "" {
		f, err := os.OpenFile(conf.BootstrapLogFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, os.FileMode(conf.LogFileMode))
		if err != nil {
			return nil, errors.Wrap(err, "failed to open bootstrap log")
		}
		ws = zapcore.Lock(zapcore.AddSync(f))
		b.file = f
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	enc.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), ws, b.level)
	b.Logger = zap.New(core, zap.AddCaller()).Named("logroute")
	return b, nil
}

// SetVerbose switches between debug and info level.
func (b *Bootstrap) SetVerbose(v bool) {
	if v {
		b.level.SetLevel(zapcore.DebugLevel)
	} else {
		b.level.SetLevel(zapcore.InfoLevel)
	}
}

// Verbose reports whether debug entries are written.
func (b *Bootstrap) Verbose() bool {
	return b.level.Enabled(zapcore.DebugLevel)
}

// Close flushes the logger and closes the log file, if any.
func (b *Bootstrap) Close() error {
	_ = b.Sync()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return errors.Wrap(err, "failed to close bootstrap log")
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// CloseAll closes all supplied closers, returns the first error, and logs all
// errors.
func CloseAll(l *zap.Logger, c []io.Closer) error {
	var firstErr error

	for _, cl := range c {
		if cl == nil {
			continue
		}
		if err := cl.Close(); err != nil {
			OrNop(l).Error("error closing", zap.String("closer", fmt.Sprintf("%v", cl)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// IgnoreError logs the error if one occurred
func IgnoreError(l *zap.Logger, err error) {
	if err != nil {
		OrNop(l).WithOptions(zap.AddCallerSkip(1)).Warn("error ignored", zap.Error(err))
	}
}

// Truncate returns a human readable representation of s that fits more or
// less on a log line.
func Truncate(s string) string {
	limit := 100
	if len(s) > limit {
		return s[:limit-5] + "..." + s[len(s)-2:]
	}
	return s
}

// ErrorSignature identifies an error for duplicate-report suppression. Errors
// with the same root cause message share a signature.
func ErrorSignature(err error) string {
	if err == nil {
		return ""
	}
	cause := errors.Cause(err)
	return fmt.Sprintf("%T: %s", cause, cause.Error())
}
