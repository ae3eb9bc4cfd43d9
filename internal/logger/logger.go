// Package logger wraps log/slog with context-aware helpers taking typed
// slog.Attr values, plus Setup which installs the process-wide JSON handler.
// Records carry the service name and hostname so lines from several
// processes can be told apart once shipped.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// Setup installs a JSON slog handler writing to w as the default logger.
// Debug records are enabled when env is "dev" or "test".
func Setup(w io.Writer, env, service string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(env) {
	case "dev", "development", "test":
		level = slog.LevelDebug
	}
	hostname, _ := os.Hostname()
	l := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})).With(
		slog.String("service", service),
		slog.String("hostname", hostname),
	)
	slog.SetDefault(l)
	return l
}

// Debug logs msg and attrs at the debug level.
func Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs msg and attrs at the info level.
func Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs msg and attrs at the warning level.
func Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs msg and attrs at the error level.
func Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	logAttrs(ctx, slog.LevelError, msg, attrs...)
}

// logAttrs must only be called from the exported helpers above, since it
// skips exactly one frame of this package when recording the caller.
func logAttrs(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	l := slog.Default()
	if !l.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	// skip [runtime.Callers, logAttrs, exported helper]
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = l.Handler().Handle(ctx, r)
}

// Err returns an attr holding err's message under the "error" key.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Vehicle returns an attr naming the vehicle.
func Vehicle(id string) slog.Attr { return slog.String("vehicle_id", id) }

// Rider returns an attr naming the acting rider.
func Rider(id string) slog.Attr { return slog.String("rider_id", id) }

// Seat returns an attr naming the seat.
func Seat(id string) slog.Attr { return slog.String("seat_id", id) }

// Collection returns an attr naming a store collection path.
func Collection(path string) slog.Attr { return slog.String("collection", path) }

// Retry returns an attr holding the wait before the next attempt.
func Retry(d time.Duration) slog.Attr { return slog.Duration("retry_in", d) }

// Channel returns an attr naming an alert channel.
func Channel(name string) slog.Attr { return slog.String("channel", name) }
