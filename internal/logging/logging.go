// Package logging provides the structured logger used by the pipeline,
// platform client and CLI.
//
// The conversion core never logs; it returns errors. Everything that talks to
// the platform or the user logs through the package-level functions here.
package logging

import (
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
)

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(newLogger(os.Stderr, levelFromEnv(os.Getenv("LOG_LEVEL"))))
}

func levelFromEnv(v string) slog.Level {
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	}))
}

// Logger returns the current logger.
func Logger() *slog.Logger { return current.Load() }

// SetLevel replaces the logger with one at level, writing to stderr.
func SetLevel(level slog.Level) {
	current.Store(newLogger(os.Stderr, level))
}

// SetOutput replaces the logger with one writing to w. Tests use it to
// capture log output.
func SetOutput(w io.Writer, level slog.Level) {
	current.Store(newLogger(w, level))
}

// SetVerbose switches between debug and info level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
		return
	}
	SetLevel(slog.LevelInfo)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }

// Info logs at info level.
func Info(msg string, args ...any) { Logger().Info(msg, args...) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { Logger().Warn(msg, args...) }

// Error logs at error level.
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

var bearer = regexp.MustCompile(`Bearer\s+\S+`)

// sensitiveKeys are attribute keys whose values are never written.
var sensitiveKeys = map[string]bool{
	"api_key":       true,
	"authorization": true,
	"token":         true,
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, "[REDACTED]")
	}
	if a.Value.Kind() == slog.KindString {
		if s := a.Value.String(); bearer.MatchString(s) {
			return slog.String(a.Key, bearer.ReplaceAllString(s, "Bearer [REDACTED]"))
		}
	}
	return a
}
