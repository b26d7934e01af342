// Package logger provides a leveled console logger for policykit commands.
//
// Output is prefixed with [HH:MM:SS] timestamps. The logger is thread-safe
// and colors the level tag automatically when writing to a TTY.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering
const (
	levelTrace int = 0
	levelDebug int = 1
	levelInfo  int = 2
	levelWarn  int = 3
	levelError int = 4
)

// Console logs to a writer with timestamps, level filtering and optional
// color. A nil writer silently discards all messages.
type Console struct {
	writer      io.Writer
	logLevel    string
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsole creates a Console writing to w, filtering below logLevel.
// Valid levels: trace, debug, info, warn, error (case-insensitive); empty
// or invalid levels default to "info". Color is enabled when w is a TTY
// and NO_COLOR is unset.
func NewConsole(w io.Writer, logLevel string) *Console {
	return &Console{
		writer:      w,
		logLevel:    normalizeLevel(logLevel),
		colorOutput: isTerminal(w),
	}
}

// isTerminal reports whether w is a TTY that supports colors. Only
// os.Stdout and os.Stderr are ever considered terminals.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if f != os.Stdout && f != os.Stderr {
		return false
	}
	// color.NoColor already folds in NO_COLOR handling.
	return !color.NoColor && isatty.IsTerminal(f.Fd())
}

// normalizeLevel lowercases and validates a level, defaulting to "info".
func normalizeLevel(level string) string {
	normalized := strings.ToLower(strings.TrimSpace(level))
	switch normalized {
	case "trace", "debug", "info", "warn", "error":
		return normalized
	}
	return "info"
}

func levelToInt(level string) int {
	switch level {
	case "trace":
		return levelTrace
	case "debug":
		return levelDebug
	case "info":
		return levelInfo
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

func (c *Console) shouldLog(messageLevel string) bool {
	return levelToInt(messageLevel) >= levelToInt(c.logLevel)
}

// Tracef logs a trace-level message (most verbose).
func (c *Console) Tracef(format string, args ...any) {
	c.logf("TRACE", format, args...)
}

// Debugf logs a debug-level message.
func (c *Console) Debugf(format string, args ...any) {
	c.logf("DEBUG", format, args...)
}

// Infof logs an info-level message.
func (c *Console) Infof(format string, args ...any) {
	c.logf("INFO", format, args...)
}

// Warnf logs a warning-level message.
func (c *Console) Warnf(format string, args ...any) {
	c.logf("WARN", format, args...)
}

// Errorf logs an error-level message.
func (c *Console) Errorf(format string, args ...any) {
	c.logf("ERROR", format, args...)
}

// logf writes "[HH:MM:SS] [LEVEL] message" if filtering allows it.
func (c *Console) logf(level, format string, args ...any) {
	if c == nil || c.writer == nil {
		return
	}
	if !c.shouldLog(strings.ToLower(level)) {
		return
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	ts := time.Now().Format("15:04:05")
	message := fmt.Sprintf(format, args...)

	tag := level
	if c.colorOutput {
		tag = colorLevel(level)
	}
	fmt.Fprintf(c.writer, "[%s] [%s] %s\n", ts, tag, message)
}

func colorLevel(level string) string {
	switch level {
	case "TRACE":
		return color.New(color.FgHiBlack).Sprint(level)
	case "DEBUG":
		return color.New(color.FgCyan).Sprint(level)
	case "INFO":
		return color.New(color.FgBlue).Sprint(level)
	case "WARN":
		return color.New(color.FgYellow).Sprint(level)
	case "ERROR":
		return color.New(color.FgRed).Sprint(level)
	default:
		return level
	}
}
