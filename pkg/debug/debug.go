// Package debug sets up plotwise logging and gates verbose output by
// category.
//
// The level (PLOTWISE_LOG_LEVEL or logging.level) decides how much is
// logged overall. Categories (PLOTWISE_DEBUG or logging.debug, a comma
// list or "all") decide which subsystems may emit debug and trace
// records at all:
//
//	debug.Log("sandbox", "script finished", "exit_code", code)
//	debug.Trace("providers", "model response", "text", text)
//
// Known categories: profiler, interpret, routing, sandbox, remote,
// providers, engine, storage, artifacts, auth, transport, mcp.
package debug

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

// LevelTrace sits below debug. Generated scripts and raw model replies
// are only logged at this level.
const LevelTrace = slog.LevelDebug - 4

// Settings selects level, enabled categories and output format. Empty
// fields fall back to the environment and then to INFO, none and text.
type Settings struct {
	Level      string
	Categories string
	Format     string // "text" or "json"
}

type categorySet map[string]struct{}

var enabled atomic.Pointer[categorySet]

func init() {
	set := parseCategories(os.Getenv("PLOTWISE_DEBUG"))
	enabled.Store(&set)
}

// Init installs the process-wide slog logger writing to stderr.
// Environment variables take precedence over s.
func Init(s Settings) {
	slog.SetDefault(Setup(os.Stderr, s))
}

// Setup applies s (with environment overrides) to the category filter and
// returns a logger writing to w.
func Setup(w io.Writer, s Settings) *slog.Logger {
	set := parseCategories(firstNonEmpty(os.Getenv("PLOTWISE_DEBUG"), s.Categories))
	enabled.Store(&set)

	opts := &slog.HandlerOptions{
		Level: ParseLevel(firstNonEmpty(os.Getenv("PLOTWISE_LOG_LEVEL"), s.Level)),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	if strings.EqualFold(firstNonEmpty(os.Getenv("PLOTWISE_LOG_FORMAT"), s.Format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Enabled reports whether category may emit debug output.
func Enabled(category string) bool {
	set := *enabled.Load()
	if _, ok := set["all"]; ok {
		return true
	}
	_, ok := set[category]
	return ok
}

// Log emits a debug record tagged with category, if the category is on.
func Log(category, msg string, args ...any) {
	emit(slog.LevelDebug, category, msg, args)
}

// Trace is Log at LevelTrace.
func Trace(category, msg string, args ...any) {
	emit(LevelTrace, category, msg, args)
}

func emit(level slog.Level, category, msg string, args []any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), level, msg, append([]any{"debug", category}, args...)...)
}

// ParseLevel maps TRACE, DEBUG, INFO, WARN(ING) and ERROR to a level.
// Anything else is INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// Truncate shortens s to at most maxLen bytes without splitting a rune
// and marks the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func parseCategories(s string) categorySet {
	set := make(categorySet)
	for part := range strings.SplitSeq(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			set[part] = struct{}{}
		}
	}
	return set
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
