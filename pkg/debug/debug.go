// Package debug provides category-gated diagnostic logging on top of
// slog. Categories are cheap string tags (scheduler, sandbox, pyexec,
// registry, ...) switched on via config or the CEPHEID_DEBUG
// environment variable; a disabled category costs one map lookup.
package debug

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace sits below slog's debug level for very chatty output such
// as full untruncated sandbox payloads.
const LevelTrace = slog.LevelDebug - 4

const (
	envCategories = "CEPHEID_DEBUG"
	envLevel      = "CEPHEID_LOG_LEVEL"
)

// categories is written once by Init (or the package init) and read
// afterwards, so it carries no lock.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv(envCategories))
}

// Init applies the configured debug categories and log level and
// installs the default text handler. Environment variables win over
// the config file so a single run can be made chatty without editing
// YAML.
func Init(configCategories, configLevel string) {
	cats := configCategories
	if env := os.Getenv(envCategories); env != "" {
		cats = env
	}
	categories = parseCategories(cats)

	level := configLevel
	if env := os.Getenv(envLevel); env != "" {
		level = env
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

// Enabled reports whether a category was switched on, either by name
// or via the "all" wildcard.
func Enabled(category string) bool {
	return categories["all"] || categories[strings.ToLower(category)]
}

// Log emits a debug record when the category is enabled.
func Log(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"category", category}, args...)...)
}

// Trace emits a trace-level record when the category is enabled. The
// record only surfaces when the handler level is set to TRACE.
func Trace(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(nil, LevelTrace, msg, append([]any{"category", category}, args...)...)
}

// TraceIsEnabled reports whether trace records for the category would
// reach the default handler.
func TraceIsEnabled(category string) bool {
	return Enabled(category) && slog.Default().Enabled(nil, LevelTrace)
}

// Raw writes directly to stderr when the category is enabled,
// bypassing slog. Useful for multi-line payload dumps a structured
// handler would mangle.
func Raw(category, format string, args ...any) {
	if !Enabled(category) {
		return
	}
	fmt.Fprintf(os.Stderr, format, args...)
}

// ParseLevel maps a level name to its slog level. Unknown names fall
// back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories lists the enabled category names, for startup logging.
func Categories() []string {
	out := make([]string, 0, len(categories))
	for c := range categories {
		out = append(out, c)
	}
	return out
}

// Truncate shortens s to at most max bytes of content, marking the cut
// with an ellipsis. Sandbox logs can be megabytes; nobody wants them
// whole at INFO.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func parseCategories(raw string) map[string]bool {
	set := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		if c := strings.ToLower(strings.TrimSpace(part)); c != "" {
			set[c] = true
		}
	}
	return set
}
