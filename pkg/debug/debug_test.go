package debug

import (
	"log/slog"
	"reflect"
	"testing"
)

// withCategories swaps the enabled set for one test.
func withCategories(t *testing.T, enabled ...string) {
	t.Helper()
	saved := categories
	t.Cleanup(func() { categories = saved })

	categories = make(map[string]bool, len(enabled))
	for _, c := range enabled {
		categories[c] = true
	}
}

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]bool
	}{
		{"empty", "", map[string]bool{}},
		{"single", "scheduler", map[string]bool{"scheduler": true}},
		{"multiple", "scheduler,engine", map[string]bool{"scheduler": true, "engine": true}},
		{"all wildcard", "all", map[string]bool{"all": true}},
		{"spaces trimmed", " scheduler , engine ", map[string]bool{"scheduler": true, "engine": true}},
		{"case normalized", "SCHEDULER,Engine", map[string]bool{"scheduler": true, "engine": true}},
		{"empty segments dropped", "scheduler,,engine", map[string]bool{"scheduler": true, "engine": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseCategories(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseCategories(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	withCategories(t, "scheduler")

	if !Enabled("scheduler") {
		t.Error("scheduler should be enabled")
	}
	if !Enabled("SCHEDULER") {
		t.Error("category check should ignore case")
	}
	if Enabled("sandbox") {
		t.Error("sandbox should be disabled")
	}
}

func TestEnabledAllWildcard(t *testing.T) {
	withCategories(t, "all")
	for _, c := range []string{"scheduler", "sandbox", "anything"} {
		if !Enabled(c) {
			t.Errorf("%q should be enabled under the all wildcard", c)
		}
	}
}

func TestEnabledEmptySet(t *testing.T) {
	withCategories(t)
	if Enabled("scheduler") {
		t.Error("nothing should be enabled with an empty set")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{" info ", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("short string should pass through, got %q", got)
	}
	if got := Truncate("this is a test string", 10); got != "this is a ..." {
		t.Errorf("Truncate = %q, want %q", got, "this is a ...")
	}
	if got := Truncate("exact", 5); got != "exact" {
		t.Errorf("string at the limit should pass through, got %q", got)
	}
}

func TestLogSkipsDisabledCategory(t *testing.T) {
	withCategories(t, "scheduler")
	// Must not panic or emit; the category gate short-circuits before
	// slog is touched.
	Log("sandbox", "should not appear", "key", "value")
	Trace("sandbox", "should not appear either")
}

func TestCategoriesListsEnabled(t *testing.T) {
	withCategories(t, "scheduler", "pyexec")
	got := Categories()
	if len(got) != 2 {
		t.Fatalf("Categories() = %v, want two entries", got)
	}
	seen := map[string]bool{}
	for _, c := range got {
		seen[c] = true
	}
	if !seen["scheduler"] || !seen["pyexec"] {
		t.Errorf("Categories() = %v, want scheduler and pyexec", got)
	}
}
