package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.WeekStart != "sunday" || cfg.MaxEventsPerDay != 3 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("perm = %o, want 600", perm)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".maginkcal-config-*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
timezone: Europe/London
week_start: Monday
is_24hour: true
max_events_per_day: 4
fetch_timeout: 5s
image:
  width: 800
  height: 480
  rotate_angle: 90
battery:
  display_mode: always
browser:
  settle_timeout: 2s
calendars:
  - id: family@group.calendar.google.com
    name: Family
    icon: "♣"
  - id: holidays
    kind: ics
    url: https://example.com/holidays.ics
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.WeekStart != "monday" {
		t.Fatalf("week start = %q", cfg.WeekStart)
	}
	if cfg.FetchTimeout != 5*time.Second || cfg.Browser.SettleTimeout != 2*time.Second {
		t.Fatalf("durations = %v, %v", cfg.FetchTimeout, cfg.Browser.SettleTimeout)
	}
	if cfg.Image.Width != 800 || cfg.Image.RotateAngle != 90 {
		t.Fatalf("image = %+v", cfg.Image)
	}
	if cfg.Calendars[0].Kind != KindGoogle || cfg.Calendars[1].Kind != KindICS {
		t.Fatalf("kinds = %q, %q", cfg.Calendars[0].Kind, cfg.Calendars[1].Kind)
	}
	if cfg.Calendars[1].Name != "holidays" {
		t.Fatalf("name fallback = %q", cfg.Calendars[1].Name)
	}
	if !cfg.HasKind(KindICS) || !cfg.HasKind(KindGoogle) {
		t.Fatal("HasKind mismatch")
	}
	if len(cfg.DayOfWeekText) != 7 {
		t.Fatalf("day_of_week_text defaulted to %v", cfg.DayOfWeekText)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Calendars = []CalendarConfig{{ID: "a", Name: "A", Icon: "♥", Kind: KindGoogle}}
	cfg.Browser.SettleTimeout = 3 * time.Second
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Calendars) != 1 || got.Calendars[0].Icon != "♥" {
		t.Fatalf("calendars = %+v", got.Calendars)
	}
	if got.Browser.SettleTimeout != 3*time.Second {
		t.Fatalf("settle timeout = %v", got.Browser.SettleTimeout)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"timezone":    func(c *Config) { c.Timezone = "Mars/Olympus" },
		"week_start":  func(c *Config) { c.WeekStart = "someday" },
		"day text":    func(c *Config) { c.DayOfWeekText = []string{"a", "b"} },
		"max events":  func(c *Config) { c.MaxEventsPerDay = -1 },
		"image":       func(c *Config) { c.Image.Width = -5 },
		"battery":     func(c *Config) { c.Battery.DisplayMode = "sometimes" },
		"source":      func(c *Config) { c.Battery.Source = "adc" },
		"kind":        func(c *Config) { c.Calendars = []CalendarConfig{{ID: "x", Kind: "caldav"}} },
		"ics url":     func(c *Config) { c.Calendars = []CalendarConfig{{ID: "x", Kind: KindICS}} },
		"empty id":    func(c *Config) { c.Calendars = []CalendarConfig{{Kind: KindGoogle}} },
		"duplicate":   func(c *Config) { c.Calendars = []CalendarConfig{{ID: "x", Kind: KindGoogle}, {ID: "x", Kind: KindGoogle}} },
		"padding":     func(c *Config) { c.WindowPaddingDays = -1 },
		"static pct":  func(c *Config) { c.Battery.StaticPercent = ptr(101) },
		"recent hour": func(c *Config) { c.RecentThresholdHours = ptr(-2.0) },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		err := cfg.Validate()
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: err = %v, want ErrInvalid", name, err)
		}
	}
}

func TestLoadKeepsExplicitZeros(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
recent_threshold_hours: 0
battery:
  source: static
  static_percent: 0
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.RecentHours(); got != 0 {
		t.Fatalf("recent_threshold_hours = %v, want 0", got)
	}
	if got := cfg.Battery.StaticLevel(); got != 0 {
		t.Fatalf("static_percent = %d, want 0", got)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("explicit zeros rejected: %v", err)
	}

	// Omitted keys still get their defaults.
	def := DefaultConfig()
	if def.RecentHours() != 1 || def.Battery.StaticLevel() != 100 {
		t.Fatalf("defaults = %v hours, %d%%", def.RecentHours(), def.Battery.StaticLevel())
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Nowhere/Nope"
	cfg.MaxEventsPerDay = -1
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "timezone") || !strings.Contains(msg, "max_events_per_day") {
		t.Fatalf("error does not list both problems: %v", msg)
	}
}

func TestParseWeekday(t *testing.T) {
	for name, want := range map[string]time.Weekday{
		"sunday": time.Sunday, "Monday": time.Monday, " SATURDAY ": time.Saturday,
	} {
		got, err := ParseWeekday(name)
		if err != nil || got != want {
			t.Fatalf("ParseWeekday(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseWeekday("funday"); err == nil {
		t.Fatal("funday accepted")
	}
}
