package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks for its configuration.
const DefaultPath = "/etc/maginkcal/config.yaml"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Battery display modes.
const (
	BatteryNever   = "never"
	BatteryAlways  = "always"
	BatteryWhenLow = "low"
)

// Battery level sources.
const (
	BatterySourceStatic = "static"
	BatterySourceI2C    = "i2c"
)

// Calendar kinds.
const (
	KindGoogle = "google"
	KindICS    = "ics"
)

// CalendarConfig describes a single calendar source.
type CalendarConfig struct {
	// ID is the source identifier: the Google calendar id, or any unique
	// label for an ICS feed.
	ID string `yaml:"id" json:"id"`
	// Name is shown in the legend.
	Name string `yaml:"name" json:"name"`
	// Icon prefixes every event label of this calendar.
	Icon string `yaml:"icon" json:"icon"`
	// Kind is "google" (default) or "ics".
	Kind string `yaml:"kind" json:"kind"`
	// URL is the ICS subscription endpoint; ignored for google.
	URL string `yaml:"url,omitempty" json:"url,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ImageConfig is the raster the panel expects.
type ImageConfig struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
	// RotateAngle is applied counter-clockwise after color separation.
	RotateAngle float64 `yaml:"rotate_angle" json:"rotate_angle"`
}

// BatteryConfig controls how the battery level is read and shown.
type BatteryConfig struct {
	// DisplayMode is one of never, always, low.
	DisplayMode string `yaml:"display_mode" json:"display_mode"`
	LowPercent  int    `yaml:"low_percent" json:"low_percent"`

	// Source is "static" or "i2c" (PiSugar3).
	Source string `yaml:"source" json:"source"`
	// StaticPercent is a pointer so an explicit 0 survives Normalize.
	StaticPercent *int   `yaml:"static_percent" json:"static_percent"`
	I2CBus        string `yaml:"i2c_bus" json:"i2c_bus"`
	I2CAddr       uint16 `yaml:"i2c_addr" json:"i2c_addr"`
}

// StaticLevel returns StaticPercent, or 100 when it is unset.
func (b BatteryConfig) StaticLevel() int {
	if b.StaticPercent == nil {
		return 100
	}
	return *b.StaticPercent
}

// BrowserConfig configures the headless browser used for capture.
type BrowserConfig struct {
	// ExecPath overrides browser discovery on PATH.
	ExecPath string `yaml:"exec_path" json:"exec_path"`
	// RemoteURL attaches to an already running DevTools endpoint instead of
	// launching a browser.
	RemoteURL      string        `yaml:"remote_url" json:"remote_url"`
	SettleTimeout  time.Duration `yaml:"settle_timeout" json:"settle_timeout"`
	CaptureTimeout time.Duration `yaml:"capture_timeout" json:"capture_timeout"`
}

// GoogleConfig points at the OAuth client and token files.
type GoogleConfig struct {
	CredentialsPath string `yaml:"credentials_path" json:"credentials_path"`
	TokenPath       string `yaml:"token_path" json:"token_path"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the status server.
	Listen string `yaml:"listen" json:"listen"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// Timezone is the IANA timezone events are displayed in (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is the weekday of the first grid column, "sunday" through
	// "saturday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	Is24Hour bool `yaml:"is_24hour" json:"is_24hour"`

	// DayOfWeekText holds the seven column labels, Sunday first.
	DayOfWeekText []string `yaml:"day_of_week_text" json:"day_of_week_text"`

	MaxEventsPerDay int `yaml:"max_events_per_day" json:"max_events_per_day"`
	// RecentThresholdHours is how long an edit keeps an event highlighted;
	// 0 turns highlighting off, nil means the default of one hour.
	RecentThresholdHours *float64 `yaml:"recent_threshold_hours" json:"recent_threshold_hours"`
	// WindowPaddingDays widens the fetch window on both sides of the grid.
	WindowPaddingDays int `yaml:"window_padding_days" json:"window_padding_days"`

	Image   ImageConfig   `yaml:"image" json:"image"`
	Battery BatteryConfig `yaml:"battery" json:"battery"`

	// TemplatePath selects a custom document template; empty uses the
	// built-in one.
	TemplatePath string `yaml:"template_path" json:"template_path"`
	OutputDir    string `yaml:"output_dir" json:"output_dir"`

	Browser BrowserConfig `yaml:"browser" json:"browser"`
	Google  GoogleConfig  `yaml:"google" json:"google"`

	Calendars []CalendarConfig `yaml:"calendars" json:"calendars"`

	// FetchTimeout bounds the query of a single calendar.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// driving refresh cycles in daemon mode.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HighlightRed is a list of keywords that cause events to be rendered in red.
	HighlightRed []string `yaml:"highlight_red" json:"highlight_red"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

var defaultDayOfWeekText = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart == "" {
		c.WeekStart = "sunday"
	}
	if len(c.DayOfWeekText) == 0 {
		c.DayOfWeekText = append([]string(nil), defaultDayOfWeekText...)
	}
	if c.MaxEventsPerDay == 0 {
		c.MaxEventsPerDay = 3
	}
	if c.RecentThresholdHours == nil {
		c.RecentThresholdHours = ptr(1.0)
	}
	if c.Image.Width == 0 {
		c.Image.Width = 1304
	}
	if c.Image.Height == 0 {
		c.Image.Height = 984
	}

	if c.Battery.DisplayMode == "" {
		c.Battery.DisplayMode = BatteryWhenLow
	}
	if c.Battery.LowPercent == 0 {
		c.Battery.LowPercent = 20
	}
	if c.Battery.Source == "" {
		c.Battery.Source = BatterySourceStatic
	}
	if c.Battery.StaticPercent == nil {
		c.Battery.StaticPercent = ptr(100)
	}
	if c.Battery.I2CAddr == 0 {
		// PiSugar3
		c.Battery.I2CAddr = 0x57
	}

	if c.OutputDir == "" {
		c.OutputDir = "/var/lib/maginkcal"
	}
	if c.Browser.SettleTimeout == 0 {
		c.Browser.SettleTimeout = 5 * time.Second
	}
	if c.Browser.CaptureTimeout == 0 {
		c.Browser.CaptureTimeout = 60 * time.Second
	}
	if c.Google.CredentialsPath == "" {
		c.Google.CredentialsPath = "/etc/maginkcal/credentials.json"
	}
	if c.Google.TokenPath == "" {
		c.Google.TokenPath = "/var/lib/maginkcal/token.json"
	}
	if c.Calendars == nil {
		c.Calendars = []CalendarConfig{}
	}
	for i := range c.Calendars {
		if c.Calendars[i].Kind == "" {
			c.Calendars[i].Kind = KindGoogle
		}
		if c.Calendars[i].Name == "" {
			c.Calendars[i].Name = c.Calendars[i].ID
		}
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 20 * time.Second
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.HighlightRed == nil {
		c.HighlightRed = []string{}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports every setting that cannot work. It does not touch the
// filesystem or the network.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		add("timezone %q: %v", c.Timezone, err)
	}
	if _, err := ParseWeekday(c.WeekStart); err != nil {
		add("week_start: %v", err)
	}
	if len(c.DayOfWeekText) != 7 {
		add("day_of_week_text needs 7 entries, got %d", len(c.DayOfWeekText))
	}
	if c.MaxEventsPerDay < 1 {
		add("max_events_per_day must be >= 1, got %d", c.MaxEventsPerDay)
	}
	if c.RecentHours() < 0 {
		add("recent_threshold_hours must not be negative")
	}
	if c.WindowPaddingDays < 0 {
		add("window_padding_days must not be negative")
	}
	if c.Image.Width <= 0 || c.Image.Height <= 0 {
		add("image size must be positive, got %dx%d", c.Image.Width, c.Image.Height)
	}

	switch c.Battery.DisplayMode {
	case BatteryNever, BatteryAlways, BatteryWhenLow:
	default:
		add("battery.display_mode %q (want never, always or low)", c.Battery.DisplayMode)
	}
	switch c.Battery.Source {
	case BatterySourceStatic, BatterySourceI2C:
	default:
		add("battery.source %q (want static or i2c)", c.Battery.Source)
	}
	if pct := c.Battery.StaticLevel(); pct < 0 || pct > 100 {
		add("battery.static_percent out of range: %d", pct)
	}

	seen := make(map[string]bool, len(c.Calendars))
	for i, cal := range c.Calendars {
		if cal.ID == "" {
			add("calendars[%d]: id is empty", i)
			continue
		}
		if seen[cal.ID] {
			add("calendars[%d]: duplicate id %q", i, cal.ID)
		}
		seen[cal.ID] = true
		switch cal.Kind {
		case KindGoogle:
		case KindICS:
			if cal.URL == "" {
				add("calendars[%d]: ics calendar %q has no url", i, cal.ID)
			}
		default:
			add("calendars[%d]: unknown kind %q", i, cal.Kind)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// RecentHours returns RecentThresholdHours, or 1 when it is unset.
func (c *Config) RecentHours() float64 {
	if c.RecentThresholdHours == nil {
		return 1
	}
	return *c.RecentThresholdHours
}

func ptr[T any](v T) *T { return &v }

// Location resolves Timezone. Validate first.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// HasKind reports whether any calendar uses the given kind.
func (c *Config) HasKind(kind string) bool {
	for _, cal := range c.Calendars {
		if cal.Kind == kind {
			return true
		}
	}
	return false
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseWeekday parses an English weekday name, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", s)
	}
	return wd, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Load does not validate; callers run Validate before use.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".maginkcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// rename 전에 권한을 맞춘다.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
