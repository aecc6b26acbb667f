package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// SourceConfig describes a single listing page scraper.
type SourceConfig struct {
	// ID is the source identifier stamped on every record it produces.
	ID string `yaml:"id" json:"id"`
	// Category groups sources that run sequentially inside one worker.
	Category string `yaml:"category" json:"category"`
	// URLs are the category pages to scrape, or iCalendar feeds when Format
	// is "ics".
	URLs []string `yaml:"urls" json:"urls"`
	// Format is "html" (default) or "ics".
	Format string `yaml:"format,omitempty" json:"format,omitempty"`

	// CSS selectors. Empty values fall back to permissive defaults.
	Card     string `yaml:"card,omitempty" json:"card,omitempty"`
	Title    string `yaml:"title,omitempty" json:"title,omitempty"`
	Date     string `yaml:"date,omitempty" json:"date,omitempty"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`
	Link     string `yaml:"link,omitempty" json:"link,omitempty"`

	// Rendered sources are loaded through a headless browser because the
	// listing is built client-side.
	Rendered bool `yaml:"rendered,omitempty" json:"rendered,omitempty"`
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// WorkHoursConfig is the weekly window in which manager notifications are
// delivered immediately.
type WorkHoursConfig struct {
	Start    string   `yaml:"start" json:"start"`
	End      string   `yaml:"end" json:"end"`
	Weekdays []string `yaml:"weekdays" json:"weekdays"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the diagnostics API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// BotToken is the chat transport credential.
	BotToken string `yaml:"bot_token" json:"-"`

	// ManagerSecret and AdminSecret gate elevated-role registration. Either
	// plain text or an argon2id PHC string.
	ManagerSecret string `yaml:"manager_secret" json:"-"`
	AdminSecret   string `yaml:"admin_secret" json:"-"`

	// Timezone is the IANA timezone for the work-hour window and calendar export.
	Timezone string `yaml:"timezone" json:"timezone"`

	WorkHours WorkHoursConfig `yaml:"work_hours" json:"work_hours"`

	DefaultEventDurationHours int    `yaml:"default_event_duration_hours" json:"default_event_duration_hours"`
	DefaultEventTime          string `yaml:"default_event_time" json:"default_event_time"`

	// MaxFutureDays is the hard filter horizon.
	MaxFutureDays int `yaml:"max_future_days" json:"max_future_days"`
	MinAudience   int `yaml:"min_audience" json:"min_audience"`

	AcquisitionParallelism int `yaml:"acquisition_parallelism" json:"acquisition_parallelism"`
	// AdapterTimeout is a Go duration string, e.g. "15s".
	AdapterTimeout string `yaml:"adapter_timeout" json:"adapter_timeout"`

	// PolitenessMin/Max bound the pause between adapters of one group.
	PolitenessMin string `yaml:"politeness_min" json:"politeness_min"`
	PolitenessMax string `yaml:"politeness_max" json:"politeness_max"`

	// AcquireCron and SweepCron are cron-style schedules.
	AcquireCron string `yaml:"acquire_cron" json:"acquire_cron"`
	SweepCron   string `yaml:"sweep_cron" json:"sweep_cron"`

	// DataDir holds the persisted documents and the page cache.
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// StoreBackend is "file", "sqlite" or "memory" (nothing survives a
	// restart).
	StoreBackend string `yaml:"store_backend" json:"store_backend"`

	// Listen is the diagnostics HTTP listen address. Empty disables it.
	Listen    string           `yaml:"listen" json:"listen"`
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`
	LogLevel  string `yaml:"log_level" json:"log_level"`

	// Sources lists listing scrapers in addition to the built-in generators.
	Sources []SourceConfig `yaml:"sources" json:"sources"`
}

// envOverrides are applied on top of the YAML file so secrets can stay out of it.
type envOverrides struct {
	BotToken      string `env:"ITEVENTS_BOT_TOKEN"`
	ManagerSecret string `env:"ITEVENTS_MANAGER_SECRET"`
	AdminSecret   string `env:"ITEVENTS_ADMIN_SECRET"`
	Timezone      string `env:"ITEVENTS_TIMEZONE"`
	DataDir       string `env:"ITEVENTS_DATA_DIR"`
	LogLevel      string `env:"ITEVENTS_LOG_LEVEL"`
}

var defaultWeekdays = []string{"mon", "tue", "wed", "thu", "fri"}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone: "Europe/Moscow",
		WorkHours: WorkHoursConfig{
			Start:    "09:00",
			End:      "18:00",
			Weekdays: append([]string(nil), defaultWeekdays...),
		},
		DefaultEventDurationHours: 3,
		DefaultEventTime:          "10:00",
		MaxFutureDays:             365,
		MinAudience:               0,
		AcquisitionParallelism:    4,
		AdapterTimeout:            "15s",
		PolitenessMin:             "500ms",
		PolitenessMax:             "2s",
		AcquireCron:               "0 */6 * * *",
		SweepCron:                 "*/5 * * * *",
		DataDir:                   "./var",
		StoreBackend:              "file",
		Listen:                    "127.0.0.1:8080",
		UserAgent:                 "itevents/1.0 (+events digest bot)",
		LogLevel:                  "info",
		Sources:                   DefaultSources(),
	}
}

// DefaultSources are the listing pages scraped when the config names none.
func DefaultSources() []SourceConfig {
	return []SourceConfig{
		{
			ID:       "it-events",
			Category: "aggregators",
			URLs:     []string{"https://it-events.com/"},
			Card:     ".event-item, .event-list-item, article",
			Title:    ".event-item__title, .title, h3, a",
			Date:     ".event-item__info, .date, time",
			Location: ".event-item__location, .location",
		},
		{
			ID:       "habr-events",
			Category: "media",
			URLs:     []string{"https://habr.com/ru/events/"},
			Card:     "article, .tm-event-card",
			Title:    "h2, .tm-event-card__title, a",
			Date:     "time, .tm-event-card__date",
			Location: ".tm-event-card__location",
		},
		{
			ID:       "timepad",
			Category: "ticketing",
			URLs: []string{
				"https://afisha.timepad.ru/sankt-peterburg/categories/it",
				"https://afisha.timepad.ru/online/categories/it",
			},
			Card:     "a.tcard, .t-card, article",
			Title:    ".t-card__title, .tcard__title, h3",
			Date:     ".t-card__date, time",
			Location: ".t-card__address",
			Rendered: true,
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.WorkHours.Start == "" {
		c.WorkHours.Start = def.WorkHours.Start
	}
	if c.WorkHours.End == "" {
		c.WorkHours.End = def.WorkHours.End
	}
	if len(c.WorkHours.Weekdays) == 0 {
		c.WorkHours.Weekdays = append([]string(nil), defaultWeekdays...)
	}
	if c.DefaultEventDurationHours <= 0 {
		c.DefaultEventDurationHours = def.DefaultEventDurationHours
	}
	if c.DefaultEventTime == "" {
		c.DefaultEventTime = def.DefaultEventTime
	}
	if c.MaxFutureDays <= 0 {
		c.MaxFutureDays = def.MaxFutureDays
	}
	if c.MinAudience < 0 {
		c.MinAudience = 0
	}
	if c.AcquisitionParallelism <= 0 {
		c.AcquisitionParallelism = def.AcquisitionParallelism
	}
	if _, err := time.ParseDuration(c.AdapterTimeout); err != nil {
		c.AdapterTimeout = def.AdapterTimeout
	}
	if _, err := time.ParseDuration(c.PolitenessMin); err != nil {
		c.PolitenessMin = def.PolitenessMin
	}
	if _, err := time.ParseDuration(c.PolitenessMax); err != nil {
		c.PolitenessMax = def.PolitenessMax
	}
	if c.AcquireCron == "" {
		c.AcquireCron = def.AcquireCron
	}
	if c.SweepCron == "" {
		c.SweepCron = def.SweepCron
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	switch c.StoreBackend {
	case "file", "sqlite", "memory":
		// ok
	default:
		c.StoreBackend = def.StoreBackend
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Sources == nil {
		c.Sources = DefaultSources()
	}
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// AdapterTimeoutDuration returns the per-request adapter timeout.
func (c *Config) AdapterTimeoutDuration() time.Duration {
	return mustDuration(c.AdapterTimeout, 15*time.Second)
}

// Politeness returns the bounds of the pause between adapters of one group.
func (c *Config) Politeness() (time.Duration, time.Duration) {
	lo := mustDuration(c.PolitenessMin, 500*time.Millisecond)
	hi := mustDuration(c.PolitenessMax, 2*time.Second)
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// EventDuration is the default length of an exported calendar entry.
func (c *Config) EventDuration() time.Duration {
	return time.Duration(c.DefaultEventDurationHours) * time.Hour
}

// DefaultEventClock returns the default start time as hour and minute.
func (c *Config) DefaultEventClock() (int, int) {
	d, err := ParseClock(c.DefaultEventTime)
	if err != nil {
		return 10, 0
	}
	return int(d / time.Hour), int(d % time.Hour / time.Minute)
}

// Weekdays converts the work-hour weekday names.
func (c *Config) Weekdays() ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(c.WorkHours.Weekdays))
	for _, name := range c.WorkHours.Weekdays {
		wd, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", name)
		}
		out = append(out, wd)
	}
	return out, nil
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseClock parses "HH:MM" into an offset from midnight.
func ParseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("clock %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("clock %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q: bad minute", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func mustDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// applyEnv overlays ITEVENTS_* environment variables.
func (c *Config) applyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if o.BotToken != "" {
		c.BotToken = o.BotToken
	}
	if o.ManagerSecret != "" {
		c.ManagerSecret = o.ManagerSecret
	}
	if o.AdminSecret != "" {
		c.AdminSecret = o.AdminSecret
	}
	if o.Timezone != "" {
		c.Timezone = o.Timezone
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshaled and normalized.
//   - Environment overrides are applied last and never written back.
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
			return cfg, cfg.applyEnv()
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically via a
// temp file + rename, with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".itevents-config-*.tmp")
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
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
