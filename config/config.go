// Package config loads the shuttlebot configuration from YAML, overlays
// environment variables and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds the full shuttlebot configuration.
type Config struct {
	Discord  DiscordConfig  `yaml:"discord"`
	Portal   PortalConfig   `yaml:"portal"`
	Browser  BrowserConfig  `yaml:"browser"`
	Schedule ScheduleConfig `yaml:"schedule"`
	HTTP     HTTPConfig     `yaml:"http"`

	// Console replaces Discord with stdin/stdout for local runs.
	Console bool `yaml:"console"`

	CommandPrefix string        `yaml:"command_prefix" validate:"required"`
	LoadTimeout   time.Duration `yaml:"load_timeout" validate:"gt=0"`
	DBPath        string        `yaml:"db_path"` // empty disables the history log
	LogLevel      string        `yaml:"log_level" validate:"oneof=debug info warn error"`

	// HistoryRetention prunes history rows older than this at startup.
	// Zero keeps everything.
	HistoryRetention time.Duration `yaml:"history_retention" validate:"gte=0"`
}

// DiscordConfig configures the bot connection.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
	GuildID   string `yaml:"guild_id"`
}

// PortalConfig configures the reservation portal login.
type PortalConfig struct {
	URL      string `yaml:"url" validate:"required,url"`
	UserID   string `yaml:"user_id" validate:"required"`
	Password string `yaml:"password" validate:"required"`

	PageTimeout time.Duration `yaml:"page_timeout" validate:"gte=0"`
	LoginDelay  time.Duration `yaml:"login_delay" validate:"gte=0"`
	SettleDelay time.Duration `yaml:"settle_delay" validate:"gte=0"`
}

// BrowserConfig configures the headless Chrome session.
type BrowserConfig struct {
	Bin             string        `yaml:"bin"`
	RemoteURL       string        `yaml:"remote_url" validate:"omitempty,url"`
	Headless        *bool         `yaml:"headless"`
	NoSandbox       bool          `yaml:"no_sandbox"`
	RecycleInterval time.Duration `yaml:"recycle_interval" validate:"gte=0"`
	BlockResources  bool          `yaml:"block_resources"`
}

// ScheduleConfig configures the monitoring cadence.
type ScheduleConfig struct {
	Cron     string `yaml:"cron" validate:"required"`
	Timezone string `yaml:"timezone" validate:"required"`
}

// HTTPConfig configures the status HTTP surface.
type HTTPConfig struct {
	Listen string `yaml:"listen"` // empty disables the server
}

// Environment variables that override file values.
const (
	EnvDiscordToken   = "DISCORD_BOT_TOKEN"
	EnvDiscordChannel = "DISCORD_CHANNEL_ID"
	EnvPortalUser     = "PORTAL_USER_ID"
	EnvPortalPassword = "PORTAL_PASSWORD"
	EnvChromeBin      = "CHROME_BIN"
	EnvDBPath         = "SHUTTLEBOT_DB"
)

// Default returns a Config with every optional field set.
func Default() *Config {
	return &Config{
		Portal: PortalConfig{
			URL:         "https://kit.kumoh.ac.kr/jsp/administration/bus/bus_reservation.jsp",
			PageTimeout: 25 * time.Second,
			LoginDelay:  3 * time.Second,
			SettleDelay: 5 * time.Second,
		},
		Browser: BrowserConfig{
			RecycleInterval: 4 * time.Hour,
			BlockResources:  true,
		},
		Schedule: ScheduleConfig{
			Cron:     "* 0-2,9-23 * * MON-FRI",
			Timezone: "Asia/Seoul",
		},
		CommandPrefix:    "!",
		LoadTimeout:      90 * time.Second,
		DBPath:           "shuttlebot.db",
		HistoryRetention: 30 * 24 * time.Hour,
		LogLevel:         "info",
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile is Load without validation.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Discord.Token, EnvDiscordToken)
	set(&c.Discord.ChannelID, EnvDiscordChannel)
	set(&c.Portal.UserID, EnvPortalUser)
	set(&c.Portal.Password, EnvPortalPassword)
	set(&c.Browser.Bin, EnvChromeBin)
	set(&c.DBPath, EnvDBPath)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required values, the cron expression and the time zone.
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fieldPath(fe.Namespace()), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if !c.Console {
		if c.Discord.Token == "" {
			errs = append(errs, fmt.Errorf("discord.token: required (or set %s)", EnvDiscordToken))
		}
		if c.Discord.ChannelID == "" {
			errs = append(errs, fmt.Errorf("discord.channel_id: required (or set %s)", EnvDiscordChannel))
		}
	}
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			errs = append(errs, fmt.Errorf("schedule.cron: %w", err))
		}
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}

// ValidatePortal checks only what a one-shot scrape needs.
func (c *Config) ValidatePortal() error {
	if err := validate.Struct(c.Portal); err != nil {
		return fmt.Errorf("config: invalid portal: %w", err)
	}
	return nil
}

// Location returns the schedule time zone, falling back to time.Local when
// the zone database lacks it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Redacted returns a copy with secrets masked, for logging.
func (c *Config) Redacted() Config {
	r := *c
	if r.Discord.Token != "" {
		r.Discord.Token = "***"
	}
	if r.Portal.Password != "" {
		r.Portal.Password = "***"
	}
	return r
}

// fieldPath turns "Config.Portal.UserID" into "Portal.UserID".
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}
