package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider types.
const (
	TypeCalDAV = "caldav"
	TypeGoogle = "google"
	TypeICS    = "ics"
)

const (
	DefaultConfigPath      = "calagg.yaml"
	DefaultTimezone        = "UTC"
	DefaultListen          = "127.0.0.1:8080"
	DefaultDigestSchedule  = "0 8 * * *"
	DefaultProviderTimeout = 10 * time.Second
	DefaultFindHorizon     = 30 * 24 * time.Hour
	DefaultYandexURL       = "https://caldav.yandex.ru"
)

// ProviderConfig describes one calendar backend instance.
type ProviderConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Source string `yaml:"source,omitempty"`

	// caldav and ics
	URL      string `yaml:"url,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Calendar string `yaml:"calendar,omitempty"`

	// google
	Account      string   `yaml:"account,omitempty"`
	CalendarIDs  []string `yaml:"calendar_ids,omitempty"`
	ClientID     string   `yaml:"client_id,omitempty"`
	ClientSecret string   `yaml:"client_secret,omitempty"`
	TokenDir     string   `yaml:"token_dir,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty"`
}

type DigestConfig struct {
	// Schedule is a standard 5-field cron expression.
	Schedule string `yaml:"schedule"`
}

// Config is the top-level application configuration.
type Config struct {
	Timezone        string           `yaml:"timezone"`
	LogLevel        string           `yaml:"log_level"`
	Priority        []string         `yaml:"priority"`
	ProviderTimeout time.Duration    `yaml:"provider_timeout"`
	QueryTimeout    time.Duration    `yaml:"query_timeout"`
	FindHorizon     time.Duration    `yaml:"find_horizon"`
	Providers       []ProviderConfig `yaml:"providers"`
	Server          ServerConfig     `yaml:"server"`
	Digest          DigestConfig     `yaml:"digest"`
}

// Load reads a YAML file, expanding ${VAR} references from the environment.
// A missing file is reported with an error matching fs.ErrNotExist.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes, normalizes and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a configuration from the environment variables of a
// single-user deployment.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{
		Timezone: first(getenv("PRIMARY_TIMEZONE"), getenv("TIMEZONE")),
		LogLevel: getenv("LOG_LEVEL"),
	}

	if login := getenv("YANDEX_CALENDAR_LOGIN"); login != "" {
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			Name:     "yandex",
			Type:     TypeCalDAV,
			Source:   "yandex",
			URL:      getenv("YANDEX_CALENDAR_URL"),
			Username: login,
			Password: getenv("YANDEX_CALENDAR_PASSWORD"),
			Calendar: getenv("YANDEX_CALENDAR_NAME"),
		})
	}
	if getenv("GOOGLE_CLIENT_ID") != "" || getenv("GOOGLE_ACCOUNT") != "" {
		account := getenv("GOOGLE_ACCOUNT")
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			Name:         strings.TrimSuffix("google-"+account, "-"),
			Type:         TypeGoogle,
			Source:       "google",
			Account:      account,
			CalendarIDs:  splitList(getenv("GOOGLE_CALENDAR_IDS")),
			ClientID:     getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: getenv("GOOGLE_CLIENT_SECRET"),
		})
	}
	if u := getenv("GOOGLE_CALENDAR_ICS_URL"); u != "" {
		cfg.Providers = append(cfg.Providers, ProviderConfig{
			Name:   "google-ics",
			Type:   TypeICS,
			Source: "google",
			URL:    u,
		})
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Normalize fills in missing values with defaults.
func (c *Config) Normalize() {
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LogLevel = strings.ToLower(c.LogLevel)
	if len(c.Priority) == 0 {
		c.Priority = []string{"yandex", "google"}
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = DefaultProviderTimeout
	}
	if c.QueryTimeout < c.ProviderTimeout {
		c.QueryTimeout = c.ProviderTimeout
	}
	if c.FindHorizon <= 0 {
		c.FindHorizon = DefaultFindHorizon
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Digest.Schedule == "" {
		c.Digest.Schedule = DefaultDigestSchedule
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Type = strings.ToLower(strings.TrimSpace(p.Type))
		if p.Source == "" {
			switch p.Type {
			case TypeCalDAV:
				p.Source = "yandex"
			default:
				p.Source = "google"
			}
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("%s-%d", p.Type, i+1)
		}
		if p.Type == TypeCalDAV && p.URL == "" {
			p.URL = DefaultYandexURL
		}
	}
}

// Validate checks what Normalize cannot default.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("no calendar providers configured"))
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("provider %s: duplicate name", p.Name))
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeCalDAV:
			if p.Username == "" || p.Password == "" {
				errs = append(errs, fmt.Errorf("provider %s: caldav needs username and password", p.Name))
			}
		case TypeICS:
			if p.URL == "" {
				errs = append(errs, fmt.Errorf("provider %s: ics needs url", p.Name))
			}
		case TypeGoogle:
		default:
			errs = append(errs, fmt.Errorf("provider %s: unknown type %q", p.Name, p.Type))
		}
	}
	if c.Server.BasicAuth != nil && (c.Server.BasicAuth.Username == "" || c.Server.BasicAuth.Password == "") {
		errs = append(errs, errors.New("server.basic_auth needs username and password"))
	}
	return errors.Join(errs...)
}

// Location resolves the reference timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
	}
	return loc, nil
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
