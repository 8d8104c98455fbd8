package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Feed describes one remote calendar source. The position in the configured
// list is the feed's stable source index, used downstream for provenance.
type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"server"`

	Feeds []Feed `yaml:"feeds"`

	Calendar struct {
		Timezone      string        `yaml:"timezone"`
		HorizonDays   int           `yaml:"horizon_days"`
		MinDayBuckets int           `yaml:"min_day_buckets"`
		FetchAttempts int           `yaml:"fetch_attempts"`
		FetchTimeout  time.Duration `yaml:"fetch_timeout"`
		BackoffStep   time.Duration `yaml:"backoff_step"`
	} `yaml:"calendar"`

	Schedule struct {
		EventsInterval  time.Duration `yaml:"events_interval"`
		WeatherInterval time.Duration `yaml:"weather_interval"`
		FailureCooldown time.Duration `yaml:"failure_cooldown"`
	} `yaml:"schedule"`

	Weather struct {
		Location string        `yaml:"location"`
		Timeout  time.Duration `yaml:"timeout"`
	} `yaml:"weather"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// setDefaults fills zero values with the documented defaults.
func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Calendar.HorizonDays == 0 {
		c.Calendar.HorizonDays = 30
	}
	if c.Calendar.MinDayBuckets == 0 {
		c.Calendar.MinDayBuckets = 4
	}
	if c.Calendar.FetchAttempts == 0 {
		c.Calendar.FetchAttempts = 3
	}
	if c.Calendar.FetchTimeout == 0 {
		c.Calendar.FetchTimeout = 15 * time.Second
	}
	if c.Calendar.BackoffStep == 0 {
		c.Calendar.BackoffStep = time.Second
	}

	if c.Schedule.EventsInterval == 0 {
		c.Schedule.EventsInterval = time.Minute
	}
	if c.Schedule.WeatherInterval == 0 {
		c.Schedule.WeatherInterval = 30 * time.Minute
	}
	if c.Schedule.FailureCooldown == 0 {
		c.Schedule.FailureCooldown = 5 * time.Minute
	}

	if c.Weather.Timeout == 0 {
		c.Weather.Timeout = 10 * time.Second
	}

	// feed name defaults to URL
	for i := range c.Feeds {
		if c.Feeds[i].Name == "" {
			c.Feeds[i].Name = c.Feeds[i].URL
		}
	}
}

// Location resolves the configured display timezone, falling back to the
// process-local zone when missing or invalid.
func (c *Config) Location() *time.Location {
	if c.Calendar.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		log.Printf("[WARN] invalid timezone %q, using local: %v", c.Calendar.Timezone, err)
		return time.Local
	}
	return loc
}

// ParseFeedList parses a comma-delimited list of feed URLs, as supplied via
// the FEEDS environment variable or the --feeds flag.
func ParseFeedList(s string) []Feed {
	parts := strings.Split(s, ",")
	feeds := make([]Feed, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		feeds = append(feeds, Feed{URL: p, Name: p})
	}
	return feeds
}

// Provider re-reads the configuration file on demand so that configuration
// changes take effect without a restart. A read failure falls back to the
// last successfully loaded config.
type Provider struct {
	path string

	mu   sync.Mutex
	last *Config
}

// NewProvider creates a Provider and performs the initial load.
func NewProvider(path string) (*Provider, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Provider{path: path, last: cfg}, nil
}

// Get returns a freshly loaded config, or the last known good one when the
// file became unreadable or invalid.
func (p *Provider) Get() *Config {
	cfg, err := Load(p.path)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		log.Printf("[WARN] config reload failed, using previous: %v", err)
		return p.last
	}
	p.last = cfg
	return cfg
}
