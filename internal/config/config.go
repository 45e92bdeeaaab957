package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"dental-counseling/internal/core"
)

type Server struct {
	Port     string `yaml:"port"`
	Timezone string `yaml:"timezone"`
}
type Database struct {
	Driver        string `yaml:"driver"`
	URL           string `yaml:"url"`
	NotifyChannel string `yaml:"notify_channel"`
}
type AI struct {
	APIKey                string `yaml:"api_key"`
	Model                 string `yaml:"model"`
	BaseURL               string `yaml:"base_url"`
	MaxAttempts           int    `yaml:"max_attempts"`
	AttemptTimeoutSeconds int    `yaml:"attempt_timeout_seconds"`
	BackoffSeconds        []int  `yaml:"backoff_seconds"`
}
type Matching struct {
	ToleranceMinutes int `yaml:"tolerance_minutes"`
}
type Batch struct {
	Concurrency int `yaml:"concurrency"`
}
type Log struct {
	Mode string `yaml:"mode"`
}

// Root is the whole service configuration.  It is built once in main and
// passed down explicitly.
type Root struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	AI       AI       `yaml:"ai"`
	Matching Matching `yaml:"matching"`
	Batch    Batch    `yaml:"batch"`
	Log      Log      `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Root {
	return Root{
		Server:   Server{Port: "8080", Timezone: "UTC"},
		Database: Database{Driver: "postgres", NotifyChannel: "soap_updates"},
		AI: AI{
			Model:                 "gpt-4o-mini",
			MaxAttempts:           3,
			AttemptTimeoutSeconds: 10,
			BackoffSeconds:        []int{1, 2, 4},
		},
		Matching: Matching{ToleranceMinutes: core.DefaultToleranceMinutes},
		Batch:    Batch{Concurrency: 4},
		Log:      Log{Mode: "dev"},
	}
}

// Load reads the YAML file named by CONFIG_PATH, if set, over the defaults
// and then applies environment overrides.
func Load() (*Root, error) {
	cfg := Default()
	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Root) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

func (c *Root) applyEnv() {
	c.Server.Port = str("PORT", c.Server.Port)
	c.Server.Timezone = str("TIMEZONE", c.Server.Timezone)
	c.Database.Driver = str("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = str("DATABASE_URL", c.Database.URL)
	c.Database.NotifyChannel = str("POSTGRES_NOTIFY_CHANNEL", c.Database.NotifyChannel)
	c.AI.APIKey = str("OPENAI_API_KEY", c.AI.APIKey)
	c.AI.Model = str("OPENAI_MODEL", c.AI.Model)
	c.AI.BaseURL = str("OPENAI_BASE_URL", c.AI.BaseURL)
	c.AI.MaxAttempts = Int("AI_MAX_ATTEMPTS", c.AI.MaxAttempts)
	c.AI.AttemptTimeoutSeconds = Int("AI_ATTEMPT_TIMEOUT_SECONDS", c.AI.AttemptTimeoutSeconds)
	c.Matching.ToleranceMinutes = Int("MATCH_TOLERANCE_MINUTES", c.Matching.ToleranceMinutes)
	c.Batch.Concurrency = Int("BATCH_CONCURRENCY", c.Batch.Concurrency)
	c.Log.Mode = str("LOG_MODE", c.Log.Mode)
}

// Validate rejects settings the service cannot start with.
func (c *Root) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver))
	}
	if c.AI.MaxAttempts < 1 {
		errs = append(errs, errors.New("ai.max_attempts must be at least 1"))
	}
	if c.Matching.ToleranceMinutes < 1 {
		errs = append(errs, errors.New("matching.tolerance_minutes must be at least 1"))
	}
	if c.Batch.Concurrency < 1 {
		errs = append(errs, errors.New("batch.concurrency must be at least 1"))
	}
	if _, err := time.LoadLocation(c.Server.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("server.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// Location is the clinic time zone used for zone-less timestamps.
func (c *Root) Location() *time.Location {
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RetryPolicy converts the ai section into the orchestrator's retry policy.
func (c *Root) RetryPolicy() core.RetryPolicy {
	p := core.RetryPolicy{
		MaxAttempts:    c.AI.MaxAttempts,
		AttemptTimeout: DurSeconds(c.AI.AttemptTimeoutSeconds),
	}
	for _, s := range c.AI.BackoffSeconds {
		p.Backoff = append(p.Backoff, DurSeconds(s))
	}
	return p
}

// Orchestrator is the core configuration derived from c.
func (c *Root) Orchestrator() core.Config {
	return core.Config{
		ToleranceMinutes: c.Matching.ToleranceMinutes,
		Retry:            c.RetryPolicy(),
		BatchConcurrency: c.Batch.Concurrency,
	}
}

func DurSeconds(n int) time.Duration { return time.Duration(n) * time.Second }

func str(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

// Int reads an integer environment variable, keeping def when unset or
// malformed.
func Int(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
