package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the service-level configuration loaded from a YAML file.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	APIPort     int    `yaml:"api_port"`
	SchemaPath  string `yaml:"schema_path"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Env holds the runtime tunables. Every field has a default so the process
// starts with an empty environment.
type Env struct {
	ParallelLimit        int `envconfig:"PARALLEL_LIMIT" default:"3"`
	ScrapingPauseTimeout int `envconfig:"SCRAPING_PAUSE_TIMEOUT" default:"1800"`
	StaleListingHours    int `envconfig:"STALE_LISTING_HOURS" default:"24"`
	StallRunningMinutes  int `envconfig:"STALL_RUNNING_THRESHOLD_MINUTES" default:"10"`
	StallPausedMinutes   int `envconfig:"STALL_PAUSED_THRESHOLD_MINUTES" default:"30"`
	DetailRefetchHours   int `envconfig:"DETAIL_REFETCH_HOURS" default:"72"`
	DuplicateCacheTTL    int `envconfig:"DUPLICATE_CACHE_TTL_SECONDS" default:"300"`
	RecentUpdatesTTL     int `envconfig:"RECENT_UPDATES_CACHE_TTL_SECONDS" default:"1800"`
	HTTPRetries          int `envconfig:"HTTP_RETRIES" default:"3"`
	HTTPTimeoutSeconds   int `envconfig:"HTTP_TIMEOUT_SECONDS" default:"10"`
}

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	return &env, nil
}

func (e *Env) PauseTimeout() time.Duration {
	return time.Duration(e.ScrapingPauseTimeout) * time.Second
}

func (e *Env) StaleListingAge() time.Duration {
	return time.Duration(e.StaleListingHours) * time.Hour
}

func (e *Env) StallRunningThreshold() time.Duration {
	return time.Duration(e.StallRunningMinutes) * time.Minute
}

func (e *Env) StallPausedThreshold() time.Duration {
	return time.Duration(e.StallPausedMinutes) * time.Minute
}

func (e *Env) DetailRefetchAge() time.Duration {
	return time.Duration(e.DetailRefetchHours) * time.Hour
}

func (e *Env) DuplicateCacheTTLDuration() time.Duration {
	return time.Duration(e.DuplicateCacheTTL) * time.Second
}

func (e *Env) RecentUpdatesTTLDuration() time.Duration {
	return time.Duration(e.RecentUpdatesTTL) * time.Second
}

func (e *Env) HTTPTimeout() time.Duration {
	return time.Duration(e.HTTPTimeoutSeconds) * time.Second
}
