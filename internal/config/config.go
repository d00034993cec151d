package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"course-progression-service/internal/progression"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Logging struct {
		Mode string `yaml:"mode"`
	} `yaml:"logging"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Catalog struct {
		TTL string `yaml:"ttl"`
	} `yaml:"catalog"`
	Overview struct {
		TTL string `yaml:"ttl"`
	} `yaml:"overview"`
	Progression Progression `yaml:"progression"`
	Review      struct {
		LegacyBootstrap *bool `yaml:"legacyBootstrap"`
	} `yaml:"review"`
	Audit struct {
		Buffer int    `yaml:"buffer"`
		Stream string `yaml:"stream"`
	} `yaml:"audit"`
	Enrollment struct {
		OpenAccess bool `yaml:"openAccess"`
		Seed       []struct {
			Student string `yaml:"student"`
			Course  string `yaml:"course"`
		} `yaml:"seed"`
	} `yaml:"enrollment"`
}

// Progression mirrors progression.Policy with YAML-friendly durations.
type Progression struct {
	Cooldown               string  `yaml:"cooldown"`
	ViolationThreshold     *int    `yaml:"violationThreshold"`
	BaseAttempts           *int    `yaml:"baseAttempts"`
	WatchTolerance         string  `yaml:"watchTolerance"`
	CompletionRatio        float64 `yaml:"completionRatio"`
	UnknownDurationMinimum string  `yaml:"unknownDurationMinimum"`
	AttemptGrace           string  `yaml:"attemptGrace"`
	MaxPlaybackRate        float64 `yaml:"maxPlaybackRate"`
	MaxRetries             int     `yaml:"maxRetries"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Policy builds the progression policy, keeping defaults for unset fields.
func (c Config) Policy() progression.Policy {
	p := progression.DefaultPolicy()
	pc := c.Progression
	p.Cooldown = TTLDuration(pc.Cooldown, p.Cooldown)
	p.WatchTolerance = TTLDuration(pc.WatchTolerance, p.WatchTolerance)
	p.UnknownDurationMinimum = TTLDuration(pc.UnknownDurationMinimum, p.UnknownDurationMinimum)
	p.AttemptGrace = TTLDuration(pc.AttemptGrace, p.AttemptGrace)
	if pc.ViolationThreshold != nil {
		p.ViolationThreshold = *pc.ViolationThreshold
	}
	if pc.BaseAttempts != nil {
		p.BaseAttempts = *pc.BaseAttempts
	}
	if pc.CompletionRatio > 0 && pc.CompletionRatio <= 1 {
		p.CompletionRatio = pc.CompletionRatio
	}
	if pc.MaxPlaybackRate > 0 {
		p.MaxPlaybackRate = pc.MaxPlaybackRate
	}
	return p
}

// MaxRetries bounds optimistic write retries.
func (c Config) MaxRetries() int {
	if c.Progression.MaxRetries > 0 {
		return c.Progression.MaxRetries
	}
	return 5
}

// LegacyBootstrap reports whether units without any review admit every
// authored question. Defaults to true.
func (c Config) LegacyBootstrap() bool {
	if c.Review.LegacyBootstrap == nil {
		return true
	}
	return *c.Review.LegacyBootstrap
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
