package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// maxSweepInterval keeps every story visible for at most one interval past
// its 24h expiration.
const maxSweepInterval = 24 * time.Hour

// Config holds the server settings. Flags in cmd/server override the values
// parsed from the environment.
type Config struct {
	Addr           string        `env:"STORYREEL_ADDR"             envDefault:":8080"`
	DBPath         string        `env:"STORYREEL_DB"               envDefault:"storyreel.db"`
	StoragePath    string        `env:"STORYREEL_STORAGE"          envDefault:"./uploads"`
	SweepInterval  time.Duration `env:"STORYREEL_SWEEP_INTERVAL"   envDefault:"1h"`
	DevMode        bool          `env:"STORYREEL_DEV"              envDefault:"false"`
	CORSOrigins    []string      `env:"STORYREEL_CORS_ORIGINS"     envDefault:"http://localhost:5173" envSeparator:","`
	MaxUploadBytes int64         `env:"STORYREEL_MAX_UPLOAD_BYTES" envDefault:"20971520"`
	B2             B2Config      `envPrefix:"B2_"`
}

// B2Config holds Backblaze B2 settings. An empty Bucket selects local
// filesystem storage.
type B2Config struct {
	KeyID     string `env:"KEY_ID"`
	AppKey    string `env:"APP_KEY"`
	Bucket    string `env:"BUCKET"`
	Prefix    string `env:"PREFIX"`
	PublicURL string `env:"PUBLIC_URL"`
	Endpoint  string `env:"ENDPOINT" envDefault:"s3.us-east-005.backblazeb2.com"`
}

// Enabled reports whether B2 storage is configured.
func (c B2Config) Enabled() bool {
	return c.Bucket != ""
}

// Load parses the configuration from the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks settings that env parsing cannot.
func (c Config) Validate() error {
	if c.SweepInterval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.SweepInterval >= maxSweepInterval {
		return fmt.Errorf("sweep interval %s must be shorter than %s", c.SweepInterval, maxSweepInterval)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	if c.B2.Enabled() && (c.B2.KeyID == "" || c.B2.AppKey == "") {
		return errors.New("B2_BUCKET is set but B2_KEY_ID or B2_APP_KEY is missing")
	}
	return nil
}
