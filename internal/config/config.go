package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/medforge/casgen/internal/domain"
)

// ArtifactConfig selects and configures the artifact storage driver.
type ArtifactConfig struct {
	Driver          string `json:"driver"`
	Root            string `json:"root"`
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	PathStyle       bool   `json:"path_style"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	SessionToken    string `json:"session_token"`
}

// Config holds the engine's runtime configuration.
type Config struct {
	DBPath             string         `json:"db_path"`
	OutputDir          string         `json:"output_dir"`
	ListenAddr         string         `json:"listen_addr"`
	MaxConcurrentJobs  int            `json:"max_concurrent_jobs"`
	RateLimitPerMinute int            `json:"rate_limit_per_minute"`
	TokenSecret        string         `json:"token_secret"`
	TokenTTLSec        int            `json:"token_ttl_sec"`
	EncryptionKeyHex   string         `json:"encryption_key_hex"`
	ArchiveDSN         string         `json:"archive_dsn"`
	Workers            int            `json:"workers"`
	ShutdownGraceSec   int            `json:"shutdown_grace_sec"`
	Artifacts          ArtifactConfig `json:"artifacts"`
}

// Load reads a JSON config file, applies defaults, and validates.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config JSON: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "./output"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":9860"
	}
	if c.MaxConcurrentJobs == 0 {
		c.MaxConcurrentJobs = 2
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 120
	}
	if c.TokenTTLSec == 0 {
		c.TokenTTLSec = 900
	}
	if c.ShutdownGraceSec == 0 {
		c.ShutdownGraceSec = 10
	}
	if c.Artifacts.Driver == "" {
		c.Artifacts.Driver = "fs"
	}
	if c.Artifacts.Root == "" {
		c.Artifacts.Root = "./artifacts"
	}
}

func (c *Config) validate() error {
	var problems []string

	if c.DBPath == "" {
		problems = append(problems, "db_path is required")
	}
	if c.TokenSecret == "" {
		problems = append(problems, "token_secret is required")
	}
	if c.MaxConcurrentJobs < 0 {
		problems = append(problems, "max_concurrent_jobs must not be negative")
	}
	if c.Workers < 0 {
		problems = append(problems, "workers must not be negative")
	}

	switch c.Artifacts.Driver {
	case "fs", "memory":
	case "s3":
		if c.Artifacts.Bucket == "" {
			problems = append(problems, "artifacts.bucket is required for the s3 driver")
		}
	default:
		problems = append(problems, fmt.Sprintf("artifacts.driver %q is not one of fs, s3, memory", c.Artifacts.Driver))
	}

	if c.EncryptionKeyHex != "" {
		key, err := hex.DecodeString(c.EncryptionKeyHex)
		if err != nil {
			problems = append(problems, "encryption_key_hex is not valid hex")
		} else if n := len(key); n != 16 && n != 24 && n != 32 {
			problems = append(problems, fmt.Sprintf("encryption_key_hex must decode to 16, 24, or 32 bytes, got %d", n))
		}
	}

	if len(problems) > 0 {
		return &domain.EngineError{
			Code:    domain.ErrConfigInvalid.Code,
			Message: fmt.Sprintf("%s: %v", domain.ErrConfigInvalid.Message, problems),
		}
	}
	return nil
}

// EncryptionKey returns the decoded AES key, or nil when none is configured.
// Call after Load; validation has already checked the encoding.
func (c *Config) EncryptionKey() []byte {
	if c.EncryptionKeyHex == "" {
		return nil
	}
	key, _ := hex.DecodeString(c.EncryptionKeyHex)
	return key
}
