package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the user-supplied service configuration, read from an
// optional YAML file with environment variable overrides.
type Config struct {
	Host         string      `yaml:"host" env:"TAGSMITH_HOST" env-default:"0.0.0.0"`
	Port         string      `yaml:"port" env:"TAGSMITH_PORT" env-default:"8080"`
	WorkspaceDir string      `yaml:"workspace_dir" env:"TAGSMITH_WORKSPACE_DIR"`
	LogLevel     string      `yaml:"log_level" env:"TAGSMITH_LOG_LEVEL" env-default:"info"`
	Fetch        FetchConfig `yaml:"fetch"`
}

// FetchConfig tunes the media fetch tool invocation.
type FetchConfig struct {
	BinaryPath  string        `yaml:"binary_path" env:"TAGSMITH_YTDLP_PATH" env-default:"yt-dlp"`
	Timeout     time.Duration `yaml:"timeout" env:"TAGSMITH_FETCH_TIMEOUT" env-default:"5m"`
	MaxDuration time.Duration `yaml:"max_duration" env:"TAGSMITH_FETCH_MAX_DURATION" env-default:"20m"`
}

// Load reads configuration from the given path when it is non-empty,
// otherwise from the environment alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, cfg)
	} else {
		err = cleanenv.ReadEnv(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = filepath.Join(os.TempDir(), "audio_workspace")
	}

	return cfg, nil
}

// HostAddr returns the listen address for the HTTP server.
func (c *Config) HostAddr() string {
	return c.Host + ":" + c.Port
}
