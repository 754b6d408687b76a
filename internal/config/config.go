package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the resolved foundry configuration. Values come from
// defaults, then an optional YAML file, then FOUNDRY_* env overrides.
type Config struct {
	DataDir           string `koanf:"data_dir"`
	TemplatesDir      string `koanf:"templates_dir"`
	PipelineFile      string `koanf:"pipeline_file"`
	LaunchTimeoutSecs int    `koanf:"launch_timeout_secs"`
	HealthPollMillis  int    `koanf:"health_poll_millis"`
}

func New() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	dataDir := filepath.Join(homeDir, ".foundry")

	k := koanf.New(".")
	defaults := map[string]any{
		"data_dir":            dataDir,
		"templates_dir":       filepath.Join(dataDir, "templates"),
		"pipeline_file":       "",
		"launch_timeout_secs": 30,
		"health_poll_millis":  500,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}

	cfgPath := os.Getenv("FOUNDRY_CONFIG")
	if cfgPath == "" {
		cfgPath = filepath.Join(dataDir, "config.yaml")
	}
	if _, err := os.Stat(cfgPath); err == nil {
		if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("FOUNDRY_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "FOUNDRY_"))
	}), nil); err != nil {
		return nil, err
	}

	var c Config
	if err := k.Unmarshal("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.SessionsDir(), c.WorkspacesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "foundry.db")
}

func (c *Config) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

func (c *Config) WorkspacesDir() string {
	return filepath.Join(c.DataDir, "workspaces")
}
