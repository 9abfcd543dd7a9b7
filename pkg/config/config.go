// Package config loads the lcu-watch configuration file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"github.com/lcudriver/lcu-driver/pkg/lcu"
	"github.com/lcudriver/lcu-driver/pkg/logger"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Connector lcu.Options   `yaml:"connector"`
	Logger    logger.Config `yaml:"logger"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

type MetricsConfig struct {
	// Addr is the listen address of the Prometheus endpoint. Empty disables it.
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

func defaultConfig() *Config {
	return &Config{
		Connector: lcu.DefaultOptions(),
		Logger:    logger.DefaultConfig(),
		Metrics:   MetricsConfig{Path: "/metrics"},
	}
}

// Load reads a YAML file over the defaults. ${VAR} and ${VAR:default}
// references are expanded from the environment first, after loading a
// .env file from the working directory if there is one.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaultConfig(), nil
	}
	return cfg, err
}

var envRef = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

func expandEnv(content []byte) []byte {
	return envRef.ReplaceAllFunc(content, func(match []byte) []byte {
		m := envRef.FindSubmatch(match)
		if v, ok := os.LookupEnv(string(m[1])); ok {
			return []byte(v)
		}
		return m[2]
	})
}
