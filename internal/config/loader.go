package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadWithEnv loads configuration from a file and applies environment
// variable overrides, so secrets like the bootstrap token can stay out of
// the config file.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("CERTAGENT_CERT_PATH"); v != "" {
		cfg.Certificate.CertPath = v
	}
	if v := os.Getenv("CERTAGENT_KEY_PATH"); v != "" {
		cfg.Certificate.KeyPath = v
	}
	if v := os.Getenv("CERTAGENT_BOOTSTRAP_TOKEN"); v != "" {
		cfg.Enrollment.BootstrapToken = v
	}
	if v := os.Getenv("CERTAGENT_ENROLL_URL"); v != "" {
		cfg.Enrollment.EnrollURL = v
	}
	if v := os.Getenv("CERTAGENT_REENROLL_URL"); v != "" {
		cfg.Enrollment.ReenrollURL = v
	}
	if v := os.Getenv("CERTAGENT_DEVICE_NAME"); v != "" {
		cfg.Device.Name = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after env overrides: %w", err)
	}

	return cfg, nil
}
