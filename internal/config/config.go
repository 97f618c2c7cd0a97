package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds all configuration for the agent.
type Config struct {
	Certificate CertificateConfig `yaml:"certificate"`
	CRL         CRLConfig         `yaml:"crl"`
	Device      DeviceConfig      `yaml:"device"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// CertificateConfig locates the managed credential and sets the renewal
// policy.
//
// RenewalThresholdPct is the percent of certificate lifetime REMAINING at or
// below which renewal triggers: with 33.0, the agent re-enrolls once 67% or
// more of the lifetime has been consumed (boundary inclusive).
type CertificateConfig struct {
	CertPath            string  `yaml:"cert_path"`
	KeyPath             string  `yaml:"key_path"`
	RenewalThresholdPct float64 `yaml:"renewal_threshold_pct"`
	CheckIntervalSec    int     `yaml:"check_interval_sec"`
}

// CRLConfig controls revocation checking.
type CRLConfig struct {
	Enabled               bool   `yaml:"enabled"`
	URL                   string `yaml:"url"`
	CachePath             string `yaml:"cache_path"`
	MaxAgeHours           int    `yaml:"max_age_hours"`
	TreatUnknownAsRevoked bool   `yaml:"treat_unknown_as_revoked"`
}

// DeviceConfig identifies this device to the CA.
type DeviceConfig struct {
	Name string `yaml:"name"`
}

// EnrollmentConfig points at the enrollment service.
type EnrollmentConfig struct {
	EnrollURL      string `yaml:"enroll_url"`
	ReenrollURL    string `yaml:"reenroll_url"`
	BootstrapToken string `yaml:"bootstrap_token"`
	CABundlePath   string `yaml:"ca_bundle_path"`
	TimeoutSec     int    `yaml:"timeout_sec"`
}

// MetricsConfig optionally exposes Prometheus metrics.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Validate checks that the configuration is usable before the loop starts.
func (c *Config) Validate() error {
	if c.Certificate.CertPath == "" {
		return fmt.Errorf("certificate.cert_path is required")
	}
	if c.Certificate.KeyPath == "" {
		return fmt.Errorf("certificate.key_path is required")
	}
	if c.Certificate.RenewalThresholdPct <= 0 || c.Certificate.RenewalThresholdPct >= 100 {
		return fmt.Errorf("certificate.renewal_threshold_pct must be in (0, 100), got %v", c.Certificate.RenewalThresholdPct)
	}
	if c.Certificate.CheckIntervalSec <= 0 {
		return fmt.Errorf("certificate.check_interval_sec must be positive")
	}
	if c.CRL.Enabled {
		u, err := url.Parse(c.CRL.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("crl.url must be a valid URL when crl.enabled is set")
		}
		if c.CRL.CachePath == "" {
			return fmt.Errorf("crl.cache_path is required when crl.enabled is set")
		}
		if c.CRL.MaxAgeHours <= 0 {
			return fmt.Errorf("crl.max_age_hours must be positive")
		}
	}
	if c.Device.Name == "" {
		return fmt.Errorf("device.name is required")
	}
	if c.Enrollment.EnrollURL == "" {
		return fmt.Errorf("enrollment.enroll_url is required")
	}
	if c.Enrollment.ReenrollURL == "" {
		return fmt.Errorf("enrollment.reenroll_url is required")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics.enabled is set")
	}
	return nil
}

// CheckInterval returns the loop interval as a time.Duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Certificate.CheckIntervalSec) * time.Second
}

// CRLMaxAge returns the revocation cache staleness window.
func (c *Config) CRLMaxAge() time.Duration {
	return time.Duration(c.CRL.MaxAgeHours) * time.Hour
}

// EnrollmentTimeout returns the per-call enrollment timeout, defaulting to
// 30s when unset.
func (c *Config) EnrollmentTimeout() time.Duration {
	if c.Enrollment.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Enrollment.TimeoutSec) * time.Second
}
