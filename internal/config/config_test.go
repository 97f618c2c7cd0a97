package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
certificate:
  cert_path: /var/lib/certagent/cert.pem
  key_path: /var/lib/certagent/key.pem
  renewal_threshold_pct: 33.0
  check_interval_sec: 300
crl:
  enabled: true
  url: https://pki.example.com/crl.der
  cache_path: /var/lib/certagent/crl.der
  max_age_hours: 24
device:
  name: device-1
enrollment:
  enroll_url: https://pki.example.com/enroll
  reenroll_url: https://pki.example.com/reenroll
  bootstrap_token: secret
  timeout_sec: 45
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Valid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/certagent/cert.pem", cfg.Certificate.CertPath)
	assert.Equal(t, 33.0, cfg.Certificate.RenewalThresholdPct)
	assert.Equal(t, 300, cfg.Certificate.CheckIntervalSec)
	assert.True(t, cfg.CRL.Enabled)
	assert.False(t, cfg.CRL.TreatUnknownAsRevoked)
	assert.Equal(t, "device-1", cfg.Device.Name)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "certificate: ["))
	assert.Error(t, err)
}

func TestValidate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing cert path", func(c *Config) { c.Certificate.CertPath = "" }},
		{"missing key path", func(c *Config) { c.Certificate.KeyPath = "" }},
		{"zero threshold", func(c *Config) { c.Certificate.RenewalThresholdPct = 0 }},
		{"threshold over 100", func(c *Config) { c.Certificate.RenewalThresholdPct = 100 }},
		{"zero interval", func(c *Config) { c.Certificate.CheckIntervalSec = 0 }},
		{"crl enabled without url", func(c *Config) { c.CRL.URL = "" }},
		{"crl enabled without cache path", func(c *Config) { c.CRL.CachePath = "" }},
		{"crl enabled without max age", func(c *Config) { c.CRL.MaxAgeHours = 0 }},
		{"missing device name", func(c *Config) { c.Device.Name = "" }},
		{"missing enroll url", func(c *Config) { c.Enrollment.EnrollURL = "" }},
		{"missing reenroll url", func(c *Config) { c.Enrollment.ReenrollURL = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			require.NoError(t, err)
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWithEnv_Overrides(t *testing.T) {
	t.Setenv("CERTAGENT_BOOTSTRAP_TOKEN", "from-env")
	t.Setenv("CERTAGENT_DEVICE_NAME", "device-env")

	cfg, err := LoadWithEnv(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Enrollment.BootstrapToken)
	assert.Equal(t, "device-env", cfg.Device.Name)
}

func TestDurationAccessors(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "5m0s", cfg.CheckInterval().String())
	assert.Equal(t, "24h0m0s", cfg.CRLMaxAge().String())
	assert.Equal(t, "45s", cfg.EnrollmentTimeout().String())
}

func TestEnrollmentTimeout_Default(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "30s", cfg.EnrollmentTimeout().String())
}
