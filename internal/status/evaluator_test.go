package status

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/edgepki/certagent/internal/config"
	"github.com/edgepki/certagent/internal/fsutil"
	"github.com/edgepki/certagent/internal/revocation"
)

// writeSelfSigned writes a self-signed cert valid over [notBefore, notAfter]
// plus its matching key and returns the certificate path.
func writeSelfSigned(t *testing.T, dir string, notBefore, notAfter time.Time) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(99),
		Subject:      pkix.Name{CommonName: "device-1"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	path := filepath.Join(dir, "cert.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(path, data, 0o644))

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key.pem"), keyPEM, 0o600))
	return path
}

func testConfig(certPath string, threshold float64) *config.Config {
	return &config.Config{
		Certificate: config.CertificateConfig{
			CertPath:            certPath,
			KeyPath:             filepath.Join(filepath.Dir(certPath), "key.pem"),
			RenewalThresholdPct: threshold,
			CheckIntervalSec:    60,
		},
		Device: config.DeviceConfig{Name: "device-1"},
	}
}

func TestEvaluate_MissingCertificate(t *testing.T) {
	cfg := testConfig(filepath.Join(t.TempDir(), "cert.pem"), 33)
	e := NewEvaluator(cfg, nil, zap.NewNop())

	st := e.Evaluate(context.Background())
	assert.False(t, st.Exists)
	assert.True(t, st.RenewalRequired)
}

func TestEvaluate_MalformedCertificate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(path, []byte("not a certificate"), 0o644))

	cfg := testConfig(path, 33)
	e := NewEvaluator(cfg, nil, zap.NewNop())

	st := e.Evaluate(context.Background())
	assert.True(t, st.Exists)
	assert.True(t, st.Malformed)
	assert.True(t, st.RenewalRequired)
}

func TestLifetimeConsumed_Bounds(t *testing.T) {
	nb := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	na := nb.Add(100 * time.Hour)

	assert.Equal(t, 0.0, lifetimeConsumed(nb, nb, na))
	assert.Equal(t, 100.0, lifetimeConsumed(na, nb, na))
	assert.Equal(t, 50.0, lifetimeConsumed(nb.Add(50*time.Hour), nb, na))
}

func TestLifetimeConsumed_MonotonicNonDecreasing(t *testing.T) {
	nb := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	na := nb.Add(90 * 24 * time.Hour)

	prev := -1.0
	for now := nb; !now.After(na); now = now.Add(12 * time.Hour) {
		got := lifetimeConsumed(now, nb, na)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

// renewal_threshold_pct is percent of lifetime remaining: with 33.0 the
// boundary sits at 67% consumed, inclusive.
func TestEvaluate_ThresholdBoundary(t *testing.T) {
	nb := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	na := nb.Add(10000 * time.Second)

	cases := []struct {
		name     string
		consumed float64
		required bool
	}{
		{"well below boundary", 33.40, false},
		{"just below boundary", 66.99, false},
		{"exactly at boundary", 67.00, true},
		{"above boundary", 67.01, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeSelfSigned(t, dir, nb, na)
			cfg := testConfig(path, 33)

			e := NewEvaluator(cfg, nil, zap.NewNop())
			// Whole seconds, computed exactly: the lifetime spans 10000s, so
			// consumed percent maps to seconds at a factor of 100.
			seconds := int(math.Round(tc.consumed * 100))
			now := nb.Add(time.Duration(seconds) * time.Second)
			e.SetClock(func() time.Time { return now })

			st := e.Evaluate(context.Background())
			require.True(t, st.Exists)
			assert.InDelta(t, tc.consumed, st.LifetimeConsumedPercent, 0.001)
			assert.Equal(t, tc.required, st.RenewalRequired)
		})
	}
}

// A certificate paired with the wrong private key is unusable even when it
// is well-formed, unexpired, and unrevoked; it must come back as
// action-required so the pair gets replaced.
func TestEvaluate_KeyMismatchForcesRenewal(t *testing.T) {
	dir := t.TempDir()
	path := writeSelfSigned(t, dir, time.Now().Add(-time.Hour), time.Now().Add(99*time.Hour))

	// Overwrite the key with one from an unrelated pair.
	stranger, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	strangerDER, err := x509.MarshalPKCS8PrivateKey(stranger)
	require.NoError(t, err)
	strangerPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: strangerDER})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "key.pem"), strangerPEM, 0o600))

	cfg := testConfig(path, 33)
	e := NewEvaluator(cfg, nil, zap.NewNop())

	st := e.Evaluate(context.Background())
	require.True(t, st.Exists)
	assert.False(t, st.Malformed)
	assert.True(t, st.KeyMismatch)
	assert.True(t, st.RenewalRequired)
}

func TestEvaluate_MissingKeyIsMismatch(t *testing.T) {
	dir := t.TempDir()
	path := writeSelfSigned(t, dir, time.Now().Add(-time.Hour), time.Now().Add(99*time.Hour))
	require.NoError(t, os.Remove(filepath.Join(dir, "key.pem")))

	cfg := testConfig(path, 33)
	e := NewEvaluator(cfg, nil, zap.NewNop())

	st := e.Evaluate(context.Background())
	assert.True(t, st.KeyMismatch)
	assert.True(t, st.RenewalRequired)
}

func TestEvaluate_RevokedForcesRenewal(t *testing.T) {
	dir := t.TempDir()
	nb := time.Now().Add(-time.Hour)
	na := time.Now().Add(99 * time.Hour) // ~1% consumed
	path := writeSelfSigned(t, dir, nb, na)

	// Cache file is fresh but the CRL inside is unparsable; strict mode
	// treats unknown as revoked.
	crlPath := filepath.Join(dir, "crl.der")
	require.NoError(t, os.WriteFile(crlPath, []byte("garbage"), 0o644))

	cfg := testConfig(path, 33)
	cfg.CRL = config.CRLConfig{
		Enabled:               true,
		URL:                   "https://crl.invalid/crl.der",
		CachePath:             crlPath,
		MaxAgeHours:           24,
		TreatUnknownAsRevoked: true,
	}

	store := fsutil.NewStore(fsutil.NewPermissionPolicy(), zap.NewNop())
	crl := revocation.NewCache(store, time.Second, zap.NewNop())
	e := NewEvaluator(cfg, crl, zap.NewNop())

	st := e.Evaluate(context.Background())
	assert.True(t, st.Revoked)
	assert.True(t, st.RenewalRequired)
	assert.Equal(t, revocation.StatusUnknown, st.RevocationStatus)
}

func TestEvaluate_UnknownDefaultsToNotRevoked(t *testing.T) {
	dir := t.TempDir()
	path := writeSelfSigned(t, dir, time.Now().Add(-time.Hour), time.Now().Add(99*time.Hour))

	crlPath := filepath.Join(dir, "crl.der")
	require.NoError(t, os.WriteFile(crlPath, []byte("garbage"), 0o644))

	cfg := testConfig(path, 33)
	cfg.CRL = config.CRLConfig{
		Enabled:     true,
		URL:         "https://crl.invalid/crl.der",
		CachePath:   crlPath,
		MaxAgeHours: 24,
	}

	store := fsutil.NewStore(fsutil.NewPermissionPolicy(), zap.NewNop())
	crl := revocation.NewCache(store, time.Second, zap.NewNop())
	e := NewEvaluator(cfg, crl, zap.NewNop())

	st := e.Evaluate(context.Background())
	assert.False(t, st.Revoked)
	assert.False(t, st.RenewalRequired)
	assert.Equal(t, revocation.StatusUnknown, st.RevocationStatus)
}
