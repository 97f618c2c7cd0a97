// Package status computes the per-iteration view of the managed credential:
// whether it exists, how much of its lifetime is consumed, and whether it is
// revoked. The status is recomputed from the filesystem every cycle so stale
// in-memory state can never mask an externally replaced certificate.
package status

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/edgepki/certagent/internal/config"
	"github.com/edgepki/certagent/internal/pki"
	"github.com/edgepki/certagent/internal/revocation"
)

// CertificateStatus is the derived, never-persisted record of the credential
// currently on disk.
type CertificateStatus struct {
	Exists    bool
	Malformed bool

	// KeyMismatch means the private key on disk is missing or does not
	// belong to the certificate. Such a pair can happen if a crash lands
	// between the key and certificate renames of an install; the credential
	// is unusable and must be replaced.
	KeyMismatch bool

	Subject   string
	NotBefore time.Time
	NotAfter  time.Time

	// LifetimeConsumedPercent is
	// (now - notBefore) / (notAfter - notBefore) * 100 at second precision.
	// 0 at notBefore, 100 at notAfter; not clamped.
	LifetimeConsumedPercent float64

	Revoked          bool
	RevocationStatus revocation.Status

	RenewalRequired bool
}

// Evaluator derives a CertificateStatus from the configured paths.
type Evaluator struct {
	cfg   *config.Config
	crl   *revocation.Cache
	clock func() time.Time
	log   *zap.Logger
}

// NewEvaluator creates an Evaluator. crl may be nil when revocation
// checking is disabled in the configuration.
func NewEvaluator(cfg *config.Config, crl *revocation.Cache, log *zap.Logger) *Evaluator {
	return &Evaluator{cfg: cfg, crl: crl, clock: time.Now, log: log}
}

// SetClock sets the time provider (mainly for testing).
func (e *Evaluator) SetClock(clock func() time.Time) { e.clock = clock }

// Evaluate reads the certificate file and the revocation cache and returns
// the current status. A missing or unreadable certificate is not an error:
// it is a status that requires action.
func (e *Evaluator) Evaluate(ctx context.Context) *CertificateStatus {
	st := &CertificateStatus{RevocationStatus: revocation.StatusUnknown}

	certPath := e.cfg.Certificate.CertPath
	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		st.RenewalRequired = true
		e.log.Info("certificate file missing", zap.String("path", certPath))
		return st
	}
	st.Exists = true

	cert, err := pki.LoadCertificate(certPath)
	if err != nil {
		// Treat as action-required rather than crashing: the decision policy
		// maps a malformed credential to a bootstrap re-enrollment.
		st.Malformed = true
		st.RenewalRequired = true
		e.log.Warn("certificate unreadable", zap.String("path", certPath), zap.Error(err))
		return st
	}

	st.Subject = cert.Subject.String()
	st.NotBefore = cert.NotBefore
	st.NotAfter = cert.NotAfter
	st.LifetimeConsumedPercent = lifetimeConsumed(e.clock(), cert.NotBefore, cert.NotAfter)

	if _, err := tls.LoadX509KeyPair(certPath, e.cfg.Certificate.KeyPath); err != nil {
		st.KeyMismatch = true
		e.log.Warn("private key missing or does not match certificate",
			zap.String("key_path", e.cfg.Certificate.KeyPath),
			zap.Error(err))
	}

	if e.cfg.CRL.Enabled && e.crl != nil {
		e.crl.Refresh(ctx, e.cfg.CRL.URL, e.cfg.CRL.CachePath, e.cfg.CRLMaxAge())
		st.RevocationStatus = e.crl.IsRevoked(certPath, e.cfg.CRL.CachePath)
		switch st.RevocationStatus {
		case revocation.StatusRevoked:
			st.Revoked = true
		case revocation.StatusUnknown:
			st.Revoked = e.cfg.CRL.TreatUnknownAsRevoked
			e.log.Warn("revocation status unknown",
				zap.Bool("treated_as_revoked", st.Revoked))
		}
	}

	st.RenewalRequired = st.Revoked || st.KeyMismatch ||
		st.LifetimeConsumedPercent >= 100-e.cfg.Certificate.RenewalThresholdPct

	return st
}

// lifetimeConsumed computes the consumed share of a certificate's validity
// window at second precision. Whole-day arithmetic would delay renewal past
// the safety margin on short-lived certificates.
func lifetimeConsumed(now, notBefore, notAfter time.Time) float64 {
	total := notAfter.Unix() - notBefore.Unix()
	if total <= 0 {
		return 100
	}
	elapsed := now.Unix() - notBefore.Unix()
	return float64(elapsed) / float64(total) * 100
}
