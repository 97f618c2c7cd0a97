// Package rotation executes enrollment decisions: it generates fresh key
// material, drives the enrollment exchange, and atomically installs the
// resulting credential.
package rotation

import (
	"context"
	"crypto/x509/pkix"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edgepki/certagent/internal/config"
	"github.com/edgepki/certagent/internal/enroll"
	"github.com/edgepki/certagent/internal/fsutil"
	"github.com/edgepki/certagent/internal/pki"
	"github.com/edgepki/certagent/internal/policy"
)

// CertMode and KeyMode are the on-disk permission modes for installed
// credentials. The certificate is public material; the key is owner-only.
const (
	CertMode = 0o644
	KeyMode  = 0o600
)

// Result reports the outcome of one rotation attempt. Failures are values,
// not errors: the loop retries on the next interval regardless.
type Result struct {
	Success  bool
	Subject  string
	NotAfter time.Time
	Message  string
}

// Rotator replaces the managed credential when the decision calls for it.
type Rotator struct {
	cfg      *config.Config
	store    *fsutil.Store
	enroller enroll.Enroller
	log      *zap.Logger
}

// NewRotator creates a Rotator.
func NewRotator(cfg *config.Config, store *fsutil.Store, enroller enroll.Enroller, log *zap.Logger) *Rotator {
	return &Rotator{cfg: cfg, store: store, enroller: enroller, log: log}
}

// Execute carries out the decision. For Skip it returns immediately with no
// side effects. For Enroll and Reenroll it generates a key pair, builds a
// CSR, runs the exchange, and installs the new pair with a two-phase
// commit: both files are staged with final permissions first, then renamed
// into place. If anything fails before the renames, the previous
// authoritative files are untouched.
func (r *Rotator) Execute(ctx context.Context, decision policy.Decision) Result {
	if decision.Action == policy.ActionSkip {
		return Result{Success: true, Message: decision.Reason}
	}

	res, err := r.rotate(ctx, decision)
	if err != nil {
		r.log.Error("rotation failed",
			zap.String("action", decision.Action.String()),
			zap.String("auth", decision.Auth.String()),
			zap.Error(err))
		return Result{Message: err.Error()}
	}
	return res
}

func (r *Rotator) rotate(ctx context.Context, decision policy.Decision) (Result, error) {
	certPath := r.cfg.Certificate.CertPath
	keyPath := r.cfg.Certificate.KeyPath

	subject, err := r.csrSubject(decision.Action)
	if err != nil {
		return Result{}, err
	}

	key, err := pki.GenerateKey()
	if err != nil {
		return Result{}, err
	}
	csrPEM, err := pki.CreateCSR(subject, key)
	if err != nil {
		return Result{}, err
	}

	var certPEM []byte
	switch decision.Auth {
	case policy.AuthMutualTLS:
		certPEM, err = r.enroller.Reenroll(ctx, csrPEM, certPath, keyPath)
	default:
		certPEM, err = r.enroller.Enroll(ctx, csrPEM)
	}
	if err != nil {
		return Result{}, fmt.Errorf("enrollment exchange: %w", err)
	}

	newCert, err := pki.ParseCertificatePEM(certPEM)
	if err != nil {
		return Result{}, fmt.Errorf("issued certificate unparsable: %w", err)
	}

	keyPEM, err := pki.EncodeKeyPEM(key)
	if err != nil {
		return Result{}, err
	}

	// Phase one: stage both files next to their targets. The staged key
	// already carries 0600 so it is never world-readable, even transiently.
	if _, err := r.store.Stage(keyPath, keyPEM, KeyMode); err != nil {
		return Result{}, err
	}
	if _, err := r.store.Stage(certPath, certPEM, CertMode); err != nil {
		r.store.Discard(keyPath)
		return Result{}, err
	}

	// Phase two: rename into place, key first so the pair is never a new
	// certificate over an old key. Promote re-applies the final mode after
	// the rename.
	if err := r.store.Promote(keyPath, KeyMode); err != nil {
		r.store.Discard(keyPath)
		r.store.Discard(certPath)
		return Result{}, err
	}
	if err := r.store.Promote(certPath, CertMode); err != nil {
		r.store.Discard(certPath)
		return Result{}, err
	}

	r.log.Info("credential installed",
		zap.String("action", decision.Action.String()),
		zap.String("subject", newCert.Subject.String()),
		zap.Time("not_after", newCert.NotAfter))

	return Result{
		Success:  true,
		Subject:  newCert.Subject.String(),
		NotAfter: newCert.NotAfter,
		Message:  fmt.Sprintf("%s completed: %s", decision.Action, decision.Reason),
	}, nil
}

// csrSubject picks the CSR subject: the configured device name for initial
// enrollment, the existing certificate's subject for re-enrollment.
// Re-enrollment must not silently change identity.
func (r *Rotator) csrSubject(action policy.Action) (pkix.Name, error) {
	if action == policy.ActionEnroll {
		return pkix.Name{CommonName: r.cfg.Device.Name}, nil
	}
	cert, err := pki.LoadCertificate(r.cfg.Certificate.CertPath)
	if err != nil {
		return pkix.Name{}, fmt.Errorf("load subject for re-enrollment: %w", err)
	}
	return cert.Subject, nil
}
