package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/edgepki/certagent/internal/status"
)

func TestDecide_MissingCertificate(t *testing.T) {
	// Missing wins regardless of any other field.
	st := &status.CertificateStatus{
		Exists:          false,
		Revoked:         true,
		RenewalRequired: true,
	}
	d := Decide(st)
	assert.Equal(t, ActionEnroll, d.Action)
	assert.Equal(t, AuthBootstrap, d.Auth)
	assert.Equal(t, "certificate missing", d.Reason)
}

func TestDecide_MalformedCertificate(t *testing.T) {
	st := &status.CertificateStatus{
		Exists:          true,
		Malformed:       true,
		RenewalRequired: true,
	}
	d := Decide(st)
	assert.Equal(t, ActionEnroll, d.Action)
	assert.Equal(t, AuthBootstrap, d.Auth)
}

func TestDecide_RevokedOverridesThreshold(t *testing.T) {
	// Revoked at only 10% consumed: revocation overrides both the threshold
	// and the auth-mode preference.
	st := &status.CertificateStatus{
		Exists:                  true,
		LifetimeConsumedPercent: 10,
		Revoked:                 true,
		RenewalRequired:         true,
	}
	d := Decide(st)
	assert.Equal(t, ActionReenroll, d.Action)
	assert.Equal(t, AuthBootstrap, d.Auth)
	assert.Equal(t, "certificate revoked", d.Reason)
}

func TestDecide_KeyMismatchForcesBootstrapReenroll(t *testing.T) {
	// The certificate itself parses, so its subject is preserved via
	// re-enrollment, but the broken pair cannot authenticate a mutual-TLS
	// exchange.
	st := &status.CertificateStatus{
		Exists:          true,
		KeyMismatch:     true,
		RenewalRequired: true,
	}
	d := Decide(st)
	assert.Equal(t, ActionReenroll, d.Action)
	assert.Equal(t, AuthBootstrap, d.Auth)
	assert.Equal(t, "private key mismatch", d.Reason)
}

func TestDecide_RevokedOverridesKeyMismatch(t *testing.T) {
	st := &status.CertificateStatus{
		Exists:          true,
		Revoked:         true,
		KeyMismatch:     true,
		RenewalRequired: true,
	}
	d := Decide(st)
	assert.Equal(t, "certificate revoked", d.Reason)
}

func TestDecide_ThresholdUsesMutualTLS(t *testing.T) {
	st := &status.CertificateStatus{
		Exists:                  true,
		LifetimeConsumedPercent: 80,
		RenewalRequired:         true,
	}
	d := Decide(st)
	assert.Equal(t, ActionReenroll, d.Action)
	assert.Equal(t, AuthMutualTLS, d.Auth)
	assert.Equal(t, "renewal threshold exceeded", d.Reason)
}

func TestDecide_ValidCertificateSkips(t *testing.T) {
	st := &status.CertificateStatus{
		Exists:                  true,
		LifetimeConsumedPercent: 33.4,
	}
	d := Decide(st)
	assert.Equal(t, ActionSkip, d.Action)
	assert.Equal(t, AuthNone, d.Auth)
	assert.Equal(t, "certificate valid", d.Reason)
}
