// Package enroll defines the enrollment collaborator the rotator talks to.
//
// The agent treats enrollment as an opaque capability: a CSR goes in, a
// signed certificate comes out. The wire protocol behind it (EST, ACME, a
// bespoke CA front end) is someone else's problem; Client is a minimal HTTPS
// implementation of that capability, not a protocol state machine.
package enroll

import "context"

// Enroller performs the protocol exchange that turns a CSR into a signed
// certificate.
type Enroller interface {
	// Enroll submits a CSR authenticated by the bootstrap token and returns
	// the signed certificate PEM.
	Enroll(ctx context.Context, csrPEM []byte) ([]byte, error)
	// Reenroll submits a CSR authenticated by the existing credential over
	// mutual TLS and returns the signed certificate PEM.
	Reenroll(ctx context.Context, csrPEM []byte, certPath, keyPath string) ([]byte, error)
}
