// Package policy turns a certificate status into a renewal decision. It is
// a pure function of its input and performs no I/O.
package policy

import "github.com/edgepki/certagent/internal/status"

// Action is what the rotator should do this iteration.
type Action int

const (
	ActionSkip Action = iota
	ActionEnroll
	ActionReenroll
)

func (a Action) String() string {
	switch a {
	case ActionEnroll:
		return "enroll"
	case ActionReenroll:
		return "reenroll"
	default:
		return "skip"
	}
}

// AuthMode is how the enrollment exchange authenticates.
type AuthMode int

const (
	AuthNone AuthMode = iota
	AuthBootstrap
	AuthMutualTLS
)

func (m AuthMode) String() string {
	switch m {
	case AuthBootstrap:
		return "bootstrap"
	case AuthMutualTLS:
		return "mutual-tls"
	default:
		return "none"
	}
}

// Decision is a pure value recomputed each iteration.
type Decision struct {
	Action Action
	Auth   AuthMode
	Reason string
}

// Decide maps a status to a decision.
//
// The case order is a deliberate tie-break. A missing certificate wins over
// everything because it is the only case with zero existing trust material.
// Revocation wins over a threshold renewal and forces bootstrap auth because
// a revoked credential cannot authenticate its own replacement, and a key
// mismatch likewise falls back to bootstrap: without the matching key the
// certificate cannot drive a mutual-TLS exchange. Only a still-valid,
// unrevoked, correctly-paired credential past the threshold may re-enroll
// over mutual TLS.
func Decide(st *status.CertificateStatus) Decision {
	switch {
	case !st.Exists:
		return Decision{Action: ActionEnroll, Auth: AuthBootstrap, Reason: "certificate missing"}
	case st.Malformed:
		return Decision{Action: ActionEnroll, Auth: AuthBootstrap, Reason: "certificate unreadable"}
	case st.Revoked:
		return Decision{Action: ActionReenroll, Auth: AuthBootstrap, Reason: "certificate revoked"}
	case st.KeyMismatch:
		return Decision{Action: ActionReenroll, Auth: AuthBootstrap, Reason: "private key mismatch"}
	case st.RenewalRequired:
		return Decision{Action: ActionReenroll, Auth: AuthMutualTLS, Reason: "renewal threshold exceeded"}
	default:
		return Decision{Action: ActionSkip, Auth: AuthNone, Reason: "certificate valid"}
	}
}
