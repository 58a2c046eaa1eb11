// Package auth is the authorization subsystem: it proves that a specific
// identity sanctioned a specific marketplace call with specific arguments.
package auth

import (
	"context"
	"errors"

	"github.com/Aidin1998/lotmarket/pkg/models"
)

var (
	// ErrUnauthorized means the caller did not present authorization for the
	// required identity.
	ErrUnauthorized = errors.New("auth: not authorized")

	// ErrInvalidProof means the proof is malformed, expired, or bound to a
	// different identity or invocation.
	ErrInvalidProof = errors.New("auth: invalid proof")

	// ErrReplayed means the proof was already used once.
	ErrReplayed = errors.New("auth: proof replayed")
)

// Authorization is the capability a caller passes with every owner-gated
// operation: the identity it claims and the proof that identity signed this
// exact invocation.
type Authorization struct {
	Identity models.Identity
	Proof    string
	Nonce    string
}

// As returns an Authorization that claims id without a proof. It is enough for
// a Recorder and useless against any cryptographic Verifier.
func As(id models.Identity) Authorization {
	return Authorization{Identity: id}
}

// Verifier confirms that authz proves authz.Identity authorized inv.
type Verifier interface {
	Verify(ctx context.Context, authz Authorization, inv Invocation) error
}
