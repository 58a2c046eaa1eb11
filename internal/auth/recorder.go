package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/Aidin1998/lotmarket/pkg/models"
)

// Recorded is one authorization a Recorder accepted.
type Recorded struct {
	Identity   models.Identity
	Invocation Invocation
}

// Recorder accepts every claimed identity and records what was authorized, in
// order. Tests assert the exact (identity, invocation) tuples through it. The
// daemon only runs it when auth.scheme is set to recorder, with a bounded
// history.
type Recorder struct {
	mu     sync.Mutex
	auths  []Recorded
	limit  int
	denied map[models.Identity]bool
}

var _ Verifier = (*Recorder)(nil)

func NewRecorder() *Recorder {
	return &Recorder{denied: make(map[models.Identity]bool)}
}

// NewBoundedRecorder keeps only the most recent limit authorizations.
func NewBoundedRecorder(limit int) *Recorder {
	r := NewRecorder()
	r.limit = limit
	return r
}

func (r *Recorder) Verify(_ context.Context, authz Authorization, inv Invocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if authz.Identity == "" {
		return ErrUnauthorized
	}
	if r.denied[authz.Identity] {
		return fmt.Errorf("%w: %s denied", ErrUnauthorized, authz.Identity)
	}
	r.auths = append(r.auths, Recorded{Identity: authz.Identity, Invocation: inv})
	if r.limit > 0 && len(r.auths) > r.limit {
		r.auths = append(r.auths[:0], r.auths[len(r.auths)-r.limit:]...)
	}
	return nil
}

// Deny makes every later verification for id fail.
func (r *Recorder) Deny(id models.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denied[id] = true
}

// Auths returns the recorded authorizations in order.
func (r *Recorder) Auths() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recorded(nil), r.auths...)
}

// Last returns the most recent authorization.
func (r *Recorder) Last() (Recorded, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.auths) == 0 {
		return Recorded{}, false
	}
	return r.auths[len(r.auths)-1], true
}
