package marketplace

import (
	"context"
	"fmt"

	"github.com/Aidin1998/lotmarket/internal/auth"
	"github.com/Aidin1998/lotmarket/pkg/models"
)

// guard binds an authorization to the exact call being made.
type guard struct {
	contract models.Identity
	verifier auth.Verifier
}

func (g guard) invocation(op models.Operation, args ...any) auth.Invocation {
	return auth.NewInvocation(g.contract, op, args...)
}

// require checks that authz claims identity and that the verifier accepts it
// for op with args. Verifier errors are returned as they are.
func (g guard) require(ctx context.Context, authz auth.Authorization, identity models.Identity, op models.Operation, args ...any) error {
	if authz.Identity != identity {
		return fmt.Errorf("%w: %s requires %s, got %q", auth.ErrUnauthorized, op, identity, authz.Identity)
	}
	return g.verifier.Verify(ctx, authz, g.invocation(op, args...))
}
