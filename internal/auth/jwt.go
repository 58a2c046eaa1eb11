package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// InvocationClaims bind a JWT to one invocation. The token id doubles as the
// digest nonce, so a token can be used exactly once.
type InvocationClaims struct {
	Digest string `json:"inv"`
	jwt.RegisteredClaims
}

// JWTIssuer mints HS256 invocation proofs. It lives with whoever holds the
// shared secret (a wallet service, or cmd/authsign in development).
type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewJWTIssuer(secret []byte, issuer string, ttl time.Duration) *JWTIssuer {
	return &JWTIssuer{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue returns a signed token proving identity authorized inv.
func (i *JWTIssuer) Issue(identity models.Identity, inv Invocation) (string, error) {
	now := time.Now()
	jti := uuid.NewString()
	claims := InvocationClaims{
		Digest: inv.DigestHex(jti),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(identity),
			Issuer:    i.issuer,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign invocation token: %w", err)
	}
	return token, nil
}

// JWTVerifier checks tokens minted by a JWTIssuer with the same secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	nonces NonceStore
}

var _ Verifier = (*JWTVerifier)(nil)

func NewJWTVerifier(secret []byte, issuer string, nonces NonceStore) *JWTVerifier {
	if nonces == nil {
		nonces = NewNonceCache()
	}
	return &JWTVerifier{secret: secret, issuer: issuer, nonces: nonces}
}

func (v *JWTVerifier) Verify(ctx context.Context, authz Authorization, inv Invocation) error {
	if authz.Identity == "" || authz.Proof == "" {
		return ErrUnauthorized
	}

	var claims InvocationClaims
	_, err := jwt.ParseWithClaims(authz.Proof, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if claims.Subject != string(authz.Identity) {
		return fmt.Errorf("%w: token subject %q does not match %q", ErrUnauthorized, claims.Subject, authz.Identity)
	}
	if claims.ID == "" {
		return fmt.Errorf("%w: token has no id", ErrInvalidProof)
	}
	want := inv.DigestHex(claims.ID)
	if subtle.ConstantTimeCompare([]byte(want), []byte(claims.Digest)) != 1 {
		return fmt.Errorf("%w: token bound to a different invocation than %s", ErrInvalidProof, inv)
	}
	if err := v.nonces.Use(ctx, claims.Subject+":"+claims.ID, claims.ExpiresAt.Time); err != nil {
		if errors.Is(err, ErrReplayed) {
			return fmt.Errorf("%w: token %s", ErrReplayed, claims.ID)
		}
		return err
	}
	return nil
}
