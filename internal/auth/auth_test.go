package auth

import (
	"context"
	"testing"
	"time"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const market models.Identity = "marketplace-1"

func createInvocation(price int64) Invocation {
	return NewInvocation(market, models.OpCreateListing,
		models.Identity("seller"), models.AssetID("nft-x"), decimal.NewFromInt(price), decimal.NewFromInt(2))
}

func TestInvocationCanonicalArgs(t *testing.T) {
	inv := NewInvocation(market, models.OpBuyListing, models.Identity("buyer"), uint64(7))
	assert.Equal(t, []string{"buyer", "7"}, inv.Args)
	assert.Equal(t, "marketplace-1.buy_listing(buyer, 7)", inv.String())

	assert.True(t, createInvocation(100).Equal(createInvocation(100)))
	assert.False(t, createInvocation(100).Equal(createInvocation(101)))
	assert.NotEqual(t, createInvocation(100).Digest("n"), createInvocation(101).Digest("n"))
	assert.NotEqual(t, createInvocation(100).Digest("a"), createInvocation(100).Digest("b"))
}

func TestJWTProofRoundTrip(t *testing.T) {
	ctx := context.Background()
	secret := []byte("test-secret")
	issuer := NewJWTIssuer(secret, "lotmarket", time.Minute)
	verifier := NewJWTVerifier(secret, "lotmarket", nil)

	inv := createInvocation(100)
	token, err := issuer.Issue("seller", inv)
	require.NoError(t, err)

	require.NoError(t, verifier.Verify(ctx, Authorization{Identity: "seller", Proof: token}, inv))

	// same token again
	err = verifier.Verify(ctx, Authorization{Identity: "seller", Proof: token}, inv)
	assert.ErrorIs(t, err, ErrReplayed)
}

func TestJWTProofRejectsAlteredArguments(t *testing.T) {
	ctx := context.Background()
	secret := []byte("test-secret")
	issuer := NewJWTIssuer(secret, "lotmarket", time.Minute)
	verifier := NewJWTVerifier(secret, "lotmarket", nil)

	token, err := issuer.Issue("seller", createInvocation(100))
	require.NoError(t, err)

	err = verifier.Verify(ctx, Authorization{Identity: "seller", Proof: token}, createInvocation(1))
	assert.ErrorIs(t, err, ErrInvalidProof)
}

func TestJWTProofRejectsOtherIdentity(t *testing.T) {
	ctx := context.Background()
	secret := []byte("test-secret")
	token, err := NewJWTIssuer(secret, "lotmarket", time.Minute).Issue("seller", createInvocation(100))
	require.NoError(t, err)

	verifier := NewJWTVerifier(secret, "lotmarket", nil)
	err = verifier.Verify(ctx, Authorization{Identity: "mallory", Proof: token}, createInvocation(100))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestJWTProofRejectsWrongSecretAndExpiry(t *testing.T) {
	ctx := context.Background()
	inv := createInvocation(100)
	verifier := NewJWTVerifier([]byte("right"), "lotmarket", nil)

	forged, err := NewJWTIssuer([]byte("wrong"), "lotmarket", time.Minute).Issue("seller", inv)
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.Verify(ctx, Authorization{Identity: "seller", Proof: forged}, inv), ErrInvalidProof)

	expired, err := NewJWTIssuer([]byte("right"), "lotmarket", -time.Minute).Issue("seller", inv)
	require.NoError(t, err)
	assert.ErrorIs(t, verifier.Verify(ctx, Authorization{Identity: "seller", Proof: expired}, inv), ErrInvalidProof)

	assert.ErrorIs(t, verifier.Verify(ctx, As("seller"), inv), ErrUnauthorized)
}

func TestEVMSignatureRoundTrip(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	id := EVMIdentity(key)
	inv := NewInvocation(market, models.OpBuyListing, id, uint64(1))

	sig, err := SignEVM(key, inv, "nonce-1")
	require.NoError(t, err)

	v := NewEVMVerifier(nil, time.Minute)
	require.NoError(t, v.Verify(ctx, Authorization{Identity: id, Proof: sig, Nonce: "nonce-1"}, inv))
	assert.ErrorIs(t, v.Verify(ctx, Authorization{Identity: id, Proof: sig, Nonce: "nonce-1"}, inv), ErrReplayed)
}

func TestEVMSignatureRejectsMismatch(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	inv := NewInvocation(market, models.OpPauseListing, uint64(1))

	sig, err := SignEVM(key, inv, "n")
	require.NoError(t, err)
	v := NewEVMVerifier(nil, time.Minute)

	err = v.Verify(ctx, Authorization{Identity: EVMIdentity(other), Proof: sig, Nonce: "n"}, inv)
	assert.ErrorIs(t, err, ErrInvalidProof)

	err = v.Verify(ctx, Authorization{Identity: EVMIdentity(key), Proof: sig, Nonce: "n"},
		NewInvocation(market, models.OpRemoveListing, uint64(1)))
	assert.ErrorIs(t, err, ErrInvalidProof)

	err = v.Verify(ctx, Authorization{Identity: EVMIdentity(key), Proof: "0x1234", Nonce: "n"}, inv)
	assert.ErrorIs(t, err, ErrInvalidProof)

	err = v.Verify(ctx, Authorization{Identity: "seller", Proof: sig, Nonce: "n"}, inv)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder()
	inv := NewInvocation(market, models.OpPauseListing, uint64(1))

	require.NoError(t, r.Verify(ctx, As("seller"), inv))
	last, ok := r.Last()
	require.True(t, ok)
	assert.Equal(t, models.Identity("seller"), last.Identity)
	assert.True(t, last.Invocation.Equal(inv))

	r.Deny("seller")
	assert.ErrorIs(t, r.Verify(ctx, As("seller"), inv), ErrUnauthorized)
	assert.ErrorIs(t, r.Verify(ctx, Authorization{}, inv), ErrUnauthorized)
	assert.Len(t, r.Auths(), 1)
}

func TestBoundedRecorderKeepsLatest(t *testing.T) {
	ctx := context.Background()
	r := NewBoundedRecorder(2)
	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, r.Verify(ctx, As("seller"), NewInvocation(market, models.OpPauseListing, id)))
	}

	auths := r.Auths()
	require.Len(t, auths, 2)
	assert.True(t, auths[0].Invocation.Equal(NewInvocation(market, models.OpPauseListing, uint64(4))))
	assert.True(t, auths[1].Invocation.Equal(NewInvocation(market, models.OpPauseListing, uint64(5))))
}

func TestNonceCacheExpires(t *testing.T) {
	ctx := context.Background()
	c := NewNonceCache()
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Use(ctx, "a", now.Add(time.Second)))
	assert.ErrorIs(t, c.Use(ctx, "a", now.Add(time.Second)), ErrReplayed)

	now = now.Add(2 * time.Second)
	require.NoError(t, c.Use(ctx, "b", now.Add(time.Second)))
	assert.Equal(t, 1, c.Len())
	require.NoError(t, c.Use(ctx, "a", now.Add(time.Second)))
}
