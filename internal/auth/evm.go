package auth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EVMIdentity is the checksummed address of key, the identity an EVMVerifier
// accepts for signatures made with it.
func EVMIdentity(key *ecdsa.PrivateKey) models.Identity {
	return models.Identity(crypto.PubkeyToAddress(key.PublicKey).Hex())
}

// SignEVM signs the invocation digest as an EIP-191 personal message and
// returns the 65-byte signature hex encoded.
func SignEVM(key *ecdsa.PrivateKey, inv Invocation, nonce string) (string, error) {
	d := inv.Digest(nonce)
	sig, err := crypto.Sign(accounts.TextHash(d[:]), key)
	if err != nil {
		return "", fmt.Errorf("failed to sign invocation: %w", err)
	}
	return hexutil.Encode(sig), nil
}

// EVMVerifier accepts personal-message signatures whose recovered address is
// the claimed identity. Nonces are remembered for ttl.
type EVMVerifier struct {
	nonces NonceStore
	ttl    time.Duration
}

var _ Verifier = (*EVMVerifier)(nil)

func NewEVMVerifier(nonces NonceStore, ttl time.Duration) *EVMVerifier {
	if nonces == nil {
		nonces = NewNonceCache()
	}
	return &EVMVerifier{nonces: nonces, ttl: ttl}
}

func (v *EVMVerifier) Verify(ctx context.Context, authz Authorization, inv Invocation) error {
	if !common.IsHexAddress(string(authz.Identity)) || authz.Proof == "" {
		return ErrUnauthorized
	}
	if authz.Nonce == "" {
		return fmt.Errorf("%w: missing nonce", ErrInvalidProof)
	}
	sig, err := hexutil.Decode(authz.Proof)
	if err != nil || len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: malformed signature", ErrInvalidProof)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	d := inv.Digest(authz.Nonce)
	pub, err := crypto.SigToPub(accounts.TextHash(d[:]), sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	signer := crypto.PubkeyToAddress(*pub)
	if signer != common.HexToAddress(string(authz.Identity)) {
		return fmt.Errorf("%w: signature by %s, not %s", ErrInvalidProof, signer.Hex(), authz.Identity)
	}
	return v.nonces.Use(ctx, signer.Hex()+":"+authz.Nonce, time.Now().Add(v.ttl))
}
