package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequentialLedger hides the Batcher of the wrapped ledger and can be told to
// fail the n-th transfer.
type sequentialLedger struct {
	inner  *MemoryLedger
	calls  int
	failAt int
}

func (s *sequentialLedger) Balance(ctx context.Context, asset models.AssetID, holder models.Identity) (decimal.Decimal, error) {
	return s.inner.Balance(ctx, asset, holder)
}

func (s *sequentialLedger) Transfer(ctx context.Context, asset models.AssetID, from, to models.Identity, amount decimal.Decimal) error {
	s.calls++
	if s.calls == s.failAt {
		return errors.New("transfer service unavailable")
	}
	return s.inner.Transfer(ctx, asset, from, to, amount)
}

func TestJournalStagesUntilCommit(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryLedger()
	require.NoError(t, base.Mint(ctx, nft, alice, d(2)))

	j := NewJournal(base)
	require.NoError(t, j.Transfer(ctx, nft, alice, bob, d(2)))

	staged, _ := j.Balance(ctx, nft, bob)
	assert.True(t, staged.Equal(d(2)))
	got, _ := base.Balance(ctx, nft, bob)
	assert.True(t, got.IsZero())

	require.NoError(t, j.Commit(ctx))
	got, _ = base.Balance(ctx, nft, bob)
	assert.True(t, got.Equal(d(2)))
	assert.Empty(t, j.Pending())
}

func TestJournalChecksAgainstPendingDeltas(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryLedger()
	require.NoError(t, base.Mint(ctx, usd, alice, d(100)))

	j := NewJournal(base)
	require.NoError(t, j.Transfer(ctx, usd, alice, bob, d(60)))
	err := j.Transfer(ctx, usd, alice, bob, d(60))
	require.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Len(t, j.Pending(), 1)
}

func TestJournalRejectsCreditPastMaxAmount(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryLedger()
	require.NoError(t, base.Mint(ctx, usd, alice, d(2)))
	require.NoError(t, base.Mint(ctx, usd, bob, models.MaxAmount.Sub(d(1))))

	j := NewJournal(base)
	require.NoError(t, j.Transfer(ctx, usd, alice, bob, d(1)))
	err := j.Transfer(ctx, usd, alice, bob, d(1))
	require.ErrorIs(t, err, ErrBalanceOverflow)
	assert.Len(t, j.Pending(), 1)
}

func TestJournalDiscard(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryLedger()
	require.NoError(t, base.Mint(ctx, usd, alice, d(5)))

	j := NewJournal(base)
	require.NoError(t, j.Transfer(ctx, usd, alice, bob, d(5)))
	j.Discard()
	require.NoError(t, j.Commit(ctx))

	b, _ := base.Balance(ctx, usd, alice)
	assert.True(t, b.Equal(d(5)))
}

func TestJournalCompensate(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryLedger()
	require.NoError(t, base.Mint(ctx, usd, alice, d(200)))
	require.NoError(t, base.Mint(ctx, nft, "escrow", d(2)))

	j := NewJournal(base)
	require.NoError(t, j.Transfer(ctx, usd, alice, bob, d(200)))
	require.NoError(t, j.Transfer(ctx, nft, "escrow", alice, d(2)))
	require.NoError(t, j.Commit(ctx))
	require.NoError(t, j.Compensate(ctx))

	b, _ := base.Balance(ctx, usd, alice)
	assert.True(t, b.Equal(d(200)))
	b, _ = base.Balance(ctx, nft, "escrow")
	assert.True(t, b.Equal(d(2)))
	b, _ = base.Balance(ctx, nft, alice)
	assert.True(t, b.IsZero())
}

func TestJournalSequentialCommitRollsBack(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryLedger()
	require.NoError(t, inner.Mint(ctx, usd, alice, d(10)))
	base := &sequentialLedger{inner: inner, failAt: 2}

	j := NewJournal(base)
	require.NoError(t, j.Transfer(ctx, usd, alice, bob, d(4)))
	require.NoError(t, j.Transfer(ctx, usd, alice, bob, d(3)))
	require.Error(t, j.Commit(ctx))

	b, _ := inner.Balance(ctx, usd, alice)
	assert.True(t, b.Equal(d(10)), "alice=%s", b)
	b, _ = inner.Balance(ctx, usd, bob)
	assert.True(t, b.IsZero(), "bob=%s", b)
}
