// Package ledger is the asset and payment transfer collaborator: it holds
// balances per (asset, holder) and moves them between holders.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when the source of a transfer holds
	// less than the transferred amount.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for amounts that are not positive whole
	// numbers within range.
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrBalanceOverflow is returned when a credit would push a balance past
	// models.MaxAmount.
	ErrBalanceOverflow = errors.New("ledger: balance exceeds the amount range")
)

// Transfer is a single debit/credit between two holders of one asset.
type Transfer struct {
	Asset  models.AssetID
	From   models.Identity
	To     models.Identity
	Amount decimal.Decimal
}

// Reverse returns the transfer that undoes t.
func (t Transfer) Reverse() Transfer {
	return Transfer{Asset: t.Asset, From: t.To, To: t.From, Amount: t.Amount}
}

// Ledger reads balances and moves them.
type Ledger interface {
	Balance(ctx context.Context, asset models.AssetID, holder models.Identity) (decimal.Decimal, error)
	Transfer(ctx context.Context, asset models.AssetID, from, to models.Identity, amount decimal.Decimal) error
}

// Batcher is implemented by ledgers that can apply several transfers as one
// atomic step.
type Batcher interface {
	TransferBatch(ctx context.Context, transfers []Transfer) error
}

func insufficient(asset models.AssetID, holder models.Identity, have, need decimal.Decimal) error {
	return fmt.Errorf("%w: %s holds %s of %s, needs %s", ErrInsufficientBalance, holder, have, asset, need)
}

// credit returns have+amount, or ErrBalanceOverflow when the sum leaves the
// amount range.
func credit(asset models.AssetID, holder models.Identity, have, amount decimal.Decimal) (decimal.Decimal, error) {
	sum := have.Add(amount)
	if sum.GreaterThan(models.MaxAmount) {
		return decimal.Zero, fmt.Errorf("%w: %s would hold %s of %s", ErrBalanceOverflow, holder, sum, asset)
	}
	return sum, nil
}

func checkAmount(amount decimal.Decimal) error {
	if !models.ValidAmount(amount) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, models.FormatAmount(amount))
	}
	return nil
}
