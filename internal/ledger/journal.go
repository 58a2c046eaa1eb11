package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/shopspring/decimal"
)

// Journal stages transfers on top of a base Ledger. Balance reads include the
// staged deltas, so a later transfer in the same unit of work is checked
// against what earlier ones left behind. Nothing reaches the base until Commit.
type Journal struct {
	base      Ledger
	pending   []Transfer
	deltas    map[holding]decimal.Decimal
	committed []Transfer
}

var _ Ledger = (*Journal)(nil)

func NewJournal(base Ledger) *Journal {
	return &Journal{base: base, deltas: make(map[holding]decimal.Decimal)}
}

func (j *Journal) Balance(ctx context.Context, asset models.AssetID, holder models.Identity) (decimal.Decimal, error) {
	b, err := j.base.Balance(ctx, asset, holder)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Add(j.deltas[holding{asset, holder}]), nil
}

func (j *Journal) Transfer(ctx context.Context, asset models.AssetID, from, to models.Identity, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	have, err := j.Balance(ctx, asset, from)
	if err != nil {
		return err
	}
	if have.LessThan(amount) {
		return insufficient(asset, from, have, amount)
	}
	if from != to {
		held, err := j.Balance(ctx, asset, to)
		if err != nil {
			return err
		}
		if _, err := credit(asset, to, held, amount); err != nil {
			return err
		}
	}
	j.pending = append(j.pending, Transfer{Asset: asset, From: from, To: to, Amount: amount})
	j.deltas[holding{asset, from}] = j.deltas[holding{asset, from}].Sub(amount)
	j.deltas[holding{asset, to}] = j.deltas[holding{asset, to}].Add(amount)
	return nil
}

// Pending returns the staged transfers in call order.
func (j *Journal) Pending() []Transfer {
	return append([]Transfer(nil), j.pending...)
}

// Commit applies the staged transfers to the base. Batching ledgers apply
// them atomically; others are applied one by one and rolled back with
// reverse transfers if one fails.
func (j *Journal) Commit(ctx context.Context) error {
	if len(j.pending) == 0 {
		return nil
	}
	if b, ok := j.base.(Batcher); ok {
		if err := b.TransferBatch(ctx, j.pending); err != nil {
			return err
		}
	} else {
		for i, t := range j.pending {
			if err := j.base.Transfer(ctx, t.Asset, t.From, t.To, t.Amount); err != nil {
				if cerr := reverseAll(ctx, j.base, j.pending[:i]); cerr != nil {
					return errors.Join(err, cerr)
				}
				return err
			}
		}
	}
	j.committed = j.pending
	j.reset()
	return nil
}

// Compensate undoes a previous successful Commit.
func (j *Journal) Compensate(ctx context.Context) error {
	if len(j.committed) == 0 {
		return nil
	}
	var err error
	if b, ok := j.base.(Batcher); ok {
		reversed := make([]Transfer, 0, len(j.committed))
		for i := len(j.committed) - 1; i >= 0; i-- {
			reversed = append(reversed, j.committed[i].Reverse())
		}
		err = b.TransferBatch(ctx, reversed)
	} else {
		err = reverseAll(ctx, j.base, j.committed)
	}
	if err != nil {
		return fmt.Errorf("compensate ledger: %w", err)
	}
	j.committed = nil
	return nil
}

// Discard drops every staged transfer.
func (j *Journal) Discard() {
	j.reset()
}

func (j *Journal) reset() {
	j.pending = nil
	j.deltas = make(map[holding]decimal.Decimal)
}

func reverseAll(ctx context.Context, l Ledger, applied []Transfer) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		r := applied[i].Reverse()
		if err := l.Transfer(ctx, r.Asset, r.From, r.To, r.Amount); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
