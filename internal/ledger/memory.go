package ledger

import (
	"context"
	"sync"

	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/shopspring/decimal"
)

type holding struct {
	asset  models.AssetID
	holder models.Identity
}

// MemoryLedger keeps balances in process. It backs tests and the dev daemon.
type MemoryLedger struct {
	mu       sync.RWMutex
	balances map[holding]decimal.Decimal
}

var (
	_ Ledger  = (*MemoryLedger)(nil)
	_ Batcher = (*MemoryLedger)(nil)
)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[holding]decimal.Decimal)}
}

// Mint credits holder with amount of asset out of thin air.
func (l *MemoryLedger) Mint(_ context.Context, asset models.AssetID, holder models.Identity, amount decimal.Decimal) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	k := holding{asset, holder}
	sum, err := credit(asset, holder, l.balances[k], amount)
	if err != nil {
		return err
	}
	l.balances[k] = sum
	return nil
}

func (l *MemoryLedger) Balance(_ context.Context, asset models.AssetID, holder models.Identity) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[holding{asset, holder}], nil
}

func (l *MemoryLedger) Transfer(ctx context.Context, asset models.AssetID, from, to models.Identity, amount decimal.Decimal) error {
	return l.TransferBatch(ctx, []Transfer{{Asset: asset, From: from, To: to, Amount: amount}})
}

// TransferBatch validates every transfer against a scratch copy of the
// affected balances before touching the real ones.
func (l *MemoryLedger) TransferBatch(_ context.Context, transfers []Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	scratch := make(map[holding]decimal.Decimal)
	get := func(k holding) decimal.Decimal {
		if v, ok := scratch[k]; ok {
			return v
		}
		return l.balances[k]
	}
	for _, t := range transfers {
		if err := checkAmount(t.Amount); err != nil {
			return err
		}
		from, to := holding{t.Asset, t.From}, holding{t.Asset, t.To}
		have := get(from)
		if have.LessThan(t.Amount) {
			return insufficient(t.Asset, t.From, have, t.Amount)
		}
		scratch[from] = have.Sub(t.Amount)
		sum, err := credit(t.Asset, t.To, get(to), t.Amount)
		if err != nil {
			return err
		}
		scratch[to] = sum
	}
	for k, v := range scratch {
		l.balances[k] = v
	}
	return nil
}
