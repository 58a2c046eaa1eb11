package marketplace

import (
	"context"

	"github.com/Aidin1998/lotmarket/internal/ledger"
	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/shopspring/decimal"
)

// custody moves assets in and out of the marketplace escrow. Ledger errors,
// insufficient balance included, are returned unchanged.
type custody struct {
	ledger ledger.Ledger
	escrow models.Identity
}

// hold moves quantity of asset from its owner into escrow.
func (c custody) hold(ctx context.Context, asset models.AssetID, from models.Identity, quantity decimal.Decimal) error {
	return c.ledger.Transfer(ctx, asset, from, c.escrow, quantity)
}

// release moves quantity of asset out of escrow to to.
func (c custody) release(ctx context.Context, asset models.AssetID, to models.Identity, quantity decimal.Decimal) error {
	return c.ledger.Transfer(ctx, asset, c.escrow, to, quantity)
}

func (c custody) settlePayment(ctx context.Context, asset models.AssetID, from, to models.Identity, amount decimal.Decimal) error {
	return c.ledger.Transfer(ctx, asset, from, to, amount)
}
