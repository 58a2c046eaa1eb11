package models

import (
	"github.com/shopspring/decimal"
)

// Identity names an account that can hold assets and authorize calls: a seller,
// a buyer, an administrator, or the marketplace escrow itself.
type Identity string

func (i Identity) String() string { return string(i) }

// AssetID references a transferable, quantity-bearing asset or the payment asset.
type AssetID string

func (a AssetID) String() string { return string(a) }

// Listing is an offer of Quantity units of Asset at a per-unit Price. While the
// record exists the escrow holds exactly Quantity units on the owner's behalf.
type Listing struct {
	ID       uint64          `json:"id"`
	Owner    Identity        `json:"owner"`
	Asset    AssetID         `json:"asset"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Listed   bool            `json:"listed"`
}

// Total is the full purchase amount: price is per unit, never per lot.
func (l Listing) Total() decimal.Decimal {
	return l.Price.Mul(l.Quantity)
}

// MarketConfig is the singleton marketplace configuration written once by
// initialize.
type MarketConfig struct {
	PaymentAsset AssetID  `json:"payment_asset"`
	Admin        Identity `json:"admin"`
	Initialized  bool     `json:"initialized"`
}

// ListingFilter narrows a listing scan. Zero values match everything.
type ListingFilter struct {
	Owner      Identity `json:"owner,omitempty"`
	Asset      AssetID  `json:"asset,omitempty"`
	ListedOnly bool     `json:"listed_only,omitempty"`
	AfterID    uint64   `json:"after_id,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// Match reports whether l passes the filter predicates (paging fields excluded).
func (f ListingFilter) Match(l Listing) bool {
	if f.Owner != "" && l.Owner != f.Owner {
		return false
	}
	if f.Asset != "" && l.Asset != f.Asset {
		return false
	}
	if f.ListedOnly && !l.Listed {
		return false
	}
	return l.ID > f.AfterID
}
