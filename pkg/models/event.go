package models

import (
	"time"
)

// Operation names a public marketplace operation.
type Operation string

const (
	OpInitialize     Operation = "initialize"
	OpCreateListing  Operation = "create_listing"
	OpGetListing     Operation = "get_listing"
	OpListListings   Operation = "list_listings"
	OpUpdatePrice    Operation = "update_price"
	OpPauseListing   Operation = "pause_listing"
	OpUnpauseListing Operation = "unpause_listing"
	OpBuyListing     Operation = "buy_listing"
	OpRemoveListing  Operation = "remove_listing"
	OpConfig         Operation = "config"
)

func (o Operation) String() string { return string(o) }

// Event is the notification every mutating operation emits. The topic is
// (Operation, Actor) and the payload is the listing id.
type Event struct {
	Sequence  uint64    `json:"sequence"`
	Operation Operation `json:"operation"`
	Actor     Identity  `json:"actor"`
	ListingID uint64    `json:"listing_id"`
	At        time.Time `json:"at"`
}

// Topic returns the (operation, actor) pair observers key on.
func (e Event) Topic() (Operation, Identity) {
	return e.Operation, e.Actor
}
