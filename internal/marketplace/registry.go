package marketplace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Aidin1998/lotmarket/internal/storage"
	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/shopspring/decimal"
)

const listingPrefix = "listing/"

// Zero padding keeps key order equal to id order in every backend.
func listingKey(id uint64) string {
	return fmt.Sprintf("%s%020d", listingPrefix, id)
}

func validatePrice(price decimal.Decimal) error {
	if !models.ValidAmount(price) {
		return fmt.Errorf("%w: got %s", ErrInvalidPrice, models.FormatAmount(price))
	}
	return nil
}

func validateQuantity(quantity decimal.Decimal) error {
	if !models.ValidAmount(quantity) {
		return fmt.Errorf("%w: got %s", ErrInvalidQuantity, models.FormatAmount(quantity))
	}
	return nil
}

// registry is the only writer of listing records.
type registry struct {
	kv     storage.Store
	config configStore
}

// allocateAndStore persists a new Active listing under next_id+1 and advances
// the counter.
func (r registry) allocateAndStore(ctx context.Context, owner models.Identity, asset models.AssetID, price, quantity decimal.Decimal) (uint64, error) {
	if err := validatePrice(price); err != nil {
		return 0, err
	}
	if err := validateQuantity(quantity); err != nil {
		return 0, err
	}
	last, err := r.config.counter(ctx)
	if err != nil {
		return 0, err
	}
	l := models.Listing{
		ID:       last + 1,
		Owner:    owner,
		Asset:    asset,
		Price:    price,
		Quantity: quantity,
		Listed:   true,
	}
	if err := r.put(ctx, l); err != nil {
		return 0, err
	}
	if err := r.config.setCounter(ctx, l.ID); err != nil {
		return 0, err
	}
	return l.ID, nil
}

func (r registry) load(ctx context.Context, id uint64) (models.Listing, bool, error) {
	raw, err := r.kv.Get(ctx, listingKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return models.Listing{}, false, nil
	}
	if err != nil {
		return models.Listing{}, false, fmt.Errorf("read listing %d: %w", id, err)
	}
	var l models.Listing
	if err := json.Unmarshal(raw, &l); err != nil {
		return models.Listing{}, false, fmt.Errorf("decode listing %d: %w", id, err)
	}
	return l, true, nil
}

// mustLoad is load with absence reported as ErrListingNotFound.
func (r registry) mustLoad(ctx context.Context, id uint64) (models.Listing, error) {
	l, ok, err := r.load(ctx, id)
	if err != nil {
		return models.Listing{}, err
	}
	if !ok {
		return models.Listing{}, fmt.Errorf("%w: id %d", ErrListingNotFound, id)
	}
	return l, nil
}

// mutate loads the listing, applies f and persists the result. Callers check
// authorization first; f may still reject the change.
func (r registry) mutate(ctx context.Context, id uint64, f func(*models.Listing) error) (models.Listing, error) {
	l, err := r.mustLoad(ctx, id)
	if err != nil {
		return models.Listing{}, err
	}
	if err := f(&l); err != nil {
		return models.Listing{}, err
	}
	l.ID = id
	if err := r.put(ctx, l); err != nil {
		return models.Listing{}, err
	}
	return l, nil
}

func (r registry) remove(ctx context.Context, id uint64) error {
	return r.kv.Delete(ctx, listingKey(id))
}

// scan returns the listings passing filter, in id order.
func (r registry) scan(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	var out []models.Listing
	err := r.kv.Scan(ctx, listingPrefix, func(key string, value []byte) error {
		id, err := strconv.ParseUint(strings.TrimPrefix(key, listingPrefix), 10, 64)
		if err != nil {
			return fmt.Errorf("malformed listing key %q: %w", key, err)
		}
		if id <= filter.AfterID {
			return nil
		}
		var l models.Listing
		if err := json.Unmarshal(value, &l); err != nil {
			return fmt.Errorf("decode listing %d: %w", id, err)
		}
		if !filter.Match(l) {
			return nil
		}
		out = append(out, l)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			return storage.ErrStopScan
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r registry) put(ctx context.Context, l models.Listing) error {
	raw, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode listing %d: %w", l.ID, err)
	}
	return r.kv.Set(ctx, listingKey(l.ID), raw)
}
