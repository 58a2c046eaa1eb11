// Package marketplace is the listing-and-escrow state machine. Every public
// operation runs as one unit of work: it is fully applied or has no effect.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Aidin1998/lotmarket/internal/auth"
	"github.com/Aidin1998/lotmarket/internal/events"
	"github.com/Aidin1998/lotmarket/internal/ledger"
	"github.com/Aidin1998/lotmarket/internal/storage"
	"github.com/Aidin1998/lotmarket/pkg/metrics"
	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options wires a Service to its collaborators.
type Options struct {
	// Address is the marketplace's own identity. It holds escrowed units and
	// is the contract every authorization is bound to.
	Address  models.Identity
	Store    storage.Store
	Ledger   ledger.Ledger
	Verifier auth.Verifier
	Sink     events.Sink
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Clock    func() time.Time
}

// Service runs marketplace operations one at a time.
type Service struct {
	mu sync.Mutex

	address models.Identity
	store   storage.Store
	ledger  ledger.Ledger
	guard   guard
	sink    events.Sink
	log     *zap.Logger
	tracer  trace.Tracer
	now     func() time.Time
	seq     uint64
}

// NewService validates opts and returns a ready Service.
func NewService(opts Options) (*Service, error) {
	if opts.Address == "" {
		return nil, errors.New("marketplace address is required")
	}
	if opts.Store == nil || opts.Ledger == nil || opts.Verifier == nil {
		return nil, errors.New("store, ledger and verifier are required")
	}
	s := &Service{
		address: opts.Address,
		store:   opts.Store,
		ledger:  opts.Ledger,
		guard:   guard{contract: opts.Address, verifier: opts.Verifier},
		sink:    opts.Sink,
		log:     opts.Logger,
		tracer:  opts.Tracer,
		now:     opts.Clock,
	}
	if s.sink == nil {
		s.sink = events.Discard
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/Aidin1998/lotmarket/internal/marketplace")
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Address returns the marketplace identity.
func (s *Service) Address() models.Identity { return s.address }

// Ledger returns the ledger balances are read from.
func (s *Service) Ledger() ledger.Ledger { return s.ledger }

// run executes fn in a fresh unit of work under the service lock, committing
// on success and discarding everything on failure.
func (s *Service) run(ctx context.Context, op models.Operation, fn func(ctx context.Context, u *unit) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "marketplace."+op.String())
	defer span.End()

	u := s.begin()
	err := fn(ctx, u)
	if err == nil {
		err = s.commit(ctx, u)
	} else {
		u.discard()
	}

	result := metrics.ResultOK
	switch {
	case err == nil:
	case CodeOf(err) != 0, isAuthError(err):
		result = metrics.ResultRejected
		span.SetAttributes(attribute.Int("marketplace.error_code", CodeOf(err)))
		span.SetStatus(codes.Error, err.Error())
		s.log.Debug("operation rejected", zap.String("operation", op.String()), zap.Error(err))
	default:
		result = metrics.ResultError
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("operation failed", zap.String("operation", op.String()), zap.Error(err))
	}
	metrics.ObserveOperation(op.String(), result, started)
	return err
}

func isAuthError(err error) bool {
	return errors.Is(err, auth.ErrUnauthorized) || errors.Is(err, auth.ErrInvalidProof) || errors.Is(err, auth.ErrReplayed)
}

// Initialize writes the marketplace configuration. It succeeds exactly once.
func (s *Service) Initialize(ctx context.Context, paymentAsset models.AssetID, admin models.Identity) error {
	return s.run(ctx, models.OpInitialize, func(ctx context.Context, u *unit) error {
		return u.config.initialize(ctx, paymentAsset, admin)
	})
}

// Config returns the marketplace configuration.
func (s *Service) Config(ctx context.Context) (models.MarketConfig, error) {
	var cfg models.MarketConfig
	err := s.run(ctx, models.OpConfig, func(ctx context.Context, u *unit) error {
		var err error
		cfg, err = u.config.require(ctx)
		return err
	})
	return cfg, err
}

// CreateListing escrows quantity units of asset from owner and lists them at
// a per-unit price. It returns the new listing id.
func (s *Service) CreateListing(ctx context.Context, authz auth.Authorization, owner models.Identity, asset models.AssetID, price, quantity decimal.Decimal) (uint64, error) {
	var id uint64
	err := s.run(ctx, models.OpCreateListing, func(ctx context.Context, u *unit) error {
		if _, err := u.config.require(ctx); err != nil {
			return err
		}
		if err := validatePrice(price); err != nil {
			return err
		}
		if err := validateQuantity(quantity); err != nil {
			return err
		}
		if err := s.guard.require(ctx, authz, owner, models.OpCreateListing, owner, asset, price, quantity); err != nil {
			return err
		}
		if err := u.custody.hold(ctx, asset, owner, quantity); err != nil {
			return err
		}
		var err error
		if id, err = u.registry.allocateAndStore(ctx, owner, asset, price, quantity); err != nil {
			return err
		}
		u.emit(models.OpCreateListing, owner, id)
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.LastListingID.Set(float64(id))
	s.log.Info("listing created",
		zap.Uint64("listing_id", id),
		zap.String("owner", owner.String()),
		zap.String("asset", asset.String()),
		zap.String("price", price.String()),
		zap.String("quantity", quantity.String()))
	return id, nil
}

// GetListing returns the listing with id. A missing listing is reported by
// ok == false, not by an error.
func (s *Service) GetListing(ctx context.Context, id uint64) (listing models.Listing, ok bool, err error) {
	err = s.run(ctx, models.OpGetListing, func(ctx context.Context, u *unit) error {
		if _, err := u.config.require(ctx); err != nil {
			return err
		}
		var err error
		listing, ok, err = u.registry.load(ctx, id)
		return err
	})
	return listing, ok, err
}

// ListListings returns the listings matching filter in id order.
func (s *Service) ListListings(ctx context.Context, filter models.ListingFilter) ([]models.Listing, error) {
	var out []models.Listing
	err := s.run(ctx, models.OpListListings, func(ctx context.Context, u *unit) error {
		if _, err := u.config.require(ctx); err != nil {
			return err
		}
		var err error
		out, err = u.registry.scan(ctx, filter)
		return err
	})
	return out, err
}

// UpdatePrice replaces the per-unit price. Only the owner may call it.
func (s *Service) UpdatePrice(ctx context.Context, authz auth.Authorization, id uint64, price decimal.Decimal) error {
	return s.ownerMutation(ctx, authz, models.OpUpdatePrice, id, []any{id, price}, func(l *models.Listing) error {
		if err := validatePrice(price); err != nil {
			return err
		}
		l.Price = price
		return nil
	})
}

// PauseListing takes the listing off sale without releasing escrow.
func (s *Service) PauseListing(ctx context.Context, authz auth.Authorization, id uint64) error {
	return s.ownerMutation(ctx, authz, models.OpPauseListing, id, []any{id}, func(l *models.Listing) error {
		l.Listed = false
		return nil
	})
}

// UnpauseListing puts a paused listing back on sale.
func (s *Service) UnpauseListing(ctx context.Context, authz auth.Authorization, id uint64) error {
	return s.ownerMutation(ctx, authz, models.OpUnpauseListing, id, []any{id}, func(l *models.Listing) error {
		l.Listed = true
		return nil
	})
}

func (s *Service) ownerMutation(ctx context.Context, authz auth.Authorization, op models.Operation, id uint64, args []any, f func(*models.Listing) error) error {
	return s.run(ctx, op, func(ctx context.Context, u *unit) error {
		if _, err := u.config.require(ctx); err != nil {
			return err
		}
		l, err := u.registry.mustLoad(ctx, id)
		if err != nil {
			return err
		}
		if err := s.guard.require(ctx, authz, l.Owner, op, args...); err != nil {
			return err
		}
		if _, err := u.registry.mutate(ctx, id, f); err != nil {
			return err
		}
		u.emit(op, l.Owner, id)
		return nil
	})
}

// BuyListing pays price × quantity from buyer to the owner, hands the escrowed
// units to buyer and deletes the listing.
func (s *Service) BuyListing(ctx context.Context, authz auth.Authorization, buyer models.Identity, id uint64) error {
	return s.run(ctx, models.OpBuyListing, func(ctx context.Context, u *unit) error {
		cfg, err := u.config.require(ctx)
		if err != nil {
			return err
		}
		if err := s.guard.require(ctx, authz, buyer, models.OpBuyListing, buyer, id); err != nil {
			return err
		}
		l, err := u.registry.mustLoad(ctx, id)
		if err != nil {
			return err
		}
		if !l.Listed {
			return fmt.Errorf("%w: id %d", ErrNotListed, id)
		}
		total := l.Total()
		if !models.ValidAmount(total) {
			return fmt.Errorf("%w: %s × %s", ErrAmountOverflow, l.Price, l.Quantity)
		}
		if err := u.custody.settlePayment(ctx, cfg.PaymentAsset, buyer, l.Owner, total); err != nil {
			return err
		}
		if err := u.custody.release(ctx, l.Asset, buyer, l.Quantity); err != nil {
			return err
		}
		if err := u.registry.remove(ctx, id); err != nil {
			return err
		}
		u.emit(models.OpBuyListing, buyer, id)
		return nil
	})
}

// RemoveListing returns the escrowed units to the owner and deletes the
// listing.
func (s *Service) RemoveListing(ctx context.Context, authz auth.Authorization, id uint64) error {
	return s.run(ctx, models.OpRemoveListing, func(ctx context.Context, u *unit) error {
		if _, err := u.config.require(ctx); err != nil {
			return err
		}
		l, err := u.registry.mustLoad(ctx, id)
		if err != nil {
			return err
		}
		if err := s.guard.require(ctx, authz, l.Owner, models.OpRemoveListing, id); err != nil {
			return err
		}
		if err := u.custody.release(ctx, l.Asset, l.Owner, l.Quantity); err != nil {
			return err
		}
		if err := u.registry.remove(ctx, id); err != nil {
			return err
		}
		u.emit(models.OpRemoveListing, l.Owner, id)
		return nil
	})
}
