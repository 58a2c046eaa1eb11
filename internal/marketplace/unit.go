package marketplace

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aidin1998/lotmarket/internal/ledger"
	"github.com/Aidin1998/lotmarket/internal/storage"
	"github.com/Aidin1998/lotmarket/pkg/metrics"
	"github.com/Aidin1998/lotmarket/pkg/models"
	"go.uber.org/zap"
)

// unit is one operation's staged effects. Nothing it records is visible
// outside the operation until commit succeeds.
type unit struct {
	kv      *storage.Overlay
	journal *ledger.Journal
	events  []models.Event

	config   configStore
	registry registry
	custody  custody
}

func (s *Service) begin() *unit {
	kv := storage.NewOverlay(s.store)
	journal := ledger.NewJournal(s.ledger)
	cfg := configStore{kv: kv}
	return &unit{
		kv:       kv,
		journal:  journal,
		config:   cfg,
		registry: registry{kv: kv, config: cfg},
		custody:  custody{ledger: journal, escrow: s.address},
	}
}

func (u *unit) emit(op models.Operation, actor models.Identity, id uint64) {
	u.events = append(u.events, models.Event{Operation: op, Actor: actor, ListingID: id})
}

func (u *unit) discard() {
	u.kv.Discard()
	u.journal.Discard()
	u.events = nil
}

// commit applies transfers first, then state. A state failure reverses the
// transfers. Events go out only once both are durable.
func (s *Service) commit(ctx context.Context, u *unit) error {
	if err := u.journal.Commit(ctx); err != nil {
		metrics.CommitFailures.WithLabelValues("ledger").Inc()
		u.discard()
		return fmt.Errorf("commit transfers: %w", err)
	}
	if err := u.kv.Commit(ctx); err != nil {
		metrics.CommitFailures.WithLabelValues("store").Inc()
		u.discard()
		if cerr := u.journal.Compensate(ctx); cerr != nil {
			s.log.Error("failed to compensate ledger after store commit failure",
				zap.Error(err), zap.NamedError("compensate_error", cerr))
			return errors.Join(fmt.Errorf("commit state: %w", err), cerr)
		}
		return fmt.Errorf("commit state: %w", err)
	}
	s.publish(ctx, u.events)
	return nil
}

func (s *Service) publish(ctx context.Context, pending []models.Event) {
	for _, ev := range pending {
		s.seq++
		ev.Sequence = s.seq
		ev.At = s.now()
		if err := s.sink.Publish(ctx, ev); err != nil {
			metrics.EventPublishFailures.Inc()
			s.log.Warn("failed to publish event",
				zap.Uint64("sequence", ev.Sequence),
				zap.String("operation", ev.Operation.String()),
				zap.String("actor", ev.Actor.String()),
				zap.Uint64("listing_id", ev.ListingID),
				zap.Error(err))
		}
	}
}
