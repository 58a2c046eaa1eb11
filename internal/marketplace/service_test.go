package marketplace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Aidin1998/lotmarket/internal/auth"
	"github.com/Aidin1998/lotmarket/internal/events"
	"github.com/Aidin1998/lotmarket/internal/ledger"
	"github.com/Aidin1998/lotmarket/internal/storage"
	"github.com/Aidin1998/lotmarket/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	marketAddr models.Identity = "marketplace"
	seller     models.Identity = "seller"
	buyer      models.Identity = "buyer"
	token      models.AssetID  = "usdc"
	nft        models.AssetID  = "nft-lot"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// flakyStore fails batch commits while fail is set.
type flakyStore struct {
	*storage.MemoryStore
	fail bool
}

func (f *flakyStore) Apply(ctx context.Context, m []storage.Mutation) error {
	if f.fail {
		return errors.New("store unavailable")
	}
	return f.MemoryStore.Apply(ctx, m)
}

type fixture struct {
	svc    *Service
	store  *flakyStore
	ledger *ledger.MemoryLedger
	auths  *auth.Recorder
	sink   *events.MemorySink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  &flakyStore{MemoryStore: storage.NewMemoryStore()},
		ledger: ledger.NewMemoryLedger(),
		auths:  auth.NewRecorder(),
		sink:   events.NewMemorySink(),
	}
	svc, err := NewService(Options{
		Address:  marketAddr,
		Store:    f.store,
		Ledger:   f.ledger,
		Verifier: f.auths,
		Sink:     f.sink,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	require.NoError(t, f.svc.Initialize(context.Background(), token, "admin"))
	return f
}

func (f *fixture) mint(t *testing.T, asset models.AssetID, holder models.Identity, amount int64) {
	t.Helper()
	require.NoError(t, f.ledger.Mint(context.Background(), asset, holder, d(amount)))
}

func (f *fixture) balance(t *testing.T, asset models.AssetID, holder models.Identity) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), asset, holder)
	require.NoError(t, err)
	return b.IntPart()
}

func (f *fixture) list(t *testing.T, price, quantity int64) uint64 {
	t.Helper()
	id, err := f.svc.CreateListing(context.Background(), auth.As(seller), seller, nft, d(price), d(quantity))
	require.NoError(t, err)
	return id
}

func (f *fixture) assertLastAuth(t *testing.T, who models.Identity, op models.Operation, args ...any) {
	t.Helper()
	last, ok := f.auths.Last()
	require.True(t, ok, "no authorization recorded")
	assert.Equal(t, who, last.Identity)
	want := auth.NewInvocation(marketAddr, op, args...)
	assert.True(t, want.Equal(last.Invocation), "authorized %s, want %s", last.Invocation, want)
}

func (f *fixture) assertLastEvent(t *testing.T, op models.Operation, actor models.Identity, id uint64) {
	t.Helper()
	ev, ok := f.sink.Last()
	require.True(t, ok, "no event published")
	gotOp, gotActor := ev.Topic()
	assert.Equal(t, op, gotOp)
	assert.Equal(t, actor, gotActor)
	assert.Equal(t, id, ev.ListingID)
}

func TestInitializeTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Initialize(ctx, "addr", "addr"))

	err := f.svc.Initialize(ctx, "addr", "addr")
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
	assert.Equal(t, 1, CodeOf(err))
	assert.Zero(t, f.sink.Len(), "initialize emits no event")

	cfg, err := f.svc.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.AssetID("addr"), cfg.PaymentAsset)
	assert.True(t, cfg.Initialized)
}

func TestCreateListing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)

	id, err := f.svc.CreateListing(ctx, auth.As(seller), seller, nft, d(100), d(2))
	require.NoError(t, err)

	f.assertLastAuth(t, seller, models.OpCreateListing, seller, nft, d(100), d(2))

	l, ok, err := f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), l.ID)
	assert.True(t, l.Listed)
	assert.Equal(t, seller, l.Owner)
	assert.Equal(t, nft, l.Asset)
	assert.True(t, l.Price.Equal(d(100)))
	assert.True(t, l.Quantity.Equal(d(2)))

	assert.Equal(t, int64(2), f.balance(t, nft, marketAddr))
	assert.Equal(t, int64(0), f.balance(t, nft, seller))

	f.assertLastEvent(t, models.OpCreateListing, seller, 1)
}

func TestCreateListingIncrementsID(t *testing.T) {
	f := setup(t)
	f.mint(t, nft, seller, 6)

	assert.Equal(t, uint64(1), f.list(t, 100, 2))
	assert.Equal(t, uint64(2), f.list(t, 100, 2))

	// ids are never reused after removal
	require.NoError(t, f.svc.RemoveListing(context.Background(), auth.As(seller), 2))
	assert.Equal(t, uint64(3), f.list(t, 100, 2))
}

func TestCreateListingRejectsBadAmounts(t *testing.T) {
	cases := []struct {
		name     string
		price    decimal.Decimal
		quantity decimal.Decimal
		want     error
	}{
		{"negative price", d(-100), d(2), ErrInvalidPrice},
		{"zero price", d(0), d(2), ErrInvalidPrice},
		{"fractional price", decimal.RequireFromString("1.5"), d(2), ErrInvalidPrice},
		{"price over range", models.MaxAmount.Add(d(1)), d(2), ErrInvalidPrice},
		{"negative quantity", d(100), d(-1), ErrInvalidQuantity},
		{"zero quantity", d(100), d(0), ErrInvalidQuantity},
		{"bad price wins over bad quantity", d(0), d(0), ErrInvalidPrice},
		{"huge exponent price", decimal.RequireFromString("1e50000000"), d(2), ErrInvalidPrice},
		{"huge exponent quantity", d(100), decimal.RequireFromString("1e50000000"), ErrInvalidQuantity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := setup(t)
			f.mint(t, nft, seller, 2)

			start := time.Now()
			_, err := f.svc.CreateListing(context.Background(), auth.As(seller), seller, nft, tc.price, tc.quantity)
			assert.ErrorIs(t, err, tc.want)
			assert.Less(t, time.Since(start), time.Second)

			assert.Empty(t, f.auths.Auths(), "validation precedes authorization")
			assert.Equal(t, int64(2), f.balance(t, nft, seller))
			assert.Equal(t, int64(0), f.balance(t, nft, marketAddr))
			assert.Zero(t, f.sink.Len())
			assert.Equal(t, uint64(1), f.list(t, 100, 2), "counter was not advanced")
		})
	}
}

func TestCreateListingWithoutBalance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.CreateListing(ctx, auth.As(seller), seller, nft, d(100), d(2))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
	assert.Equal(t, CodeInsufficientBalance, CodeOf(err))

	_, ok, err := f.svc.GetListing(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, f.sink.Len())

	f.mint(t, nft, seller, 2)
	assert.Equal(t, uint64(1), f.list(t, 100, 2))
}

func TestBuyListing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	id := f.list(t, 100, 2)
	f.mint(t, token, buyer, 200)

	require.NoError(t, f.svc.BuyListing(ctx, auth.As(buyer), buyer, id))

	f.assertLastAuth(t, buyer, models.OpBuyListing, buyer, id)

	assert.Equal(t, int64(0), f.balance(t, nft, marketAddr))
	assert.Equal(t, int64(0), f.balance(t, nft, seller))
	assert.Equal(t, int64(2), f.balance(t, nft, buyer))
	assert.Equal(t, int64(200), f.balance(t, token, seller))
	assert.Equal(t, int64(0), f.balance(t, token, buyer))

	f.assertLastEvent(t, models.OpBuyListing, buyer, id)

	_, ok, err := f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	err = f.svc.BuyListing(ctx, auth.As(buyer), buyer, id)
	assert.ErrorIs(t, err, ErrListingNotFound)
}

func TestBuyListingWithoutEnoughBalance(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	id := f.list(t, 100, 2)
	f.mint(t, token, buyer, 199)
	published := f.sink.Len()

	err := f.svc.BuyListing(ctx, auth.As(buyer), buyer, id)
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, int64(199), f.balance(t, token, buyer))
	assert.Equal(t, int64(0), f.balance(t, token, seller))
	assert.Equal(t, int64(2), f.balance(t, nft, marketAddr))
	assert.Equal(t, int64(0), f.balance(t, nft, buyer))
	assert.Equal(t, published, f.sink.Len())

	l, ok, err := f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, l.Listed)
	assert.True(t, l.Quantity.Equal(d(2)))
}

func TestCannotBuyPausedListing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	f.mint(t, token, buyer, 400)
	id := f.list(t, 100, 2)

	require.NoError(t, f.svc.PauseListing(ctx, auth.As(seller), id))
	err := f.svc.BuyListing(ctx, auth.As(buyer), buyer, id)
	assert.ErrorIs(t, err, ErrNotListed)
	assert.Equal(t, 4, CodeOf(err))
	assert.Equal(t, int64(400), f.balance(t, token, buyer))

	require.NoError(t, f.svc.UnpauseListing(ctx, auth.As(seller), id))
	require.NoError(t, f.svc.BuyListing(ctx, auth.As(buyer), buyer, id))
	assert.Equal(t, int64(200), f.balance(t, token, buyer))
	assert.Equal(t, int64(2), f.balance(t, nft, buyer))
}

func TestUpdatePrice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 10)
	id := f.list(t, 100, 2)

	require.NoError(t, f.svc.UpdatePrice(ctx, auth.As(seller), id, d(200)))
	f.assertLastAuth(t, seller, models.OpUpdatePrice, id, d(200))

	l, _, err := f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	assert.True(t, l.Price.Equal(d(200)))

	f.assertLastEvent(t, models.OpUpdatePrice, seller, id)
}

func TestUpdatePriceRejectsInvalid(t *testing.T) {
	for _, price := range []decimal.Decimal{d(-100), d(0), decimal.RequireFromString("1e50000000")} {
		f := setup(t)
		ctx := context.Background()
		f.mint(t, nft, seller, 2)
		id := f.list(t, 100, 2)

		start := time.Now()
		err := f.svc.UpdatePrice(ctx, auth.As(seller), id, price)
		assert.Less(t, time.Since(start), time.Second, "price %s", models.FormatAmount(price))
		assert.ErrorIs(t, err, ErrInvalidPrice)
		assert.Equal(t, 2, CodeOf(err))

		l, _, err := f.svc.GetListing(ctx, id)
		require.NoError(t, err)
		assert.True(t, l.Price.Equal(d(100)))
		f.assertLastEvent(t, models.OpCreateListing, seller, id)
	}
}

func TestPauseAndUnpauseListing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	id := f.list(t, 100, 2)

	require.NoError(t, f.svc.PauseListing(ctx, auth.As(seller), id))
	f.assertLastAuth(t, seller, models.OpPauseListing, id)
	f.assertLastEvent(t, models.OpPauseListing, seller, id)
	l, _, err := f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	assert.False(t, l.Listed)
	assert.Equal(t, int64(2), f.balance(t, nft, marketAddr), "pausing keeps escrow")

	require.NoError(t, f.svc.UnpauseListing(ctx, auth.As(seller), id))
	f.assertLastAuth(t, seller, models.OpUnpauseListing, id)
	f.assertLastEvent(t, models.OpUnpauseListing, seller, id)
	l, _, err = f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	assert.True(t, l.Listed)
}

func TestRemoveListing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	id := f.list(t, 100, 2)

	require.NoError(t, f.svc.RemoveListing(ctx, auth.As(seller), id))
	f.assertLastAuth(t, seller, models.OpRemoveListing, id)

	_, ok, err := f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(0), f.balance(t, nft, marketAddr))
	assert.Equal(t, int64(2), f.balance(t, nft, seller))

	f.assertLastEvent(t, models.OpRemoveListing, seller, id)
}

func TestOperationsRequireInitialization(t *testing.T) {
	ctx := context.Background()
	anyone := auth.As("someone")
	calls := map[string]func(s *Service) error{
		"create_listing": func(s *Service) error {
			_, err := s.CreateListing(ctx, anyone, "someone", "asset", d(1), d(1))
			return err
		},
		"buy_listing": func(s *Service) error { return s.BuyListing(ctx, anyone, "someone", 1) },
		"get_listing": func(s *Service) error {
			_, _, err := s.GetListing(ctx, 1)
			return err
		},
		"list_listings": func(s *Service) error {
			_, err := s.ListListings(ctx, models.ListingFilter{})
			return err
		},
		"config": func(s *Service) error {
			_, err := s.Config(ctx)
			return err
		},
		"pause_listing":   func(s *Service) error { return s.PauseListing(ctx, anyone, 1) },
		"unpause_listing": func(s *Service) error { return s.UnpauseListing(ctx, anyone, 1) },
		"update_price":    func(s *Service) error { return s.UpdatePrice(ctx, anyone, 1, d(1)) },
		"remove_listing":  func(s *Service) error { return s.RemoveListing(ctx, anyone, 1) },
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			err := call(f.svc)
			assert.ErrorIs(t, err, ErrNotInitialized)
			assert.Equal(t, 6, CodeOf(err))
			assert.Empty(t, f.auths.Auths())
		})
	}
}

func TestMissingListing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, ok, err := f.svc.GetListing(ctx, 42)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, err := range []error{
		f.svc.UpdatePrice(ctx, auth.As(seller), 42, d(1)),
		f.svc.PauseListing(ctx, auth.As(seller), 42),
		f.svc.UnpauseListing(ctx, auth.As(seller), 42),
		f.svc.RemoveListing(ctx, auth.As(seller), 42),
		f.svc.BuyListing(ctx, auth.As(buyer), buyer, 42),
	} {
		assert.ErrorIs(t, err, ErrListingNotFound)
		assert.NotErrorIs(t, err, ErrNotListed)
		assert.Equal(t, 5, CodeOf(err))
	}
}

func TestOwnerGatedOperationsRejectOtherIdentities(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	id := f.list(t, 100, 2)
	before := f.sink.Len()

	for _, err := range []error{
		f.svc.UpdatePrice(ctx, auth.As(buyer), id, d(1)),
		f.svc.PauseListing(ctx, auth.As(buyer), id),
		f.svc.RemoveListing(ctx, auth.As("admin"), id),
	} {
		assert.ErrorIs(t, err, auth.ErrUnauthorized)
		assert.Zero(t, CodeOf(err))
	}

	l, _, err := f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	assert.True(t, l.Listed)
	assert.True(t, l.Price.Equal(d(100)))
	assert.Equal(t, int64(2), f.balance(t, nft, marketAddr))
	assert.Equal(t, before, f.sink.Len())
}

func TestDeniedAuthorizationLeavesNoEffect(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	f.auths.Deny(seller)

	_, err := f.svc.CreateListing(ctx, auth.As(seller), seller, nft, d(100), d(2))
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Equal(t, int64(2), f.balance(t, nft, seller))
	assert.Equal(t, int64(0), f.balance(t, nft, marketAddr))

	listings, err := f.svc.ListListings(ctx, models.ListingFilter{})
	require.NoError(t, err)
	assert.Empty(t, listings)
}

func TestBuyerMustAuthorizeAsBuyer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	f.mint(t, token, "mallory", 200)
	id := f.list(t, 100, 2)

	// buyer's authorization cannot spend mallory's balance
	err := f.svc.BuyListing(ctx, auth.As(buyer), "mallory", id)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
	assert.Equal(t, int64(200), f.balance(t, token, "mallory"))
}

func TestStoreCommitFailureRestoresBalances(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	id := f.list(t, 100, 2)
	f.mint(t, token, buyer, 200)
	before := f.sink.Len()

	f.store.fail = true
	err := f.svc.BuyListing(ctx, auth.As(buyer), buyer, id)
	require.Error(t, err)
	assert.Zero(t, CodeOf(err))

	assert.Equal(t, int64(200), f.balance(t, token, buyer))
	assert.Equal(t, int64(0), f.balance(t, token, seller))
	assert.Equal(t, int64(2), f.balance(t, nft, marketAddr))
	assert.Equal(t, int64(0), f.balance(t, nft, buyer))
	assert.Equal(t, before, f.sink.Len())

	f.store.fail = false
	l, ok, err := f.svc.GetListing(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, l.Listed)
}

func TestPurchaseTotalOverflow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	id, err := f.svc.CreateListing(ctx, auth.As(seller), seller, nft, models.MaxAmount, d(2))
	require.NoError(t, err)
	f.mint(t, token, buyer, 1)

	err = f.svc.BuyListing(ctx, auth.As(buyer), buyer, id)
	assert.ErrorIs(t, err, ErrAmountOverflow)
	assert.Equal(t, 8, CodeOf(err))
	assert.Equal(t, int64(2), f.balance(t, nft, marketAddr))
}

func TestListListings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 10)
	f.mint(t, "other", buyer, 1)
	for i := 0; i < 3; i++ {
		f.list(t, 100, 2)
	}
	_, err := f.svc.CreateListing(ctx, auth.As(buyer), buyer, "other", d(5), d(1))
	require.NoError(t, err)
	require.NoError(t, f.svc.PauseListing(ctx, auth.As(seller), 2))

	all, err := f.svc.ListListings(ctx, models.ListingFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i, l := range all {
		assert.Equal(t, uint64(i+1), l.ID)
	}

	listed, err := f.svc.ListListings(ctx, models.ListingFilter{Owner: seller, ListedOnly: true})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, uint64(1), listed[0].ID)
	assert.Equal(t, uint64(3), listed[1].ID)

	page, err := f.svc.ListListings(ctx, models.ListingFilter{AfterID: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, uint64(2), page[0].ID)
	assert.Equal(t, uint64(3), page[1].ID)
}

func TestEventsAreSequenced(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.mint(t, nft, seller, 2)
	id := f.list(t, 100, 2)
	require.NoError(t, f.svc.PauseListing(ctx, auth.As(seller), id))
	require.NoError(t, f.svc.RemoveListing(ctx, auth.As(seller), id))

	all := f.sink.All()
	require.Len(t, all, 3)
	for i, ev := range all {
		assert.Equal(t, uint64(i+1), ev.Sequence)
		assert.Equal(t, time.Unix(1700000000, 0), ev.At)
	}
}

type failingSink struct{}

func (failingSink) Publish(context.Context, models.Event) error { return errors.New("sink down") }

func TestSinkFailureDoesNotUndoCommit(t *testing.T) {
	f := setup(t)
	f.svc.sink = failingSink{}
	f.mint(t, nft, seller, 2)

	id := f.list(t, 100, 2)
	_, ok, err := f.svc.GetListing(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestJWTAuthorizedListing(t *testing.T) {
	ctx := context.Background()
	secret := []byte("secret")
	issuer := auth.NewJWTIssuer(secret, "lotmarket", time.Minute)
	l := ledger.NewMemoryLedger()
	svc, err := NewService(Options{
		Address:  marketAddr,
		Store:    storage.NewMemoryStore(),
		Ledger:   l,
		Verifier: auth.NewJWTVerifier(secret, "lotmarket", nil),
	})
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(ctx, token, "admin"))
	require.NoError(t, l.Mint(ctx, nft, seller, d(2)))

	inv := auth.NewInvocation(marketAddr, models.OpCreateListing, seller, nft, d(100), d(2))
	proof, err := issuer.Issue(seller, inv)
	require.NoError(t, err)
	authz := auth.Authorization{Identity: seller, Proof: proof}

	// a proof for price 100 cannot create a listing at price 1
	_, err = svc.CreateListing(ctx, authz, seller, nft, d(1), d(2))
	assert.ErrorIs(t, err, auth.ErrInvalidProof)

	id, err := svc.CreateListing(ctx, authz, seller, nft, d(100), d(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	_, err = svc.CreateListing(ctx, authz, seller, nft, d(100), d(2))
	assert.ErrorIs(t, err, auth.ErrReplayed)
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
	_, err = NewService(Options{Address: marketAddr, Store: storage.NewMemoryStore()})
	assert.Error(t, err)
}
