package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/alejandrodnm/cdpusd/internal/adapters/access"
	"github.com/alejandrodnm/cdpusd/internal/adapters/pricefeed"
	"github.com/alejandrodnm/cdpusd/internal/adapters/router"
	"github.com/alejandrodnm/cdpusd/internal/adapters/storage"
	"github.com/alejandrodnm/cdpusd/internal/adapters/token"
	"github.com/alejandrodnm/cdpusd/internal/application/engine"
	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/alejandrodnm/cdpusd/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

var (
	admin      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	user       = common.HexToAddress("0x0000000000000000000000000000000000000002")
	keeper     = common.HexToAddress("0x0000000000000000000000000000000000000003")
	engineAddr = common.HexToAddress("0x00000000000000000000000000000000000000e0")
	venueAddr  = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	memeToken  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	cusdToken  = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

// units devuelve n tokens enteros con 18 decimales.
func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

// usd parsea un precio legible a la escala de 8 decimales del feed.
func usd(t *testing.T, s string) *uint256.Int {
	t.Helper()
	p, err := domain.ParseUnits(s, 8)
	require.NoError(t, err)
	return p
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Publish(_ context.Context, ev domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	reg    *access.Registry
	meme   *token.Ledger
	cusd   *token.Ledger
	issuer *token.Issuer
	feed   *pricefeed.Managed
	store  *storage.MemoryStore
	sink   *recordingSink
	deps   engine.Deps
	engine *engine.Engine
}

type option func(*fixtureOpts)

type fixtureOpts struct {
	quoter    router.Quoter
	store     ports.PositionStore
	noPrice   bool
	noApprove bool
	closeFee  *uint64
}

func withQuoter(q router.Quoter) option { return func(o *fixtureOpts) { o.quoter = q } }
func withStore(s ports.PositionStore) option { return func(o *fixtureOpts) { o.store = s } }
func withoutPrice() option { return func(o *fixtureOpts) { o.noPrice = true } }
func withCloseFee(bps uint64) option {
	return func(o *fixtureOpts) { o.closeFee = engine.FeeBps(bps) }
}
func withoutUserApproval() option { return func(o *fixtureOpts) { o.noApprove = true } }

// newFixture monta el engine sobre los adapters en proceso: MEME y cUSD con
// 18 decimales, feed MEME/USD de 8 decimales a $1 y un venue que paga 2 cUSD
// por swap.
func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	ctx := context.Background()
	o := fixtureOpts{quoter: router.FixedOutput{Amount: units(2)}}
	for _, fn := range opts {
		fn(&o)
	}

	reg := access.NewRegistry()
	reg.Grant(domain.RoleMintTreasury, admin)
	reg.Grant(domain.RolePublishPrice, admin)
	reg.Grant(domain.RoleRebalance, keeper)

	meme := token.NewLedger(token.Metadata{Name: "Meme Token", Symbol: "MEME", Decimals: 18}, reg)
	cusd := token.NewLedger(token.Metadata{Name: "CDP USD", Symbol: "cUSD", Decimals: 18}, nil)
	require.NoError(t, meme.Mint(ctx, admin, admin, units(1_000_000)))
	require.NoError(t, meme.Mint(ctx, admin, user, units(50_000)))

	feed := pricefeed.NewManaged("MEME / USD", 8, reg)
	if !o.noPrice {
		_, err := feed.Publish(ctx, admin, usd(t, "1"))
		require.NoError(t, err)
	}

	venue := router.New(router.Config{Address: venueAddr, CollateralToken: memeToken, PeggedToken: cusdToken}, meme, cusd, o.quoter)
	unlimited := new(uint256.Int).SetAllOne()
	require.NoError(t, meme.Approve(ctx, engineAddr, venueAddr, unlimited))
	if !o.noApprove {
		require.NoError(t, meme.Approve(ctx, user, engineAddr, unlimited))
	}

	mem := storage.NewMemoryStore()
	var store ports.PositionStore = mem
	if o.store != nil {
		store = o.store
	}
	sink := &recordingSink{}
	issuer := token.NewIssuer(cusd)

	deps := engine.Deps{
		Store:      store,
		Collateral: token.NewCustody(meme, engineAddr),
		Pegged:     issuer,
		Oracle:     feed,
		Router:     venue,
		Access:     reg,
		Sinks:      []ports.EventSink{sink},
	}
	e, err := engine.New(engine.Config{Address: engineAddr, CloseFeeBps: o.closeFee}, deps)
	require.NoError(t, err)

	return &fixture{reg: reg, meme: meme, cusd: cusd, issuer: issuer, feed: feed, store: mem, sink: sink, deps: deps, engine: e}
}

func (f *fixture) position(t *testing.T, a common.Address) domain.Position {
	t.Helper()
	pos, err := f.engine.GetPosition(context.Background(), a)
	require.NoError(t, err)
	return pos
}

func balanceOf(t *testing.T, l *token.Ledger, a common.Address) *uint256.Int {
	t.Helper()
	b, err := l.BalanceOf(context.Background(), a)
	require.NoError(t, err)
	return b
}

func (f *fixture) setPrice(t *testing.T, s string) {
	t.Helper()
	_, err := f.feed.Publish(context.Background(), admin, usd(t, s))
	require.NoError(t, err)
}

func (f *fixture) deposit(t *testing.T, a common.Address, amount *uint256.Int) {
	t.Helper()
	_, err := f.engine.Deposit(context.Background(), a, amount)
	require.NoError(t, err)
}

func (f *fixture) mint(t *testing.T, a common.Address, amount *uint256.Int) {
	t.Helper()
	_, err := f.engine.Mint(context.Background(), a, amount)
	require.NoError(t, err)
}
