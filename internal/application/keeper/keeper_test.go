package keeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alejandrodnm/cdpusd/internal/adapters/storage"
	"github.com/alejandrodnm/cdpusd/internal/application/keeper"
	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	keeperAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	healthy    = common.HexToAddress("0x0000000000000000000000000000000000000101")
	distressed = common.HexToAddress("0x0000000000000000000000000000000000000102")
	debtFree   = common.HexToAddress("0x0000000000000000000000000000000000000103")
	broken     = common.HexToAddress("0x0000000000000000000000000000000000000104")
)

// mockEngine devuelve posiciones y ratios fijos y registra los rebalances.
type mockEngine struct {
	mu         sync.Mutex
	positions  map[common.Address]domain.Position
	ratios     map[common.Address]uint64
	ratioErr   map[common.Address]error
	undefined  map[common.Address]bool
	rebalanced []domain.RebalanceRequest
	callers    []common.Address
}

func newMockEngine() *mockEngine {
	return &mockEngine{
		positions: make(map[common.Address]domain.Position),
		ratios:    make(map[common.Address]uint64),
		ratioErr:  make(map[common.Address]error),
		undefined: make(map[common.Address]bool),
	}
}

func (m *mockEngine) set(a common.Address, debt uint64, ratio uint64) {
	p := domain.NewPosition(a)
	p.Collateral = uint256.NewInt(1_000)
	p.Debt = uint256.NewInt(debt)
	m.positions[a] = p
	m.ratios[a] = ratio
}

func (m *mockEngine) GetPosition(_ context.Context, a common.Address) (domain.Position, error) {
	if p, ok := m.positions[a]; ok {
		return p.Clone(), nil
	}
	return domain.NewPosition(a), nil
}

func (m *mockEngine) CollateralRatio(_ context.Context, a common.Address) (*uint256.Int, bool, error) {
	if err := m.ratioErr[a]; err != nil {
		return nil, false, err
	}
	if !m.positions[a].HasDebt() || m.undefined[a] {
		return nil, false, nil
	}
	return uint256.NewInt(m.ratios[a]), true, nil
}

func (m *mockEngine) Rebalance(_ context.Context, caller common.Address, req domain.RebalanceRequest) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rebalanced = append(m.rebalanced, req)
	m.callers = append(m.callers, caller)
	ev := domain.NewEvent(domain.EventPositionRebalanced, req.Account)
	ev.CollateralSpent = req.MaxCollateralIn.Clone()
	ev.DebtRepaid = uint256.NewInt(2)
	return ev, nil
}

type captureNotifier struct {
	reports []domain.KeeperReport
}

func (c *captureNotifier) Notify(_ context.Context, r domain.KeeperReport) error {
	c.reports = append(c.reports, r)
	return nil
}

func baseConfig(accounts ...common.Address) keeper.Config {
	return keeper.Config{
		Keeper:          keeperAddr,
		Accounts:        accounts,
		MaxCollateralIn: uint256.NewInt(10),
		Route:           []common.Address{healthy, distressed},
		RatePerSecond:   1000,
		Burst:           10,
	}
}

func TestKeeper_RebalancesOnlyBelowThreshold(t *testing.T) {
	eng := newMockEngine()
	eng.set(healthy, 100, 30_000) // justo en el umbral: no se toca
	eng.set(distressed, 100, 20_000)
	eng.set(debtFree, 0, 0)
	eng.ratioErr[broken] = domain.ErrOracleUnavailable
	eng.set(broken, 100, 0)

	notifier := &captureNotifier{}
	k, err := keeper.New(baseConfig(healthy, distressed, debtFree, broken), eng, nil, notifier)
	require.NoError(t, err)

	report, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Entries, 4)

	assert.Equal(t, domain.KeeperHealthy, report.Entries[0].Action)
	assert.Equal(t, domain.KeeperRebalanced, report.Entries[1].Action)
	require.NotNil(t, report.Entries[1].Event)
	assert.Equal(t, uint256.NewInt(2), report.Entries[1].Event.DebtRepaid)
	assert.Equal(t, domain.KeeperSkipped, report.Entries[2].Action)
	assert.Equal(t, domain.KeeperFailed, report.Entries[3].Action)
	assert.True(t, errors.Is(report.Entries[3].Err, domain.ErrOracleUnavailable))

	require.Len(t, eng.rebalanced, 1)
	assert.Equal(t, distressed, eng.rebalanced[0].Account)
	assert.Equal(t, uint256.NewInt(10), eng.rebalanced[0].MaxCollateralIn)
	assert.True(t, eng.rebalanced[0].MinPeggedOut.IsZero())
	assert.Equal(t, keeperAddr, eng.callers[0])

	require.Len(t, notifier.reports, 1)
	assert.Equal(t, uint256.NewInt(domain.DefaultLiquidationRatio), notifier.reports[0].Threshold)
}

func TestKeeper_WatchesStoreWhenNoAccountsConfigured(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	eng := newMockEngine()
	for _, a := range []common.Address{healthy, distressed} {
		eng.set(a, 100, 10_000)
		require.NoError(t, store.Update(ctx, a, func(p *domain.Position) error {
			p.Collateral = uint256.NewInt(1)
			return nil
		}))
	}

	k, err := keeper.New(baseConfig(), eng, store)
	require.NoError(t, err)

	report, err := k.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(domain.KeeperRebalanced))
}

func TestKeeper_CancelledContextFailsRebalances(t *testing.T) {
	eng := newMockEngine()
	eng.set(distressed, 100, 1)
	cfg := baseConfig(distressed)
	cfg.RatePerSecond = 0.001
	cfg.Burst = 1

	k, err := keeper.New(cfg, eng, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := k.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.KeeperFailed, report.Entries[0].Action)
	assert.Empty(t, eng.rebalanced)
}

func TestNew_RequiresMaxCollateral(t *testing.T) {
	cfg := baseConfig(healthy)
	cfg.MaxCollateralIn = nil
	_, err := keeper.New(cfg, newMockEngine(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = keeper.New(baseConfig(), newMockEngine(), nil)
	assert.Error(t, err)
}

func TestKeeper_DebtClearedBetweenReadsIsSkipped(t *testing.T) {
	eng := newMockEngine()
	// GetPosition todavía ve deuda, pero el ratio ya no está definido
	eng.set(distressed, 100, 0)
	eng.undefined[distressed] = true

	k, err := keeper.New(baseConfig(distressed), eng, nil)
	require.NoError(t, err)

	report, err := k.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Entries, 1)
	assert.Equal(t, domain.KeeperSkipped, report.Entries[0].Action)
	assert.Nil(t, report.Entries[0].Ratio)
	assert.Empty(t, eng.rebalanced)
}
