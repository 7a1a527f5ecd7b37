package pricefeed_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/adapters/access"
	"github.com/alejandrodnm/cdpusd/internal/adapters/pricefeed"
	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	updater  = common.HexToAddress("0x0000000000000000000000000000000000000010")
	outsider = common.HexToAddress("0x0000000000000000000000000000000000000011")
	t0       = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newFeed(t *testing.T) *pricefeed.Managed {
	t.Helper()
	reg := access.NewRegistry()
	reg.Grant(domain.RolePublishPrice, updater)
	return pricefeed.NewManaged("MEME / USD", 8, reg, pricefeed.WithClock(func() time.Time { return t0 }))
}

func TestManaged_Metadata(t *testing.T) {
	f := newFeed(t)
	dec, err := f.Decimals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(8), dec)
	assert.Equal(t, "MEME / USD", f.Description())
	assert.Equal(t, uint64(1), f.Version())
}

func TestManaged_NoDataBeforePublish(t *testing.T) {
	_, err := newFeed(t).LatestRound(context.Background())
	require.ErrorIs(t, err, domain.ErrNoData)
}

func TestManaged_PublishIncrementsRounds(t *testing.T) {
	ctx := context.Background()
	f := newFeed(t)

	r1, err := f.Publish(ctx, updater, uint256.NewInt(100_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r1.RoundID)
	assert.Equal(t, t0, r1.UpdatedAt)

	_, err = f.Publish(ctx, updater, uint256.NewInt(110_000_000))
	require.NoError(t, err)

	latest, err := f.LatestRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), latest.RoundID)
	assert.Equal(t, uint256.NewInt(110_000_000), latest.Price)
}

func TestManaged_RejectsOutsiderAndZeroPrice(t *testing.T) {
	ctx := context.Background()
	f := newFeed(t)

	_, err := f.Publish(ctx, outsider, uint256.NewInt(1))
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = f.Publish(ctx, updater, new(uint256.Int))
	require.ErrorIs(t, err, domain.ErrInvalidPrice)

	_, err = f.LatestRound(ctx)
	assert.ErrorIs(t, err, domain.ErrNoData)
}

func TestStalenessGuard(t *testing.T) {
	ctx := context.Background()
	f := newFeed(t)
	_, err := f.Publish(ctx, updater, uint256.NewInt(100_000_000))
	require.NoError(t, err)

	g := pricefeed.NewStalenessGuard(f, time.Hour)
	g.Now = func() time.Time { return t0.Add(30 * time.Minute) }
	r, err := g.LatestRound(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.RoundID)

	g.Now = func() time.Time { return t0.Add(2 * time.Hour) }
	_, err = g.LatestRound(ctx)
	require.ErrorIs(t, err, domain.ErrStalePrice)

	g.MaxAge = 0
	_, err = g.LatestRound(ctx)
	assert.NoError(t, err)
}

func TestStalenessGuard_PassesThroughNoData(t *testing.T) {
	g := pricefeed.NewStalenessGuard(newFeed(t), time.Minute)
	_, err := g.LatestRound(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoData)
}
