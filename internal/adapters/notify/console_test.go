package notify_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/adapters/notify"
	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func units(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func makeReport() domain.KeeperReport {
	ev := domain.NewEvent(domain.EventPositionRebalanced, common.HexToAddress("0x2"))
	ev.CollateralSpent = units(10)
	ev.DebtRepaid = units(2)

	return domain.KeeperReport{
		StartedAt: time.Now(),
		Duration:  120 * time.Millisecond,
		Threshold: uint256.NewInt(domain.DefaultLiquidationRatio),
		Entries: []domain.KeeperEntry{
			{
				Account:    common.HexToAddress("0x1"),
				Collateral: units(10_000),
				Debt:       units(500),
				Ratio:      uint256.NewInt(200_000),
				Action:     domain.KeeperHealthy,
			},
			{
				Account:    common.HexToAddress("0x2"),
				Collateral: units(1_000),
				Debt:       units(100),
				Ratio:      uint256.NewInt(20_000),
				Action:     domain.KeeperRebalanced,
				Event:      &ev,
			},
			{
				Account: common.HexToAddress("0x3"),
				Action:  domain.KeeperFailed,
				Err:     errors.New("oracle unavailable"),
			},
		},
	}
}

func TestConsole_Notify_Table(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true)

	require.NoError(t, n.Notify(context.Background(), makeReport()))

	out := buf.String()
	assert.Contains(t, out, "threshold 300.00%")
	assert.Contains(t, out, "2000.00%")
	assert.Contains(t, out, "200.00%")
	assert.Contains(t, out, "10000")
	assert.Contains(t, out, "spent 10, repaid 2")
	assert.Contains(t, out, "oracle unavailable")
}

func TestConsole_Notify_Compact(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, n.Notify(context.Background(), makeReport()))

	out := buf.String()
	assert.Contains(t, out, "3 pos → rebal:1 ok:1 skip:0 fail:1")
	assert.Contains(t, out, "-10 col -2 debt")
	assert.Contains(t, out, "FAIL")
}

func TestConsole_Notify_EmptyReport(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false)

	require.NoError(t, n.Notify(context.Background(), domain.KeeperReport{StartedAt: time.Now()}))
	assert.Contains(t, buf.String(), "no positions to watch")
}
