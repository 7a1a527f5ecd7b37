package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alejandrodnm/cdpusd/config"
	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	user       = common.HexToAddress("0x0000000000000000000000000000000000000002")
	keeperAcct = common.HexToAddress("0x0000000000000000000000000000000000000003")
)

const localYAML = `
oracle:
  initial_price: "1"
router:
  quote: oracle
  fee_bps: 0
keeper:
  address: "0x0000000000000000000000000000000000000003"
  max_collateral_in: "10"
  rate_per_second: 100
storage:
  dsn: memory
local:
  admin: "0x0000000000000000000000000000000000000001"
  collateral_supply: "100000000"
  funding:
    - account: "0x0000000000000000000000000000000000000002"
      amount: "50000"
  liquidity:
    deposit: "10000"
    mint: "1000"
    pegged: "500"
    collateral: "1000"
`

func units(t *testing.T, s string) *uint256.Int {
	t.Helper()
	x, err := domain.ParseUnits(s, 18)
	require.NoError(t, err)
	return x
}

func newDeployment(t *testing.T) *deployment {
	t.Helper()
	t.Setenv("KEEPER_PRIVATE_KEY", "")
	t.Setenv("STORAGE_DSN", "")
	cfg, err := config.Parse([]byte(localYAML))
	require.NoError(t, err)

	d, err := deploy(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(d.Close)
	require.NoError(t, d.seed(context.Background()))
	return d
}

func balance(t *testing.T, d *deployment, pegged bool, a common.Address) *uint256.Int {
	t.Helper()
	l := d.collateral
	if pegged {
		l = d.pegged
	}
	b, err := l.BalanceOf(context.Background(), a)
	require.NoError(t, err)
	return b
}

func TestSeed_LocalDeployment(t *testing.T) {
	d := newDeployment(t)
	engineAddr := d.engine.Address()
	venue := d.venue.Address()

	assert.Equal(t, units(t, "100000000"), d.collateral.TotalSupply())
	assert.Equal(t, units(t, "99939000"), balance(t, d, false, admin))
	assert.Equal(t, units(t, "50000"), balance(t, d, false, user))
	assert.Equal(t, units(t, "10000"), balance(t, d, false, engineAddr))
	assert.Equal(t, units(t, "1000"), balance(t, d, false, venue))
	assert.Equal(t, units(t, "500"), balance(t, d, true, venue))
	assert.Equal(t, units(t, "500"), balance(t, d, true, admin))

	pos, err := d.engine.GetPosition(context.Background(), admin)
	require.NoError(t, err)
	assert.Equal(t, units(t, "10000"), pos.Collateral)
	assert.Equal(t, units(t, "1000"), pos.Debt)

	assert.True(t, d.registry.HasRole(domain.RoleRebalance, keeperAcct))
	assert.True(t, d.registry.HasRole(domain.RolePublishPrice, admin))
}

func TestKeeperCycle_RebalancesUnderwaterPositions(t *testing.T) {
	ctx := context.Background()
	d := newDeployment(t)

	_, err := d.engine.Deposit(ctx, user, units(t, "1000"))
	require.NoError(t, err)
	_, err = d.engine.Mint(ctx, user, units(t, "100"))
	require.NoError(t, err)

	price, err := domain.ParseUnits("0.2", 8)
	require.NoError(t, err)
	_, err = d.managed.Publish(ctx, admin, price)
	require.NoError(t, err)

	k, err := d.newKeeper(false)
	require.NoError(t, err)
	report, err := k.RunOnce(ctx)
	require.NoError(t, err)
	// admin (liquidez) y user quedan ambos al 200%
	assert.Equal(t, 2, report.Count(domain.KeeperRebalanced))

	pos, err := d.engine.GetPosition(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, units(t, "990"), pos.Collateral)
	assert.Equal(t, units(t, "98"), pos.Debt)
	assert.True(t, balance(t, d, true, d.engine.Address()).IsZero())
}

func TestHandler_ServesHealthAndMetrics(t *testing.T) {
	d := newDeployment(t)
	h, err := d.handler()
	require.NoError(t, err)
	ts := httptest.NewServer(h)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cdp_events_total{kind="CollateralDeposited"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestKeeperAddress(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	addr, err := keeperAddress(config.KeeperConfig{
		Address:    keeperAcct.Hex(),
		PrivateKey: common.Bytes2Hex(crypto.FromECDSA(key)),
	})
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), addr)

	addr, err = keeperAddress(config.KeeperConfig{Address: keeperAcct.Hex()})
	require.NoError(t, err)
	assert.Equal(t, keeperAcct, addr)

	_, err = keeperAddress(config.KeeperConfig{PrivateKey: "zz"})
	assert.Error(t, err)
}
