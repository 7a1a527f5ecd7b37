package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/cdpusd/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
keeper:
  address: "0x0000000000000000000000000000000000000003"
local:
  admin: "0x0000000000000000000000000000000000000001"
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, uint64(100_000), cfg.Engine.MinMintRatio)
	require.NotNil(t, cfg.Engine.CloseFeeBps)
	assert.Equal(t, uint64(500), *cfg.Engine.CloseFeeBps)
	assert.Equal(t, "managed", cfg.Oracle.Mode)
	assert.Equal(t, uint8(8), cfg.Oracle.Decimals)
	assert.Equal(t, "oracle", cfg.Router.Quote)
	assert.Equal(t, uint64(30_000), cfg.Keeper.ThresholdRatio)
	assert.Equal(t, "1000", cfg.Keeper.MaxCollateralIn)
	assert.Equal(t, time.Minute, cfg.KeeperInterval())
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout())
	assert.Zero(t, cfg.OracleMaxAge())
	assert.Equal(t, "cdpusd.db", cfg.Storage.DSN)
	assert.Equal(t, uint8(18), cfg.Local.Decimals)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParse_ZeroCloseFeeIsKept(t *testing.T) {
	cfg, err := config.Parse([]byte(minimal + "engine:\n  close_fee_bps: 0\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Engine.CloseFeeBps)
	assert.Zero(t, *cfg.Engine.CloseFeeBps)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("STORAGE_DSN", ":memory:")
	t.Setenv("ORACLE_RPC_URL", "http://localhost:8545")
	t.Setenv("KEEPER_PRIVATE_KEY", "0xabc")

	// con clave privada keeper.address deja de ser obligatorio
	cfg, err := config.Parse([]byte(`
oracle:
  mode: onchain
  feed_address: "0x0000000000000000000000000000000000000aaa"
local:
  admin: "0x0000000000000000000000000000000000000001"
`))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, ":memory:", cfg.Storage.DSN)
	assert.Equal(t, "http://localhost:8545", cfg.Oracle.RPCURL)
	assert.Equal(t, "0xabc", cfg.Keeper.PrivateKey)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad yaml", "engine: [", "parse YAML"},
		{"missing admin", "keeper:\n  address: \"0x0000000000000000000000000000000000000003\"\n", "local.admin"},
		{"bad oracle mode", minimal + "oracle:\n  mode: pull\n", "oracle.mode"},
		{"onchain without rpc", minimal + "oracle:\n  mode: onchain\n  feed_address: \"0x0000000000000000000000000000000000000aaa\"\n", "rpc_url"},
		{"bad quote", minimal + "router:\n  quote: amm\n", "router.quote"},
		{"fee above 100%", minimal + "engine:\n  close_fee_bps: 10001\n", "close_fee_bps"},
		{"bad monitored account", "keeper:\n  address: \"0x0000000000000000000000000000000000000003\"\n  accounts: [\"nope\"]\n" +
			"local:\n  admin: \"0x0000000000000000000000000000000000000001\"\n", "keeper.accounts[0]"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0x0000000000000000000000000000000000000001", cfg.Local.Admin)

	_, err = config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
