package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del daemon.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Oracle  OracleConfig  `yaml:"oracle"`
	Router  RouterConfig  `yaml:"router"`
	Keeper  KeeperConfig  `yaml:"keeper"`
	HTTP    HTTPConfig    `yaml:"http"`
	Storage StorageConfig `yaml:"storage"`
	Local   LocalConfig   `yaml:"local"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig fija la cuenta de custodia y los parámetros de riesgo.
type EngineConfig struct {
	Address      string  `yaml:"address"`        // cuenta que custodia el colateral
	MinMintRatio uint64  `yaml:"min_mint_ratio"` // 100000 = 1000%
	CloseFeeBps  *uint64 `yaml:"close_fee_bps"`  // 500 = 5%; 0 explícito = sin fee
}

// OracleConfig elige el feed de precio: "managed" (push local) u "onchain"
// (AggregatorV3 vía RPC).
type OracleConfig struct {
	Mode          string `yaml:"mode"`
	Description   string `yaml:"description"`
	Decimals      uint8  `yaml:"decimals"`
	InitialPrice  string `yaml:"initial_price"` // solo managed; "" = sin ronda inicial
	RPCURL        string `yaml:"rpc_url"`
	FeedAddress   string `yaml:"feed_address"`
	MaxAgeSeconds int    `yaml:"max_age_seconds"` // 0 = sin control de frescura
}

// RouterConfig describe el venue de swap en proceso.
type RouterConfig struct {
	Address string `yaml:"address"`
	// Quote: "oracle" (precio del feed menos FeeBps) o "fixed" (FixedOutput por swap).
	Quote       string `yaml:"quote"`
	FeeBps      uint64 `yaml:"fee_bps"`
	FixedOutput string `yaml:"fixed_output"`
}

// KeeperConfig es la política del keeper.
type KeeperConfig struct {
	Address         string   `yaml:"address"`
	PrivateKey      string   `yaml:"-"` // solo por env: KEEPER_PRIVATE_KEY
	IntervalSeconds int      `yaml:"interval_seconds"`
	ThresholdRatio  uint64   `yaml:"threshold_ratio"`   // 30000 = 300%
	MaxCollateralIn string   `yaml:"max_collateral_in"` // unidades legibles
	MinPeggedOut    string   `yaml:"min_pegged_out"`
	Accounts        []string `yaml:"accounts"` // vacío = todas las posiciones abiertas
	RatePerSecond   float64  `yaml:"rate_per_second"`
	Burst           int      `yaml:"burst"`
	Workers         int      `yaml:"workers"`
	Table           bool     `yaml:"table"` // informe en tabla en lugar de una línea
}

// HTTPConfig controla la API local. Addr vacío = sin servidor.
type HTTPConfig struct {
	Addr             string `yaml:"addr"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	VerifySignatures bool   `yaml:"verify_signatures"` // false: identidad por X-Caller, sólo loopback
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, ":memory:" o "memory" (sin SQL)
}

// LocalConfig describe el despliegue local: tokens, roles y fondos iniciales.
type LocalConfig struct {
	Admin            string    `yaml:"admin"`
	CollateralToken  string    `yaml:"collateral_token"`
	PeggedToken      string    `yaml:"pegged_token"`
	CollateralSupply string    `yaml:"collateral_supply"` // acuñado al admin al arrancar
	Decimals         uint8     `yaml:"decimals"`          // colateral y pegged
	Funding          []Funding `yaml:"funding"`
	Liquidity        Liquidity `yaml:"liquidity"`
}

// Funding reparte colateral del admin a una cuenta.
type Funding struct {
	Account string `yaml:"account"`
	Amount  string `yaml:"amount"`
}

// Liquidity siembra el venue: el admin deposita, acuña cUSD y transfiere
// parte al router junto con colateral.
type Liquidity struct {
	Deposit    string `yaml:"deposit"`
	Mint       string `yaml:"mint"`
	Pegged     string `yaml:"pegged"`
	Collateral string `yaml:"collateral"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // vacío = stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse aplica overrides y defaults sobre un YAML ya leído y lo valida.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Parse: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// KeeperInterval devuelve el intervalo del keeper como time.Duration.
func (c *Config) KeeperInterval() time.Duration {
	return time.Duration(c.Keeper.IntervalSeconds) * time.Second
}

// OracleMaxAge devuelve la antigüedad máxima aceptada (0 = desactivado).
func (c *Config) OracleMaxAge() time.Duration {
	return time.Duration(c.Oracle.MaxAgeSeconds) * time.Second
}

// HTTPTimeout devuelve el timeout por request de la API.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// Validate comprueba modos y direcciones. Los importes se parsean al montar
// el despliegue, donde se conocen los decimales.
func (c *Config) Validate() error {
	var errs []error
	switch c.Oracle.Mode {
	case "managed":
	case "onchain":
		if c.Oracle.RPCURL == "" {
			errs = append(errs, errors.New("oracle.rpc_url is required in onchain mode"))
		}
		if !common.IsHexAddress(c.Oracle.FeedAddress) {
			errs = append(errs, fmt.Errorf("oracle.feed_address %q is not an address", c.Oracle.FeedAddress))
		}
	default:
		errs = append(errs, fmt.Errorf("oracle.mode %q: want managed|onchain", c.Oracle.Mode))
	}
	switch c.Router.Quote {
	case "oracle", "fixed":
	default:
		errs = append(errs, fmt.Errorf("router.quote %q: want oracle|fixed", c.Router.Quote))
	}
	if c.Engine.CloseFeeBps != nil && *c.Engine.CloseFeeBps > 10_000 {
		errs = append(errs, fmt.Errorf("engine.close_fee_bps %d above 10000", *c.Engine.CloseFeeBps))
	}

	addrs := map[string]string{
		"engine.address":         c.Engine.Address,
		"router.address":         c.Router.Address,
		"local.admin":            c.Local.Admin,
		"local.collateral_token": c.Local.CollateralToken,
		"local.pegged_token":     c.Local.PeggedToken,
	}
	if c.Keeper.PrivateKey == "" {
		addrs["keeper.address"] = c.Keeper.Address
	}
	for field, v := range addrs {
		if !common.IsHexAddress(v) {
			errs = append(errs, fmt.Errorf("%s %q is not an address", field, v))
		}
	}
	for i, a := range c.Keeper.Accounts {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Errorf("keeper.accounts[%d] %q is not an address", i, a))
		}
	}
	for i, f := range c.Local.Funding {
		if !common.IsHexAddress(f.Account) {
			errs = append(errs, fmt.Errorf("local.funding[%d] %q is not an address", i, f.Account))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config.Validate: %w", err)
	}
	return nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("KEEPER_PRIVATE_KEY"); v != "" {
		cfg.Keeper.PrivateKey = strings.TrimSpace(v)
	}
	if v := os.Getenv("ORACLE_RPC_URL"); v != "" {
		cfg.Oracle.RPCURL = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.Address == "" {
		cfg.Engine.Address = "0x00000000000000000000000000000000000000E0"
	}
	if cfg.Engine.MinMintRatio == 0 {
		cfg.Engine.MinMintRatio = 100_000 // 1000%
	}
	if cfg.Engine.CloseFeeBps == nil {
		fee := uint64(500)
		cfg.Engine.CloseFeeBps = &fee
	}

	if cfg.Oracle.Mode == "" {
		cfg.Oracle.Mode = "managed"
	}
	if cfg.Oracle.Description == "" {
		cfg.Oracle.Description = "MEME / USD"
	}
	if cfg.Oracle.Decimals == 0 {
		cfg.Oracle.Decimals = 8
	}

	if cfg.Router.Address == "" {
		cfg.Router.Address = "0x00000000000000000000000000000000000000F0"
	}
	if cfg.Router.Quote == "" {
		cfg.Router.Quote = "oracle"
	}

	if cfg.Keeper.IntervalSeconds <= 0 {
		cfg.Keeper.IntervalSeconds = 60
	}
	if cfg.Keeper.ThresholdRatio == 0 {
		cfg.Keeper.ThresholdRatio = 30_000 // 300%
	}
	if cfg.Keeper.MaxCollateralIn == "" {
		cfg.Keeper.MaxCollateralIn = "1000"
	}
	if cfg.Keeper.MinPeggedOut == "" {
		cfg.Keeper.MinPeggedOut = "0"
	}

	if cfg.HTTP.TimeoutSeconds <= 0 {
		cfg.HTTP.TimeoutSeconds = 10
	}

	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "cdpusd.db"
	}

	if cfg.Local.Decimals == 0 {
		cfg.Local.Decimals = 18
	}
	if cfg.Local.CollateralToken == "" {
		cfg.Local.CollateralToken = "0x00000000000000000000000000000000000000A1"
	}
	if cfg.Local.PeggedToken == "" {
		cfg.Local.PeggedToken = "0x00000000000000000000000000000000000000A2"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 50
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 3
	}
}
