package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alejandrodnm/cdpusd/config"
	"github.com/alejandrodnm/cdpusd/internal/adapters/access"
	"github.com/alejandrodnm/cdpusd/internal/adapters/httpapi"
	"github.com/alejandrodnm/cdpusd/internal/adapters/metrics"
	"github.com/alejandrodnm/cdpusd/internal/adapters/notify"
	"github.com/alejandrodnm/cdpusd/internal/adapters/onchain"
	"github.com/alejandrodnm/cdpusd/internal/adapters/pricefeed"
	"github.com/alejandrodnm/cdpusd/internal/adapters/router"
	"github.com/alejandrodnm/cdpusd/internal/adapters/storage"
	"github.com/alejandrodnm/cdpusd/internal/adapters/token"
	"github.com/alejandrodnm/cdpusd/internal/application/engine"
	"github.com/alejandrodnm/cdpusd/internal/application/keeper"
	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/alejandrodnm/cdpusd/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// deployment es el despliegue local completo: tokens, oráculo, venue, ledger
// de posiciones, engine y métricas, todo en proceso.
type deployment struct {
	cfg *config.Config

	admin      common.Address
	keeperAddr common.Address
	registry   *access.Registry

	collateral *token.Ledger
	pegged     *token.Ledger
	feed       ports.PriceFeed
	managed    *pricefeed.Managed // nil en modo onchain
	venue      *router.Router

	store   ports.PositionStore
	events  ports.EventStore
	sqlite  *storage.SQLiteStorage // nil con dsn "memory"
	promReg *prometheus.Registry
	metrics *metrics.Collector
	engine  *engine.Engine

	closers []func()
}

// deploy monta el despliegue. No mueve fondos: eso lo hace seed.
func deploy(ctx context.Context, cfg *config.Config) (*deployment, error) {
	d := &deployment{
		cfg:      cfg,
		admin:    common.HexToAddress(cfg.Local.Admin),
		registry: access.NewRegistry(),
	}
	if err := d.build(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *deployment) build(ctx context.Context) (err error) {
	cfg := d.cfg
	if d.keeperAddr, err = keeperAddress(cfg.Keeper); err != nil {
		return err
	}

	dec := cfg.Local.Decimals
	d.collateral = token.NewLedger(token.Metadata{Name: "Meme Token", Symbol: "MEME", Decimals: dec}, d.registry)
	// sin authorizer: solo el engine (vía token.Issuer) cambia el supply de cUSD
	d.pegged = token.NewLedger(token.Metadata{Name: "CDP USD", Symbol: "cUSD", Decimals: dec}, nil)

	if err := d.openFeed(ctx); err != nil {
		return err
	}

	var quoter router.Quoter
	switch cfg.Router.Quote {
	case "fixed":
		out, err := domain.ParseUnits(cfg.Router.FixedOutput, dec)
		if err != nil {
			return fmt.Errorf("deploy: router.fixed_output: %w", err)
		}
		quoter = router.FixedOutput{Amount: out}
	default:
		quoter = router.OracleQuote{Feed: d.feed, CollateralDecimals: dec, PeggedDecimals: dec, FeeBps: cfg.Router.FeeBps}
	}
	d.venue = router.New(router.Config{
		Address:         common.HexToAddress(cfg.Router.Address),
		CollateralToken: common.HexToAddress(cfg.Local.CollateralToken),
		PeggedToken:     common.HexToAddress(cfg.Local.PeggedToken),
	}, d.collateral, d.pegged, quoter)

	if err := d.openStore(); err != nil {
		return err
	}

	d.promReg = prometheus.NewRegistry()
	d.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if d.metrics, err = metrics.NewCollector(d.promReg); err != nil {
		return fmt.Errorf("deploy: metrics: %w", err)
	}

	d.engine, err = engine.New(engine.Config{
		Address:      common.HexToAddress(cfg.Engine.Address),
		MinMintRatio: cfg.Engine.MinMintRatio,
		CloseFeeBps:  cfg.Engine.CloseFeeBps,
	}, engine.Deps{
		Store:      d.store,
		Collateral: token.NewCustody(d.collateral, common.HexToAddress(cfg.Engine.Address)),
		Pegged:     token.NewIssuer(d.pegged),
		Oracle:     d.feed,
		Router:     d.venue,
		Access:     d.registry,
		Sinks:      []ports.EventSink{d.events, d.metrics},
	})
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	return nil
}

func keeperAddress(cfg config.KeeperConfig) (common.Address, error) {
	if cfg.PrivateKey != "" {
		addr, err := onchain.AddressFromKey(cfg.PrivateKey)
		if err != nil {
			return common.Address{}, fmt.Errorf("deploy: keeper key: %w", err)
		}
		return addr, nil
	}
	return common.HexToAddress(cfg.Address), nil
}

func (d *deployment) openFeed(ctx context.Context) error {
	var feed ports.PriceFeed
	switch d.cfg.Oracle.Mode {
	case "onchain":
		fc, closeFn, err := onchain.DialFeed(ctx, d.cfg.Oracle.RPCURL, common.HexToAddress(d.cfg.Oracle.FeedAddress))
		if err != nil {
			return fmt.Errorf("deploy: %w", err)
		}
		d.closers = append(d.closers, closeFn)
		if desc, err := fc.Description(ctx); err == nil {
			slog.Info("deploy: on-chain feed", "description", desc, "address", d.cfg.Oracle.FeedAddress)
		}
		feed = fc
	default:
		d.managed = pricefeed.NewManaged(d.cfg.Oracle.Description, d.cfg.Oracle.Decimals, d.registry)
		feed = d.managed
	}
	if maxAge := d.cfg.OracleMaxAge(); maxAge > 0 {
		feed = pricefeed.NewStalenessGuard(feed, maxAge)
	}
	d.feed = feed
	return nil
}

func (d *deployment) openStore() error {
	if d.cfg.Storage.DSN == "memory" {
		mem := storage.NewMemoryStore()
		d.store, d.events = mem, mem
		return nil
	}
	s, err := storage.NewSQLiteStorage(d.cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("deploy: %w", err)
	}
	d.closers = append(d.closers, func() { s.Close() })
	d.sqlite = s
	d.store, d.events = s, s
	return nil
}

// seed reproduce el despliegue local: roles, supply inicial al admin, precio
// inicial, fondos para las cuentas y liquidez del router.
func (d *deployment) seed(ctx context.Context) error {
	cfg := d.cfg
	dec := cfg.Local.Decimals
	engineAddr := d.engine.Address()
	unlimited := new(uint256.Int).SetAllOne()

	d.registry.Grant(domain.RoleMintTreasury, d.admin)
	d.registry.Grant(domain.RolePublishPrice, d.admin)
	d.registry.Grant(domain.RoleRebalance, d.keeperAddr)

	if err := d.mintTo(ctx, d.admin, cfg.Local.CollateralSupply, "collateral_supply"); err != nil {
		return err
	}
	if err := d.restoreCustody(ctx); err != nil {
		return err
	}

	if d.managed != nil && cfg.Oracle.InitialPrice != "" {
		price, err := domain.ParseUnits(cfg.Oracle.InitialPrice, cfg.Oracle.Decimals)
		if err != nil {
			return fmt.Errorf("seed: oracle.initial_price: %w", err)
		}
		if _, err := d.managed.Publish(ctx, d.admin, price); err != nil {
			return fmt.Errorf("seed: publish initial price: %w", err)
		}
	}

	// el venue tira del colateral del engine en cada rebalance
	if err := d.collateral.Approve(ctx, engineAddr, d.venue.Address(), unlimited); err != nil {
		return fmt.Errorf("seed: approve venue: %w", err)
	}

	for _, f := range cfg.Local.Funding {
		acct := common.HexToAddress(f.Account)
		amount, err := domain.ParseUnits(f.Amount, dec)
		if err != nil {
			return fmt.Errorf("seed: funding %s: %w", acct.Hex(), err)
		}
		if err := d.collateral.Transfer(ctx, d.admin, acct, amount); err != nil {
			return fmt.Errorf("seed: fund %s: %w", acct.Hex(), err)
		}
		if err := d.collateral.Approve(ctx, acct, engineAddr, unlimited); err != nil {
			return fmt.Errorf("seed: approve engine for %s: %w", acct.Hex(), err)
		}
		slog.Info("seed: funded account", "account", acct.Hex(), "amount", f.Amount)
	}

	return d.seedLiquidity(ctx)
}

// seedLiquidity: el admin abre una posición, acuña cUSD y lo cede al router
// junto con colateral.
func (d *deployment) seedLiquidity(ctx context.Context) error {
	liq := d.cfg.Local.Liquidity
	if liq.Deposit == "" {
		return nil
	}
	dec := d.cfg.Local.Decimals
	amounts := make(map[string]*uint256.Int, 4)
	for name, s := range map[string]string{"deposit": liq.Deposit, "mint": liq.Mint, "pegged": liq.Pegged, "collateral": liq.Collateral} {
		if s == "" {
			s = "0"
		}
		x, err := domain.ParseUnits(s, dec)
		if err != nil {
			return fmt.Errorf("seed: liquidity.%s: %w", name, err)
		}
		amounts[name] = x
	}

	engineAddr := d.engine.Address()
	if err := d.collateral.Approve(ctx, d.admin, engineAddr, new(uint256.Int).SetAllOne()); err != nil {
		return fmt.Errorf("seed: approve engine for admin: %w", err)
	}
	if _, err := d.engine.Deposit(ctx, d.admin, amounts["deposit"]); err != nil {
		return fmt.Errorf("seed: liquidity deposit: %w", err)
	}
	if !amounts["mint"].IsZero() {
		if _, err := d.engine.Mint(ctx, d.admin, amounts["mint"]); err != nil {
			return fmt.Errorf("seed: liquidity mint: %w", err)
		}
	}
	if !amounts["pegged"].IsZero() {
		if err := d.pegged.Transfer(ctx, d.admin, d.venue.Address(), amounts["pegged"]); err != nil {
			return fmt.Errorf("seed: router pegged: %w", err)
		}
	}
	if !amounts["collateral"].IsZero() {
		if err := d.collateral.Transfer(ctx, d.admin, d.venue.Address(), amounts["collateral"]); err != nil {
			return fmt.Errorf("seed: router collateral: %w", err)
		}
	}
	slog.Info("seed: router liquidity",
		"pegged", liq.Pegged, "collateral", liq.Collateral, "venue", d.venue.Address().Hex())
	return nil
}

// restoreCustody respalda con colateral las posiciones que sobreviven en
// SQLite de un arranque anterior. Los balances de cUSD no se persisten.
func (d *deployment) restoreCustody(ctx context.Context) error {
	positions, err := d.store.Positions(ctx)
	if err != nil {
		return fmt.Errorf("seed: list positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}
	total := new(uint256.Int)
	debt := new(uint256.Int)
	for _, p := range positions {
		if total, err = domain.Add(total, p.Collateral); err != nil {
			return fmt.Errorf("seed: restore custody: %w", err)
		}
		if debt, err = domain.Add(debt, p.Debt); err != nil {
			return fmt.Errorf("seed: restore custody: %w", err)
		}
	}
	if err := d.collateral.Mint(ctx, d.admin, d.engine.Address(), total); err != nil {
		return fmt.Errorf("seed: restore custody: %w", err)
	}
	slog.Warn("seed: restored custody for stored positions; pegged balances start empty",
		"positions", len(positions),
		"collateral", domain.FormatUnits(total, d.cfg.Local.Decimals),
		"debt", domain.FormatUnits(debt, d.cfg.Local.Decimals))
	return nil
}

func (d *deployment) mintTo(ctx context.Context, to common.Address, amount, field string) error {
	if amount == "" {
		return nil
	}
	x, err := domain.ParseUnits(amount, d.cfg.Local.Decimals)
	if err != nil {
		return fmt.Errorf("seed: local.%s: %w", field, err)
	}
	if err := d.collateral.Mint(ctx, d.admin, to, x); err != nil {
		return fmt.Errorf("seed: local.%s: %w", field, err)
	}
	return nil
}

// newKeeper monta el keeper con la política del config. table fuerza el
// informe en tabla.
func (d *deployment) newKeeper(table bool) (*keeper.Keeper, error) {
	kc := d.cfg.Keeper
	dec := d.cfg.Local.Decimals
	maxIn, err := domain.ParseUnits(kc.MaxCollateralIn, dec)
	if err != nil {
		return nil, fmt.Errorf("deploy: keeper.max_collateral_in: %w", err)
	}
	minOut, err := domain.ParseUnits(kc.MinPeggedOut, dec)
	if err != nil {
		return nil, fmt.Errorf("deploy: keeper.min_pegged_out: %w", err)
	}
	accounts := make([]common.Address, 0, len(kc.Accounts))
	for _, a := range kc.Accounts {
		accounts = append(accounts, common.HexToAddress(a))
	}

	notifiers := []ports.Notifier{notify.NewConsole(table || kc.Table, dec, dec), d.metrics}
	if d.sqlite != nil {
		notifiers = append(notifiers, d.sqlite)
	}
	return keeper.New(keeper.Config{
		Keeper:          d.keeperAddr,
		Accounts:        accounts,
		ThresholdRatio:  kc.ThresholdRatio,
		MaxCollateralIn: maxIn,
		MinPeggedOut:    minOut,
		Route:           d.venue.Route(),
		RatePerSecond:   kc.RatePerSecond,
		Burst:           kc.Burst,
		Workers:         kc.Workers,
	}, d.engine, d.store, notifiers...)
}

// handler monta la API HTTP local.
func (d *deployment) handler() (http.Handler, error) {
	deps := httpapi.Deps{
		Engine:  d.engine,
		Events:  d.events,
		Metrics: promhttp.HandlerFor(d.promReg, promhttp.HandlerOpts{}),
	}
	if d.managed != nil {
		deps.Oracle = d.managed
	}
	srv, err := httpapi.New(httpapi.Config{
		CollateralDecimals: d.cfg.Local.Decimals,
		PeggedDecimals:     d.cfg.Local.Decimals,
		PriceDecimals:      d.cfg.Oracle.Decimals,
		Route:              d.venue.Route(),
		Timeout:            d.cfg.HTTPTimeout(),
		VerifySignatures:   d.cfg.HTTP.VerifySignatures,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	return srv.Handler(), nil
}

// Close libera conexiones en orden inverso.
func (d *deployment) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}
