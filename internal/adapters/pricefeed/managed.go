package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/alejandrodnm/cdpusd/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Version de la interfaz del feed, como AggregatorV3.version().
const Version = 1

// Managed es un feed push que administran las cuentas con
// domain.RolePublishPrice.
type Managed struct {
	description string
	decimals    uint8
	access      ports.Authorizer
	now         func() time.Time

	mu     sync.RWMutex
	latest *domain.PriceRound
}

// Option configura un Managed.
type Option func(*Managed)

// WithClock cambia el reloj con que se sellan los rounds.
func WithClock(now func() time.Time) Option {
	return func(m *Managed) { m.now = now }
}

func NewManaged(description string, decimals uint8, access ports.Authorizer, opts ...Option) *Managed {
	m := &Managed{
		description: description,
		decimals:    decimals,
		access:      access,
		now:         time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Managed) Description() string { return m.description }

func (m *Managed) Version() uint64 { return Version }

func (m *Managed) Decimals(context.Context) (uint8, error) { return m.decimals, nil }

// LatestRound falla con domain.ErrNoData hasta el primer Publish.
func (m *Managed) LatestRound(context.Context) (domain.PriceRound, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.latest == nil {
		return domain.PriceRound{}, fmt.Errorf("pricefeed.LatestRound: %w", domain.ErrNoData)
	}
	r := *m.latest
	r.Price = r.Price.Clone()
	return r, nil
}

// Publish añade un round. Los IDs empiezan en 1 y suben de uno en uno.
func (m *Managed) Publish(ctx context.Context, caller common.Address, price *uint256.Int) (domain.PriceRound, error) {
	if err := m.access.Authorize(ctx, caller, domain.RolePublishPrice); err != nil {
		return domain.PriceRound{}, fmt.Errorf("pricefeed.Publish: %w", err)
	}
	if price == nil || price.IsZero() {
		return domain.PriceRound{}, fmt.Errorf("pricefeed.Publish: %w", domain.ErrInvalidPrice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	round := domain.PriceRound{RoundID: 1, Price: price.Clone(), UpdatedAt: m.now().UTC()}
	if m.latest != nil {
		round.RoundID = m.latest.RoundID + 1
	}
	m.latest = &round

	slog.Info("pricefeed: price updated",
		"feed", m.description,
		"round", round.RoundID,
		"price", domain.FormatUnits(price, m.decimals))
	return round, nil
}
