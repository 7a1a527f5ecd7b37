package pricefeed

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/alejandrodnm/cdpusd/internal/ports"
)

// StalenessGuard rechaza rounds más viejos que MaxAge. Envuelve cualquier
// ports.PriceFeed; con MaxAge cero deja pasar todo.
type StalenessGuard struct {
	Feed   ports.PriceFeed
	MaxAge time.Duration
	Now    func() time.Time
}

func NewStalenessGuard(feed ports.PriceFeed, maxAge time.Duration) *StalenessGuard {
	return &StalenessGuard{Feed: feed, MaxAge: maxAge, Now: time.Now}
}

func (g *StalenessGuard) Decimals(ctx context.Context) (uint8, error) {
	return g.Feed.Decimals(ctx)
}

func (g *StalenessGuard) LatestRound(ctx context.Context) (domain.PriceRound, error) {
	r, err := g.Feed.LatestRound(ctx)
	if err != nil {
		return domain.PriceRound{}, err
	}
	if g.MaxAge <= 0 {
		return r, nil
	}
	if age := r.Age(g.Now()); age > g.MaxAge {
		return domain.PriceRound{}, fmt.Errorf("pricefeed.StalenessGuard: round %d is %s old (max %s): %w",
			r.RoundID, age.Truncate(time.Second), g.MaxAge, domain.ErrStalePrice)
	}
	return r, nil
}
