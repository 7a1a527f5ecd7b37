package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore es el ledger en memoria: ports.PositionStore y ports.EventStore
// para tests y despliegues locales sin disco.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[common.Address]domain.Position
	events    []domain.Event
	seen      map[string]struct{}

	// un solo writer, como SQLite; las lecturas solo toman mu
	writeMu sync.Mutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[common.Address]domain.Position),
		seen:      make(map[string]struct{}),
	}
}

func (m *MemoryStore) Position(_ context.Context, account common.Address) (domain.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.positions[account]; ok {
		return p.Clone(), nil
	}
	return domain.NewPosition(account), nil
}

func (m *MemoryStore) Update(ctx context.Context, account common.Address, fn func(*domain.Position) error) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	pos, _ := m.Position(ctx, account)
	if err := fn(&pos); err != nil {
		return err
	}
	pos.Account = account

	m.mu.Lock()
	defer m.mu.Unlock()
	if pos.IsZero() {
		delete(m.positions, account)
		return nil
	}
	m.positions[account] = pos.Clone()
	return nil
}

func (m *MemoryStore) Positions(context.Context) ([]domain.Position, error) {
	m.mu.RLock()
	out := make([]domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.Hex() < out[j].Account.Hex()
	})
	return out, nil
}

func (m *MemoryStore) Publish(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := ev.ID.String()
	if _, dup := m.seen[id]; dup {
		return nil
	}
	m.seen[id] = struct{}{}
	m.events = append(m.events, ev)
	return nil
}

func (m *MemoryStore) Events(_ context.Context, account common.Address) ([]domain.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Event
	for _, ev := range m.events {
		if ev.Account == account {
			out = append(out, ev)
		}
	}
	return out, nil
}
