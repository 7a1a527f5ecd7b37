package access

import (
	"context"
	"fmt"
	"sync"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Registry asocia cada rol con las cuentas que lo tienen. Es el equivalente
// en proceso de un contrato AccessControl.
type Registry struct {
	mu      sync.RWMutex
	members map[domain.Role]map[common.Address]struct{}
}

func NewRegistry() *Registry {
	return &Registry{members: make(map[domain.Role]map[common.Address]struct{})}
}

// Grant añade account al rol. Concederlo dos veces no hace nada.
func (r *Registry) Grant(role domain.Role, account common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.members[role]
	if !ok {
		set = make(map[common.Address]struct{})
		r.members[role] = set
	}
	set[account] = struct{}{}
}

// Revoke quita account del rol.
func (r *Registry) Revoke(role domain.Role, account common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members[role], account)
}

func (r *Registry) HasRole(role domain.Role, account common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[role][account]
	return ok
}

// Members lista las cuentas con el rol, sin orden.
func (r *Registry) Members(role domain.Role) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]common.Address, 0, len(r.members[role]))
	for a := range r.members[role] {
		out = append(out, a)
	}
	return out
}

// Authorize implementa ports.Authorizer.
func (r *Registry) Authorize(_ context.Context, caller common.Address, role domain.Role) error {
	if !r.HasRole(role, caller) {
		return fmt.Errorf("account %s is missing role %s: %w", caller.Hex(), role, domain.ErrUnauthorized)
	}
	return nil
}
