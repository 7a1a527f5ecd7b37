package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alejandrodnm/cdpusd/internal/domain"
	"github.com/alejandrodnm/cdpusd/internal/ports"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInsufficientAllowance lo devuelve TransferFrom cuando el spender no tiene
// allowance suficiente.
var ErrInsufficientAllowance = errors.New("insufficient allowance")

// Metadata describe un token fungible.
type Metadata struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Ledger es un token fungible en proceso: saldos, allowances y supply. La suma
// de los saldos siempre es TotalSupply.
type Ledger struct {
	meta   Metadata
	access ports.Authorizer

	mu         sync.RWMutex
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
	supply     *uint256.Int
}

// NewLedger crea un ledger vacío. Con authorizer nil el Mint de tesorería
// queda cerrado y el supply sólo cambia vía Issuer.
func NewLedger(meta Metadata, access ports.Authorizer) *Ledger {
	return &Ledger{
		meta:       meta,
		access:     access,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		supply:     new(uint256.Int),
	}
}

func (l *Ledger) Metadata() Metadata { return l.meta }

func (l *Ledger) BalanceOf(_ context.Context, account common.Address) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance(account).Clone(), nil
}

func (l *Ledger) Decimals(context.Context) (uint8, error) { return l.meta.Decimals, nil }

func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply.Clone()
}

// Allowance devuelve cuánto puede mover spender en nombre de owner.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.allowances[owner][spender]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// Approve fija (no suma) el allowance de spender sobre el saldo de owner.
func (l *Ledger) Approve(_ context.Context, owner, spender common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.allowances[owner]
	if !ok {
		set = make(map[common.Address]*uint256.Int)
		l.allowances[owner] = set
	}
	set[spender] = amount.Clone()
	return nil
}

func (l *Ledger) Transfer(_ context.Context, from, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.move(from, to, amount); err != nil {
		return fmt.Errorf("%s.Transfer: %w", l.meta.Symbol, err)
	}
	return nil
}

// TransferFrom mueve amount de owner a to gastando el allowance de spender.
// El allowance máximo cuenta como infinito.
func (l *Ledger) TransferFrom(_ context.Context, spender, owner, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	allowed := l.allowances[owner][spender]
	if allowed == nil || allowed.Lt(amount) {
		return fmt.Errorf("%s.TransferFrom: %s approved %s for %s: %w",
			l.meta.Symbol, owner.Hex(), spender.Hex(), amount.Dec(), ErrInsufficientAllowance)
	}
	if err := l.move(owner, to, amount); err != nil {
		return fmt.Errorf("%s.TransferFrom: %w", l.meta.Symbol, err)
	}
	if !isMax(allowed) {
		allowed.Sub(allowed, amount)
	}
	return nil
}

// Mint es la vía de tesorería: caller necesita domain.RoleMintTreasury.
func (l *Ledger) Mint(ctx context.Context, caller, to common.Address, amount *uint256.Int) error {
	if l.access == nil {
		return fmt.Errorf("%s.Mint: treasury mint disabled: %w", l.meta.Symbol, domain.ErrUnauthorized)
	}
	if err := l.access.Authorize(ctx, caller, domain.RoleMintTreasury); err != nil {
		return fmt.Errorf("%s.Mint: %w", l.meta.Symbol, err)
	}
	return l.mint(to, amount)
}

// Burn destruye amount del saldo del propio holder.
func (l *Ledger) Burn(_ context.Context, holder common.Address, amount *uint256.Int) error {
	return l.burn(holder, amount)
}

func (l *Ledger) mint(to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, err := domain.Add(l.supply, amount)
	if err != nil {
		return fmt.Errorf("%s.Mint: supply: %w", l.meta.Symbol, err)
	}
	bal, err := domain.Add(l.balance(to), amount)
	if err != nil {
		return fmt.Errorf("%s.Mint: balance: %w", l.meta.Symbol, err)
	}
	l.supply = supply
	l.balances[to] = bal
	return nil
}

func (l *Ledger) burn(holder common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balance(holder)
	if bal.Lt(amount) {
		return fmt.Errorf("%s.Burn: %s holds %s, needs %s: %w",
			l.meta.Symbol, holder.Hex(), bal.Dec(), amount.Dec(), domain.ErrInsufficientBalance)
	}
	l.setBalance(holder, new(uint256.Int).Sub(bal, amount))
	l.supply = new(uint256.Int).Sub(l.supply, amount)
	return nil
}

// move se llama con mu tomado.
func (l *Ledger) move(from, to common.Address, amount *uint256.Int) error {
	bal := l.balance(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%s holds %s, needs %s: %w", from.Hex(), bal.Dec(), amount.Dec(), domain.ErrInsufficientBalance)
	}
	if from == to {
		return nil
	}
	// no desborda: el supply acota cada saldo
	l.setBalance(from, new(uint256.Int).Sub(bal, amount))
	l.setBalance(to, new(uint256.Int).Add(l.balance(to), amount))
	return nil
}

func (l *Ledger) balance(account common.Address) *uint256.Int {
	if b, ok := l.balances[account]; ok {
		return b
	}
	return new(uint256.Int)
}

func (l *Ledger) setBalance(account common.Address, v *uint256.Int) {
	if v.IsZero() {
		delete(l.balances, account)
		return
	}
	l.balances[account] = v
}

func isMax(x *uint256.Int) bool {
	return x.Eq(new(uint256.Int).SetAllOne())
}
