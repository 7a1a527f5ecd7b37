package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// accountLocks serializa las mutaciones por cuenta. Una entrada se borra en
// cuanto ninguna goroutine la tiene ni espera por ella.
type accountLocks struct {
	mu    sync.Mutex
	locks map[common.Address]*accountLock
}

type accountLock struct {
	mu   sync.Mutex
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[common.Address]*accountLock)}
}

// lock bloquea hasta que la cuenta queda libre y devuelve el release.
func (l *accountLocks) lock(account common.Address) func() {
	l.mu.Lock()
	al, ok := l.locks[account]
	if !ok {
		al = &accountLock{}
		l.locks[account] = al
	}
	al.refs++
	l.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()
		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, account)
		}
		l.mu.Unlock()
	}
}
