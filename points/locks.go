package points

import (
	"context"
	"sync"

	"github.com/warp/points-ledger/ledger"
)

// accountLocks is a keyed mutex. Each account gets a one-slot channel so a
// waiter can give up when its context ends. Entries are reference counted
// and removed once nobody holds or waits for them.
type accountLocks struct {
	mu    sync.Mutex
	locks map[ledger.AccountID]*accountLock
}

type accountLock struct {
	slot chan struct{}
	refs int
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[ledger.AccountID]*accountLock)}
}

// Lock blocks until the account is free or ctx is done.
func (a *accountLocks) Lock(ctx context.Context, account ledger.AccountID) (unlock func(), err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	l, ok := a.locks[account]
	if !ok {
		l = &accountLock{slot: make(chan struct{}, 1)}
		a.locks[account] = l
	}
	l.refs++
	a.mu.Unlock()

	select {
	case l.slot <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.slot
				a.release(account, l)
			})
		}, nil
	case <-ctx.Done():
		a.release(account, l)
		return nil, ctx.Err()
	}
}

func (a *accountLocks) release(account ledger.AccountID, l *accountLock) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(a.locks, account)
	}
}

// held returns the number of accounts currently tracked.
func (a *accountLocks) held() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.locks)
}
