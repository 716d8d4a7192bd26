package credits

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// BalanceContext is the session-wide shared balance cell. All tool screens of
// one session read and mutate the same instance: successful debits decrement
// it optimistically, and reconciliation refreshes overwrite it with the server
// value unconditionally. The server is the sole correctness authority; this
// cache only exists to gate cheaply and keep reads fresh-looking.
type BalanceContext struct {
	client *Client

	mu     sync.RWMutex
	amount int
	loaded bool
}

func NewBalanceContext(client *Client) *BalanceContext {
	return &BalanceContext{client: client}
}

// Current returns the last known balance; 0 until the first load.
func (b *BalanceContext) Current() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.amount
}

// Loaded reports whether the balance has been fetched at least once.
func (b *BalanceContext) Loaded() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loaded
}

// DeductCredits applies an optimistic local decrement, clamped at 0. The next
// refresh overwrites whatever this computed.
func (b *BalanceContext) DeductCredits(amount int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.amount -= amount
	if b.amount < 0 {
		b.amount = 0
	}
}

// RefreshBalance re-fetches the authoritative balance and overwrites the
// cached value unconditionally, regardless of any optimistic decrements that
// raced with the fetch. Last writer from the server wins.
func (b *BalanceContext) RefreshBalance(ctx context.Context) error {
	amount, err := b.client.GetBalance(ctx)
	if err != nil {
		return errors.Wrap(err, "fetching balance")
	}

	b.mu.Lock()
	b.amount = amount
	b.loaded = true
	b.mu.Unlock()
	return nil
}
