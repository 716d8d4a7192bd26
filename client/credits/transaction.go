package credits

import (
	"context"
	"sync"
	"sync/atomic"
)

const errToolNotLoaded = "Tool information not loaded"

// TransactionResult is the tagged outcome of one ExecuteTransaction call.
// Failures carry an error string; callers branch on the ErrInsufficientCredits
// literal to show the exact figures and treat any other string as opaque text.
type TransactionResult struct {
	Success          bool
	RemainingBalance int
	Error            string
	// Insufficient is set only when Error == ErrInsufficientCredits.
	Insufficient *InsufficientCreditsError
}

// TransactionClient gates and executes paid invocations of a single tool. It
// is bound to one slug for its lifetime; Load fetches the tool metadata once
// and a load failure makes every ExecuteTransaction call fail closed.
type TransactionClient struct {
	client  *Client
	balance *BalanceContext
	slug    string

	loadOnce sync.Once
	mu       sync.RWMutex
	tool     *ToolInfo
	loadErr  error

	processing int32
}

func NewTransactionClient(client *Client, balance *BalanceContext, slug string) *TransactionClient {
	return &TransactionClient{
		client:  client,
		balance: balance,
		slug:    slug,
	}
}

// Load fetches the tool metadata. Only the first call fetches; an empty slug
// skips the fetch entirely so the gate fails closed. There is no retry; a new
// TransactionClient is the only recovery path.
func (t *TransactionClient) Load(ctx context.Context) error {
	t.loadOnce.Do(func() {
		if t.slug == "" {
			return // no fetch; tool stays unloaded
		}
		info, err := t.client.GetTool(ctx, t.slug)

		t.mu.Lock()
		defer t.mu.Unlock()
		if err != nil {
			t.loadErr = err
			return
		}
		t.tool = &info
	})

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.loadErr
}

// Tool returns the loaded metadata, if any.
func (t *TransactionClient) Tool() (ToolInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.tool == nil {
		return ToolInfo{}, false
	}
	return *t.tool, true
}

// IsProcessing reports whether a debit call is in flight. The pre-checks of
// ExecuteTransaction are synchronous and never flip this.
func (t *TransactionClient) IsProcessing() bool {
	return atomic.LoadInt32(&t.processing) == 1
}

// ExecuteTransaction gates and executes one paid use of the bound tool:
//
//  1. Unloaded metadata is a hard failure; nothing is ever allowed through on
//     a missing gate.
//  2. A free tool succeeds immediately with no network call.
//  3. The cached balance pre-checks affordability; a local shortfall is
//     reported with client-side figures and no server call.
//  4. Otherwise the server performs its atomic debit; the pre-check is only a
//     round-trip saver and the server re-validates. On success the shared
//     balance is decremented optimistically and exactly one reconciliation
//     refresh is fired off; on a server-side shortfall (a concurrent spend won
//     the race) the server's figures are reported instead.
//
// Every failure is returned as a value; nothing panics past this boundary.
func (t *TransactionClient) ExecuteTransaction(ctx context.Context) TransactionResult {
	tool, ok := t.Tool()
	if !ok {
		return TransactionResult{Success: false, Error: errToolNotLoaded}
	}

	if tool.CreditCost == 0 {
		return TransactionResult{Success: true, RemainingBalance: t.balance.Current()}
	}

	available := t.balance.Current()
	if available < tool.CreditCost {
		icErr := &InsufficientCreditsError{
			Required:  tool.CreditCost,
			Available: available,
			Shortfall: tool.CreditCost - available,
			ToolName:  tool.Name,
		}
		return TransactionResult{Success: false, Error: ErrInsufficientCredits, Insufficient: icErr}
	}

	atomic.StoreInt32(&t.processing, 1)
	defer atomic.StoreInt32(&t.processing, 0)

	res, err := t.client.UseTool(ctx, t.slug)
	if err != nil {
		if icErr, ok := err.(*InsufficientCreditsError); ok {
			// lost the race against a concurrent spend; the server's figures
			// are authoritative
			return TransactionResult{Success: false, Error: ErrInsufficientCredits, Insufficient: icErr}
		}
		return TransactionResult{Success: false, Error: err.Error()}
	}

	// optimistic decrement first, then fire-and-forget reconciliation; the
	// refresh overwrites the cache whenever it lands
	t.balance.DeductCredits(tool.CreditCost)
	go t.balance.RefreshBalance(context.Background()) //nolint:errcheck

	remaining := t.balance.Current()
	if res.RemainingBalance != nil {
		remaining = *res.RemainingBalance
	}
	return TransactionResult{Success: true, RemainingBalance: remaining}
}
