package credit

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/tmalore/studentos/core"
)

var (
	// errors
	ErrToolNotFound    = errors.New("tool not found")
	ErrToolInactive    = errors.New("tool is not available")
	ErrSlugExists      = errors.New("a tool with this slug already exists")
	ErrBalanceNotFound = errors.New("balance not found")
)

// InsufficientCreditsError is the one structured business failure of the debit
// flow: the account cannot cover the tool's cost. It always carries the exact
// figures the UI needs, with Shortfall() == Required - Available >= 1.
type InsufficientCreditsError struct {
	Required  int
	Available int
	ToolName  string
}

func NewInsufficientCreditsError(tool Tool, available int) *InsufficientCreditsError {
	return &InsufficientCreditsError{
		Required:  tool.CreditCost,
		Available: available,
		ToolName:  tool.Name,
	}
}

func (e *InsufficientCreditsError) Shortfall() int { return e.Required - e.Available }

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf(
		"insufficient credits for %s: required %d, available %d",
		e.ToolName, e.Required, e.Available,
	)
}

type (
	Repository interface {
		CheckToolSlugUniqueness(ctx context.Context, slug string, excludedTools ...Tool) error
		CreateTool(ctx context.Context, tool Tool) (Tool, error)
		GetToolByID(ctx context.Context, id string) (Tool, error)
		GetToolBySlug(ctx context.Context, slug string) (Tool, error)
		QueryAllTools(ctx context.Context, activeOnly bool) ([]Tool, error)
		UpdateTool(ctx context.Context, tool Tool, creditCost *int, isActive *bool) (Tool, error)

		GetBalance(ctx context.Context, userID string) (Balance, error)
		// EnsureBalance creates the balance row with the given amount if the
		// account has none yet; an existing row is left untouched.
		EnsureBalance(ctx context.Context, userID string, amount int) error
		GrantCredits(ctx context.Context, userID string, amount int) (Balance, error)
		// DebitForTool checks the balance covers the tool's cost, deducts it and
		// appends the usage entry, all as one indivisible operation. It returns
		// *InsufficientCreditsError when the balance falls short; the balance is
		// left untouched in that case.
		DebitForTool(ctx context.Context, userID string, tool Tool) (UsageEntry, Balance, error)
		QueryUsageByUser(ctx context.Context, userID string) ([]UsageEntry, error)
	}

	ServiceInterface interface {
		CheckSlugUniqueness(slug string, exclTools ...Tool) error
		CreateTool(ctx context.Context, nt NewTool) (Tool, error)
		UpdateTool(ctx context.Context, id string, ut UpdateTool) (Tool, error)
		GetToolBySlug(ctx context.Context, slug string) (Tool, error)
		QueryTools(ctx context.Context, activeOnly bool) ([]Tool, error)
		Balance(ctx context.Context, userID string) (Balance, error)
		Grant(ctx context.Context, gc GrantCredits) (Balance, error)
		History(ctx context.Context, userID string) ([]UsageEntry, error)
		UseTool(ctx context.Context, userID, slug string) (DebitResult, error)
	}

	Service struct {
		repo Repository
		conf *core.Config
	}
)

var _ ServiceInterface = (*Service)(nil)

func NewService(repo Repository, conf *core.Config) *Service {
	return &Service{repo: repo, conf: conf}
}

func (svc *Service) CheckSlugUniqueness(slug string, exclTools ...Tool) error {
	if err := svc.repo.CheckToolSlugUniqueness(context.Background(), slug, exclTools...); err != nil {
		if errors.Cause(err) == ErrSlugExists {
			return core.NewValidationError(err, core.FieldError{Field: "slug", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *Service) CreateTool(ctx context.Context, nt NewTool) (Tool, error) {
	now := time.Now().UTC()
	isActive := true
	if nt.IsActive != nil {
		isActive = *nt.IsActive
	}
	tool := Tool{
		Name:        nt.Name,
		Slug:        nt.Slug,
		Description: null.NewString(nt.Description, nt.Description != ""),
		CreditCost:  nt.CreditCost,
		IsActive:    isActive,
		Icon:        null.NewString(nt.Icon, nt.Icon != ""),
		Category:    null.NewString(nt.Category, nt.Category != ""),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return svc.repo.CreateTool(ctx, tool)
}

func (svc *Service) UpdateTool(ctx context.Context, id string, ut UpdateTool) (Tool, error) {
	tool := Tool{
		ID:        id,
		Name:      ut.Name,
		UpdatedAt: time.Now().UTC(),
	}
	if ut.Description != nil {
		tool.Description = null.StringFromPtr(ut.Description)
	}
	if ut.Icon != nil {
		tool.Icon = null.StringFromPtr(ut.Icon)
	}
	if ut.Category != nil {
		tool.Category = null.StringFromPtr(ut.Category)
	}
	return svc.repo.UpdateTool(ctx, tool, ut.CreditCost, ut.IsActive)
}

func (svc *Service) GetToolBySlug(ctx context.Context, slug string) (Tool, error) {
	return svc.repo.GetToolBySlug(ctx, core.CleanString(slug, true /* lower */))
}

func (svc *Service) QueryTools(ctx context.Context, activeOnly bool) ([]Tool, error) {
	return svc.repo.QueryAllTools(ctx, activeOnly)
}

// Balance returns the account's current balance, creating an empty one for
// accounts that somehow predate the balance table.
func (svc *Service) Balance(ctx context.Context, userID string) (Balance, error) {
	bal, err := svc.repo.GetBalance(ctx, userID)
	if errors.Cause(err) == ErrBalanceNotFound {
		if err = svc.repo.EnsureBalance(ctx, userID, 0); err != nil {
			return Balance{}, errors.Wrap(err, "creating balance")
		}
		return svc.repo.GetBalance(ctx, userID)
	}
	return bal, err
}

func (svc *Service) Grant(ctx context.Context, gc GrantCredits) (Balance, error) {
	if err := svc.repo.EnsureBalance(ctx, gc.UserID, 0); err != nil {
		return Balance{}, errors.Wrap(err, "creating balance")
	}
	return svc.repo.GrantCredits(ctx, gc.UserID, gc.Amount)
}

func (svc *Service) History(ctx context.Context, userID string) ([]UsageEntry, error) {
	return svc.repo.QueryUsageByUser(ctx, userID)
}

// UseTool gates and executes one paid tool invocation for the given account.
//
// Free tools (cost 0) succeed immediately without touching the balance or the
// ledger. Paid tools go through the repository's atomic check-and-deduct; the
// returned error is *InsufficientCreditsError when the account cannot cover
// the cost, so callers can surface the exact figures.
func (svc *Service) UseTool(ctx context.Context, userID, slug string) (DebitResult, error) {
	tool, err := svc.GetToolBySlug(ctx, slug)
	if err != nil {
		return DebitResult{}, err
	}
	if !tool.IsActive {
		return DebitResult{}, ErrToolInactive
	}

	if tool.IsFree() {
		bal, err := svc.Balance(ctx, userID)
		if err != nil {
			return DebitResult{}, errors.Wrap(err, "getting balance")
		}
		return DebitResult{
			ToolName:         tool.Name,
			CreditCost:       0,
			RemainingBalance: bal.Amount,
			Message:          fmt.Sprintf("%s is free to use", tool.Name),
		}, nil
	}

	entry, bal, err := svc.repo.DebitForTool(ctx, userID, tool)
	if err != nil {
		return DebitResult{}, err
	}
	if bal.Amount < 0 {
		// the deduct query guards against this; a negative balance here means
		// the storage layer lost the invariant
		return DebitResult{}, core.NewShutdownError("negative balance after debit: " + bal.UserID)
	}
	return DebitResult{
		ToolName:         tool.Name,
		CreditCost:       tool.CreditCost,
		RemainingBalance: bal.Amount,
		UsageID:          entry.ID,
		Message:          fmt.Sprintf("%d credits deducted for %s", tool.CreditCost, tool.Name),
	}, nil
}
