package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tmalore/studentos/core/credit"
)

type creditRepository struct {
	tools    *toolTable
	balances *balanceTable
	usages   *usageTable
}

var _ credit.Repository = (*creditRepository)(nil) // interface compliance check

func NewCreditRepository(db *DB) credit.Repository {
	return &creditRepository{
		tools:    db.tool,
		balances: db.balance,
		usages:   db.usage,
	}
}

func (repo *creditRepository) CheckToolSlugUniqueness(_ context.Context, slug string, excludedTools ...credit.Tool) error {
	repo.tools.RLock()
	defer repo.tools.RUnlock()

	excluded := make(map[string]bool, len(excludedTools))
	for _, tool := range excludedTools {
		excluded[tool.ID] = true
	}
	for _, tool := range repo.tools.table {
		if tool.Slug == slug && !excluded[tool.ID] {
			return credit.ErrSlugExists
		}
	}
	return nil
}

func (repo *creditRepository) CreateTool(_ context.Context, tool credit.Tool) (credit.Tool, error) {
	repo.tools.Lock()
	defer repo.tools.Unlock()

	if tool.ID == "" {
		tool.ID = uuid.New().String()
	}
	repo.tools.table[tool.ID] = &tool
	return tool, nil
}

func (repo *creditRepository) GetToolByID(_ context.Context, id string) (credit.Tool, error) {
	repo.tools.RLock()
	defer repo.tools.RUnlock()

	if tool, ok := repo.tools.table[id]; ok {
		return *tool, nil
	}
	return credit.Tool{}, credit.ErrToolNotFound
}

func (repo *creditRepository) GetToolBySlug(_ context.Context, slug string) (credit.Tool, error) {
	repo.tools.RLock()
	defer repo.tools.RUnlock()

	for _, tool := range repo.tools.table {
		if tool.Slug == slug {
			return *tool, nil
		}
	}
	return credit.Tool{}, credit.ErrToolNotFound
}

func (repo *creditRepository) QueryAllTools(_ context.Context, activeOnly bool) ([]credit.Tool, error) {
	repo.tools.RLock()
	defer repo.tools.RUnlock()

	tools := make([]credit.Tool, 0, len(repo.tools.table))
	for _, tool := range repo.tools.table {
		if activeOnly && !tool.IsActive {
			continue
		}
		tools = append(tools, *tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools, nil
}

func (repo *creditRepository) UpdateTool(_ context.Context, tool credit.Tool, creditCost *int, isActive *bool) (credit.Tool, error) {
	repo.tools.Lock()
	defer repo.tools.Unlock()

	// only save set fields
	origTool, ok := repo.tools.table[tool.ID]
	if !ok {
		return credit.Tool{}, credit.ErrToolNotFound
	}
	if tool.Name != "" {
		origTool.Name = tool.Name
	}
	if tool.Description.Valid {
		origTool.Description = tool.Description
	}
	if tool.Icon.Valid {
		origTool.Icon = tool.Icon
	}
	if tool.Category.Valid {
		origTool.Category = tool.Category
	}
	if creditCost != nil {
		origTool.CreditCost = *creditCost
	}
	if isActive != nil {
		origTool.IsActive = *isActive
	}
	origTool.UpdatedAt = tool.UpdatedAt

	repo.tools.table[tool.ID] = origTool
	return *origTool, nil
}

func (repo *creditRepository) GetBalance(_ context.Context, userID string) (credit.Balance, error) {
	repo.balances.RLock()
	defer repo.balances.RUnlock()

	if bal, ok := repo.balances.table[userID]; ok {
		return *bal, nil
	}
	return credit.Balance{}, credit.ErrBalanceNotFound
}

func (repo *creditRepository) EnsureBalance(_ context.Context, userID string, amount int) error {
	repo.balances.Lock()
	defer repo.balances.Unlock()

	if _, ok := repo.balances.table[userID]; !ok {
		repo.balances.table[userID] = &credit.Balance{
			UserID:    userID,
			Amount:    amount,
			UpdatedAt: time.Now().UTC(),
		}
	}
	return nil
}

func (repo *creditRepository) GrantCredits(_ context.Context, userID string, amount int) (credit.Balance, error) {
	repo.balances.Lock()
	defer repo.balances.Unlock()

	bal, ok := repo.balances.table[userID]
	if !ok {
		return credit.Balance{}, credit.ErrBalanceNotFound
	}
	bal.Amount += amount
	bal.UpdatedAt = time.Now().UTC()
	return *bal, nil
}

// DebitForTool holds the balance lock across the check and the deduct so the
// two are indivisible, same as the conditional UPDATE in the sql repository.
func (repo *creditRepository) DebitForTool(_ context.Context, userID string, tool credit.Tool) (credit.UsageEntry, credit.Balance, error) {
	repo.balances.Lock()
	defer repo.balances.Unlock()

	var available int
	bal, ok := repo.balances.table[userID]
	if ok {
		available = bal.Amount
	}
	if available < tool.CreditCost {
		return credit.UsageEntry{}, credit.Balance{}, credit.NewInsufficientCreditsError(tool, available)
	}

	now := time.Now().UTC()
	bal.Amount -= tool.CreditCost
	bal.UpdatedAt = now

	entry := credit.UsageEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		ToolID:    tool.ID,
		ToolName:  tool.Name,
		Credits:   tool.CreditCost,
		CreatedAt: now,
	}
	repo.usages.Lock()
	repo.usages.table[entry.ID] = &entry
	repo.usages.Unlock()

	return entry, *bal, nil
}

func (repo *creditRepository) QueryUsageByUser(_ context.Context, userID string) ([]credit.UsageEntry, error) {
	repo.usages.RLock()
	defer repo.usages.RUnlock()

	var entries []credit.UsageEntry
	for _, e := range repo.usages.table {
		if e.UserID == userID {
			entries = append(entries, *e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	return entries, nil
}
