package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/tmalore/studentos/core/credit"
)

type toolRow struct {
	ID          string      `db:"id"`
	Name        string      `db:"name"`
	Slug        string      `db:"slug"`
	Description null.String `db:"description"`
	CreditCost  int         `db:"credit_cost"`
	IsActive    bool        `db:"is_active"`
	Icon        null.String `db:"icon"`
	Category    null.String `db:"category"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func (r toolRow) toTool() credit.Tool {
	return credit.Tool(r)
}

type creditRepository struct {
	db *sqlx.DB
}

var _ credit.Repository = (*creditRepository)(nil) // interface compliance check

func NewCreditRepository(db *sql.DB) credit.Repository {
	return &creditRepository{db: sqlx.NewDb(db, "postgres")}
}

func (repo *creditRepository) CheckToolSlugUniqueness(ctx context.Context, slug string, excludedTools ...credit.Tool) error {
	exclIDs := make([]string, 0, len(excludedTools))
	for _, tool := range excludedTools {
		exclIDs = append(exclIDs, tool.ID)
	}
	if len(exclIDs) == 0 {
		exclIDs = append(exclIDs, uuid.Nil.String())
	}

	q, args, err := sqlx.In(`SELECT COUNT(*) FROM tool WHERE slug = ? AND id NOT IN (?)`, slug, exclIDs)
	if err != nil {
		return errors.Wrap(err, "building uniqueness query")
	}
	var count int
	if err := repo.db.GetContext(ctx, &count, repo.db.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "checking slug uniqueness")
	}
	if count > 0 {
		return credit.ErrSlugExists
	}
	return nil
}

func (repo *creditRepository) CreateTool(ctx context.Context, tool credit.Tool) (credit.Tool, error) {
	if tool.ID == "" {
		tool.ID = uuid.New().String()
	}
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO tool (id, name, slug, description, credit_cost, is_active, icon, category, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		tool.ID, tool.Name, tool.Slug, tool.Description, tool.CreditCost,
		tool.IsActive, tool.Icon, tool.Category, tool.CreatedAt, tool.UpdatedAt,
	)
	if err != nil {
		return credit.Tool{}, errors.Wrap(err, "inserting tool")
	}
	return tool, nil
}

func (repo *creditRepository) getTool(ctx context.Context, query string, args ...interface{}) (credit.Tool, error) {
	var row toolRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return credit.Tool{}, credit.ErrToolNotFound
		}
		return credit.Tool{}, errors.Wrap(err, "getting tool")
	}
	return row.toTool(), nil
}

func (repo *creditRepository) GetToolByID(ctx context.Context, id string) (credit.Tool, error) {
	return repo.getTool(ctx, `SELECT * FROM tool WHERE id = $1`, id)
}

func (repo *creditRepository) GetToolBySlug(ctx context.Context, slug string) (credit.Tool, error) {
	return repo.getTool(ctx, `SELECT * FROM tool WHERE slug = $1`, slug)
}

func (repo *creditRepository) QueryAllTools(ctx context.Context, activeOnly bool) ([]credit.Tool, error) {
	query := `SELECT * FROM tool ORDER BY name`
	if activeOnly {
		query = `SELECT * FROM tool WHERE is_active ORDER BY name`
	}
	var rows []toolRow
	if err := repo.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying tools")
	}
	tools := make([]credit.Tool, 0, len(rows))
	for _, row := range rows {
		tools = append(tools, row.toTool())
	}
	return tools, nil
}

func (repo *creditRepository) UpdateTool(ctx context.Context, tool credit.Tool, creditCost *int, isActive *bool) (credit.Tool, error) {
	origTool, err := repo.GetToolByID(ctx, tool.ID)
	if err != nil {
		return credit.Tool{}, err
	}

	// only save set fields
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

	_, err = repo.db.ExecContext(ctx,
		`UPDATE tool SET name = $2, description = $3, credit_cost = $4, is_active = $5,
		 icon = $6, category = $7, updated_at = $8 WHERE id = $1`,
		origTool.ID, origTool.Name, origTool.Description, origTool.CreditCost,
		origTool.IsActive, origTool.Icon, origTool.Category, origTool.UpdatedAt,
	)
	if err != nil {
		return credit.Tool{}, errors.Wrap(err, "updating tool")
	}
	return origTool, nil
}

func (repo *creditRepository) GetBalance(ctx context.Context, userID string) (credit.Balance, error) {
	var bal credit.Balance
	err := repo.db.QueryRowxContext(ctx,
		`SELECT user_id, amount, updated_at FROM balance WHERE user_id = $1`, userID,
	).Scan(&bal.UserID, &bal.Amount, &bal.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return credit.Balance{}, credit.ErrBalanceNotFound
		}
		return credit.Balance{}, errors.Wrap(err, "getting balance")
	}
	return bal, nil
}

func (repo *creditRepository) EnsureBalance(ctx context.Context, userID string, amount int) error {
	_, err := repo.db.ExecContext(ctx,
		`INSERT INTO balance (user_id, amount, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, amount, time.Now().UTC(),
	)
	return errors.Wrap(err, "ensuring balance")
}

func (repo *creditRepository) GrantCredits(ctx context.Context, userID string, amount int) (credit.Balance, error) {
	var bal credit.Balance
	err := repo.db.QueryRowxContext(ctx,
		`UPDATE balance SET amount = amount + $2, updated_at = $3 WHERE user_id = $1
		 RETURNING user_id, amount, updated_at`,
		userID, amount, time.Now().UTC(),
	).Scan(&bal.UserID, &bal.Amount, &bal.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return credit.Balance{}, credit.ErrBalanceNotFound
		}
		return credit.Balance{}, errors.Wrap(err, "granting credits")
	}
	return bal, nil
}

// DebitForTool performs the check-and-deduct and the ledger append in a single
// transaction. The conditional UPDATE is the only gate that matters: when it
// matches no row the balance cannot cover the cost and nothing is written.
func (repo *creditRepository) DebitForTool(ctx context.Context, userID string, tool credit.Tool) (credit.UsageEntry, credit.Balance, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return credit.UsageEntry{}, credit.Balance{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()

	var bal credit.Balance
	err = tx.QueryRowxContext(ctx,
		`UPDATE balance SET amount = amount - $2, updated_at = $3
		 WHERE user_id = $1 AND amount >= $2
		 RETURNING user_id, amount, updated_at`,
		userID, tool.CreditCost, now,
	).Scan(&bal.UserID, &bal.Amount, &bal.UpdatedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			return credit.UsageEntry{}, credit.Balance{}, errors.Wrap(err, "debiting balance")
		}
		// short on credits (or no balance row yet): report the exact figures
		var available int
		err = tx.QueryRowxContext(ctx,
			`SELECT amount FROM balance WHERE user_id = $1`, userID,
		).Scan(&available)
		if err != nil && err != sql.ErrNoRows {
			return credit.UsageEntry{}, credit.Balance{}, errors.Wrap(err, "reading balance")
		}
		return credit.UsageEntry{}, credit.Balance{}, credit.NewInsufficientCreditsError(tool, available)
	}

	entry := credit.UsageEntry{
		ID:        uuid.New().String(),
		UserID:    userID,
		ToolID:    tool.ID,
		ToolName:  tool.Name,
		Credits:   tool.CreditCost,
		CreatedAt: now,
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO credit_usage (id, user_id, tool_id, tool_name, credits, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.UserID, entry.ToolID, entry.ToolName, entry.Credits, entry.CreatedAt,
	)
	if err != nil {
		return credit.UsageEntry{}, credit.Balance{}, errors.Wrap(err, "appending usage entry")
	}

	if err = tx.Commit(); err != nil {
		return credit.UsageEntry{}, credit.Balance{}, errors.Wrap(err, "committing debit")
	}
	return entry, bal, nil
}

func (repo *creditRepository) QueryUsageByUser(ctx context.Context, userID string) ([]credit.UsageEntry, error) {
	var entries []credit.UsageEntry
	rows, err := repo.db.QueryxContext(ctx,
		`SELECT id, user_id, tool_id, tool_name, credits, created_at
		 FROM credit_usage WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "querying usage")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var e credit.UsageEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.ToolID, &e.ToolName, &e.Credits, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning usage entry")
		}
		entries = append(entries, e)
	}
	return entries, errors.Wrap(rows.Err(), "querying usage")
}
