package credit

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/volatiletech/null/v8"

	"github.com/tmalore/studentos/core"
)

// Tool is a paid feature (CV check, cover-letter maker, ...) identified by a
// stable slug and priced in credits. A cost of 0 means the tool is free.
type Tool struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Slug        string      `json:"slug"`
	Description null.String `json:"description"`
	CreditCost  int         `json:"credit_cost"`
	IsActive    bool        `json:"is_active"`
	Icon        null.String `json:"icon"`
	Category    null.String `json:"category"`
	CreatedAt   time.Time   `json:"created_at"` // UTC
	UpdatedAt   time.Time   `json:"updated_at"` // UTC
}

func (t *Tool) IsFree() bool { return t.CreditCost == 0 }

// Balance holds the spendable credits of one account. Amount is never negative.
type Balance struct {
	UserID    string    `json:"user_id"`
	Amount    int       `json:"amount"`
	UpdatedAt time.Time `json:"updated_at"` // UTC
}

// UsageEntry is one row of the append-only usage ledger, written as part of a
// successful debit and never constructed anywhere else.
type UsageEntry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ToolID    string    `json:"tool_id"`
	ToolName  string    `json:"tool_name"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

// DebitResult reports the outcome of a successful (or free) tool use.
type DebitResult struct {
	ToolName         string `json:"tool_name"`
	CreditCost       int    `json:"credit_cost"`
	RemainingBalance int    `json:"remaining_balance"`
	UsageID          string `json:"usage_id,omitempty"` // empty on the free path
	Message          string `json:"message"`
}

// NewTool contains information needed to register a new Tool.
type NewTool struct {
	Name        string `json:"name" validate:"required"`
	Slug        string `json:"slug" validate:"required,slug"`
	Description string `json:"description"`
	CreditCost  int    `json:"credit_cost" validate:"min=0"`
	IsActive    *bool  `json:"is_active"`
	Icon        string `json:"icon"`
	Category    string `json:"category"`
}

func (nt *NewTool) Validate(validate *validator.Validate, svc ServiceInterface) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Slug = core.CleanString(nt.Slug, true /* lower */)
	nt.Description = core.CleanString(nt.Description)
	nt.Category = core.CleanString(nt.Category, true /* lower */)

	if err := validate.Struct(nt); err != nil {
		return err
	}
	return svc.CheckSlugUniqueness(nt.Slug)
}

// UpdateTool defines what information may be provided to modify an existing Tool.
type UpdateTool struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	CreditCost  *int    `json:"credit_cost" validate:"omitempty,min=0"`
	IsActive    *bool   `json:"is_active"`
	Icon        *string `json:"icon"`
	Category    *string `json:"category"`
}

func (ut *UpdateTool) Validate(validate *validator.Validate) error {
	ut.Name = core.CleanString(ut.Name)
	return validate.Struct(ut)
}

// GrantCredits tops up an account, e.g. a support/promo grant.
type GrantCredits struct {
	UserID string `json:"user_id" validate:"required"`
	Amount int    `json:"amount" validate:"required,min=1"`
	Reason string `json:"reason"`
}

func (gc *GrantCredits) Validate(validate *validator.Validate) error {
	gc.Reason = core.CleanString(gc.Reason)
	return validate.Struct(gc)
}
