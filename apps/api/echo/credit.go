package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/tmalore/studentos/core"
	"github.com/tmalore/studentos/core/credit"
)

type creditApi struct {
	svc      credit.ServiceInterface
	validate *validator.Validate
}

func registerCreditAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc credit.ServiceInterface,
	validate *validator.Validate,
) {
	api := creditApi{
		svc:      svc,
		validate: validate,
	}

	// tool catalog
	tg := g.Group("/tools")
	tg.GET("", api.queryTools)
	tg.GET("/:slug", api.retrieveTool)
	tg.POST("", api.createTool, jwt, adminMiddleware())
	tg.PUT("/:id", api.updateTool, jwt, adminMiddleware())

	// credit accounting; all authed
	cg := g.Group("/credits", jwt)
	cg.GET("/balance", api.balance)
	cg.GET("/history", api.history)
	cg.POST("/use", api.useTool)
	cg.POST("/purchase", api.purchase)
	cg.POST("/grant", api.grant, adminMiddleware())
}

// Handlers

func (api *creditApi) queryTools(ctx echo.Context) error {
	tools, err := api.svc.QueryTools(ctx.Request().Context(), true /* activeOnly */)
	if err != nil {
		return errors.Wrap(err, "querying tools")
	}
	if tools == nil {
		tools = []credit.Tool{}
	}
	return ctx.JSON(http.StatusOK, tools)
}

func (api *creditApi) retrieveTool(ctx echo.Context) error {
	tool, err := api.svc.GetToolBySlug(ctx.Request().Context(), ctx.Param("slug"))
	if err != nil {
		if errors.Cause(err) == credit.ErrToolNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding tool by slug")
	}
	return ctx.JSON(http.StatusOK, ToolResponse{
		Success: true,
		Data: ToolData{
			ID:          tool.ID,
			Name:        tool.Name,
			Slug:        tool.Slug,
			Description: tool.Description.String,
			CreditCost:  tool.CreditCost,
			IsActive:    tool.IsActive,
			Icon:        tool.Icon.String,
			Category:    tool.Category.String,
		},
	})
}

func (api *creditApi) createTool(ctx echo.Context) error {
	var data credit.NewTool
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTool")
	}
	if err := data.Validate(api.validate, api.svc); err != nil {
		return err
	}

	tool, err := api.svc.CreateTool(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating tool")
	}
	return ctx.JSON(http.StatusCreated, tool)
}

func (api *creditApi) updateTool(ctx echo.Context) error {
	var data credit.UpdateTool
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateTool")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	tool, err := api.svc.UpdateTool(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		if errors.Cause(err) == credit.ErrToolNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "updating tool")
	}
	return ctx.JSON(http.StatusOK, tool)
}

func (api *creditApi) balance(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	bal, err := api.svc.Balance(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "getting balance")
	}
	return ctx.JSON(http.StatusOK, BalanceResponse{Balance: bal.Amount, UpdatedAt: bal.UpdatedAt})
}

func (api *creditApi) history(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	entries, err := api.svc.History(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "querying usage history")
	}
	if entries == nil {
		entries = []credit.UsageEntry{}
	}
	return ctx.JSON(http.StatusOK, entries)
}

// useTool gates one paid tool invocation. Success and the insufficient-credits
// failure share the same envelope shape so clients branch on `success` and
// `error` alone; the 402 side is produced by the app error handler.
func (api *creditApi) useTool(ctx echo.Context) error {
	var data UseToolRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UseToolRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	res, err := api.svc.UseTool(ctx.Request().Context(), claims.Subject, data.ToolSlug)
	if err != nil {
		return err // *InsufficientCreditsError falls through to the error handler
	}

	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: true,
		Data: DebitResultData{
			ToolName:         res.ToolName,
			CreditCost:       res.CreditCost,
			RemainingBalance: res.RemainingBalance,
			UsageID:          res.UsageID,
			Message:          res.Message,
		},
	})
}

func (api *creditApi) purchase(ctx echo.Context) error {
	var data PurchaseRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PurchaseRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	// no payment provider is wired up; credits only enter the system via the
	// signup bonus and admin grants
	return ctx.JSON(http.StatusOK, FailureResponse{
		Success: false,
		Error:   "PURCHASE_UNAVAILABLE",
		Data:    echo.Map{"message": "credit purchases are not available yet"},
	})
}

func (api *creditApi) grant(ctx echo.Context) error {
	var data credit.GrantCredits
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GrantCredits")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	bal, err := api.svc.Grant(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "granting credits")
	}
	return ctx.JSON(http.StatusOK, BalanceResponse{Balance: bal.Amount, UpdatedAt: bal.UpdatedAt})
}

type (
	UseToolRequest struct {
		ToolSlug string `json:"tool_slug" validate:"required,slug"`
	}

	PurchaseRequest struct {
		Package string `json:"package" validate:"required"`
	}

	BalanceResponse struct {
		Balance   int       `json:"balance"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	// SuccessResponse is the envelope of a successful debit.
	SuccessResponse struct {
		Success bool            `json:"success"`
		Data    DebitResultData `json:"data"`
	}

	// FailureResponse is the envelope of a classified business failure,
	// e.g. INSUFFICIENT_CREDITS with the shortfall figures.
	FailureResponse struct {
		Success bool        `json:"success"`
		Error   string      `json:"error"`
		Data    interface{} `json:"data"`
	}

	DebitResultData struct {
		ToolName         string `json:"toolName"`
		CreditCost       int    `json:"creditCost"`
		RemainingBalance int    `json:"remainingBalance"`
		UsageID          string `json:"usageId,omitempty"`
		Message          string `json:"message"`
	}

	// ToolResponse is the envelope of the tool-info endpoint.
	ToolResponse struct {
		Success bool     `json:"success"`
		Data    ToolData `json:"data"`
	}

	ToolData struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Slug        string `json:"slug"`
		Description string `json:"description"`
		CreditCost  int    `json:"creditCost"`
		IsActive    bool   `json:"isActive"`
		Icon        string `json:"icon"`
		Category    string `json:"category"`
	}

	InsufficientCreditsData struct {
		Required  int    `json:"required"`
		Available int    `json:"available"`
		Shortfall int    `json:"shortfall"`
		ToolName  string `json:"toolName"`
	}
)

func (ur *UseToolRequest) Validate(validate *validator.Validate) error {
	ur.ToolSlug = core.CleanString(ur.ToolSlug, true /* lower */)
	return validate.Struct(ur)
}

func (pr *PurchaseRequest) Validate(validate *validator.Validate) error {
	pr.Package = core.CleanString(pr.Package, true /* lower */)
	return validate.Struct(pr)
}
