// Package credits is a small API client for the credit-gated tool endpoints.
// It keeps a shared cached balance per session and gates paid tool calls
// client-side before handing the final decision to the server's atomic debit.
package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrInsufficientCredits is the one structured error code of the debit API;
// callers branch on this exact literal to show the shortfall figures.
const ErrInsufficientCredits = "INSUFFICIENT_CREDITS"

// DefaultTimeout bounds every API call so a hung debit request cannot leave
// the caller processing forever.
const DefaultTimeout = 15 * time.Second

type (
	// ToolInfo is the tool metadata the gate decides on. CreditCost 0 means
	// the tool is free and bypasses the gate entirely.
	ToolInfo struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Slug        string `json:"slug"`
		Description string `json:"description"`
		CreditCost  int    `json:"creditCost"`
		IsActive    bool   `json:"isActive"`
		Icon        string `json:"icon"`
		Category    string `json:"category"`
	}

	// DebitResult is the server's report of a successful debit.
	// RemainingBalance is nil when the server omitted it.
	DebitResult struct {
		ToolName         string `json:"toolName"`
		CreditCost       int    `json:"creditCost"`
		RemainingBalance *int   `json:"remainingBalance"`
		UsageID          string `json:"usageId"`
		Message          string `json:"message"`
	}

	// InsufficientCreditsError carries the server's authoritative figures when
	// the account cannot cover a tool's cost.
	InsufficientCreditsError struct {
		Required  int    `json:"required"`
		Available int    `json:"available"`
		Shortfall int    `json:"shortfall"`
		ToolName  string `json:"toolName"`
	}

	// APIError is any other failure the server reported.
	APIError struct {
		StatusCode int
		Message    string
	}
)

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf(
		"insufficient credits for %s: required %d, available %d",
		e.ToolName, e.Required, e.Available,
	)
}

func (e *APIError) Error() string { return e.Message }

// Client calls the credit endpoints of the API on behalf of one session.
type Client struct {
	baseURL string
	token   string
	hc      *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		hc:      &http.Client{Timeout: timeout},
	}
}

// GetTool fetches the metadata of one tool by slug.
func (c *Client) GetTool(ctx context.Context, slug string) (ToolInfo, error) {
	var env struct {
		Success bool     `json:"success"`
		Data    ToolInfo `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/tools/"+slug, nil, &env); err != nil {
		return ToolInfo{}, err
	}
	return env.Data, nil
}

// GetBalance fetches the authoritative current balance.
func (c *Client) GetBalance(ctx context.Context) (int, error) {
	var out struct {
		Balance int `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/credits/balance", nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// UseTool performs the atomic server-side debit for one tool use. It returns
// *InsufficientCreditsError when the server rejects for insufficient funds and
// *APIError for any other server-reported failure.
func (c *Client) UseTool(ctx context.Context, slug string) (DebitResult, error) {
	var env struct {
		Success bool        `json:"success"`
		Error   string      `json:"error"`
		Data    DebitResult `json:"data"`
	}
	body := struct {
		ToolSlug string `json:"tool_slug"`
	}{slug}

	err := c.do(ctx, http.MethodPost, "/v1/credits/use", body, &env)
	if err != nil {
		return DebitResult{}, err
	}
	if !env.Success {
		if env.Error == "" {
			env.Error = "Transaction failed"
		}
		return DebitResult{}, &APIError{StatusCode: http.StatusOK, Message: env.Error}
	}
	return env.Data, nil
}

// do runs one request and decodes the response body into out. Non-2xx bodies
// are decoded at the boundary into one of the typed errors so callers never
// probe raw payloads.
func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body *bytes.Buffer
	if in != nil {
		body = new(bytes.Buffer)
		if err := json.NewEncoder(body).Encode(in); err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Wrap(err, "calling API")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.decodeError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrap(err, "decoding response body")
		}
	}
	return nil
}

func (c *Client) decodeError(resp *http.Response) error {
	var env struct {
		Success bool            `json:"success"`
		Error   string          `json:"error"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	if env.Error == ErrInsufficientCredits && env.Data != nil {
		icErr := new(InsufficientCreditsError)
		if err := json.Unmarshal(env.Data, icErr); err == nil {
			return icErr
		}
	}

	msg := env.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
