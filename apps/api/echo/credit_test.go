package echoapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmalore/studentos/core/credit"
	"github.com/tmalore/studentos/core/user"
)

func Test_creditApi_queryTools(t *testing.T) {
	app, _, creditRepo := setupServer(t)

	cvMaker := createTool(t, creditRepo, "CV Maker", "cv-maker", 10, true)
	plagCheck := createTool(t, creditRepo, "Plagiarism Check", "plagiarism-check", 5, true)
	createTool(t, creditRepo, "Old Tool", "old-tool", 3, false) // inactive, hidden from the catalog

	req, rec := newRequest(http.MethodGet, "/v1/tools")
	app.ServeHTTP(rec, req)

	tt := httpTest{wantCode: http.StatusOK, wantData: marchallList(t, cvMaker, plagCheck)}
	checkCodeAndData(t, tt, rec)
}

func Test_creditApi_retrieveTool(t *testing.T) {
	app, _, creditRepo := setupServer(t)

	cvMaker := createTool(t, creditRepo, "CV Maker", "cv-maker", 10, true)

	tests := []httpTest{
		{
			name: "found", path: "/v1/tools/cv-maker", wantCode: http.StatusOK,
			wantData: marchallObj(t, ToolResponse{
				Success: true,
				Data: ToolData{
					ID:         cvMaker.ID,
					Name:       "CV Maker",
					Slug:       "cv-maker",
					CreditCost: 10,
					IsActive:   true,
				},
			}),
		},
		{
			name: "unknown slug", path: "/v1/tools/lol", wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodGet, tt.path)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_creditApi_createTool(t *testing.T) {
	app, usrRepo, _ := setupServer(t)

	admin := createUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", user.AdminRoles, true)
	student := createUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)

	body := marchallObj(t, credit.NewTool{Name: "CV Maker", Slug: "cv-maker", CreditCost: 10})

	tests := []httpTest{
		{name: "auth required", body: body, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "admin required", body: body, token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "ok", body: body, token: getToken(t, admin), wantCode: http.StatusCreated},
		{
			name: "duplicate slug", body: body, token: getToken(t, admin),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"slug": credit.ErrSlugExists.Error()}),
		},
		{
			name:  "negative cost rejected",
			body:  []byte(`{"name":"X","slug":"x-tool","credit_cost":-1}`),
			token: getToken(t, admin), wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/tools", tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
			}
			if tt.wantData != nil {
				ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
				if err != nil {
					t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
				}
				if !ok {
					t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
				}
			}
		})
	}
}

func Test_creditApi_updateTool(t *testing.T) {
	app, usrRepo, creditRepo := setupServer(t)

	admin := createUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", user.AdminRoles, true)
	tool := createTool(t, creditRepo, "CV Maker", "cv-maker", 10, true)

	cost := 15
	inactive := false
	body := marchallObj(t, credit.UpdateTool{CreditCost: &cost, IsActive: &inactive})

	req, rec := newAuthRequest(http.MethodPut, "/v1/tools/"+tool.ID, getToken(t, admin), body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	refreshed, err := creditRepo.GetToolByID(testCtx, tool.ID)
	require.NoError(t, err)
	assert.Equal(t, 15, refreshed.CreditCost)
	assert.False(t, refreshed.IsActive)
}

func Test_creditApi_balance(t *testing.T) {
	app, usrRepo, creditRepo := setupServer(t)

	usr := createUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	grantBalance(t, creditRepo, usr.ID, 30)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "ok", token: getToken(t, usr), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/credits/balance", tt.token)
			app.ServeHTTP(rec, req)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				var out BalanceResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
				assert.Equal(t, 30, out.Balance)
			}
		})
	}
}

func Test_creditApi_useTool(t *testing.T) {
	app, usrRepo, creditRepo := setupServer(t)

	usr := createUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	grantBalance(t, creditRepo, usr.ID, 10)
	token := getToken(t, usr)

	createTool(t, creditRepo, "CV Maker", "cv-maker", 10, true)
	createTool(t, creditRepo, "Presentation Maker", "presentation-maker", 0, true)
	createTool(t, creditRepo, "Old Tool", "old-tool", 3, false)

	useBody := func(slug string) []byte {
		return marchallObj(t, UseToolRequest{ToolSlug: slug})
	}

	t.Run("auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/credits/use", useBody("cv-maker"))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}, rec)
	})

	t.Run("unknown slug", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/credits/use", token, useBody("lol"))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	})

	t.Run("inactive tool", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/credits/use", token, useBody("old-tool"))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
	})

	t.Run("free tool bypasses the gate", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/credits/use", token, useBody("presentation-maker"))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var out SuccessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.True(t, out.Success)
		assert.Equal(t, 0, out.Data.CreditCost)
		assert.Equal(t, 10, out.Data.RemainingBalance)
		assert.Empty(t, out.Data.UsageID)

		// no ledger row for a free use
		entries, err := creditRepo.QueryUsageByUser(testCtx, usr.ID)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("successful debit", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/credits/use", token, useBody("cv-maker"))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var out SuccessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.True(t, out.Success)
		assert.Equal(t, "CV Maker", out.Data.ToolName)
		assert.Equal(t, 10, out.Data.CreditCost)
		assert.Equal(t, 0, out.Data.RemainingBalance)
		assert.NotEmpty(t, out.Data.UsageID)

		entries, err := creditRepo.QueryUsageByUser(testCtx, usr.ID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, 10, entries[0].Credits)
		assert.Equal(t, "CV Maker", entries[0].ToolName)
	})

	t.Run("insufficient credits has the 402 shape", func(t *testing.T) {
		// balance is now 0; the server recheck rejects
		req, rec := newAuthRequest(http.MethodPost, "/v1/credits/use", token, useBody("cv-maker"))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusPaymentRequired, rec.Code, rec.Body.String())

		var out struct {
			Success bool                    `json:"success"`
			Error   string                  `json:"error"`
			Data    InsufficientCreditsData `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.False(t, out.Success)
		assert.Equal(t, "INSUFFICIENT_CREDITS", out.Error)
		assert.Equal(t, 10, out.Data.Required)
		assert.Equal(t, 0, out.Data.Available)
		assert.Equal(t, 10, out.Data.Shortfall)
		assert.Equal(t, "CV Maker", out.Data.ToolName)

		// no extra ledger row
		entries, err := creditRepo.QueryUsageByUser(testCtx, usr.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})
}

func Test_creditApi_history(t *testing.T) {
	app, usrRepo, creditRepo := setupServer(t)

	usr := createUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)
	other := createUser(t, usrRepo, "Other", "other1", "other@test.cd", "", []string{user.RoleStudent}, true)
	grantBalance(t, creditRepo, usr.ID, 30)
	grantBalance(t, creditRepo, other.ID, 30)

	tool := createTool(t, creditRepo, "CV Maker", "cv-maker", 10, true)
	_, _, err := creditRepo.DebitForTool(testCtx, usr.ID, tool)
	require.NoError(t, err)
	_, _, err = creditRepo.DebitForTool(testCtx, other.ID, tool)
	require.NoError(t, err)

	req, rec := newAuthRequest(http.MethodGet, "/v1/credits/history", getToken(t, usr))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var entries []credit.UsageEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1) // only the session user's rows
	assert.Equal(t, usr.ID, entries[0].UserID)
}

func Test_creditApi_purchase(t *testing.T) {
	app, usrRepo, _ := setupServer(t)

	usr := createUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)

	body := marchallObj(t, PurchaseRequest{Package: "starter"})
	req, rec := newAuthRequest(http.MethodPost, "/v1/credits/purchase", getToken(t, usr), body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.False(t, out.Success)
	assert.Equal(t, "PURCHASE_UNAVAILABLE", out.Error)
}

func Test_creditApi_grant(t *testing.T) {
	app, usrRepo, creditRepo := setupServer(t)

	admin := createUser(t, usrRepo, "Admin", "admin", "admin@test.cd", "", user.AdminRoles, true)
	student := createUser(t, usrRepo, "Hero", "hero", "hero@test.cd", "", []string{user.RoleStudent}, true)

	body := marchallObj(t, credit.GrantCredits{UserID: student.ID, Amount: 25, Reason: "support"})

	tests := []httpTest{
		{name: "auth required", body: body, wantCode: http.StatusUnauthorized},
		{name: "admin required", body: body, token: getToken(t, student), wantCode: http.StatusForbidden},
		{name: "ok", body: body, token: getToken(t, admin), wantCode: http.StatusOK},
		{
			name: "zero amount rejected", token: getToken(t, admin),
			body:     marchallObj(t, credit.GrantCredits{UserID: student.ID, Amount: 0}),
			wantCode: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/credits/grant", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	bal, err := creditRepo.GetBalance(testCtx, student.ID)
	require.NoError(t, err)
	assert.Equal(t, 25, bal.Amount)
}
