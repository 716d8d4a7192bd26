package echoapi

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmalore/studentos/core/user"
)

func Test_userApi_login(t *testing.T) {
	app, usrRepo, _ := setupServer(t)

	createUser(t, usrRepo, "Hero", "heroic", "hero@test.cd", "LetMeIn_77", []string{user.RoleStudent}, true)
	createUser(t, usrRepo, "Gone", "gone01", "gone@test.cd", "LetMeIn_77", []string{user.RoleStudent}, false)

	login := func(uname, pwd string) []byte {
		return marchallObj(t, LoginRequest{Username: uname, Password: pwd})
	}

	tests := []httpTest{
		{name: "empty body", body: []byte("{}"), wantCode: http.StatusBadRequest},
		{name: "unknown user", body: login("lol", "lol"), wantCode: http.StatusBadRequest},
		{name: "wrong password", body: login("heroic", "lol"), wantCode: http.StatusBadRequest},
		{name: "deactivated account", body: login("gone01", "LetMeIn_77"), wantCode: http.StatusForbidden},
		{name: "login with username", body: login("heroic", "LetMeIn_77"), wantCode: http.StatusOK},
		{name: "login with email", body: login("hero@test.cd", "LetMeIn_77"), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/login", tt.body)
			app.ServeHTTP(rec, req)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				var out LoginResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
				assert.NotEmpty(t, out.Token)
			}
		})
	}
}

func Test_userApi_login_setsLastLogin(t *testing.T) {
	app, usrRepo, _ := setupServer(t)

	usr := createUser(t, usrRepo, "Hero", "heroic", "hero@test.cd", "LetMeIn_77", []string{user.RoleStudent}, true)
	require.False(t, usr.LastLogin.Valid)

	body := marchallObj(t, LoginRequest{Username: "heroic", Password: "LetMeIn_77"})
	req, rec := newRequest(http.MethodPost, "/v1/users/login", body)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	refreshed, err := usrRepo.GetUserByID(testCtx, usr.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.LastLogin.Valid)
}

func Test_userApi_tokenRefresh(t *testing.T) {
	app, usrRepo, _ := setupServer(t)

	usr := createUser(t, usrRepo, "Hero", "heroic", "hero@test.cd", "LetMeIn_77", []string{user.RoleStudent}, true)

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "ok", token: getToken(t, usr), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/users/token-refresh", tt.token)
			app.ServeHTTP(rec, req)

			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusOK {
				var out LoginResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
				assert.NotEmpty(t, out.Token)
			}
		})
	}
}

func Test_userApi_register(t *testing.T) {
	app, usrRepo, creditRepo := setupServer(t)

	admin := createUser(t, usrRepo, "Admin", "admin1", "admin@test.cd", "", user.AdminRoles, true)
	student := createUser(t, usrRepo, "Hero", "heroic", "hero@test.cd", "", []string{user.RoleStudent}, true)

	newUsr := func(uname, email string) []byte {
		return marchallObj(t, user.NewUser{
			Name:            "New User",
			Username:        uname,
			Email:           email,
			Password:        "StrongPass_77",
			PasswordConfirm: "StrongPass_77",
			Roles:           []string{user.RoleStudent},
		})
	}

	tests := []httpTest{
		{name: "auth required", body: newUsr("newbie", "new@test.cd"), wantCode: http.StatusUnauthorized},
		{name: "admin required", body: newUsr("newbie", "new@test.cd"), token: getToken(t, student), wantCode: http.StatusForbidden},
		{name: "ok", body: newUsr("newbie", "new@test.cd"), token: getToken(t, admin), wantCode: http.StatusCreated},
		{name: "duplicate email", body: newUsr("other1", "new@test.cd"), token: getToken(t, admin), wantCode: http.StatusBadRequest},
		{name: "weak password rejected", token: getToken(t, admin), wantCode: http.StatusBadRequest,
			body: marchallObj(t, user.NewUser{
				Name: "New User", Username: "weakie", Email: "weak@test.cd",
				Password: "password", PasswordConfirm: "password",
			}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/users/register", tt.token, tt.body)
			app.ServeHTTP(rec, req)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}

	// the signup bonus balance comes with the new account
	created, err := usrRepo.GetUserByUsername(testCtx, "newbie")
	require.NoError(t, err)
	bal, err := creditRepo.GetBalance(testCtx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, bal.Amount)
}

func Test_userApi_query(t *testing.T) {
	app, usrRepo, _ := setupServer(t)

	admin := createUser(t, usrRepo, "Admin", "admin1", "admin@test.cd", "", user.AdminRoles, true)
	student := createUser(t, usrRepo, "Hero", "heroic", "hero@test.cd", "", []string{user.RoleStudent}, true)

	tests := []httpTest{
		{name: "auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "admin required", path: "/v1/users", token: getToken(t, student),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "get all", path: "/v1/users", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallList(t, admin, student)},
		{name: "search", path: "/v1/users?search=hero", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallList(t, student)},
		{name: "role filter", path: "/v1/users?role=admin:", token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallList(t, admin)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_retrieve(t *testing.T) {
	app, usrRepo, _ := setupServer(t)

	admin := createUser(t, usrRepo, "Admin", "admin1", "admin@test.cd", "", user.AdminRoles, true)
	student := createUser(t, usrRepo, "Hero", "heroic", "hero@test.cd", "", []string{user.RoleStudent}, true)
	other := createUser(t, usrRepo, "Other", "other1", "other@test.cd", "", []string{user.RoleStudent}, true)

	tests := []httpTest{
		{name: "auth required", path: "/v1/users/" + student.ID, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "own user", path: "/v1/users/" + student.ID, token: getToken(t, student), wantCode: http.StatusOK, wantData: marchallObj(t, student)},
		{
			name: "someone else's user", path: "/v1/users/" + other.ID, token: getToken(t, student),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{name: "admin can retrieve anyone", path: "/v1/users/" + other.ID, token: getToken(t, admin), wantCode: http.StatusOK, wantData: marchallObj(t, other)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, tt.path, tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_resetPassword(t *testing.T) {
	app, usrRepo, _ := setupServer(t)

	createUser(t, usrRepo, "Hero", "heroic", "hero@test.cd", "LetMeIn_77", []string{user.RoleStudent}, true)

	tests := []httpTest{
		{name: "invalid email", body: marchallObj(t, PasswordResetRequest{Email: "lol"}), wantCode: http.StatusBadRequest},
		// same response whether or not the account exists
		{name: "unknown email", body: marchallObj(t, PasswordResetRequest{Email: "ghost@test.cd"}), wantCode: http.StatusOK},
		{name: "known email", body: marchallObj(t, PasswordResetRequest{Email: "hero@test.cd"}), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/users/password-reset", tt.body)
			app.ServeHTTP(rec, req)
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}
