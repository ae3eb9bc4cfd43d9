package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/campus-shuttle/internal/config"
	"github.com/iliyamo/campus-shuttle/internal/handler"
	"github.com/iliyamo/campus-shuttle/internal/identity"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/repository"
	"github.com/iliyamo/campus-shuttle/internal/router"
	"github.com/iliyamo/campus-shuttle/internal/store"
	"github.com/iliyamo/campus-shuttle/internal/utils"
)

func testConfig() config.Config {
	return config.Config{
		Env:            "test",
		JWTSecret:      secret,
		AccessTTLMin:   5,
		RefreshTTLDays: 1,
		BcryptCost:     4,
	}
}

type users map[string]model.User

func (u users) GetByEmail(_ context.Context, email string) (model.User, error) {
	for _, x := range u {
		if x.Email == email {
			return x, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (u users) GetByID(_ context.Context, id string) (model.User, error) {
	x, ok := u[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return x, nil
}

type tokens struct {
	mu    sync.Mutex
	owner map[string]string // hash -> user id, revoked hashes removed
}

func (s *tokens) StoreRefresh(_ context.Context, userID, hash string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owner[hash] = userID
	return nil
}

func (s *tokens) ValidateRefresh(_ context.Context, hash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.owner[hash]
	if !ok {
		return "", repository.ErrTokenInvalid
	}
	return id, nil
}

func (s *tokens) Rotate(_ context.Context, oldHash, newHash string, _ time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.owner[oldHash]
	if !ok {
		return "", repository.ErrTokenInvalid
	}
	delete(s.owner, oldHash)
	s.owner[newHash] = id
	return id, nil
}

func (s *tokens) RevokeByHash(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owner, hash)
	return nil
}

func (s *tokens) RevokeAllForUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, id := range s.owner {
		if id == userID {
			delete(s.owner, h)
		}
	}
	return nil
}

func (s *tokens) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.owner)
}

type authEnv struct {
	e      *echo.Echo
	tokens *tokens
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()
	hash, err := utils.HashPassword("s3cret", 4)
	require.NoError(t, err)

	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Set(ctx, model.RiderPath("u-alice"), store.Fields{"name": "Alice", "role": "STUDENT", "tax_id": "12345678901"}))

	accounts := users{
		"u-alice":   {ID: "u-alice", Email: "alice@campus.edu", PasswordHash: hash, Role: "STUDENT", IsActive: true},
		"u-ghost":   {ID: "u-ghost", Email: "ghost@campus.edu", PasswordHash: hash, Role: "STUDENT", IsActive: true},
		"u-blocked": {ID: "u-blocked", Email: "blocked@campus.edu", PasswordHash: hash, Role: "STUDENT", IsActive: false},
	}
	tok := &tokens{owner: map[string]string{}}

	e := echo.New()
	router.RegisterAuth(e, handler.NewAuthHandler(testConfig(), accounts, tok, identity.NewProvider(mem)), secret)
	return &authEnv{e: e, tokens: tok}
}

func (a *authEnv) post(path, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

type pair struct {
	Profile model.Profile `json:"profile"`
	Access  struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

func (a *authEnv) login(t *testing.T) pair {
	t.Helper()
	rec := a.post("/v1/auth/login", `{"email":" Alice@Campus.edu ","password":"s3cret"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p pair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestLogin(t *testing.T) {
	a := newAuthEnv(t)
	p := a.login(t)
	assert.Equal(t, "Alice", p.Profile.Name)
	assert.Equal(t, "123.456.789-01", p.Profile.TaxID)
	assert.NotEmpty(t, p.Refresh.Token)
	assert.Equal(t, 1, a.tokens.count())

	claims, err := utils.ParseAccessToken(secret, p.Access.Token)
	require.NoError(t, err)
	assert.Equal(t, "u-alice", claims.UserID)
	assert.Equal(t, "STUDENT", claims.Role)
}

func TestLoginRejections(t *testing.T) {
	a := newAuthEnv(t)
	cases := []struct {
		name string
		body string
		code int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing password", `{"email":"alice@campus.edu"}`, http.StatusBadRequest},
		{"unknown email", `{"email":"nobody@campus.edu","password":"s3cret"}`, http.StatusUnauthorized},
		{"wrong password", `{"email":"alice@campus.edu","password":"nope"}`, http.StatusUnauthorized},
		{"inactive", `{"email":"blocked@campus.edu","password":"s3cret"}`, http.StatusUnauthorized},
		{"no profile", `{"email":"ghost@campus.edu","password":"s3cret"}`, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.code, a.post("/v1/auth/login", tc.body, "").Code)
		})
	}
	assert.Zero(t, a.tokens.count())
}

func TestRefreshRotates(t *testing.T) {
	a := newAuthEnv(t)
	p := a.login(t)

	rec := a.post("/v1/auth/refresh", `{"refresh_token":"`+p.Refresh.Token+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var next pair
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &next))
	assert.NotEqual(t, p.Refresh.Token, next.Refresh.Token)
	assert.Equal(t, 1, a.tokens.count())

	// The old token is spent.
	rec = a.post("/v1/auth/refresh", `{"refresh_token":"`+p.Refresh.Token+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.post("/v1/auth/refresh-access", `{"refresh_token":"`+next.Refresh.Token+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"access"`)
	assert.Equal(t, 1, a.tokens.count())

	assert.Equal(t, http.StatusBadRequest, a.post("/v1/auth/refresh", `{}`, "").Code)
}

func TestLogout(t *testing.T) {
	a := newAuthEnv(t)
	first := a.login(t)
	second := a.login(t)
	require.Equal(t, 2, a.tokens.count())

	rec := a.post("/v1/auth/logout", `{"refresh_token":"`+first.Refresh.Token+`"}`, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, a.tokens.count())

	rec = a.post("/v1/auth/logout", `{"refresh_token":"`+first.Refresh.Token+`"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.post("/v1/auth/logout", `{}`, second.Access.Token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, a.tokens.count())

	assert.Equal(t, http.StatusBadRequest, a.post("/v1/auth/logout", `{}`, "").Code)
}
