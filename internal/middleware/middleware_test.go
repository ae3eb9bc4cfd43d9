package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/campus-shuttle/internal/access"
	"github.com/iliyamo/campus-shuttle/internal/config"
	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/utils"
)

const secret = "test-secret"

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	at, err := utils.NewAccessToken(secret, userID, role, 5)
	require.NoError(t, err)
	return at.Token
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/who", func(c echo.Context) error {
		return c.String(http.StatusOK, UserID(c)+"/"+c.Get("role").(string))
	}, JWTAuth(secret))

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, "u1", "STUDENT"))
	rec := serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1/STUDENT", rec.Body.String())

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/who?access_token="+token(t, "u2", "DRIVER"), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u2/DRIVER", rec.Body.String())

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/who", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer nope")
	rec = serve(e, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"invalid token"}`, rec.Body.String())
}

type fakeProfiles map[string]domain.Actor

func (f fakeProfiles) Actor(_ context.Context, id string) (domain.Actor, model.Profile, error) {
	a, ok := f[id]
	if !ok {
		return domain.Actor{}, model.Profile{}, domain.ErrUnauthenticated
	}
	return a, model.Profile{ID: a.ID, Name: a.Name, Campus: "Unip"}, nil
}

func TestResolveActorAndRole(t *testing.T) {
	profiles := fakeProfiles{
		"rider":  {ID: "rider", Role: domain.RoleRider, Name: "Ana"},
		"driver": {ID: "driver", Role: domain.RoleOperator, Name: "Caio"},
	}
	e := echo.New()
	e.POST("/post", func(c echo.Context) error {
		a, ok := access.ActorFrom(c.Request().Context())
		require.True(t, ok)
		return c.String(http.StatusOK, a.Name+"@"+ProfileFrom(c).Campus+"/"+ActorFrom(c).ID)
	}, JWTAuth(secret), ResolveActor(profiles), RequireRole(string(domain.RoleOperator)))

	call := func(userID, role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/post", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token(t, userID, role))
		return serve(e, req)
	}

	rec := call("driver", "DRIVER")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Caio@Unip/driver", rec.Body.String())

	// The profile's role wins over a forged claim.
	assert.Equal(t, http.StatusForbidden, call("rider", "DRIVER").Code)
	assert.Equal(t, http.StatusUnauthorized, call("ghost", "DRIVER").Code)
}

func TestNilRedisPassesThrough(t *testing.T) {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.String(http.StatusOK, "ok") },
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil),
		NewRedisCache(config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}}, nil))

	for i := 0; i < 3; i++ {
		rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Cache"))
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/vehicles/V1/seats/1A/action", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/vehicles/:id/seats/:seat/action")
	c.Set("user_id", "u1")

	cfg := config.RateLimitConfig{Prefix: "rl"}
	assert.Equal(t, "rl:user:u1:route:POST /v1/vehicles/:id/seats/:seat/action", buildRateKey(cfg, c))
	cfg.KeyStrategy = "ip"
	assert.Equal(t, "rl:ip:10.0.0.1", buildRateKey(cfg, c))
}

func TestCaptureWriterStopsAtLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 4}
	_, _ = cw.Write([]byte("abc"))
	_, _ = cw.Write([]byte("def"))
	assert.True(t, cw.truncated)
	assert.Equal(t, "abc", cw.buf.String())
	assert.Equal(t, "abcdef", rec.Body.String())
}
