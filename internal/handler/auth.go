package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/campus-shuttle/internal/config"
	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/middleware"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/repository"
	"github.com/iliyamo/campus-shuttle/internal/utils"
)

// UserFinder reads login accounts.
type UserFinder interface {
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
}

// TokenStore persists refresh token hashes.
type TokenStore interface {
	StoreRefresh(ctx context.Context, userID, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (string, error)
	Rotate(ctx context.Context, oldHash, newHash string, exp time.Time) (string, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// AuthHandler bundles dependencies for auth endpoints. Accounts are
// provisioned outside this service; there is no registration.
type AuthHandler struct {
	Cfg      config.Config
	Users    UserFinder
	Tokens   TokenStore
	Profiles middleware.ProfileSource
}

func NewAuthHandler(cfg config.Config, u UserFinder, t TokenStore, p middleware.ProfileSource) *AuthHandler {
	return &AuthHandler{Cfg: cfg, Users: u, Tokens: t, Profiles: p}
}

type loginReq struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token" validate:"required,hexadecimal"`
}

// logoutReq carries an optional refresh token.
type logoutReq struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,hexadecimal"`
}

type tokenPart struct {
	Token   string    `json:"token"`
	Expires time.Time `json:"expires"`
}

type authResp struct {
	Profile model.Profile `json:"profile"`
	Access  tokenPart     `json:"access"`
	Refresh tokenPart     `json:"refresh"`
}

// Login verifies credentials and returns a token pair. Accounts without a
// rider profile are refused, the same way the app signs them out.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	u, err := h.Users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			utils.VerifyPassword("", req.Password)
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "query failed"})
	}
	if !utils.VerifyPassword(u.PasswordHash, req.Password) || !u.IsActive {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	actor, prof, err := h.Profiles.Actor(ctx, u.ID)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "account has no profile"})
		}
		return fail(c, err)
	}
	return h.issuePair(ctx, c, http.StatusOK, actor, prof, "")
}

// Refresh exchanges a refresh token for a new pair, revoking the old one.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	hash := utils.HashRefreshRaw(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	actor, prof, err := h.refreshOwner(ctx, hash)
	if err != nil {
		return fail(c, err)
	}
	return h.issuePair(ctx, c, http.StatusOK, actor, prof, hash)
}

// RefreshAccess returns a new access token without rotating the refresh
// token.
func (h *AuthHandler) RefreshAccess(c echo.Context) error {
	var req refreshReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	hash := utils.HashRefreshRaw(req.RefreshToken)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	actor, _, err := h.refreshOwner(ctx, hash)
	if err != nil {
		return fail(c, err)
	}
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, actor.ID, string(actor.Role), h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"access": tokenPart{Token: access.Token, Expires: access.Exp},
	})
}

// refreshOwner resolves the active account behind a refresh token hash.
func (h *AuthHandler) refreshOwner(ctx context.Context, hash string) (domain.Actor, model.Profile, error) {
	userID, err := h.Tokens.ValidateRefresh(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrTokenInvalid) {
			return domain.Actor{}, model.Profile{}, domain.ErrUnauthenticated
		}
		return domain.Actor{}, model.Profile{}, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	u, err := h.Users.GetByID(ctx, userID)
	if err != nil || !u.IsActive {
		return domain.Actor{}, model.Profile{}, domain.ErrUnauthenticated
	}
	return h.Profiles.Actor(ctx, userID)
}

// issuePair signs an access token, stores a fresh refresh token and writes
// both. When oldHash is set the old refresh token is rotated out in the
// same transaction.
func (h *AuthHandler) issuePair(ctx context.Context, c echo.Context, code int, actor domain.Actor, prof model.Profile, oldHash string) error {
	access, err := utils.NewAccessToken(h.Cfg.JWTSecret, actor.ID, string(actor.Role), h.Cfg.AccessTTLMin)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue access failed"})
	}
	refresh, err := utils.NewRefreshToken(h.Cfg.RefreshTTLDays)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "issue refresh failed"})
	}
	newHash := utils.HashRefreshRaw(refresh.Raw)
	if oldHash != "" {
		if _, err := h.Tokens.Rotate(ctx, oldHash, newHash, refresh.Exp); err != nil {
			if errors.Is(err, repository.ErrTokenInvalid) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh"})
			}
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save refresh failed"})
		}
	} else if err := h.Tokens.StoreRefresh(ctx, actor.ID, newHash, refresh.Exp); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "save refresh failed"})
	}
	return c.JSON(code, authResp{
		Profile: prof,
		Access:  tokenPart{Token: access.Token, Expires: access.Exp},
		Refresh: tokenPart{Token: refresh.Raw, Expires: refresh.Exp},
	})
}

// Logout revokes one session when a refresh_token is posted, or every
// session of the bearer when only an access token is presented.
func (h *AuthHandler) Logout(c echo.Context) error {
	var userID string
	if auth := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(auth, "Bearer ") {
		if claims, err := utils.ParseAccessToken(h.Cfg.JWTSecret, strings.TrimPrefix(auth, "Bearer ")); err == nil {
			userID = claims.UserID
		}
	}
	var req logoutReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	refreshToken := req.RefreshToken

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	switch {
	case refreshToken != "":
		hash := utils.HashRefreshRaw(refreshToken)
		if _, err := h.Tokens.ValidateRefresh(ctx, hash); err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid refresh token"})
		}
		if err := h.Tokens.RevokeByHash(ctx, hash); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
		}
		return c.NoContent(http.StatusNoContent)
	case userID != "":
		if err := h.Tokens.RevokeAllForUser(ctx, userID); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "logout failed"})
		}
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "provide Authorization header or refresh_token"})
}

// Me returns the caller's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	return c.JSON(http.StatusOK, middleware.ProfileFrom(c))
}
