// Package router registers the HTTP routes of the API on an echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/campus-shuttle/internal/handler"
	"github.com/iliyamo/campus-shuttle/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the token endpoints under /v1/auth and the
// caller's profile at /v1/me.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh) // rotates the refresh token
	g.POST("/refresh-access", a.RefreshAccess)
	// Logout takes a refresh token in the body, or a bearer token to end
	// every session, so it sits outside JWTAuth.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1", middleware.JWTAuth(jwtSecret), middleware.ResolveActor(a.Profiles))
	auth.GET("/me", a.Me)
}

// Protected returns the /v1 group every shuttle route lives in: a valid
// access token and a rider profile are required.
func Protected(e *echo.Echo, jwtSecret string, profiles middleware.ProfileSource) *echo.Group {
	return e.Group("/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.ResolveActor(profiles),
		middleware.RequireRole(rider, operator),
	)
}
