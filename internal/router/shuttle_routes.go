package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/handler"
	"github.com/iliyamo/campus-shuttle/internal/middleware"
)

const (
	rider    = string(domain.RoleRider)
	operator = string(domain.RoleOperator)
)

// RegisterSeats registers the seat map of each vehicle. limit guards the
// write endpoint.
func RegisterSeats(g *echo.Group, h *handler.SeatHandler, limit echo.MiddlewareFunc) {
	g.GET("/vehicles/:id/seats", h.List)
	g.GET("/vehicles/:id/seats/live", h.Live)
	g.POST("/vehicles/:id/seats/:seat/action", h.Action, limit)
}

// RegisterPassengers registers passenger counts and the rider's own status
// and check-in.
func RegisterPassengers(g *echo.Group, h *handler.PassengerHandler, limit echo.MiddlewareFunc) {
	g.GET("/passengers/counts", h.Counts)
	g.GET("/passengers/live", h.Live)

	me := g.Group("/me", middleware.RequireRole(rider), limit)
	me.PUT("/status", h.SetStatus)
	me.POST("/check-in", h.CheckIn)
	me.POST("/check-out", h.CheckOut)
}

// RegisterAlerts registers the alert channels. The channel list is served
// through cache; posting is limited to operators.
func RegisterAlerts(g *echo.Group, h *handler.AlertHandler, cache, limit echo.MiddlewareFunc) {
	g.GET("/channels", h.Channels, cache)
	g.GET("/channels/:name/alerts", h.List)
	g.GET("/channels/:name/alerts/live", h.Live)
	g.POST("/channels/:name/alerts", h.Post, middleware.RequireRole(operator), limit)
}
