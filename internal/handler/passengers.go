package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/middleware"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/passenger"
)

// PassengerHandler serves passenger counts and the caller's own status.
type PassengerHandler struct {
	Passengers     *passenger.Aggregator
	DefaultVehicle string
	PingInterval   time.Duration
}

func NewPassengerHandler(a *passenger.Aggregator, defaultVehicle string, ping time.Duration) *PassengerHandler {
	if a == nil {
		panic("nil aggregator passed to NewPassengerHandler")
	}
	return &PassengerHandler{Passengers: a, DefaultVehicle: defaultVehicle, PingInterval: ping}
}

type countView struct {
	Status model.StatusCategory `json:"status"`
	Label  string               `json:"label"`
	Count  int                  `json:"count"`
}

type countsResp struct {
	VehicleID string      `json:"vehicle_id"`
	Total     int         `json:"total"`
	Counts    []countView `json:"counts"`
}

func viewCounts(vehicleID string, c passenger.Counts) countsResp {
	out := countsResp{VehicleID: vehicleID, Total: c.Total()}
	for _, k := range model.StatusCategories {
		out.Counts = append(out.Counts, countView{Status: k, Label: k.Label(), Count: c[k]})
	}
	return out
}

// vehicleFor picks the vehicle whose counts the caller sees. Riders always
// see the vehicle they are checked into. Operators may name one in
// ?vehicle_id= and otherwise see their own or the default vehicle.
func (h *PassengerHandler) vehicleFor(c echo.Context) string {
	own := middleware.ProfileFrom(c).VehicleID
	if middleware.ActorFrom(c).Role != domain.RoleOperator {
		return own
	}
	if v := strings.TrimSpace(c.QueryParam("vehicle_id")); v != "" {
		return v
	}
	if own != "" {
		return own
	}
	return h.DefaultVehicle
}

// Counts handles GET /v1/passengers/counts.
func (h *PassengerHandler) Counts(c echo.Context) error {
	vehicleID := h.vehicleFor(c)
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	counts, err := h.Passengers.Counts(ctx, vehicleID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, viewCounts(vehicleID, counts))
}

// Live handles GET /v1/passengers/live.
func (h *PassengerHandler) Live(c echo.Context) error {
	vehicleID := h.vehicleFor(c)
	if vehicleID == "" {
		return fail(c, domain.ErrNotCheckedIn)
	}
	return stream(c, h.PingInterval, "counts", func(ctx context.Context, send func(any)) error {
		return h.Passengers.Watch(ctx, vehicleID, func(counts passenger.Counts) {
			send(viewCounts(vehicleID, counts))
		})
	})
}

type statusReq struct {
	Status string `json:"status" validate:"required"`
}

// SetStatus handles PUT /v1/me/status.
func (h *PassengerHandler) SetStatus(c echo.Context) error {
	var req statusReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	status := model.StatusCategory(strings.ToLower(strings.TrimSpace(req.Status)))
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	err := h.Passengers.SetOwnStatus(ctx, middleware.ActorFrom(c), middleware.ProfileFrom(c).VehicleID, status)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": status})
}

type checkInReq struct {
	VehicleID string `json:"vehicle_id" validate:"omitempty,max=32,alphanum"`
}

// CheckIn handles POST /v1/me/check-in. Without a vehicle_id the rider is
// checked into the default vehicle.
func (h *PassengerHandler) CheckIn(c echo.Context) error {
	var req checkInReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	vehicleID := strings.TrimSpace(req.VehicleID)
	if vehicleID == "" {
		vehicleID = h.DefaultVehicle
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Passengers.CheckIn(ctx, middleware.ActorFrom(c), vehicleID); err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"vehicle_id": vehicleID, "status": model.StatusWaiting})
}

// CheckOut handles POST /v1/me/check-out.
func (h *PassengerHandler) CheckOut(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Passengers.CheckOut(ctx, middleware.ActorFrom(c)); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
