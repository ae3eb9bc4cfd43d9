package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/logger"
	"github.com/iliyamo/campus-shuttle/internal/middleware"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/queue"
	"github.com/iliyamo/campus-shuttle/internal/seating"
	"github.com/iliyamo/campus-shuttle/internal/store"
)

// EventSink receives domain events. *service.Publisher implements it.
type EventSink interface {
	SeatChanged(ctx context.Context, ev queue.SeatChangedEvent) error
	AlertPosted(ctx context.Context, ev queue.AlertPostedEvent) error
}

// SeatHandler serves the seat map of each vehicle.
type SeatHandler struct {
	Seats        *seating.Registry
	Store        store.Store
	Events       EventSink
	PingInterval time.Duration
}

func NewSeatHandler(r *seating.Registry, s store.Store, events EventSink, ping time.Duration) *SeatHandler {
	if r == nil || s == nil {
		panic("nil dependency passed to NewSeatHandler")
	}
	return &SeatHandler{Seats: r, Store: s, Events: events, PingInterval: ping}
}

// seatView is a seat as shown to one caller. Riders see which seats are
// taken and which one is theirs; operators also see who sits where.
type seatView struct {
	ID       string           `json:"id"`
	Status   model.SeatStatus `json:"status"`
	Mine     bool             `json:"mine"`
	Occupant string           `json:"occupant,omitempty"`
}

func viewSeats(seats []model.Seat, actor domain.Actor) []seatView {
	out := make([]seatView, 0, len(seats))
	for _, s := range seats {
		v := seatView{ID: s.ID, Status: s.Status, Mine: s.Occupied() && s.Occupant == actor.ID}
		if actor.Role == domain.RoleOperator {
			v.Occupant = s.Occupant
		}
		out = append(out, v)
	}
	return out
}

// List handles GET /v1/vehicles/:id/seats.
func (h *SeatHandler) List(c echo.Context) error {
	actor := middleware.ActorFrom(c)

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	e, err := h.Seats.Engine(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if err := e.WaitReady(ctx); err != nil {
		return fail(c, err)
	}
	seats, _ := e.Seats()
	return c.JSON(http.StatusOK, echo.Map{
		"vehicle_id": e.VehicleID(),
		"seats":      viewSeats(seats, actor),
	})
}

// Action handles POST /v1/vehicles/:id/seats/:seat/action: a rider's tap
// claims or releases, an operator's tap reveals the occupant.
func (h *SeatHandler) Action(c echo.Context) error {
	actor := middleware.ActorFrom(c)
	seatID := c.Param("seat")

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	e, err := h.Seats.Engine(ctx, c.Param("id"))
	if err != nil {
		return fail(c, err)
	}
	if err := e.WaitReady(ctx); err != nil {
		return fail(c, err)
	}
	out, err := e.AttemptSeatAction(ctx, seatID, actor)
	if err != nil {
		return fail(c, err)
	}
	if out.Action == seating.ActionClaimed || out.Action == seating.ActionReleased {
		h.publish(c.Request().Context(), queue.SeatChangedEvent{
			VehicleID:  e.VehicleID(),
			SeatID:     seatID,
			RiderID:    actor.ID,
			Action:     string(out.Action),
			Mode:       string(e.Mode()),
			OccurredAt: model.FormatTimestamp(time.Now()),
		})
	}
	return c.JSON(http.StatusOK, out)
}

// publish sends ev in the background; the response never waits on the
// broker.
func (h *SeatHandler) publish(ctx context.Context, ev queue.SeatChangedEvent) {
	if h.Events == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := h.Events.SeatChanged(ctx, ev); err != nil {
			logger.Debug(ctx, "seat event not published", logger.Seat(ev.SeatID), logger.Err(err))
		}
	}()
}

// Live handles GET /v1/vehicles/:id/seats/live, pushing the full seat map
// on every change.
func (h *SeatHandler) Live(c echo.Context) error {
	actor := middleware.ActorFrom(c)
	vehicleID := c.Param("id")
	if err := seating.CheckVehicle(c.Request().Context(), h.Store, vehicleID); err != nil {
		return fail(c, err)
	}
	return stream(c, h.PingInterval, "seats", func(ctx context.Context, send func(any)) error {
		return seating.WatchSeats(ctx, h.Store, vehicleID, func(seats []model.Seat) {
			send(viewSeats(seats, actor))
		})
	})
}
