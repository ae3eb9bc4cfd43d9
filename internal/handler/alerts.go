package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/campus-shuttle/internal/alert"
	"github.com/iliyamo/campus-shuttle/internal/logger"
	"github.com/iliyamo/campus-shuttle/internal/middleware"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/queue"
)

// AlertHandler serves the per-campus alert channels.
type AlertHandler struct {
	Alerts       *alert.Service
	Events       EventSink
	PageSize     int
	PingInterval time.Duration
}

func NewAlertHandler(s *alert.Service, events EventSink, pageSize int, ping time.Duration) *AlertHandler {
	if s == nil {
		panic("nil alert service passed to NewAlertHandler")
	}
	return &AlertHandler{Alerts: s, Events: events, PageSize: pageSize, PingInterval: ping}
}

// Channels handles GET /v1/channels.
func (h *AlertHandler) Channels(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"channels": h.Alerts.Channels()})
}

// List handles GET /v1/channels/:name/alerts.
func (h *AlertHandler) List(c echo.Context) error {
	channel, err := h.Alerts.ChannelFor(middleware.ActorFrom(c), middleware.ProfileFrom(c), c.Param("name"))
	if err != nil {
		return fail(c, err)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	msgs, err := h.Alerts.List(ctx, channel, h.PageSize)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"channel": channel, "alerts": msgs})
}

type postAlertReq struct {
	Text string `json:"text" validate:"required,max=1000"`
}

// Post handles POST /v1/channels/:name/alerts.
func (h *AlertHandler) Post(c echo.Context) error {
	var req postAlertReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	msg, err := h.Alerts.Post(ctx, middleware.ActorFrom(c), c.Param("name"), req.Text)
	if err != nil {
		return fail(c, err)
	}
	channel, _ := h.Alerts.Resolve(c.Param("name"))
	h.publish(c.Request().Context(), queue.AlertPostedEvent{
		Channel:    channel,
		MessageID:  msg.ID,
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Text:       msg.Text,
		PostedAt:   model.FormatTimestamp(msg.CreatedAt),
	})
	return c.JSON(http.StatusCreated, msg)
}

func (h *AlertHandler) publish(ctx context.Context, ev queue.AlertPostedEvent) {
	if h.Events == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := h.Events.AlertPosted(ctx, ev); err != nil {
			logger.Debug(ctx, "alert event not published", logger.Channel(ev.Channel), logger.Err(err))
		}
	}()
}

// Live handles GET /v1/channels/:name/alerts/live.
func (h *AlertHandler) Live(c echo.Context) error {
	channel, err := h.Alerts.ChannelFor(middleware.ActorFrom(c), middleware.ProfileFrom(c), c.Param("name"))
	if err != nil {
		return fail(c, err)
	}
	return stream(c, h.PingInterval, "alerts", func(ctx context.Context, send func(any)) error {
		return h.Alerts.Watch(ctx, channel, h.PageSize, func(msgs []model.AlertMessage) {
			send(msgs)
		})
	})
}
