package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/logger"
)

// statusOf maps a domain error to its HTTP status and client message.
func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden, "permission denied"
	case errors.Is(err, domain.ErrSeatNotFound):
		return http.StatusNotFound, "seat not found"
	case errors.Is(err, domain.ErrVehicleNotFound):
		return http.StatusNotFound, "vehicle not found"
	case errors.Is(err, domain.ErrUnknownChannel):
		return http.StatusNotFound, "unknown channel"
	case errors.Is(err, domain.ErrAlreadyHoldingSeat):
		return http.StatusConflict, "already holding a seat"
	case errors.Is(err, domain.ErrSeatTaken):
		return http.StatusConflict, "seat taken"
	case errors.Is(err, domain.ErrNotCheckedIn):
		return http.StatusPreconditionFailed, "not checked in"
	case errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid status"
	case errors.Is(err, domain.ErrEmptyMessage):
		return http.StatusBadRequest, "message is empty"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable"
	}
	return http.StatusInternalServerError, "internal error"
}

// fail writes err as {"error": ...}. Storage failures are marked retryable.
func fail(c echo.Context, err error) error {
	code, msg := statusOf(err)
	body := echo.Map{"error": msg}
	switch code {
	case http.StatusServiceUnavailable:
		body["retryable"] = true
		logger.Warn(c.Request().Context(), "request failed", logger.Err(err))
	case http.StatusInternalServerError:
		logger.Error(c.Request().Context(), "request failed", logger.Err(err))
	}
	return c.JSON(code, body)
}
