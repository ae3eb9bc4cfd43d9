// Package domain holds the acting identity and the error taxonomy shared by
// the seat reservation engine, the passenger status aggregator and the alert
// channels. Every error here is recoverable by the user retrying; handlers
// translate them into HTTP responses.
package domain

import "errors"

// ErrUnauthenticated is returned when an operation requires a resolved
// identity and none is available.
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrAlreadyHoldingSeat is returned when a rider who already holds a seat
// tries to claim a different one. The rider must release first.
var ErrAlreadyHoldingSeat = errors.New("rider already holds another seat")

// ErrSeatTaken is returned when the target seat is occupied by someone else.
var ErrSeatTaken = errors.New("seat already taken")

// ErrNotCheckedIn is returned when a rider without a vehicle association
// tries to report a status.
var ErrNotCheckedIn = errors.New("rider is not checked into a vehicle")

// ErrStorageUnavailable wraps subscription or write failures at the store
// boundary. Callers may retry.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrSeatNotFound is returned when the target seat is not part of the
// vehicle's seat map.
var ErrSeatNotFound = errors.New("seat not found")

// ErrVehicleNotFound is returned for a vehicle with no provisioned seats.
var ErrVehicleNotFound = errors.New("vehicle not found")

// ErrInvalidStatus is returned for status categories outside the fixed set.
var ErrInvalidStatus = errors.New("invalid status category")

// ErrPermissionDenied is returned when the store's access rules reject a
// write for the acting identity.
var ErrPermissionDenied = errors.New("permission denied")

// ErrUnknownChannel is returned for alert channels that are not configured.
var ErrUnknownChannel = errors.New("unknown alert channel")

// ErrEmptyMessage is returned when an alert has no text after trimming.
var ErrEmptyMessage = errors.New("empty alert message")
