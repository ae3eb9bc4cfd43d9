// Package repository holds the MySQL-backed account tables: users and
// their refresh tokens. Seat, rider and alert data live in the document
// store instead.
package repository

import "errors"

// ErrNotFound is returned when no row matches. Handlers turn it into 401
// for credential lookups.
var ErrNotFound = errors.New("not found")

// ErrTokenInvalid is returned for refresh tokens that are unknown, revoked
// or expired.
var ErrTokenInvalid = errors.New("refresh token invalid")
