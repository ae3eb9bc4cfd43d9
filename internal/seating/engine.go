// Package seating implements the seat reservation engine: a live view of one
// vehicle's seat map kept current by a store subscription, and the
// claim/release/inspect rules applied against that view.
//
// The engine never edits its own view. It decides against the latest
// snapshot it has received, submits a single-document write, and learns the
// result from the next snapshot the store pushes.
package seating

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/logger"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/store"
)

// ClaimMode selects how claims and releases are written.
type ClaimMode string

const (
	// LastWriteWins writes unconditionally after deciding against the
	// local snapshot. Two riders who both saw a seat free can both "win";
	// the later write silently replaces the earlier one.
	LastWriteWins ClaimMode = "last_write_wins"
	// Conditional guards every write with the seat state the decision was
	// based on, so a rider who lost the race gets ErrSeatTaken.
	Conditional ClaimMode = "conditional"
)

// ParseClaimMode maps a configuration value to a ClaimMode, defaulting to
// Conditional.
func ParseClaimMode(s string) ClaimMode {
	if ClaimMode(s) == LastWriteWins {
		return LastWriteWins
	}
	return Conditional
}

// Action names what an attempt did.
type Action string

const (
	ActionClaimed   Action = "claimed"
	ActionReleased  Action = "released"
	ActionInspected Action = "inspected"
	ActionNone      Action = "none"
)

// Outcome is the result of AttemptSeatAction.
type Outcome struct {
	Action Action `json:"action"`
	SeatID string `json:"seat_id"`
	// Occupant is set when an operator inspects an occupied seat.
	Occupant string `json:"occupant,omitempty"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithClaimMode sets the write mode. The default is LastWriteWins.
func WithClaimMode(m ClaimMode) Option {
	return func(e *Engine) { e.mode = m }
}

// Engine is the seat reservation engine for one vehicle.
type Engine struct {
	store     store.Store
	vehicleID string
	mode      ClaimMode

	mu     sync.RWMutex
	seats  []model.Seat
	seq    uint64
	loaded bool
	ready  chan struct{}
}

// NewEngine returns an engine for vehicleID. It holds no snapshot until
// Watch runs or Observe is called.
func NewEngine(s store.Store, vehicleID string, opts ...Option) *Engine {
	e := &Engine{
		store:     s,
		vehicleID: vehicleID,
		mode:      LastWriteWins,
		ready:     make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// VehicleID returns the vehicle this engine serves.
func (e *Engine) VehicleID() string { return e.vehicleID }

// Mode returns the configured claim mode.
func (e *Engine) Mode() ClaimMode { return e.mode }

// Query returns the live query of the vehicle's seats.
func (e *Engine) Query() store.Query {
	return store.Query{Collection: model.SeatsCollection(e.vehicleID)}
}

// Watch subscribes to the vehicle's seats and feeds every snapshot to
// Observe until ctx is cancelled. The subscription is released on return.
func (e *Engine) Watch(ctx context.Context) error {
	sub, err := e.store.Subscribe(ctx, e.Query())
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: subscribe seats: %v", domain.ErrStorageUnavailable, err)
	}
	defer sub.Close()
	for {
		snap, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: seat stream: %v", domain.ErrStorageUnavailable, err)
		}
		e.Observe(snap)
	}
}

// Observe replaces the engine's view with snap unless snap is older than
// the current view.
func (e *Engine) Observe(snap store.Snapshot) {
	seats := SeatsFrom(snap)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.loaded && snap.Seq < e.seq {
		return
	}
	e.seats = seats
	e.seq = snap.Seq
	if !e.loaded {
		e.loaded = true
		close(e.ready)
	}
}

// SeatsFrom decodes a seat snapshot into seat order.
func SeatsFrom(snap store.Snapshot) []model.Seat {
	seats := make([]model.Seat, 0, len(snap.Docs))
	for _, d := range snap.Docs {
		seats = append(seats, model.SeatFromDocument(d))
	}
	SortSeats(seats)
	return seats
}

// WatchSeats calls onChange with the ordered seat map of vehicleID after
// every change until ctx ends. Unlike an Engine it keeps no state, so each
// caller, such as a live client connection, gets its own stream.
func WatchSeats(ctx context.Context, s store.Store, vehicleID string, onChange func([]model.Seat)) error {
	sub, err := s.Subscribe(ctx, store.Query{Collection: model.SeatsCollection(vehicleID)})
	if err != nil {
		return fmt.Errorf("%w: subscribe seats: %v", domain.ErrStorageUnavailable, err)
	}
	defer sub.Close()
	for {
		snap, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: seat stream: %v", domain.ErrStorageUnavailable, err)
		}
		onChange(SeatsFrom(snap))
	}
}

// Ready is closed once the first snapshot has been observed.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// WaitReady blocks until the first snapshot arrives or ctx ends.
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for seat map: %v", domain.ErrStorageUnavailable, ctx.Err())
	}
}

// Seats returns a copy of the current seat map in seat order.
func (e *Engine) Seats() ([]model.Seat, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]model.Seat, len(e.seats))
	copy(out, e.seats)
	return out, e.loaded
}

// SeatOf returns the seat held by riderID in the current view.
func (e *Engine) SeatOf(riderID string) (model.Seat, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return heldBy(e.seats, riderID)
}

// AttemptSeatAction applies a rider's tap on seatID, or reports the
// occupant to an operator. Decisions use the latest observed snapshot.
func (e *Engine) AttemptSeatAction(ctx context.Context, seatID string, actor domain.Actor) (Outcome, error) {
	if !actor.Resolved() {
		return Outcome{}, domain.ErrUnauthenticated
	}
	seats, loaded := e.Seats()
	if !loaded {
		return Outcome{}, fmt.Errorf("%w: seat map for %s not loaded", domain.ErrStorageUnavailable, e.vehicleID)
	}
	d, err := Decide(seats, seatID, actor)
	if err != nil {
		logger.Debug(ctx, "seat action rejected",
			logger.Vehicle(e.vehicleID), logger.Seat(seatID), logger.Rider(actor.ID), logger.Err(err))
		return Outcome{}, err
	}
	if d.Fields == nil {
		return d.Outcome, nil
	}

	path := model.SeatPath(e.vehicleID, seatID)
	if e.mode == Conditional {
		err = e.store.UpdateIf(ctx, path, d.Expect, d.Fields)
	} else {
		err = e.store.Update(ctx, path, d.Fields)
	}
	if err != nil {
		if errors.Is(err, store.ErrPreconditionFailed) && d.Outcome.Action == ActionReleased {
			// The seat is no longer ours in storage; nothing left to free.
			return Outcome{Action: ActionNone, SeatID: seatID}, nil
		}
		return Outcome{}, mapStoreError(err)
	}
	logger.Info(ctx, "seat "+string(d.Outcome.Action),
		logger.Vehicle(e.vehicleID), logger.Seat(seatID), logger.Rider(actor.ID))
	return d.Outcome, nil
}

// Decision is what Decide concluded: the outcome to report and, for
// mutations, the write to perform together with the state it assumed.
type Decision struct {
	Outcome Outcome
	Fields  store.Fields
	Expect  store.Fields
}

// Decide applies the seat rules to a snapshot without touching storage.
func Decide(seats []model.Seat, seatID string, actor domain.Actor) (Decision, error) {
	if !actor.Resolved() {
		return Decision{}, domain.ErrUnauthenticated
	}
	target, ok := find(seats, seatID)
	if !ok {
		return Decision{}, domain.ErrSeatNotFound
	}

	if actor.Role == domain.RoleOperator {
		if target.Occupied() && target.Occupant != "" {
			return Decision{Outcome: Outcome{Action: ActionInspected, SeatID: seatID, Occupant: target.Occupant}}, nil
		}
		return Decision{Outcome: Outcome{Action: ActionNone, SeatID: seatID}}, nil
	}

	mine, holds := heldBy(seats, actor.ID)
	switch {
	case holds && mine.ID == seatID:
		return Decision{
			Outcome: Outcome{Action: ActionReleased, SeatID: seatID},
			Fields:  model.ReleaseFields(),
			Expect:  model.ClaimFields(actor.ID),
		}, nil
	case holds:
		return Decision{}, domain.ErrAlreadyHoldingSeat
	case target.Occupied():
		return Decision{}, domain.ErrSeatTaken
	}
	return Decision{
		Outcome: Outcome{Action: ActionClaimed, SeatID: seatID},
		Fields:  model.ClaimFields(actor.ID),
		Expect:  store.Fields{"status": string(model.SeatFree)},
	}, nil
}

func find(seats []model.Seat, id string) (model.Seat, bool) {
	for _, s := range seats {
		if s.ID == id {
			return s, true
		}
	}
	return model.Seat{}, false
}

func heldBy(seats []model.Seat, riderID string) (model.Seat, bool) {
	for _, s := range seats {
		if s.Occupied() && s.Occupant == riderID {
			return s, true
		}
	}
	return model.Seat{}, false
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrPreconditionFailed):
		return domain.ErrSeatTaken
	case errors.Is(err, store.ErrPermissionDenied):
		return domain.ErrPermissionDenied
	case errors.Is(err, store.ErrNotFound):
		return domain.ErrSeatNotFound
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
