// Package access enforces who may write what in the live store. Reads are
// open to every signed-in user; writes are checked against the actor found
// in the request context.
package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/store"
)

type actorKey struct{}

// WithActor returns a context carrying a.
func WithActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, if any.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.Actor)
	return a, ok && a.Resolved()
}

// Guarded is a store whose writes are checked against access rules.
type Guarded struct {
	inner store.Store
}

// Guard wraps s with the access rules.
func Guard(s store.Store) *Guarded {
	return &Guarded{inner: s}
}

var _ store.Store = (*Guarded)(nil)

func (g *Guarded) Get(ctx context.Context, path string) (store.Document, error) {
	return g.inner.Get(ctx, path)
}

func (g *Guarded) Query(ctx context.Context, q store.Query) (store.Snapshot, error) {
	return g.inner.Query(ctx, q)
}

func (g *Guarded) Subscribe(ctx context.Context, q store.Query) (*store.Subscription, error) {
	return g.inner.Subscribe(ctx, q)
}

func (g *Guarded) Update(ctx context.Context, path string, fields store.Fields) error {
	if err := g.checkUpdate(ctx, path, fields); err != nil {
		return err
	}
	return g.inner.Update(ctx, path, fields)
}

func (g *Guarded) UpdateIf(ctx context.Context, path string, expect, fields store.Fields) error {
	if err := g.checkUpdate(ctx, path, fields); err != nil {
		return err
	}
	return g.inner.UpdateIf(ctx, path, expect, fields)
}

// Set is never allowed through the guard; seats and profiles are
// provisioned directly on the backing store.
func (g *Guarded) Set(ctx context.Context, path string, _ store.Fields) error {
	return denied(path, "documents cannot be replaced")
}

func (g *Guarded) Add(ctx context.Context, collection string, fields store.Fields) (string, error) {
	a, ok := ActorFrom(ctx)
	if !ok {
		return "", denied(collection, "no actor")
	}
	segs := strings.Split(collection, "/")
	if len(segs) != 3 || segs[0] != "channels" || segs[2] != "messages" {
		return "", denied(collection, "collection is read-only")
	}
	if a.Role != domain.RoleOperator {
		return "", denied(collection, "only operators post alerts")
	}
	if fields.String("author_id") != a.ID {
		return "", denied(collection, "author must be the caller")
	}
	return g.inner.Add(ctx, collection, fields)
}

func (g *Guarded) checkUpdate(ctx context.Context, path string, fields store.Fields) error {
	a, ok := ActorFrom(ctx)
	if !ok {
		return denied(path, "no actor")
	}
	segs := strings.Split(path, "/")
	switch {
	case len(segs) == 4 && segs[0] == "vehicles" && segs[2] == "seats":
		return g.checkSeat(ctx, a, path, fields)
	case len(segs) == 2 && segs[0] == model.RidersCollection:
		return checkRider(a, segs[1], path, fields)
	}
	return denied(path, "document is read-only")
}

func (g *Guarded) checkSeat(ctx context.Context, a domain.Actor, path string, fields store.Fields) error {
	if a.Role != domain.RoleRider {
		return denied(path, "only riders hold seats")
	}
	for k := range fields {
		if k != "status" && k != "occupant" {
			return denied(path, "field "+k+" is read-only")
		}
	}
	// Status and occupant move together: an occupied seat names its
	// rider, a free seat names nobody.
	occ := fields["occupant"]
	switch fields.String("status") {
	case string(model.SeatOccupied):
		if occ != a.ID {
			return denied(path, "riders may only claim seats for themselves")
		}
		return nil
	case string(model.SeatFree):
		if occ != nil {
			return denied(path, "a free seat has no occupant")
		}
	default:
		return denied(path, "seat status is required")
	}
	cur, err := g.inner.Get(ctx, path)
	if err != nil {
		return err
	}
	seat := model.SeatFromDocument(cur)
	if seat.Occupied() && seat.Occupant != a.ID {
		return denied(path, "seat held by another rider")
	}
	return nil
}

func checkRider(a domain.Actor, id, path string, fields store.Fields) error {
	if id != a.ID {
		return denied(path, "riders may only update their own record")
	}
	for k := range fields {
		if k != model.FieldStatusTag && k != model.FieldVehicle {
			return denied(path, "field "+k+" is read-only")
		}
	}
	return nil
}

func denied(path, reason string) error {
	return fmt.Errorf("%w: %s: %s", store.ErrPermissionDenied, path, reason)
}
