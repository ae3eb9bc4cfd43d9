// Package passenger tracks which riders are checked into a vehicle and
// what they report about themselves, and turns that into per-category
// counts for everyone aboard.
package passenger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/logger"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/store"
)

// Counts maps every status category to the number of riders reporting it.
type Counts map[model.StatusCategory]int

// Total returns the number of riders counted across categories.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Aggregate counts records by category. Every category is present, starting
// at zero; records with an unknown category are ignored.
func Aggregate(records []model.RiderStatus) Counts {
	out := make(Counts, len(model.StatusCategories))
	for _, c := range model.StatusCategories {
		out[c] = 0
	}
	for _, r := range records {
		if _, ok := out[r.Status]; ok {
			out[r.Status]++
		}
	}
	return out
}

// FromSnapshot decodes a rider snapshot and aggregates it.
func FromSnapshot(snap store.Snapshot) Counts {
	records := make([]model.RiderStatus, 0, len(snap.Docs))
	for _, d := range snap.Docs {
		records = append(records, model.RiderStatusFromDocument(d))
	}
	return Aggregate(records)
}

// Aggregator reads and writes rider status records.
type Aggregator struct {
	store store.Store
}

// NewAggregator returns an aggregator over s.
func NewAggregator(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// VehicleQuery selects the riders checked into vehicleID.
func VehicleQuery(vehicleID string) store.Query {
	return store.Query{
		Collection: model.RidersCollection,
		Where:      &store.Filter{Field: model.FieldVehicle, Value: vehicleID},
	}
}

// Counts returns the current aggregate for vehicleID.
func (a *Aggregator) Counts(ctx context.Context, vehicleID string) (Counts, error) {
	if vehicleID == "" {
		return nil, domain.ErrNotCheckedIn
	}
	snap, err := a.store.Query(ctx, VehicleQuery(vehicleID))
	if err != nil {
		return nil, storageErr(err)
	}
	return FromSnapshot(snap), nil
}

// Watch calls onChange with a fresh aggregate for every snapshot of the
// riders checked into vehicleID, until ctx ends. Each call replaces the
// previous view entirely.
func (a *Aggregator) Watch(ctx context.Context, vehicleID string, onChange func(Counts)) error {
	if vehicleID == "" {
		return domain.ErrNotCheckedIn
	}
	sub, err := a.store.Subscribe(ctx, VehicleQuery(vehicleID))
	if err != nil {
		return storageErr(err)
	}
	defer sub.Close()
	for {
		snap, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return storageErr(err)
		}
		onChange(FromSnapshot(snap))
	}
}

// SetOwnStatus records the category the acting rider reports. vehicleID is
// the vehicle the rider is currently checked into; the write always goes
// to the actor's own record.
func (a *Aggregator) SetOwnStatus(ctx context.Context, actor domain.Actor, vehicleID string, status model.StatusCategory) error {
	if !actor.Resolved() {
		return domain.ErrUnauthenticated
	}
	if vehicleID == "" {
		return domain.ErrNotCheckedIn
	}
	if !status.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	err := a.store.Update(ctx, model.RiderPath(actor.ID), store.Fields{model.FieldStatusTag: string(status)})
	if err != nil {
		return storageErr(err)
	}
	logger.Info(ctx, "status reported", logger.Rider(actor.ID), logger.Vehicle(vehicleID))
	return nil
}

// CheckIn associates the acting rider with vehicleID and marks them waiting.
func (a *Aggregator) CheckIn(ctx context.Context, actor domain.Actor, vehicleID string) error {
	if !actor.Resolved() {
		return domain.ErrUnauthenticated
	}
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return domain.ErrNotCheckedIn
	}
	err := a.store.Update(ctx, model.RiderPath(actor.ID), store.Fields{
		model.FieldVehicle:   vehicleID,
		model.FieldStatusTag: string(model.StatusWaiting),
	})
	if err != nil {
		return storageErr(err)
	}
	logger.Info(ctx, "rider checked in", logger.Rider(actor.ID), logger.Vehicle(vehicleID))
	return nil
}

// CheckOut clears the acting rider's vehicle and status.
func (a *Aggregator) CheckOut(ctx context.Context, actor domain.Actor) error {
	if !actor.Resolved() {
		return domain.ErrUnauthenticated
	}
	err := a.store.Update(ctx, model.RiderPath(actor.ID), store.Fields{
		model.FieldVehicle:   nil,
		model.FieldStatusTag: nil,
	})
	if err != nil {
		return storageErr(err)
	}
	logger.Info(ctx, "rider checked out", logger.Rider(actor.ID))
	return nil
}

func storageErr(err error) error {
	switch {
	case errors.Is(err, store.ErrPermissionDenied):
		return domain.ErrPermissionDenied
	case errors.Is(err, store.ErrNotFound):
		return domain.ErrUnauthenticated
	}
	return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
}
