package seating

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iliyamo/campus-shuttle/internal/domain"
	"github.com/iliyamo/campus-shuttle/internal/logger"
	"github.com/iliyamo/campus-shuttle/internal/model"
	"github.com/iliyamo/campus-shuttle/internal/store"
)

// DefaultIdleTimeout is how long an engine stays subscribed after its last
// use when the registry is given no timeout.
const DefaultIdleTimeout = 10 * time.Minute

// Registry keeps one running engine per provisioned vehicle. Engines are
// started on first use and stopped once idle for longer than the registry's
// idle timeout, or on Close.
type Registry struct {
	store store.Store
	opts  []Option
	idle  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	engines map[string]*runningEngine
	wg      sync.WaitGroup
}

type runningEngine struct {
	engine   *Engine
	cancel   context.CancelFunc
	done     chan struct{}
	lastUsed time.Time
}

func (re *runningEngine) stopped() bool {
	select {
	case <-re.done:
		return true
	default:
		return false
	}
}

// NewRegistry returns a registry whose engines read and write s. Engines
// unused for idle are stopped; idle <= 0 means DefaultIdleTimeout.
func NewRegistry(s store.Store, idle time.Duration, opts ...Option) *Registry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		store:   s,
		opts:    opts,
		idle:    idle,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		engines: make(map[string]*runningEngine),
	}
	r.wg.Add(1)
	go r.janitor()
	return r
}

// CheckVehicle returns domain.ErrVehicleNotFound unless vehicleID has at
// least one seat in s.
func CheckVehicle(ctx context.Context, s store.Store, vehicleID string) error {
	snap, err := s.Query(ctx, store.Query{Collection: model.SeatsCollection(vehicleID)})
	switch {
	case errors.Is(err, store.ErrInvalidPath):
		return fmt.Errorf("%w: %q", domain.ErrVehicleNotFound, vehicleID)
	case err != nil:
		return fmt.Errorf("%w: load seats: %v", domain.ErrStorageUnavailable, err)
	case len(snap.Docs) == 0:
		return fmt.Errorf("%w: %q", domain.ErrVehicleNotFound, vehicleID)
	}
	return nil
}

// Engine returns the engine for vehicleID, starting it when none is running.
// Unknown vehicles get domain.ErrVehicleNotFound and start nothing.
func (r *Registry) Engine(ctx context.Context, vehicleID string) (*Engine, error) {
	if e := r.lookup(vehicleID); e != nil {
		return e, nil
	}
	if err := CheckVehicle(ctx, r.store, vehicleID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if re, ok := r.engines[vehicleID]; ok && !re.stopped() {
		re.lastUsed = r.now()
		return re.engine, nil
	}
	if r.ctx.Err() != nil {
		return nil, fmt.Errorf("%w: seat registry closed", domain.ErrStorageUnavailable)
	}

	e := NewEngine(r.store, vehicleID, r.opts...)
	ectx, cancel := context.WithCancel(r.ctx)
	re := &runningEngine{engine: e, cancel: cancel, done: make(chan struct{}), lastUsed: r.now()}
	r.engines[vehicleID] = re
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(re.done)
		if err := e.Watch(ectx); err != nil {
			logger.Warn(r.ctx, "seat watch stopped", logger.Vehicle(vehicleID), logger.Err(err))
		}
	}()
	return e, nil
}

func (r *Registry) lookup(vehicleID string) *Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	re, ok := r.engines[vehicleID]
	if !ok || re.stopped() {
		return nil
	}
	re.lastUsed = r.now()
	return re.engine
}

func (r *Registry) janitor() {
	defer r.wg.Done()
	t := time.NewTicker(max(r.idle/2, time.Second))
	defer t.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-t.C:
			r.evictIdle()
		}
	}
}

// evictIdle stops engines unused for longer than the idle timeout and drops
// those whose subscription already ended.
func (r *Registry) evictIdle() {
	cutoff := r.now().Add(-r.idle)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, re := range r.engines {
		if re.stopped() || re.lastUsed.Before(cutoff) {
			re.cancel()
			delete(r.engines, id)
			logger.Debug(r.ctx, "seat engine stopped", logger.Vehicle(id))
		}
	}
}

func (r *Registry) running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// Close stops every engine and waits for their subscriptions to end.
func (r *Registry) Close() {
	r.mu.Lock()
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
}
