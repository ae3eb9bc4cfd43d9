package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process Store. It backs tests and the "memory" store
// backend; every write bumps a store-wide sequence number and pushes a fresh
// snapshot to each subscriber of the written collection.
type Memory struct {
	mu          sync.Mutex
	seq         uint64
	collections map[string]map[string]Fields
	subs        map[*Subscription]Query
	failure     error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]Fields),
		subs:        make(map[*Subscription]Query),
	}
}

// SetFailure makes every subsequent call fail with err wrapped in
// ErrUnavailable. Passing nil restores normal operation.
func (m *Memory) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failure = err
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.failure != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, m.failure)
	}
	return nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, path string) (Document, error) {
	col, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return Document{}, err
	}
	f, ok := m.collections[col][id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return Document{ID: id, Fields: f.Clone()}, nil
}

// Query implements Store.
func (m *Memory) Query(ctx context.Context, q Query) (Snapshot, error) {
	if err := ValidateCollection(q.Collection); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return Snapshot{}, err
	}
	return m.snapshotLocked(q), nil
}

// Subscribe implements Store.
func (m *Memory) Subscribe(ctx context.Context, q Query) (*Subscription, error) {
	if err := ValidateCollection(q.Collection); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	var sub *Subscription
	sub = NewSubscription(func() {
		m.mu.Lock()
		delete(m.subs, sub)
		m.mu.Unlock()
	})
	m.subs[sub] = q
	sub.Deliver(m.snapshotLocked(q))
	closeOnCancel(ctx, sub)
	return sub, nil
}

// Subscribers returns the number of open subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Update implements Store.
func (m *Memory) Update(ctx context.Context, path string, fields Fields) error {
	return m.mutate(ctx, path, nil, fields)
}

// UpdateIf implements Store.
func (m *Memory) UpdateIf(ctx context.Context, path string, expect, fields Fields) error {
	if expect == nil {
		expect = Fields{}
	}
	return m.mutate(ctx, path, expect, fields)
}

func (m *Memory) mutate(ctx context.Context, path string, expect, fields Fields) error {
	col, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	cur, ok := m.collections[col][id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if expect != nil && !Matches(cur, expect) {
		return fmt.Errorf("%w: %s", ErrPreconditionFailed, path)
	}
	next := cur.Clone()
	for k, v := range fields {
		next[k] = v
	}
	m.collections[col][id] = next
	m.changedLocked(col)
	return nil
}

// Set implements Store.
func (m *Memory) Set(ctx context.Context, path string, fields Fields) error {
	col, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	m.putLocked(col, id, fields)
	return nil
}

// Add implements Store.
func (m *Memory) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	if err := ValidateCollection(collection); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return "", err
	}
	id := uuid.NewString()
	m.putLocked(collection, id, fields)
	return id, nil
}

func (m *Memory) putLocked(col, id string, fields Fields) {
	docs, ok := m.collections[col]
	if !ok {
		docs = make(map[string]Fields)
		m.collections[col] = docs
	}
	docs[id] = fields.Clone()
	m.changedLocked(col)
}

func (m *Memory) changedLocked(col string) {
	m.seq++
	for sub, q := range m.subs {
		if q.Collection == col {
			sub.Deliver(m.snapshotLocked(q))
		}
	}
}

func (m *Memory) snapshotLocked(q Query) Snapshot {
	docs := make([]Document, 0, len(m.collections[q.Collection]))
	for id, f := range m.collections[q.Collection] {
		docs = append(docs, Document{ID: id, Fields: f.Clone()})
	}
	return Snapshot{Seq: m.seq, Docs: q.Apply(docs)}
}
