package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCRUD(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "vehicles/V1/seats/1A", Fields{"status": "free"}))
	require.NoError(t, m.Update(ctx, "vehicles/V1/seats/1A", Fields{"status": "occupied", "occupant": "x"}))

	doc, err := m.Get(ctx, "vehicles/V1/seats/1A")
	require.NoError(t, err)
	assert.Equal(t, Document{ID: "1A", Fields: Fields{"status": "occupied", "occupant": "x"}}, doc)

	_, err = m.Get(ctx, "vehicles/V1/seats/9Z")
	require.ErrorIs(t, err, ErrNotFound)

	err = m.Update(ctx, "vehicles/V1/seats/9Z", Fields{"status": "free"})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.Get(ctx, "vehicles/V1")
	require.ErrorIs(t, err, ErrInvalidPath)

	id, err := m.Add(ctx, "channels/Unip/messages", Fields{"text": "hi"})
	require.NoError(t, err)
	doc, err = m.Get(ctx, Join("channels/Unip/messages", id))
	require.NoError(t, err)
	assert.Equal(t, "hi", doc.Fields.String("text"))
}

func TestMemoryReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	f := Fields{"status": "free"}
	require.NoError(t, m.Set(ctx, "c/d", f))
	f["status"] = "mutated"

	doc, err := m.Get(ctx, "c/d")
	require.NoError(t, err)
	doc.Fields["status"] = "mutated again"

	doc, err = m.Get(ctx, "c/d")
	require.NoError(t, err)
	assert.Equal(t, "free", doc.Fields.String("status"))
}

func TestMemoryUpdateIf(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "v/V1/seats/1A", Fields{"status": "free"}))

	// A missing field matches an expected nil.
	require.NoError(t, m.UpdateIf(ctx, "v/V1/seats/1A",
		Fields{"status": "free", "occupant": nil},
		Fields{"status": "occupied", "occupant": "x"}))

	err := m.UpdateIf(ctx, "v/V1/seats/1A",
		Fields{"status": "free"},
		Fields{"status": "occupied", "occupant": "y"})
	require.ErrorIs(t, err, ErrPreconditionFailed)

	doc, err := m.Get(ctx, "v/V1/seats/1A")
	require.NoError(t, err)
	assert.Equal(t, "x", doc.Fields.String("occupant"))
}

func TestMemoryFailure(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	m.SetFailure(errors.New("network"))

	_, err := m.Query(ctx, Query{Collection: "c"})
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, m.Set(ctx, "c/d", Fields{}), ErrUnavailable)
	_, err = m.Subscribe(ctx, Query{Collection: "c"})
	require.ErrorIs(t, err, ErrUnavailable)

	m.SetFailure(nil)
	require.NoError(t, m.Set(ctx, "c/d", Fields{}))
}

func TestMemorySubscribe(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "riders/a", Fields{"vehicle_id": "V1", "status_tag": "waiting"}))
	require.NoError(t, m.Set(ctx, "riders/b", Fields{"vehicle_id": "V2", "status_tag": "waiting"}))

	sub, err := m.Subscribe(ctx, Query{Collection: "riders", Where: &Filter{Field: "vehicle_id", Value: "V1"}})
	require.NoError(t, err)
	defer sub.Close()

	first, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Len(t, first.Docs, 1)
	assert.Equal(t, "a", first.Docs[0].ID)

	require.NoError(t, m.Update(ctx, "riders/b", Fields{"vehicle_id": "V1"}))
	second, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Greater(t, second.Seq, first.Seq)
	assert.Len(t, second.Docs, 2)

	// Writes to other collections do not wake the subscriber.
	require.NoError(t, m.Set(ctx, "vehicles/V1/seats/1A", Fields{"status": "free"}))
	select {
	case snap := <-sub.C():
		t.Fatalf("unexpected snapshot %+v", snap)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemorySubscribeKeepsLatestOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Set(ctx, "c/d", Fields{"n": 0}))

	sub, err := m.Subscribe(ctx, Query{Collection: "c"})
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		require.NoError(t, m.Update(ctx, "c/d", Fields{"n": i}))
	}
	snap, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Docs, 1)
	assert.Equal(t, 5, snap.Docs[0].Fields["n"])
}

func TestMemorySubscriptionEndsOnCancel(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := m.Subscribe(ctx, Query{Collection: "c"})
	require.NoError(t, err)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not closed after cancel")
	}
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.subs) == 0
	}, time.Second, 5*time.Millisecond)

	_, err = sub.Next(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
