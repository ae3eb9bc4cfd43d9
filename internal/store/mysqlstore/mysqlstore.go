// Package mysqlstore implements the live collection store on MySQL, with
// Redis Pub/Sub as the change notification bus.
//
// Every document is one row of the documents table keyed by (collection,
// doc_id) with its fields as a JSON object and a version counter bumped on
// every write. Writes lock the row with SELECT ... FOR UPDATE, merge, write
// back, commit and then PUBLISH the collection path. Subscribers listen on
// that channel and re-query the full result set on every message. Without a
// Redis client, subscribers fall back to polling.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/campus-shuttle/internal/logger"
	"github.com/iliyamo/campus-shuttle/internal/store"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
    collection VARCHAR(255) NOT NULL,
    doc_id     VARCHAR(128) NOT NULL,
    fields     JSON NOT NULL,
    version    BIGINT UNSIGNED NOT NULL DEFAULT 1,
    updated_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
    PRIMARY KEY (collection, doc_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// Store is a MySQL-backed store.Store.
type Store struct {
	db     *sql.DB
	rdb    *redis.Client
	poll   time.Duration
	prefix string
}

// Option customizes a Store.
type Option func(*Store)

// WithPollInterval sets how often subscriptions re-query. With Redis this
// is only a resync safety net; without it, it is the only refresh source.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithChannelPrefix sets the Redis channel namespace.
func WithChannelPrefix(p string) Option {
	return func(s *Store) {
		if p != "" {
			s.prefix = p
		}
	}
}

// New returns a Store over db. rdb may be nil.
func New(db *sql.DB, rdb *redis.Client, opts ...Option) *Store {
	s := &Store{db: db, rdb: rdb, poll: 2 * time.Second, prefix: "store"}
	for _, o := range opts {
		o(s)
	}
	return s
}

// EnsureSchema creates the documents table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) channel(collection string) string {
	return s.prefix + ":" + collection
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, path string) (store.Document, error) {
	col, id, err := store.SplitPath(path)
	if err != nil {
		return store.Document{}, err
	}
	var raw []byte
	err = s.db.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = ? AND doc_id = ?`, col, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Document{}, fmt.Errorf("%w: %s", store.ErrNotFound, path)
		}
		return store.Document{}, unavailable(err)
	}
	fields, err := decode(raw)
	if err != nil {
		return store.Document{}, err
	}
	return store.Document{ID: id, Fields: fields}, nil
}

// Query implements store.Store. The whole collection is loaded and the
// filter is applied in process; Seq is the sum of the collection's row
// versions, which grows with every write to it.
func (s *Store) Query(ctx context.Context, q store.Query) (store.Snapshot, error) {
	if err := store.ValidateCollection(q.Collection); err != nil {
		return store.Snapshot{}, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_id, fields, version FROM documents WHERE collection = ?`, q.Collection)
	if err != nil {
		return store.Snapshot{}, unavailable(err)
	}
	defer rows.Close()
	var (
		docs []store.Document
		seq  uint64
	)
	for rows.Next() {
		var (
			id      string
			raw     []byte
			version uint64
		)
		if err := rows.Scan(&id, &raw, &version); err != nil {
			return store.Snapshot{}, unavailable(err)
		}
		fields, err := decode(raw)
		if err != nil {
			return store.Snapshot{}, err
		}
		docs = append(docs, store.Document{ID: id, Fields: fields})
		seq += version
	}
	if err := rows.Err(); err != nil {
		return store.Snapshot{}, unavailable(err)
	}
	return store.Snapshot{Seq: seq, Docs: q.Apply(docs)}, nil
}

// Update implements store.Store.
func (s *Store) Update(ctx context.Context, path string, fields store.Fields) error {
	return s.mutate(ctx, path, nil, fields)
}

// UpdateIf implements store.Store. The expectation is checked against the
// row locked inside the same transaction as the write.
func (s *Store) UpdateIf(ctx context.Context, path string, expect, fields store.Fields) error {
	if expect == nil {
		expect = store.Fields{}
	}
	return s.mutate(ctx, path, expect, fields)
}

func (s *Store) mutate(ctx context.Context, path string, expect, fields store.Fields) error {
	col, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	var raw []byte
	err = tx.QueryRowContext(ctx,
		`SELECT fields FROM documents WHERE collection = ? AND doc_id = ? FOR UPDATE`, col, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", store.ErrNotFound, path)
		}
		return unavailable(err)
	}
	cur, err := decode(raw)
	if err != nil {
		return err
	}
	if expect != nil && !store.Matches(cur, expect) {
		return fmt.Errorf("%w: %s", store.ErrPreconditionFailed, path)
	}
	for k, v := range fields {
		cur[k] = v
	}
	out, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET fields = ?, version = version + 1, updated_at = UTC_TIMESTAMP(6)
         WHERE collection = ? AND doc_id = ?`, out, col, id); err != nil {
		return unavailable(err)
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	committed = true
	s.notify(ctx, col)
	return nil
}

// Set implements store.Store.
func (s *Store) Set(ctx context.Context, path string, fields store.Fields) error {
	col, id, err := store.SplitPath(path)
	if err != nil {
		return err
	}
	return s.put(ctx, col, id, fields)
}

// Add implements store.Store. Ids are random UUIDs.
func (s *Store) Add(ctx context.Context, collection string, fields store.Fields) (string, error) {
	if err := store.ValidateCollection(collection); err != nil {
		return "", err
	}
	id := uuid.NewString()
	if err := s.put(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) put(ctx context.Context, col, id string, fields store.Fields) error {
	if fields == nil {
		fields = store.Fields{}
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", col, id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, doc_id, fields) VALUES (?, ?, ?)
         ON DUPLICATE KEY UPDATE fields = VALUES(fields), version = version + 1, updated_at = UTC_TIMESTAMP(6)`,
		col, id, out); err != nil {
		return unavailable(err)
	}
	s.notify(ctx, col)
	return nil
}

// notify publishes a change for col. Failures only delay subscribers until
// their next poll, so they are logged and swallowed.
func (s *Store) notify(ctx context.Context, col string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Publish(ctx, s.channel(col), time.Now().UTC().UnixNano()).Err(); err != nil {
		logger.Warn(ctx, "store change notification failed", logger.Collection(col), logger.Err(err))
	}
}

// Subscribe implements store.Store.
func (s *Store) Subscribe(ctx context.Context, q store.Query) (*store.Subscription, error) {
	if err := store.ValidateCollection(q.Collection); err != nil {
		return nil, err
	}
	wctx, cancel := context.WithCancel(ctx)
	sub := store.NewSubscription(cancel)
	go s.watch(wctx, q, sub)
	return sub, nil
}

func (s *Store) watch(ctx context.Context, q store.Query, sub *store.Subscription) {
	defer sub.Close()

	var msgs <-chan *redis.Message
	if s.rdb != nil {
		ps := s.rdb.Subscribe(ctx, s.channel(q.Collection))
		defer func() { _ = ps.Close() }()
		// Wait for the subscription to be confirmed before the first query so
		// no change between the two is missed.
		if _, err := ps.Receive(ctx); err != nil {
			logger.Warn(ctx, "store subscribe failed; polling", logger.Collection(q.Collection), logger.Err(err))
		} else {
			msgs = ps.Channel()
		}
	}
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	refresh := func() {
		snap, err := s.Query(ctx, q)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn(ctx, "store refresh failed", logger.Collection(q.Collection), logger.Err(err))
			}
			return
		}
		sub.Deliver(snap)
	}
	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-msgs:
			if !ok {
				msgs = nil
				continue
			}
			refresh()
		case <-ticker.C:
			refresh()
		}
	}
}

func decode(raw []byte) (store.Fields, error) {
	fields := store.Fields{}
	if len(raw) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return fields, nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
