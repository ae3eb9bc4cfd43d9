// Package store defines the live collection store the shuttle core is built
// on: a document database addressed by slash-separated paths that pushes the
// full result set of a query to every subscriber whenever it changes.
//
// Paths alternate collection and document segments, so
// "vehicles/ABC1D23/seats" is a collection and
// "vehicles/ABC1D23/seats/4B" is a document inside it. Writes are always
// single-document; there is no multi-document transaction primitive.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when an addressed document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrPreconditionFailed is returned by UpdateIf when the stored fields
	// differ from the expected ones.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrPermissionDenied is returned when access rules reject a write.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrClosed is returned by Next once a subscription has been closed.
	ErrClosed = errors.New("subscription closed")
	// ErrUnavailable signals a backend failure (connection, I/O).
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalidPath is returned for malformed collection or document paths.
	ErrInvalidPath = errors.New("invalid path")
)

// Fields is the field map of a document. Values are JSON scalars: nil,
// bool, float64 (or any Go integer on input), and string.
type Fields map[string]any

// Clone returns a shallow copy of f.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// String returns the string stored under key, or "" when the field is
// missing, null or not a string.
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Document is a single addressed record.
type Document struct {
	ID     string
	Fields Fields
}

// Snapshot is the complete current result set of a query. Seq increases
// with every change the producer observes, so a subscriber can tell that
// one snapshot is newer than another.
type Snapshot struct {
	Seq  uint64
	Docs []Document
}

// Filter is an equality condition on one field.
type Filter struct {
	Field string
	Value any
}

// Query selects the documents of one collection, optionally filtered by a
// single equality condition and ordered by one field.
type Query struct {
	Collection string
	Where      *Filter
	OrderBy    string
	Desc       bool
}

// Store is the live collection store.
type Store interface {
	// Get reads one document.
	Get(ctx context.Context, path string) (Document, error)
	// Query returns the current result set of q once.
	Query(ctx context.Context, q Query) (Snapshot, error)
	// Subscribe starts a live query. The returned subscription yields the
	// current result set immediately and a new full snapshot after every
	// change. It stops when ctx is cancelled or Close is called.
	Subscribe(ctx context.Context, q Query) (*Subscription, error)
	// Update merges fields into an existing document.
	Update(ctx context.Context, path string, fields Fields) error
	// UpdateIf merges fields into an existing document only when every
	// expected field currently holds the expected value (a missing field
	// counts as nil). Otherwise it returns ErrPreconditionFailed.
	UpdateIf(ctx context.Context, path string, expect, fields Fields) error
	// Set creates or replaces a document.
	Set(ctx context.Context, path string, fields Fields) error
	// Add appends a new document with a generated id to a collection.
	Add(ctx context.Context, collection string, fields Fields) (string, error)
}

// Join builds a path from its segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath splits a document path into its collection path and document id.
func SplitPath(path string) (collection, id string, err error) {
	segs := strings.Split(path, "/")
	if len(segs) < 2 || len(segs)%2 != 0 || hasEmpty(segs) {
		return "", "", fmt.Errorf("%w: document path %q", ErrInvalidPath, path)
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

// ValidateCollection checks that path names a collection.
func ValidateCollection(path string) error {
	segs := strings.Split(path, "/")
	if len(segs)%2 != 1 || hasEmpty(segs) {
		return fmt.Errorf("%w: collection path %q", ErrInvalidPath, path)
	}
	return nil
}

func hasEmpty(segs []string) bool {
	for _, s := range segs {
		if strings.TrimSpace(s) == "" {
			return true
		}
	}
	return false
}

// Matches reports whether every expected field currently holds the expected
// value.
func Matches(current, expect Fields) bool {
	for k, want := range expect {
		if !Equal(current[k], want) {
			return false
		}
	}
	return true
}
