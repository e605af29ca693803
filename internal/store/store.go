// Package store is a hierarchical JSON document store addressed by
// slash-separated paths. Every write goes through a versioned compare-and-swap
// on a Backend, and every committed change is published to a Sink.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
)

var (
	// ErrConflict reports a compare-and-swap that lost to a concurrent writer.
	ErrConflict = errors.New("store: version conflict")
	// ErrAbort is returned by a transaction function to give up without writing.
	ErrAbort = errors.New("store: transaction aborted")
	// ErrTooManyRetries reports a write that kept losing to concurrent writers.
	ErrTooManyRetries = errors.New("store: too many retries")
)

const defaultMaxRetries = 25

// Snapshot is the value and version of one path. Version 0 means absent.
type Snapshot struct {
	Path    string
	Value   []byte
	Version int64
}

// Exists reports whether the path held a value when read.
func (s Snapshot) Exists() bool { return s.Version > 0 }

// Backend is the storage primitive behind a Store.
//
// CompareAndSwap writes value at path only if the stored version still equals
// version (0 meaning the path must be absent). A nil value deletes. It returns
// the new version, or ErrConflict.
type Backend interface {
	Get(ctx context.Context, p string) (Snapshot, error)
	Children(ctx context.Context, parent string) ([]Snapshot, error)
	CompareAndSwap(ctx context.Context, p string, version int64, value []byte) (int64, error)
}

// Change is a committed write.
type Change struct {
	Path     string
	Value    []byte
	Previous []byte
}

// Sink receives committed changes.
type Sink interface {
	Publish(ctx context.Context, c Change)
}

// Write is one entry of a multi-path update. A nil Value deletes.
type Write struct {
	Path  string
	Value any
}

// Store wraps a Backend with JSON encoding, retry loops and change publishing.
type Store struct {
	backend    Backend
	sink       Sink
	maxRetries int
}

// Option customises a Store.
type Option func(*Store)

// WithSink publishes committed changes to sink.
func WithSink(sink Sink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithMaxRetries bounds the compare-and-swap retry loop.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// New builds a Store over backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{backend: backend, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get decodes the document at p into dst. It reports false when p is absent.
func (s *Store) Get(ctx context.Context, p string, dst any) (bool, error) {
	snap, err := s.backend.Get(ctx, clean(p))
	if err != nil {
		return false, fmt.Errorf("get %s: %w", p, err)
	}
	if !snap.Exists() {
		return false, nil
	}
	if err := json.Unmarshal(snap.Value, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", p, err)
	}
	return true, nil
}

// Raw returns the stored bytes at p, nil when absent.
func (s *Store) Raw(ctx context.Context, p string) ([]byte, error) {
	snap, err := s.backend.Get(ctx, clean(p))
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}
	return snap.Value, nil
}

// Children lists the documents stored directly under parent, ordered by path.
func (s *Store) Children(ctx context.Context, parent string) ([]Snapshot, error) {
	children, err := s.backend.Children(ctx, clean(parent))
	if err != nil {
		return nil, fmt.Errorf("children %s: %w", parent, err)
	}
	return children, nil
}

// Set writes v at p. A nil v deletes. Writing the bytes already stored is a
// no-op and publishes nothing.
func (s *Store) Set(ctx context.Context, p string, v any) error {
	value, err := encode(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p, err)
	}
	_, err = s.Transact(ctx, p, func([]byte) ([]byte, error) { return value, nil })
	return err
}

// Update applies writes in order. Each path is written atomically; the set of
// paths is not.
func (s *Store) Update(ctx context.Context, writes []Write) error {
	for _, w := range writes {
		if err := s.Set(ctx, w.Path, w.Value); err != nil {
			return err
		}
	}
	return nil
}

// Transact runs an optimistic read-modify-write on p. fn receives the current
// bytes (nil when absent) and returns the replacement (nil deletes). fn is run
// again on a fresh snapshot whenever the swap loses to a concurrent writer.
// Returning ErrAbort from fn ends the transaction with committed false and a
// nil error.
func (s *Store) Transact(ctx context.Context, p string, fn func(cur []byte) ([]byte, error)) (bool, error) {
	p = clean(p)
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		snap, err := s.backend.Get(ctx, p)
		if err != nil {
			return false, fmt.Errorf("get %s: %w", p, err)
		}
		next, err := fn(snap.Value)
		if errors.Is(err, ErrAbort) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if unchanged(snap, next) {
			return true, nil
		}
		if _, err := s.backend.CompareAndSwap(ctx, p, snap.Version, next); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return false, fmt.Errorf("write %s: %w", p, err)
		}
		if s.sink != nil {
			s.sink.Publish(ctx, Change{Path: p, Value: next, Previous: snap.Value})
		}
		return true, nil
	}
	return false, fmt.Errorf("%s: %w", p, ErrTooManyRetries)
}

// TransactJSON is Transact over decoded documents. fn receives nil when p is
// absent and returns nil to delete.
func TransactJSON[T any](ctx context.Context, s *Store, p string, fn func(cur *T) (*T, error)) (bool, error) {
	return s.Transact(ctx, p, func(raw []byte) ([]byte, error) {
		var cur *T
		if raw != nil {
			cur = new(T)
			if err := json.Unmarshal(raw, cur); err != nil {
				return nil, fmt.Errorf("decode %s: %w", p, err)
			}
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		return json.Marshal(next)
	})
}

func unchanged(snap Snapshot, next []byte) bool {
	if next == nil {
		return !snap.Exists()
	}
	return snap.Exists() && bytes.Equal(snap.Value, next)
}

func encode(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		return val, nil
	case json.RawMessage:
		return val, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func clean(p string) string {
	return path.Clean("/" + p)[1:]
}

// Parent returns the parent path of p, empty for a top-level path.
func Parent(p string) string {
	dir := path.Dir(clean(p))
	if dir == "." {
		return ""
	}
	return dir
}

// Base returns the last segment of p.
func Base(p string) string {
	return path.Base(clean(p))
}
