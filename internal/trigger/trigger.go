// Package trigger routes committed store changes to handlers registered on
// path patterns such as accounts/{accountId}/flows/{flowId}.
package trigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kompanio/timebank/internal/store"
)

const (
	defaultWorkers = 4
	defaultQueue   = 256
)

// Event is a change delivered to a handler. Value is nil on deletion and
// Previous is nil on creation.
type Event struct {
	Pattern  string
	Path     string
	Params   map[string]string
	Value    []byte
	Previous []byte
}

// Exists reports whether the path holds a value after the change.
func (e Event) Exists() bool { return e.Value != nil }

// Existed reports whether the path held a value before the change.
func (e Event) Existed() bool { return e.Previous != nil }

// Decode unmarshals the new value into dst. It reports false on deletion.
func (e Event) Decode(dst any) (bool, error) {
	return decode(e.Value, dst)
}

// DecodePrevious unmarshals the previous value into dst. It reports false on
// creation.
func (e Event) DecodePrevious(dst any) (bool, error) {
	return decode(e.Previous, dst)
}

func decode(raw []byte, dst any) (bool, error) {
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, err
	}
	return true, nil
}

// HandlerFunc reacts to one event. Delivery is at least once.
type HandlerFunc func(ctx context.Context, ev Event) error

type route struct {
	pattern  string
	segments []string
	handler  HandlerFunc
}

// Dispatcher implements store.Sink. Until Run is called, Publish dispatches
// inline on the caller's goroutine.
type Dispatcher struct {
	logger  *slog.Logger
	workers int

	mu      sync.RWMutex
	routes  []route
	queue   chan store.Change
	running bool
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the number of concurrent handler goroutines used by Run.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithQueue sets the buffered queue size used by Run.
func WithQueue(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan store.Change, n)
		}
	}
}

// NewDispatcher builds a dispatcher with no routes.
func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:  logger,
		workers: defaultWorkers,
		queue:   make(chan store.Change, defaultQueue),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// On registers h for pattern. Segments wrapped in braces capture parameters.
func (d *Dispatcher) On(pattern string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, route{pattern: pattern, segments: split(pattern), handler: h})
}

// Publish hands a committed change to the matching handlers. While Run is
// active the change is queued; when the queue is full it is dispatched on the
// caller's goroutine instead, so a worker fanning out writes never waits on
// the workers that would drain it.
func (d *Dispatcher) Publish(ctx context.Context, c store.Change) {
	d.mu.RLock()
	if d.running {
		select {
		case d.queue <- c:
			d.mu.RUnlock()
			return
		default:
		}
	}
	d.mu.RUnlock()

	_ = d.Dispatch(ctx, c)
}

// Dispatch runs every handler matching c synchronously and returns the first
// handler error. Handler errors are also logged.
func (d *Dispatcher) Dispatch(ctx context.Context, c store.Change) error {
	var first error
	for _, r := range d.match(c.Path) {
		ev := Event{
			Pattern:  r.pattern,
			Path:     c.Path,
			Params:   r.params,
			Value:    c.Value,
			Previous: c.Previous,
		}
		if err := r.handler(ctx, ev); err != nil {
			d.logger.Error("trigger.failed",
				slog.String("pattern", r.pattern),
				slog.String("path", c.Path),
				slog.Any("error", err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Run drains the queue with the configured worker pool until ctx is done.
// Handlers already running finish under a context that ignores the
// cancellation. Changes still queued when ctx ends are dispatched before Run
// returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case c := <-d.queue:
					_ = d.Dispatch(context.WithoutCancel(gctx), c)
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	err := g.Wait()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()

	for {
		select {
		case c := <-d.queue:
			_ = d.Dispatch(context.Background(), c)
		default:
			return err
		}
	}
}

type matched struct {
	pattern string
	params  map[string]string
	handler HandlerFunc
}

func (d *Dispatcher) match(p string) []matched {
	segments := split(p)
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []matched
	for _, r := range d.routes {
		if params, ok := matchSegments(r.segments, segments); ok {
			out = append(out, matched{pattern: r.pattern, params: params, handler: r.handler})
		}
	}
	return out
}

func matchSegments(pattern, segments []string) (map[string]string, bool) {
	if len(pattern) != len(segments) {
		return nil, false
	}
	params := make(map[string]string)
	for i, seg := range pattern {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			params[seg[1:len(seg)-1]] = segments[i]
			continue
		}
		if seg != segments[i] {
			return nil, false
		}
	}
	return params, true
}

func split(p string) []string {
	return strings.Split(strings.Trim(p, "/"), "/")
}
