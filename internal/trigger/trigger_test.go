package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kompanio/timebank/internal/logging"
	"github.com/kompanio/timebank/internal/store"
)

func TestDispatchExtractsParams(t *testing.T) {
	d := NewDispatcher(logging.Discard())

	var got Event
	d.On("accounts/{accountId}/flows/{flowId}", func(_ context.Context, ev Event) error {
		got = ev
		return nil
	})
	d.On("flows/{flowId}", func(context.Context, Event) error {
		t.Fatalf("flows pattern must not match an account leg")
		return nil
	})

	err := d.Dispatch(context.Background(), store.Change{
		Path:     "accounts/a1/flows/f9",
		Value:    []byte(`{"amount":"2"}`),
		Previous: nil,
	})
	require.NoError(t, err)

	assert.Equal(t, "a1", got.Params["accountId"])
	assert.Equal(t, "f9", got.Params["flowId"])
	assert.True(t, got.Exists())
	assert.False(t, got.Existed())

	var body struct {
		Amount string `json:"amount"`
	}
	ok, err := got.Decode(&body)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", body.Amount)

	ok, err = got.DecodePrevious(&body)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDispatchReturnsHandlerError(t *testing.T) {
	d := NewDispatcher(logging.Discard())
	boom := errors.New("boom")
	calls := 0
	d.On("payments/{paymentId}", func(context.Context, Event) error { calls++; return boom })
	d.On("payments/{paymentId}", func(context.Context, Event) error { calls++; return nil })

	err := d.Dispatch(context.Background(), store.Change{Path: "payments/p1", Value: []byte(`{}`)})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestPublishIsInlineBeforeRun(t *testing.T) {
	d := NewDispatcher(logging.Discard())
	s := store.New(store.NewMemoryBackend(), store.WithSink(d))

	var seen []string
	d.On("cards/{cardId}", func(_ context.Context, ev Event) error {
		seen = append(seen, ev.Params["cardId"])
		return nil
	})

	require.NoError(t, s.Set(context.Background(), "cards/c1", map[string]bool{"valid": true}))
	assert.Equal(t, []string{"c1"}, seen)
}

func TestRunDeliversThroughWorkers(t *testing.T) {
	d := NewDispatcher(logging.Discard(), WithWorkers(3), WithQueue(8))

	var (
		mu   sync.Mutex
		seen = map[string]bool{}
		wg   sync.WaitGroup
	)
	wg.Add(5)
	d.On("flows/{flowId}", func(_ context.Context, ev Event) error {
		mu.Lock()
		seen[ev.Params["flowId"]] = true
		mu.Unlock()
		wg.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.running
	}, time.Second, 5*time.Millisecond)

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		d.Publish(ctx, store.Change{Path: "flows/" + id, Value: []byte(`{}`)})
	}
	wg.Wait()
	cancel()
	require.NoError(t, <-done)

	assert.Len(t, seen, 5)
}

func TestMatchRequiresSameDepth(t *testing.T) {
	_, ok := matchSegments(split("accounts/{id}/state"), split("accounts/a/state/extra"))
	assert.False(t, ok)

	params, ok := matchSegments(split("universal/{date}/flows/{accountId}"), split("/universal/2024-01-01/flows/GIG1/"))
	require.True(t, ok)
	assert.Equal(t, "2024-01-01", params["date"])
	assert.Equal(t, "GIG1", params["accountId"])
}

func TestRunSurvivesFanOutLargerThanQueue(t *testing.T) {
	d := NewDispatcher(logging.Discard(), WithWorkers(1), WithQueue(1))
	s := store.New(store.NewMemoryBackend(), store.WithSink(d))

	const members = 50
	var (
		mu   sync.Mutex
		legs = map[string]bool{}
	)
	d.On("flows/{flowId}", func(ctx context.Context, ev Event) error {
		for i := 0; i < members; i++ {
			p := "accounts/m" + string(rune('A'+i%26)) + string(rune('a'+i/26)) + "/flows/" + ev.Params["flowId"]
			if err := s.Set(ctx, p, map[string]int{"amount": 1}); err != nil {
				return err
			}
		}
		return s.Set(ctx, "accounts/group/flows/"+ev.Params["flowId"], map[string]int{"amount": members})
	})
	d.On("accounts/{accountId}/flows/{flowId}", func(_ context.Context, ev Event) error {
		mu.Lock()
		legs[ev.Params["accountId"]] = true
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	require.Eventually(t, func() bool {
		d.mu.RLock()
		defer d.mu.RUnlock()
		return d.running
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Set(ctx, "flows/f1", map[string]int{"amount": 1}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(legs) == members+1
	}, 3*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestPublishAfterRunIsInline(t *testing.T) {
	d := NewDispatcher(logging.Discard(), WithQueue(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	calls := 0
	d.On("cards/{cardId}", func(context.Context, Event) error { calls++; return nil })
	d.Publish(context.Background(), store.Change{Path: "cards/c1", Value: []byte(`{}`)})
	assert.Equal(t, 1, calls)
}
