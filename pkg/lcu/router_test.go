package lcu

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter is a websocket handler that records every event it receives.
type counter struct {
	mu     sync.Mutex
	events []Event
	calls  atomic.Int32
}

func (c *counter) handle(_ context.Context, _ *Connection, ev Event) error {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.calls.Add(1)
	return nil
}

func (c *counter) eventually(t *testing.T, n int32) {
	t.Helper()
	assert.Eventually(t, func() bool { return c.calls.Load() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestRouter_Matching(t *testing.T) {
	tests := []struct {
		name  string
		uris  []string
		types []EventType
		ev    Event
		want  bool
	}{
		{"exact", []string{"/lol-lobby/v2/lobby"}, nil, Event{URI: "/lol-lobby/v2/lobby", Type: Create}, true},
		{"exact does not prefix", []string{"/lol-lobby/v2/lobby"}, nil, Event{URI: "/lol-lobby/v2/lobby/members", Type: Update}, false},
		{"trailing slash prefixes", []string{"/lol-lobby/"}, nil, Event{URI: "/lol-lobby/v2/lobby", Type: Update}, true},
		{"trailing slash needs the slash", []string{"/lol-lobby/"}, nil, Event{URI: "/lol-lobby", Type: Update}, false},
		{"type filtered out", []string{"/a"}, []EventType{Create}, Event{URI: "/a", Type: Delete}, false},
		{"type accepted", []string{"/a"}, []EventType{Create, Delete}, Event{URI: "/a", Type: Delete}, true},
		{"registration type case-insensitive", []string{"/a"}, []EventType{"create"}, Event{URI: "/a", Type: Create}, true},
		{"event type case-insensitive", []string{"/a"}, []EventType{Update}, Event{URI: "/a", Type: "update"}, true},
		{"any of several uris", []string{"/a", "/b"}, nil, Event{URI: "/b", Type: Create}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(nil, nil)
			var h counter
			var opts []RouteOption
			if tt.types != nil {
				opts = append(opts, WithEventTypes(tt.types...))
			}
			_, err := r.Register(tt.uris, h.handle, opts...)
			require.NoError(t, err)

			started := r.Dispatch(context.Background(), nil, tt.ev)
			if tt.want {
				assert.Equal(t, 1, started)
				h.eventually(t, 1)
			} else {
				assert.Zero(t, started)
			}
		})
	}
}

func TestRouter_DefaultTypes(t *testing.T) {
	r := NewRouter(nil, nil)
	sub, err := r.Register([]string{"/a"}, (&counter{}).handle)
	require.NoError(t, err)
	assert.Equal(t, AllEventTypes, sub.EventTypes())
	assert.Equal(t, int64(-1), sub.Remaining())
	assert.Equal(t, []string{"/a"}, sub.URIs())
}

func TestRouter_RegisterRejects(t *testing.T) {
	r := NewRouter(nil, nil)
	h := (&counter{}).handle

	_, err := r.Register(nil, h)
	assert.ErrorIs(t, err, ErrInvalidRegistration)
	_, err = r.Register([]string{"lobby"}, h)
	assert.ErrorIs(t, err, ErrInvalidRegistration)
	_, err = r.Register([]string{"/a"}, nil)
	assert.ErrorIs(t, err, ErrInvalidRegistration)
	_, err = r.Register([]string{"/a"}, h, WithEventTypes("PATCH"))
	assert.ErrorIs(t, err, ErrInvalidRegistration)

	_, err = r.Register([]string{"/ok", "bad"}, h)
	assert.ErrorIs(t, err, ErrInvalidRegistration)
	assert.Zero(t, r.Len(), "failed registrations add nothing")
}

func TestRouter_MaxCalls(t *testing.T) {
	r := NewRouter(nil, nil)
	var h counter
	sub, err := r.Register([]string{"/a"}, h.handle, WithMaxCalls(2))
	require.NoError(t, err)

	ev := Event{URI: "/a", Type: Update}
	assert.Equal(t, 1, r.Dispatch(context.Background(), nil, ev))
	assert.Equal(t, 1, r.Dispatch(context.Background(), nil, ev))
	assert.Equal(t, 0, r.Dispatch(context.Background(), nil, ev))
	h.eventually(t, 2)
	assert.Zero(t, sub.Remaining())
}

func TestRouter_MaxCallsSharedAcrossURIs(t *testing.T) {
	r := NewRouter(nil, nil)
	var h counter
	_, err := r.Register([]string{"/a", "/b"}, h.handle, WithMaxCalls(1))
	require.NoError(t, err)

	assert.Equal(t, 1, r.Dispatch(context.Background(), nil, Event{URI: "/a", Type: Create}))
	assert.Equal(t, 0, r.Dispatch(context.Background(), nil, Event{URI: "/b", Type: Create}))
	h.eventually(t, 1)
}

func TestRouter_MaxCallsUnderConcurrency(t *testing.T) {
	r := NewRouter(nil, nil)
	var h counter
	_, err := r.Register([]string{"/a"}, h.handle, WithMaxCalls(10))
	require.NoError(t, err)

	var started atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Add(int32(r.Dispatch(context.Background(), nil, Event{URI: "/a", Type: Create})))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(10), started.Load())
	h.eventually(t, 10)
}

func TestRouter_OverlappingRoutesAllFire(t *testing.T) {
	r := NewRouter(nil, nil)
	var prefix, exact counter
	_, err := r.Register([]string{"/lol-lobby/"}, prefix.handle)
	require.NoError(t, err)
	_, err = r.Register([]string{"/lol-lobby/v2/lobby"}, exact.handle, WithEventTypes(Update))
	require.NoError(t, err)

	assert.Equal(t, 2, r.Dispatch(context.Background(), nil, Event{URI: "/lol-lobby/v2/lobby", Type: Update}))
	prefix.eventually(t, 1)
	exact.eventually(t, 1)
}

func TestRouter_HandlerPanicIsContained(t *testing.T) {
	r := NewRouter(nil, nil)
	var after counter
	_, err := r.Register([]string{"/a"}, func(context.Context, *Connection, Event) error { panic("boom") })
	require.NoError(t, err)
	_, err = r.Register([]string{"/a"}, after.handle)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Dispatch(context.Background(), nil, Event{URI: "/a", Type: Create}))
	after.eventually(t, 1)
}

func TestRouter_DoesNotWaitForHandlers(t *testing.T) {
	r := NewRouter(nil, nil)
	release := make(chan struct{})
	defer close(release)
	_, err := r.Register([]string{"/a"}, func(context.Context, *Connection, Event) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	done := make(chan int)
	go func() { done <- r.Dispatch(context.Background(), nil, Event{URI: "/a", Type: Create}) }()
	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("Dispatch blocked on a running handler")
	}
}
