package lcu

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lcudriver/lcu-driver/pkg/process"
)

// fakeClient is a stand-in for the client's control API: a TLS server with
// Basic auth, the readiness endpoint, an echo endpoint and a json api
// event websocket.
type fakeClient struct {
	srv        *httptest.Server
	token      string
	upgrader   websocket.Upgrader
	frames     chan []byte   // pushed to the active websocket
	subscribed chan []byte   // first frame received from each websocket
	closeWS    chan struct{} // one receive closes one websocket from the server side
	probes     atomic.Int32
	sockets    atomic.Int32
}

func newFakeClient(t *testing.T, token string) *fakeClient {
	t.Helper()
	f := &fakeClient{
		token:      token,
		frames:     make(chan []byte, 16),
		subscribed: make(chan []byte, 4),
		closeWS:    make(chan struct{}),
	}
	f.srv = httptest.NewTLSServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeClient) port() int {
	u, _ := url.Parse(f.srv.URL)
	p, _ := strconv.Atoi(u.Port())
	return p
}

func (f *fakeClient) creds(pid int) process.Credentials {
	return process.Credentials{PID: pid, AppPID: pid + 1, Port: f.port(), AuthToken: f.token}
}

func (f *fakeClient) serve(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != basicAuthUser || pass != f.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if websocket.IsWebSocketUpgrade(r) {
		f.serveWS(w, r)
		return
	}
	switch r.URL.Path {
	case readinessEndpoint:
		f.probes.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"locale": "en_US"})
	default:
		body, _ := io.ReadAll(r.Body)
		_ = json.NewEncoder(w).Encode(echo{
			Method:        r.Method,
			Path:          r.URL.EscapedPath(),
			Body:          string(body),
			ContentType:   r.Header.Get("Content-Type"),
			Authorization: r.Header.Get("Authorization"),
		})
	}
}

type echo struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	Body          string `json:"body"`
	ContentType   string `json:"contentType"`
	Authorization string `json:"authorization"`
}

func (f *fakeClient) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	f.sockets.Add(1)

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	f.subscribed <- msg
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`[]`)); err != nil {
		return
	}

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data := <-f.frames:
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-f.closeWS:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			return
		}
	}
}

// recorder collects lifecycle events in the order they were observed.
type recorder struct {
	mu     sync.Mutex
	events []EventName
}

func (r *recorder) handler(name EventName) LifecycleHandler {
	return func(context.Context, *Connection) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, name)
		return nil
	}
}

func (r *recorder) register(t *testing.T, reg *EventRegistry) {
	t.Helper()
	for _, name := range []EventName{EventOpen, EventReady, EventClose, EventDisconnect} {
		if err := reg.Register(name, r.handler(name)); err != nil {
			t.Fatal(err)
		}
	}
}

func (r *recorder) snapshot() []EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventName(nil), r.events...)
}

func (r *recorder) count(name EventName) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == name {
			n++
		}
	}
	return n
}

// staticLocator reports fixed candidates and a settable liveness.
type staticLocator struct {
	mu    sync.Mutex
	creds []process.Credentials
	dead  bool
	calls atomic.Int32
}

func (l *staticLocator) Locate(context.Context) ([]process.Credentials, error) {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]process.Credentials(nil), l.creds...), nil
}

func (l *staticLocator) Running(context.Context, int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.dead, nil
}

func (l *staticLocator) kill() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dead = true
}

func waitDone(t *testing.T, conn *Connection) {
	t.Helper()
	select {
	case <-conn.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("connection did not close, state %s", conn.State())
	}
}
