package lcu

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lcudriver/lcu-driver/pkg/process"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	basicAuthUser     = "riot"
	readinessEndpoint = "/riotclient/region-locale"

	handshakeTimeout = 10 * time.Second
	closeGrace       = 2 * time.Second
)

// State is a connection's position in its lifecycle.
type State int32

const (
	StateDiscovered State = iota
	StateAuthenticating
	StateWaitingReady
	StateReady
	StateWebsocketActive
	StateIdle
	StateClosing
	StateClosed
)

var stateNames = [...]string{
	"discovered", "authenticating", "waiting_ready", "ready",
	"websocket_active", "idle", "closing", "closed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// serving reports whether requests are allowed.
func (s State) serving() bool {
	return s == StateReady || s == StateWebsocketActive || s == StateIdle
}

var placeholder = regexp.MustCompile(`\{([^{}]+)\}`)

// Connection is one authenticated session with one client process.
type Connection struct {
	id      string
	creds   process.Credentials
	opts    Options
	client  *http.Client
	dialer  *websocket.Dialer
	events  *EventRegistry
	router  *Router
	locator process.Locator
	logger  *zap.Logger
	metrics *Metrics
	onClose func(*Connection)

	state   atomic.Int32
	running atomic.Bool
	stopped atomic.Bool // set by Stop
	closed  atomic.Bool // set once teardown starts
	locals  sync.Map
	done    chan struct{}

	mu     sync.Mutex
	cancel context.CancelCauseFunc
}

type connectionConfig struct {
	opts    Options
	events  *EventRegistry
	router  *Router
	locator process.Locator
	logger  *zap.Logger
	metrics *Metrics
	onClose func(*Connection)
}

func newConnection(creds process.Credentials, cfg connectionConfig) (*Connection, error) {
	if creds.Port <= 0 || creds.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d", process.ErrMalformedCredentials, creds.Port)
	}
	if creds.AuthToken == "" {
		return nil, fmt.Errorf("%w: empty auth token", process.ErrMalformedCredentials)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}
	if cfg.events == nil {
		cfg.events = NewEventRegistry(cfg.logger)
	}
	if cfg.router == nil {
		cfg.router = NewRouter(cfg.logger, cfg.metrics)
	}

	id := uuid.NewString()
	c := &Connection{
		id:      id,
		creds:   creds,
		opts:    cfg.opts.withDefaults(),
		events:  cfg.events,
		router:  cfg.router,
		locator: cfg.locator,
		metrics: cfg.metrics,
		onClose: cfg.onClose,
		done:    make(chan struct{}),
		logger: cfg.logger.With(
			zap.String("conn_id", id),
			zap.Int("pid", creds.PID),
			zap.Int("port", creds.Port),
		),
	}

	// The client serves a self-signed certificate on loopback.
	tlsConfig := &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	transport.Proxy = nil
	c.client = newAuthClient(creds.AuthToken, transport)
	c.dialer = &websocket.Dialer{
		TLSClientConfig:  tlsConfig,
		HandshakeTimeout: handshakeTimeout,
	}
	c.setState(StateAuthenticating)
	return c, nil
}

// authTransport adds Basic auth and JSON headers to every request.
type authTransport struct {
	base  http.RoundTripper
	token string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(basicAuthUser, t.token)
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return t.base.RoundTrip(req)
}

func newAuthClient(token string, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &authTransport{base: base, token: token}}
}

func authHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(basicAuthUser+":"+token)))
	h.Set("Accept", "application/json")
	return h
}

// ID is a random identifier used to correlate log lines.
func (c *Connection) ID() string { return c.id }

func (c *Connection) Credentials() process.Credentials { return c.creds }

// PID is the discovered process id.
func (c *Connection) PID() int { return c.creds.PID }

func (c *Connection) Port() int { return c.creds.Port }

func (c *Connection) AuthToken() string { return c.creds.AuthToken }

// InstallPath is empty when the source did not provide one.
func (c *Connection) InstallPath() string { return c.creds.InstallPath }

// Address is the HTTPS base url.
func (c *Connection) Address() string {
	return "https://127.0.0.1:" + strconv.Itoa(c.creds.Port)
}

// WebsocketAddress is the WSS url.
func (c *Connection) WebsocketAddress() string {
	return "wss://127.0.0.1:" + strconv.Itoa(c.creds.Port)
}

func (c *Connection) State() State { return State(c.state.Load()) }

// Closed reports whether teardown has started.
func (c *Connection) Closed() bool { return c.closed.Load() }

// Done is closed once the connection reaches StateClosed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Locals is scratch space for handlers sharing state on one connection.
func (c *Connection) Locals() *sync.Map { return &c.locals }

func (c *Connection) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev != s {
		c.logger.Debug("state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

// Stop asks the connection to close. It is idempotent; the run loop
// notices at its next suspension point.
func (c *Connection) Stop() {
	if !c.stopped.CompareAndSwap(false, true) {
		return
	}
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel(errStopped)
	}
}

// fail tears the connection down after a transport failure.
func (c *Connection) fail(err error) {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel(err)
	}
}

// Run drives the connection until it is closed. Terminal conditions are
// reported through the close and disconnect events, never returned.
func (c *Connection) Run(ctx context.Context) {
	if !c.running.CompareAndSwap(false, true) {
		<-c.done
		return
	}
	parent := ctx
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	if c.stopped.Load() {
		cancel(errStopped)
	}

	listen := c.router.Len() > 0
	c.logger.Info("connection opened", zap.Bool("websocket", listen))

	var fanout sync.WaitGroup
	openDone := c.fireAsync(ctx, &fanout, EventOpen)

	c.setState(StateWaitingReady)
	err := c.waitReady(ctx)
	if err == nil {
		// open must be observed before ready.
		<-openDone
		c.setState(StateReady)
		c.logger.Info("api ready")
		readyDone := c.fireAsync(ctx, &fanout, EventReady)

		if listen {
			c.setState(StateWebsocketActive)
			err = c.listen(ctx)
		} else {
			c.setState(StateIdle)
			err = c.idle(ctx, readyDone)
		}
	}

	fanout.Wait()
	unexpected := err != nil && !c.stopped.Load() && parent.Err() == nil
	c.teardown(parent, unexpected, err)
}

func (c *Connection) fireAsync(ctx context.Context, wg *sync.WaitGroup, name EventName) <-chan struct{} {
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(done)
		c.events.Fire(ctx, name, c)
	}()
	return done
}

func (c *Connection) teardown(ctx context.Context, unexpected bool, cause error) {
	c.closed.Store(true)
	c.setState(StateClosing)

	hctx := context.WithoutCancel(ctx)
	if unexpected {
		c.logger.Info("client closed unexpectedly", zap.Error(cause))
		c.events.Fire(hctx, EventDisconnect, c)
	}
	c.events.Fire(hctx, EventClose, c)

	c.client.CloseIdleConnections()
	c.setState(StateClosed)
	c.logger.Info("connection closed")
	if c.onClose != nil {
		c.onClose(c)
	}
	close(c.done)
}

// waitReady probes until the api answers with anything but a dial error.
func (c *Connection) waitReady(ctx context.Context) error {
	limit := rate.Inf
	if c.opts.Readiness.ProbeInterval > 0 {
		limit = rate.Every(c.opts.Readiness.ProbeInterval)
	}
	limiter := rate.NewLimiter(limit, 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return err
		}
		err := c.probe(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		if !isDialError(err) {
			c.logger.Debug("readiness probe failed, treating api as up", zap.Error(err))
			return nil
		}
	}
}

func (c *Connection) probe(ctx context.Context) error {
	c.metrics.probeIssued()
	ctx, cancel := context.WithTimeout(ctx, c.opts.Readiness.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Address()+readinessEndpoint, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// isDialError reports failures to reach the port at all, which mean the
// api is not up yet or the client went away.
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Request sends method to endpoint, replacing {name} placeholders from
// pathParams and JSON-encoding a non-nil body. The response is returned
// as is; the caller closes its body.
func (c *Connection) Request(ctx context.Context, method, endpoint string, body any, pathParams map[string]string) (*http.Response, error) {
	if st := c.State(); !st.serving() {
		return nil, fmt.Errorf("%w: %s %s while %s", ErrPrematureRequest, method, endpoint, st)
	}
	target, err := c.buildURL(endpoint, pathParams)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, reader)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if isDialError(err) && !c.stopped.Load() {
			c.fail(fmt.Errorf("request %s %s: %w", method, endpoint, err))
		}
		return nil, err
	}
	return resp, nil
}

func (c *Connection) buildURL(endpoint string, pathParams map[string]string) (string, error) {
	if !strings.HasPrefix(endpoint, "/") {
		return "", fmt.Errorf("%w: endpoint %q must start with /", ErrInvalidURI, endpoint)
	}
	var missing []string
	path := placeholder.ReplaceAllStringFunc(endpoint, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := pathParams[name]
		if !ok {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(v)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: unresolved placeholders %v in %q", ErrInvalidURI, missing, endpoint)
	}
	return c.Address() + path, nil
}

// listen subscribes to json api events and feeds them to the router until
// the connection is stopped or the socket closes.
func (c *Connection) listen(ctx context.Context) error {
	ws, _, err := c.dialer.DialContext(ctx, c.WebsocketAddress(), authHeader(c.creds.AuthToken))
	if err != nil {
		return fmt.Errorf("dialing websocket: %w", err)
	}
	defer ws.Close()

	// Cancellation sends a close frame and bounds the pending read, so the
	// loop exits at its next read instead of blocking forever.
	stopClose := context.AfterFunc(ctx, func() {
		deadline := time.Now().Add(closeGrace)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = ws.NetConn().SetReadDeadline(deadline)
	})
	defer stopClose()

	if err := ws.WriteJSON(subscribeFrame()); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	if _, _, err := ws.ReadMessage(); err != nil {
		return fmt.Errorf("reading subscribe ack: %w", err)
	}

	for !c.stopped.Load() {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.stopped.Load() {
				return nil
			}
			return err
		}
		c.metrics.frameReceived()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		ev, err := decodeFrame(data)
		if errors.Is(err, errNotEvent) {
			c.logger.Debug("ignoring frame", zap.Error(err))
			continue
		}
		if err != nil {
			c.metrics.frameDropped()
			c.logger.Warn("error decoding frame", zap.Error(err), zap.ByteString("frame", data))
			continue
		}
		n := c.router.Dispatch(ctx, c, ev)
		c.logger.Debug("websocket frame received", zap.String("uri", ev.URI), zap.String("type", string(ev.Type)), zap.Int("handlers", n))
	}
	return nil
}

// idle waits for the process to go away, or for the ready handlers when
// ExitWhenIdle is set.
func (c *Connection) idle(ctx context.Context, readyDone <-chan struct{}) error {
	if c.opts.ExitWhenIdle {
		select {
		case <-readyDone:
			return nil
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}

	ticker := time.NewTicker(c.opts.IdleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
			if c.locator == nil {
				continue
			}
			alive, err := c.locator.Running(ctx, c.creds.PID)
			if err != nil {
				c.logger.Debug("liveness check failed", zap.Error(err))
				continue
			}
			if !alive {
				return errProcessExited
			}
		}
	}
}
