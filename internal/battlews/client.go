// Package battlews follows a battle's view stream over a websocket and reconnects when the link drops.
package battlews

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/prompt-battle/internal/battle"
	"github.com/park285/prompt-battle/internal/obslog"
)

// FrameView is the type of a frame carrying a battle view.
const FrameView = "view"

// Frame is one message on the stream.
type Frame struct {
	Type string       `json:"type"`
	View *battle.View `json:"view,omitempty"`
}

// views embed generated images as data URLs
const readLimit = 16 << 20

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type ViewCallback func(v *battle.View)

type StateCallback func(s State)

// HeaderProvider supplies handshake headers, e.g. X-Participant-Id.
type HeaderProvider func() map[string]string

var ErrClosed = errors.New("battlews: client closed")

type viewEntry struct {
	id       int
	callback ViewCallback
}

type stateEntry struct {
	id       int
	callback StateCallback
}

type Client struct {
	url string

	conn  *websocket.Conn
	state State
	mu    sync.Mutex

	viewCbs  []viewEntry
	stateCbs []stateEntry
	nextCbID int
	cbM      sync.RWMutex

	maxReconnectAttempts int
	reconnectDelay       time.Duration
	pingInterval         time.Duration
	headerProvider       HeaderProvider

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

// StreamURL builds the stream endpoint for battleID from an http(s) or ws(s) base URL.
func StreamURL(baseURL, battleID string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if strings.TrimSpace(battleID) == "" {
		return "", errors.New("battle id is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/battles/" + url.PathEscape(battleID) + "/stream"
	return u.String(), nil
}

func New(wsURL string, maxReconnectAttempts int, reconnectDelay time.Duration) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	if reconnectDelay <= 0 {
		reconnectDelay = 200 * time.Millisecond
	}
	return &Client{
		url:                  wsURL,
		state:                StateDisconnected,
		maxReconnectAttempts: maxReconnectAttempts,
		reconnectDelay:       reconnectDelay,
		pingInterval:         30 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              ctx,
		rootCancel:           cancel,
	}
}

func (c *Client) SetHeaderProvider(h HeaderProvider) { c.headerProvider = h }

func (c *Client) SetPingInterval(d time.Duration) {
	if d > 0 {
		c.pingInterval = d
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) Connect(ctx context.Context) error {
	if c.isStopping() {
		return ErrClosed
	}
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(StateConnecting)
	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateFailed)
		c.scheduleReconnect()
		return err
	}
	c.attach(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
		HTTPHeader:      c.buildHeaders(),
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(readLimit)
	return conn, nil
}

func (c *Client) attach(conn *websocket.Conn) {
	if c.isStopping() {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
		return
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	c.wg.Add(1)
	go c.serve(conn)
}

// serve owns conn until it fails, then hands over to the reconnect loop.
func (c *Client) serve(conn *websocket.Conn) {
	defer c.wg.Done()
	ctx, cancel := context.WithCancel(c.rootCtx)
	pingDone := make(chan struct{})
	go func() {
		defer close(pingDone)
		c.pingLoop(ctx, conn)
	}()

	err := c.listen(ctx, conn)
	cancel()
	<-pingDone

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	if c.isStopping() {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
		return
	}
	obslog.L().Warn("battlews_disconnected", zap.String("url", c.url), zap.Error(err))
	_ = conn.Close(websocket.StatusGoingAway, "reconnect")
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

func (c *Client) listen(ctx context.Context, conn *websocket.Conn) error {
	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return err
		}
		if f.Type != FrameView || f.View == nil {
			continue
		}

		c.cbM.RLock()
		callbacks := make([]viewEntry, len(c.viewCbs))
		copy(callbacks, c.viewCbs)
		c.cbM.RUnlock()
		for _, entry := range callbacks {
			if entry.callback != nil {
				entry.callback(f.View)
			}
		}
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				// unblocks listen, which triggers the reconnect
				_ = conn.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func (c *Client) scheduleReconnect() {
	if c.maxReconnectAttempts <= 0 || c.isStopping() {
		return
	}
	c.setState(StateReconnecting)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(c.backoff(attempt)):
			}
			conn, err := c.dial(c.rootCtx)
			if err != nil {
				obslog.L().Debug("battlews_reconnect_failed", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			obslog.L().Info("battlews_reconnected", zap.String("url", c.url), zap.Int("attempt", attempt))
			c.attach(conn)
			return
		}
		c.setState(StateFailed)
	}()
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt > 8 {
		attempt = 8
	}
	d := c.reconnectDelay * time.Duration(1<<uint(attempt-1))
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (c *Client) OnView(cb ViewCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.viewCbs = append(c.viewCbs, viewEntry{id: c.nextCbID, callback: cb})
	return c.nextCbID
}

func (c *Client) RemoveViewCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.viewCbs {
		if cb.id == id {
			c.viewCbs = append(c.viewCbs[:i], c.viewCbs[i+1:]...)
			break
		}
	}
}

func (c *Client) OnStateChange(cb StateCallback) int {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	c.nextCbID++
	c.stateCbs = append(c.stateCbs, stateEntry{id: c.nextCbID, callback: cb})
	return c.nextCbID
}

func (c *Client) RemoveStateCallback(id int) {
	c.cbM.Lock()
	defer c.cbM.Unlock()
	for i, cb := range c.stateCbs {
		if cb.id == id {
			c.stateCbs = append(c.stateCbs[:i], c.stateCbs[i+1:]...)
			break
		}
	}
}

func (c *Client) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.cbM.RLock()
	callbacks := make([]stateEntry, len(c.stateCbs))
	copy(callbacks, c.stateCbs)
	c.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(state)
		}
	}
}

// Close stops reconnecting, closes the connection and waits for background goroutines.
func (c *Client) Close(ctx context.Context) error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.rootCancel()
	})
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "close")
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		c.setState(StateDisconnected)
		return nil
	}
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Client) buildHeaders() http.Header {
	hdr := http.Header{}
	if c.headerProvider == nil {
		return hdr
	}
	for k, v := range c.headerProvider() {
		if strings.TrimSpace(k) == "" || strings.TrimSpace(v) == "" {
			continue
		}
		hdr.Set(k, v)
	}
	return hdr
}
