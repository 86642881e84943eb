//go:build !js || !wasm

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/dvcrn/studio-bridge/internal/logger"
)

const (
	msgCommand  = "command"
	msgResponse = "response"
	msgEvent    = "event"
	msgReply    = "reply"

	methodSetConfigValue   = "configuration.setValue"
	methodDocumentState    = "document.getCurrentState"
	methodActiveDataSource = "dataSource.getDataSource"
	methodFieldConfig      = "dataConnector.getConfiguration"
	methodConnector        = "connector.getById"

	// EventAuthExpired is emitted by the engine when one of its outbound
	// requests was rejected for authorization reasons.
	EventAuthExpired = "authExpired"
)

// ErrClosed is returned for calls made after the connection went away
var ErrClosed = errors.New("engine connection closed")

type message struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Method string          `json:"method,omitempty"`
	Name   string          `json:"name,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// WSClient talks to the engine over a WebSocket using JSON command/response
// and event/reply frames.
type WSClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan message
	handlers map[string]EventHandler

	closed   chan struct{}
	closeErr error
	once     sync.Once

	callTimeout time.Duration
	logger      zerolog.Logger
}

type DialOption func(*dialOptions)

type dialOptions struct {
	callTimeout      time.Duration
	handshakeTimeout time.Duration
}

// WithCallTimeout bounds every command round trip that has no deadline of its own
func WithCallTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) {
		o.callTimeout = d
	}
}

// Dial connects to the engine at rawURL. http(s) URLs are mapped to ws(s).
func Dial(ctx context.Context, rawURL string, tokens TokenProvider, log zerolog.Logger, opts ...DialOption) (*WSClient, error) {
	o := dialOptions{
		callTimeout:      30 * time.Second,
		handshakeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	wsURL, err := toWebSocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if tokens != nil {
		tok, err := tokens.OAuth2Token()
		if err != nil {
			return nil, fmt.Errorf("failed to get engine handshake token: %w", err)
		}
		req := &http.Request{Header: headers}
		tok.SetAuthHeader(req)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: o.handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return nil, fmt.Errorf("engine handshake failed with status %d: %s: %w", resp.StatusCode, strings.TrimSpace(string(body)), err)
		}
		return nil, fmt.Errorf("failed to open engine connection: %w", err)
	}

	c := newWSClient(conn, o.callTimeout, log)
	go c.readLoop()
	return c, nil
}

func newWSClient(conn *websocket.Conn, callTimeout time.Duration, log zerolog.Logger) *WSClient {
	return &WSClient{
		conn:        conn,
		pending:     make(map[string]chan message),
		handlers:    make(map[string]EventHandler),
		closed:      make(chan struct{}),
		callTimeout: callTimeout,
		logger:      logger.Component(log, "engine"),
	}
}

// OnEvent registers the handler for events named name, replacing any
// previous one.
func (c *WSClient) OnEvent(name string, h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[name] = h
}

// OnAuthExpired registers the authorization-expired handler
func (c *WSClient) OnAuthExpired(h EventHandler) {
	c.OnEvent(EventAuthExpired, h)
}

// Done is closed when the connection is gone
func (c *WSClient) Done() <-chan struct{} {
	return c.closed
}

// Err returns why the connection closed
func (c *WSClient) Err() error {
	select {
	case <-c.closed:
		return c.closeErr
	default:
		return nil
	}
}

// Close shuts the connection down
func (c *WSClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.shutdown(ErrClosed)
	return nil
}

func (c *WSClient) shutdown(err error) {
	c.once.Do(func() {
		c.closeErr = err
		close(c.closed)
		c.conn.Close()

		c.mu.Lock()
		for id, ch := range c.pending {
			delete(c.pending, id)
			close(ch)
		}
		c.mu.Unlock()
	})
}

func (c *WSClient) SetConfigValue(ctx context.Context, key, value string) error {
	return c.call(ctx, methodSetConfigValue, map[string]string{"key": key, "value": value}, nil)
}

func (c *WSClient) DocumentState(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.call(ctx, methodDocumentState, nil, &raw); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, errors.New("engine returned no document state")
	}
	return raw, nil
}

func (c *WSClient) ActiveDataSource(ctx context.Context) (*DataSource, error) {
	var ds *DataSource
	if err := c.call(ctx, methodActiveDataSource, nil, &ds); err != nil {
		return nil, err
	}
	return ds, nil
}

func (c *WSClient) ResolveFieldConfig(ctx context.Context, connectorID string) (map[string]string, error) {
	var cfg map[string]string
	if err := c.call(ctx, methodFieldConfig, map[string]string{"id": connectorID}, &cfg); err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = map[string]string{}
	}
	return cfg, nil
}

func (c *WSClient) Connector(ctx context.Context, id string) (*Connector, error) {
	var conn *Connector
	if err := c.call(ctx, methodConnector, map[string]string{"id": id}, &conn); err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("connector %s: %w", id, ErrNotFound)
	}
	return conn, nil
}

func (c *WSClient) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok && c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	msg := message{ID: uuid.NewString(), Type: msgCommand, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to encode %s params: %w", method, err)
		}
		msg.Params = raw
	}

	ch := make(chan message, 1)
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	c.pending[msg.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, msg.ID)
		c.mu.Unlock()
	}()

	if err := c.write(msg); err != nil {
		return fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrClosed
		}
		if resp.Error != "" {
			return fmt.Errorf("engine %s failed: %s", method, resp.Error)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("failed to decode %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return ErrClosed
	}
}

func (c *WSClient) write(msg message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSClient) readLoop() {
	for {
		msgType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				c.logger.Info().Msg("Engine connection closed")
				c.shutdown(ErrClosed)
				return
			}
			select {
			case <-c.closed:
			default:
				c.logger.Error().Err(err).Msg("Engine connection read failed")
			}
			c.shutdown(fmt.Errorf("%w: %v", ErrClosed, err))
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		var msg message
		if err := json.Unmarshal(bytes.TrimSpace(payload), &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Ignoring malformed engine frame")
			continue
		}

		switch msg.Type {
		case msgResponse:
			c.mu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
				}
			}
			c.mu.Unlock()
		case msgEvent:
			go c.dispatch(msg)
		default:
			c.logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown engine frame type")
		}
	}
}

// dispatch runs the event handler on its own goroutine so a slow handler,
// such as one waiting on a user prompt, never blocks command responses.
func (c *WSClient) dispatch(msg message) {
	c.mu.Lock()
	h, ok := c.handlers[msg.Name]
	c.mu.Unlock()

	reply := message{ID: msg.ID, Type: msgReply}
	if !ok {
		c.logger.Warn().Str("event", msg.Name).Msg("No handler for engine event")
		reply.Error = fmt.Sprintf("no handler for event %q", msg.Name)
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.closed:
				cancel()
			case <-ctx.Done():
			}
		}()
		result := h(ctx, msg.Params)
		cancel()

		raw, err := json.Marshal(result)
		if err != nil {
			reply.Error = fmt.Sprintf("failed to encode reply: %v", err)
		} else {
			reply.Result = raw
		}
	}

	if err := c.write(reply); err != nil {
		c.logger.Error().Err(err).Str("event", msg.Name).Msg("Failed to reply to engine event")
	}
}

func toWebSocketURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse engine URL %q: %w", rawURL, err)
	}
	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported engine URL scheme %q", u.Scheme)
	}
	return u.String(), nil
}
