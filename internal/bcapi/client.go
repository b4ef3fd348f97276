// Package bcapi is the uniform adapter over the broadcasting-application's
// remote control protocol (the BC-API, §4.B): scene/item/transform/filter/
// input-settings read and write, plus an asynchronous event stream.
//
// The wire shape is grounded on the same request/response-over-websocket
// idiom the pack's MistServer client uses for its TCP API (authenticate
// once, retry once on a stale session, dispatch typed commands over a
// generic JSON envelope) — except the BC-API is a persistent duplex
// websocket session rather than a request-per-HTTP-call API, so requests
// are correlated by id instead of by one-shot connection.
package bcapi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"obscore/pkg/clients"
	"obscore/pkg/logging"
)

// ErrorKind is the closed taxonomy of BC-API failures (§4.B).
type ErrorKind string

const (
	NotConnected       ErrorKind = "not_connected"
	Timeout            ErrorKind = "timeout"
	Refused            ErrorKind = "refused"
	Protocol           ErrorKind = "protocol"
	NotFound           ErrorKind = "not_found"
	StudioModeDisabled ErrorKind = "studio_mode_disabled"
	Other              ErrorKind = "other"
)

// Error is the uniform failure type every adapter operation returns.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("bcapi: %s: %s", e.Kind, e.Message) }

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Config holds the connection parameters for a BC-API session.
type Config struct {
	Host             string
	Port             int
	Password         string
	RequestTimeout   time.Duration
	FailureThreshold int
	BreakerTimeout   time.Duration
}

// DefaultConfig returns sane defaults for RequestTimeout and breaker tuning.
func DefaultConfig(host string, port int, password string) Config {
	return Config{
		Host:             host,
		Port:             port,
		Password:         password,
		RequestTimeout:   10 * time.Second,
		FailureThreshold: 5,
		BreakerTimeout:   30 * time.Second,
	}
}

// Event is the closed sum type for BC-API event-stream notifications. Only
// one of the typed fields is set per Event; Kind names which one.
type Event struct {
	Kind EventKind

	SceneName  string // CurrentProgramSceneChanged, CurrentPreviewSceneChanged
	ItemID     int64  // SceneItemTransformChanged, SceneItemFilterChanged
	InputName  string // InputSettingsChanged
	FilterName string // SceneItemFilterChanged
}

type EventKind string

const (
	CurrentProgramSceneChanged   EventKind = "current_program_scene_changed"
	CurrentPreviewSceneChanged   EventKind = "current_preview_scene_changed"
	SceneItemTransformChanged    EventKind = "scene_item_transform_changed"
	InputSettingsChanged         EventKind = "input_settings_changed"
	SceneItemFilterChanged       EventKind = "scene_item_filter_changed"
)

// Item is a scene item as returned by ListItems.
type Item struct {
	ID         int64
	SourceName string
	InputKind  string
}

// TransformValues mirrors protocol.Transform without importing the protocol
// package, keeping the adapter usable independent of the wire codec.
type TransformValues struct {
	PositionX, PositionY float64
	Rotation             float64
	ScaleX, ScaleY       float64
	Width, Height        float64
}

// FilterInfo is one entry of ListFilters.
type FilterInfo struct {
	Name     string
	Enabled  bool
	Settings map[string]interface{}
}

// Client is a connected BC-API session. Zero value is not usable; construct
// with New.
type Client struct {
	cfg    Config
	logger logging.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	pending map[string]chan rawResponse

	events  chan Event
	breaker *clients.CircuitBreaker

	writeMu sync.Mutex
}

type rawRequest struct {
	RequestType string                 `json:"request-type"`
	RequestID   string                 `json:"request-id"`
	RequestData map[string]interface{} `json:"request-data,omitempty"`
}

type rawResponse struct {
	RequestID   string                 `json:"request-id"`
	Status      string                 `json:"status"`
	Error       string                 `json:"error,omitempty"`
	ResponseData map[string]interface{} `json:"response-data,omitempty"`
}

type rawEvent struct {
	EventType string                 `json:"event-type"`
	EventData map[string]interface{} `json:"event-data"`
}

// New creates a disconnected Client; call Connect to establish a session.
func New(cfg Config, logger logging.Logger) *Client {
	return &Client{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]chan rawResponse),
		events:  make(chan Event, 256),
		breaker: clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			Name:             "bc-api",
			FailureThreshold: cfg.FailureThreshold,
			SuccessThreshold: 1,
			Timeout:          cfg.BreakerTimeout,
			OnStateChange: func(name string, from, to clients.CircuitBreakerState) {
				logger.WithFields(logging.Fields{
					"breaker": name,
					"from":    from.String(),
					"to":      to.String(),
				}).Warn("BC-API circuit breaker transitioned")
			},
		}),
	}
}

// Connect dials the BC-API websocket and performs the (optional) password
// handshake. The dial is retried with exponential backoff before the whole
// attempt sequence is counted as one circuit-breaker call, so that a target
// still booting up doesn't trip the breaker on its first failed attempt
// (§7's ConnectError propagation policy).
func (c *Client) Connect(ctx context.Context) error {
	retryCfg := clients.DefaultRetryConfig()
	retryCfg.CircuitBreaker = c.breaker
	err := clients.Retry(ctx, retryCfg, func() error {
		return c.dial(ctx)
	})
	if err != nil {
		if be, ok := err.(*Error); ok {
			return be
		}
		return newError(Refused, "%v", err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) error {
	url := fmt.Sprintf("ws://%s:%d", c.cfg.Host, c.cfg.Port)
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		NetDialContext:   clients.DefaultTransport().DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return newError(Refused, "dial %s: %v", url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	if c.cfg.Password != "" {
		if _, err := c.call(ctx, "authenticate", map[string]interface{}{"password": c.cfg.Password}); err != nil {
			c.Disconnect()
			return err
		}
	}
	return nil
}

// Disconnect closes the underlying session. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Connected reports whether a session is currently open.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Events returns the channel events are delivered on. The channel is closed
// when the underlying session ends; callers should resubscribe (reconnect
// and call Events again) to restart the sequence, per §4.B.
func (c *Client) Events() <-chan Event { return c.events }

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		close(c.events)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var probe struct {
			RequestID string `json:"request-id"`
			EventType string `json:"event-type"`
		}
		if err := json.Unmarshal(data, &probe); err != nil {
			c.logger.WithError(err).Warn("BC-API sent unparseable frame")
			continue
		}

		if probe.RequestID != "" {
			var resp rawResponse
			if err := json.Unmarshal(data, &resp); err != nil {
				c.logger.WithError(err).Warn("BC-API sent unparseable response")
				continue
			}
			c.mu.RLock()
			ch, ok := c.pending[resp.RequestID]
			c.mu.RUnlock()
			if ok {
				ch <- resp
			}
			continue
		}

		if probe.EventType != "" {
			var ev rawEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				c.logger.WithError(err).Warn("BC-API sent unparseable event")
				continue
			}
			if typed, ok := toTypedEvent(ev); ok {
				select {
				case c.events <- typed:
				default:
					c.logger.Warn("BC-API event channel full, dropping event")
				}
			}
		}
	}
}

func toTypedEvent(ev rawEvent) (Event, bool) {
	switch ev.EventType {
	case "CurrentProgramSceneChanged":
		return Event{Kind: CurrentProgramSceneChanged, SceneName: str(ev.EventData, "scene_name")}, true
	case "CurrentPreviewSceneChanged":
		return Event{Kind: CurrentPreviewSceneChanged, SceneName: str(ev.EventData, "scene_name")}, true
	case "SceneItemTransformChanged":
		return Event{Kind: SceneItemTransformChanged, SceneName: str(ev.EventData, "scene_name"), ItemID: i64(ev.EventData, "scene_item_id")}, true
	case "InputSettingsChanged":
		return Event{Kind: InputSettingsChanged, InputName: str(ev.EventData, "input_name")}, true
	case "SceneItemFilterChanged":
		return Event{
			Kind:       SceneItemFilterChanged,
			SceneName:  str(ev.EventData, "scene_name"),
			ItemID:     i64(ev.EventData, "scene_item_id"),
			FilterName: str(ev.EventData, "filter_name"),
		}, true
	default:
		return Event{}, false
	}
}

func str(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func i64(m map[string]interface{}, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// call sends a request and blocks for its matching response, up to
// cfg.RequestTimeout.
func (c *Client) call(ctx context.Context, requestType string, data map[string]interface{}) (map[string]interface{}, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, newError(NotConnected, "no active session")
	}

	id := uuid.NewString()
	respCh := make(chan rawResponse, 1)

	c.mu.Lock()
	c.pending[id] = respCh
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := rawRequest{RequestType: requestType, RequestID: id, RequestData: data}
	wire, err := json.Marshal(req)
	if err != nil {
		return nil, newError(Other, "encode request: %v", err)
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, wire)
	c.writeMu.Unlock()
	if err != nil {
		return nil, newError(Refused, "write request: %v", err)
	}

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	select {
	case resp := <-respCh:
		if resp.Status != "ok" {
			return nil, classifyError(resp.Error)
		}
		return resp.ResponseData, nil
	case <-time.After(timeout):
		return nil, newError(Timeout, "no response to %s within %s", requestType, timeout)
	case <-ctx.Done():
		return nil, newError(Timeout, "context cancelled waiting for %s", requestType)
	}
}

func classifyError(msg string) *Error {
	switch msg {
	case "":
		return newError(Other, "unspecified error")
	case "not_found":
		return newError(NotFound, "resource not found")
	case "studio_mode_disabled":
		return newError(StudioModeDisabled, "studio mode is disabled")
	default:
		return newError(Other, "%s", msg)
	}
}
