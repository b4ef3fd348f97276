package slaveengine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"obscore/internal/protocol"
	"obscore/pkg/clients"
	"obscore/pkg/logging"
)

// DefaultMaxReconnectAttempts is the ceiling on consecutive dial failures
// before the supervisor gives up (§4.E.a, §8 P5).
const DefaultMaxReconnectAttempts = 10

// ReconnectionStatus is the value polled by the shell command surface
// (get_slave_reconnection_status).
type ReconnectionStatus struct {
	IsReconnecting bool
	AttemptCount   int
	MaxAttempts    int
	LastError      string
}

// SupervisorConfig holds the dial target and retry ceiling.
type SupervisorConfig struct {
	Host             string
	Port             int
	MaxAttempts      int
	ApplyTimeout     time.Duration
}

// Supervisor owns the persistent reconnecting websocket session to the
// master, the applier's dispatch of incoming envelopes, and the upstream
// send task that multiplexes outbound envelopes (drift reports, explicit
// resync requests) across reconnections.
//
// Grounded on slave.rs's connect-with-backoff loop: an outer loop with an
// attempt counter, reset to zero on success, that spawns a reader task per
// connection and hands outbound sends to a task that tolerates the sender
// being briefly or permanently absent.
type Supervisor struct {
	cfg     SupervisorConfig
	applier *Applier
	logger  logging.Logger

	mu             sync.RWMutex
	status         ReconnectionStatus
	shouldReconnect bool
	currentConn    *websocket.Conn

	upstream chan protocol.Envelope
}

// NewSupervisor constructs a Supervisor. The outbound queue described in
// §4.E.a is a channel with a fixed buffer of 1024 envelopes.
func NewSupervisor(cfg SupervisorConfig, applier *Applier, logger logging.Logger) *Supervisor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxReconnectAttempts
	}
	return &Supervisor{
		cfg:             cfg,
		applier:         applier,
		logger:          logger,
		shouldReconnect: true,
		upstream:        make(chan protocol.Envelope, 1024),
		status:          ReconnectionStatus{MaxAttempts: cfg.MaxAttempts},
	}
}

// Upstream returns the channel outbound envelopes (drift reports, explicit
// resync requests) should be sent on.
func (s *Supervisor) Upstream() chan<- protocol.Envelope { return s.upstream }

// Status returns a snapshot of the current reconnection status.
func (s *Supervisor) Status() ReconnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) setStatus(update func(*ReconnectionStatus)) {
	s.mu.Lock()
	update(&s.status)
	s.mu.Unlock()
}

// Disconnect stops the reconnection loop and closes any open connection.
// The supervisor's outer loop observes shouldReconnect at the next loop head.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	s.shouldReconnect = false
	conn := s.currentConn
	s.currentConn = nil
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (s *Supervisor) reconnectRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shouldReconnect
}

// Run drives the connection supervisor's outer loop until disconnect or the
// attempt ceiling is reached. It also starts the upstream-send task.
func (s *Supervisor) Run(ctx context.Context) {
	go s.upstreamSendTask(ctx)

	attempt := 0
	for {
		if !s.reconnectRequested() {
			s.setStatus(func(st *ReconnectionStatus) {
				*st = ReconnectionStatus{MaxAttempts: s.cfg.MaxAttempts}
			})
			return
		}

		if attempt > 0 {
			delay := clients.ReconnectBackoff(attempt)
			s.setStatus(func(st *ReconnectionStatus) {
				st.IsReconnecting = true
				st.AttemptCount = attempt
				st.MaxAttempts = s.cfg.MaxAttempts
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		if attempt >= s.cfg.MaxAttempts {
			s.setStatus(func(st *ReconnectionStatus) {
				st.IsReconnecting = false
				st.LastError = fmt.Sprintf("Max reconnection attempts (%d) reached", s.cfg.MaxAttempts)
			})
			return
		}

		conn, err := s.dial(ctx)
		if err != nil {
			attempt++
			s.setStatus(func(st *ReconnectionStatus) {
				st.IsReconnecting = true
				st.AttemptCount = attempt
				st.LastError = err.Error()
			})
			s.logger.WithError(err).WithFields(logging.Fields{"attempt": attempt}).
				Warn("failed to connect to master")
			continue
		}

		attempt = 0
		s.setStatus(func(st *ReconnectionStatus) {
			st.IsReconnecting = false
			st.AttemptCount = 0
			st.LastError = ""
		})

		s.mu.Lock()
		s.currentConn = conn
		s.mu.Unlock()

		s.readLoop(ctx, conn)

		s.mu.Lock()
		if s.currentConn == conn {
			s.currentConn = nil
		}
		s.mu.Unlock()

		if !s.reconnectRequested() {
			return
		}
		s.setStatus(func(st *ReconnectionStatus) {
			st.IsReconnecting = true
			st.LastError = "connection lost"
		})
	}
}

func (s *Supervisor) dial(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("ws://%s:%d/", s.cfg.Host, s.cfg.Port)
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return conn, nil
}

// readLoop parses each text frame as an envelope and hands it to the
// applier in arrival order. It returns when the connection closes or
// errors.
func (s *Supervisor) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.Decode(data)
		if err != nil {
			s.logger.WithError(err).Warn("dropping unparseable frame from master")
			continue
		}
		if !protocol.KnownMessageType(env.MessageType) {
			s.logger.WithFields(logging.Fields{"message_type": env.MessageType}).
				Warn("unknown message_type from master, skipping")
			continue
		}
		s.applier.Apply(ctx, env)
	}
}

// upstreamSendTask holds the current connection's sender and forwards
// queued outbound envelopes to it; when no connection is open, it drops the
// frame with a warning rather than blocking (§4.E.a — outbound messages are
// tolerant of loss, since a resync is master-initiated on reconnect).
func (s *Supervisor) upstreamSendTask(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.upstream:
			s.mu.RLock()
			conn := s.currentConn
			s.mu.RUnlock()

			if conn == nil {
				s.logger.WithFields(logging.Fields{"message_type": env.MessageType}).
					Warn("no active master connection, dropping outbound message")
				continue
			}

			wire, err := protocol.Encode(env)
			if err != nil {
				s.logger.WithError(err).Warn("failed to encode outbound envelope")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, wire); err != nil {
				s.logger.WithError(err).Warn("failed to write outbound envelope")
			}
		}
	}
}

// RequestResync enqueues an explicit StateSyncRequest upstream.
func (s *Supervisor) RequestResync() {
	env, err := protocol.NewStateSyncRequest()
	if err != nil {
		return
	}
	select {
	case s.upstream <- env:
	default:
		s.logger.Warn("upstream channel full, dropping resync request")
	}
}
