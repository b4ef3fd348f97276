// Package broadcast is the master's client registry and fan-out server
// (§4.D): it accepts slave connections, relays every outbound protocol
// envelope to all of them, and tracks each slave's reported sync status.
//
// Adapted from _teacher_api_realtime/internal/websocket's Hub/Client pair —
// same per-client send channel and read/write pump goroutines, with the
// register/unregister channels replaced by mutex-guarded maps — generalized from a tenant-scoped pub/sub fan-out to the
// single-topic, protocol-envelope fan-out the master-slave wire format
// calls for.
package broadcast

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"obscore/internal/protocol"
	"obscore/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // protocol payloads may carry inline base64 images
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ClientInfo is the roster entry tracked per live connection.
type ClientInfo struct {
	IP            string
	ConnectedAt   time.Time
	LastActivity  time.Time
}

// SlaveStatus is the most recent StateReport received from a slave, upserted
// on arrival.
type SlaveStatus struct {
	IsSynced       bool
	DesyncDetails  []protocol.DesyncDetail
	LastReportTime time.Time
}

// OnNewClient is invoked once per successful connection and again on each
// StateSyncRequest. Implementations should perform a short grace delay then
// push a fresh StateSync; it goes out through the shared broadcast, so every
// connected client receives it, not only clientID.
type OnNewClient func(clientID string)

// client is one registered connection and its dedicated out_channel.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	logger logging.Logger
}

// Server is the broadcast task plus accept task plus client registry.
type Server struct {
	logger      logging.Logger
	onNewClient OnNewClient

	mu            sync.RWMutex
	clients       map[string]*client
	clientInfo    map[string]ClientInfo
	slaveStatuses map[string]SlaveStatus

	shutdown chan struct{}
	once     sync.Once
}

// New constructs a Server. Call Start to begin accepting connections and
// ServeWS as the handler for the listening HTTP server.
func New(logger logging.Logger, onNewClient OnNewClient) *Server {
	return &Server{
		logger:        logger,
		onNewClient:   onNewClient,
		clients:       make(map[string]*client),
		clientInfo:    make(map[string]ClientInfo),
		slaveStatuses: make(map[string]SlaveStatus),
		shutdown:      make(chan struct{}),
	}
}

// Start spawns the broadcast task that drains outbound and fans each
// envelope out to every registered client.
func (s *Server) Start(outbound <-chan protocol.Envelope) {
	go s.broadcastLoop(outbound)
}

// Stop marks the server as shut down and empties the registry. Safe to call
// more than once.
func (s *Server) Stop() {
	s.once.Do(func() { close(s.shutdown) })

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		close(c.send)
	}
	s.clients = make(map[string]*client)
	s.clientInfo = make(map[string]ClientInfo)
	s.slaveStatuses = make(map[string]SlaveStatus)
}

func (s *Server) broadcastLoop(outbound <-chan protocol.Envelope) {
	for {
		select {
		case <-s.shutdown:
			return
		case env, ok := <-outbound:
			if !ok {
				return
			}
			s.broadcastEnvelope(env)
		}
	}
}

func (s *Server) broadcastEnvelope(env protocol.Envelope) {
	wire, err := protocol.Encode(env)
	if err != nil {
		s.logger.WithError(err).Error("failed to encode outbound envelope for broadcast")
		return
	}

	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- wire:
		default:
			s.logger.WithFields(logging.Fields{"client_id": c.id}).
				Warn("client send channel full, dropping broadcast frame")
		}
	}
}

// ServeWS upgrades an incoming connection and runs its accept-task steps:
// handshake, registry install, on_new_client invocation, and the writer and
// reader goroutines.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Error("websocket handshake failed, abandoning socket")
		return
	}

	ip := peerIP(r, conn)
	clientID := ip

	c := &client{
		id:     clientID,
		conn:   conn,
		send:   make(chan []byte, 256),
		logger: s.logger,
	}

	now := time.Now()
	s.mu.Lock()
	s.clients[clientID] = c
	s.clientInfo[clientID] = ClientInfo{IP: ip, ConnectedAt: now, LastActivity: now}
	s.mu.Unlock()

	s.logger.WithFields(logging.Fields{"client_id": clientID}).Info("slave connected")

	if s.onNewClient != nil {
		go s.onNewClient(clientID)
	}

	go s.writePump(c)
	s.readPump(c)
}

func peerIP(r *http.Request, conn *websocket.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	host, port, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return net.JoinHostPort(host, port)
}

func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(c *client) {
	defer s.removeClient(c)

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		s.touchActivity(c.id)

		switch msgType {
		case websocket.PingMessage:
			s.echoPong(c)
			continue
		case websocket.CloseMessage:
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			s.logger.WithError(err).WithFields(logging.Fields{"client_id": c.id}).
				Warn("dropping unparseable frame from slave")
			continue
		}

		switch env.MessageType {
		case protocol.StateSyncRequest:
			if s.onNewClient != nil {
				go s.onNewClient(c.id)
			}
		case protocol.StateReport:
			s.upsertSlaveStatus(c.id, env)
		}
	}
}

// echoPong replies to an application-level Ping via the client's registered
// sender rather than writing directly on the reader's own socket half —
// the reader and writer share one connection but only the writer goroutine
// is allowed to write to it. The reply is a well-formed Heartbeat envelope
// rather than an empty frame, so the peer's own decoder has something to
// parse.
func (s *Server) echoPong(c *client) {
	env, err := protocol.NewHeartbeat()
	if err != nil {
		s.logger.WithError(err).Warn("failed to build heartbeat reply")
		return
	}
	wire, err := protocol.Encode(env)
	if err != nil {
		s.logger.WithError(err).Warn("failed to encode heartbeat reply")
		return
	}
	select {
	case c.send <- wire:
	default:
	}
}

func (s *Server) touchActivity(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.clientInfo[clientID]
	if !ok {
		return
	}
	info.LastActivity = time.Now()
	s.clientInfo[clientID] = info
}

func (s *Server) upsertSlaveStatus(clientID string, env protocol.Envelope) {
	payload, err := env.AsStateReportPayload()
	if err != nil {
		s.logger.WithError(err).WithFields(logging.Fields{"client_id": clientID}).
			Warn("failed to parse StateReport payload")
		return
	}
	s.mu.Lock()
	s.slaveStatuses[clientID] = SlaveStatus{
		IsSynced:       payload.IsSynced,
		DesyncDetails:  payload.DesyncDetails,
		LastReportTime: time.Now(),
	}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		delete(s.clientInfo, c.id)
		delete(s.slaveStatuses, c.id)
		close(c.send)
	}
	s.mu.Unlock()
	s.logger.WithFields(logging.Fields{"client_id": c.id}).Info("slave disconnected")
}

// Count is the fast-path connected-client count, kept alongside the fuller
// roster queries below (grounded on server.rs's get_connected_clients_count).
func (s *Server) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// ClientsInfo returns a snapshot of the full client roster.
func (s *Server) ClientsInfo() map[string]ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ClientInfo, len(s.clientInfo))
	for k, v := range s.clientInfo {
		out[k] = v
	}
	return out
}

// SlaveStatuses returns a snapshot of every slave's most recent report.
func (s *Server) SlaveStatuses() map[string]SlaveStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]SlaveStatus, len(s.slaveStatuses))
	for k, v := range s.slaveStatuses {
		out[k] = v
	}
	return out
}

// BroadcastEnvelope is an escape hatch for callers that need to push a
// single envelope outside the normal master-engine outbound channel.
func (s *Server) BroadcastEnvelope(ctx context.Context, env protocol.Envelope) {
	s.broadcastEnvelope(env)
}
