// Package dashboard serves a live view of a sync engine over WebSocket.
//
// Every engine notification is broadcast to connected clients as a JSON
// Message. A client receives a snapshot message right after connecting so
// it can render without waiting for the next change. /status returns the
// same snapshot over plain HTTP.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/roach88/offsync/internal/engine"
	"github.com/roach88/offsync/internal/ir"
)

// MessageType identifies the payload of a Message.
type MessageType string

const (
	// MessageTypeSnapshot carries a full Snapshot.
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeNotification carries one engine.Notification.
	MessageTypeNotification MessageType = "notification"
)

// Message is one frame on the feed.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Snapshot is the full view a client renders from.
type Snapshot struct {
	Network ir.NetworkState  `json:"network"`
	Status  ir.SyncState     `json:"status"`
	Queue   []QueuedOp       `json:"queue"`
	Stats   engine.SendStats `json:"stats"`
	Polls   []string         `json:"polls,omitempty"`
}

// QueuedOp is the pending-queue row shown for an operation.
type QueuedOp struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Kind      string    `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Source is the engine surface the dashboard reads. *engine.Engine
// satisfies it.
type Source interface {
	Monitor() *engine.Monitor
	Status() ir.SyncState
	Queue() []ir.Operation
	Stats() engine.SendStats
	ActivePolls() []string
	Subscribe(fn func(engine.Notification))
}

// Server manages WebSocket clients and broadcasts engine notifications.
type Server struct {
	source Source
	logger *slog.Logger
	now    func() time.Time

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loop   sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the timestamp source for messages.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// writeTimeout bounds a single frame write to one client.
const writeTimeout = 5 * time.Second

// broadcastBuffer is how many messages may wait for the broadcast loop
// before new ones are dropped.
const broadcastBuffer = 100

// New creates a dashboard for source and subscribes to its notifications.
// The broadcast loop starts with Start or the first Handler call.
func New(source Source, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		source:    source,
		logger:    slog.Default(),
		now:       time.Now,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, broadcastBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	source.Subscribe(s.Publish)
	return s
}

// Handler returns the HTTP routes: /ws, /status and /health.
func (s *Server) Handler() http.Handler {
	s.startLoop()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// Start listens on addr and serves Handler in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard server failed", "error", err)
		}
	}()
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every client and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var err error
	if s.server != nil {
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("dashboard shutdown: %w", shutdownErr)
		}
	}
	s.wg.Wait()
	return err
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Publish queues a notification for broadcast. It never blocks: it runs on
// the engine loop, so a full buffer drops the message.
func (s *Server) Publish(n engine.Notification) {
	msg, err := s.message(MessageTypeNotification, n)
	if err != nil {
		s.logger.Warn("notification not encoded", "kind", n.Kind, "error", err)
		return
	}
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("dashboard buffer full, dropping notification", "kind", n.Kind)
	}
}

// Snapshot reads the current view from the source.
func (s *Server) Snapshot() Snapshot {
	queue := s.source.Queue()
	rows := make([]QueuedOp, len(queue))
	for i, op := range queue {
		rows[i] = QueuedOp{ID: op.ID, Seq: op.Seq, Kind: op.Kind, CreatedAt: op.CreatedAt}
	}
	return Snapshot{
		Network: s.source.Monitor().State(),
		Status:  s.source.Status(),
		Queue:   rows,
		Stats:   s.source.Stats(),
		Polls:   s.source.ActivePolls(),
	}
}

func (s *Server) message(typ MessageType, v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Timestamp: s.now(), Data: data}, nil
}

func (s *Server) startLoop() {
	s.loop.Do(func() {
		s.wg.Add(1)
		go s.broadcastLoop()
	})
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Warn("message not encoded", "type", msg.Type, "error", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := s.write(conn, data); err != nil {
					s.logger.Debug("dashboard client write failed", "error", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// Broadcasts wait on the lock, so the snapshot is always the first
	// frame and nothing published after it is missed.
	s.clientsMu.Lock()
	if err := s.sendSnapshot(conn); err != nil {
		s.clientsMu.Unlock()
		s.logger.Warn("dashboard snapshot not sent", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "snapshot failed")
		return
	}
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("dashboard client connected", "clients", count)

	s.readLoop(conn)
}

func (s *Server) sendSnapshot(conn *websocket.Conn) error {
	msg, err := s.message(MessageTypeSnapshot, s.Snapshot())
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(conn, data)
}

// readLoop holds the connection open until the client leaves. Client
// frames are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if !s.clients[conn] {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	count := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("dashboard client disconnected", "clients", count)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}
