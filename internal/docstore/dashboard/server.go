// Package dashboard provides a real-time WebSocket feed of document store activity.
//
// The dashboard broadcasts document writes, queue drains, and recurrence events
// to connected WebSocket clients. A dashboard with at least one client counts
// as "visible", which gates clock-driven refetches.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeDocUpdate indicates documents were created, updated, or deleted
	MessageTypeDocUpdate MessageType = "doc_update"

	// MessageTypeSyncComplete indicates a kind was replaced by the remote list
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeQueueDrain indicates the sync queue drained
	MessageTypeQueueDrain MessageType = "queue_drain"

	// MessageTypeRecurrence indicates the recurrence engine acted
	MessageTypeRecurrence MessageType = "recurrence"

	// MessageTypeStats indicates updated document statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Server accepts dashboard clients on /ws and fans messages out to them.
// Each client has its own outbox and writer goroutine; a client whose
// outbox fills up is disconnected.
type Server struct {
	addr    string
	logger  *log.Logger
	started time.Time

	ln   net.Listener
	http *http.Server

	mu      sync.Mutex
	peers   map[*peer]struct{}
	closed  bool
	welcome func() Message

	writers sync.WaitGroup
}

// peer is one connected dashboard client.
type peer struct {
	conn   *websocket.Conn
	outbox chan []byte
	gone   chan struct{}
	once   sync.Once
}

const (
	outboxSize   = 64
	writeTimeout = 5 * time.Second
)

// Config holds server configuration
type Config struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on (default: 8080, 0 picks a free port)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns the configuration used when NewServer gets nil.
func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard server. Nothing listens until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Server{
		addr:   net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		logger: logger,
		peers:  make(map[*peer]struct{}),
	}
}

// SetWelcome sets the message queued first for every new client.
func (s *Server) SetWelcome(fn func() Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.welcome = fn
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.started = time.Now()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/health", s.serveHealth)
	mux.HandleFunc("/", s.serveIndex)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Serve failed: %v", err)
		}
	}()
	s.logger.Printf("Dashboard listening on %s", ln.Addr())
	return nil
}

// Stop disconnects every client and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closed = true
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = make(map[*peer]struct{})
	s.mu.Unlock()

	for _, p := range peers {
		p.drop(websocket.StatusGoingAway, "server shutting down")
	}

	var err error
	if s.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := s.http.Shutdown(ctx); serr != nil {
			err = fmt.Errorf("server shutdown error: %w", serr)
		}
	}
	s.writers.Wait()
	s.logger.Printf("Dashboard stopped")
	return err
}

// Broadcast queues msg for every connected client. A zero timestamp is set
// to now.
func (s *Server) Broadcast(msg Message) {
	data, err := encode(msg)
	if err != nil {
		s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for p := range s.peers {
		select {
		case p.outbox <- data:
		default:
			delete(s.peers, p)
			s.logger.Printf("Dropping slow client (total: %d)", len(s.peers))
			go p.drop(websocket.StatusPolicyViolation, "client too slow")
		}
	}
}

func encode(msg Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	return json.Marshal(msg)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	p := &peer{conn: conn, outbox: make(chan []byte, outboxSize), gone: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	hello := Message{Type: MessageTypeStats}
	if s.welcome != nil {
		hello = s.welcome()
	}
	if data, err := encode(hello); err == nil {
		p.outbox <- data
	}
	s.peers[p] = struct{}{}
	n := len(s.peers)
	s.writers.Add(1)
	s.mu.Unlock()
	s.logger.Printf("Client connected (total: %d)", n)

	go s.write(p)
	s.read(p)
}

// write drains p's outbox until it is dropped.
func (s *Server) write(p *peer) {
	defer s.writers.Done()
	for {
		select {
		case <-p.gone:
			return
		case data := <-p.outbox:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := p.conn.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.forget(p)
				p.drop(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// read discards client frames; it returns once the client goes away.
func (s *Server) read(p *peer) {
	ctx := p.conn.CloseRead(context.Background())
	select {
	case <-ctx.Done():
	case <-p.gone:
	}
	if s.forget(p) {
		p.drop(websocket.StatusNormalClosure, "")
	}
}

// forget unregisters p and reports whether it was still registered.
func (s *Server) forget(p *peer) bool {
	s.mu.Lock()
	_, ok := s.peers[p]
	delete(s.peers, p)
	n := len(s.peers)
	s.mu.Unlock()
	if ok {
		s.logger.Printf("Client disconnected (total: %d)", n)
	}
	return ok
}

func (p *peer) drop(code websocket.StatusCode, reason string) {
	p.once.Do(func() {
		close(p.gone)
		_ = p.conn.Close(code, reason)
	})
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status  string  `json:"status"`
		Clients int     `json:"clients"`
		Uptime  float64 `json:"uptime_seconds"`
	}{"ok", s.ClientCount(), time.Since(s.started).Seconds()})
}

var indexPage = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>taskd dashboard</title></head>
<body>
<h1>taskd dashboard</h1>
<p>Live feed: <code>ws://{{.Host}}/ws</code> ({{.Clients}} connected)</p>
<p>Health: <a href="/health">/health</a></p>
</body>
</html>
`))

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = indexPage.Execute(w, struct {
		Host    string
		Clients int
	}{r.Host, s.ClientCount()})
}

// GetAddr returns the bound address once started, else the configured one.
func (s *Server) GetAddr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Visible reports whether anyone is watching the dashboard.
func (s *Server) Visible() bool {
	return s.ClientCount() > 0
}
