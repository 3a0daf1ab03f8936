package remote

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/aneuhold/taskd/internal/docstore/queue"
)

// PushPath is the websocket endpoint announcing remote changes.
const PushPath = "/v1/push"

// maxBatchBytes limits a single sync request body.
const maxBatchBytes = 16 << 20

// PushMessage is sent to push subscribers after documents change.
type PushMessage struct {
	Type  string    `json:"type"`
	Kinds []string  `json:"kinds"`
	At    time.Time `json:"at"`
}

// HandlerConfig holds configuration for a Handler.
type HandlerConfig struct {
	// Remote serves the sync requests. Required.
	Remote *Memory

	// Token, when set, must be presented as a bearer token.
	Token string

	// Logger for request activity (default: stderr logger).
	Logger *log.Logger
}

// Handler serves a Memory remote over HTTP.
type Handler struct {
	remote *Memory
	token  string
	logger *log.Logger
	mux    *http.ServeMux

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool
}

// NewHandler creates a Handler and subscribes it to the remote's changes.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	h := &Handler{
		remote:  cfg.Remote,
		token:   strings.TrimSpace(cfg.Token),
		logger:  cfg.Logger,
		mux:     http.NewServeMux(),
		clients: make(map[*websocket.Conn]bool),
	}
	h.mux.HandleFunc("POST "+SyncPath, h.handleSync)
	h.mux.HandleFunc("GET "+PushPath, h.handlePush)
	h.mux.HandleFunc("GET /health", h.handleHealth)

	cfg.Remote.OnChange(h.Notify)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Notify sends a change message to every push subscriber.
func (h *Handler) Notify(kinds []string) {
	data, err := json.Marshal(PushMessage{Type: "changed", Kinds: kinds, At: time.Now()})
	if err != nil {
		h.logger.Printf("Failed to marshal push message: %v", err)
		return
	}

	h.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.clientsMu.RUnlock()

	for _, conn := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			h.logger.Printf("Failed to push to subscriber: %v", err)
			h.removeClient(conn)
		}
	}
}

// SubscriberCount returns the number of connected push subscribers.
func (h *Handler) SubscriberCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects every push subscriber.
func (h *Handler) Close() {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(h.clients, conn)
	}
}

func (h *Handler) handleSync(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBatchBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var batch queue.Batch
	if err := json.Unmarshal(body, &batch); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed batch: "+err.Error())
		return
	}

	res, err := h.remote.Apply(r.Context(), batch)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid_batch", err.Error())
		return
	}
	h.logger.Printf("Applied batch: %s", batch.Summary())

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = true
	n := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Printf("Push subscriber connected (total: %d)", n)

	// Subscribers never send; block until the connection goes away.
	ctx := conn.CloseRead(r.Context())
	<-ctx.Done()
	h.removeClient(conn)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"subscribers": h.SubscriberCount(),
	})
}

func (h *Handler) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, ok := h.clients[conn]; !ok {
		h.clientsMu.Unlock()
		return
	}
	delete(h.clients, conn)
	n := len(h.clients)
	h.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	h.logger.Printf("Push subscriber disconnected (total: %d)", n)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+h.token
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}
