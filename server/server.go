// Package server is the session gateway: one websocket per user
// session for triggering agent runs and receiving live download
// events, plus the HTTP read path for finished files.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/smartcache/agent"
	"github.com/teranos/smartcache/am"
	"github.com/teranos/smartcache/bus"
	"github.com/teranos/smartcache/catalog"
	"github.com/teranos/smartcache/download"
	"github.com/teranos/smartcache/errors"
	"github.com/teranos/smartcache/logger"
)

// Server holds the gateway's shared state
type Server struct {
	db         *sql.DB
	cfg        *am.Config
	catalog    *catalog.Store
	jobs       *download.Store
	loop       *agent.Loop
	events     *bus.Bus
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	httpServer *http.Server
	logger     *zap.SugaredLogger
}

// New creates a gateway over the pipeline components
func New(db *sql.DB, cfg *am.Config, cat *catalog.Store, jobs *download.Store,
	loop *agent.Loop, events *bus.Bus) *Server {
	s := &Server{
		db:         db,
		cfg:        cfg,
		catalog:    cat,
		jobs:       jobs,
		loop:       loop,
		events:     events,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.Named("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/downloads", s.handleListDownloads)
	mux.HandleFunc("/api/downloads/", s.handleDownloadFile)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: websocket connections and file streams are long-lived
		IdleTimeout: 120 * time.Second,
	}
	return s
}

// Handler exposes the route mux, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run manages client registration and serves HTTP until the context is
// cancelled
func (s *Server) Run(ctx context.Context) error {
	go s.RunClientLoop(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("gateway listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "gateway failed")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

// RunClientLoop owns the client set. All joins and leaves funnel
// through here so the map never needs external locking on the hot
// path. Run starts it; tests serving the mux directly drive it
// themselves.
func (s *Server) RunClientLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for client := range s.clients {
				client.close()
			}
			s.clients = make(map[*Client]bool)
			s.mu.Unlock()
			return
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client] = true
			n := len(s.clients)
			s.mu.Unlock()
			s.logger.Infow("client connected",
				"user_id", client.user.ID,
				"username", client.user.Username,
				"total_clients", n)
		case client := <-s.unregister:
			s.mu.Lock()
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.close()
			}
			n := len(s.clients)
			s.mu.Unlock()
			s.logger.Infow("client disconnected",
				"user_id", client.user.ID,
				"total_clients", n)
		}
	}
}

// authenticate resolves the request's bearer token to a user. The
// token rides the Authorization header or, for websocket dials from
// browsers, a token query parameter.
func (s *Server) authenticate(r *http.Request) (*catalog.User, error) {
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); auth != "" {
		const prefix = "Bearer "
		if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
			token = auth[len(prefix):]
		}
	}
	return s.catalog.UserByToken(r.Context(), token)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		http.Error(w, "database unreachable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
