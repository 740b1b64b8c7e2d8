package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ductor/ductor/internal/config"
	"github.com/ductor/ductor/internal/log"
)

// DispatchFunc handles one authenticated webhook request. The server
// invokes it on a background goroutine so slow agent runs never hold
// the HTTP response open.
type DispatchFunc func(ctx context.Context, hookID string, payload map[string]any)

// Server is the inbound HTTP listener.
//
// Routes:
//
//	GET  /health      health check for tunnel and proxy monitoring
//	POST /hooks/{id}  catch-all webhook endpoint
type Server struct {
	conf     config.WebhookConfig
	manager  *Manager
	limiter  *RateLimiter
	dispatch DispatchFunc

	server   *http.Server
	listener net.Listener
	port     int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer binds the listener immediately so a taken port fails fast.
// Port 0 asks the OS for a free one; use Port() for the bound value.
func NewServer(conf config.WebhookConfig, manager *Manager, dispatch DispatchFunc) (*Server, error) {
	listener, err := net.Listen("tcp", conf.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", conf.Addr(), err)
	}
	port := 0
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		conf:     conf,
		manager:  manager,
		limiter:  NewRateLimiter(conf.RatePerMinute),
		dispatch: dispatch,
		listener: listener,
		port:     port,
		ctx:      ctx,
		cancel:   cancel,
	}
	s.server = &http.Server{
		Handler:           s.routes(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s, nil
}

// Start serves until Stop is called. It blocks, so callers run it on
// its own goroutine.
func (s *Server) Start() error {
	log.Info(log.CatWebhook, "webhook server listening", "addr", s.listener.Addr().String())
	err := s.server.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts the server down and waits for in-flight dispatches.
func (s *Server) Stop(ctx context.Context) error {
	log.Info(log.CatWebhook, "webhook server stopping")
	err := s.server.Shutdown(ctx)
	s.cancel()
	s.wg.Wait()
	return err
}

// Port returns the bound port, useful when configured with port 0.
func (s *Server) Port() int {
	return s.port
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /hooks/{id}", s.handleHook)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleHook applies the gate sequence: rate limit, content type, body
// size, JSON shape, hook lookup, enabled flag, auth. Anything that
// passes is dispatched in the background and acknowledged with 202.
func (s *Server) handleHook(w http.ResponseWriter, r *http.Request) {
	hookID := r.PathValue("id")
	log.Info(log.CatWebhook, "webhook request received", "hook", hookID)

	limit := 0
	if hook, ok := s.manager.Get(hookID); ok {
		limit = hook.RatePerMinute
	}
	if !s.limiter.Allow(hookID, limit) {
		s.writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if mediaType, _, _ := strings.Cut(contentType, ";"); strings.TrimSpace(mediaType) != "application/json" {
		log.Warn(log.CatWebhook, "webhook rejected: bad content type", "hook", hookID, "content_type", contentType)
		s.writeError(w, http.StatusUnsupportedMediaType, "content_type_must_be_json")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, s.conf.MaxBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		var probe any
		if json.Unmarshal(body, &probe) == nil {
			log.Warn(log.CatWebhook, "webhook rejected: body not an object", "hook", hookID)
			s.writeError(w, http.StatusBadRequest, "body_must_be_object")
			return
		}
		log.Warn(log.CatWebhook, "webhook rejected: invalid json", "hook", hookID)
		s.writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	hook, ok := s.manager.Get(hookID)
	if !ok {
		log.Warn(log.CatWebhook, "webhook rejected: not found", "hook", hookID)
		s.writeError(w, http.StatusNotFound, "hook_not_found")
		return
	}
	if !hook.Enabled {
		log.Warn(log.CatWebhook, "webhook rejected: disabled", "hook", hookID)
		s.writeError(w, http.StatusForbidden, "hook_disabled")
		return
	}

	signatureValue := ""
	if hook.HMACHeader != "" {
		signatureValue = r.Header.Get(hook.HMACHeader)
	}
	if !Authorize(hook, r.Header.Get("Authorization"), signatureValue, body, s.manager.AuthToken()) {
		s.writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if s.dispatch != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.dispatch(s.ctx, hookID, payload)
		}()
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "hook_id": hookID})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.ErrorErr(log.CatWebhook, "failed to encode webhook response", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code string) {
	s.writeJSON(w, status, map[string]string{"error": code})
}
