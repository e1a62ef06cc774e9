package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"BeeChat/internal/audit"
	"BeeChat/internal/config"
	"BeeChat/internal/session"
)

// Server exposes the WebSocket chat endpoint, the Beefree auth token proxy,
// the liveness endpoint and static assets.
type Server struct {
	cfg        config.Config
	runner     session.Runner
	store      *audit.Store
	logger     *slog.Logger
	httpClient *http.Client
}

// New creates a server. store may be nil to disable session auditing.
func New(cfg config.Config, runner session.Runner, store *audit.Store, logger *slog.Logger) *Server {
	return &Server{
		cfg:        cfg,
		runner:     runner,
		store:      store,
		logger:     logger,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Routes returns the HTTP handler for all endpoints
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/auth/token", s.handleToken)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.Server.StaticDir))))
	mux.HandleFunc("/", s.handleIndex)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "beechat",
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.cfg.Server.StaticDir, "index.html"))
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
