// Package web serves the pump controller's HTTP API, status page and
// WebSocket observer endpoint.
package web

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/sweeney/smart-watering/internal/broadcast"
	"github.com/sweeney/smart-watering/internal/controller"
	"github.com/sweeney/smart-watering/internal/logic"
	"github.com/sweeney/smart-watering/internal/sensors"
	"github.com/sweeney/smart-watering/internal/status"
)

// Controller is the part of *controller.Controller the API drives.
type Controller interface {
	Start(ctx context.Context, durationSeconds uint32) (controller.Result, error)
	Stop(ctx context.Context) (controller.Result, error)
	SetMode(ctx context.Context, mode logic.Mode) (controller.Result, error)
	SetAIEnabled(ctx context.Context, enabled bool) (logic.Snapshot, error)
	Decide(ctx context.Context) (logic.Verdict, error)
	State() logic.Snapshot
	Sensors() sensors.Reading
}

// Deps are the collaborators a Server reads from and drives.
type Deps struct {
	Controller  Controller
	Tracker     *status.Tracker
	Broadcaster *broadcast.Broadcaster

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// CORSOrigins lists allowed browser origins ("*" allows any).
	CORSOrigins []string
}

// Server serves the API and status page over HTTP.
type Server struct {
	httpServer *http.Server
	ctrl       Controller
	tracker    *status.Tracker
	bcast      *broadcast.Broadcaster
	origins    []string
	upgrader   websocket.Upgrader
}

// New creates a Server listening on addr.
func New(addr string, d Deps) *Server {
	s := &Server{
		ctrl:    d.Controller,
		tracker: d.Tracker,
		bcast:   d.Broadcaster,
		origins: d.CORSOrigins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/sensors", s.handleSensors)
		r.Get("/status", s.handleStatus)
		r.Get("/mode", s.handleGetMode)
		r.Post("/mode", s.handleSetMode)
		r.Post("/pump/start", s.handleStart)
		r.Post("/pump/stop", s.handleStop)
		r.Get("/ai/status", s.handleAIStatus)
		r.Post("/ai/toggle", s.handleAIToggle)
		r.Get("/ai/decide", s.handleDecide)
	})

	c := cors.New(cors.Options{
		AllowedOrigins: d.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server. Open WebSocket connections are
// hijacked and end when the broadcaster is closed.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok\n"))
}

// handleReadyz reports ready once the broker link is up.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !s.tracker.Snapshot().MQTTConnected {
		http.Error(w, "broker disconnected", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("ready\n"))
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.origins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
