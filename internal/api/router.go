// Package api is the appliance's local status API.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"airsense/internal/auth"
	"airsense/internal/coordinator"
	"airsense/internal/events"
)

// Deps are the API server's collaborators. Settings, Display, Buttons and
// Events are optional.
type Deps struct {
	Device   Device
	Settings func() coordinator.Settings
	Display  Display
	Buttons  ButtonSink
	Events   *events.Store
	JWT      *auth.JWTManager
	NoAuth   bool
	Logger   *zap.Logger
}

// Server represents the API server
type Server struct {
	router       *chi.Mux
	deps         Deps
	authMw       *auth.Middleware
	wsTokenStore *auth.WSTokenStore
	logger       *zap.Logger
}

// NewServer creates new API server
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Events == nil {
		deps.Events = events.NewStore(1)
	}

	s := &Server{
		router:       chi.NewRouter(),
		deps:         deps,
		authMw:       auth.NewMiddleware(deps.JWT, getClientIP),
		wsTokenStore: auth.NewWSTokenStore(),
		logger:       deps.Logger,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	// Create handlers
	authHandler := NewAuthHandler(s.wsTokenStore)
	deviceHandler := NewDeviceHandler(s.deps.Device, s.deps.Settings, s.deps.Display, s.deps.Buttons, s.logger)
	eventsHandler := NewEventsHandler(s.deps.Events)

	// WebSocket routes authenticate through a one-time ws_token
	if s.deps.Display != nil {
		displayHandler := NewDisplayHandler(s.deps.Display, s.wsTokenStore, s.deps.NoAuth, s.logger)
		r.Get("/api/display/ws", displayHandler.Stream)
	}

	// Protected API routes
	r.Group(func(r chi.Router) {
		// Apply auth middleware only if NoAuth is false
		if !s.deps.NoAuth {
			r.Use(s.authMw.RequireAuth)
		} else {
			// In no-auth mode, inject a fake admin user
			r.Use(s.fakeAuthMiddleware)
		}

		// Auth
		r.Get("/api/auth/me", authHandler.Me)
		r.Get("/api/auth/ws-token", authHandler.WSToken)

		// Read only
		r.Get("/api/adopt", deviceHandler.Adopt)
		r.Get("/api/state", deviceHandler.State)
		r.Get("/api/mqtt", deviceHandler.GetMQTT)
		r.Get("/api/events", eventsHandler.List)

		// Changes
		r.Group(func(r chi.Router) {
			r.Use(s.authMw.RequireAdmin)

			r.Post("/api/mqtt", deviceHandler.SetMQTT)
			r.Post("/api/config", deviceHandler.Config)
			r.Post("/api/command", deviceHandler.Command)
			r.Post("/api/button", deviceHandler.Button)
		})
	})
}

// Router returns the chi router
func (s *Server) Router() http.Handler {
	return s.router
}

// fakeAuthMiddleware injects a fake admin user for no-auth mode
func (s *Server) fakeAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fakeUser := &auth.User{
			Subject: "local",
			Role:    auth.RoleAdmin,
		}
		next.ServeHTTP(w, r.WithContext(auth.SetUserContext(r.Context(), fakeUser)))
	})
}
