package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/forumbridge/chatbridge/internal/domain"
	"github.com/forumbridge/chatbridge/internal/logging"
)

// Store is the persistence surface the admin API needs.
type Store interface {
	domain.IntegrationStore
	ListRules() (map[string][]domain.Rule, error)
}

// BridgeControl is the slice of the bridge the admin API drives.
type BridgeControl interface {
	Start()
	Stop()
	SetEnabled(enabled bool)
	Running() bool
	SubscribeRoom(name string)
	UnsubscribeRoom(name string)
}

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Whether a streaming credential is configured; the enable hook
	// refuses to enable the bridge without one.
	TokenConfigured bool

	// Expose Prometheus metrics
	MetricsEnabled bool
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MetricsEnabled: true,
	}
}

// API is the administrative HTTP surface: integration management, rule
// inspection, the bridge enable hook, and health/metrics endpoints.
type API struct {
	config    Config
	store     Store
	bridge    BridgeControl
	messenger domain.Messenger
	router    *chi.Mux
	server    *http.Server
	logger    zerolog.Logger
}

// New creates the admin API
func New(config Config, store Store, bridge BridgeControl, messenger domain.Messenger) *API {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}

	a := &API{
		config:    config,
		store:     store,
		bridge:    bridge,
		messenger: messenger,
		logger:    logging.Component("api"),
	}
	a.router = a.buildRouter()
	return a
}

// Handler exposes the routes for tests.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start runs the server until the context is canceled.
func (a *API) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         a.config.Addr,
		Handler:      a.router,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}
	a.server = server

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error().Err(err).Msg("API server error")
		}
	}()

	a.logger.Info().Str("addr", a.config.Addr).Msg("API server started")

	<-ctx.Done()
	return nil
}

// Shutdown stops the API server
func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

func (a *API) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	if a.config.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/integrations", func(r chi.Router) {
		r.Get("/", a.handleListIntegrations)
		r.Post("/", a.handleCreateIntegration)
		r.Delete("/", a.handleDeleteIntegration)
		r.Post("/test", a.handleTestNotification)
	})

	r.Get("/bot", a.handleBotStatus)
	r.Post("/bot", a.handleBotEnable)

	return r
}

// integrationView is one integration with its rules, as listed by the
// admin surface.
type integrationView struct {
	Room    string        `json:"room"`
	RoomID  string        `json:"room_id"`
	Webhook string        `json:"webhook"`
	Rules   []domain.Rule `json:"rules"`
}

func (a *API) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	integrations, err := a.store.ListIntegrations()
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "failed to list integrations")
		return
	}
	rules, err := a.store.ListRules()
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}

	views := make([]integrationView, 0, len(integrations))
	for _, integration := range integrations {
		roomRules := rules[integration.RoomName]
		if roomRules == nil {
			roomRules = []domain.Rule{}
		}
		views = append(views, integrationView{
			Room:    integration.RoomName,
			RoomID:  integration.RoomID,
			Webhook: integration.WebhookURL,
			Rules:   roomRules,
		})
	}

	a.writeJSON(w, http.StatusOK, views)
}

func (a *API) handleCreateIntegration(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Room    string `json:"room"`
		RoomID  string `json:"room_id"`
		Webhook string `json:"webhook"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Room == "" || req.RoomID == "" {
		a.writeError(w, http.StatusBadRequest, "room and room_id are required")
		return
	}

	integration := domain.Integration{
		RoomName:   req.Room,
		RoomID:     req.RoomID,
		WebhookURL: req.Webhook,
	}
	if err := a.store.PutIntegration(integration); err != nil {
		a.writeError(w, http.StatusInternalServerError, "failed to store integration")
		return
	}

	// Keep the live subscription set in step with the integrations.
	a.bridge.SubscribeRoom(req.Room)

	a.writeJSON(w, http.StatusOK, map[string]string{"success": "OK"})
}

func (a *API) handleDeleteIntegration(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		a.writeError(w, http.StatusBadRequest, "room is required")
		return
	}

	if err := a.store.DeleteIntegration(room); err != nil {
		a.writeError(w, http.StatusInternalServerError, "failed to delete integration")
		return
	}

	a.bridge.UnsubscribeRoom(room)

	a.writeJSON(w, http.StatusOK, map[string]string{"success": "OK"})
}

func (a *API) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if room == "" {
		a.writeError(w, http.StatusBadRequest, "room is required")
		return
	}

	integration, found, err := a.store.GetIntegration(room)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, "failed to read integration")
		return
	}
	if !found {
		a.writeError(w, http.StatusNotFound, "no integration for room")
		return
	}

	if !a.messenger.Send(r.Context(), integration.RoomID, "This is a test notification from the forum bridge.") {
		a.writeError(w, http.StatusBadGateway, "test notification delivery failed")
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]string{"success": "OK"})
}

func (a *API) handleBotStatus(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]bool{"running": a.bridge.Running()})
}

// handleBotEnable is the enable/disable validation hook: disabling always
// stops the bridge; enabling requires a configured credential and
// restarts the bridge from scratch.
func (a *API) handleBotEnable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.Enabled {
		a.bridge.SetEnabled(false)
		a.bridge.Stop()
		a.writeJSON(w, http.StatusOK, map[string]bool{"running": a.bridge.Running()})
		return
	}

	if !a.config.TokenConfigured {
		a.writeError(w, http.StatusUnprocessableEntity, "cannot enable the bridge without a bearer credential")
		return
	}

	a.bridge.SetEnabled(true)
	a.bridge.Stop()
	a.bridge.Start()
	a.writeJSON(w, http.StatusOK, map[string]bool{"running": a.bridge.Running()})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}
