// Package api exposes the leasing service over HTTP: offers, leases, owner
// changes, the event journal, node inventory and console tokens under /v1.
// Authorization runs rule checks through the policy engine; temporal and
// ownership invariants stay in the lease engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/metalease/metalease/pkg/console"
	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/identity"
	"github.com/metalease/metalease/pkg/policy"
	"github.com/metalease/metalease/pkg/telemetry"
)

// Config wires the HTTP server's collaborators.
type Config struct {
	Engine     *engine.Engine
	Store      engine.Store
	Console    *console.Service
	Drivers    engine.DriverRegistry
	Identity   identity.Identity
	Authorizer *policy.Authorizer
	Logger     *telemetry.Logger
	Metrics    *telemetry.Metrics
}

// Server serves the /v1 API.
type Server struct {
	engine     *engine.Engine
	store      engine.Store
	console    *console.Service
	drivers    engine.DriverRegistry
	identity   identity.Identity
	authorizer *policy.Authorizer
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
	validate   *validator.Validate
}

// NewServer creates the API server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		nop, _ := telemetry.NewLogger(telemetry.LoggingConfig{Level: "disabled"})
		logger = nop
	}
	return &Server{
		engine:     cfg.Engine,
		store:      cfg.Store,
		console:    cfg.Console,
		drivers:    cfg.Drivers,
		identity:   cfg.Identity,
		authorizer: cfg.Authorizer,
		logger:     logger.NewComponentLogger("api"),
		metrics:    cfg.Metrics,
		validate:   validator.New(),
	}
}

// Router builds the HTTP routing tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(s.recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	if s.metrics.Enabled() {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route("/offers", func(r chi.Router) {
			r.Post("/", s.handleOfferCreate)
			r.Get("/", s.handleOfferList)
			r.Get("/{ident}", s.handleOfferGet)
			r.Delete("/{ident}", s.handleOfferDelete)
			r.Post("/{ident}/claim", s.handleOfferClaim)
		})
		r.Route("/leases", func(r chi.Router) {
			r.Post("/", s.handleLeaseCreate)
			r.Get("/", s.handleLeaseList)
			r.Get("/{ident}", s.handleLeaseGet)
			r.Delete("/{ident}", s.handleLeaseDelete)
		})
		r.Route("/owner_changes", func(r chi.Router) {
			r.Post("/", s.handleOwnerChangeCreate)
			r.Get("/", s.handleOwnerChangeList)
			r.Get("/{uuid}", s.handleOwnerChangeGet)
			r.Delete("/{uuid}", s.handleOwnerChangeDelete)
		})
		r.Get("/events", s.handleEventList)
		r.Get("/nodes", s.handleNodeList)
		r.Route("/console_auth_tokens", func(r chi.Router) {
			r.Post("/", s.handleConsoleTokenCreate)
			r.Delete("/{node_uuid}", s.handleConsoleTokenDelete)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.writeError(w, r, engine.NewInternal("store unhealthy", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorize evaluates one policy rule for the request credentials.
func (s *Server) authorize(ctx context.Context, rule string, target policy.Target) error {
	if s.authorizer == nil {
		return nil
	}
	return s.authorizer.Authorize(ctx, rule, target, credentialsFrom(ctx))
}

// errorBody is the wire form of a failed request.
type errorBody struct {
	Kind     string `json:"kind"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message"`
	Resource string `json:"resource,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *engine.Error
	if !errors.As(err, &e) {
		e = engine.NewInternal("internal error", err)
	}

	status := statusFor(e.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).
			WithField("path", r.URL.Path).
			Error("request failed")
	}
	s.writeJSON(w, status, map[string]errorBody{"error": {
		Kind:     string(e.Kind),
		Code:     e.Code,
		Message:  e.Message,
		Resource: e.Resource,
	}})
}

func statusFor(kind engine.Kind) int {
	switch kind {
	case engine.KindValidation:
		return http.StatusBadRequest
	case engine.KindForbidden:
		return http.StatusForbidden
	case engine.KindNotFound:
		return http.StatusNotFound
	case engine.KindConflict:
		return http.StatusConflict
	case engine.KindBusy:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode parses and validates a JSON request body.
func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return engine.NewValidation("", "malformed request body").
			WithOperation(r.Method + " " + r.URL.Path)
	}
	if err := s.validate.Struct(v); err != nil {
		return engine.NewValidation("", err.Error())
	}
	return nil
}

// parseTimeParam reads an optional RFC3339 query parameter.
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, engine.NewValidation(engine.CodeInvalidTimeRange,
			"parameter "+name+" must be RFC3339")
	}
	return &t, nil
}
