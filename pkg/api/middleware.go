package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/metalease/metalease/pkg/engine"
	"github.com/metalease/metalease/pkg/policy"
)

type contextKey string

const (
	ctxKeyRequestID   contextKey = "request_id"
	ctxKeyCredentials contextKey = "credentials"
)

// Trusted headers set by the fronting proxy.
const (
	headerProjectID = "X-Project-Id"
	headerRoles     = "X-Roles"
	headerRequestID = "X-Request-Id"
)

// credentialsFrom returns the authenticated caller, or zero credentials on
// unauthenticated routes.
func credentialsFrom(ctx context.Context) policy.Credentials {
	creds, _ := ctx.Value(ctxKeyCredentials).(policy.Credentials)
	return creds
}

// requestID assigns each request an id, honoring one supplied upstream.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyRequestID, id)))
	})
}

// recoverer converts handler panics into 500 responses.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.WithField("panic", rec).
					WithField("path", r.URL.Path).
					Error("handler panicked")
				s.writeJSON(w, http.StatusInternalServerError, map[string]errorBody{
					"error": {Kind: string(engine.KindInternal), Message: "internal error"},
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests emits one structured record per request and feeds the HTTP
// metrics keyed by route pattern rather than raw path.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(started)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(route, r.Method, strconv.Itoa(rec.status), elapsed)
		}

		id, _ := r.Context().Value(ctxKeyRequestID).(string)
		s.logger.WithField("request_id", id).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", rec.status).
			WithField("duration_ms", elapsed.Milliseconds()).
			Debug("request served")
	})
}

// authenticate resolves the trusted identity headers into credentials. The
// project header accepts an id or a registered name.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ident := r.Header.Get(headerProjectID)
		if ident == "" {
			s.writeJSON(w, http.StatusUnauthorized, map[string]errorBody{
				"error": {Kind: string(engine.KindForbidden), Message: "missing " + headerProjectID + " header"},
			})
			return
		}

		projectID := ident
		if s.identity != nil {
			resolved, err := s.identity.ResolveProject(r.Context(), ident)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			projectID = resolved
		}

		var roles []string
		for _, role := range strings.Split(r.Header.Get(headerRoles), ",") {
			role = strings.TrimSpace(role)
			if role != "" {
				roles = append(roles, role)
			}
		}

		creds := policy.Credentials{ProjectID: projectID, Roles: roles}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyCredentials, creds)))
	})
}
