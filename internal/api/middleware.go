package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/garagesale/treasury/internal/auth"
	"github.com/garagesale/treasury/internal/logger"
)

// Authenticator turns a request into an authenticated principal.
type Authenticator interface {
	Authenticate(r *http.Request) (auth.Principal, error)
}

// HeaderAuthenticator trusts the X-Actor and X-Permissions headers set by a
// fronting proxy. Permissions are comma separated.
type HeaderAuthenticator struct{}

// Authenticate reads the principal from the request headers.
func (HeaderAuthenticator) Authenticate(r *http.Request) (auth.Principal, error) {
	actor := strings.TrimSpace(r.Header.Get("X-Actor"))
	if actor == "" {
		return auth.Principal{}, errMissingActor
	}
	var names []string
	for _, n := range strings.Split(r.Header.Get("X-Permissions"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	perms, err := auth.ParsePermissions(names)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{User: actor, Permissions: perms}, nil
}

type authError string

func (e authError) Error() string { return string(e) }

const errMissingActor = authError("X-Actor header is required")

type contextKey int

const principalKey contextKey = 0

func principal(ctx context.Context) auth.Principal {
	p, _ := ctx.Value(principalKey).(auth.Principal)
	return p
}

// Authenticate rejects requests the Authenticator cannot identify.
func Authenticate(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := a.Authenticate(r)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", err.Error())
				return
			}
			ctx := context.WithValue(r.Context(), principalKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogger tags each request with an id, puts a request-scoped logger
// in its context and logs the outcome.
func RequestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			id := r.Header.Get("X-Request-ID")
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)

			reqLog := log.With().Str("request_id", id).Logger()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(logger.WithContext(r.Context(), reqLog)))

			reqLog.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Msg("HTTP request")
		})
	}
}

// Recovery turns panics into 500 responses.
func Recovery(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Interface("error", err).
						Str("method", r.Method).
						Str("path", r.URL.Path).
						Msg("panic recovered")
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
