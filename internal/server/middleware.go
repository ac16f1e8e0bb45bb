package server

import (
	"bytes"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"

	"cutroom/internal/logging"
	"cutroom/internal/services"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// wrap applies, from the outside in: recovery, access log, CORS, request id
// and bearer auth.
func (s *Server) wrap(h http.Handler) http.Handler {
	h = authMiddleware(s.cfg.APIToken, h)
	h = requestIDMiddleware(h)
	h = handlers.CORS(
		handlers.AllowedOrigins(s.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization", RequestIDHeader, "Range"}),
		handlers.ExposedHeaders([]string{RequestIDHeader, "Content-Range", "Content-Length", "X-Render-ID"}),
	)(h)
	h = handlers.CombinedLoggingHandler(accessLog{logger: s.logger}, h)
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLog{logger: s.logger}),
		handlers.PrintRecoveryStack(true),
	)(h)
}

// authMiddleware validates bearer tokens. An empty token disables the check.
// Media elements cannot set headers, so GET requests may pass the token as
// ?token= instead. The health probe is always open.
func authMiddleware(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		presented := ""
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			presented = strings.TrimPrefix(auth, "Bearer ")
		} else if r.Method == http.MethodGet {
			presented = r.URL.Query().Get("token")
		}
		if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","kind":"unauthorized","retryable":false}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestIDMiddleware keeps a caller-supplied X-Request-ID or mints one, echoes
// it, and stores it in the context for logging.WithContext.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

// accessLog receives Apache combined log lines and forwards them to slog.
type accessLog struct {
	logger *slog.Logger
}

func (a accessLog) Write(p []byte) (int, error) {
	line := string(bytes.TrimRight(p, "\n"))
	a.logger.Debug("http access",
		logging.String("line", line),
		logging.String(logging.FieldEventType, "http_access"),
	)
	return len(p), nil
}

type recoveryLog struct {
	logger *slog.Logger
}

func (r recoveryLog) Println(v ...any) {
	logging.ErrorWithContext(r.logger, "handler panic", "handler_panic",
		logging.String("panic", strings.TrimSpace(fmt.Sprintln(v...))),
		logging.String(logging.FieldErrorHint, "report the stack trace; the request returned 500"),
	)
}
