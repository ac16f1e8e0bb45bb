package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"cutroom/internal/animation"
	"cutroom/internal/assets"
	"cutroom/internal/commands"
	"cutroom/internal/config"
	"cutroom/internal/faces"
	"cutroom/internal/generate"
	"cutroom/internal/jobs"
	"cutroom/internal/logging"
	"cutroom/internal/render"
	"cutroom/internal/services"
	"cutroom/internal/silence"
	"cutroom/internal/storage"
	"cutroom/internal/timeline"
	"cutroom/internal/transcribe"
)

// maxJSONBody bounds request documents other than uploads. Timelines are the
// largest and stay far below this.
const maxJSONBody = 8 << 20

// Deps are the collaborators the handlers call into.
type Deps struct {
	Layout     *storage.Layout
	Assets     *assets.Service
	Commands   *commands.Engine
	Advisor    commands.Advisor
	Silence    *silence.Remover
	Transcribe *transcribe.Service
	Projects   *timeline.Store
	Render     *render.Renderer
	Animation  *animation.Service
	Generate   *generate.Service
	Jobs       *jobs.Store
	Faces      *faces.Detector
	// Status reports the dependency snapshot served at /api/status.
	Status func(ctx context.Context) any
}

// Server is the HTTP surface.
type Server struct {
	cfg    config.Server
	deps   Deps
	logger *slog.Logger

	handler  http.Handler
	listener net.Listener
	server   *http.Server
}

// New validates the route table and builds the handler chain.
func New(cfg config.Server, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Layout == nil || deps.Assets == nil {
		return nil, errors.New("server: layout and assets are required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "api-server"),
	}

	table := s.routes()
	if err := validateRoutes(table); err != nil {
		return nil, err
	}
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "route", "", "no route for "+r.URL.Path, nil))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})
	for _, rt := range table {
		router.HandleFunc(rt.path, rt.handler).Methods(rt.method).Name(rt.name)
	}
	s.handler = s.wrap(router)

	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// Uploads and renders stream for minutes; handlers bound their own work.
		ReadTimeout:  0,
		WriteTimeout: 0,
	}
	return s, nil
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens on cfg.Bind and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	bind := strings.TrimSpace(s.cfg.Bind)
	if bind == "" {
		return errors.New("server: bind address is empty")
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening",
		logging.String("address", listener.Addr().String()),
		logging.Bool("auth", s.cfg.APIToken != ""),
		logging.String(logging.FieldEventType, "server_listening"),
	)
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the listener down, waiting up to five seconds for requests.
func (s *Server) Stop() {
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

type errorBody struct {
	Error     string `json:"error"`
	Kind      string `json:"kind"`
	Operation string `json:"operation,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable"`
}

// writeError classifies err and writes the error body. Unclassified errors
// surface as 500 kind=internal without their chain.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := services.HTTPStatus(err)
	body := errorBody{Kind: services.Kind(err), Retryable: services.Retryable(err)}
	if se, ok := services.AsServiceError(err); ok {
		body.Error = se.Message
		body.Operation = se.Operation
		body.Stage = se.Stage
		body.Detail = se.Detail
		if body.Error == "" {
			body.Error = se.Error()
		}
	} else {
		body.Error = "internal error"
	}

	logger := logging.WithContext(r.Context(), s.logger)
	attrs := []logging.Attr{
		logging.String("method", r.Method),
		logging.String("path", r.URL.Path),
		logging.Int("status", status),
		logging.String("kind", body.Kind),
		logging.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "request_failed",
			append(attrs,
				logging.String(logging.FieldImpact, "the editor receives an error for this request"),
				logging.String(logging.FieldErrorHint, "check the operation and stage fields and the tool logs"),
			)...,
		)
	} else {
		logger.Debug("request rejected", logging.Args(attrs...)...)
	}
	s.writeJSON(w, status, body)
}

// decodeJSON reads a JSON request document into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return services.Validation(op, "request body is empty")
		}
		return services.Wrap(services.ErrValidation, op, "decode", "invalid JSON body: "+err.Error(), nil)
	}
	return nil
}

// readBody returns the raw request document.
func readBody(w http.ResponseWriter, r *http.Request, op string) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, op, "decode", "read request body", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, services.Validation(op, "request body is empty")
	}
	return data, nil
}

func requireField(op, name, value string) error {
	if strings.TrimSpace(value) == "" {
		return services.Validation(op, "%s is required", name)
	}
	return nil
}

func sessionContext(r *http.Request) context.Context {
	return services.WithSessionID(r.Context(), mux.Vars(r)["id"])
}
