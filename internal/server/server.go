// Package server exposes card generation over HTTP.
//
//	POST /generate   card design JSON -> 3MF (or STL with ?format=stl)
//	POST /evaluate   design script    -> per-part preview meshes as JSON
//	GET  /healthz    geometry kernel availability
package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/chazu/printmycard/pkg/card"
	"github.com/chazu/printmycard/pkg/design"
	"github.com/chazu/printmycard/pkg/errors"
	"github.com/chazu/printmycard/pkg/scene"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 1 << 20

// Generator produces exported card artifacts.
type Generator interface {
	Generate(ctx context.Context, req *design.CardRequest, f scene.Format) (*card.Artifact, error)
}

// Evaluator turns a design script into preview meshes.
type Evaluator interface {
	Evaluate(ctx context.Context, source string) EvalResult
}

// MeshData is the JSON-serializable preview mesh.
type MeshData struct {
	Vertices []float32 `json:"vertices"`
	Normals  []float32 `json:"normals"`
	Indices  []uint32  `json:"indices"`
	PartName string    `json:"partName"`
	Color    string    `json:"color"`
}

// EvalErrorData is a JSON-serializable evaluation error or warning.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// EvalResult is the body of a /evaluate response.
type EvalResult struct {
	Meshes   []MeshData      `json:"meshes"`
	Errors   []EvalErrorData `json:"errors"`
	Warnings []EvalErrorData `json:"warnings"`
}

// Options configures a Server.
type Options struct {
	Generator      Generator
	Evaluator      Evaluator
	Health         func(ctx context.Context) error // nil = always healthy
	RequestTimeout time.Duration                   // 0 = none
	Logger         *log.Logger
}

// Server is the HTTP surface.
type Server struct {
	opts   Options
	logger *log.Logger
	router chi.Router
}

// New builds the router.
func New(o Options) *Server {
	s := &Server{opts: o, logger: o.Logger}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if o.RequestTimeout > 0 {
		r.Use(middleware.Timeout(o.RequestTimeout))
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/generate", s.handleGenerate)
	if o.Evaluator != nil {
		r.Post("/evaluate", s.handleEvaluate)
	}
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return ctx.Err()
	}
}

type ctxKey int

const requestIDKey ctxKey = 0

// requestID tags every request with a UUID, echoed in X-Request-Id.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).Round(time.Millisecond),
			"request_id", requestIDFrom(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	format, err := scene.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInvalidInput, err, "read request body"))
		return
	}
	req, err := design.Decode(body, design.FormatJSON)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	art, err := s.opts.Generator.Generate(r.Context(), req, format)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, f := range art.Warnings {
		w.Header().Add("X-Card-Warning", f.Field+": "+f.Message)
	}
	if art.Cached {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="card%s"`, format.Extension()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInvalidInput, err, "read request body"))
		return
	}
	res := s.opts.Evaluator.Evaluate(r.Context(), string(body))
	status := http.StatusOK
	if len(res.Errors) > 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

// errorBody is the JSON body of every error response.
type errorBody struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	code := errors.GetCode(err)
	if status == http.StatusGatewayTimeout {
		code = errors.ErrCodeTimeout
	}
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "code", code, "err", err, "request_id", requestIDFrom(r.Context()))
	}
	writeJSON(w, status, errorBody{Code: code, Message: err.Error()})
}

// StatusFor maps an error onto an HTTP status.
func StatusFor(err error) int {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeConfiguration, errors.ErrCodeEmptyPattern:
		return http.StatusBadRequest
	case errors.ErrCodeEncodingFailure:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeMissingDependency:
		return http.StatusServiceUnavailable
	case errors.ErrCodeKernelFailure:
		return http.StatusBadGateway
	case errors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
