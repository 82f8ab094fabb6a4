package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routecodex/routecodex/pkg/health"
	"github.com/routecodex/routecodex/pkg/protocol"
	"github.com/routecodex/routecodex/pkg/router"
	"github.com/routecodex/routecodex/pkg/types"
)

// drainTimeout bounds graceful shutdown (spec.md §6: "drain in-flight
// requests, then close").
const drainTimeout = 3500 * time.Millisecond

// Server is the HTTP Gateway Surface (C8): it decodes a request in its
// client dialect, runs it through the Virtual Router, and re-encodes the
// response in the same dialect, grounded on the teacher's pkg/backend
// server and handlers/sse.go.
type Server struct {
	cfg         types.HTTPServerConfig
	registry    *protocol.Registry
	router      *router.Router
	health      *health.Manager
	httpSrv     *http.Server
	shutdownCh  chan struct{}
	shutdownSig sync.Once
}

// New wires a Server around an already-assembled Router and dialect
// registry.
func New(cfg types.HTTPServerConfig, registry *protocol.Registry, rt *router.Router, h *health.Manager) *Server {
	return &Server{cfg: cfg, registry: registry, router: rt, health: h, shutdownCh: make(chan struct{})}
}

// Handler builds the full middleware-wrapped mux, exported separately from
// ListenAndServe so tests can exercise it with httptest without binding a
// socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", s.handleDialect(protocol.DialectOpenAIChat))
	mux.HandleFunc("/v1/messages", s.handleDialect(protocol.DialectAnthropicMessages))
	mux.HandleFunc("/v1/responses", s.handleDialect(protocol.DialectCodexResponses))
	mux.HandleFunc("/v1/models", s.handleModels)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/shutdown", s.handleShutdown)
	mux.Handle("/metrics", promhttp.Handler())

	cors := CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "x-api-key", "X-Request-ID"},
	}

	h := AuthWithJWT(s.cfg.APIKey, s.cfg.JWTSecret)(mux)
	h = IngressLimit(s.cfg.IngressRatePerSecond, s.cfg.IngressBurst)(h)
	h = CORS(cors)(h)
	h = Recovery(h)
	h = Logging(h)
	h = RequestID(h)
	return h
}

// ListenAndServe starts the server and blocks until ctx is cancelled, at
// which point it drains in-flight requests for up to drainTimeout before
// returning (spec.md §6's graceful-shutdown contract; the SIGUSR2-vs-
// restart ordering around this call is a CLI-level decision, not the
// server's).
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler: s.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	case <-s.shutdownCh:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// triggerShutdown closes shutdownCh exactly once, letting ListenAndServe's
// select fall into the same drain path ctx cancellation uses.
func (s *Server) triggerShutdown() {
	s.shutdownSig.Do(func() { close(s.shutdownCh) })
}

func (s *Server) handleDialect(dialect string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		translator, ok := s.registry.Get(dialect)
		if !ok {
			s.writeError(w, types.NewGatewayError(types.CategoryInternal, fmt.Errorf("dialect %q not registered", dialect)))
			return
		}

		body, err := readBody(r)
		if err != nil {
			s.writeError(w, types.NewGatewayError(types.CategoryValidation, err))
			return
		}

		req, err := translator.ParseRequest(body)
		if err != nil {
			s.writeError(w, types.NewGatewayError(types.CategoryValidation, err))
			return
		}
		req.Dialect = dialect

		categoryHint := r.URL.Query().Get("category")

		if req.Stream {
			s.streamDialect(w, r, translator, req, categoryHint)
			return
		}

		resp, err := s.router.Route(r.Context(), req, categoryHint)
		if err != nil {
			s.writeError(w, err)
			return
		}

		out, err := translator.RenderResponse(resp)
		if err != nil {
			s.writeError(w, types.NewGatewayError(types.CategoryInternal, err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(out)
	}
}

// sseSink adapts a dialect Translator + http.ResponseWriter into a
// pipeline.StreamSink, grounded on the teacher's handlers/sse.go framing
// loop.
type sseSink struct {
	w          http.ResponseWriter
	flusher    http.Flusher
	translator protocol.Translator
	state      protocol.StreamState
	started    bool
}

func (s *Server) streamDialect(w http.ResponseWriter, r *http.Request, translator protocol.Translator, req types.ChatRequest, categoryHint string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, types.NewGatewayError(types.CategoryInternal, errors.New("streaming unsupported by response writer")))
		return
	}

	sink := &sseSink{w: w, flusher: flusher, translator: translator}
	if err := s.router.RouteStream(r.Context(), req, categoryHint, sink); err != nil && !sink.started {
		s.writeError(w, err)
	}
}

func (s *sseSink) ensureHeaders() {
	if s.started {
		return
	}
	s.started = true
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
}

func (s *sseSink) OnChunk(chunk types.ChatStreamChunk) error {
	s.ensureHeaders()
	out, err := s.translator.RenderStreamChunk(chunk, &s.state)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(out); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) OnError(err error) error {
	s.ensureHeaders()
	if _, writeErr := s.w.Write(s.translator.RenderStreamError(err)); writeErr != nil {
		return writeErr
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) OnDone() error {
	s.ensureHeaders()
	if _, err := s.w.Write(s.translator.RenderDone()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.router.ModelCatalog())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.router.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not_ready"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// handleShutdown implements spec.md §4.8/§6's authenticated POST /shutdown:
// it responds before triggering the drain so the response itself isn't
// caught mid-flight by httpSrv.Shutdown's wait for in-flight requests.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "shutting_down"})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	go s.triggerShutdown()
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	gwErr, ok := err.(*types.GatewayError)
	if !ok {
		gwErr = types.NewGatewayError(types.CategoryInternal, err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(gwErr.HTTPStatus())
	_ = json.NewEncoder(w).Encode(gwErr.Envelope())
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}
