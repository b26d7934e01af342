// Package server exposes a policy bundle as an HTTP decision service.
//
// The server loads a bundle file at startup, builds the policy chain
// once, and answers decision requests against it. The bundle file is
// watched for changes and reloaded in place; a reload that fails to
// parse or validate keeps the previous chain serving.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openmined/policykit/internal/audit"
	"github.com/openmined/policykit/internal/metrics"
	"github.com/openmined/policykit/internal/parser"
	"github.com/openmined/policykit/internal/runner"
	"github.com/openmined/policykit/policy"
	"github.com/openmined/policykit/store"
)

// Logger is the subset of the console logger the server needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// chain is the immutable unit of a bundle load. Reload swaps the whole
// chain atomically; refs tracks in-flight requests so the old chain's
// store is only closed once they finish.
type chain struct {
	manager  *policy.Manager
	store    store.Store
	loadedAt time.Time
	refs     sync.WaitGroup
}

func (c *chain) release() {
	c.refs.Done()
}

// Server serves policy decisions for one bundle file.
type Server struct {
	bundlePath string
	router     *mux.Router
	logger     Logger
	metrics    *metrics.Metrics
	sink       audit.Sink

	mu      sync.RWMutex
	current *chain
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(log Logger) Option {
	return func(s *Server) { s.logger = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

func WithAuditSink(sink audit.Sink) Option {
	return func(s *Server) { s.sink = sink }
}

// New builds a server for the bundle at bundlePath. The bundle is
// parsed and its chain constructed before New returns, so a broken
// bundle fails fast instead of at first request.
func New(ctx context.Context, bundlePath string, opts ...Option) (*Server, error) {
	s := &Server{
		bundlePath: bundlePath,
		router:     mux.NewRouter(),
		logger:     nopLogger{},
		sink:       audit.NopSink{},
	}
	for _, opt := range opts {
		opt(s)
	}

	loaded, err := s.loadChain(ctx)
	if err != nil {
		return nil, err
	}
	s.current = loaded
	s.routes()
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the current chain's store.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.store != nil {
		return s.current.store.Close()
	}
	return nil
}

func (s *Server) routes() {
	s.router.HandleFunc("/v1/execute", s.handleExecute).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/policies", s.handlePolicies).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}
}

// loadChain parses the bundle file and builds a fresh policy chain.
func (s *Server) loadChain(ctx context.Context) (*chain, error) {
	bundle, err := parser.ParseFile(s.bundlePath)
	if err != nil {
		return nil, fmt.Errorf("load bundle: %w", err)
	}

	st, err := store.Open(bundle.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	factory := runner.NewFactory()
	policies, err := factory.CreateAll(bundle.Policies)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("build policies: %w", err)
	}

	manager := policy.NewManager(st)
	for _, p := range policies {
		if err := manager.AddPolicy(ctx, p); err != nil {
			st.Close()
			return nil, fmt.Errorf("register policy %q: %w", p.Name(), err)
		}
	}

	return &chain{manager: manager, store: st, loadedAt: time.Now()}, nil
}

// Reload rebuilds the chain from the bundle file. On failure the
// previous chain keeps serving and the error is returned for logging.
func (s *Server) Reload(ctx context.Context) error {
	loaded, err := s.loadChain(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	previous := s.current
	s.current = loaded
	s.mu.Unlock()

	if previous != nil && previous.store != nil {
		go func() {
			previous.refs.Wait()
			if err := previous.store.Close(); err != nil {
				s.logger.Warnf("Failed to close previous store: %v", err)
			}
		}()
	}
	s.logger.Infof("Reloaded bundle %s (%d policies)", s.bundlePath, len(loaded.manager.PolicyNames()))
	return nil
}

// acquire pins the current chain. Callers must release it when done so
// a reload can close the chain's store.
func (s *Server) acquire() *chain {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.current.refs.Add(1)
	return s.current
}

// executeRequest is the decision request body. Output is optional; when
// present the post-execution chain runs as well.
type executeRequest struct {
	UserID   string         `json:"user_id"`
	Query    string         `json:"query,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// executeResponse mirrors policy.Result plus the context metadata the
// chain accumulated, so callers see rate-limit counters and review ids.
type executeResponse struct {
	Allowed  bool           `json:"allowed"`
	Pending  bool           `json:"pending,omitempty"`
	Policy   string         `json:"policy_name,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Context  map[string]any `json:"context_metadata,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if req.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "user_id is required"})
		return
	}

	rc := policy.NewRequestContext(req.UserID)
	for k, v := range req.Input {
		rc.Input[k] = v
	}
	if req.Query != "" {
		rc.Input["query"] = req.Query
	}
	for k, v := range req.Metadata {
		rc.Metadata[k] = v
	}

	ch := s.acquire()
	defer ch.release()
	started := time.Now()

	result, err := ch.manager.CheckPreExec(r.Context(), rc)
	phase := policy.PhasePre
	if err == nil && result.Allowed && req.Output != nil {
		rc.Output = req.Output
		result, err = ch.manager.CheckPostExec(r.Context(), rc)
		phase = policy.PhasePost
	}
	s.metrics.ObserveEvaluation(time.Since(started))

	if err != nil {
		s.metrics.RecordDecision(result.PolicyName, metrics.OutcomeError)
		s.logger.Errorf("Policy evaluation failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	s.record(r.Context(), req.UserID, phase, result)

	status := http.StatusOK
	switch {
	case result.Pending:
		status = http.StatusAccepted
	case !result.Allowed:
		status = http.StatusForbidden
	}
	writeJSON(w, status, executeResponse{
		Allowed:  result.Allowed,
		Pending:  result.Pending,
		Policy:   result.PolicyName,
		Reason:   result.Reason,
		Metadata: result.Metadata,
		Context:  rc.Metadata,
	})
}

func (s *Server) handlePolicies(w http.ResponseWriter, r *http.Request) {
	ch := s.acquire()
	defer ch.release()
	writeJSON(w, http.StatusOK, ch.manager.Export())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ch := s.acquire()
	defer ch.release()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"bundle":    s.bundlePath,
		"loaded_at": ch.loadedAt.UTC().Format(time.RFC3339),
		"policies":  len(ch.manager.PolicyNames()),
	})
}

func (s *Server) record(ctx context.Context, userID, phase string, result policy.Result) {
	outcome := metrics.OutcomeAllow
	switch {
	case result.Pending:
		outcome = metrics.OutcomePending
	case !result.Allowed:
		outcome = metrics.OutcomeDeny
	}
	s.metrics.RecordDecision(result.PolicyName, outcome)

	event := audit.Event{
		Timestamp: time.Now().UTC(),
		UserID:    userID,
		Phase:     phase,
		Policy:    result.PolicyName,
		Allowed:   result.Allowed,
		Pending:   result.Pending,
		Reason:    result.Reason,
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		s.logger.Warnf("Failed to publish audit event: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
