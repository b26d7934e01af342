package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openmined/policykit/internal/audit"
	"github.com/openmined/policykit/internal/metrics"
	"github.com/openmined/policykit/policy"
	"github.com/openmined/policykit/store"
)

// Logger is the subset of logging the executor needs.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Warnf(string, ...any)  {}

// Executor runs the full policy-aware handler flow: open store, build the
// policy chain, pre-exec checks, handler, post-exec checks, structured
// output. Execute catches every failure and reports it in the Output so
// the host always receives valid JSON.
type Executor struct {
	injectedStore   store.Store
	injectedHandler Handler
	factory         *Factory
	metrics         *metrics.Metrics
	sink            audit.Sink
	log             Logger
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithStore injects a store instead of opening one from the input config.
// Injected stores are not closed by the executor.
func WithStore(st store.Store) ExecutorOption {
	return func(e *Executor) { e.injectedStore = st }
}

// WithHandler injects a handler instead of loading the input's executable.
func WithHandler(h Handler) ExecutorOption {
	return func(e *Executor) { e.injectedHandler = h }
}

// WithFactory replaces the default policy factory, e.g. one with extra
// registered types.
func WithFactory(f *Factory) ExecutorOption {
	return func(e *Executor) { e.factory = f }
}

// WithMetrics records decisions and durations on m.
func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithAuditSink emits decision events to sink. Publishing is best-effort;
// failures are logged and ignored.
func WithAuditSink(sink audit.Sink) ExecutorOption {
	return func(e *Executor) { e.sink = sink }
}

// WithLogger sets the executor's logger.
func WithLogger(log Logger) ExecutorOption {
	return func(e *Executor) { e.log = log }
}

// NewExecutor creates an executor. With no options it opens the store from
// the input configuration and loads the input's handler executable.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		factory: NewFactory(),
		sink:    audit.NopSink{},
		log:     nopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the flow and never fails: every error is folded into the
// returned Output with its wire error type.
func (e *Executor) Execute(ctx context.Context, in Input) Output {
	out, err := e.execute(ctx, in)
	if err == nil {
		return out
	}

	var factoryErr *FactoryError
	var loadErr *HandlerLoadError
	var execErr *ExecutionError
	switch {
	case errors.As(err, &factoryErr):
		return Output{Success: false, Error: err.Error(), ErrorType: ErrTypeFactory}
	case errors.As(err, &loadErr):
		return Output{Success: false, Error: err.Error(), ErrorType: ErrTypeHandlerLoad}
	case errors.As(err, &execErr):
		return Output{Success: false, Error: err.Error(), ErrorType: ErrTypeExecution}
	default:
		return Output{Success: false, Error: err.Error(), ErrorType: ErrTypeExecution}
	}
}

func (e *Executor) execute(ctx context.Context, in Input) (Output, error) {
	st := e.injectedStore
	ownsStore := st == nil
	if ownsStore {
		opened, err := store.Open(in.Store)
		if err != nil {
			return Output{}, &ExecutionError{Message: "open store", Err: err}
		}
		st = opened
		defer func() {
			if err := st.Close(); err != nil {
				e.log.Warnf("close store: %v", err)
			}
		}()
	}

	manager := policy.NewManager(st)
	policies, err := e.factory.CreateAll(in.Policies)
	if err != nil {
		return Output{}, err
	}
	for _, p := range policies {
		if err := manager.AddPolicy(ctx, p); err != nil {
			return Output{}, &ExecutionError{
				Message: fmt.Sprintf("setup policy %q", p.Name()), Err: err}
		}
	}

	rc := policy.NewRequestContext(in.Context.UserID)
	rc.Input = buildPolicyInput(in)
	for k, v := range in.Context.Metadata {
		rc.Metadata[k] = v
	}

	// Pre-execution chain.
	start := time.Now()
	preResult, err := manager.CheckPreExec(ctx, rc)
	e.metrics.ObserveEvaluation(time.Since(start))
	if err != nil {
		return Output{}, &ExecutionError{Message: "pre-execution policy check", Err: err}
	}
	e.emit(ctx, in, "pre", preResult)
	if !preResult.Allowed {
		return deniedOutput(preResult), nil
	}

	// Handler.
	handler := e.injectedHandler
	if handler == nil {
		loaded, err := LoadHandler(in.HandlerPath, in.WorkDir)
		if err != nil {
			return Output{}, err
		}
		handler = loaded
	}
	handlerStart := time.Now()
	result, err := handler.Run(ctx, HandlerRequest{
		Type:     in.Type,
		Query:    rc.InputString("query"),
		Messages: in.Messages,
		Metadata: rc.Metadata,
	})
	e.metrics.ObserveHandler(time.Since(handlerStart))
	if err != nil {
		return Output{}, err
	}
	if m, ok := result.(map[string]any); ok {
		rc.Output = m
	} else {
		rc.Output = map[string]any{"result": result}
	}

	// Post-execution chain.
	start = time.Now()
	postResult, err := manager.CheckPostExec(ctx, rc)
	e.metrics.ObserveEvaluation(time.Since(start))
	if err != nil {
		return Output{}, &ExecutionError{Message: "post-execution policy check", Err: err}
	}
	e.emit(ctx, in, "post", postResult)
	if !postResult.Allowed {
		return deniedOutput(postResult), nil
	}

	return Output{
		Success:      true,
		Result:       result,
		PolicyResult: &PolicyResult{Allowed: true},
	}, nil
}

// buildPolicyInput assembles the context input map. Messages are flattened
// into "query" when no query is present so text policies work for model
// endpoints too.
func buildPolicyInput(in Input) map[string]any {
	input := map[string]any{"type": in.Type}

	if in.Query != "" {
		input["query"] = in.Query
	}
	if len(in.Messages) > 0 {
		messages := make([]map[string]any, len(in.Messages))
		var contents []string
		for i, m := range in.Messages {
			messages[i] = map[string]any{"role": m.Role, "content": m.Content}
			if m.Content != "" {
				contents = append(contents, m.Content)
			}
		}
		input["messages"] = messages
		if _, ok := input["query"]; !ok {
			input["query"] = strings.Join(contents, " ")
		}
	}
	if in.TransactionToken != "" {
		input["transaction_token"] = in.TransactionToken
	}
	return input
}

// emit records a chain decision on metrics and the audit sink.
func (e *Executor) emit(ctx context.Context, in Input, phase string, result policy.Result) {
	outcome := metrics.OutcomeAllow
	switch {
	case result.Pending:
		outcome = metrics.OutcomePending
	case !result.Allowed:
		outcome = metrics.OutcomeDeny
	}
	e.metrics.RecordDecision(result.PolicyName, outcome)

	event := audit.Event{
		Timestamp: time.Now().UTC(),
		UserID:    in.Context.UserID,
		Endpoint:  in.Context.EndpointSlug,
		Phase:     phase,
		Policy:    result.PolicyName,
		Allowed:   result.Allowed,
		Pending:   result.Pending,
		Reason:    result.Reason,
	}
	if err := e.sink.Publish(ctx, event); err != nil {
		e.log.Warnf("publish audit event: %v", err)
	}
}

func deniedOutput(result policy.Result) Output {
	reason := result.Reason
	if reason == "" {
		reason = "Policy denied"
	}
	return Output{
		Success:      false,
		Error:        reason,
		ErrorType:    ErrTypePolicyDenied,
		PolicyResult: wireResult(result),
	}
}
