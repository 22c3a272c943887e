// File: internal/orchestrator/orchestrator.go
// Description: Drives the analysis workflow. The orchestrator owns the status
// tracker and the latest normalized result per agent; transport, normalization
// and audit are injected via interfaces, making it decoupled and testable.

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
	"github.com/xkilldash9x/diligence-cli/internal/config"
	"github.com/xkilldash9x/diligence-cli/internal/normalize"
	"github.com/xkilldash9x/diligence-cli/internal/registry"
	"github.com/xkilldash9x/diligence-cli/internal/status"
	"github.com/xkilldash9x/diligence-cli/internal/transport"
)

// Invoker is the slice of the transport client the orchestrator needs.
type Invoker interface {
	InvokeAgent(ctx context.Context, query string, agentID schemas.AgentID) (transport.Outcome, error)
}

// Recorder appends completed invocations to the audit trail. A nil Recorder
// disables auditing; recording failures are logged, never surfaced to the
// caller.
type Recorder interface {
	RecordInvocation(ctx context.Context, rec schemas.InvocationRecord) error
}

// inflight tracks one outstanding invocation so it can be withdrawn.
type inflight struct {
	cancel    context.CancelFunc
	withdrawn bool
}

// Orchestrator coordinates agent invocations for one session. It is the sole
// writer of the status tracker; callers observe through StatusOf, Results and
// the tracker's subscription feed.
type Orchestrator struct {
	client   Invoker
	registry *registry.Registry
	tracker  *status.Tracker
	recorder Recorder
	logger   *zap.Logger

	retryAttempts int
	retryBackoff  time.Duration

	mu       sync.Mutex
	results  map[string]schemas.NormalizedAgentResponse
	inflight map[string]*inflight
}

// New creates an Orchestrator with its dependencies provided up front.
// recorder may be nil when no audit trail is configured.
func New(
	cfg config.OrchestratorConfig,
	client Invoker,
	reg *registry.Registry,
	tracker *status.Tracker,
	recorder Recorder,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if client == nil || reg == nil || tracker == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		client:        client,
		registry:      reg,
		tracker:       tracker,
		recorder:      recorder,
		logger:        logger.Named("orchestrator"),
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoff,
		results:       make(map[string]schemas.NormalizedAgentResponse),
		inflight:      make(map[string]*inflight),
	}, nil
}

// Tracker exposes the status store for read-only observers.
func (o *Orchestrator) Tracker() *status.Tracker { return o.tracker }

// StatusOf reports the lifecycle state of one agent.
func (o *Orchestrator) StatusOf(agentName string) schemas.AgentStatus {
	return o.tracker.StatusOf(agentName)
}

// Results returns a copy of the latest normalized response per agent.
func (o *Orchestrator) Results() map[string]schemas.NormalizedAgentResponse {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make(map[string]schemas.NormalizedAgentResponse, len(o.results))
	for name, r := range o.results {
		out[name] = r
	}
	return out
}

// RunAgent invokes one agent and returns its normalized response. The
// returned error is non-nil only for caller mistakes rejected before any
// status transition; every downstream failure is absorbed into the envelope
// and the agent's status.
//
// Calling RunAgent again for the same agent starts a new independent cycle.
// Concurrent calls for the same agent are not deduplicated.
func (o *Orchestrator) RunAgent(ctx context.Context, query string, agentName string) (schemas.NormalizedAgentResponse, error) {
	agent, err := o.validate(query, agentName)
	if err != nil {
		return schemas.NormalizedAgentResponse{}, err
	}

	if o.tracker.StatusOf(agentName).Terminal() {
		o.tracker.ResetAgent(agentName)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fl := &inflight{cancel: cancel}
	o.mu.Lock()
	o.inflight[agentName] = fl
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		if o.inflight[agentName] == fl {
			delete(o.inflight, agentName)
		}
		o.mu.Unlock()
	}()

	o.tracker.Transition(agentName, schemas.StatusAnalyzing)
	o.logger.Info("Invoking agent",
		zap.String("agent", agentName),
		zap.String("agent_id", string(agent.ID)),
	)

	started := time.Now()
	outcome := o.invokeWithRetry(ctx, query, agent)

	var resp schemas.NormalizedAgentResponse
	if outcome.OK {
		resp = normalize.Response(outcome.Body, agent.Kind)
	} else {
		resp = normalize.TransportFailure(outcome.Reason)
	}

	o.mu.Lock()
	withdrawn := fl.withdrawn
	o.results[agentName] = resp
	o.mu.Unlock()

	switch {
	case withdrawn:
		o.tracker.Transition(agentName, schemas.StatusCancelled)
	case resp.Failed():
		o.tracker.Transition(agentName, schemas.StatusFailed)
		o.logger.Warn("Agent invocation failed",
			zap.String("agent", agentName),
			zap.String("message", resp.Response.Message),
		)
	default:
		o.tracker.Transition(agentName, schemas.StatusComplete)
	}

	o.record(schemas.InvocationRecord{
		RunID:     o.tracker.RunID(),
		AgentName: agentName,
		AgentID:   agent.ID,
		Query:     query,
		Success:   resp.Success,
		Status:    resp.Response.Status,
		Message:   resp.Response.Message,
		StartedAt: started.UTC(),
		Elapsed:   time.Since(started),
		Findings:  coordinatorFindings(resp),
	})

	return resp, nil
}

// RunAgents fans the same query out to several agents concurrently. Each
// agent has its own independent lifecycle; one failure never forces another
// to failed. All names are validated before any status transition.
func (o *Orchestrator) RunAgents(ctx context.Context, query string, agentNames []string) (map[string]schemas.NormalizedAgentResponse, error) {
	if len(agentNames) == 0 {
		return nil, fmt.Errorf("%w: no agents named", transport.ErrInvalidRequest)
	}
	for _, name := range agentNames {
		if _, err := o.validate(query, name); err != nil {
			return nil, err
		}
	}

	var mu sync.Mutex
	out := make(map[string]schemas.NormalizedAgentResponse, len(agentNames))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range agentNames {
		g.Go(func() error {
			resp, err := o.RunAgent(gctx, query, name)
			if err != nil {
				// Unreachable after upfront validation, but a racing
				// registry change must not kill the sibling agents.
				o.logger.Error("Agent rejected after validation", zap.String("agent", name), zap.Error(err))
				return nil
			}
			mu.Lock()
			out[name] = resp
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel withdraws the in-flight invocation for an agent, if any. The
// agent's status becomes cancelled once its cycle unwinds; Cancel reports
// whether there was anything to withdraw.
func (o *Orchestrator) Cancel(agentName string) bool {
	o.mu.Lock()
	fl, ok := o.inflight[agentName]
	if ok {
		fl.withdrawn = true
	}
	o.mu.Unlock()

	if !ok {
		return false
	}
	fl.cancel()
	o.logger.Info("Withdrew in-flight invocation", zap.String("agent", agentName))
	return true
}

// RunCoordinatedAnalysis starts a fresh run, invokes the coordinator agent
// and derives the consolidated report from its result. A failed coordinator
// call yields an AggregatedResult carrying the error and empty collections,
// never an error return.
func (o *Orchestrator) RunCoordinatedAnalysis(ctx context.Context, query string) (schemas.AggregatedResult, error) {
	if _, err := o.validate(query, registry.NameCoordinator); err != nil {
		return schemas.AggregatedResult{}, err
	}

	runID := uuid.NewString()
	o.tracker.Reset(runID, o.registry.Names()...)
	o.logger.Info("Starting coordinated analysis", zap.String("run_id", runID))

	resp, err := o.RunAgent(ctx, query, registry.NameCoordinator)
	if err != nil {
		return schemas.AggregatedResult{}, err
	}
	if resp.Failed() || resp.Response.Result == nil || resp.Response.Result.Coordinator == nil {
		msg := resp.Response.Message
		if msg == "" {
			msg = normalize.FallbackMessage
		}
		return emptyAggregated(runID, msg), nil
	}

	return Aggregate(runID, *resp.Response.Result.Coordinator), nil
}

func (o *Orchestrator) validate(query string, agentName string) (registry.Agent, error) {
	if strings.TrimSpace(query) == "" {
		return registry.Agent{}, fmt.Errorf("%w: query must not be empty", transport.ErrInvalidRequest)
	}
	agent, ok := o.registry.Lookup(agentName)
	if !ok {
		return registry.Agent{}, fmt.Errorf("%w: unknown agent %q", transport.ErrInvalidRequest, agentName)
	}
	return agent, nil
}

// invokeWithRetry performs the round trip, retrying transport-level failures
// only. Agent-level errors arrive in a successful outcome and are never
// retried; a withdrawn or expired context stops the retry loop.
func (o *Orchestrator) invokeWithRetry(ctx context.Context, query string, agent registry.Agent) transport.Outcome {
	var outcome transport.Outcome
	for attempt := 0; ; attempt++ {
		var err error
		outcome, err = o.client.InvokeAgent(ctx, query, agent.ID)
		if err != nil {
			return transport.Outcome{Reason: err.Error()}
		}
		if outcome.OK || ctx.Err() != nil || attempt >= o.retryAttempts {
			return outcome
		}

		o.logger.Warn("Retrying after transport failure",
			zap.String("agent", agent.Name),
			zap.Int("attempt", attempt+1),
			zap.String("reason", outcome.Reason),
		)
		select {
		case <-ctx.Done():
			return outcome
		case <-time.After(o.retryBackoff):
		}
	}
}

func (o *Orchestrator) record(rec schemas.InvocationRecord) {
	if o.recorder == nil {
		return
	}
	// Recording runs against a background context so a cancelled invocation
	// still leaves an audit entry.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := o.recorder.RecordInvocation(ctx, rec); err != nil {
		o.logger.Error("Failed to record invocation", zap.Error(err))
	}
}

// coordinatorFindings pulls the key findings out of a coordinator result for
// the audit trail. Other agent kinds carry no structured findings.
func coordinatorFindings(resp schemas.NormalizedAgentResponse) []schemas.KeyFinding {
	if resp.Response.Result == nil || resp.Response.Result.Coordinator == nil {
		return nil
	}
	return resp.Response.Result.Coordinator.KeyFindings
}
