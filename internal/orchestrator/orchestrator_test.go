// File: internal/orchestrator/orchestrator_test.go
package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
	"github.com/xkilldash9x/diligence-cli/internal/config"
	"github.com/xkilldash9x/diligence-cli/internal/normalize"
	"github.com/xkilldash9x/diligence-cli/internal/registry"
	"github.com/xkilldash9x/diligence-cli/internal/status"
	"github.com/xkilldash9x/diligence-cli/internal/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// -- Mock Implementations for Testing --

// stubInvoker scripts one or more outcomes per agent ID, with optional
// blocking for cancellation tests. Calls are counted per agent for retry
// assertions.
type stubInvoker struct {
	mu       sync.Mutex
	outcomes map[schemas.AgentID][]transport.Outcome
	calls    map[schemas.AgentID]int
	block    chan struct{}
}

func newStubInvoker() *stubInvoker {
	return &stubInvoker{
		outcomes: make(map[schemas.AgentID][]transport.Outcome),
		calls:    make(map[schemas.AgentID]int),
	}
}

func (s *stubInvoker) respond(id schemas.AgentID, outcomes ...transport.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[id] = outcomes
}

func (s *stubInvoker) callCount(id schemas.AgentID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func (s *stubInvoker) InvokeAgent(ctx context.Context, query string, agentID schemas.AgentID) (transport.Outcome, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return transport.Outcome{Reason: "request cancelled"}, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[agentID]++
	script := s.outcomes[agentID]
	if len(script) == 0 {
		return transport.Outcome{Reason: "no scripted outcome"}, nil
	}
	out := script[0]
	if len(script) > 1 {
		s.outcomes[agentID] = script[1:]
	}
	return out, nil
}

type recordedInvocations struct {
	mu   sync.Mutex
	recs []schemas.InvocationRecord
}

func (r *recordedInvocations) RecordInvocation(_ context.Context, rec schemas.InvocationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *recordedInvocations) all() []schemas.InvocationRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schemas.InvocationRecord(nil), r.recs...)
}

type fixture struct {
	orch     *Orchestrator
	invoker  *stubInvoker
	tracker  *status.Tracker
	recorder *recordedInvocations
	registry *registry.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg, err := registry.New(config.AgentsConfig{})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	tracker := status.New(reg.Names(), logger)
	invoker := newStubInvoker()
	recorder := &recordedInvocations{}

	orch, err := New(
		config.OrchestratorConfig{RetryAttempts: 0, RetryBackoff: time.Millisecond},
		invoker, reg, tracker, recorder, logger,
	)
	require.NoError(t, err)

	return &fixture{orch: orch, invoker: invoker, tracker: tracker, recorder: recorder, registry: reg}
}

func ok(body string) transport.Outcome {
	return transport.Outcome{OK: true, StatusCode: 200, Body: []byte(body)}
}

func agentID(t *testing.T, reg *registry.Registry, name string) schemas.AgentID {
	t.Helper()
	a, found := reg.Lookup(name)
	require.True(t, found)
	return a.ID
}

// -- Test Cases: RunAgent --

func TestRunAgent_DocumentQALifecycle(t *testing.T) {
	f := newFixture(t)
	f.invoker.respond(agentID(t, f.registry, registry.NameDocumentQA),
		ok(`{"status":"success","result":{"answer":"Net leverage is 4.2x.","citations":[{"source":"FinStmt_Q3.xlsx"}],"confidence_score":72}}`))

	feed, cancel := f.tracker.Subscribe(8)
	defer cancel()

	resp, err := f.orch.RunAgent(context.Background(), "What are the key liquidity risks?", registry.NameDocumentQA)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	require.Equal(t, schemas.ResultSuccess, resp.Response.Status)
	require.NotNil(t, resp.Response.Result)
	qa := resp.Response.Result.DocumentQA
	require.NotNil(t, qa)
	assert.Equal(t, 72, qa.ConfidenceScore)
	require.Len(t, qa.Citations, 1)
	assert.Equal(t, "FinStmt_Q3.xlsx", qa.Citations[0].Source)

	assert.Equal(t, schemas.StatusComplete, f.orch.StatusOf(registry.NameDocumentQA))

	first := <-feed
	assert.Equal(t, schemas.StatusAnalyzing, first.Status)
	second := <-feed
	assert.Equal(t, schemas.StatusComplete, second.Status)
}

func TestRunAgent_InvalidRequestBeforeAnyTransition(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.RunAgent(context.Background(), "  ", registry.NameDocumentQA)
	require.ErrorIs(t, err, transport.ErrInvalidRequest)

	_, err = f.orch.RunAgent(context.Background(), "q", "no-such-agent")
	require.ErrorIs(t, err, transport.ErrInvalidRequest)

	assert.Equal(t, schemas.StatusPending, f.orch.StatusOf(registry.NameDocumentQA))
	assert.Zero(t, f.invoker.callCount(agentID(t, f.registry, registry.NameDocumentQA)))
}

func TestRunAgent_TransportFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	id := agentID(t, f.registry, registry.NameLiquidityRisk)
	f.invoker.respond(id, transport.Outcome{Reason: "could not reach the analysis endpoint"})

	resp, err := f.orch.RunAgent(context.Background(), "q", registry.NameLiquidityRisk)
	require.NoError(t, err)

	assert.False(t, resp.Success)
	assert.Equal(t, schemas.ResultError, resp.Response.Status)
	assert.Nil(t, resp.Response.Result)
	assert.Equal(t, "could not reach the analysis endpoint", resp.Response.Message)
	assert.Equal(t, schemas.StatusFailed, f.orch.StatusOf(registry.NameLiquidityRisk))
}

func TestRunAgent_AgentErrorMarksFailed(t *testing.T) {
	f := newFixture(t)
	id := agentID(t, f.registry, registry.NameDocumentQA)
	f.invoker.respond(id, ok(`{"status":"error","message":"corpus is empty"}`))

	resp, err := f.orch.RunAgent(context.Background(), "q", registry.NameDocumentQA)
	require.NoError(t, err)

	assert.True(t, resp.Success, "transport axis survives an agent error")
	assert.Equal(t, "corpus is empty", resp.Response.Message)
	assert.Equal(t, schemas.StatusFailed, f.orch.StatusOf(registry.NameDocumentQA))
}

func TestRunAgent_MalformedResultMarksFailed(t *testing.T) {
	f := newFixture(t)
	id := agentID(t, f.registry, registry.NameDocumentQA)
	f.invoker.respond(id, ok(`{"status":"success","result":{"answer":"x","confidence_score":150}}`))

	resp, err := f.orch.RunAgent(context.Background(), "q", registry.NameDocumentQA)
	require.NoError(t, err)

	assert.Equal(t, normalize.MalformedMessage, resp.Response.Message)
	assert.Equal(t, schemas.StatusFailed, f.orch.StatusOf(registry.NameDocumentQA))
}

func TestRunAgent_RetriesTransportFailuresOnly(t *testing.T) {
	f := newFixture(t)
	f.orch.retryAttempts = 2

	id := agentID(t, f.registry, registry.NameDocumentQA)
	f.invoker.respond(id,
		transport.Outcome{Reason: "endpoint returned HTTP 503"},
		transport.Outcome{Reason: "endpoint returned HTTP 503"},
		ok(`{"status":"success","result":{"answer":"fine","confidence_score":90}}`),
	)

	resp, err := f.orch.RunAgent(context.Background(), "q", registry.NameDocumentQA)
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultSuccess, resp.Response.Status)
	assert.Equal(t, 3, f.invoker.callCount(id))
	assert.Equal(t, schemas.StatusComplete, f.orch.StatusOf(registry.NameDocumentQA))
}

func TestRunAgent_AgentErrorIsNotRetried(t *testing.T) {
	f := newFixture(t)
	f.orch.retryAttempts = 2

	id := agentID(t, f.registry, registry.NameDocumentQA)
	f.invoker.respond(id, ok(`{"status":"error","message":"nope"}`))

	_, err := f.orch.RunAgent(context.Background(), "q", registry.NameDocumentQA)
	require.NoError(t, err)
	assert.Equal(t, 1, f.invoker.callCount(id))
}

func TestRunAgent_SecondCycleAfterTerminalState(t *testing.T) {
	f := newFixture(t)
	id := agentID(t, f.registry, registry.NameDocumentQA)
	f.invoker.respond(id,
		transport.Outcome{Reason: "endpoint returned HTTP 500"},
		ok(`{"status":"success","result":{"answer":"second time lucky","confidence_score":60}}`),
	)

	_, err := f.orch.RunAgent(context.Background(), "q", registry.NameDocumentQA)
	require.NoError(t, err)
	require.Equal(t, schemas.StatusFailed, f.orch.StatusOf(registry.NameDocumentQA))

	resp, err := f.orch.RunAgent(context.Background(), "q", registry.NameDocumentQA)
	require.NoError(t, err)
	assert.Equal(t, schemas.ResultSuccess, resp.Response.Status)
	assert.Equal(t, schemas.StatusComplete, f.orch.StatusOf(registry.NameDocumentQA))
}

func TestRunAgent_RecordsAuditTrail(t *testing.T) {
	f := newFixture(t)
	id := agentID(t, f.registry, registry.NameDocumentQA)
	f.invoker.respond(id, ok(`{"status":"success","result":{"answer":"a","confidence_score":50}}`))

	_, err := f.orch.RunAgent(context.Background(), "what is the debt profile?", registry.NameDocumentQA)
	require.NoError(t, err)

	recs := f.recorder.all()
	require.Len(t, recs, 1)
	assert.Equal(t, registry.NameDocumentQA, recs[0].AgentName)
	assert.Equal(t, id, recs[0].AgentID)
	assert.Equal(t, "what is the debt profile?", recs[0].Query)
	assert.True(t, recs[0].Success)
	assert.Equal(t, schemas.ResultSuccess, recs[0].Status)
}

// -- Test Cases: Cancellation --

func TestCancel_InFlightInvocationBecomesCancelled(t *testing.T) {
	f := newFixture(t)
	f.invoker.block = make(chan struct{})

	started := make(chan struct{})
	done := make(chan schemas.NormalizedAgentResponse, 1)
	go func() {
		close(started)
		resp, err := f.orch.RunAgent(context.Background(), "q", registry.NameDocumentQA)
		assert.NoError(t, err)
		done <- resp
	}()

	<-started
	require.Eventually(t, func() bool {
		return f.orch.StatusOf(registry.NameDocumentQA) == schemas.StatusAnalyzing
	}, time.Second, 5*time.Millisecond)

	assert.True(t, f.orch.Cancel(registry.NameDocumentQA))

	resp := <-done
	assert.False(t, resp.Success)
	assert.Equal(t, schemas.StatusCancelled, f.orch.StatusOf(registry.NameDocumentQA))

	// Nothing left in flight.
	assert.False(t, f.orch.Cancel(registry.NameDocumentQA))
}

func TestCancel_NoInFlightInvocation(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.orch.Cancel(registry.NameDocumentQA))
}

// -- Test Cases: RunAgents Fan-Out --

func TestRunAgents_IndependentLifecycles(t *testing.T) {
	f := newFixture(t)
	f.invoker.respond(agentID(t, f.registry, registry.NameLiquidityRisk),
		ok(`{"status":"success","result":{"summary":"tight","risk_score":70,"confidence_score":80}}`))
	f.invoker.respond(agentID(t, f.registry, registry.NameSustainability),
		transport.Outcome{Reason: "endpoint returned HTTP 502"})

	out, err := f.orch.RunAgents(context.Background(), "q",
		[]string{registry.NameLiquidityRisk, registry.NameSustainability})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, schemas.ResultSuccess, out[registry.NameLiquidityRisk].Response.Status)
	assert.Equal(t, schemas.ResultError, out[registry.NameSustainability].Response.Status)

	assert.Equal(t, schemas.StatusComplete, f.orch.StatusOf(registry.NameLiquidityRisk))
	assert.Equal(t, schemas.StatusFailed, f.orch.StatusOf(registry.NameSustainability))
}

func TestRunAgents_ValidatesAllNamesUpfront(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.RunAgents(context.Background(), "q",
		[]string{registry.NameLiquidityRisk, "bogus"})
	require.ErrorIs(t, err, transport.ErrInvalidRequest)

	assert.Equal(t, schemas.StatusPending, f.orch.StatusOf(registry.NameLiquidityRisk))
	assert.Zero(t, f.invoker.callCount(agentID(t, f.registry, registry.NameLiquidityRisk)))
}

// -- Test Cases: Coordinated Analysis --

const coordinatorSuccess = `{
	"status": "success",
	"result": {
		"overall_risk_score": 120,
		"executive_summary": "Elevated refinancing and supplier risk.",
		"key_findings": [
			{"category": "B", "severity": "MEDIUM", "finding": "b", "source_agent": "operational-efficiency"},
			{"category": "A", "severity": "HIGH", "finding": "a", "source_agent": "liquidity-risk"},
			{"category": "C", "severity": "HIGH", "finding": "c", "source_agent": "external-auditor"}
		],
		"cross_referenced_insights": ["same supplier", "same supplier", "related party loans"],
		"prioritized_risks": [],
		"action_items": ["Renegotiate facility"],
		"sub_agent_summaries": [{"agent_name": "liquidity-risk", "status": "complete", "summary": "s"}]
	}
}`

func TestRunCoordinatedAnalysis_AggregatesResult(t *testing.T) {
	f := newFixture(t)
	f.invoker.respond(agentID(t, f.registry, registry.NameCoordinator), ok(coordinatorSuccess))

	agg, err := f.orch.RunCoordinatedAnalysis(context.Background(), "full diligence review")
	require.NoError(t, err)

	assert.NotEmpty(t, agg.RunID)
	assert.Empty(t, agg.Error)
	assert.Equal(t, 100, agg.OverallRiskScore, "score clamps into [0,100]")
	assert.Equal(t, schemas.RiskHigh, agg.RiskBand)
	assert.Equal(t, schemas.RecommendDoNot, agg.Recommendation)

	require.Len(t, agg.KeyFindings, 3)
	assert.Equal(t, "A", agg.KeyFindings[0].Category)
	assert.Equal(t, "C", agg.KeyFindings[1].Category)
	assert.Equal(t, "B", agg.KeyFindings[2].Category)

	assert.Equal(t, []string{"same supplier", "related party loans"}, agg.CrossReferencedInsights)
	assert.Equal(t, []string{"Renegotiate facility"}, agg.ActionItems)
	assert.Equal(t, schemas.StatusComplete, f.orch.StatusOf(registry.NameCoordinator))
}

func TestRunCoordinatedAnalysis_TransportFailureYieldsEmptyState(t *testing.T) {
	f := newFixture(t)
	f.invoker.respond(agentID(t, f.registry, registry.NameCoordinator),
		transport.Outcome{Reason: "could not reach the analysis endpoint: connection refused"})

	agg, err := f.orch.RunCoordinatedAnalysis(context.Background(), "full diligence review")
	require.NoError(t, err)

	assert.NotEmpty(t, agg.Error)
	assert.NotNil(t, agg.KeyFindings)
	assert.Empty(t, agg.KeyFindings)
	assert.NotNil(t, agg.ActionItems)
	assert.Empty(t, agg.ActionItems)
	assert.NotNil(t, agg.SubAgentSummaries)
	assert.Empty(t, agg.SubAgentSummaries)
	assert.Equal(t, schemas.StatusFailed, f.orch.StatusOf(registry.NameCoordinator))
}

func TestRunCoordinatedAnalysis_ResetsEntireRoster(t *testing.T) {
	f := newFixture(t)
	id := agentID(t, f.registry, registry.NameCoordinator)
	f.invoker.respond(id, transport.Outcome{Reason: "down"}, ok(coordinatorSuccess))

	_, err := f.orch.RunCoordinatedAnalysis(context.Background(), "first")
	require.NoError(t, err)
	firstRun := f.tracker.RunID()
	require.Equal(t, schemas.StatusFailed, f.orch.StatusOf(registry.NameCoordinator))

	agg, err := f.orch.RunCoordinatedAnalysis(context.Background(), "second")
	require.NoError(t, err)
	assert.NotEqual(t, firstRun, agg.RunID)
	assert.Equal(t, schemas.StatusComplete, f.orch.StatusOf(registry.NameCoordinator))
	assert.Equal(t, schemas.StatusPending, f.orch.StatusOf(registry.NameDocumentQA))
}

// -- Test Cases: Aggregation Helpers --

func TestAggregate_DeterministicFindingOrder(t *testing.T) {
	co := schemas.CoordinatorResult{
		OverallRiskScore: 30,
		KeyFindings: []schemas.KeyFinding{
			{Category: "B", Severity: schemas.SeverityMedium, Finding: "b"},
			{Category: "A", Severity: schemas.SeverityHigh, Finding: "a"},
			{Category: "C", Severity: schemas.SeverityHigh, Finding: "c"},
		},
	}

	agg := Aggregate("run", co)
	want := []schemas.KeyFinding{
		{Category: "A", Severity: schemas.SeverityHigh, Finding: "a"},
		{Category: "C", Severity: schemas.SeverityHigh, Finding: "c"},
		{Category: "B", Severity: schemas.SeverityMedium, Finding: "b"},
	}
	if diff := cmp.Diff(want, agg.KeyFindings); diff != "" {
		t.Errorf("finding order mismatch (-want +got):\n%s", diff)
	}

	// The caller's slice stays untouched.
	assert.Equal(t, "B", co.KeyFindings[0].Category)
}

func TestAggregate_RecommendationDerivedFromBand(t *testing.T) {
	cases := []struct {
		score int
		band  schemas.RiskBand
		rec   string
	}{
		{0, schemas.RiskLow, schemas.RecommendProceed},
		{39, schemas.RiskLow, schemas.RecommendProceed},
		{40, schemas.RiskCaution, schemas.RecommendWithCaution},
		{69, schemas.RiskCaution, schemas.RecommendWithCaution},
		{70, schemas.RiskHigh, schemas.RecommendDoNot},
		{-10, schemas.RiskLow, schemas.RecommendProceed},
	}
	for _, tc := range cases {
		agg := Aggregate("run", schemas.CoordinatorResult{OverallRiskScore: tc.score})
		assert.Equal(t, tc.band, agg.RiskBand, "score %d", tc.score)
		assert.Equal(t, tc.rec, agg.Recommendation, "score %d", tc.score)
	}
}

func TestAggregate_ExplicitRecommendationWins(t *testing.T) {
	agg := Aggregate("run", schemas.CoordinatorResult{
		OverallRiskScore: 90,
		Recommendation:   "PROCEED",
	})
	assert.Equal(t, "PROCEED", agg.Recommendation)
}
