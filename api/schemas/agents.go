package schemas

import (
	"encoding/json"
)

// -- Agent Schemas --

// AgentID is the opaque identifier of a remote analysis agent as known to the
// execution endpoint. IDs are assigned by the platform and configured once at
// startup; they are never derived from user input.
type AgentID string

// AgentKind classifies the shape of the result payload an agent produces.
// The normalizer selects its validation rules based on this kind.
type AgentKind string

const (
	// KindCoordinator aggregates the other agents' outputs into one
	// consolidated recommendation.
	KindCoordinator AgentKind = "coordinator"
	// KindDocumentQA answers free-text questions against the document corpus
	// and backs its answers with citations.
	KindDocumentQA AgentKind = "document_qa"
	// KindAnalyst covers the specialized single-dimension agents (liquidity,
	// operations, sustainability, audit). They share one result shape.
	KindAnalyst AgentKind = "analyst"
)

// AgentRequest is a single invocation of a remote agent. Requests are value
// objects created per call and never persisted.
type AgentRequest struct {
	Query   string  `json:"query"`
	AgentID AgentID `json:"agent_id"`
}

// AgentStatus tracks the lifecycle of one agent within an analysis run.
type AgentStatus string

const (
	StatusPending   AgentStatus = "pending"
	StatusAnalyzing AgentStatus = "analyzing"
	StatusComplete  AgentStatus = "complete"
	StatusFailed    AgentStatus = "failed"
	StatusCancelled AgentStatus = "cancelled"
)

// Terminal reports whether the status ends the agent's lifecycle for the
// current run. Terminal agents only leave this state through a run reset.
func (s AgentStatus) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ResultStatus is the agent's own verdict on its execution, independent of
// whether the transport round trip succeeded.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// RawAgentResponse is the untyped payload returned by the execution endpoint.
// Its shape varies per agent; only the normalizer may inspect it.
type RawAgentResponse struct {
	Status  ResultStatus    `json:"status"`
	Result  json.RawMessage `json:"result,omitempty"`
	Message string          `json:"message,omitempty"`
}

// AgentPayload is the domain-level half of a normalized response: the agent's
// own outcome, its structured result (nil on any error), and a renderable
// message for the failure paths.
type AgentPayload struct {
	Status  ResultStatus      `json:"status"`
	Result  *StructuredResult `json:"result"`
	Message string            `json:"message,omitempty"`
}

// NormalizedAgentResponse is the canonical envelope every caller receives.
//
// Success reflects the transport outcome only: the request reached the
// endpoint and a response came back. The agent's own verdict lives in
// Response.Status. The two axes are deliberately independent; collapsing them
// loses the distinction between "network down" and "agent could not answer".
//
// Invariants: Success == false implies Response.Result == nil, and
// Response.Status == ResultSuccess implies Response.Result != nil.
type NormalizedAgentResponse struct {
	Success  bool         `json:"success"`
	Response AgentPayload `json:"response"`
}

// Failed reports whether the envelope represents any failure path, transport
// or agent level.
func (r NormalizedAgentResponse) Failed() bool {
	return !r.Success || r.Response.Status != ResultSuccess
}
