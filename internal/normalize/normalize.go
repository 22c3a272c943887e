// File: internal/normalize/normalize.go

// Package normalize converts raw agent payloads into the canonical
// NormalizedAgentResponse envelope. Every function here is a pure
// translation from bytes to a value; nothing is mutated and nothing is
// retained, which keeps the boundary independently testable.
package normalize

import (
	"bytes"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
)

// Renderable messages for the two failure paths the remote contract allows.
const (
	// FallbackMessage stands in when an agent reports an error without
	// saying why.
	FallbackMessage = "Unable to answer the question"
	// MalformedMessage marks payloads that claim success but fail shape
	// validation. The raw shape never crosses this boundary.
	MalformedMessage = "Malformed agent result"
)

var jsonNull = []byte("null")

// TransportFailure wraps a transport-level failure reason into the envelope.
// Success is false and the result is nil; the reason passes through verbatim
// so the user sees what the transport layer saw.
func TransportFailure(reason string) schemas.NormalizedAgentResponse {
	if strings.TrimSpace(reason) == "" {
		reason = "transport failure"
	}
	return schemas.NormalizedAgentResponse{
		Success: false,
		Response: schemas.AgentPayload{
			Status:  schemas.ResultError,
			Message: reason,
		},
	}
}

// Response normalizes the body of a completed round trip. Success is always
// true here: the transport delivered a response, and the agent's own verdict
// is carried on the status axis instead.
//
// A payload that reports success must carry a result matching the agent's
// kind, with any confidence score an integer in [0,100]. Anything else is
// demoted to an error envelope with MalformedMessage rather than letting an
// unrenderable shape escape.
func Response(body []byte, kind schemas.AgentKind) schemas.NormalizedAgentResponse {
	var raw schemas.RawAgentResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return agentError(MalformedMessage)
	}

	switch raw.Status {
	case schemas.ResultError:
		msg := strings.TrimSpace(raw.Message)
		if msg == "" {
			msg = FallbackMessage
		}
		return agentError(msg)

	case schemas.ResultSuccess:
		result, ok := decodeResult(raw.Result, kind)
		if !ok {
			return agentError(MalformedMessage)
		}
		return schemas.NormalizedAgentResponse{
			Success: true,
			Response: schemas.AgentPayload{
				Status:  schemas.ResultSuccess,
				Result:  result,
				Message: raw.Message,
			},
		}

	default:
		return agentError(MalformedMessage)
	}
}

func agentError(msg string) schemas.NormalizedAgentResponse {
	return schemas.NormalizedAgentResponse{
		Success: true,
		Response: schemas.AgentPayload{
			Status:  schemas.ResultError,
			Message: msg,
		},
	}
}

// decodeResult parses the raw result into the variant selected by kind.
func decodeResult(raw []byte, kind schemas.AgentKind) (*schemas.StructuredResult, bool) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return nil, false
	}

	switch kind {
	case schemas.KindDocumentQA:
		var r schemas.DocumentQAResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, false
		}
		if !validScore(r.ConfidenceScore) {
			return nil, false
		}
		return &schemas.StructuredResult{Kind: kind, DocumentQA: &r}, true

	case schemas.KindAnalyst:
		var r schemas.AnalystResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, false
		}
		if !validScore(r.ConfidenceScore) {
			return nil, false
		}
		return &schemas.StructuredResult{Kind: kind, Analyst: &r}, true

	case schemas.KindCoordinator:
		var r schemas.CoordinatorResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, false
		}
		for _, f := range r.KeyFindings {
			if !f.Severity.Valid() || strings.TrimSpace(f.Finding) == "" {
				return nil, false
			}
		}
		return &schemas.StructuredResult{Kind: kind, Coordinator: &r}, true
	}
	return nil, false
}

// validScore enforces the remote contract for confidence: an integer
// percentage in [0,100]. Non-integer values already fail at decode time.
func validScore(score int) bool {
	return score >= 0 && score <= 100
}
