package schemas

import "time"

// -- Audit Schemas --

// InvocationRecord is one completed agent invocation as written to the audit
// trail. Records are append-only; the audit store never updates them.
type InvocationRecord struct {
	RunID     string
	AgentName string
	AgentID   AgentID
	Query     string
	Success   bool
	Status    ResultStatus
	Message   string
	StartedAt time.Time
	Elapsed   time.Duration
	Findings  []KeyFinding
}
