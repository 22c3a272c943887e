// File: internal/registry/registry.go
package registry

import (
	"fmt"
	"sort"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
	"github.com/xkilldash9x/diligence-cli/internal/config"
)

// Agent describes one remote agent known to the platform.
type Agent struct {
	// Name is the logical key callers use ("coordinator", "liquidity-risk").
	Name string
	// ID is the opaque identifier the execution endpoint expects.
	ID schemas.AgentID
	// Kind selects the result payload shape during normalization.
	Kind schemas.AgentKind
	// DisplayName is the human-readable label used in reports and the UI.
	DisplayName string
}

// Registry is the static mapping of logical agent names to remote agent
// descriptors. It is built once at startup and read-only afterwards, so it is
// safe for concurrent use without locking.
type Registry struct {
	byName map[string]Agent
	byID   map[schemas.AgentID]Agent
}

// Logical names of the built-in agent roster.
const (
	NameCoordinator     = "coordinator"
	NameLiquidityRisk   = "liquidity-risk"
	NameOperational     = "operational-efficiency"
	NameSustainability  = "sustainability"
	NameExternalAuditor = "external-auditor"
	NameDocumentQA      = "document-qa"
)

// defaultRoster mirrors the platform's deployed agent set. IDs are
// deployment-specific and normally overridden through configuration.
func defaultRoster() []Agent {
	return []Agent{
		{Name: NameCoordinator, ID: "6970866a1d92f5e2dd229050", Kind: schemas.KindCoordinator, DisplayName: "Diligence Coordinator Agent"},
		{Name: NameLiquidityRisk, ID: "697085e11d92f5e2dd229018", Kind: schemas.KindAnalyst, DisplayName: "Liquidity Risk Agent"},
		{Name: NameOperational, ID: "697085fcd6d0dcaec111699d", Kind: schemas.KindAnalyst, DisplayName: "Operational Efficiency Agent"},
		{Name: NameSustainability, ID: "6970861b1d92f5e2dd229038", Kind: schemas.KindAnalyst, DisplayName: "Sustainability Analysis Agent"},
		{Name: NameExternalAuditor, ID: "6970863cd6d0dcaec11169af", Kind: schemas.KindAnalyst, DisplayName: "External Auditor Lens Agent"},
		{Name: NameDocumentQA, ID: "697085c51d92f5e2dd22900a", Kind: schemas.KindDocumentQA, DisplayName: "Document Q&A Agent"},
	}
}

// New builds the registry from the built-in roster plus configuration
// overrides. An override with a known name replaces that entry; an unknown
// name adds a new agent and must carry a valid kind.
func New(cfg config.AgentsConfig) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]Agent),
		byID:   make(map[schemas.AgentID]Agent),
	}
	for _, a := range defaultRoster() {
		r.byName[a.Name] = a
	}

	for name, entry := range cfg.Registry {
		agent, exists := r.byName[name]
		if !exists {
			agent = Agent{Name: name, DisplayName: name}
		}
		agent.ID = schemas.AgentID(entry.ID)
		if entry.DisplayName != "" {
			agent.DisplayName = entry.DisplayName
		}
		if entry.Kind != "" {
			kind, err := parseKind(entry.Kind)
			if err != nil {
				return nil, fmt.Errorf("agent %q: %w", name, err)
			}
			agent.Kind = kind
		}
		if agent.Kind == "" {
			return nil, fmt.Errorf("agent %q: kind is required for agents outside the built-in roster", name)
		}
		r.byName[name] = agent
	}

	for _, a := range r.byName {
		if prev, dup := r.byID[a.ID]; dup {
			return nil, fmt.Errorf("agents %q and %q share remote ID %s", prev.Name, a.Name, a.ID)
		}
		r.byID[a.ID] = a
	}
	return r, nil
}

func parseKind(s string) (schemas.AgentKind, error) {
	switch schemas.AgentKind(s) {
	case schemas.KindCoordinator, schemas.KindDocumentQA, schemas.KindAnalyst:
		return schemas.AgentKind(s), nil
	}
	return "", fmt.Errorf("unknown agent kind %q", s)
}

// Lookup resolves a logical name to its agent descriptor.
func (r *Registry) Lookup(name string) (Agent, bool) {
	a, ok := r.byName[name]
	return a, ok
}

// LookupID resolves a remote agent ID back to its descriptor.
func (r *Registry) LookupID(id schemas.AgentID) (Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// KnownID reports whether the ID belongs to a registered agent. It satisfies
// the transport client's dispatch guard.
func (r *Registry) KnownID(id schemas.AgentID) bool {
	_, ok := r.byID[id]
	return ok
}

// Names returns the logical agent names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specialists returns the analyst agents, excluding the coordinator and the
// document Q&A agent. Used by the dashboard to seed per-agent status cells.
func (r *Registry) Specialists() []Agent {
	var out []Agent
	for _, name := range r.Names() {
		a := r.byName[name]
		if a.Kind == schemas.KindAnalyst {
			out = append(out, a)
		}
	}
	return out
}
