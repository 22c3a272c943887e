// File: internal/status/tracker.go

// Package status holds the per-agent lifecycle state for an analysis run.
// The tracker is the single mutable structure shared between the
// orchestrator (the only writer) and its observers (CLI renderers, the
// websocket status stream). Observers get snapshots or a subscription feed;
// they never write.
package status

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
)

// Update is one observed transition, broadcast to subscribers in the order
// the transitions were applied.
type Update struct {
	Agent  string              `json:"agent"`
	Status schemas.AgentStatus `json:"status"`
	RunID  string              `json:"run_id,omitempty"`
	At     time.Time           `json:"at"`
}

// Tracker is a keyed status store with monotonic transitions. Agents move
// pending -> analyzing -> complete/failed, with cancelled reachable from
// either non-terminal state. Terminal states only clear through Reset.
type Tracker struct {
	mu     sync.RWMutex
	cells  map[string]schemas.AgentStatus
	runID  string
	subs   map[chan Update]struct{}
	logger *zap.Logger
}

// New creates a tracker with every named agent in the pending state.
func New(agents []string, logger *zap.Logger) *Tracker {
	t := &Tracker{
		cells:  make(map[string]schemas.AgentStatus, len(agents)),
		subs:   make(map[chan Update]struct{}),
		logger: logger.Named("status"),
	}
	for _, a := range agents {
		t.cells[a] = schemas.StatusPending
	}
	return t
}

// Reset starts a new run: every tracked agent (plus any newly named ones)
// returns to pending before any agent may transition to analyzing. Each
// reset cell is broadcast so observers clear stale terminal states.
func (t *Tracker) Reset(runID string, agents ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.runID = runID
	for _, a := range agents {
		if _, tracked := t.cells[a]; !tracked {
			t.cells[a] = schemas.StatusPending
		}
	}
	for a := range t.cells {
		t.cells[a] = schemas.StatusPending
		t.broadcastLocked(a, schemas.StatusPending)
	}
}

// ResetAgent returns a single agent to pending, starting a fresh cycle for
// it without disturbing the rest of the run.
func (t *Tracker) ResetAgent(agent string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cells[agent] = schemas.StatusPending
	t.broadcastLocked(agent, schemas.StatusPending)
}

// Transition applies one lifecycle step for an agent and reports whether the
// step was legal. Illegal steps (backwards moves, writes to a terminal cell)
// leave the cell untouched.
func (t *Tracker) Transition(agent string, next schemas.AgentStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, tracked := t.cells[agent]
	if !tracked {
		current = schemas.StatusPending
	}
	if !allowed(current, next) {
		t.logger.Warn("Rejected illegal status transition",
			zap.String("agent", agent),
			zap.String("from", string(current)),
			zap.String("to", string(next)),
		)
		return false
	}

	t.cells[agent] = next
	t.broadcastLocked(agent, next)
	return true
}

// StatusOf returns the agent's current status. Agents never seen by the
// tracker read as pending.
func (t *Tracker) StatusOf(agent string) schemas.AgentStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if s, ok := t.cells[agent]; ok {
		return s
	}
	return schemas.StatusPending
}

// Snapshot returns a copy of the full status map for read-only rendering.
func (t *Tracker) Snapshot() map[string]schemas.AgentStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]schemas.AgentStatus, len(t.cells))
	for a, s := range t.cells {
		out[a] = s
	}
	return out
}

// RunID returns the identifier of the current run, empty before any Reset.
func (t *Tracker) RunID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runID
}

// Subscribe registers a buffered feed of updates. The returned cancel func
// must be called to release the subscription; after cancel the channel is
// closed. A subscriber that stops draining loses updates rather than
// blocking the writer.
func (t *Tracker) Subscribe(buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)

	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()

	cancel := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

func (t *Tracker) broadcastLocked(agent string, s schemas.AgentStatus) {
	u := Update{Agent: agent, Status: s, RunID: t.runID, At: time.Now().UTC()}
	for ch := range t.subs {
		select {
		case ch <- u:
		default:
			t.logger.Debug("Dropped status update for slow subscriber",
				zap.String("agent", agent),
			)
		}
	}
}

func allowed(from, to schemas.AgentStatus) bool {
	switch to {
	case schemas.StatusAnalyzing:
		return from == schemas.StatusPending
	case schemas.StatusComplete, schemas.StatusFailed:
		return from == schemas.StatusAnalyzing
	case schemas.StatusCancelled:
		return from == schemas.StatusPending || from == schemas.StatusAnalyzing
	}
	return false
}
