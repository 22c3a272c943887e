// File: internal/status/tracker_test.go
package status

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/diligence-cli/api/schemas"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTracker(t *testing.T, agents ...string) *Tracker {
	t.Helper()
	return New(agents, zaptest.NewLogger(t))
}

// -- Test Cases: Transitions --

func TestTransition_HappyPath(t *testing.T) {
	tr := newTracker(t, "document-qa")

	assert.Equal(t, schemas.StatusPending, tr.StatusOf("document-qa"))
	assert.True(t, tr.Transition("document-qa", schemas.StatusAnalyzing))
	assert.Equal(t, schemas.StatusAnalyzing, tr.StatusOf("document-qa"))
	assert.True(t, tr.Transition("document-qa", schemas.StatusComplete))
	assert.Equal(t, schemas.StatusComplete, tr.StatusOf("document-qa"))
}

func TestTransition_TerminalStatesAreSticky(t *testing.T) {
	tr := newTracker(t, "coordinator")

	require.True(t, tr.Transition("coordinator", schemas.StatusAnalyzing))
	require.True(t, tr.Transition("coordinator", schemas.StatusFailed))

	assert.False(t, tr.Transition("coordinator", schemas.StatusAnalyzing))
	assert.False(t, tr.Transition("coordinator", schemas.StatusComplete))
	assert.False(t, tr.Transition("coordinator", schemas.StatusCancelled))
	assert.Equal(t, schemas.StatusFailed, tr.StatusOf("coordinator"))
}

func TestTransition_NoSkippingPendingToTerminal(t *testing.T) {
	tr := newTracker(t, "liquidity-risk")

	assert.False(t, tr.Transition("liquidity-risk", schemas.StatusComplete))
	assert.False(t, tr.Transition("liquidity-risk", schemas.StatusFailed))
	assert.Equal(t, schemas.StatusPending, tr.StatusOf("liquidity-risk"))
}

func TestTransition_CancelledFromPendingAndAnalyzing(t *testing.T) {
	tr := newTracker(t, "a", "b")

	assert.True(t, tr.Transition("a", schemas.StatusCancelled), "cancel before start")

	require.True(t, tr.Transition("b", schemas.StatusAnalyzing))
	assert.True(t, tr.Transition("b", schemas.StatusCancelled), "cancel in flight")
}

func TestTransition_UntrackedAgentStartsPending(t *testing.T) {
	tr := newTracker(t)

	assert.Equal(t, schemas.StatusPending, tr.StatusOf("never-seen"))
	assert.True(t, tr.Transition("never-seen", schemas.StatusAnalyzing))
	assert.Equal(t, schemas.StatusAnalyzing, tr.StatusOf("never-seen"))
}

// -- Test Cases: Reset --

func TestReset_ClearsTerminalStates(t *testing.T) {
	tr := newTracker(t, "a", "b")

	require.True(t, tr.Transition("a", schemas.StatusAnalyzing))
	require.True(t, tr.Transition("a", schemas.StatusComplete))

	tr.Reset("run-2", "c")

	assert.Equal(t, "run-2", tr.RunID())
	snap := tr.Snapshot()
	assert.Len(t, snap, 3)
	for agent, s := range snap {
		assert.Equal(t, schemas.StatusPending, s, "agent %s", agent)
	}

	// Terminal cells are writable again after the reset.
	assert.True(t, tr.Transition("a", schemas.StatusAnalyzing))
}

func TestResetAgent_OnlyTouchesOneCell(t *testing.T) {
	tr := newTracker(t, "a", "b")

	require.True(t, tr.Transition("a", schemas.StatusAnalyzing))
	require.True(t, tr.Transition("a", schemas.StatusFailed))
	require.True(t, tr.Transition("b", schemas.StatusAnalyzing))

	tr.ResetAgent("a")

	assert.Equal(t, schemas.StatusPending, tr.StatusOf("a"))
	assert.Equal(t, schemas.StatusAnalyzing, tr.StatusOf("b"))
	assert.True(t, tr.Transition("a", schemas.StatusAnalyzing))
}

// -- Test Cases: Snapshot Isolation --

func TestSnapshot_IsACopy(t *testing.T) {
	tr := newTracker(t, "a")

	snap := tr.Snapshot()
	snap["a"] = schemas.StatusFailed

	assert.Equal(t, schemas.StatusPending, tr.StatusOf("a"))
}

// -- Test Cases: Subscriptions --

func TestSubscribe_ReceivesTransitionsInOrder(t *testing.T) {
	tr := newTracker(t, "document-qa")
	tr.Reset("run-1")

	feed, cancel := tr.Subscribe(8)
	defer cancel()

	require.True(t, tr.Transition("document-qa", schemas.StatusAnalyzing))
	require.True(t, tr.Transition("document-qa", schemas.StatusComplete))

	first := <-feed
	assert.Equal(t, "document-qa", first.Agent)
	assert.Equal(t, schemas.StatusAnalyzing, first.Status)
	assert.Equal(t, "run-1", first.RunID)

	second := <-feed
	assert.Equal(t, schemas.StatusComplete, second.Status)
}

func TestSubscribe_CancelClosesChannelAndIsIdempotent(t *testing.T) {
	tr := newTracker(t, "a")

	feed, cancel := tr.Subscribe(1)
	cancel()
	cancel()

	_, open := <-feed
	assert.False(t, open)

	// Transitions after cancel must not panic on the closed channel.
	assert.True(t, tr.Transition("a", schemas.StatusAnalyzing))
}

func TestSubscribe_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	tr := newTracker(t, "a", "b", "c")

	feed, cancel := tr.Subscribe(1)
	defer cancel()

	require.True(t, tr.Transition("a", schemas.StatusAnalyzing))
	require.True(t, tr.Transition("b", schemas.StatusAnalyzing))
	require.True(t, tr.Transition("c", schemas.StatusAnalyzing))

	// Only the first update fits the buffer; the writer never blocked.
	u := <-feed
	assert.Equal(t, "a", u.Agent)
	assert.Empty(t, feed)
}

// -- Test Cases: Concurrency --

func TestTracker_ConcurrentWritersAndReaders(t *testing.T) {
	agents := []string{"a", "b", "c", "d", "e", "f"}
	tr := newTracker(t, agents...)

	var wg sync.WaitGroup
	for _, agent := range agents {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			tr.Transition(agent, schemas.StatusAnalyzing)
			tr.Transition(agent, schemas.StatusComplete)
		}(agent)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = tr.Snapshot()
			}
		}()
	}
	wg.Wait()

	for _, agent := range agents {
		assert.Equal(t, schemas.StatusComplete, tr.StatusOf(agent))
	}
}
