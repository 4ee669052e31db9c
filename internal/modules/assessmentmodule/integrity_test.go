package assessmentmodule

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentvine/webdesk/internal/events"
)

func newTestMonitor(t *testing.T, threshold int) *IntegrityMonitor {
	t.Helper()
	m := NewIntegrityMonitor(hclog.NewNullLogger(), nil, "sess-1", threshold, 10*time.Millisecond)
	require.NoError(t, m.Start())
	return m
}

func hiddenAt(at time.Time) events.Event {
	return events.Event{Type: events.EventVisibilityHidden, SessionID: "sess-1", Timestamp: at}
}

func visibleAt(at time.Time) events.Event {
	return events.Event{Type: events.EventVisibilityVisible, SessionID: "sess-1", Timestamp: at}
}

func TestVisibilityLossCountsOncePerTransition(t *testing.T) {
	m := newTestMonitor(t, 10)
	base := time.Now()

	m.handleEvent(hiddenAt(base))
	assert.Equal(t, 1, m.Count())

	// Rapid repeats inside the same hidden transition collapse.
	m.handleEvent(hiddenAt(base.Add(2 * time.Millisecond)))
	m.handleEvent(hiddenAt(base.Add(4 * time.Millisecond)))
	assert.Equal(t, 1, m.Count())

	m.handleEvent(visibleAt(base.Add(20 * time.Millisecond)))
	m.handleEvent(hiddenAt(base.Add(40 * time.Millisecond)))
	assert.Equal(t, 2, m.Count())
}

func TestCountIsMonotonic(t *testing.T) {
	m := newTestMonitor(t, 10)
	base := time.Now()

	last := 0
	for i := 0; i < 5; i++ {
		m.handleEvent(hiddenAt(base.Add(time.Duration(i) * 50 * time.Millisecond)))
		m.handleEvent(visibleAt(base.Add(time.Duration(i)*50*time.Millisecond + 25*time.Millisecond)))
		require.GreaterOrEqual(t, m.Count(), last)
		last = m.Count()
	}
	assert.Equal(t, 5, last)
}

func TestShortcutsAreAdvisoryOnly(t *testing.T) {
	m := newTestMonitor(t, 3)

	var notices []string
	m.OnNotice = func(kind events.EventType, detail string) {
		notices = append(notices, detail)
	}

	event := events.Event{Type: events.EventShortcutBlocked, SessionID: "sess-1", Timestamp: time.Now()}
	event.Data = map[string]interface{}{"action": "devtools"}
	m.handleEvent(event)
	m.handleEvent(events.Event{Type: events.EventStreamEnded, SessionID: "sess-1", Message: "screen stream ended", Timestamp: time.Now()})

	assert.Equal(t, 0, m.Count(), "advisory signals must never count")
	require.Len(t, notices, 2)
	assert.Equal(t, "devtools", notices[0])
}

func TestThresholdFiresDisqualifyExactlyOnce(t *testing.T) {
	m := newTestMonitor(t, 3)

	disqualified := 0
	m.OnDisqualify = func() { disqualified++ }

	var counts []int
	m.OnViolation = func(count int) { counts = append(counts, count) }

	base := time.Now()
	for i := 0; i < 3; i++ {
		m.handleEvent(hiddenAt(base.Add(time.Duration(i) * 100 * time.Millisecond)))
		m.handleEvent(visibleAt(base.Add(time.Duration(i)*100*time.Millisecond + 50*time.Millisecond)))
	}

	assert.Equal(t, 1, disqualified)
	assert.Equal(t, []int{1, 2, 3}, counts)
	assert.True(t, m.Disqualified())
	assert.False(t, m.Watching(), "monitor goes idle at threshold")

	// No counting past disqualification.
	m.handleEvent(hiddenAt(base.Add(time.Second)))
	assert.Equal(t, 3, m.Count())
	assert.Equal(t, 1, disqualified)
}

func TestStopIsIdempotent(t *testing.T) {
	m := newTestMonitor(t, 3)
	m.Stop()
	m.Stop()
	assert.False(t, m.Watching())

	m.handleEvent(hiddenAt(time.Now()))
	assert.Equal(t, 0, m.Count())
}
