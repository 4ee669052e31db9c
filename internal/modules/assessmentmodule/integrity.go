package assessmentmodule

import (
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/talentvine/webdesk/internal/events"
)

// IntegrityMonitor watches proctoring signals for one session while it
// is Active and raises a single disqualify signal when the violation
// threshold is reached.
//
// Only visibility loss counts toward the threshold. Blocked-shortcut
// attempts are suppressed client-side and reported here as advisory
// notices, matching the production counting rule.
type IntegrityMonitor struct {
	logger    hclog.Logger
	bus       events.EventBus
	sessionID string
	threshold int
	debounce  time.Duration

	mu           sync.Mutex
	watching     bool
	count        int
	disqualified bool
	hiddenActive bool
	lastCounted  time.Time
	sub          *events.Subscription

	// OnViolation fires after each counted violation with the new total.
	OnViolation func(count int)
	// OnNotice fires for advisory signals that are never counted.
	OnNotice func(kind events.EventType, detail string)
	// OnDisqualify fires exactly once when the threshold is reached.
	OnDisqualify func()
}

// NewIntegrityMonitor creates a monitor in the Idle state.
func NewIntegrityMonitor(logger hclog.Logger, bus events.EventBus, sessionID string, threshold int, debounce time.Duration) *IntegrityMonitor {
	return &IntegrityMonitor{
		logger:    logger.Named("integrity"),
		bus:       bus,
		sessionID: sessionID,
		threshold: threshold,
		debounce:  debounce,
	}
}

// Start transitions Idle -> Watching and subscribes to this session's
// proctor signals.
func (m *IntegrityMonitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watching {
		return nil
	}

	if m.bus != nil {
		sub, err := m.bus.Subscribe(events.EventFilter{
			Types: []events.EventType{
				events.EventVisibilityHidden,
				events.EventVisibilityVisible,
				events.EventShortcutBlocked,
				events.EventStreamEnded,
			},
			SessionID: m.sessionID,
		}, m.handleEvent)
		if err != nil {
			return err
		}
		m.sub = sub
	}

	m.watching = true
	m.logger.Debug("monitor watching", "session_id", m.sessionID, "threshold", m.threshold)
	return nil
}

// Stop transitions Watching -> Idle. Safe to call repeatedly.
func (m *IntegrityMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *IntegrityMonitor) stopLocked() {
	if !m.watching {
		return
	}
	m.watching = false
	if m.sub != nil && m.bus != nil {
		m.bus.Unsubscribe(m.sub.ID)
		m.sub = nil
	}
}

// Count returns the violation count. It is monotonically
// non-decreasing for the lifetime of the monitor.
func (m *IntegrityMonitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// Disqualified reports whether the threshold has been reached.
func (m *IntegrityMonitor) Disqualified() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disqualified
}

// Watching reports whether the monitor is currently observing signals.
func (m *IntegrityMonitor) Watching() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watching
}

// handleEvent processes a single proctor signal. Exported to the bus
// as the subscription handler; tests may drive it directly.
func (m *IntegrityMonitor) handleEvent(event events.Event) error {
	switch event.Type {
	case events.EventVisibilityHidden:
		m.recordHidden(event.Timestamp)
	case events.EventVisibilityVisible:
		m.mu.Lock()
		m.hiddenActive = false
		m.mu.Unlock()
	case events.EventShortcutBlocked, events.EventStreamEnded:
		m.notice(event)
	}
	return nil
}

// recordHidden counts one violation per hidden transition. Rapid
// repeat signals inside the debounce window of the same transition
// collapse into a single violation.
func (m *IntegrityMonitor) recordHidden(at time.Time) {
	m.mu.Lock()

	if !m.watching {
		m.mu.Unlock()
		return
	}

	if m.hiddenActive && at.Sub(m.lastCounted) < m.debounce {
		m.mu.Unlock()
		return
	}

	m.hiddenActive = true
	m.lastCounted = at
	m.count++
	count := m.count
	onViolation := m.OnViolation

	reached := count >= m.threshold
	var onDisqualify func()
	if reached && !m.disqualified {
		m.disqualified = true
		onDisqualify = m.OnDisqualify
		// The monitor does not keep counting past disqualification.
		m.stopLocked()
	}
	m.mu.Unlock()

	m.logger.Warn("violation recorded", "session_id", m.sessionID, "count", count, "threshold", m.threshold)

	if onViolation != nil {
		onViolation(count)
	}
	if onDisqualify != nil {
		onDisqualify()
	}
}

func (m *IntegrityMonitor) notice(event events.Event) {
	m.mu.Lock()
	watching := m.watching
	onNotice := m.OnNotice
	m.mu.Unlock()

	if !watching {
		return
	}

	detail := event.Message
	if action, ok := event.Data["action"].(string); ok && detail == "" {
		detail = action
	}

	m.logger.Info("advisory notice", "session_id", m.sessionID, "type", event.Type, "detail", detail)

	if onNotice != nil {
		onNotice(event.Type, detail)
	}
}
