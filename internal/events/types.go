// Package events provides the event bus the proctoring components
// communicate through. Inbound browser signals (visibility changes,
// blocked shortcuts, stream ends) arrive here, so session logic can be
// exercised without a real browser attached.
package events

import (
	"time"
)

// EventType represents the type of event
type EventType string

// System-wide event types
const (
	// Proctor signals relayed from the candidate's browser tab
	EventVisibilityHidden  EventType = "proctor.visibility.hidden"
	EventVisibilityVisible EventType = "proctor.visibility.visible"
	EventShortcutBlocked   EventType = "proctor.shortcut.blocked"
	EventStreamEnded       EventType = "proctor.stream.ended"

	// Session lifecycle events
	EventSessionCreated      EventType = "session.created"
	EventSessionStarted      EventType = "session.started"
	EventSessionViolation    EventType = "session.violation"
	EventSessionDisqualified EventType = "session.disqualified"
	EventSessionExpired      EventType = "session.expired"
	EventSessionSubmitted    EventType = "session.submitted"
	EventSessionAborted      EventType = "session.aborted"
	EventSessionFinalized    EventType = "session.finalized"

	// Recording events
	EventRecordingStored   EventType = "recording.stored"
	EventRecordingUploaded EventType = "recording.uploaded"

	// Question bank events
	EventQuestionsReloaded EventType = "questions.reloaded"

	// System events
	EventSystemStarted EventType = "system.started"
	EventSystemStopped EventType = "system.stopped"
)

// Event represents a system event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"` // system, session:id, ws:id, etc.
	SessionID string                 `json:"session_id,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// EventHandler represents a function that handles events
type EventHandler func(event Event) error

// EventFilter represents filters for event subscriptions
type EventFilter struct {
	Types     []EventType `json:"types,omitempty"`
	Sources   []string    `json:"sources,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
}

// Subscription represents an event subscription
type Subscription struct {
	ID            string       `json:"id"`
	Filter        EventFilter  `json:"filter"`
	Handler       EventHandler `json:"-"`
	Created       time.Time    `json:"created"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	TriggerCount  int64        `json:"trigger_count"`
}

// EventStats represents statistics about events
type EventStats struct {
	TotalEvents         int64            `json:"total_events"`
	EventsByType        map[string]int64 `json:"events_by_type"`
	EventsBySource      map[string]int64 `json:"events_by_source"`
	RecentEvents        []Event          `json:"recent_events"`
	ActiveSubscriptions int              `json:"active_subscriptions"`
}

// EventBusConfig represents configuration for the event bus
type EventBusConfig struct {
	BufferSize      int `json:"buffer_size"`
	MaxRecentEvents int `json:"max_recent_events"`
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() EventBusConfig {
	return EventBusConfig{
		BufferSize:      1000,
		MaxRecentEvents: 100,
	}
}

// MatchesFilter checks if an event matches the given filter
func MatchesFilter(event Event, filter EventFilter) bool {
	if len(filter.Types) > 0 {
		found := false
		for _, t := range filter.Types {
			if event.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(filter.Sources) > 0 {
		found := false
		for _, s := range filter.Sources {
			if event.Source == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if filter.SessionID != "" && event.SessionID != filter.SessionID {
		return false
	}

	return true
}

// NewEvent creates a new event with default values
func NewEvent(eventType EventType, source string, message string) Event {
	return Event{
		Type:      eventType,
		Source:    source,
		Message:   message,
		Data:      make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// NewSessionEvent creates an event scoped to one assessment session
func NewSessionEvent(eventType EventType, sessionID string, message string) Event {
	event := NewEvent(eventType, "session:"+sessionID, message)
	event.SessionID = sessionID
	return event
}

// NewSystemEvent creates a system event
func NewSystemEvent(eventType EventType, message string) Event {
	return NewEvent(eventType, "system", message)
}
