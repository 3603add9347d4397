package domain

import (
	"fmt"
	"time"
)

// EventType identifies a kind of domain event raised by the field-service
// application (interventions, reports, media, clients, planning, users).
type EventType string

const (
	EventInterventionCreated       EventType = "intervention_created"
	EventInterventionUpdated       EventType = "intervention_updated"
	EventInterventionStatusChanged EventType = "intervention_status_changed"
	EventReportGenerated           EventType = "report_generated"
	EventMediaUploaded             EventType = "media_uploaded"
	EventUserCreated               EventType = "user_created"
	EventUserUpdated               EventType = "user_updated"
	EventClientCreated             EventType = "client_created"
	EventClientUpdated             EventType = "client_updated"
	EventPlanningCreated           EventType = "planning_created"
	EventPlanningUpdated           EventType = "planning_updated"
)

// EventTypeWildcard matches every event type when used as a subscription filter.
const EventTypeWildcard = "*"

var eventTypes = map[EventType]struct{}{
	EventInterventionCreated:       {},
	EventInterventionUpdated:       {},
	EventInterventionStatusChanged: {},
	EventReportGenerated:           {},
	EventMediaUploaded:             {},
	EventUserCreated:               {},
	EventUserUpdated:               {},
	EventClientCreated:             {},
	EventClientUpdated:             {},
	EventPlanningCreated:           {},
	EventPlanningUpdated:           {},
}

// ParseEventType validates a raw event type string. An unknown type is a
// caller bug and is reported synchronously, before any dispatch work starts.
func ParseEventType(s string) (EventType, error) {
	et := EventType(s)
	if _, ok := eventTypes[et]; !ok {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return et, nil
}

// ValidEventFilter reports whether s can be used as a subscription's
// event-type filter: any known event type, or the wildcard.
func ValidEventFilter(s string) bool {
	if s == EventTypeWildcard {
		return true
	}
	_, ok := eventTypes[EventType(s)]
	return ok
}

// Event is the ephemeral notification handed to the dispatcher. It is never
// persisted as a first-class entity; delivery attempts snapshot what they need.
type Event struct {
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	ResourceID string         `json:"resource_id,omitempty"`
	Payload    map[string]any `json:"payload"`
}
