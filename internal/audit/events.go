package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType groups audit events.
type EventType string

// Event types.
const (
	EventTypeAuthentication EventType = "authentication"
	EventTypeSecurity       EventType = "security"
	EventTypeConfiguration  EventType = "configuration"
)

// Action is the audited action.
type Action string

// Actions.
const (
	ActionLogin             Action = "login"
	ActionTokenRefresh      Action = "token_refresh"
	ActionRateLimitExceeded Action = "rate_limit_exceeded"
	ActionConfigReload      Action = "config_reload"
)

// Outcome is the result of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"type"`
	Action    Action         `json:"action"`
	Outcome   Outcome        `json:"outcome"`
	Subject   string         `json:"subject,omitempty"`
	ClientIP  string         `json:"client_ip,omitempty"`
	Method    string         `json:"method,omitempty"`
	Path      string         `json:"path,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEvent creates an event stamped with a fresh ID and the current time.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
	}
}

// AuthenticationEvent creates an authentication event for subject.
func AuthenticationEvent(action Action, outcome Outcome, subject string) *Event {
	e := NewEvent(EventTypeAuthentication, action, outcome)
	e.Subject = subject
	return e
}

// SecurityEvent creates a security event.
func SecurityEvent(action Action, outcome Outcome) *Event {
	return NewEvent(EventTypeSecurity, action, outcome)
}

// ConfigurationEvent creates a configuration event.
func ConfigurationEvent(action Action, outcome Outcome) *Event {
	return NewEvent(EventTypeConfiguration, action, outcome)
}

// WithClient sets the client address.
func (e *Event) WithClient(ip string) *Event {
	e.ClientIP = ip
	return e
}

// WithResource sets the request method and path.
func (e *Event) WithResource(method, path string) *Event {
	e.Method = method
	e.Path = path
	return e
}

// WithReason sets why the action failed or was denied.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithMetadata adds one metadata entry.
func (e *Event) WithMetadata(key string, value any) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}
