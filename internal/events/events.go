package events

import (
	"time"

	"github.com/google/uuid"
)

// Stream name.
const StreamEvents = "PLUME_EVENTS"

// Subject constants.
const (
	SubjectOutcome = "plume.events.outcome"
	SubjectAudit   = "plume.events.audit"
)

// OutcomeEvent is published once per invocation with the committed
// strategy and its execution result.
type OutcomeEvent struct {
	RunID     uuid.UUID `json:"run_id"`
	Day       string    `json:"day"`
	Kind      string    `json:"kind"`    // post, reply, idle
	Outcome   string    `json:"outcome"` // posted, replied, idled, failed
	Topic     string    `json:"topic,omitempty"`
	Richness  string    `json:"richness,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	PostID    string    `json:"post_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditEvent records a noteworthy occurrence worth keeping outside the
// logs: an ignored mention, a duplicate rejection, a quota denial.
type AuditEvent struct {
	RunID        uuid.UUID `json:"run_id"`
	EventType    string    `json:"event_type"`
	Severity     string    `json:"severity"` // info, warn, error
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id"`
	Details      string    `json:"details"`
	Timestamp    time.Time `json:"timestamp"`
}
