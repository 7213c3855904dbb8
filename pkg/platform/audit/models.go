package audit

import (
	"context"
	"time"

	id "warden/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention.
type EventCategory string

const (
	// CategorySecurity covers enforcement actions: restrictions imposed or
	// lifted by staff, escalations, denied connections.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine lifecycle activity such as timers
	// lapsing on their own.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the moderation core to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
//
// SubjectName is the display name at the time of the action, if known.
// ActorName identifies who issued the action and is empty for sweeps.
type Event struct {
	Category    EventCategory `json:"category"`
	Timestamp   time.Time     `json:"timestamp"`
	Action      string        `json:"action"`
	Subject     id.SubjectID  `json:"subject"`
	SubjectName string        `json:"subject_name,omitempty"`
	ActorName   string        `json:"actor_name,omitempty"`
	Kind        string        `json:"kind,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	RequestID   string        `json:"request_id,omitempty"`
}

type AuditEvent string

const (
	EventMuteImposed       AuditEvent = "mute_imposed"
	EventBanImposed        AuditEvent = "ban_imposed"
	EventBanRevoked        AuditEvent = "ban_revoked"
	EventRestrictionLapsed AuditEvent = "restriction_lapsed"
	EventConnectDenied     AuditEvent = "connect_denied"
	EventSubjectSidelined  AuditEvent = "subject_sidelined"

	EventReviewStarted   AuditEvent = "review_started"
	EventReviewExtended  AuditEvent = "review_extended"
	EventReviewCleared   AuditEvent = "review_cleared"
	EventReviewEscalated AuditEvent = "review_escalated"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventMuteImposed:      CategorySecurity,
	EventBanImposed:       CategorySecurity,
	EventBanRevoked:       CategorySecurity,
	EventConnectDenied:    CategorySecurity,
	EventSubjectSidelined: CategorySecurity,
	EventReviewStarted:    CategorySecurity,
	EventReviewCleared:    CategorySecurity,
	EventReviewEscalated:  CategorySecurity,

	EventRestrictionLapsed: CategoryOperations,
	EventReviewExtended:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store is an append-only audit sink.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Lister returns the most recent events, newest last.
type Lister interface {
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
