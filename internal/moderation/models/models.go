package models

import (
	"time"

	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

// Kind is a restriction kind tracked by the ledger.
type Kind string

const (
	// KindMute suppresses chat.
	KindMute Kind = "mute"
	// KindBan suppresses access.
	KindBan Kind = "ban"
)

// Kinds lists every restriction kind in sweep order.
func Kinds() []Kind {
	return []Kind{KindMute, KindBan}
}

// IsValid checks if the kind is one of the supported values.
func (k Kind) IsValid() bool {
	return k == KindMute || k == KindBan
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind validates a kind coming from configuration or the ops API.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "restriction kind must be 'mute' or 'ban'")
	}
	return k, nil
}

// Restriction is one active mute or ban. At most one exists per
// (subject, kind); imposing again replaces the expiry.
type Restriction struct {
	Subject   id.SubjectID `json:"subject"`
	Kind      Kind         `json:"kind"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// IsActiveAt reports whether the restriction still applies at now.
func (r Restriction) IsActiveAt(now time.Time) bool {
	return r.ExpiresAt.After(now)
}

// RemainingAt returns the time left, never negative.
func (r Restriction) RemainingAt(now time.Time) time.Duration {
	return max(r.ExpiresAt.Sub(now), 0)
}

// ExpiryAt computes an expiry at millisecond precision so the in-memory
// instant equals the persisted epoch-millis value.
func ExpiryAt(now time.Time, d time.Duration) time.Time {
	return time.UnixMilli(now.Add(d).UnixMilli()).In(now.Location())
}

// ReviewStatus is the state of a review record. A review has no sub-states;
// presence in the workflow means it is active.
type ReviewStatus string

const ReviewActive ReviewStatus = "active"

// Review is a supervised hold on a subject pending manual clearance.
type Review struct {
	Subject    id.SubjectID  `json:"subject"`
	Supervisor *id.SubjectID `json:"supervisor,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	Status     ReviewStatus  `json:"status"`
}

// IsExpiredAt reports whether the review timer has elapsed.
func (r Review) IsExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

// RemainingAt returns the time left, never negative.
func (r Review) RemainingAt(now time.Time) time.Duration {
	return max(r.ExpiresAt.Sub(now), 0)
}

// HasSupervisor reports whether a supervising subject was recorded.
func (r Review) HasSupervisor() bool {
	return r.Supervisor != nil && !r.Supervisor.IsNil()
}

// EscalationCause distinguishes how a review turned into a ban.
type EscalationCause string

const (
	// CauseManual is a supervisor-issued escalation with the full ban.
	CauseManual EscalationCause = "manual"
	// CauseManualReduced is a supervisor-issued escalation with the reduced ban.
	CauseManualReduced EscalationCause = "manual_reduced"
	// CauseTimeout is the sweep-driven escalation of an unresolved review.
	CauseTimeout EscalationCause = "timeout"
)

// SubjectStatus is a consistent view of everything tracked for one subject.
type SubjectStatus struct {
	Subject id.SubjectID `json:"subject"`
	Mute    *Restriction `json:"mute,omitempty"`
	Ban     *Restriction `json:"ban,omitempty"`
	Review  *Review      `json:"review,omitempty"`
}

func (s SubjectStatus) IsMuted() bool {
	return s.Mute != nil
}

func (s SubjectStatus) IsBanned() bool {
	return s.Ban != nil
}

func (s SubjectStatus) IsUnderReview() bool {
	return s.Review != nil
}
