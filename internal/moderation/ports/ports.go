// Package ports defines the collaborators the moderation core talks to.
// The host (game server bridge, console, tests) supplies implementations.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"log/slog"
	"time"

	"warden/internal/moderation/models"
	"warden/pkg/attrs"
	id "warden/pkg/domain"
	"warden/pkg/platform/audit"
	"warden/pkg/requestcontext"
)

// Subject is an online participant as the directory sees it.
type Subject struct {
	ID      id.SubjectID
	Name    string
	Address string
}

// Directory resolves online subjects.
type Directory interface {
	// Lookup finds an online subject by display name, case-insensitively.
	Lookup(ctx context.Context, name string) (Subject, bool)

	// Get returns the online subject with the given id.
	Get(ctx context.Context, subject id.SubjectID) (Subject, bool)

	// OnlineWithPermission lists online subjects holding perm.
	OnlineWithPermission(ctx context.Context, perm string) []Subject
}

// Messenger delivers text to online subjects. Delivery to offline subjects is
// silently dropped.
type Messenger interface {
	Send(ctx context.Context, to []id.SubjectID, text string)

	// ShowBanner displays a large title overlay, refreshed by the scheduler
	// while a review is active.
	ShowBanner(ctx context.Context, subject id.SubjectID, title, subtitle string)
}

// Overlays applies and removes the review visual overlay.
type Overlays interface {
	Apply(ctx context.Context, subject id.SubjectID) error
	Remove(ctx context.Context, subject id.SubjectID) error
}

// Sessions controls a subject's connection.
type Sessions interface {
	// Disconnect ends the subject's session with reason shown to them.
	Disconnect(ctx context.Context, subject id.SubjectID, reason string) error

	// Sideline moves the subject out of play without ending the session.
	Sideline(ctx context.Context, subject id.SubjectID) error
}

// Templates resolves user-facing text. Placeholders are written %name%.
type Templates interface {
	Render(key, fallback string, values map[string]string) string
	Lines(key string, fallback []string) []string
}

// RestrictionStore persists per-kind expiry tables. Save replaces the full
// table for kind.
type RestrictionStore interface {
	Load(ctx context.Context, kind models.Kind) (map[id.SubjectID]time.Time, error)
	Save(ctx context.Context, kind models.Kind, entries map[id.SubjectID]time.Time) error
}

// Actor is whoever issued a command: an online subject or the console.
type Actor interface {
	// Subject returns the actor's id when it is an online subject.
	Subject() (id.SubjectID, bool)
	Name() string
	HasPermission(perm string) bool
	Reply(ctx context.Context, text string)
}

// AuditPublisher emits audit events for moderation actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit logs a moderation action to the structured logger and, when
// available, the audit publisher. Recognised attrs: "subject" (id.SubjectID),
// "subject_name", "kind", "reason" and "duration" (time.Duration).
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.ActorName(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}
	if actor != "" {
		attrList = append(attrList, "actor", actor)
	}

	args := append(attrList, "event", string(event), "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}
	subject, _ := attrs.Extract[id.SubjectID](attrList, "subject")
	duration, _ := attrs.Extract[time.Duration](attrList, "duration")
	err := publisher.Emit(ctx, audit.Event{
		Action:      string(event),
		Subject:     subject,
		SubjectName: attrs.ExtractString(attrList, "subject_name"),
		ActorName:   actor,
		Kind:        attrs.ExtractString(attrList, "kind"),
		Duration:    duration,
		Reason:      attrs.ExtractString(attrList, "reason"),
		RequestID:   requestID,
	})
	if err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}
