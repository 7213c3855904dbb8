package service

import (
	"context"
	"time"

	"warden/internal/moderation/models"
	"warden/internal/moderation/ports"
	id "warden/pkg/domain"
	"warden/pkg/platform/audit"
)

// RestrictionExpired tells an online subject that their mute ran out.
func (s *Service) RestrictionExpired(ctx context.Context, restriction models.Restriction) {
	ports.LogAudit(ctx, s.logger, s.auditor, audit.EventRestrictionLapsed,
		"subject", restriction.Subject,
		"kind", restriction.Kind.String(),
	)
	if restriction.Kind != models.KindMute {
		return
	}
	if _, online := s.directory.Get(ctx, restriction.Subject); online {
		s.messenger.Send(ctx, []id.SubjectID{restriction.Subject}, s.render(msgMuteExpired, nil))
	}
}

// ReviewStarted applies the overlay and shows the first banner.
func (s *Service) ReviewStarted(ctx context.Context, review models.Review) {
	if err := s.overlays.Apply(ctx, review.Subject); err != nil {
		s.logger.WarnContext(ctx, "failed to apply review overlay", "subject", review.Subject, "error", err)
	}
	s.ShowReviewBanner(ctx, review.Subject, review.RemainingAt(s.ledger.Now()))
}

func (s *Service) ReviewCleared(ctx context.Context, review models.Review) {
	if err := s.overlays.Remove(ctx, review.Subject); err != nil {
		s.logger.WarnContext(ctx, "failed to remove review overlay", "subject", review.Subject, "error", err)
	}
}

// ReviewEscalated removes the overlay, disconnects the banned subject and
// records the escalation, whether it came from staff or a timeout.
func (s *Service) ReviewEscalated(ctx context.Context, review models.Review, ban models.Restriction, cause models.EscalationCause) {
	if err := s.overlays.Remove(ctx, review.Subject); err != nil {
		s.logger.WarnContext(ctx, "failed to remove review overlay", "subject", review.Subject, "error", err)
	}

	d := s.banLength(cause)
	key := msgCheckBanTarget
	switch cause {
	case models.CauseManualReduced:
		key = msgCheckBanPrizTarget
	case models.CauseTimeout:
		key = msgCheckBanAuto
	}
	reason := s.render(key, map[string]string{"duration": models.FormatDuration(d)})
	if err := s.sessions.Disconnect(ctx, review.Subject, reason); err != nil {
		s.logger.WarnContext(ctx, "failed to disconnect escalated subject", "subject", review.Subject, "error", err)
	}

	ports.LogAudit(ctx, s.logger, s.auditor, audit.EventReviewEscalated,
		"subject", review.Subject,
		"kind", models.KindBan.String(),
		"duration", d,
		"reason", string(cause),
		"ban_until", ban.ExpiresAt,
	)
}

// ShowReviewBanner renders the countdown banner for a subject under review.
func (s *Service) ShowReviewBanner(ctx context.Context, subject id.SubjectID, remaining time.Duration) {
	s.messenger.ShowBanner(ctx, subject,
		s.render(msgCheckTitle, nil),
		s.render(msgCheckSubtitle, map[string]string{"time": models.FormatCountdown(remaining)}),
	)
}

func (s *Service) banLength(cause models.EscalationCause) time.Duration {
	switch cause {
	case models.CauseManualReduced:
		return s.settings.CheckBanReduced
	case models.CauseTimeout:
		return s.settings.TimeoutBan
	default:
		return s.settings.CheckBan
	}
}
