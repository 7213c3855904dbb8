package service

import (
	"context"
	"strings"

	"warden/internal/moderation/models"
	"warden/internal/moderation/ports"
	id "warden/pkg/domain"
	"warden/pkg/platform/audit"
)

// ConnectDecision is the verdict on a connection attempt.
type ConnectDecision struct {
	Allowed bool
	// Reason is shown to the subject when the connection is refused.
	Reason string
}

// MessageDecision is the verdict on a chat message.
type MessageDecision struct {
	// Cancel suppresses ordinary delivery. The message may still have been
	// routed to the review or side channel.
	Cancel bool
	// Channel names where the message went instead, if anywhere.
	Channel Channel
}

type Channel string

const (
	ChannelNone   Channel = ""
	ChannelReview Channel = "review"
	ChannelSide   Channel = "side"
)

// OnConnect records subject's address and refuses the connection while a
// ban is active. Lapsed mute and ban records are dropped on the way.
func (s *Service) OnConnect(ctx context.Context, subject id.SubjectID, address string) ConnectDecision {
	s.ledger.RecordAddress(subject, address)
	s.ledger.Get(ctx, subject, models.KindMute)

	ban, banned := s.ledger.Get(ctx, subject, models.KindBan)
	if !banned {
		return ConnectDecision{Allowed: true}
	}

	remaining := ban.RemainingAt(s.ledger.Now())
	s.metrics.IncrementConnectsDenied()
	ports.LogAudit(ctx, s.logger, s.auditor, audit.EventConnectDenied,
		"subject", subject,
		"kind", models.KindBan.String(),
		"duration", remaining,
	)
	return ConnectDecision{
		Allowed: false,
		Reason:  s.render(msgBanKick, map[string]string{"time": models.FormatRemaining(remaining)}),
	}
}

// OnMessage decides what happens to a chat message. Mutes win over reviews,
// and reviews over the side channel.
func (s *Service) OnMessage(ctx context.Context, subject id.SubjectID, text string) MessageDecision {
	if s.ledger.IsActive(ctx, subject, models.KindMute) {
		s.messenger.Send(ctx, []id.SubjectID{subject}, s.render(msgMuteBlocked, nil))
		return MessageDecision{Cancel: true}
	}
	if s.workflow.IsUnderReview(subject) {
		s.broadcastReview(ctx, subject, s.displayName(ctx, subject), text)
		return MessageDecision{Cancel: true, Channel: ChannelReview}
	}
	if s.side.contains(subject) {
		s.broadcastSide(ctx, s.displayName(ctx, subject), text)
		return MessageDecision{Cancel: true, Channel: ChannelSide}
	}
	return MessageDecision{}
}

// OnMove reports whether a movement attempt must be cancelled.
func (s *Service) OnMove(_ context.Context, subject id.SubjectID) bool {
	return s.workflow.IsUnderReview(subject)
}

// OnCommand reports whether a command line typed by subject must be
// cancelled. Denylisted commands are blocked for subjects under review and
// for the staff supervising them.
func (s *Service) OnCommand(ctx context.Context, subject id.SubjectID, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	if _, denied := s.denylist[strings.ToLower(fields[0])]; !denied {
		return false
	}
	if !s.workflow.IsUnderReview(subject) && !s.workflow.IsSupervising(ctx, subject) {
		return false
	}
	s.messenger.Send(ctx, []id.SubjectID{subject}, s.render(msgNoTeleport, nil))
	return true
}

// OnLeave forgets per-session state for subject.
func (s *Service) OnLeave(_ context.Context, subject id.SubjectID) {
	s.side.remove(subject)
}

// displayName resolves an online subject's name, falling back to the id.
func (s *Service) displayName(ctx context.Context, subject id.SubjectID) string {
	if online, ok := s.directory.Get(ctx, subject); ok {
		return online.Name
	}
	return subject.String()
}
