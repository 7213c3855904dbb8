package service

import (
	"context"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/moderation/models"
	"warden/internal/moderation/ports"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/requestcontext"
)

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

type commandFunc func(s *Service, ctx context.Context, actor ports.Actor, args []string) error

var commands = map[string]commandFunc{
	"kick":         (*Service).kick,
	"mute":         (*Service).mute,
	"ban":          (*Service).ban,
	"check":        (*Service).check,
	"checkaddtime": (*Service).checkAddTime,
	"checkrevise":  (*Service).checkRevise,
	"checkban":     (*Service).checkBan,
	"checkbanpriz": (*Service).checkBanReduced,
	"checkchat":    (*Service).checkChat,
	"dupeip":       (*Service).dupeIP,
	"baninfo":      (*Service).banInfo,
	"unban":        (*Service).unban,
	"chat":         (*Service).chat,
	"help":         (*Service).help,
}

// Execute runs one command. args[0] is the verb, matched case-insensitively;
// the rest are its whitespace-separated arguments. Rejections such as a
// missing permission or an unknown target are replied to the actor and do not
// change state. The returned error is non-nil only when a host collaborator
// failed.
func (s *Service) Execute(ctx context.Context, actor ports.Actor, args []string) error {
	ctx = requestcontext.EnsureRequestID(ctx)
	ctx = requestcontext.WithActorName(ctx, actor.Name())

	verb := ""
	if len(args) > 0 {
		verb = strings.ToLower(args[0])
	}
	run, ok := commands[verb]
	if !ok {
		verb = "usage"
		run = (*Service).usage
	}

	ctx, span := tracer.Start(ctx, "moderation.command", trace.WithAttributes(
		attribute.String("command.verb", verb),
		attribute.String("command.actor", actor.Name()),
	))
	defer span.End()

	err := run(s, ctx, actor, args)
	switch {
	case err == nil:
		s.metrics.IncrementCommand(verb, outcomeOK)
		return nil
	case dErrors.IsUserError(err):
		s.metrics.IncrementCommand(verb, outcomeRejected)
		span.SetAttributes(attribute.String("command.rejection", string(dErrors.CodeOf(err))))
		actor.Reply(ctx, dErrors.MessageOf(err))
		return nil
	default:
		s.metrics.IncrementCommand(verb, outcomeError)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "command failed", "verb", verb, "actor", actor.Name(), "error", err)
		return err
	}
}

// reject builds a user error whose message is the rendered template.
func (s *Service) reject(code dErrors.Code, key string, values map[string]string) error {
	return dErrors.New(code, s.render(key, values))
}

func (s *Service) usage(_ context.Context, _ ports.Actor, _ []string) error {
	return s.reject(dErrors.CodeInvalidInput, msgUsage, nil)
}

// require checks the permission and the minimum argument count, verb
// included.
func (s *Service) require(actor ports.Actor, perm string, args []string, minArgs int) error {
	if !actor.HasPermission(perm) {
		return s.reject(dErrors.CodeForbidden, msgNoPermission, nil)
	}
	if len(args) < minArgs {
		return s.reject(dErrors.CodeInvalidInput, strings.ToLower(args[0])+"-usage", nil)
	}
	return nil
}

// target resolves args[1] to an online subject.
func (s *Service) target(ctx context.Context, name string) (ports.Subject, error) {
	subject, ok := s.directory.Lookup(ctx, name)
	if !ok {
		return ports.Subject{}, s.reject(dErrors.CodeNotFound, msgPlayerNotFound, map[string]string{"player": name})
	}
	return subject, nil
}

// anyTarget resolves an online subject by name, or an offline one by id.
// Bans keep their targets offline, so ban lookups accept either form.
func (s *Service) anyTarget(ctx context.Context, name string) (ports.Subject, error) {
	if subject, ok := s.directory.Lookup(ctx, name); ok {
		return subject, nil
	}
	if subjectID, err := id.ParseSubjectID(name); err == nil {
		return ports.Subject{ID: subjectID, Name: name}, nil
	}
	return ports.Subject{}, s.reject(dErrors.CodeNotFound, msgPlayerNotFound, map[string]string{"player": name})
}

// reviewTarget resolves an online subject that must be under review.
func (s *Service) reviewTarget(ctx context.Context, name string) (ports.Subject, error) {
	subject, err := s.target(ctx, name)
	if err != nil {
		return ports.Subject{}, err
	}
	if !s.workflow.IsUnderReview(subject.ID) {
		return ports.Subject{}, s.reject(dErrors.CodeNotFound, msgCheckNotFound, map[string]string{"player": subject.Name})
	}
	return subject, nil
}

// restrictionArgs splits "<verb> <name> <reason...> <duration>". The reason
// is every token strictly between the name and the duration.
func (s *Service) restrictionArgs(args []string) (reason string, d time.Duration, err error) {
	d, err = models.ParseDuration(args[len(args)-1])
	if err != nil {
		return "", 0, s.reject(dErrors.CodeInvalidInput, msgInvalidDuration, nil)
	}
	reason = strings.Join(args[2:len(args)-1], " ")
	if reason == "" {
		reason = s.render(msgReasonUnspecified, nil)
	}
	return reason, d, nil
}

func (s *Service) kick(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.Kick, args, 2); err != nil {
		return err
	}
	target, err := s.target(ctx, args[1])
	if err != nil {
		return err
	}
	if err := s.sessions.Sideline(ctx, target.ID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to sideline subject")
	}
	ports.LogAudit(ctx, s.logger, s.auditor, audit.EventSubjectSidelined,
		"subject", target.ID,
		"subject_name", target.Name,
	)
	actor.Reply(ctx, s.render(msgKickSuccess, map[string]string{"player": target.Name}))
	s.messenger.Send(ctx, []id.SubjectID{target.ID}, s.render(msgKickTarget, nil))
	return nil
}

func (s *Service) mute(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.Mute, args, 3); err != nil {
		return err
	}
	target, err := s.target(ctx, args[1])
	if err != nil {
		return err
	}
	reason, d, err := s.restrictionArgs(args)
	if err != nil {
		return err
	}

	s.ledger.Impose(ctx, target.ID, models.KindMute, d)
	ports.LogAudit(ctx, s.logger, s.auditor, audit.EventMuteImposed,
		"subject", target.ID,
		"subject_name", target.Name,
		"kind", models.KindMute.String(),
		"duration", d,
		"reason", reason,
	)

	values := map[string]string{
		"player":   target.Name,
		"duration": models.FormatDuration(d),
		"reason":   reason,
	}
	actor.Reply(ctx, s.render(msgMuteSuccess, values))
	s.messenger.Send(ctx, []id.SubjectID{target.ID}, s.render(msgMuteTarget, values))
	return nil
}

func (s *Service) ban(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.Ban, args, 3); err != nil {
		return err
	}
	target, err := s.target(ctx, args[1])
	if err != nil {
		return err
	}
	reason, d, err := s.restrictionArgs(args)
	if err != nil {
		return err
	}

	// A pending review would otherwise replace this ban when it times out.
	if err := s.workflow.Clear(ctx, target.ID); err != nil && !dErrors.HasCode(err, dErrors.CodeNotFound) {
		return err
	}
	s.ledger.Impose(ctx, target.ID, models.KindBan, d)
	ports.LogAudit(ctx, s.logger, s.auditor, audit.EventBanImposed,
		"subject", target.ID,
		"subject_name", target.Name,
		"kind", models.KindBan.String(),
		"duration", d,
		"reason", reason,
	)

	values := map[string]string{
		"player":   target.Name,
		"duration": models.FormatDuration(d),
		"reason":   reason,
	}
	if err := s.sessions.Disconnect(ctx, target.ID, s.render(msgBanTarget, values)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to disconnect banned subject")
	}
	actor.Reply(ctx, s.render(msgBanSuccess, values))
	return nil
}

func (s *Service) check(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.Check, args, 2); err != nil {
		return err
	}
	target, err := s.target(ctx, args[1])
	if err != nil {
		return err
	}

	var supervisor *id.SubjectID
	if sup, ok := actor.Subject(); ok {
		supervisor = &sup
	}
	review, err := s.workflow.Enter(ctx, target.ID, supervisor, s.settings.ReviewDuration)
	if err != nil {
		if dErrors.Is(err, dErrors.CodeConflict) {
			return s.reject(dErrors.CodeConflict, msgCheckAlready, map[string]string{"player": target.Name})
		}
		return err
	}
	ports.LogAudit(ctx, s.logger, s.auditor, audit.EventReviewStarted,
		"subject", target.ID,
		"subject_name", target.Name,
		"duration", review.ExpiresAt.Sub(review.StartedAt),
	)

	actor.Reply(ctx, s.render(msgCheckSuccess, map[string]string{"player": target.Name}))
	s.messenger.Send(ctx, []id.SubjectID{target.ID}, s.render(msgCheckTarget, nil))
	return nil
}

func (s *Service) checkAddTime(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.Check, args, 2); err != nil {
		return err
	}
	target, err := s.target(ctx, args[1])
	if err != nil {
		return err
	}
	extension := s.settings.ReviewExtension
	if _, err := s.workflow.Extend(ctx, target.ID, extension); err != nil {
		if dErrors.Is(err, dErrors.CodeNotFound) {
			return s.reject(dErrors.CodeNotFound, msgCheckNotFound, map[string]string{"player": target.Name})
		}
		return err
	}
	ports.LogAudit(ctx, s.logger, s.auditor, audit.EventReviewExtended,
		"subject", target.ID,
		"subject_name", target.Name,
		"duration", extension,
	)

	values := map[string]string{"player": target.Name, "duration": models.FormatDuration(extension)}
	actor.Reply(ctx, s.render(msgCheckAddTimeSuccess, values))
	s.messenger.Send(ctx, []id.SubjectID{target.ID}, s.render(msgCheckAddTimeTarget, values))
	return nil
}

func (s *Service) checkRevise(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.Check, args, 2); err != nil {
		return err
	}
	target, err := s.target(ctx, args[1])
	if err != nil {
		return err
	}
	if err := s.workflow.Clear(ctx, target.ID); err != nil {
		if dErrors.Is(err, dErrors.CodeNotFound) {
			return s.reject(dErrors.CodeNotFound, msgCheckNotFound, map[string]string{"player": target.Name})
		}
		return err
	}
	ports.LogAudit(ctx, s.logger, s.auditor, audit.EventReviewCleared,
		"subject", target.ID,
		"subject_name", target.Name,
	)

	actor.Reply(ctx, s.render(msgCheckReviseSuccess, map[string]string{"player": target.Name}))
	s.messenger.Send(ctx, []id.SubjectID{target.ID}, s.render(msgCheckReviseTarget, nil))
	return nil
}

func (s *Service) checkBan(ctx context.Context, actor ports.Actor, args []string) error {
	return s.escalate(ctx, actor, args, s.settings.CheckBan, models.CauseManual, msgCheckBanSuccess)
}

func (s *Service) checkBanReduced(ctx context.Context, actor ports.Actor, args []string) error {
	return s.escalate(ctx, actor, args, s.settings.CheckBanReduced, models.CauseManualReduced, msgCheckBanPrizSuccess)
}

// escalate bans a subject under review. Disconnecting and the audit record
// happen in the review listener, shared with timeouts.
func (s *Service) escalate(ctx context.Context, actor ports.Actor, args []string, d time.Duration, cause models.EscalationCause, successKey string) error {
	if err := s.require(actor, s.settings.Permissions.Check, args, 2); err != nil {
		return err
	}
	target, err := s.target(ctx, args[1])
	if err != nil {
		return err
	}
	if _, err := s.workflow.EscalateToBan(ctx, target.ID, d, cause); err != nil {
		if dErrors.Is(err, dErrors.CodeNotFound) {
			return s.reject(dErrors.CodeNotFound, msgCheckNotFound, map[string]string{"player": target.Name})
		}
		return err
	}
	actor.Reply(ctx, s.render(successKey, map[string]string{
		"player":   target.Name,
		"duration": models.FormatDuration(d),
	}))
	return nil
}

func (s *Service) checkChat(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.Check, args, 3); err != nil {
		return err
	}
	target, err := s.reviewTarget(ctx, args[1])
	if err != nil {
		return err
	}
	recipients := s.broadcastReview(ctx, target.ID, actor.Name(), strings.Join(args[2:], " "))
	if sender, ok := actor.Subject(); !ok || !slices.Contains(recipients, sender) {
		actor.Reply(ctx, s.render(msgCheckFormat, map[string]string{
			"player":  actor.Name(),
			"message": strings.Join(args[2:], " "),
		}))
	}
	return nil
}

func (s *Service) dupeIP(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.DupeIP, args, 2); err != nil {
		return err
	}
	target, err := s.target(ctx, args[1])
	if err != nil {
		return err
	}
	address, ok := s.ledger.AddressOf(target.ID)
	if !ok {
		address = target.Address
	}
	if address == "" {
		return s.reject(dErrors.CodeNotFound, msgDupeIPUnknown, map[string]string{"player": target.Name})
	}

	actor.Reply(ctx, s.render(msgDupeIPHeader, map[string]string{"ip": address}))
	for _, line := range s.correlate(ctx, address) {
		actor.Reply(ctx, line)
	}
	return nil
}

// correlate renders one line per online subject last seen at address.
// Banned subjects use the distinct banned entry.
func (s *Service) correlate(ctx context.Context, address string) []string {
	var lines []string
	for _, subjectID := range s.ledger.Correlate(address) {
		online, ok := s.directory.Get(ctx, subjectID)
		if !ok {
			continue
		}
		key := msgDupeIPEntry
		if s.ledger.IsActive(ctx, subjectID, models.KindBan) {
			key = msgDupeIPBannedEntry
		}
		lines = append(lines, s.render(key, map[string]string{"player": online.Name}))
	}
	return lines
}

func (s *Service) banInfo(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.BanInfo, args, 2); err != nil {
		return err
	}
	target, err := s.anyTarget(ctx, args[1])
	if err != nil {
		return err
	}
	remaining, banned := s.ledger.RemainingHumanReadable(ctx, target.ID, models.KindBan)
	if !banned {
		actor.Reply(ctx, s.render(msgBanInfoNotBanned, map[string]string{"player": target.Name}))
		return nil
	}
	actor.Reply(ctx, s.render(msgBanInfoBanned, map[string]string{"player": target.Name, "time": remaining}))
	return nil
}

func (s *Service) unban(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.Unban, args, 2); err != nil {
		return err
	}
	target, err := s.anyTarget(ctx, args[1])
	if err != nil {
		return err
	}
	if !s.ledger.IsActive(ctx, target.ID, models.KindBan) || !s.ledger.Revoke(ctx, target.ID, models.KindBan) {
		return s.reject(dErrors.CodeNotFound, msgUnbanNotBanned, map[string]string{"player": target.Name})
	}
	ports.LogAudit(ctx, s.logger, s.auditor, audit.EventBanRevoked,
		"subject", target.ID,
		"subject_name", target.Name,
		"kind", models.KindBan.String(),
	)
	actor.Reply(ctx, s.render(msgUnbanSuccess, map[string]string{"player": target.Name}))
	return nil
}

func (s *Service) chat(ctx context.Context, actor ports.Actor, args []string) error {
	subject, ok := actor.Subject()
	if !ok {
		return s.reject(dErrors.CodeForbidden, msgPlayerOnly, nil)
	}
	if err := s.require(actor, s.settings.Permissions.Chat, args, 1); err != nil {
		return err
	}
	if len(args) == 1 {
		if s.side.toggle(subject) {
			actor.Reply(ctx, s.render(msgChatEnabled, nil))
		} else {
			actor.Reply(ctx, s.render(msgChatDisabled, nil))
		}
		return nil
	}
	message := strings.TrimSpace(strings.Join(args[1:], " "))
	if message == "" {
		return s.reject(dErrors.CodeInvalidInput, msgChatUsage, nil)
	}
	s.broadcastSide(ctx, actor.Name(), message)
	return nil
}

func (s *Service) help(ctx context.Context, actor ports.Actor, args []string) error {
	if err := s.require(actor, s.settings.Permissions.Help, args, 1); err != nil {
		return err
	}
	actor.Reply(ctx, s.render(msgHelpHeader, nil))
	for _, line := range s.lines(linesHelpCommands) {
		actor.Reply(ctx, line)
	}
	return nil
}
