package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"warden/internal/moderation/ledger"
	"warden/internal/moderation/metrics"
	"warden/internal/moderation/models"
	"warden/internal/moderation/ports"
	"warden/internal/moderation/ports/mocks"
	"warden/internal/moderation/review"
	"warden/internal/moderation/store/memory"
	"warden/internal/platform/config"
	"warden/internal/presence"
	"warden/internal/templates"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/audit"
	"warden/pkg/testutil"
)

var staffPermissions = []string{
	"warden.kick", "warden.mute", "warden.ban", "warden.check",
	"warden.dupeip", "warden.baninfo", "warden.unban", "warden.chat", "warden.help",
}

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	clock    *testutil.Clock
	store    *memory.Store
	metrics  *metrics.Metrics
	ledger   *ledger.Ledger
	workflow *review.Workflow
	host     *presence.Registry
	out      *bytes.Buffer
	console  *presence.Console
	service  *Service

	alice ports.Subject
	bob   ports.Subject
	carol ports.Subject
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = testutil.NewClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	s.store = memory.New()
	s.metrics = metrics.New(prometheus.NewRegistry())

	l, err := ledger.New(s.store, ledger.WithClock(s.clock.Now), ledger.WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.ledger = l
	w, err := review.New(l, review.WithMetrics(s.metrics))
	s.Require().NoError(err)
	s.workflow = w

	s.host = presence.New()
	s.out = &bytes.Buffer{}
	s.console = presence.NewConsole(s.out)

	s.service = s.newService(s.host)

	s.alice = s.join("Alice", "10.0.0.1")
	s.bob = s.join("Bob", "10.0.0.2", staffPermissions...)
	s.carol = s.join("Carol", "10.0.0.3")
}

func (s *ServiceSuite) newService(sessions ports.Sessions, opts ...Option) *Service {
	opts = append([]Option{WithMetrics(s.metrics)}, opts...)
	svc, err := New(Deps{
		Ledger:    s.ledger,
		Workflow:  s.workflow,
		Directory: s.host,
		Messenger: s.host,
		Overlays:  s.host,
		Sessions:  sessions,
	}, config.DefaultModeration(), opts...)
	s.Require().NoError(err)
	return svc
}

func (s *ServiceSuite) join(name, address string, perms ...string) ports.Subject {
	subject := ports.Subject{ID: id.NewSubjectID(), Name: name, Address: address}
	s.host.Join(subject, perms...)
	s.Require().True(s.service.OnConnect(s.ctx, subject.ID, address).Allowed)
	return subject
}

func (s *ServiceSuite) run(line string) {
	s.Require().NoError(s.service.Execute(s.ctx, s.console, strings.Fields(line)))
}

func (s *ServiceSuite) runAs(subject ports.Subject, line string) {
	actor, ok := s.host.Actor(subject.ID)
	s.Require().True(ok)
	s.Require().NoError(s.service.Execute(s.ctx, actor, strings.Fields(line)))
}

func (s *ServiceSuite) consoleLines() []string {
	return strings.Split(strings.TrimRight(s.out.String(), "\n"), "\n")
}

func (s *ServiceSuite) lastConsoleLine() string {
	lines := s.consoleLines()
	return lines[len(lines)-1]
}

func (s *ServiceSuite) TestNew() {
	_, err := New(Deps{}, config.DefaultModeration())
	s.Error(err)

	settings := config.DefaultModeration()
	settings.ReviewDuration = 0
	_, err = New(Deps{
		Ledger:    s.ledger,
		Workflow:  s.workflow,
		Directory: s.host,
		Messenger: s.host,
		Overlays:  s.host,
		Sessions:  s.host,
	}, settings)
	s.Error(err)
}

func (s *ServiceSuite) TestUsage() {
	s.run("")
	s.Contains(s.lastConsoleLine(), "Usage: /warden <kick|")

	s.run("frobnicate Alice")
	s.Contains(s.lastConsoleLine(), "Usage: /warden <kick|")

	s.run("MUTE Alice")
	s.Equal("Usage: /warden mute <name> <reason> <duration>", s.lastConsoleLine())

	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.Commands.WithLabelValues("mute", outcomeRejected)))
	s.Equal(2.0, promtestutil.ToFloat64(s.metrics.Commands.WithLabelValues("usage", outcomeRejected)))
}

func (s *ServiceSuite) TestUnknownTarget() {
	s.run("kick Nobody")
	s.Equal("Player Nobody not found.", s.lastConsoleLine())
	s.False(s.host.IsSidelined(s.alice.ID))
}

func (s *ServiceSuite) TestNoPermission() {
	s.runAs(s.carol, "mute Alice spam 5m")
	last, ok := s.host.LastMessage(s.carol.ID)
	s.Require().True(ok)
	s.Equal("You do not have permission to do that.", last)
	s.False(s.ledger.IsActive(s.ctx, s.alice.ID, models.KindMute))
}

func (s *ServiceSuite) TestKickSidelines() {
	s.run("kick alice")
	s.Equal("Alice was moved out of play.", s.lastConsoleLine())
	s.True(s.host.IsSidelined(s.alice.ID))
	s.Contains(s.host.Inbox(s.alice.ID), "You have been moved out of play.")
}

func (s *ServiceSuite) TestMuteScenario() {
	s.run("mute Alice spamming in chat 30s")
	s.Equal("Alice muted for 30s. Reason: spamming in chat", s.lastConsoleLine())
	s.Contains(s.host.Inbox(s.alice.ID), "You are muted for 30s. Reason: spamming in chat")

	persisted, err := s.store.Load(s.ctx, models.KindMute)
	s.Require().NoError(err)
	s.Contains(persisted, s.alice.ID)

	decision := s.service.OnMessage(s.ctx, s.alice.ID, "hello?")
	s.True(decision.Cancel)
	s.Equal(ChannelNone, decision.Channel)
	s.Contains(s.host.Inbox(s.alice.ID), "You are muted and cannot chat.")

	s.clock.Advance(31 * time.Second)
	expired := s.ledger.Sweep(s.ctx, models.KindMute)
	s.Len(expired, 1)
	last, _ := s.host.LastMessage(s.alice.ID)
	s.Equal("Your mute has expired.", last)
	s.False(s.service.OnMessage(s.ctx, s.alice.ID, "hello").Cancel)

	persisted, err = s.store.Load(s.ctx, models.KindMute)
	s.Require().NoError(err)
	s.Empty(persisted)
}

func (s *ServiceSuite) TestMuteWithoutReason() {
	s.run("mute Alice 10m")
	s.Equal("Alice muted for 10m. Reason: unspecified", s.lastConsoleLine())
}

func (s *ServiceSuite) TestMuteInvalidDuration() {
	s.run("mute Alice spam forever")
	s.Contains(s.lastConsoleLine(), "Invalid duration")
	s.False(s.ledger.IsActive(s.ctx, s.alice.ID, models.KindMute))
}

func (s *ServiceSuite) TestBanDisconnects() {
	s.run("ban Alice cheating 2d")
	s.Equal("Alice banned for 2d. Reason: cheating", s.lastConsoleLine())

	reason, ok := s.host.DisconnectReason(s.alice.ID)
	s.Require().True(ok)
	s.Equal("You are banned for 2d. Reason: cheating", reason)

	decision := s.service.OnConnect(s.ctx, s.alice.ID, "10.0.0.1")
	s.False(decision.Allowed)
	s.Equal("You are banned. Time left: 2d 0h 0m", decision.Reason)
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.ConnectsDenied))
}

func (s *ServiceSuite) TestBanDuringReviewEndsReview() {
	s.runAs(s.bob, "check Alice")
	s.run("ban Alice cheating 30d")
	s.Equal("Alice banned for 30d. Reason: cheating", s.lastConsoleLine())
	s.False(s.workflow.IsUnderReview(s.alice.ID))
	s.False(s.host.HasOverlay(s.alice.ID))
	s.False(s.workflow.IsSupervising(s.ctx, s.bob.ID))

	s.clock.Advance(5*time.Minute + time.Second)
	s.Nil(s.workflow.ExpireTimedOut(s.ctx))

	remaining, ok := s.ledger.Remaining(s.ctx, s.alice.ID, models.KindBan)
	s.Require().True(ok)
	s.Equal(30*models.Day-5*time.Minute-time.Second, remaining)
}

func (s *ServiceSuite) TestConnectWithLapsedBan() {
	s.ledger.Impose(s.ctx, s.carol.ID, models.KindBan, time.Minute)
	s.clock.Advance(2 * time.Minute)

	decision := s.service.OnConnect(s.ctx, s.carol.ID, "10.0.0.3")
	s.True(decision.Allowed)
	s.Empty(s.ledger.Snapshot(models.KindBan))
}

func (s *ServiceSuite) TestBanInfoAndUnbanByID() {
	s.run("ban Alice cheating 1d")

	// Alice is offline now, so she can only be named by id.
	s.run("baninfo Alice")
	s.Equal("Player Alice not found.", s.lastConsoleLine())

	s.clock.Advance(time.Hour)
	s.run("baninfo " + s.alice.ID.String())
	s.Equal(s.alice.ID.String()+" is banned. Time left: 0d 23h 0m", s.lastConsoleLine())

	s.run("unban " + s.alice.ID.String())
	s.Equal(s.alice.ID.String()+" was unbanned.", s.lastConsoleLine())
	s.False(s.ledger.IsActive(s.ctx, s.alice.ID, models.KindBan))

	s.run("unban " + s.alice.ID.String())
	s.Equal(s.alice.ID.String()+" is not banned.", s.lastConsoleLine())

	s.run("baninfo Bob")
	s.Equal("Bob is not banned.", s.lastConsoleLine())
}

func (s *ServiceSuite) TestCheckScenario() {
	s.runAs(s.bob, "check Alice")
	s.Contains(s.host.Inbox(s.bob.ID), "Alice has been called in for review.")
	s.Contains(s.host.Inbox(s.alice.ID), "You are under review. Post your contact handle in chat.")
	s.True(s.host.HasOverlay(s.alice.ID))
	banner, ok := s.host.Banner(s.alice.ID)
	s.Require().True(ok)
	s.Equal("Time left: 5:00", banner.Subtitle)

	supervisor, ok := s.workflow.SupervisorOf(s.alice.ID)
	s.Require().True(ok)
	s.Equal(s.bob.ID, supervisor)

	s.True(s.service.OnMove(s.ctx, s.alice.ID))
	s.False(s.service.OnMove(s.ctx, s.carol.ID))

	decision := s.service.OnMessage(s.ctx, s.alice.ID, "my handle is alice#1")
	s.True(decision.Cancel)
	s.Equal(ChannelReview, decision.Channel)
	s.Contains(s.host.Inbox(s.bob.ID), "[Review] Alice: my handle is alice#1")
	s.Contains(s.host.Inbox(s.alice.ID), "[Review] Alice: my handle is alice#1")
	s.NotContains(s.host.Inbox(s.carol.ID), "[Review] Alice: my handle is alice#1")

	s.clock.Advance(5*time.Minute + time.Second)
	bans := s.workflow.ExpireTimedOut(s.ctx)
	s.Require().Len(bans, 1)
	s.WithinDuration(s.clock.Now().Add(7*models.Day), bans[0].ExpiresAt, time.Millisecond)
	s.False(s.workflow.IsUnderReview(s.alice.ID))

	reason, ok := s.host.DisconnectReason(s.alice.ID)
	s.Require().True(ok)
	s.Equal("You were banned for 7d because your review timed out.", reason)

	denied := s.service.OnConnect(s.ctx, s.alice.ID, "10.0.0.1")
	s.False(denied.Allowed)
	s.Equal("You are banned. Time left: 7d 0h 0m", denied.Reason)
}

func (s *ServiceSuite) TestCheckTwice() {
	s.run("check Alice")
	s.run("check alice")
	s.Equal("Alice is already under review.", s.lastConsoleLine())
}

func (s *ServiceSuite) TestCheckAddTimeAndRevise() {
	s.run("checkaddtime Alice")
	s.Equal("Alice is not under review.", s.lastConsoleLine())

	s.run("check Alice")
	s.run("checkaddtime Alice")
	s.Equal("Review of Alice extended by 5m.", s.lastConsoleLine())
	remaining, ok := s.workflow.RemainingForDisplay(s.alice.ID)
	s.Require().True(ok)
	s.Equal(10*time.Minute, remaining)

	s.run("checkrevise Alice")
	s.Equal("Alice was cleared.", s.lastConsoleLine())
	s.False(s.workflow.IsUnderReview(s.alice.ID))
	s.False(s.host.HasOverlay(s.alice.ID))
	s.Contains(s.host.Inbox(s.alice.ID), "You have been cleared and released from review.")
}

func (s *ServiceSuite) TestCheckBanVariants() {
	s.run("check Alice")
	s.run("checkban Alice")
	s.Equal("Alice banned for 7d after review.", s.lastConsoleLine())
	reason, _ := s.host.DisconnectReason(s.alice.ID)
	s.Equal("You are banned for 7d after review.", reason)
	remaining, ok := s.ledger.Remaining(s.ctx, s.alice.ID, models.KindBan)
	s.Require().True(ok)
	s.Equal(7*models.Day, remaining)

	s.run("check Carol")
	s.run("checkbanpriz Carol")
	s.Equal("Carol banned for 4d after review.", s.lastConsoleLine())
	remaining, ok = s.ledger.Remaining(s.ctx, s.carol.ID, models.KindBan)
	s.Require().True(ok)
	s.Equal(4*models.Day, remaining)
}

func (s *ServiceSuite) TestCommandDenylist() {
	s.runAs(s.bob, "check Alice")

	s.True(s.service.OnCommand(s.ctx, s.alice.ID, "/tp 0 64 0"))
	s.Contains(s.host.Inbox(s.alice.ID), "You cannot use that command during a review.")
	s.True(s.service.OnCommand(s.ctx, s.bob.ID, "/HOME"))
	s.False(s.service.OnCommand(s.ctx, s.alice.ID, "/spawn"))
	s.False(s.service.OnCommand(s.ctx, s.carol.ID, "/tp 0 64 0"))
	s.False(s.service.OnCommand(s.ctx, s.alice.ID, "   "))

	s.run("checkrevise Alice")
	s.False(s.service.OnCommand(s.ctx, s.bob.ID, "/home"))
}

func (s *ServiceSuite) TestCheckChat() {
	s.run("checkchat Alice hello")
	s.Equal("Alice is not under review.", s.lastConsoleLine())

	s.run("check Alice")
	s.run("checkchat Alice please share your handle")
	want := "[Review] console: please share your handle"
	s.Equal(want, s.lastConsoleLine())
	s.Contains(s.host.Inbox(s.alice.ID), want)
	s.Contains(s.host.Inbox(s.bob.ID), want)
	s.NotContains(s.host.Inbox(s.carol.ID), want)

	s.runAs(s.bob, "checkchat Alice still there?")
	s.Equal(1, countOf(s.host.Inbox(s.bob.ID), "[Review] Bob: still there?"))
}

func (s *ServiceSuite) TestDupeIP() {
	mallory := s.join("Mallory", "10.0.0.1")
	s.ledger.Impose(s.ctx, mallory.ID, models.KindBan, time.Hour)

	s.run("dupeip Alice")
	lines := s.consoleLines()
	s.Require().Len(lines, 3)
	s.Equal("Players on 10.0.0.1:", lines[0])
	s.ElementsMatch([]string{" - Alice", " - [banned] Mallory"}, lines[1:])
}

func (s *ServiceSuite) TestSideChannel() {
	s.run("chat")
	s.Equal("Only players can use this command.", s.lastConsoleLine())

	s.runAs(s.carol, "chat")
	last, _ := s.host.LastMessage(s.carol.ID)
	s.Equal("You do not have permission to do that.", last)

	s.host.Grant(s.carol.ID, "warden.chat")
	s.runAs(s.carol, "chat")
	last, _ = s.host.LastMessage(s.carol.ID)
	s.Equal("Side chat enabled. Your messages now go to the side channel.", last)

	decision := s.service.OnMessage(s.ctx, s.carol.ID, "anyone around?")
	s.Equal(MessageDecision{Cancel: true, Channel: ChannelSide}, decision)
	s.Contains(s.host.Inbox(s.bob.ID), "[Side] Carol: anyone around?")
	s.NotContains(s.host.Inbox(s.alice.ID), "[Side] Carol: anyone around?")

	s.runAs(s.bob, "chat meeting at spawn")
	s.Contains(s.host.Inbox(s.carol.ID), "[Side] Bob: meeting at spawn")

	s.runAs(s.carol, "CHAT")
	last, _ = s.host.LastMessage(s.carol.ID)
	s.Equal("Side chat disabled.", last)
	s.False(s.service.OnMessage(s.ctx, s.carol.ID, "back").Cancel)
}

func (s *ServiceSuite) TestHelp() {
	s.run("help")
	lines := s.consoleLines()
	s.Equal("Moderation commands:", lines[0])
	s.Equal(DefaultLines()[linesHelpCommands], lines[1:])
}

func (s *ServiceSuite) TestConfiguredTemplates() {
	svc := s.newService(s.host, WithTemplates(templates.New(
		map[string]string{msgPlayerNotFound: "who is %player%?"},
		map[string][]string{linesHelpCommands: {"just ask"}},
	)))
	s.Require().NoError(svc.Execute(s.ctx, s.console, []string{"kick", "Zed"}))
	s.Equal("who is Zed?", s.lastConsoleLine())
	s.Require().NoError(svc.Execute(s.ctx, s.console, []string{"help"}))
	s.Equal("just ask", s.lastConsoleLine())
}

func (s *ServiceSuite) TestSessionFailure() {
	ctrl := gomock.NewController(s.T())
	sessions := mocks.NewMockSessions(ctrl)
	sessions.EXPECT().Sideline(gomock.Any(), s.alice.ID).Return(errors.New("host gone"))

	svc := s.newService(sessions)
	err := svc.Execute(s.ctx, s.console, []string{"kick", "Alice"})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.Commands.WithLabelValues("kick", outcomeError)))
}

func (s *ServiceSuite) TestAuditEvents() {
	ctrl := gomock.NewController(s.T())
	publisher := mocks.NewMockAuditPublisher(ctrl)

	var events []audit.Event
	publisher.EXPECT().Emit(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, event audit.Event) error {
		events = append(events, event)
		return nil
	}).Times(2)

	svc := s.newService(s.host, WithAuditPublisher(publisher))
	s.Require().NoError(svc.Execute(s.ctx, s.console, []string{"mute", "Alice", "spam", "5m"}))
	s.Require().NoError(svc.Execute(s.ctx, s.console, []string{"ban", "Carol", "1h"}))

	s.Require().Len(events, 2)
	s.Equal(string(audit.EventMuteImposed), events[0].Action)
	s.Equal(s.alice.ID, events[0].Subject)
	s.Equal("Alice", events[0].SubjectName)
	s.Equal(presence.ConsoleName, events[0].ActorName)
	s.Equal(5*time.Minute, events[0].Duration)
	s.Equal("spam", events[0].Reason)
	s.NotEmpty(events[0].RequestID)
	s.NotEqual(events[0].RequestID, events[1].RequestID)

	s.Equal(string(audit.EventBanImposed), events[1].Action)
	s.Equal("unspecified", events[1].Reason)
}

func TestRestrictionArgs(t *testing.T) {
	s := &Service{templates: templates.New(nil, nil)}

	tests := []struct {
		name     string
		args     []string
		reason   string
		duration time.Duration
		wantErr  bool
	}{
		{name: "single word", args: []string{"mute", "a", "spam", "30s"}, reason: "spam", duration: 30 * time.Second},
		{name: "several words", args: []string{"ban", "a", "x", "ray", "use", "4d"}, reason: "x ray use", duration: 4 * models.Day},
		{name: "no reason", args: []string{"mute", "a", "1h"}, reason: "unspecified", duration: time.Hour},
		{name: "bad duration", args: []string{"mute", "a", "spam", "soon"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, d, err := s.restrictionArgs(tt.args)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.IsUserError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.duration, d)
		})
	}
}

func countOf(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}
