package review

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"warden/internal/moderation/ledger"
	"warden/internal/moderation/models"
	"warden/internal/moderation/store/memory"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/testutil"
)

type escalation struct {
	review models.Review
	ban    models.Restriction
	cause  models.EscalationCause
}

type recordingListener struct {
	mu        sync.Mutex
	started   []models.Review
	cleared   []models.Review
	escalated []escalation
}

func (l *recordingListener) ReviewStarted(_ context.Context, review models.Review) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, review)
}

func (l *recordingListener) ReviewCleared(_ context.Context, review models.Review) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleared = append(l.cleared, review)
}

func (l *recordingListener) ReviewEscalated(_ context.Context, review models.Review, ban models.Restriction, cause models.EscalationCause) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.escalated = append(l.escalated, escalation{review: review, ban: ban, cause: cause})
}

// gatedStore holds every Save until release is closed once entered is set.
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) Save(ctx context.Context, kind models.Kind, entries map[id.SubjectID]time.Time) error {
	if g.entered != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.release
	}
	return g.Store.Save(ctx, kind, entries)
}

type WorkflowSuite struct {
	suite.Suite
	ctx        context.Context
	clock      *testutil.Clock
	store      *memory.Store
	ledger     *ledger.Ledger
	logs       *bytes.Buffer
	listener   *recordingListener
	workflow   *Workflow
	supervisor id.SubjectID
}

func TestWorkflowSuite(t *testing.T) {
	suite.Run(t, new(WorkflowSuite))
}

func (s *WorkflowSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = testutil.NewClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	s.store = memory.New()

	l, err := ledger.New(s.store, ledger.WithClock(s.clock.Now))
	s.Require().NoError(err)
	s.ledger = l

	s.logs = &bytes.Buffer{}
	s.listener = &recordingListener{}
	w, err := New(l,
		WithListener(s.listener),
		WithLogger(slog.New(slog.NewTextHandler(s.logs, nil))),
	)
	s.Require().NoError(err)
	s.workflow = w
	s.supervisor = id.NewSubjectID()
}

func (s *WorkflowSuite) TestNew_RequiresLedger() {
	_, err := New(nil)
	s.Error(err)
}

func (s *WorkflowSuite) TestEnter() {
	subject := id.NewSubjectID()

	review, err := s.workflow.Enter(s.ctx, subject, &s.supervisor, 5*time.Minute)
	s.Require().NoError(err)
	s.Equal(models.ReviewActive, review.Status)
	s.WithinDuration(s.clock.Now().Add(5*time.Minute), review.ExpiresAt, 0)

	s.True(s.workflow.IsUnderReview(subject))
	s.True(s.workflow.IsSupervising(s.ctx, s.supervisor))
	sup, ok := s.workflow.SupervisorOf(subject)
	s.True(ok)
	s.Equal(s.supervisor, sup)
	s.Len(s.listener.started, 1)

	s.Run("entering twice conflicts", func() {
		_, err := s.workflow.Enter(s.ctx, subject, nil, time.Minute)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Len(s.listener.started, 1)
	})

	s.Run("console review has no supervisor", func() {
		other := id.NewSubjectID()
		_, err := s.workflow.Enter(s.ctx, other, nil, time.Minute)
		s.Require().NoError(err)
		_, ok := s.workflow.SupervisorOf(other)
		s.False(ok)
	})
}

func (s *WorkflowSuite) TestExtend() {
	subject := id.NewSubjectID()
	_, err := s.workflow.Enter(s.ctx, subject, &s.supervisor, 5*time.Minute)
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Minute)
	before, _ := s.workflow.RemainingForDisplay(subject)

	_, err = s.workflow.Extend(s.ctx, subject, 5*time.Minute)
	s.Require().NoError(err)

	after, ok := s.workflow.RemainingForDisplay(subject)
	s.True(ok)
	s.Equal(before+5*time.Minute, after)
	s.Equal(8*time.Minute, after)

	s.Run("absent subject", func() {
		_, err := s.workflow.Extend(s.ctx, id.NewSubjectID(), time.Minute)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *WorkflowSuite) TestClear() {
	subject := id.NewSubjectID()
	_, err := s.workflow.Enter(s.ctx, subject, &s.supervisor, 5*time.Minute)
	s.Require().NoError(err)

	s.Require().NoError(s.workflow.Clear(s.ctx, subject))

	s.False(s.workflow.IsUnderReview(subject))
	s.False(s.workflow.IsSupervising(s.ctx, s.supervisor))
	s.Empty(s.workflow.Supervised(s.ctx, s.supervisor))
	s.False(s.ledger.IsActive(s.ctx, subject, models.KindBan))
	s.Len(s.listener.cleared, 1)

	err = s.workflow.Clear(s.ctx, subject)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *WorkflowSuite) TestSupervisorIndexTracksEverySubject() {
	first, second := id.NewSubjectID(), id.NewSubjectID()
	_, err := s.workflow.Enter(s.ctx, first, &s.supervisor, time.Minute)
	s.Require().NoError(err)
	_, err = s.workflow.Enter(s.ctx, second, &s.supervisor, time.Minute)
	s.Require().NoError(err)

	s.ElementsMatch([]id.SubjectID{first, second}, s.workflow.Supervised(s.ctx, s.supervisor))

	s.Require().NoError(s.workflow.Clear(s.ctx, first))
	s.True(s.workflow.IsSupervising(s.ctx, s.supervisor))
	s.Equal([]id.SubjectID{second}, s.workflow.Supervised(s.ctx, s.supervisor))
}

func (s *WorkflowSuite) TestDanglingIndexEntryIsDropped() {
	ghost := id.NewSubjectID()
	s.workflow.mu.Lock()
	s.workflow.indexLocked(s.supervisor, ghost)
	s.workflow.mu.Unlock()

	s.False(s.workflow.IsSupervising(s.ctx, s.supervisor))
	s.Contains(s.logs.String(), "dropped dangling supervisor index entry")

	s.workflow.mu.Lock()
	_, stillIndexed := s.workflow.supervising[s.supervisor]
	s.workflow.mu.Unlock()
	s.False(stillIndexed)
}

func (s *WorkflowSuite) TestEscalateToBan() {
	subject := id.NewSubjectID()
	_, err := s.workflow.Enter(s.ctx, subject, &s.supervisor, 5*time.Minute)
	s.Require().NoError(err)

	ban, err := s.workflow.EscalateToBan(s.ctx, subject, 4*models.Day, models.CauseManualReduced)
	s.Require().NoError(err)
	s.WithinDuration(s.clock.Now().Add(4*models.Day), ban.ExpiresAt, 0)

	s.False(s.workflow.IsUnderReview(subject))
	s.False(s.workflow.IsSupervising(s.ctx, s.supervisor))
	remaining, ok := s.ledger.Remaining(s.ctx, subject, models.KindBan)
	s.True(ok)
	s.Equal(4*models.Day, remaining)
	s.Contains(s.store.Table(models.KindBan), subject)

	s.Require().Len(s.listener.escalated, 1)
	s.Equal(models.CauseManualReduced, s.listener.escalated[0].cause)

	_, err = s.workflow.EscalateToBan(s.ctx, subject, models.Day, models.CauseManual)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *WorkflowSuite) TestTimeoutEscalatesToSevenDayBan() {
	subject := id.NewSubjectID()
	bystander := id.NewSubjectID()
	_, err := s.workflow.Enter(s.ctx, subject, &s.supervisor, 5*time.Minute)
	s.Require().NoError(err)
	_, err = s.workflow.Enter(s.ctx, bystander, nil, time.Hour)
	s.Require().NoError(err)

	s.clock.Advance(4 * time.Minute)
	s.Nil(s.workflow.ExpireTimedOut(s.ctx))
	s.True(s.workflow.IsUnderReview(subject))

	s.clock.Advance(time.Minute)
	bans := s.workflow.ExpireTimedOut(s.ctx)
	s.Require().Len(bans, 1)
	s.Equal(subject, bans[0].Subject)

	remaining, ok := s.ledger.Remaining(s.ctx, subject, models.KindBan)
	s.True(ok)
	s.Equal(7*models.Day, remaining)
	s.False(s.workflow.IsUnderReview(subject))
	s.True(s.workflow.IsUnderReview(bystander))
	s.Len(s.workflow.Active(), 1)

	s.Require().Len(s.listener.escalated, 1)
	s.Equal(models.CauseTimeout, s.listener.escalated[0].cause)
}

func (s *WorkflowSuite) TestTimeoutBatchPersistsEveryBan() {
	subjects := []id.SubjectID{id.NewSubjectID(), id.NewSubjectID(), id.NewSubjectID()}
	for _, subject := range subjects {
		_, err := s.workflow.Enter(s.ctx, subject, nil, time.Minute)
		s.Require().NoError(err)
	}
	s.clock.Advance(time.Minute)

	s.Len(s.workflow.ExpireTimedOut(s.ctx), 3)

	table := s.store.Table(models.KindBan)
	for _, subject := range subjects {
		s.Contains(table, subject)
	}
	s.Equal(1, s.store.Saves(models.KindBan))
}

func (s *WorkflowSuite) TestStatus() {
	subject := id.NewSubjectID()
	s.ledger.Impose(s.ctx, subject, models.KindMute, time.Hour)
	_, err := s.workflow.Enter(s.ctx, subject, &s.supervisor, 5*time.Minute)
	s.Require().NoError(err)

	status := s.workflow.Status(s.ctx, subject)
	s.True(status.IsMuted())
	s.True(status.IsUnderReview())
	s.False(status.IsBanned())

	_, err = s.workflow.EscalateToBan(s.ctx, subject, 7*models.Day, models.CauseManual)
	s.Require().NoError(err)

	status = s.workflow.Status(s.ctx, subject)
	s.True(status.IsBanned())
	s.False(status.IsUnderReview())
}

func (s *WorkflowSuite) TestStatusNeverSeesBothOrNeither() {
	subject := id.NewSubjectID()
	_, err := s.workflow.Enter(s.ctx, subject, nil, time.Minute)
	s.Require().NoError(err)
	s.clock.Advance(time.Minute)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.workflow.ExpireTimedOut(s.ctx)
	}()

	for {
		status := s.workflow.Status(s.ctx, subject)
		s.Require().NotEqual(status.IsUnderReview(), status.IsBanned(), "review and ban must be mutually exclusive")
		if status.IsBanned() {
			break
		}
	}
	<-done
}

func (s *WorkflowSuite) TestStatusWritesHealedTablesOutsideLock() {
	store := &gatedStore{Store: memory.New()}
	l, err := ledger.New(store, ledger.WithClock(s.clock.Now))
	s.Require().NoError(err)
	w, err := New(l)
	s.Require().NoError(err)

	subject, other := id.NewSubjectID(), id.NewSubjectID()
	l.Impose(s.ctx, subject, models.KindMute, time.Minute)
	_, err = w.Enter(s.ctx, other, nil, time.Hour)
	s.Require().NoError(err)
	s.clock.Advance(2 * time.Minute)

	store.entered = make(chan struct{}, 1)
	store.release = make(chan struct{})
	statuses := make(chan models.SubjectStatus, 1)
	go func() {
		statuses <- w.Status(s.ctx, subject)
	}()

	select {
	case <-store.entered:
	case <-time.After(5 * time.Second):
		close(store.release)
		s.FailNow("status never wrote the healed mute table")
	}

	underReview := make(chan bool, 1)
	go func() {
		underReview <- w.IsUnderReview(other)
	}()
	select {
	case ok := <-underReview:
		s.True(ok)
	case <-time.After(time.Second):
		s.Fail("IsUnderReview waited on a store write")
	}

	close(store.release)
	status := <-statuses
	s.False(status.IsMuted())
	s.NotContains(store.Table(models.KindMute), subject)
}

func (s *WorkflowSuite) TestTimeoutKeepsLongerBan() {
	subject := id.NewSubjectID()
	_, err := s.workflow.Enter(s.ctx, subject, nil, 5*time.Minute)
	s.Require().NoError(err)
	manual := s.ledger.Impose(s.ctx, subject, models.KindBan, 30*models.Day)

	s.clock.Advance(5*time.Minute + time.Second)
	bans := s.workflow.ExpireTimedOut(s.ctx)
	s.Require().Len(bans, 1)
	s.Equal(manual.ExpiresAt, bans[0].ExpiresAt)
	s.False(s.workflow.IsUnderReview(subject))

	remaining, ok := s.ledger.Remaining(s.ctx, subject, models.KindBan)
	s.Require().True(ok)
	s.Equal(30*models.Day-5*time.Minute-time.Second, remaining)
	s.Equal(manual.ExpiresAt, s.store.Table(models.KindBan)[subject])
}

func (s *WorkflowSuite) TestTimeoutExtendsShorterBan() {
	subject := id.NewSubjectID()
	_, err := s.workflow.Enter(s.ctx, subject, nil, 5*time.Minute)
	s.Require().NoError(err)
	s.ledger.Impose(s.ctx, subject, models.KindBan, time.Hour)

	s.clock.Advance(5 * time.Minute)
	s.Require().Len(s.workflow.ExpireTimedOut(s.ctx), 1)

	remaining, ok := s.ledger.Remaining(s.ctx, subject, models.KindBan)
	s.Require().True(ok)
	s.Equal(7*models.Day, remaining)
}

func (s *WorkflowSuite) TestActiveOrderedByStart() {
	first, second := id.NewSubjectID(), id.NewSubjectID()
	_, err := s.workflow.Enter(s.ctx, second, nil, time.Hour)
	s.Require().NoError(err)
	s.clock.Advance(time.Second)
	_, err = s.workflow.Enter(s.ctx, first, nil, time.Hour)
	s.Require().NoError(err)

	active := s.workflow.Active()
	s.Require().Len(active, 2)
	s.Equal(second, active[0].Subject)
	s.Equal(first, active[1].Subject)
}

func TestWorkflow_ExtendBeforeTimeout(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	l, err := ledger.New(memory.New(), ledger.WithClock(clock.Now))
	require.NoError(t, err)
	w, err := New(l, WithClock(clock.Now))
	require.NoError(t, err)
	subject := id.NewSubjectID()

	testutil.Given(t, "a five minute review", func(t *testing.T) {
		_, err := w.Enter(ctx, subject, nil, 5*time.Minute)
		require.NoError(t, err)

		testutil.When(t, "it is extended by five minutes and six minutes pass", func(t *testing.T) {
			_, err := w.Extend(ctx, subject, 5*time.Minute)
			require.NoError(t, err)
			clock.Advance(6 * time.Minute)

			testutil.Then(t, "the sweep leaves the subject under review", func(t *testing.T) {
				require.Empty(t, w.ExpireTimedOut(ctx))
				require.True(t, w.IsUnderReview(subject))
			})
		})

		testutil.When(t, "the extended deadline passes", func(t *testing.T) {
			clock.Advance(5 * time.Minute)

			testutil.Then(t, "the subject is banned", func(t *testing.T) {
				require.Len(t, w.ExpireTimedOut(ctx), 1)
				require.False(t, w.IsUnderReview(subject))
				require.True(t, l.IsActive(ctx, subject, models.KindBan))
			})
		})
	})
}
