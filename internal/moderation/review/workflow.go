// Package review tracks subjects held for supervised review and converts
// unresolved reviews into bans.
//
// Lock order is workflow then ledger: escalation imposes the ban while the
// workflow lock is held and deletes the review in the same critical section,
// so no reader that takes the workflow lock sees a subject both under review
// and banned by that review, or neither.
package review

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"warden/internal/moderation/ledger"
	"warden/internal/moderation/metrics"
	"warden/internal/moderation/models"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

// Listener observes review lifecycle changes. Calls happen after the
// workflow lock is released.
type Listener interface {
	ReviewStarted(ctx context.Context, review models.Review)
	ReviewCleared(ctx context.Context, review models.Review)
	ReviewEscalated(ctx context.Context, review models.Review, ban models.Restriction, cause models.EscalationCause)
}

type Workflow struct {
	ledger     *ledger.Ledger
	logger     *slog.Logger
	metrics    *metrics.Metrics
	clock      func() time.Time
	timeoutBan time.Duration

	mu          sync.Mutex
	reviews     map[id.SubjectID]models.Review
	supervising map[id.SubjectID]map[id.SubjectID]struct{}
	listener    Listener
}

type Option func(*Workflow)

func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

// WithClock overrides the time source. Defaults to the ledger's clock.
func WithClock(clock func() time.Time) Option {
	return func(w *Workflow) {
		if clock != nil {
			w.clock = clock
		}
	}
}

// WithTimeoutBan sets the ban imposed when a review times out.
func WithTimeoutBan(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.timeoutBan = d
		}
	}
}

func WithListener(listener Listener) Option {
	return func(w *Workflow) {
		w.listener = listener
	}
}

func New(l *ledger.Ledger, opts ...Option) (*Workflow, error) {
	if l == nil {
		return nil, errors.New("restriction ledger is required")
	}
	w := &Workflow{
		ledger:      l,
		logger:      slog.New(slog.DiscardHandler),
		clock:       l.Now,
		timeoutBan:  7 * models.Day,
		reviews:     make(map[id.SubjectID]models.Review),
		supervising: make(map[id.SubjectID]map[id.SubjectID]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// SetListener registers the listener after construction.
func (w *Workflow) SetListener(listener Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listener = listener
}

// Enter puts subject under review for d. supervisor may be nil when the
// review was started from the console.
func (w *Workflow) Enter(ctx context.Context, subject id.SubjectID, supervisor *id.SubjectID, d time.Duration) (models.Review, error) {
	now := w.clock()

	w.mu.Lock()
	if _, exists := w.reviews[subject]; exists {
		w.mu.Unlock()
		return models.Review{}, dErrors.New(dErrors.CodeConflict, "subject is already under review")
	}
	review := models.Review{
		Subject:   subject,
		StartedAt: now,
		ExpiresAt: models.ExpiryAt(now, d),
		Status:    models.ReviewActive,
	}
	if supervisor != nil && !supervisor.IsNil() {
		sup := *supervisor
		review.Supervisor = &sup
		w.indexLocked(sup, subject)
	}
	w.reviews[subject] = review
	active := len(w.reviews)
	listener := w.listener
	w.mu.Unlock()

	w.metrics.IncrementReviewsStarted()
	w.metrics.SetReviewsActive(active)
	if listener != nil {
		listener.ReviewStarted(ctx, cloneReview(review))
	}
	return cloneReview(review), nil
}

// Extend pushes the review's expiry out by d.
func (w *Workflow) Extend(_ context.Context, subject id.SubjectID, d time.Duration) (models.Review, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	review, ok := w.reviews[subject]
	if !ok {
		return models.Review{}, dErrors.New(dErrors.CodeNotFound, "subject is not under review")
	}
	review.ExpiresAt = review.ExpiresAt.Add(d)
	w.reviews[subject] = review
	return cloneReview(review), nil
}

// Clear ends the review without consequence.
func (w *Workflow) Clear(ctx context.Context, subject id.SubjectID) error {
	w.mu.Lock()
	review, ok := w.reviews[subject]
	if !ok {
		w.mu.Unlock()
		return dErrors.New(dErrors.CodeNotFound, "subject is not under review")
	}
	w.removeLocked(review)
	active := len(w.reviews)
	listener := w.listener
	w.mu.Unlock()

	w.metrics.SetReviewsActive(active)
	if listener != nil {
		listener.ReviewCleared(ctx, review)
	}
	return nil
}

// EscalateToBan ends the review and bans the subject for banDuration.
func (w *Workflow) EscalateToBan(ctx context.Context, subject id.SubjectID, banDuration time.Duration, cause models.EscalationCause) (models.Restriction, error) {
	w.mu.Lock()
	review, ok := w.reviews[subject]
	if !ok {
		w.mu.Unlock()
		return models.Restriction{}, dErrors.New(dErrors.CodeNotFound, "subject is not under review")
	}
	ban, persist := w.ledger.ImposeDeferred(ctx, subject, models.KindBan, banDuration)
	w.removeLocked(review)
	active := len(w.reviews)
	listener := w.listener
	w.mu.Unlock()

	persist()
	w.metrics.IncrementEscalated(string(cause))
	w.metrics.SetReviewsActive(active)
	if listener != nil {
		listener.ReviewEscalated(ctx, review, ban, cause)
	}
	return ban, nil
}

// ExpireTimedOut escalates every review whose timer has elapsed and returns
// the bans in force afterwards. A longer ban already in place is kept.
func (w *Workflow) ExpireTimedOut(ctx context.Context) []models.Restriction {
	now := w.clock()

	w.mu.Lock()
	var (
		expired  []models.Review
		bans     []models.Restriction
		persists []ledger.PersistFunc
	)
	for _, review := range w.reviews {
		if !review.IsExpiredAt(now) {
			continue
		}
		ban, persist := w.ledger.ImposeAtLeastDeferred(ctx, review.Subject, models.KindBan, w.timeoutBan)
		w.removeLocked(review)
		expired = append(expired, review)
		bans = append(bans, ban)
		persists = append(persists, persist)
	}
	active := len(w.reviews)
	listener := w.listener
	w.mu.Unlock()

	if len(expired) == 0 {
		return nil
	}
	// The newest snapshot contains every ban above; older ones are skipped.
	for _, persist := range slices.Backward(persists) {
		persist()
	}
	w.metrics.SetReviewsActive(active)
	for i, review := range expired {
		w.metrics.IncrementEscalated(string(models.CauseTimeout))
		w.logger.InfoContext(ctx, "review timed out", "subject", review.Subject, "ban_until", bans[i].ExpiresAt)
		if listener != nil {
			listener.ReviewEscalated(ctx, review, bans[i], models.CauseTimeout)
		}
	}
	return bans
}

// Get returns a copy of subject's review.
func (w *Workflow) Get(subject id.SubjectID) (models.Review, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	review, ok := w.reviews[subject]
	if !ok {
		return models.Review{}, false
	}
	return cloneReview(review), true
}

func (w *Workflow) IsUnderReview(subject id.SubjectID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.reviews[subject]
	return ok
}

// SupervisorOf returns who started subject's review, if anyone.
func (w *Workflow) SupervisorOf(subject id.SubjectID) (id.SubjectID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	review, ok := w.reviews[subject]
	if !ok || !review.HasSupervisor() {
		return id.SubjectID{}, false
	}
	return *review.Supervisor, true
}

// IsSupervising reports whether supervisor started any active review.
func (w *Workflow) IsSupervising(ctx context.Context, supervisor id.SubjectID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.supervisedLocked(ctx, supervisor)) > 0
}

// Supervised lists the subjects whose reviews supervisor started.
func (w *Workflow) Supervised(ctx context.Context, supervisor id.SubjectID) []id.SubjectID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.supervisedLocked(ctx, supervisor)
}

// RemainingForDisplay returns the time left on subject's review.
func (w *Workflow) RemainingForDisplay(subject id.SubjectID) (time.Duration, bool) {
	now := w.clock()
	w.mu.Lock()
	defer w.mu.Unlock()
	review, ok := w.reviews[subject]
	if !ok {
		return 0, false
	}
	return review.RemainingAt(now), true
}

// Active returns every review ordered by start time.
func (w *Workflow) Active() []models.Review {
	w.mu.Lock()
	out := make([]models.Review, 0, len(w.reviews))
	for _, review := range w.reviews {
		out = append(out, cloneReview(review))
	}
	w.mu.Unlock()

	slices.SortFunc(out, func(a, b models.Review) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return compareSubjects(a.Subject, b.Subject)
	})
	return out
}

// Status returns the review and restriction state of subject as one view,
// consistent with escalation. Tables healed by the read are written after the
// workflow lock is released.
func (w *Workflow) Status(ctx context.Context, subject id.SubjectID) models.SubjectStatus {
	w.mu.Lock()
	status := models.SubjectStatus{Subject: subject}
	if review, ok := w.reviews[subject]; ok {
		r := cloneReview(review)
		status.Review = &r
	}
	mute, muted, persistMutes := w.ledger.GetDeferred(ctx, subject, models.KindMute)
	ban, banned, persistBans := w.ledger.GetDeferred(ctx, subject, models.KindBan)
	w.mu.Unlock()

	persistMutes()
	persistBans()
	if muted {
		status.Mute = &mute
	}
	if banned {
		status.Ban = &ban
	}
	return status
}

func (w *Workflow) indexLocked(supervisor, subject id.SubjectID) {
	set, ok := w.supervising[supervisor]
	if !ok {
		set = make(map[id.SubjectID]struct{})
		w.supervising[supervisor] = set
	}
	set[subject] = struct{}{}
}

func (w *Workflow) removeLocked(review models.Review) {
	delete(w.reviews, review.Subject)
	if !review.HasSupervisor() {
		return
	}
	sup := *review.Supervisor
	if set, ok := w.supervising[sup]; ok {
		delete(set, review.Subject)
		if len(set) == 0 {
			delete(w.supervising, sup)
		}
	}
}

// supervisedLocked returns the index entries for supervisor, dropping any
// that no longer match a live review.
func (w *Workflow) supervisedLocked(ctx context.Context, supervisor id.SubjectID) []id.SubjectID {
	set := w.supervising[supervisor]
	out := make([]id.SubjectID, 0, len(set))
	for subject := range set {
		review, ok := w.reviews[subject]
		if !ok || !review.HasSupervisor() || *review.Supervisor != supervisor {
			delete(set, subject)
			w.logger.WarnContext(ctx, "dropped dangling supervisor index entry",
				"supervisor", supervisor,
				"subject", subject,
				"code", dErrors.CodeInvariantViolation,
			)
			continue
		}
		out = append(out, subject)
	}
	if len(set) == 0 {
		delete(w.supervising, supervisor)
	}
	slices.SortFunc(out, compareSubjects)
	return out
}

func cloneReview(review models.Review) models.Review {
	if review.Supervisor != nil {
		sup := *review.Supervisor
		review.Supervisor = &sup
	}
	return review
}

func compareSubjects(a, b id.SubjectID) int {
	switch as, bs := a.String(), b.String(); {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}
