// Package ledger holds the timed mute and ban tables and the last-seen
// address of every subject. All state lives behind one lock; persistence
// happens outside it.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"warden/internal/moderation/metrics"
	"warden/internal/moderation/models"
	"warden/internal/moderation/ports"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
)

// ExpiryListener is told about every record a sweep removes. It is called
// after the ledger lock is released.
type ExpiryListener interface {
	RestrictionExpired(ctx context.Context, restriction models.Restriction)
}

// PersistFunc writes a snapshot taken earlier. Calling it more than once, or
// after a newer snapshot was written, is harmless.
type PersistFunc func()

// writer serializes saves of one kind. Generations only increase, so a
// snapshot older than the last one written is dropped instead of saved.
type writer struct {
	mu      sync.Mutex
	written uint64
}

type Ledger struct {
	store   ports.RestrictionStore
	logger  *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time

	mu         sync.RWMutex
	records    map[models.Kind]map[id.SubjectID]time.Time
	generation map[models.Kind]uint64
	addresses  map[id.SubjectID]string
	listener   ExpiryListener

	writers map[models.Kind]*writer
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithClock sets the time source shared with the review workflow.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func WithExpiryListener(listener ExpiryListener) Option {
	return func(l *Ledger) {
		l.listener = listener
	}
}

func New(store ports.RestrictionStore, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("restriction store is required")
	}
	l := &Ledger{
		store:      store,
		logger:     slog.New(slog.DiscardHandler),
		clock:      time.Now,
		records:    make(map[models.Kind]map[id.SubjectID]time.Time),
		generation: make(map[models.Kind]uint64),
		addresses:  make(map[id.SubjectID]string),
		writers:    make(map[models.Kind]*writer),
	}
	for _, kind := range models.Kinds() {
		l.records[kind] = make(map[id.SubjectID]time.Time)
		l.writers[kind] = &writer{}
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// SetExpiryListener registers the listener after construction, for
// components that themselves depend on the ledger.
func (l *Ledger) SetExpiryListener(listener ExpiryListener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listener = listener
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.clock()
}

// Get returns the active record for (subject, kind). An expired record found
// here is removed and the table persisted.
func (l *Ledger) Get(ctx context.Context, subject id.SubjectID, kind models.Kind) (models.Restriction, bool) {
	record, ok, persist := l.GetDeferred(ctx, subject, kind)
	persist()
	return record, ok
}

// GetDeferred is Get with the write of a healed table split off, for callers
// reading under their own lock.
func (l *Ledger) GetDeferred(ctx context.Context, subject id.SubjectID, kind models.Kind) (models.Restriction, bool, PersistFunc) {
	now := l.clock()
	noop := PersistFunc(func() {})

	l.mu.RLock()
	expiresAt, ok := l.records[kind][subject]
	l.mu.RUnlock()
	if !ok {
		return models.Restriction{}, false, noop
	}
	record := models.Restriction{Subject: subject, Kind: kind, ExpiresAt: expiresAt}
	if record.IsActiveAt(now) {
		return record, true, noop
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	current, still := l.records[kind][subject]
	if !still {
		return models.Restriction{}, false, noop
	}
	if current.After(now) {
		// Replaced while unlocked.
		return models.Restriction{Subject: subject, Kind: kind, ExpiresAt: current}, true, noop
	}
	delete(l.records[kind], subject)
	return models.Restriction{}, false, l.snapshotLocked(ctx, kind)
}

// IsActive reports whether subject currently has an unexpired record of kind.
func (l *Ledger) IsActive(ctx context.Context, subject id.SubjectID, kind models.Kind) bool {
	_, ok := l.Get(ctx, subject, kind)
	return ok
}

// Impose creates or replaces the record for (subject, kind) with expiry
// now + d and persists the table.
func (l *Ledger) Impose(ctx context.Context, subject id.SubjectID, kind models.Kind, d time.Duration) models.Restriction {
	record, persist := l.ImposeDeferred(ctx, subject, kind, d)
	persist()
	return record
}

// ImposeDeferred is Impose with the write split off, for callers that hold
// their own lock while imposing and persist after releasing it.
func (l *Ledger) ImposeDeferred(ctx context.Context, subject id.SubjectID, kind models.Kind, d time.Duration) (models.Restriction, PersistFunc) {
	record := models.Restriction{
		Subject:   subject,
		Kind:      kind,
		ExpiresAt: models.ExpiryAt(l.clock(), d),
	}

	l.mu.Lock()
	l.records[kind][subject] = record.ExpiresAt
	persist := l.snapshotLocked(ctx, kind)
	l.mu.Unlock()

	l.metrics.IncrementImposed(kind.String())
	return record, persist
}

// ImposeAtLeastDeferred is ImposeDeferred except that a record already
// running past now + d is kept and returned with a no-op write.
func (l *Ledger) ImposeAtLeastDeferred(ctx context.Context, subject id.SubjectID, kind models.Kind, d time.Duration) (models.Restriction, PersistFunc) {
	record := models.Restriction{
		Subject:   subject,
		Kind:      kind,
		ExpiresAt: models.ExpiryAt(l.clock(), d),
	}

	l.mu.Lock()
	if current, ok := l.records[kind][subject]; ok && current.After(record.ExpiresAt) {
		l.mu.Unlock()
		record.ExpiresAt = current
		return record, func() {}
	}
	l.records[kind][subject] = record.ExpiresAt
	persist := l.snapshotLocked(ctx, kind)
	l.mu.Unlock()

	l.metrics.IncrementImposed(kind.String())
	return record, persist
}

// Revoke removes the record for (subject, kind) regardless of expiry and
// reports whether one existed. The table is persisted only when it changed.
func (l *Ledger) Revoke(ctx context.Context, subject id.SubjectID, kind models.Kind) bool {
	l.mu.Lock()
	if _, ok := l.records[kind][subject]; !ok {
		l.mu.Unlock()
		return false
	}
	delete(l.records[kind], subject)
	persist := l.snapshotLocked(ctx, kind)
	l.mu.Unlock()

	persist()
	l.metrics.IncrementRevoked(kind.String())
	return true
}

// Remaining returns the time left on an active record.
func (l *Ledger) Remaining(ctx context.Context, subject id.SubjectID, kind models.Kind) (time.Duration, bool) {
	record, ok := l.Get(ctx, subject, kind)
	if !ok {
		return 0, false
	}
	return record.RemainingAt(l.clock()), true
}

// RemainingHumanReadable renders the time left as "{d}d {h}h {m}m".
func (l *Ledger) RemainingHumanReadable(ctx context.Context, subject id.SubjectID, kind models.Kind) (string, bool) {
	remaining, ok := l.Remaining(ctx, subject, kind)
	if !ok {
		return "", false
	}
	return models.FormatRemaining(remaining), true
}

// Sweep removes every record of kind whose expiry has passed, persists once
// if anything was removed, and notifies the expiry listener per record.
func (l *Ledger) Sweep(ctx context.Context, kind models.Kind) []models.Restriction {
	now := l.clock()

	l.mu.Lock()
	var expired []models.Restriction
	for subject, expiresAt := range l.records[kind] {
		if !expiresAt.After(now) {
			expired = append(expired, models.Restriction{Subject: subject, Kind: kind, ExpiresAt: expiresAt})
			delete(l.records[kind], subject)
		}
	}
	if len(expired) == 0 {
		l.mu.Unlock()
		return nil
	}
	persist := l.snapshotLocked(ctx, kind)
	listener := l.listener
	l.mu.Unlock()

	persist()
	l.metrics.AddExpired(kind.String(), len(expired))

	slices.SortFunc(expired, func(a, b models.Restriction) int {
		return a.ExpiresAt.Compare(b.ExpiresAt)
	})
	if listener != nil {
		for _, record := range expired {
			listener.RestrictionExpired(ctx, record)
		}
	}
	return expired
}

// Snapshot returns a copy of every record of kind, expired or not, ordered
// by subject id.
func (l *Ledger) Snapshot(kind models.Kind) []models.Restriction {
	l.mu.RLock()
	out := make([]models.Restriction, 0, len(l.records[kind]))
	for subject, expiresAt := range l.records[kind] {
		out = append(out, models.Restriction{Subject: subject, Kind: kind, ExpiresAt: expiresAt})
	}
	l.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.Restriction) int {
		return compareSubjects(a.Subject, b.Subject)
	})
	return out
}

// RecordAddress remembers the address subject last connected from.
func (l *Ledger) RecordAddress(subject id.SubjectID, address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addresses[subject] = address
}

// AddressOf returns the last recorded address of subject.
func (l *Ledger) AddressOf(subject id.SubjectID) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	address, ok := l.addresses[subject]
	return address, ok
}

// Correlate returns every subject last seen at address, ordered by id.
func (l *Ledger) Correlate(address string) []id.SubjectID {
	l.mu.RLock()
	var out []id.SubjectID
	for subject, seen := range l.addresses {
		if seen == address {
			out = append(out, subject)
		}
	}
	l.mu.RUnlock()

	slices.SortFunc(out, compareSubjects)
	return out
}

// Load replaces the in-memory tables with the persisted ones, dropping
// records that already expired. A kind that fails to load starts empty.
func (l *Ledger) Load(ctx context.Context) error {
	now := l.clock()
	var errs []error

	for _, kind := range models.Kinds() {
		entries, err := l.store.Load(ctx, kind)
		if err != nil {
			l.logger.WarnContext(ctx, "failed to load restriction table", "kind", kind, "error", err)
			errs = append(errs, dErrors.Wrap(err, dErrors.CodeUnavailable, "load "+kind.String()+" table"))
			continue
		}

		if entries == nil {
			entries = make(map[id.SubjectID]time.Time)
		}
		dropped := 0
		for subject, expiresAt := range entries {
			if !expiresAt.After(now) {
				delete(entries, subject)
				dropped++
			}
		}

		l.mu.Lock()
		l.records[kind] = entries
		persist := func() {}
		if dropped > 0 {
			persist = l.snapshotLocked(ctx, kind)
		}
		l.mu.Unlock()

		persist()
		l.metrics.SetActive(kind.String(), len(entries))
		l.logger.InfoContext(ctx, "restriction table loaded", "kind", kind, "records", len(entries), "dropped_expired", dropped)
	}
	return errors.Join(errs...)
}

// Flush persists every table. Unlike mutation-triggered writes, failures are
// returned so shutdown can report them.
func (l *Ledger) Flush(ctx context.Context) error {
	var errs []error
	for _, kind := range models.Kinds() {
		l.mu.Lock()
		l.generation[kind]++
		gen := l.generation[kind]
		entries := maps.Clone(l.records[kind])
		l.mu.Unlock()

		if err := l.write(ctx, kind, gen, entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// snapshotLocked bumps the generation of kind and captures its table.
// Callers hold l.mu for writing.
func (l *Ledger) snapshotLocked(ctx context.Context, kind models.Kind) PersistFunc {
	l.generation[kind]++
	gen := l.generation[kind]
	entries := maps.Clone(l.records[kind])
	l.metrics.SetActive(kind.String(), len(entries))

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = l.write(ctx, kind, gen, entries)
		})
	}
}

func (l *Ledger) write(ctx context.Context, kind models.Kind, gen uint64, entries map[id.SubjectID]time.Time) error {
	w := l.writers[kind]
	w.mu.Lock()
	defer w.mu.Unlock()

	if gen <= w.written {
		return nil
	}
	if err := l.store.Save(ctx, kind, entries); err != nil {
		l.metrics.IncrementPersistFailures(kind.String())
		l.logger.WarnContext(ctx, "failed to persist restriction table",
			"kind", kind,
			"records", len(entries),
			"error", err,
		)
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "persist "+kind.String()+" table")
	}
	w.written = gen
	return nil
}

func compareSubjects(a, b id.SubjectID) int {
	return strings.Compare(a.String(), b.String())
}
