// Package presence is an in-memory host for the moderation core. It tracks
// who is online, what they were told and which host-side effects were
// applied to them. The serve command uses it behind the operator console and
// tests use it as a fake host.
package presence

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"warden/internal/moderation/ports"
	id "warden/pkg/domain"
)

// Banner is the last title overlay shown to a subject.
type Banner struct {
	Title    string
	Subtitle string
}

type member struct {
	subject     ports.Subject
	permissions map[string]struct{}
}

// Registry implements the Directory, Messenger, Overlays and Sessions ports.
type Registry struct {
	logger *slog.Logger
	echo   io.Writer

	mu          sync.RWMutex
	members     map[id.SubjectID]*member
	inbox       map[id.SubjectID][]string
	banners     map[id.SubjectID]Banner
	overlays    map[id.SubjectID]struct{}
	sidelined   map[id.SubjectID]struct{}
	disconnects map[id.SubjectID]string
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithEcho copies every delivered message to w, prefixed with the
// recipient's name. Pass the same SyncWriter given to the console so their
// lines never interleave.
func WithEcho(w io.Writer) Option {
	return func(r *Registry) {
		r.echo = NewSyncWriter(w)
	}
}

// SyncWriter serializes writes to one output shared by the host echo and
// the operator console.
type SyncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSyncWriter wraps w. A SyncWriter is returned as is.
func NewSyncWriter(w io.Writer) *SyncWriter {
	if sw, ok := w.(*SyncWriter); ok {
		return sw
	}
	return &SyncWriter{w: w}
}

func (s *SyncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func New(opts ...Option) *Registry {
	r := &Registry{
		logger:      slog.New(slog.DiscardHandler),
		members:     make(map[id.SubjectID]*member),
		inbox:       make(map[id.SubjectID][]string),
		banners:     make(map[id.SubjectID]Banner),
		overlays:    make(map[id.SubjectID]struct{}),
		sidelined:   make(map[id.SubjectID]struct{}),
		disconnects: make(map[id.SubjectID]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Join marks subject as online with the given permissions. Joining again
// replaces the name, address and permissions and clears any recorded
// disconnect.
func (r *Registry) Join(subject ports.Subject, permissions ...string) {
	perms := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		perms[p] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[subject.ID] = &member{subject: subject, permissions: perms}
	delete(r.disconnects, subject.ID)
	delete(r.sidelined, subject.ID)
}

// Leave marks subject as offline.
func (r *Registry) Leave(subject id.SubjectID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, subject)
	delete(r.overlays, subject)
}

// Grant adds permissions to an online subject.
func (r *Registry) Grant(subject id.SubjectID, permissions ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[subject]
	if !ok {
		return false
	}
	for _, p := range permissions {
		m.permissions[p] = struct{}{}
	}
	return true
}

func (r *Registry) Lookup(_ context.Context, name string) (ports.Subject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.members {
		if strings.EqualFold(m.subject.Name, name) {
			return m.subject, true
		}
	}
	return ports.Subject{}, false
}

func (r *Registry) Get(_ context.Context, subject id.SubjectID) (ports.Subject, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[subject]
	if !ok {
		return ports.Subject{}, false
	}
	return m.subject, true
}

// OnlineWithPermission returns the holders of perm ordered by name.
func (r *Registry) OnlineWithPermission(_ context.Context, perm string) []ports.Subject {
	r.mu.RLock()
	var out []ports.Subject
	for _, m := range r.members {
		if _, ok := m.permissions[perm]; ok {
			out = append(out, m.subject)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b ports.Subject) int {
		return cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return out
}

// HasPermission reports whether the online subject holds perm.
func (r *Registry) HasPermission(subject id.SubjectID, perm string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[subject]
	if !ok {
		return false
	}
	_, ok = m.permissions[perm]
	return ok
}

func (r *Registry) Send(_ context.Context, to []id.SubjectID, text string) {
	r.mu.Lock()
	var names []string
	for _, subject := range to {
		m, ok := r.members[subject]
		if !ok {
			continue
		}
		r.inbox[subject] = append(r.inbox[subject], text)
		names = append(names, m.subject.Name)
	}
	r.mu.Unlock()

	if r.echo != nil {
		for _, name := range names {
			fmt.Fprintf(r.echo, "[%s] %s\n", name, text)
		}
	}
}

func (r *Registry) ShowBanner(_ context.Context, subject id.SubjectID, title, subtitle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[subject]; !ok {
		return
	}
	r.banners[subject] = Banner{Title: title, Subtitle: subtitle}
}

func (r *Registry) Apply(ctx context.Context, subject id.SubjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[subject]; !ok {
		r.logger.DebugContext(ctx, "overlay skipped for offline subject", "subject", subject)
		return nil
	}
	r.overlays[subject] = struct{}{}
	return nil
}

func (r *Registry) Remove(_ context.Context, subject id.SubjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.overlays, subject)
	delete(r.banners, subject)
	return nil
}

// Disconnect takes subject offline and records the reason. Disconnecting an
// offline subject is a no-op.
func (r *Registry) Disconnect(ctx context.Context, subject id.SubjectID, reason string) error {
	r.mu.Lock()
	m, ok := r.members[subject]
	if ok {
		delete(r.members, subject)
		delete(r.overlays, subject)
		delete(r.banners, subject)
		r.disconnects[subject] = reason
	}
	r.mu.Unlock()

	if ok {
		r.logger.InfoContext(ctx, "subject disconnected", "subject", subject, "name", m.subject.Name)
		if r.echo != nil {
			fmt.Fprintf(r.echo, "[%s] disconnected: %s\n", m.subject.Name, reason)
		}
	}
	return nil
}

func (r *Registry) Sideline(_ context.Context, subject id.SubjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.members[subject]; ok {
		r.sidelined[subject] = struct{}{}
	}
	return nil
}

// Inbox returns every message delivered to subject, oldest first.
func (r *Registry) Inbox(subject id.SubjectID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.inbox[subject])
}

// LastMessage returns the most recent message delivered to subject.
func (r *Registry) LastMessage(subject id.SubjectID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := r.inbox[subject]
	if len(msgs) == 0 {
		return "", false
	}
	return msgs[len(msgs)-1], true
}

func (r *Registry) Banner(subject id.SubjectID) (Banner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.banners[subject]
	return b, ok
}

func (r *Registry) HasOverlay(subject id.SubjectID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.overlays[subject]
	return ok
}

func (r *Registry) IsSidelined(subject id.SubjectID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sidelined[subject]
	return ok
}

// DisconnectReason returns the reason of subject's last disconnect.
func (r *Registry) DisconnectReason(subject id.SubjectID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reason, ok := r.disconnects[subject]
	return reason, ok
}

// Actor returns a command actor for an online subject.
func (r *Registry) Actor(subject id.SubjectID) (ports.Actor, bool) {
	r.mu.RLock()
	m, ok := r.members[subject]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &memberActor{registry: r, subject: m.subject}, true
}

type memberActor struct {
	registry *Registry
	subject  ports.Subject
}

func (a *memberActor) Subject() (id.SubjectID, bool) {
	return a.subject.ID, true
}

func (a *memberActor) Name() string {
	return a.subject.Name
}

func (a *memberActor) HasPermission(perm string) bool {
	return a.registry.HasPermission(a.subject.ID, perm)
}

func (a *memberActor) Reply(ctx context.Context, text string) {
	a.registry.Send(ctx, []id.SubjectID{a.subject.ID}, text)
}

// ConsoleName is the actor name used for commands typed at the operator
// console.
const ConsoleName = "console"

// Console is the operator actor. It holds every permission and is never an
// online subject.
type Console struct {
	out *SyncWriter
}

func NewConsole(out io.Writer) *Console {
	return &Console{out: NewSyncWriter(out)}
}

func (c *Console) Subject() (id.SubjectID, bool) {
	return id.SubjectID{}, false
}

func (c *Console) Name() string {
	return ConsoleName
}

func (c *Console) HasPermission(string) bool {
	return true
}

func (c *Console) Reply(_ context.Context, text string) {
	fmt.Fprintln(c.out, text)
}
