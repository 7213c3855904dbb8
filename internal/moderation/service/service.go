// Package service is the command and event façade of the moderation core.
// It turns operator commands and host lifecycle events into ledger and
// review operations and renders every outcome through the template catalog.
package service

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"

	"warden/internal/moderation/ledger"
	"warden/internal/moderation/metrics"
	"warden/internal/moderation/ports"
	"warden/internal/moderation/review"
	"warden/internal/moderation/scheduler"
	"warden/internal/platform/config"
	"warden/internal/templates"
	pstrings "warden/pkg/platform/strings"
)

var tracer = otel.Tracer("warden/internal/moderation/service")

var (
	_ ledger.ExpiryListener = (*Service)(nil)
	_ review.Listener       = (*Service)(nil)
	_ scheduler.Display     = (*Service)(nil)
)

// Deps are the collaborators the façade drives.
type Deps struct {
	Ledger    *ledger.Ledger
	Workflow  *review.Workflow
	Directory ports.Directory
	Messenger ports.Messenger
	Overlays  ports.Overlays
	Sessions  ports.Sessions
}

type Service struct {
	ledger    *ledger.Ledger
	workflow  *review.Workflow
	directory ports.Directory
	messenger ports.Messenger
	overlays  ports.Overlays
	sessions  ports.Sessions

	templates ports.Templates
	auditor   ports.AuditPublisher
	logger    *slog.Logger
	metrics   *metrics.Metrics

	settings config.Moderation
	denylist map[string]struct{}
	side     *sideChannel
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithTemplates replaces the built-in message catalog.
func WithTemplates(t ports.Templates) Option {
	return func(s *Service) {
		if t != nil {
			s.templates = t
		}
	}
}

func WithAuditPublisher(p ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = p
	}
}

// New builds the façade and registers it as the ledger's expiry listener and
// the workflow's review listener.
func New(deps Deps, settings config.Moderation, opts ...Option) (*Service, error) {
	switch {
	case deps.Ledger == nil:
		return nil, errors.New("restriction ledger is required")
	case deps.Workflow == nil:
		return nil, errors.New("review workflow is required")
	case deps.Directory == nil:
		return nil, errors.New("directory is required")
	case deps.Messenger == nil:
		return nil, errors.New("messenger is required")
	case deps.Overlays == nil:
		return nil, errors.New("overlays are required")
	case deps.Sessions == nil:
		return nil, errors.New("sessions are required")
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		ledger:    deps.Ledger,
		workflow:  deps.Workflow,
		directory: deps.Directory,
		messenger: deps.Messenger,
		overlays:  deps.Overlays,
		sessions:  deps.Sessions,
		templates: templates.New(nil, nil),
		logger:    slog.New(slog.DiscardHandler),
		settings:  settings,
		denylist:  make(map[string]struct{}),
		side:      newSideChannel(),
	}
	for _, cmd := range pstrings.DedupeAndTrimLower(settings.CommandDenylist) {
		s.denylist[cmd] = struct{}{}
	}
	for _, opt := range opts {
		opt(s)
	}

	s.ledger.SetExpiryListener(s)
	s.workflow.SetListener(s)
	return s, nil
}
