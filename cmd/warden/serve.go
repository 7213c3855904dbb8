package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"warden/internal/moderation/handler"
	"warden/internal/moderation/ledger"
	"warden/internal/moderation/metrics"
	"warden/internal/moderation/review"
	"warden/internal/moderation/scheduler"
	"warden/internal/moderation/service"
	"warden/internal/platform/config"
	"warden/internal/platform/httpserver"
	"warden/internal/platform/logger"
	platformmetrics "warden/internal/platform/metrics"
	"warden/internal/presence"
	"warden/internal/templates"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/audit/publisher"
	"warden/pkg/platform/audit/publishers/kafka"
	auditmemory "warden/pkg/platform/audit/store/memory"
	"warden/pkg/platform/middleware/request"
)

const (
	auditRingSize   = 1000
	auditBufferSize = 256
	flushTimeout    = 10 * time.Second
)

var noConsole bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, the ops HTTP server and the operator console",
	Long: `Run the moderation core until interrupted.

The operator console reads commands from stdin. Plain lines are moderation
commands run with full permissions ("mute Alice spam 10m"); host lines
simulate a connected server ("join Alice 10.0.0.1", "say Alice hi",
"as Bob check Alice"). Type "hosthelp" for the full list.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&noConsole, "no-console", false, "do not read operator commands from stdin")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()

	reg := platformmetrics.NewRegistry()
	m := metrics.New(reg)

	checks := map[string]handler.HealthCheck{}
	if store.health != nil {
		checks[cfg.Store.Backend] = store.health
	}
	var forward []audit.Store
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := kafka.New(cfg.Kafka.Brokers, cfg.Kafka.Topic, kafka.WithLogger(log))
		if err != nil {
			return err
		}
		defer sink.Close()
		forward = append(forward, sink)
		checks["kafka"] = sink.Health
	}
	auditor := publisher.NewPublisher(auditmemory.NewRingStore(auditRingSize),
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithForward(forward...),
		publisher.WithLogger(log),
	)
	defer auditor.Close()

	l, err := ledger.New(store.store, ledger.WithLogger(log), ledger.WithMetrics(m))
	if err != nil {
		return err
	}
	if err := l.Load(ctx); err != nil {
		log.WarnContext(ctx, "starting with partially loaded restrictions", "error", err)
	}
	w, err := review.New(l,
		review.WithLogger(log),
		review.WithMetrics(m),
		review.WithTimeoutBan(cfg.Moderation.TimeoutBan),
	)
	if err != nil {
		return err
	}

	out := presence.NewSyncWriter(cmd.OutOrStdout())
	host := presence.New(presence.WithLogger(log), presence.WithEcho(out))
	catalog := templates.New(cfg.Moderation.Messages, cfg.Moderation.Lines)
	svc, err := service.New(service.Deps{
		Ledger:    l,
		Workflow:  w,
		Directory: host,
		Messenger: host,
		Overlays:  host,
		Sessions:  host,
	}, cfg.Moderation,
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithTemplates(catalog),
		service.WithAuditPublisher(auditor),
	)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(l, w, svc,
		scheduler.WithLogger(log),
		scheduler.WithMetrics(m),
		scheduler.WithSweepInterval(cfg.Moderation.SweepInterval),
		scheduler.WithRefreshInterval(cfg.Moderation.RefreshInterval),
	)
	if err != nil {
		return err
	}

	ops := handler.New(w, l, auditor, log)
	for name, check := range checks {
		ops.AddHealthCheck(name, check)
	}
	router := chi.NewRouter()
	router.Use(request.RequestID)
	router.Use(request.Logger(log))
	ops.Register(router)
	router.Handle("/metrics", platformmetrics.Handler(reg))
	srv := httpserver.New(cfg.Server.Addr, router)

	log.InfoContext(ctx, "starting warden",
		"addr", cfg.Server.Addr,
		"store", cfg.Store.Backend,
		"kafka", len(cfg.Kafka.Brokers) > 0,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		return httpserver.Serve(gctx, srv)
	})
	if cfg.ConfigFile != "" {
		watcher, err := config.NewWatcher(cfg.ConfigFile, config.DefaultModeration(),
			func(ctx context.Context, m config.Moderation) {
				catalog.Replace(m.Messages, m.Lines)
				log.InfoContext(ctx, "message templates reloaded; other settings apply on restart")
			},
			config.WithWatchLogger(log),
		)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}
	if !noConsole {
		console := newConsole(svc, host, cfg.Moderation.Permissions, cmd.InOrStdin(), out)
		g.Go(func() error {
			return console.Run(gctx)
		})
	}
	runErr := g.Wait()

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	if err := l.Flush(flushCtx); err != nil {
		log.ErrorContext(flushCtx, "failed to flush restrictions on shutdown", "error", err)
		runErr = errors.Join(runErr, err)
	}
	log.InfoContext(flushCtx, "warden stopped")
	return runErr
}
