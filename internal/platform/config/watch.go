package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 250 * time.Millisecond

// Watcher reloads the moderation file when it changes on disk. Each reload
// starts from base, so keys removed from the file fall back to base values.
// An invalid file is logged and ignored.
type Watcher struct {
	path     string
	base     Moderation
	onChange func(context.Context, Moderation)
	logger   *slog.Logger
	debounce time.Duration
}

type WatchOption func(*Watcher)

func WithWatchLogger(logger *slog.Logger) WatchOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func NewWatcher(path string, base Moderation, onChange func(context.Context, Moderation), opts ...WatchOption) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	if onChange == nil {
		return nil, errors.New("change callback is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	w := &Watcher{
		path:     abs,
		base:     base,
		onChange: onChange,
		logger:   slog.New(slog.DiscardHandler),
		debounce: defaultDebounce,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run watches until ctx is done. The parent directory is watched rather than
// the file because editors usually replace files by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		w.logger.WarnContext(ctx, "config reload disabled", "path", w.path, "error", err)
		return nil
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.WarnContext(ctx, "config watcher error", "error", err)
		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	m := w.base
	m.Messages = maps.Clone(w.base.Messages)
	m.Lines = maps.Clone(w.base.Lines)
	m.CommandDenylist = slices.Clone(w.base.CommandDenylist)

	if err := m.LoadFile(w.path); err != nil {
		w.logger.WarnContext(ctx, "ignoring unreadable config change", "path", w.path, "error", err)
		return
	}
	if err := m.Validate(); err != nil {
		w.logger.WarnContext(ctx, "ignoring invalid config change", "path", w.path, "error", err)
		return
	}
	w.logger.InfoContext(ctx, "config reloaded", "path", w.path)
	w.onChange(ctx, m)
}
