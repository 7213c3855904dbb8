// Package file persists restriction tables as one YAML document per kind
// (mutes.yml, bans.yml) keyed by subject id.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"warden/internal/moderation/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

// entry is the per-subject document: "<uuid>": {expiry: <epoch millis>}.
type entry struct {
	Expiry int64 `yaml:"expiry"`
}

// Store reads and rewrites YAML tables under a data directory. Each Save
// replaces the whole file atomically.
type Store struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates the data directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &Store{
		dir:    dir,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the file backing kind.
func (s *Store) Path(kind models.Kind) string {
	return filepath.Join(s.dir, kind.String()+"s.yml")
}

// Load returns the persisted table for kind. A missing file is an empty
// table. Entries with malformed ids or non-numeric expiries are skipped.
func (s *Store) Load(ctx context.Context, kind models.Kind) (map[id.SubjectID]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(kind)
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[id.SubjectID]time.Time{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w: %w", path, sentinel.ErrUnavailable, err)
	}

	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w: %w", path, sentinel.ErrMalformed, err)
	}

	out := make(map[id.SubjectID]time.Time, len(doc))
	for key, node := range doc {
		subject, err := id.ParseSubjectID(key)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed subject id", "file", path, "key", key)
			continue
		}
		expiry, ok := decodeExpiry(&node)
		if !ok {
			s.logger.WarnContext(ctx, "skipping non-numeric expiry", "file", path, "subject", key)
			continue
		}
		out[subject] = time.UnixMilli(expiry)
	}
	return out, nil
}

// Save atomically replaces the table for kind.
func (s *Store) Save(_ context.Context, kind models.Kind, entries map[id.SubjectID]time.Time) error {
	doc := make(map[string]entry, len(entries))
	for subject, expiresAt := range entries {
		doc[subject.String()] = entry{Expiry: expiresAt.UnixMilli()}
	}
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s table: %w", kind, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeAtomic(s.Path(kind), raw); err != nil {
		return fmt.Errorf("write %s table: %w: %w", kind, sentinel.ErrUnavailable, err)
	}
	return nil
}

func decodeExpiry(node *yaml.Node) (int64, bool) {
	var fields map[string]string
	if err := node.Decode(&fields); err != nil {
		return 0, false
	}
	value, ok := fields["expiry"]
	if !ok {
		return 0, false
	}
	expiry, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return expiry, true
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
