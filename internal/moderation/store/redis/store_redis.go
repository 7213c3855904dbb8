package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"warden/internal/moderation/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
)

const defaultKeyPrefix = "warden:restrictions"

// Store keeps one Redis hash per kind: field = subject id, value = expiry in
// epoch millis. Save replaces the hash in a single MULTI/EXEC so readers
// never see a half-written table.
type Store struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

type Option func(*Store)

// WithKeyPrefix namespaces the hashes, e.g. per server.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New constructs a Redis-backed restriction store. The client lifecycle is
// managed by the caller.
func New(client *redis.Client, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	s := &Store{
		client:    client,
		keyPrefix: defaultKeyPrefix,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Key returns the hash key for kind.
func (s *Store) Key(kind models.Kind) string {
	return s.keyPrefix + ":" + kind.String()
}

func (s *Store) Load(ctx context.Context, kind models.Kind) (map[id.SubjectID]time.Time, error) {
	fields, err := s.client.HGetAll(ctx, s.Key(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("load %s table: %w: %w", kind, sentinel.ErrUnavailable, err)
	}

	out := make(map[id.SubjectID]time.Time, len(fields))
	for field, value := range fields {
		subject, err := id.ParseSubjectID(field)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping malformed subject id", "key", s.Key(kind), "field", field)
			continue
		}
		expiry, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping non-numeric expiry", "key", s.Key(kind), "field", field)
			continue
		}
		out[subject] = time.UnixMilli(expiry)
	}
	return out, nil
}

func (s *Store) Save(ctx context.Context, kind models.Kind, entries map[id.SubjectID]time.Time) error {
	key := s.Key(kind)
	values := make([]any, 0, len(entries)*2)
	for subject, expiresAt := range entries {
		values = append(values, subject.String(), strconv.FormatInt(expiresAt.UnixMilli(), 10))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s table: %w: %w", kind, sentinel.ErrUnavailable, err)
	}
	return nil
}
