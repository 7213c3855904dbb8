package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"warden/internal/moderation/models"
	id "warden/pkg/domain"
	"warden/pkg/platform/sentinel"
	txcontext "warden/pkg/platform/tx"
)

const schema = `
CREATE TABLE IF NOT EXISTS moderation_restrictions (
	kind          TEXT   NOT NULL,
	subject_id    UUID   NOT NULL,
	expires_at_ms BIGINT NOT NULL,
	PRIMARY KEY (kind, subject_id)
)`

// Store persists restriction tables in PostgreSQL. Save replaces every row
// of a kind in one transaction.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed restriction store.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("database handle is required")
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the restrictions table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure restrictions schema: %w", err)
	}
	return nil
}

func (s *Store) Load(ctx context.Context, kind models.Kind) (map[id.SubjectID]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id, expires_at_ms FROM moderation_restrictions WHERE kind = $1`, kind.String())
	if err != nil {
		return nil, fmt.Errorf("load %s table: %w: %w", kind, sentinel.ErrUnavailable, err)
	}
	defer rows.Close()

	out := make(map[id.SubjectID]time.Time)
	for rows.Next() {
		var subject uuid.UUID
		var expiresAtMs int64
		if err := rows.Scan(&subject, &expiresAtMs); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", kind, err)
		}
		out[id.SubjectID(subject)] = time.UnixMilli(expiresAtMs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", kind, err)
	}
	return out, nil
}

// Save replaces the table for kind. When ctx carries a transaction the
// statements join it; otherwise Save runs its own.
func (s *Store) Save(ctx context.Context, kind models.Kind, entries map[id.SubjectID]time.Time) error {
	err := txcontext.Run(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return replaceKind(ctx, tx, kind, entries)
	})
	if err != nil {
		return fmt.Errorf("save %s table: %w: %w", kind, sentinel.ErrUnavailable, err)
	}
	return nil
}

func replaceKind(ctx context.Context, tx *sql.Tx, kind models.Kind, entries map[id.SubjectID]time.Time) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM moderation_restrictions WHERE kind = $1`, kind.String()); err != nil {
		return fmt.Errorf("clear %s table: %w", kind, err)
	}
	if len(entries) == 0 {
		return nil
	}

	subjects := make([]string, 0, len(entries))
	expiries := make([]int64, 0, len(entries))
	for subject, expiresAt := range entries {
		subjects = append(subjects, subject.String())
		expiries = append(expiries, expiresAt.UnixMilli())
	}

	// Batch insert using unnest for one round trip.
	query := `
		INSERT INTO moderation_restrictions (kind, subject_id, expires_at_ms)
		SELECT $1, unnest($2::uuid[]), unnest($3::bigint[])
	`
	if _, err := tx.ExecContext(ctx, query, kind.String(), pq.Array(subjects), pq.Array(expiries)); err != nil {
		return fmt.Errorf("insert %s rows: %w", kind, err)
	}
	return nil
}
