package domain

import (
	"github.com/google/uuid"

	dErrors "warden/pkg/domain-errors"
)

// SubjectID identifies one population member across sessions. Ledger and
// review keys are always subject ids; names are resolved at the edges.
type SubjectID uuid.UUID

// NewSubjectID returns a random subject id.
func NewSubjectID() SubjectID {
	return SubjectID(uuid.New())
}

// ParseSubjectID parses the canonical string form of a subject id.
// Empty strings, malformed values and the nil UUID are rejected.
func ParseSubjectID(s string) (SubjectID, error) {
	if s == "" {
		return SubjectID{}, dErrors.New(dErrors.CodeInvalidInput, "subject id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return SubjectID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid subject id format")
	}
	if parsed == uuid.Nil {
		return SubjectID{}, dErrors.New(dErrors.CodeInvalidInput, "subject id cannot be nil")
	}
	return SubjectID(parsed), nil
}

// String returns the lowercase hyphenated UUID form used as the persisted key.
func (id SubjectID) String() string {
	return uuid.UUID(id).String()
}

func (id SubjectID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText implements encoding.TextMarshaler so ids can be map keys in JSON.
func (id SubjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *SubjectID) UnmarshalText(text []byte) error {
	parsed, err := ParseSubjectID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
