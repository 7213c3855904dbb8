package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/moderation/models"
	"warden/internal/moderation/store/memory"
	id "warden/pkg/domain"
)

func TestPrintRestrictions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.New()

	active, lapsed, muted := id.NewSubjectID(), id.NewSubjectID(), id.NewSubjectID()
	require.NoError(t, store.Save(ctx, models.KindBan, map[id.SubjectID]time.Time{
		active: now.Add(26*time.Hour + 5*time.Minute),
		lapsed: now.Add(-time.Minute),
	}))
	require.NoError(t, store.Save(ctx, models.KindMute, map[id.SubjectID]time.Time{
		muted: now.Add(30 * time.Second),
	}))

	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetContext(ctx)
	require.NoError(t, printRestrictions(cmd, store, []models.Kind{models.KindBan}, now))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "REMAINING")
	assert.Contains(t, lines[1], lapsed.String())
	assert.Contains(t, lines[1], "lapsed")
	assert.Contains(t, lines[2], active.String())
	assert.Contains(t, lines[2], "1d 2h 5m")
	assert.NotContains(t, out.String(), muted.String())

	entries, err := store.Load(ctx, models.KindBan)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "inspect must not drop lapsed entries")
}
