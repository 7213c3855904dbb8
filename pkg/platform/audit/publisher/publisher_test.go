package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "warden/pkg/domain"
	audit "warden/pkg/platform/audit"
	"warden/pkg/platform/audit/store/memory"
)

type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSink) Append(context.Context, audit.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("broker unreachable")
}

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewRingStore(10)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))
	defer pub.Close()

	subject := id.NewSubjectID()
	err := pub.Emit(context.Background(), audit.Event{
		Subject: subject,
		Action:  string(audit.EventBanImposed),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, subject, events[0].Subject)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_AsyncModeDrainsOnClose(t *testing.T) {
	store := memory.NewRingStore(10)
	pub := NewPublisher(store, WithAsyncBuffer(4))

	for range 3 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: string(audit.EventRestrictionLapsed)}))
	}
	pub.Close()

	assert.Equal(t, 3, store.Len())
	assert.ErrorIs(t, pub.Emit(context.Background(), audit.Event{}), ErrClosed)
}

func TestPublisher_ForwardFailureDoesNotFailEmit(t *testing.T) {
	store := memory.NewRingStore(10)
	sink := &failingSink{}
	pub := NewPublisher(store, WithForward(sink, nil))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), audit.Event{Action: string(audit.EventReviewStarted)}))
	assert.Equal(t, 1, sink.calls)
	assert.Equal(t, 1, store.Len())
}
