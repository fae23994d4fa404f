package gc_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vibefs/vibed/internal/gc"
)

type fakeTracker struct {
	mu         sync.Mutex
	idle       []string
	unexported []string
}

func (f *fakeTracker) IdleSessions(cutoff time.Time) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.idle...)
}

func (f *fakeTracker) Unexport(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unexported = append(f.unexported, id)
	return nil
}

func TestDisabledReaperNeverSweeps(t *testing.T) {
	tracker := &fakeTracker{idle: []string{"a"}}
	r := gc.New(tracker, gc.Config{Enabled: false})
	r.Start()
	require.NoError(t, r.Stop(context.Background()))

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	require.Empty(t, tracker.unexported)
}

func TestZeroIdleLingerDisablesReaping(t *testing.T) {
	tracker := &fakeTracker{idle: []string{"a"}}
	r := gc.New(tracker, gc.Config{Enabled: true, IdleLinger: 0})
	r.Start()
	require.NoError(t, r.Stop(context.Background()))

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	require.Empty(t, tracker.unexported)
}

func TestReaperUnexportsIdleSessions(t *testing.T) {
	tracker := &fakeTracker{idle: []string{"stale"}}
	r := gc.New(tracker, gc.Config{Enabled: true, IdleLinger: time.Minute, Interval: 20 * time.Millisecond})
	r.Start()

	require.Eventually(t, func() bool {
		tracker.mu.Lock()
		defer tracker.mu.Unlock()
		return len(tracker.unexported) > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, r.Stop(context.Background()))
}
