package keepalive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbo-bridge/internal/common/errors"
	"qbo-bridge/internal/tokenstore"
)

type fakeLister struct {
	ids []string
	err error
}

func (f *fakeLister) ListConnected(ctx context.Context) ([]string, error) {
	return f.ids, f.err
}

type fakeRefresher struct {
	mu        sync.Mutex
	calls     map[string]int
	threshold time.Duration
	failing   map[string]error
}

func newFakeRefresher() *fakeRefresher {
	return &fakeRefresher{calls: make(map[string]int), failing: make(map[string]error)}
}

func (f *fakeRefresher) EnsureFresh(ctx context.Context, id string, minRemaining time.Duration) (*tokenstore.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	f.threshold = minRemaining
	if err, ok := f.failing[id]; ok {
		return nil, err
	}
	return &tokenstore.TokenRecord{IntegrationID: id}, nil
}

func TestSweep_ChecksEveryIntegration(t *testing.T) {
	lister := &fakeLister{ids: []string{"a", "b", "c"}}
	refresher := newFakeRefresher()

	s := NewScheduler(lister, refresher, Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
	}, nil)

	s.Sweep(context.Background())

	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1}, refresher.calls)
	assert.Equal(t, 30*time.Minute, refresher.threshold)

	stats := s.Snapshot()
	assert.Equal(t, int64(1), stats.Sweeps)
	assert.Equal(t, int64(3), stats.Checked)
	assert.Equal(t, int64(0), stats.Failures)
}

func TestSweep_FailuresAreSwallowed(t *testing.T) {
	lister := &fakeLister{ids: []string{"ok", "broken", "also-ok"}}
	refresher := newFakeRefresher()
	refresher.failing["broken"] = errors.ExchangeError(503, "provider down", nil)

	s := NewScheduler(lister, refresher, Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
	}, nil)

	// Must not panic or stop early; the healthy integrations still refresh.
	s.Sweep(context.Background())

	assert.Equal(t, 1, refresher.calls["ok"])
	assert.Equal(t, 1, refresher.calls["broken"])
	assert.Equal(t, 1, refresher.calls["also-ok"])
	assert.Equal(t, int64(1), s.Snapshot().Failures)
}

func TestSweep_ListFailureCountsOnce(t *testing.T) {
	lister := &fakeLister{err: errors.InternalError("db gone", nil)}
	refresher := newFakeRefresher()

	s := NewScheduler(lister, refresher, Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
	}, nil)

	s.Sweep(context.Background())

	assert.Empty(t, refresher.calls)
	assert.Equal(t, int64(1), s.Snapshot().Failures)
}

func TestStartupDelay_WithinJitterBound(t *testing.T) {
	s := NewScheduler(&fakeLister{}, newFakeRefresher(), Config{
		Interval:  time.Minute,
		Threshold: 10 * time.Minute,
		MaxJitter: 30 * time.Second,
	}, nil)

	for i := 0; i < 100; i++ {
		d := s.startupDelay()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 30*time.Second)
	}
}

func TestStartupDelay_ZeroJitter(t *testing.T) {
	s := NewScheduler(&fakeLister{}, newFakeRefresher(), Config{
		Interval:  time.Minute,
		Threshold: 10 * time.Minute,
	}, nil)
	assert.Equal(t, time.Duration(0), s.startupDelay())
}

func TestStart_SweepsAfterJitterAndStopsOnCancel(t *testing.T) {
	lister := &fakeLister{ids: []string{"a"}}
	refresher := newFakeRefresher()

	s := NewScheduler(lister, refresher, Config{
		Interval:  time.Hour,
		Threshold: 2 * time.Hour,
		MaxJitter: time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	require.Eventually(t, func() bool {
		refresher.mu.Lock()
		defer refresher.mu.Unlock()
		return refresher.calls["a"] >= 1
	}, 2*time.Second, 10*time.Millisecond, "initial sweep should run after startup delay")

	cancel()
}
