package refresh

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbo-bridge/internal/common/errors"
	"qbo-bridge/internal/qbo"
	"qbo-bridge/internal/tokenstore"
)

type fakeExchanger struct {
	calls     int32
	started   chan struct{}
	release   chan struct{}
	onRefresh func(refreshToken string) (*qbo.TokenResponse, error)
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string) (*qbo.TokenResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.release != nil {
		<-f.release
	}
	if f.onRefresh != nil {
		return f.onRefresh(refreshToken)
	}
	return &qbo.TokenResponse{
		AccessToken:  "access-new",
		RefreshToken: "refresh-new",
		ExpiresIn:    3600,
	}, nil
}

func (f *fakeExchanger) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}

func seedStale(t *testing.T, store *tokenstore.MemoryStore) *tokenstore.TokenRecord {
	t.Helper()
	rec, err := store.SaveInitial(context.Background(), &tokenstore.TokenRecord{
		IntegrationID: "int-1",
		RealmID:       "realm-1",
		AccessToken:   "access-old",
		RefreshToken:  "refresh-old",
		ExpiresAt:     time.Now().Add(30 * time.Second),
	})
	require.NoError(t, err)
	return rec
}

func TestEnsureFresh_NoRecord(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	exchanger := &fakeExchanger{}
	coord := NewCoordinator(store, exchanger, nil)

	_, err := coord.EnsureFresh(context.Background(), "never-connected", 5*time.Minute)
	require.Error(t, err)

	assert.True(t, errors.IsType(err, errors.ErrTypeNoToken))
	assert.Equal(t, int32(0), exchanger.callCount(), "no network call for unconnected integration")
}

func TestEnsureFresh_FreshRecordIsReturnedUnchanged(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	rec, err := store.SaveInitial(context.Background(), &tokenstore.TokenRecord{
		IntegrationID: "int-1",
		RealmID:       "realm-1",
		AccessToken:   "access-fresh",
		RefreshToken:  "refresh-fresh",
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	exchanger := &fakeExchanger{}
	coord := NewCoordinator(store, exchanger, nil)

	got, err := coord.EnsureFresh(context.Background(), "int-1", 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, rec.Version, got.Version)
	assert.Equal(t, "access-fresh", got.AccessToken)
	assert.Equal(t, int32(0), exchanger.callCount(), "fresh path must be network-free")
}

func TestEnsureFresh_RefreshesStaleRecord(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	rec := seedStale(t, store)

	exchanger := &fakeExchanger{}
	coord := NewCoordinator(store, exchanger, nil)

	fixedNow := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	coord.now = func() time.Time { return fixedNow }

	got, err := coord.EnsureFresh(context.Background(), "int-1", 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, rec.Version+1, got.Version, "version advances by exactly one")
	assert.Equal(t, "access-new", got.AccessToken)
	assert.Equal(t, "refresh-new", got.RefreshToken)
	// expires_in = 3600 at T stores T + 3600s - 60s; margin applied once.
	assert.Equal(t, fixedNow.Add(3600*time.Second-SafetyMargin), got.ExpiresAt)
	assert.Equal(t, int32(1), exchanger.callCount())
}

func TestEnsureFresh_ReusesRefreshTokenWhenRotationOmitted(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	seedStale(t, store)

	exchanger := &fakeExchanger{
		onRefresh: func(string) (*qbo.TokenResponse, error) {
			return &qbo.TokenResponse{AccessToken: "access-new", ExpiresIn: 3600}, nil
		},
	}
	coord := NewCoordinator(store, exchanger, nil)

	got, err := coord.EnsureFresh(context.Background(), "int-1", 5*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "refresh-old", got.RefreshToken, "omitted rotation keeps the previous refresh token")
}

func TestEnsureFresh_SingleFlight(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	seedStale(t, store)

	exchanger := &fakeExchanger{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	coord := NewCoordinator(store, exchanger, nil)

	const callers = 10
	results := make([]*tokenstore.TokenRecord, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = coord.EnsureFresh(context.Background(), "int-1", 5*time.Minute)
		}(i)
	}

	// Wait for the first exchange to be in flight, then let it finish.
	<-exchanger.started
	close(exchanger.release)
	wg.Wait()

	assert.Equal(t, int32(1), exchanger.callCount(), "at most one refresh in flight per integration")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, int64(1), results[i].Version)
		assert.Equal(t, "access-new", results[i].AccessToken)
	}
}

func TestEnsureFresh_ExchangeFailureLeavesRecordUntouched(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	before := seedStale(t, store)

	exchanger := &fakeExchanger{
		onRefresh: func(string) (*qbo.TokenResponse, error) {
			return nil, errors.ExchangeError(503, "provider down", nil)
		},
	}
	coord := NewCoordinator(store, exchanger, nil)

	_, err := coord.EnsureFresh(context.Background(), "int-1", 5*time.Minute)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeExchange))

	after, loadErr := store.Load(context.Background(), "int-1")
	require.NoError(t, loadErr)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, "refresh-old", after.RefreshToken)
}

func TestEnsureFresh_RetryAfterFailureSucceeds(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	seedStale(t, store)

	fail := true
	exchanger := &fakeExchanger{
		onRefresh: func(string) (*qbo.TokenResponse, error) {
			if fail {
				return nil, errors.ExchangeError(500, "flaky", nil)
			}
			return &qbo.TokenResponse{AccessToken: "access-new", RefreshToken: "refresh-new", ExpiresIn: 3600}, nil
		},
	}
	coord := NewCoordinator(store, exchanger, nil)

	_, err := coord.EnsureFresh(context.Background(), "int-1", 5*time.Minute)
	require.Error(t, err)

	fail = false
	got, err := coord.EnsureFresh(context.Background(), "int-1", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "access-new", got.AccessToken)
	assert.Equal(t, int32(2), exchanger.callCount())
}

func TestForceRefresh_RefreshesFreshRecord(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	rec, err := store.SaveInitial(context.Background(), &tokenstore.TokenRecord{
		IntegrationID: "int-1",
		RealmID:       "realm-1",
		AccessToken:   "access-fresh",
		RefreshToken:  "refresh-fresh",
		ExpiresAt:     time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	exchanger := &fakeExchanger{}
	coord := NewCoordinator(store, exchanger, nil)

	got, err := coord.ForceRefresh(context.Background(), "int-1")
	require.NoError(t, err)

	assert.Equal(t, rec.Version+1, got.Version)
	assert.Equal(t, int32(1), exchanger.callCount())
}

func TestRefresh_VersionConflictDiscardsResult(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	rec := seedStale(t, store)

	// Simulate a sibling process that wins the race while this process's
	// exchange is in flight: it advances the record past the version this
	// attempt started from.
	exchanger := &fakeExchanger{
		onRefresh: func(string) (*qbo.TokenResponse, error) {
			_, err := store.CompareAndSave(context.Background(), "int-1", rec.Version, &tokenstore.TokenRecord{
				RealmID:      "realm-1",
				AccessToken:  "access-sibling",
				RefreshToken: "refresh-sibling",
				ExpiresAt:    time.Now().Add(time.Hour),
			})
			require.NoError(t, err)
			return &qbo.TokenResponse{AccessToken: "access-loser", RefreshToken: "refresh-loser", ExpiresIn: 3600}, nil
		},
	}
	coord := NewCoordinator(store, exchanger, nil)

	got, err := coord.EnsureFresh(context.Background(), "int-1", 5*time.Minute)
	require.NoError(t, err, "conflict is resolved internally, not surfaced")

	// The loser re-reads and adopts the winner's pair without a second
	// provider call.
	assert.Equal(t, "access-sibling", got.AccessToken)
	assert.Equal(t, "refresh-sibling", got.RefreshToken)
	assert.Equal(t, rec.Version+1, got.Version)
	assert.Equal(t, int32(1), exchanger.callCount())

	stored, loadErr := store.Load(context.Background(), "int-1")
	require.NoError(t, loadErr)
	assert.Equal(t, "access-sibling", stored.AccessToken, "stale credentials never overwrite newer ones")
}
