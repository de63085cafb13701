package access

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prizmrun/prizm/pkg/observability"
)

func newTestResolver(src *fakeSource, cache Cache, opts ...ResolverOption) (*Resolver, *observability.Metrics, *bytes.Buffer) {
	var logs bytes.Buffer
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	base := []ResolverOption{
		WithCache(cache, "test"),
		WithDirectory(src),
		WithLogger(observability.NewLogger(observability.DebugLevel, &logs)),
		WithMetrics(metrics),
	}
	return NewResolver(src, append(base, opts...)...), metrics, &logs
}

func TestResolver_Member(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	r, _, _ := newTestResolver(s.src, newMapCache())

	wu, err := r.Member(ctx, wsID, memberUID)
	require.NoError(t, err)
	assert.Equal(t, s.member.ID, wu.ID)

	wu, err = r.Member(ctx, wsID, 999)
	require.NoError(t, err)
	assert.Nil(t, wu)

	_, err = r.Permissions(ctx, wsID, 999)
	assert.True(t, errors.Is(err, ErrNotAMember))

	s.src.failFind = errors.New("down")
	_, err = r.Member(ctx, wsID, memberUID)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestResolver_CachesComputedMaps(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()
	r, metrics, _ := newTestResolver(s.src, cache)

	first, err := r.Permissions(ctx, wsID, memberUID)
	require.NoError(t, err)
	assert.Equal(t, PermissionMap{chanA: LevelWrite}, first)
	assert.True(t, cache.has(wsID, memberUID))

	calls := s.src.computeCalls.Load()
	second, err := r.Permissions(ctx, wsID, memberUID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, s.src.computeCalls.Load(), "a hit must not recompute")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("test")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("test")))
}

func TestResolver_ServesCachedEmptyMap(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()
	cache.put(wsID, memberUID, PermissionMap{})
	r, _, _ := newTestResolver(s.src, cache)

	perms, err := r.Permissions(ctx, wsID, memberUID)
	require.NoError(t, err)
	assert.Empty(t, perms)
	assert.Zero(t, s.src.computeCalls.Load())
}

func TestResolver_CacheFailuresFailOpen(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()
	cache.failGet = errors.New("redis: connection refused")
	cache.failPut = errors.New("redis: connection refused")
	r, metrics, logs := newTestResolver(s.src, cache)

	perms, err := r.Permissions(ctx, wsID, memberUID)
	require.NoError(t, err)
	assert.Equal(t, PermissionMap{chanA: LevelWrite}, perms)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheErrorsTotal.WithLabelValues("test", "get")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheErrorsTotal.WithLabelValues("test", "put")))
	assert.Contains(t, logs.String(), "access cache read failed")
	assert.Contains(t, logs.String(), "access cache write failed")
}

func TestResolver_SourceFailureIsNotCached(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()
	r, _, _ := newTestResolver(s.src, cache)

	s.src.failGroups = errors.New("down")
	_, err := r.Permissions(ctx, wsID, memberUID)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
	assert.False(t, cache.has(wsID, memberUID))

	s.src.failGroups = nil
	perms, err := r.Permissions(ctx, wsID, memberUID)
	require.NoError(t, err)
	assert.Equal(t, PermissionMap{chanA: LevelWrite}, perms)
}

func TestResolver_PromotionAfterInvalidate(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()
	r, metrics, _ := newTestResolver(s.src, cache)

	before, err := r.Permissions(ctx, wsID, memberUID)
	require.NoError(t, err)
	assert.Equal(t, PermissionMap{chanA: LevelWrite}, before)

	s.src.setRole(s.member.ID, RoleManager)
	require.NoError(t, r.Invalidate(ctx, wsID, memberUID))

	after, err := r.Permissions(ctx, wsID, memberUID)
	require.NoError(t, err)
	assert.Equal(t, PermissionMap{chanA: LevelManage, chanB: LevelManage}, after)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheInvalidationsTotal.WithLabelValues("user")))
}

func TestResolver_InvalidateWorkspace(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()
	r, _, _ := newTestResolver(s.src, cache)

	for _, uid := range []int64{ownerUID, memberUID, guestUID} {
		_, err := r.Permissions(ctx, wsID, uid)
		require.NoError(t, err)
	}
	cache.put(wsID+1, ownerUID, PermissionMap{})

	require.NoError(t, r.InvalidateWorkspace(ctx, wsID))
	for _, uid := range []int64{ownerUID, memberUID, guestUID} {
		assert.False(t, cache.has(wsID, uid))
	}
	assert.True(t, cache.has(wsID+1, ownerUID))
}

func TestResolver_InvalidationErrorsAreReturned(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()
	cache.failInvalidate = errors.New("redis down")
	r, metrics, logs := newTestResolver(s.src, cache)

	assert.Error(t, r.Invalidate(ctx, wsID, memberUID))
	assert.Error(t, r.InvalidateWorkspace(ctx, wsID))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheErrorsTotal.WithLabelValues("test", "invalidate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheErrorsTotal.WithLabelValues("test", "invalidate_workspace")))
	assert.Contains(t, logs.String(), "access cache invalidation failed")
}

func TestResolver_CoalescesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.src.hook = func(context.Context) {
		once.Do(func() { close(entered) })
		<-release
	}
	r, _, _ := newTestResolver(s.src, cache)

	const callers = 8
	results := make(chan PermissionMap, callers)
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	call := func() {
		defer wg.Done()
		perms, err := r.PermissionsFor(ctx, s.member)
		results <- perms
		errs <- err
	}

	wg.Add(1)
	go call()
	<-entered
	for i := 1; i < callers; i++ {
		wg.Add(1)
		go call()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	var maps []PermissionMap
	for perms := range results {
		assert.Equal(t, PermissionMap{chanA: LevelWrite}, perms)
		maps = append(maps, perms)
	}
	// Late arrivals hit the cache, so either way memberships are read once
	assert.Equal(t, int32(1), s.src.computeCalls.Load())
	assert.Equal(t, 1, cache.putCount())

	// Callers own their maps
	maps[0][chanB] = LevelManage
	for _, m := range maps[1:] {
		assert.Equal(t, LevelNone, m.Get(chanB))
	}
}

func TestResolver_CallerCancellationDoesNotFailOthers(t *testing.T) {
	s := newScenario()
	cache := newMapCache()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var computeErr error
	s.src.hook = func(ctx context.Context) {
		once.Do(func() { close(entered) })
		<-release
		computeErr = ctx.Err()
	}
	r, _, _ := newTestResolver(s.src, cache)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.PermissionsFor(firstCtx, s.member)
		firstErr <- err
	}()
	<-entered

	secondResult := make(chan PermissionMap, 1)
	secondErr := make(chan error, 1)
	go func() {
		perms, err := r.PermissionsFor(context.Background(), s.member)
		secondResult <- perms
		secondErr <- err
	}()

	cancel()
	assert.True(t, errors.Is(<-firstErr, context.Canceled))

	close(release)
	require.NoError(t, <-secondErr)
	assert.Equal(t, PermissionMap{chanA: LevelWrite}, <-secondResult)
	assert.NoError(t, computeErr, "the shared compute must outlive its first caller")
	assert.True(t, cache.has(wsID, memberUID))
}

func TestResolver_ComputeTimeout(t *testing.T) {
	s := newScenario()
	s.src.hook = func(ctx context.Context) { <-ctx.Done() }
	r, _, _ := newTestResolver(s.src, newMapCache(), WithComputeTimeout(20*time.Millisecond))

	done := make(chan struct{})
	go func() {
		_, _ = r.PermissionsFor(context.Background(), s.member)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("compute did not observe its timeout")
	}
}

func TestResolver_InvalidationDuringComputeSkipsCacheFill(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.src.hook = func(context.Context) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}
	r, _, _ := newTestResolver(s.src, cache)

	result := make(chan PermissionMap, 1)
	go func() {
		perms, err := r.PermissionsFor(ctx, s.member)
		assert.NoError(t, err)
		result <- perms
	}()
	<-entered
	require.NoError(t, r.InvalidateWorkspace(ctx, wsID))
	close(release)

	assert.Equal(t, PermissionMap{chanA: LevelWrite}, <-result)
	assert.False(t, cache.has(wsID, memberUID), "a compute that overlapped an invalidation must not be cached")
	assert.Equal(t, 0, cache.putCount())

	// The next read computes and fills normally
	_, err := r.PermissionsFor(ctx, s.member)
	require.NoError(t, err)
	assert.True(t, cache.has(wsID, memberUID))
}

func TestResolver_InvalidationDuringCacheFillDropsEntry(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()
	r, _, _ := newTestResolver(s.src, cache)

	// The mutation commits and invalidates while the stale map is being written
	var once sync.Once
	cache.putHook = func() {
		once.Do(func() {
			s.src.grantGroup(groupG, chanB, LevelManage)
			assert.NoError(t, r.InvalidateWorkspace(ctx, wsID))
		})
	}

	perms, err := r.PermissionsFor(ctx, s.member)
	require.NoError(t, err)
	assert.Equal(t, PermissionMap{chanA: LevelWrite}, perms)
	assert.False(t, cache.has(wsID, memberUID), "an entry written across an invalidation must be dropped")

	perms, err = r.PermissionsFor(ctx, s.member)
	require.NoError(t, err)
	assert.Equal(t, PermissionMap{chanA: LevelWrite, chanB: LevelManage}, perms)
	assert.True(t, cache.has(wsID, memberUID))
}

func TestResolver_CallersAfterInvalidationDoNotJoinStaleCompute(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	cache := newMapCache()

	entered := make(chan struct{})
	release := make(chan struct{})
	var first atomic.Bool
	s.src.hook = func(context.Context) {
		if first.CompareAndSwap(false, true) {
			close(entered)
			<-release
		}
	}
	r, _, _ := newTestResolver(s.src, cache)

	stale := make(chan PermissionMap, 1)
	go func() {
		perms, err := r.PermissionsFor(ctx, s.member)
		assert.NoError(t, err)
		stale <- perms
	}()
	<-entered

	s.src.grantGroup(groupG, chanB, LevelManage)
	require.NoError(t, r.InvalidateWorkspace(ctx, wsID))

	fresh, err := r.PermissionsFor(ctx, s.member)
	require.NoError(t, err)
	assert.Equal(t, PermissionMap{chanA: LevelWrite, chanB: LevelManage}, fresh)

	close(release)
	assert.Equal(t, PermissionMap{chanA: LevelWrite}, <-stale)
	got, ok, err := cache.Get(ctx, wsID, memberUID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, fresh, got, "the stale compute must not overwrite the fresh entry")
}

func TestResolver_EpochsAreBounded(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	r, _, _ := newTestResolver(s.src, newMapCache(), WithEpochCapacity(4))

	for ws := int64(1000); ws < 1100; ws++ {
		require.NoError(t, r.InvalidateWorkspace(ctx, ws))
	}
	assert.Equal(t, 4, r.epochs.Len())

	// Eviction never hands back an epoch a compute could have seen
	before := r.epoch(wsID)
	require.NoError(t, r.InvalidateWorkspace(ctx, wsID))
	after := r.epoch(wsID)
	assert.NotEqual(t, before, after)
	assert.NotZero(t, after)
}

func TestResolver_ChannelPermission(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	r, _, _ := newTestResolver(s.src, newMapCache())

	level, err := r.ChannelPermission(ctx, wsID, guestUID, chanB)
	require.NoError(t, err)
	assert.Equal(t, LevelWrite, level)

	level, err = r.ChannelPermission(ctx, wsID, guestUID, chanA)
	require.NoError(t, err)
	assert.Equal(t, LevelNone, level)
}

func TestResolver_AccessibleChannels(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	second := int64(6)
	s.src.categories = append(s.src.categories, Category{ID: second, WorkspaceID: wsID, Name: "First", ZIndex: 0})
	s.src.addChannel(Channel{ID: 20, WorkspaceID: wsID, CategoryID: &second, Name: "z-last", ZIndex: 9})
	s.src.addChannel(Channel{ID: 21, WorkspaceID: wsID, CategoryID: &second, Name: "a-first", ZIndex: 1})
	s.src.addChannel(Channel{ID: 22, WorkspaceID: wsID, Name: "uncategorized"})
	empty := int64(7)
	s.src.categories = append(s.src.categories, Category{ID: empty, WorkspaceID: wsID, Name: "Empty", ZIndex: 5})
	r, _, _ := newTestResolver(s.src, newMapCache())

	cats, err := r.AccessibleChannels(ctx, wsID, ownerUID)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "First", cats[0].Name)
	assert.Equal(t, []AccessibleChannel{
		{ID: 21, Name: "a-first", Permission: LevelManage},
		{ID: 20, Name: "z-last", Permission: LevelManage},
	}, cats[0].Channels)
	assert.Equal(t, "Text", cats[1].Name)
	assert.Equal(t, []AccessibleChannel{
		{ID: chanA, Name: "a", Permission: LevelManage},
		{ID: chanB, Name: "b", Permission: LevelManage},
	}, cats[1].Channels, "assistant channel carries no level")

	cats, err = r.AccessibleChannels(ctx, wsID, memberUID)
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, []AccessibleChannel{{ID: chanA, Name: "a", Permission: LevelWrite}}, cats[0].Channels)

	_, err = r.AccessibleChannels(ctx, wsID, 999)
	assert.True(t, errors.Is(err, ErrNotAMember))

	bare := NewResolver(s.src)
	_, err = bare.AccessibleChannels(ctx, wsID, ownerUID)
	assert.Error(t, err)
}

func TestResolver_ChannelUsers(t *testing.T) {
	ctx := context.Background()
	s := newScenario()
	s.src.addUser(WorkspaceUser{ID: 5, WorkspaceID: wsID, UserID: 104, Role: RoleGuest, Name: "ann"})
	s.src.invite(5, chanB)
	r, _, _ := newTestResolver(s.src, newMapCache())

	users, err := r.ChannelUsers(ctx, wsID, chanB)
	require.NoError(t, err)
	assert.Equal(t, []ChannelUser{
		{WorkspaceUserID: s.manager.ID, Name: "mia", Permission: LevelManage},
		{WorkspaceUserID: s.owner.ID, Name: "olive", Permission: LevelManage},
	}, users.Users)
	assert.Equal(t, []ChannelUser{
		{WorkspaceUserID: 5, Name: "ann", Permission: LevelWrite},
		{WorkspaceUserID: s.guest.ID, Name: "gus", Permission: LevelWrite},
	}, users.Guests)

	users, err = r.ChannelUsers(ctx, wsID, chanAsst)
	require.NoError(t, err)
	assert.Empty(t, users.Users)
	assert.Empty(t, users.Guests)
}
