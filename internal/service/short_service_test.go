package service

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darkodi/shorts/internal/cache"
	"github.com/darkodi/shorts/internal/config"
	"github.com/darkodi/shorts/internal/encoder"
	"github.com/darkodi/shorts/internal/idgen"
	"github.com/darkodi/shorts/internal/logger"
	"github.com/darkodi/shorts/internal/model"
	"github.com/darkodi/shorts/internal/repository"
	"github.com/darkodi/shorts/internal/stats"
	"github.com/darkodi/shorts/internal/task"
	"github.com/darkodi/shorts/internal/validator"
)

// ============ FAKES ============

type visit struct {
	shortID, longURL, source string
}

type fakeStats struct {
	mu     sync.Mutex
	visits []visit
}

func (f *fakeStats) RecordGoto(shortID, longURL, source string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visits = append(f.visits, visit{shortID, longURL, source})
}

func (f *fakeStats) recorded() []visit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]visit(nil), f.visits...)
}

// failingCache errors on every call, like a Redis that is down
type failingCache struct{}

func (failingCache) Get(context.Context, string) (string, bool, error) {
	return "", false, &cache.Error{Kind: cache.KindConnection, Op: "get", Err: errors.New("connection refused")}
}

func (failingCache) Set(context.Context, string, string, time.Duration) error {
	return &cache.Error{Kind: cache.KindConnection, Op: "set", Err: errors.New("connection refused")}
}

// slowRepo delays every read by delay unless the context ends first
type slowRepo struct {
	Repository
	delay time.Duration
}

func (r slowRepo) FindLongByShortID(ctx context.Context, id string) (string, error) {
	select {
	case <-time.After(r.delay):
		return r.Repository.FindLongByShortID(ctx, id)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// brokenRepo fails every query
type brokenRepo struct{}

var errDBDown = errors.New("database is down")

func (brokenRepo) FindLongByShortID(context.Context, string) (string, error)  { return "", errDBDown }
func (brokenRepo) FindShortByLongURL(context.Context, string) (string, error) { return "", errDBDown }
func (brokenRepo) InsertMapping(context.Context, *model.Mapping) error        { return errDBDown }

// gatedRepo holds every insert until release is closed
type gatedRepo struct {
	Repository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *gatedRepo) InsertMapping(ctx context.Context, m *model.Mapping) error {
	r.once.Do(func() { close(r.entered) })
	select {
	case <-r.release:
		return r.Repository.InsertMapping(ctx, m)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sequenceIDs hands out ids in order, repeating the last one
type sequenceIDs struct {
	mu  sync.Mutex
	ids []string
}

func (s *sequenceIDs) NewShortID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.ids[0]
	if len(s.ids) > 1 {
		s.ids = s.ids[1:]
	}
	return id
}

// ============ SETUP ============

type testEnv struct {
	svc   *ShortService
	repo  *repository.ShortRepository
	cache *cache.RedisCache
	redis *miniredis.Miniredis
	stats *fakeStats
}

func newTestRepo(t *testing.T) *repository.ShortRepository {
	t.Helper()
	repo, err := repository.NewShortRepository(&config.DatabaseConfig{
		Driver:       config.DriverSQLite,
		URL:          filepath.Join(t.TempDir(), "shorts.db"),
		QueryTimeout: 2 * time.Second,
	}, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newTestIDs(t *testing.T) *idgen.Generator {
	t.Helper()
	ids, err := idgen.New(1)
	require.NoError(t, err)
	return ids
}

func setupTestService(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { c.Close() })

	repo := newTestRepo(t)
	st := &fakeStats{}
	svc := NewShortService(repo, c, newTestIDs(t), st, task.Inline{},
		Options{BaseURL: "http://localhost:8080/", CacheTTL: time.Hour}, logger.Discard())

	return &testEnv{svc: svc, repo: repo, cache: c, redis: mr, stats: st}
}

// ============ CREATE ============

func TestCreate_Valid(t *testing.T) {
	env := setupTestService(t)

	resp, err := env.svc.Create(context.Background(), "https://example.com/a")
	require.NoError(t, err)

	assert.Len(t, resp.Short, idgen.Length)
	assert.True(t, encoder.IsValid(resp.Short))
	assert.Equal(t, "http://localhost:8080/"+resp.Short, resp.ShortURL)
	assert.Equal(t, "https://example.com/a", resp.LongURL)
}

func TestCreate_InvalidURL(t *testing.T) {
	env := setupTestService(t)

	tests := []struct {
		name string
		url  string
		want error
	}{
		{"empty", "", ErrEmptyURL},
		{"blank", "   ", ErrEmptyURL},
		{"no scheme", "example.com", ErrInvalidURL},
		{"ftp scheme", "ftp://example.com", ErrInvalidURL},
		{"just text", "not a url", ErrInvalidURL},
		{"private host", "http://127.0.0.1/admin", ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Create(context.Background(), tt.url)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreate_UsesConfiguredValidator(t *testing.T) {
	v := validator.NewURLValidator().WithMaxLength(40).WithBlockedDomains("spam.test")
	svc := NewShortService(newTestRepo(t), failingCache{}, newTestIDs(t), &fakeStats{}, task.Inline{},
		Options{CacheTTL: time.Minute, Validator: v}, logger.Discard())
	ctx := context.Background()

	_, err := svc.Create(ctx, "https://www.spam.test/offer")
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = svc.Create(ctx, "https://example.com/"+strings.Repeat("x", 40))
	assert.ErrorIs(t, err, ErrInvalidURL)

	_, err = svc.Create(ctx, "https://example.com/ok")
	assert.NoError(t, err)
}

func TestCreate_Idempotent(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	first, err := env.svc.Create(ctx, "https://example.com/same")
	require.NoError(t, err)
	second, err := env.svc.Create(ctx, "https://example.com/same")
	require.NoError(t, err)
	assert.Equal(t, first.Short, second.Short)

	// still idempotent once the cache is gone
	env.redis.FlushAll()
	third, err := env.svc.Create(ctx, "https://example.com/same")
	require.NoError(t, err)
	assert.Equal(t, first.Short, third.Short)

	// the stored row is the only one for this URL
	id, err := env.repo.FindShortByLongURL(ctx, "https://example.com/same")
	require.NoError(t, err)
	assert.Equal(t, first.Short, id)
}

func TestCreate_ConcurrentSameURL(t *testing.T) {
	env := setupTestService(t)

	const n = 10
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := env.svc.Create(context.Background(), "https://example.com/busy")
			errs[i] = err
			if err == nil {
				ids[i] = resp.Short
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestCreate_CancelledCallerDoesNotFailSharedCreate(t *testing.T) {
	repo := &gatedRepo{Repository: newTestRepo(t), entered: make(chan struct{}), release: make(chan struct{})}
	svc := NewShortService(repo, failingCache{}, newTestIDs(t), &fakeStats{}, task.Inline{},
		Options{CacheTTL: time.Minute}, logger.Discard())
	const longURL = "https://example.com/shared"

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := svc.Create(ctxA, longURL)
		errA <- err
	}()

	select {
	case <-repo.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("insert never started")
	}

	type result struct {
		resp *model.CreateShortResponse
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		resp, err := svc.Create(context.Background(), longURL)
		resB <- result{resp, err}
	}()
	// let the second caller join the in-flight creation
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(repo.release)
	var res result
	select {
	case res = <-resB:
	case <-time.After(2 * time.Second):
		t.Fatal("second caller never returned")
	}
	require.NoError(t, res.err)

	id, err := repo.FindShortByLongURL(context.Background(), longURL)
	require.NoError(t, err)
	assert.Equal(t, id, res.resp.Short)
}

func TestCreate_WarmsBothCacheDirections(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	resp, err := env.svc.Create(ctx, "https://example.com/warm")
	require.NoError(t, err)

	long, ok, err := env.cache.Get(ctx, resp.Short)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/warm", long)

	id, ok, err := env.cache.Get(ctx, cache.LongURLKey("https://example.com/warm"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, resp.Short, id)

	assert.Equal(t, time.Hour, env.redis.TTL(resp.Short))
}

func TestCreate_RetriesOnIDCollision(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertMapping(ctx, &model.Mapping{ID: "00000000dup", LongURL: "https://taken.example"}))

	ids := &sequenceIDs{ids: []string{"00000000dup", "00000000dup", "00000000new"}}
	svc := NewShortService(repo, failingCache{}, ids, &fakeStats{}, task.Inline{}, Options{CacheTTL: time.Minute}, logger.Discard())

	resp, err := svc.Create(ctx, "https://example.com/fresh")
	require.NoError(t, err)
	assert.Equal(t, "00000000new", resp.Short)
}

func TestCreate_GivesUpAfterRepeatedCollisions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.InsertMapping(ctx, &model.Mapping{ID: "00000000dup", LongURL: "https://taken.example"}))

	ids := &sequenceIDs{ids: []string{"00000000dup"}}
	svc := NewShortService(repo, failingCache{}, ids, &fakeStats{}, task.Inline{}, Options{CacheTTL: time.Minute, InsertAttempts: 2}, logger.Discard())

	_, err := svc.Create(ctx, "https://example.com/unlucky")
	assert.ErrorIs(t, err, repository.ErrDuplicate)
}

func TestCreate_DatabaseDownFails(t *testing.T) {
	svc := NewShortService(brokenRepo{}, failingCache{}, newTestIDs(t), &fakeStats{}, task.Inline{}, Options{CacheTTL: time.Minute}, logger.Discard())

	_, err := svc.Create(context.Background(), "https://example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, errDBDown)
}

// ============ RESOLVE ============

func TestResolve_RoundTrip(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	resp, err := env.svc.Create(ctx, "https://example.com/round")
	require.NoError(t, err)

	long, err := env.svc.Resolve(ctx, resp.Short)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/round", long)

	id, err := env.svc.LookupShort(ctx, "https://example.com/round")
	require.NoError(t, err)
	assert.Equal(t, resp.Short, id)
}

func TestResolve_NotFound(t *testing.T) {
	env := setupTestService(t)

	_, err := env.svc.Resolve(context.Background(), "neverCreated")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, env.stats.recorded())

	_, err = env.svc.LookupShort(context.Background(), "https://nowhere.example")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_DatabaseWinRepairsCache(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	// stored without going through Create, so the cache is cold
	require.NoError(t, env.repo.InsertMapping(ctx, &model.Mapping{ID: "0000000cold", LongURL: "https://example.com/cold"}))

	long, err := env.svc.Resolve(ctx, "0000000cold")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cold", long)

	cached, err := env.redis.Get("0000000cold")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/cold", cached)

	require.Len(t, env.stats.recorded(), 1)
	assert.Equal(t, visit{"0000000cold", "https://example.com/cold", SourceDatabase}, env.stats.recorded()[0])
}

func TestLookupShort_DatabaseWinRepairsCache(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	require.NoError(t, env.repo.InsertMapping(ctx, &model.Mapping{ID: "0000000cold", LongURL: "https://example.com/cold"}))

	id, err := env.svc.LookupShort(ctx, "https://example.com/cold")
	require.NoError(t, err)
	assert.Equal(t, "0000000cold", id)

	cached, err := env.redis.Get(cache.LongURLKey("https://example.com/cold"))
	require.NoError(t, err)
	assert.Equal(t, "0000000cold", cached)
}

func TestResolve_CacheWinsOverSlowDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer c.Close()
	require.NoError(t, mr.Set("0000000fast", "https://example.com/fast"))

	repo := slowRepo{Repository: newTestRepo(t), delay: 2 * time.Second}
	st := &fakeStats{}
	svc := NewShortService(repo, c, newTestIDs(t), st, task.Inline{}, Options{CacheTTL: time.Minute}, logger.Discard())

	start := time.Now()
	long, err := svc.Resolve(context.Background(), "0000000fast")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/fast", long)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, st.recorded(), 1)
	assert.Equal(t, SourceCache, st.recorded()[0].source)
}

func TestResolve_FailingCacheIsTransparent(t *testing.T) {
	repo := newTestRepo(t)
	st := &fakeStats{}
	svc := NewShortService(repo, failingCache{}, newTestIDs(t), st, task.Inline{}, Options{CacheTTL: time.Minute}, logger.Discard())
	ctx := context.Background()

	resp, err := svc.Create(ctx, "https://example.com/nocache")
	require.NoError(t, err)

	again, err := svc.Create(ctx, "https://example.com/nocache")
	require.NoError(t, err)
	assert.Equal(t, resp.Short, again.Short)

	long, err := svc.Resolve(ctx, resp.Short)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/nocache", long)

	_, err = svc.Resolve(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_StoppedRedisIsTransparent(t *testing.T) {
	env := setupTestService(t)
	ctx := context.Background()

	resp, err := env.svc.Create(ctx, "https://example.com/outage")
	require.NoError(t, err)

	env.redis.Close()

	long, err := env.svc.Resolve(ctx, resp.Short)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/outage", long)
}

func TestResolve_DatabaseDown(t *testing.T) {
	mr := miniredis.RunT(t)
	c := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer c.Close()
	svc := NewShortService(brokenRepo{}, c, newTestIDs(t), &fakeStats{}, task.Inline{}, Options{CacheTTL: time.Minute}, logger.Discard())
	ctx := context.Background()

	t.Run("cache miss surfaces the database error", func(t *testing.T) {
		_, err := svc.Resolve(ctx, "0000000none")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, err, errDBDown)
	})

	t.Run("cache hit still resolves", func(t *testing.T) {
		require.NoError(t, mr.Set("0000000warm", "https://example.com/warm"))
		long, err := svc.Resolve(ctx, "0000000warm")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/warm", long)
	})
}

// ============ STATS ============

func TestResolve_RecordsEveryVisit(t *testing.T) {
	repo := newTestRepo(t)
	recorder := stats.NewRecorder(repo, task.Inline{}, nil, logger.Discard())
	svc := NewShortService(repo, failingCache{}, newTestIDs(t), recorder, task.Inline{}, Options{CacheTTL: time.Minute}, logger.Discard())
	ctx := context.Background()

	resp, err := svc.Create(ctx, "https://example.com/a")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := svc.Resolve(ctx, resp.Short)
		require.NoError(t, err)
	}

	top, err := recorder.Top(ctx, stats.DefaultTopLimit)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, model.GotoStatTotal{LongURL: "https://example.com/a", Total: 5}, top[0])
}

func TestResolve_DetachedStatsNeverOvercount(t *testing.T) {
	repo := newTestRepo(t)
	runner := task.NewRunner(&config.TaskConfig{Workers: 2, QueueSize: 64, Timeout: time.Second}, logger.Discard())
	recorder := stats.NewRecorder(repo, runner, nil, logger.Discard())
	svc := NewShortService(repo, failingCache{}, newTestIDs(t), recorder, runner, Options{CacheTTL: time.Minute}, logger.Discard())
	ctx := context.Background()

	resp, err := svc.Create(ctx, "https://example.com/async")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := svc.Resolve(ctx, resp.Short)
		require.NoError(t, err)
	}
	require.NoError(t, runner.Close(ctx))

	top, err := recorder.Top(ctx, 10)
	require.NoError(t, err)
	var total int64
	for _, s := range top {
		if s.LongURL == "https://example.com/async" {
			total = s.Total
		}
	}
	assert.GreaterOrEqual(t, total, int64(0))
	assert.LessOrEqual(t, total, int64(5))
}
