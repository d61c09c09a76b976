package cached

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"account-service/internal/adapter/cache"
	domain "account-service/internal/domain/user"
	pkgerrors "account-service/pkg/errors"
)

// fakeRepo is an in-memory user.Repository that counts reads.
type fakeRepo struct {
	mu    sync.Mutex
	users map[int64]domain.User
	reads atomic.Int64
	delay time.Duration
}

func newFakeRepo(users ...domain.User) *fakeRepo {
	f := &fakeRepo{users: map[int64]domain.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeRepo) Create(_ context.Context, u *domain.User) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u.ID = int64(len(f.users) + 1)
	u.Version = 1
	f.users[u.ID] = *u
	out := *u
	return &out, nil
}

// GetByID snapshots the row, then waits out delay before returning it.
func (f *fakeRepo) GetByID(_ context.Context, id int64) (*domain.User, error) {
	f.reads.Add(1)
	f.mu.Lock()
	u, ok := f.users[id]
	delay := f.delay
	f.mu.Unlock()
	time.Sleep(delay)
	if !ok {
		return nil, pkgerrors.NewNotFoundError("user", "user not found")
	}
	return &u, nil
}

func (f *fakeRepo) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

func (f *fakeRepo) GetCredentials(_ context.Context, id int64) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("user", "user not found")
	}
	return &u, nil
}

func (f *fakeRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, pkgerrors.NewNotFoundError("user", "user not found")
}

func (f *fakeRepo) UpdateProfile(_ context.Context, u *domain.User) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.users[u.ID]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("user", "user not found")
	}
	cur.FirstName, cur.LastName = u.FirstName, u.LastName
	cur.Version++
	f.users[u.ID] = cur
	return &cur, nil
}

func (f *fakeRepo) UpdatePassword(_ context.Context, id, expectedVersion int64, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.users[id]
	if !ok {
		return pkgerrors.NewNotFoundError("user", "user not found")
	}
	if cur.Version != expectedVersion {
		return pkgerrors.NewConflictError("conflict")
	}
	cur.PasswordHash = hash
	cur.Version++
	f.users[id] = cur
	return nil
}

func setup(t *testing.T, repo *fakeRepo) (*CachedUserRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return newReplica(t, repo, mr), mr
}

// newReplica builds a cached repository on a shared Redis, as a second
// service instance would.
func newReplica(t *testing.T, repo *fakeRepo, mr *miniredis.Miniredis) *CachedUserRepository {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := zaptest.NewLogger(t)
	return NewCachedUserRepository(repo, cache.NewRedisUserCache(client, time.Minute, log), log)
}

func TestCachedUserRepository_GetByID_CachesAfterFirstRead(t *testing.T) {
	db := newFakeRepo(domain.User{ID: 1, Email: "a@x.com", Version: 1})
	repo, mr := setup(t, db)
	ctx := context.Background()

	first, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	second, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, first.Email, second.Email)
	assert.Equal(t, int64(1), db.reads.Load())
	assert.True(t, mr.Exists(cache.CacheKey(1)))
}

func TestCachedUserRepository_GetByID_NotFoundNotCached(t *testing.T) {
	db := newFakeRepo()
	repo, mr := setup(t, db)

	_, err := repo.GetByID(context.Background(), 9)

	var notFound *pkgerrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
	assert.False(t, mr.Exists(cache.CacheKey(9)))
}

func TestCachedUserRepository_GetByID_SingleFlight(t *testing.T) {
	db := newFakeRepo(domain.User{ID: 1, Email: "a@x.com"})
	db.delay = 50 * time.Millisecond
	repo, _ := setup(t, db)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.GetByID(context.Background(), 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, db.reads.Load(), int64(10))
}

func TestCachedUserRepository_GetByID_RedisDownFallsBack(t *testing.T) {
	db := newFakeRepo(domain.User{ID: 1, Email: "a@x.com"})
	repo, mr := setup(t, db)
	mr.Close()

	u, err := repo.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", u.Email)
}

func TestCachedUserRepository_UpdateProfile_Invalidates(t *testing.T) {
	db := newFakeRepo(domain.User{ID: 1, Email: "a@x.com", Version: 1})
	repo, mr := setup(t, db)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	require.True(t, mr.Exists(cache.CacheKey(1)))

	_, err = repo.UpdateProfile(ctx, &domain.User{ID: 1, FirstName: "Ada"})
	require.NoError(t, err)
	assert.False(t, mr.Exists(cache.CacheKey(1)))

	u, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Ada", u.FirstName)
	assert.Equal(t, int64(2), u.Version)
}

func TestCachedUserRepository_UpdatePassword_InvalidatesOnConflict(t *testing.T) {
	db := newFakeRepo(domain.User{ID: 1, Email: "a@x.com", PasswordHash: "old", Version: 1})
	repo, mr := setup(t, db)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)

	err = repo.UpdatePassword(ctx, 1, 7, "new")

	var conflict *pkgerrors.ConflictError
	assert.True(t, errors.As(err, &conflict))
	assert.False(t, mr.Exists(cache.CacheKey(1)))
}

func TestCachedUserRepository_UpdatePassword_FreshHashAfterWrite(t *testing.T) {
	db := newFakeRepo(domain.User{ID: 1, Email: "a@x.com", PasswordHash: "old", Version: 1})
	repo, _ := setup(t, db)
	ctx := context.Background()

	_, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, repo.UpdatePassword(ctx, 1, 1, "new"))

	u, err := repo.GetCredentials(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", u.PasswordHash)
	assert.Equal(t, int64(2), u.Version)
}

func TestCachedUserRepository_GetCredentials_IgnoresLateRefill(t *testing.T) {
	db := newFakeRepo(domain.User{ID: 1, Email: "a@x.com", PasswordHash: "old", Version: 1})
	mr := miniredis.RunT(t)
	reader := newReplica(t, db, mr)
	writer := newReplica(t, db, mr)
	ctx := context.Background()

	// a slow read on one instance starts before the password change...
	db.setDelay(100 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := reader.GetByID(ctx, 1)
		assert.NoError(t, err)
	}()
	time.Sleep(20 * time.Millisecond)

	// ...the other instance changes the password and invalidates...
	require.NoError(t, writer.UpdatePassword(ctx, 1, 1, "new"))
	<-done
	db.setDelay(0)

	// ...and the read finishes afterwards, caching the old version.
	require.True(t, mr.Exists(cache.CacheKey(1)))
	stale, err := writer.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stale.Version)
	assert.Empty(t, stale.PasswordHash)

	u, err := writer.GetCredentials(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "new", u.PasswordHash)
	assert.Equal(t, int64(2), u.Version)
}

func TestCachedUserRepository_NilCache(t *testing.T) {
	db := newFakeRepo(domain.User{ID: 1, Email: "a@x.com", Version: 1})
	repo := NewCachedUserRepository(db, nil, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	_, err = repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), db.reads.Load())

	require.NoError(t, repo.UpdatePassword(ctx, 1, 1, "new"))
}
