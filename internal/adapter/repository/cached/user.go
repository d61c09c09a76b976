package cached

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"account-service/internal/adapter/cache"
	domain "account-service/internal/domain/user"
	"account-service/internal/usecase/user"
)

// CachedUserRepository implements user.Repository with caching support.
// It wraps a persistent repository (DB) and a cache implementation.
// Every write drops the cached entry. Cached entries carry no password hash;
// GetCredentials always goes to the database.
type CachedUserRepository struct {
	dbRepo user.Repository
	cache  cache.UserCache
	log    *zap.Logger
	group  singleflight.Group
}

// NewCachedUserRepository creates a new instance of CachedUserRepository.
func NewCachedUserRepository(dbRepo user.Repository, cache cache.UserCache, log *zap.Logger) *CachedUserRepository {
	return &CachedUserRepository{
		dbRepo: dbRepo,
		cache:  cache,
		log:    log,
	}
}

// Create delegates to the DB repository. New rows are cached lazily.
func (r *CachedUserRepository) Create(ctx context.Context, u *domain.User) (*domain.User, error) {
	return r.dbRepo.Create(ctx, u)
}

// GetByID retrieves an account by ID using Cache-Aside pattern.
func (r *CachedUserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	// Try to get from cache first
	if r.cache != nil {
		cachedUser, err := r.cache.Get(ctx, id)
		if err != nil {
			r.log.Warn("cache get error, falling back to database", zap.Int64("id", id), zap.Error(err))
		} else if cachedUser != nil {
			return cachedUser, nil
		}
	}

	// Cache miss or cache disabled - use single-flight to prevent stampede
	key := fmt.Sprintf("user:%d", id)
	result, err, _ := r.group.Do(key, func() (any, error) {
		u, err := r.dbRepo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if r.cache != nil {
			if err := r.cache.Set(ctx, u); err != nil {
				r.log.Warn("failed to cache user", zap.Int64("id", id), zap.Error(err))
			}
		}

		return u, nil
	})
	if err != nil {
		return nil, err
	}

	// callers sharing a flight must not alias each other's copy
	shared := result.(*domain.User)
	u := *shared
	u.Groups = append([]string{}, shared.Groups...)
	return &u, nil
}

// GetCredentials bypasses the cache. A read racing a password change can
// put an older record back into the cache after invalidation.
func (r *CachedUserRepository) GetCredentials(ctx context.Context, id int64) (*domain.User, error) {
	return r.dbRepo.GetCredentials(ctx, id)
}

// GetByEmail delegates to the DB repository.
func (r *CachedUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.dbRepo.GetByEmail(ctx, email)
}

// UpdateProfile updates the name fields in DB and invalidates the cache.
func (r *CachedUserRepository) UpdateProfile(ctx context.Context, u *domain.User) (*domain.User, error) {
	updated, err := r.dbRepo.UpdateProfile(ctx, u)
	r.invalidate(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdatePassword updates the hash in DB and invalidates the cache. The entry
// is dropped on failure too: a conflict means the cached version is stale.
func (r *CachedUserRepository) UpdatePassword(ctx context.Context, id, expectedVersion int64, hash string) error {
	err := r.dbRepo.UpdatePassword(ctx, id, expectedVersion, hash)
	r.invalidate(ctx, id)
	return err
}

func (r *CachedUserRepository) invalidate(ctx context.Context, id int64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, id); err != nil {
		r.log.Warn("failed to invalidate cache", zap.Int64("id", id), zap.Error(err))
	}
}
