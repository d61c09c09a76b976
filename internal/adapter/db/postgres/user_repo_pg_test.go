package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"account-service/internal/domain/user"
	pkgerrors "account-service/pkg/errors"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	// every connection to :memory: is a separate database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	return db
}

func setupRepo(t *testing.T) *UserRepoPG {
	return NewUserRepoPG(setupTestDB(t), zaptest.NewLogger(t))
}

func TestUserRepoPG_CreateAndGet(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &user.User{
		Email:        "a@x.com",
		PasswordHash: "hash",
		Groups:       []string{"members", "beta"},
	})
	require.NoError(t, err)
	assert.Positive(t, created.ID)
	assert.Equal(t, int64(1), created.Version)
	assert.ElementsMatch(t, []string{"members", "beta"}, created.Groups)

	byID, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", byID.Email)
	assert.Equal(t, "hash", byID.PasswordHash)
	assert.Equal(t, []string{"beta", "members"}, byID.Groups)

	byEmail, err := repo.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)
}

func TestUserRepoPG_Create_NoGroups(t *testing.T) {
	repo := setupRepo(t)

	created, err := repo.Create(context.Background(), &user.User{Email: "a@x.com", PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Empty(t, created.Groups)
	assert.NotNil(t, created.Groups)
}

func TestUserRepoPG_Create_SharesGroups(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepoPG(db, zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := repo.Create(ctx, &user.User{Email: "a@x.com", PasswordHash: "h", Groups: []string{"members"}})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &user.User{Email: "b@x.com", PasswordHash: "h", Groups: []string{"members"}})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&GroupSchema{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUserRepoPG_Create_GroupCreatedConcurrently(t *testing.T) {
	db := setupTestDB(t)
	repo := NewUserRepoPG(db, zaptest.NewLogger(t))

	// another sign-up inserts the group between our lookup and our insert
	var once sync.Once
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:concurrent_group", func(tx *gorm.DB) {
		g, ok := tx.Statement.Dest.(*GroupSchema)
		if !ok {
			return
		}
		once.Do(func() {
			require.NoError(t, tx.Session(&gorm.Session{NewDB: true}).
				Exec("INSERT INTO account_groups (name) VALUES (?)", g.Name).Error)
		})
	}))

	created, err := repo.Create(context.Background(), &user.User{Email: "fresh@x.com", PasswordHash: "h", Groups: []string{"members"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"members"}, created.Groups)

	stored, err := repo.GetByEmail(context.Background(), "fresh@x.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"members"}, stored.Groups)

	var count int64
	require.NoError(t, db.Model(&GroupSchema{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestUserRepoPG_Create_DuplicateEmail(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, &user.User{Email: "a@x.com", PasswordHash: "first"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &user.User{Email: "a@x.com", PasswordHash: "second"})

	var exists *pkgerrors.AlreadyExistsError
	require.ErrorAs(t, err, &exists)

	// the first account is untouched
	stored, err := repo.GetByEmail(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Equal(t, "first", stored.PasswordHash)
}

func TestUserRepoPG_Create_ConcurrentSameEmail(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Create(ctx, &user.User{Email: "race@x.com", PasswordHash: fmt.Sprintf("h%d", i)})
			mu.Lock()
			defer mu.Unlock()
			var exists *pkgerrors.AlreadyExistsError
			switch {
			case err == nil:
				successes++
			case assert.ErrorAs(t, err, &exists):
				dupes++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, dupes)
}

func TestUserRepoPG_Create_Nil(t *testing.T) {
	repo := setupRepo(t)
	_, err := repo.Create(context.Background(), nil)
	assert.Error(t, err)
}

func TestUserRepoPG_GetNotFound(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	var notFound *pkgerrors.NotFoundError

	_, err := repo.GetByID(ctx, 404)
	assert.ErrorAs(t, err, &notFound)

	_, err = repo.GetByEmail(ctx, "nobody@x.com")
	assert.ErrorAs(t, err, &notFound)
}

func TestUserRepoPG_UpdateProfile(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &user.User{Email: "a@x.com", PasswordHash: "hash", Groups: []string{"members"}})
	require.NoError(t, err)

	updated, err := repo.UpdateProfile(ctx, &user.User{
		ID:           created.ID,
		Email:        "evil@x.com",
		PasswordHash: "evil",
		FirstName:    "Ada",
		LastName:     "Lovelace",
	})
	require.NoError(t, err)

	assert.Equal(t, "Ada", updated.FirstName)
	assert.Equal(t, "Lovelace", updated.LastName)
	assert.Equal(t, "a@x.com", updated.Email)
	assert.Equal(t, "hash", updated.PasswordHash)
	assert.Equal(t, []string{"members"}, updated.Groups)
	assert.Equal(t, created.Version+1, updated.Version)
}

func TestUserRepoPG_UpdateProfile_NotFound(t *testing.T) {
	repo := setupRepo(t)

	_, err := repo.UpdateProfile(context.Background(), &user.User{ID: 99, FirstName: "x"})

	var notFound *pkgerrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestUserRepoPG_UpdatePassword(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &user.User{Email: "a@x.com", PasswordHash: "old"})
	require.NoError(t, err)

	require.NoError(t, repo.UpdatePassword(ctx, created.ID, created.Version, "new"))

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", stored.PasswordHash)
	assert.Equal(t, created.Version+1, stored.Version)
}

func TestUserRepoPG_UpdatePassword_StaleVersion(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &user.User{Email: "a@x.com", PasswordHash: "old"})
	require.NoError(t, err)

	// a profile edit moves the version
	_, err = repo.UpdateProfile(ctx, &user.User{ID: created.ID, FirstName: "Ada"})
	require.NoError(t, err)

	err = repo.UpdatePassword(ctx, created.ID, created.Version, "new")

	var conflict *pkgerrors.ConflictError
	require.ErrorAs(t, err, &conflict)

	stored, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "old", stored.PasswordHash)
}

func TestUserRepoPG_GetCredentials(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &user.User{Email: "a@x.com", PasswordHash: "old", Groups: []string{"members"}})
	require.NoError(t, err)
	require.NoError(t, repo.UpdatePassword(ctx, created.ID, created.Version, "new"))

	creds, err := repo.GetCredentials(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", creds.PasswordHash)
	assert.Equal(t, created.Version+1, creds.Version)
	assert.Equal(t, "a@x.com", creds.Email)

	_, err = repo.GetCredentials(ctx, 99)
	var notFound *pkgerrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestUserRepoPG_UpdatePassword_NotFound(t *testing.T) {
	repo := setupRepo(t)

	err := repo.UpdatePassword(context.Background(), 99, 1, "new")

	var notFound *pkgerrors.NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(fmt.Errorf("wrap: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, isDuplicateKey(fmt.Errorf("UNIQUE constraint failed: users.email")))
	assert.True(t, isDuplicateKey(fmt.Errorf(`ERROR: duplicate key value violates unique constraint "idx_users_email"`)))
	assert.False(t, isDuplicateKey(fmt.Errorf("connection refused")))
}
