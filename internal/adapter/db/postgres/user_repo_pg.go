package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"account-service/internal/domain/user"
	pkgerrors "account-service/pkg/errors"
)

// UserRepoPG implements the Repository interface using GORM. It runs on
// PostgreSQL in production and on SQLite in tests and single-node setups.
type UserRepoPG struct {
	db  *gorm.DB    // GORM database connection
	log *zap.Logger // Structured logger for database operations
}

// NewUserRepoPG creates a new instance of UserRepoPG.
func NewUserRepoPG(db *gorm.DB, log *zap.Logger) *UserRepoPG {
	return &UserRepoPG{db: db, log: log}
}

// UserSchema represents the database schema for the users table.
type UserSchema struct {
	ID           int64         `gorm:"primaryKey;autoIncrement"`
	Email        string        `gorm:"size:50;not null;uniqueIndex"` // Normalized before insert
	PasswordHash string        `gorm:"size:255;not null"`
	FirstName    string        `gorm:"size:150;not null;default:''"`
	LastName     string        `gorm:"size:150;not null;default:''"`
	Version      int64         `gorm:"not null;default:1"`
	Groups       []GroupSchema `gorm:"many2many:user_groups;joinForeignKey:UserID;joinReferences:GroupID"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName specifies the table name for the UserSchema model.
func (UserSchema) TableName() string {
	return "users"
}

// GroupSchema represents a named role an account can belong to.
type GroupSchema struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"size:150;not null;uniqueIndex"`
}

// TableName specifies the table name for the GroupSchema model.
func (GroupSchema) TableName() string {
	return "account_groups"
}

// Migrate creates or updates the tables this repository needs.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&GroupSchema{}, &UserSchema{})
}

// Create inserts a new user together with its group memberships in one
// transaction. A taken email is reported as AlreadyExistsError.
func (r *UserRepoPG) Create(ctx context.Context, u *user.User) (*user.User, error) {
	if u == nil {
		return nil, errors.New("user cannot be nil")
	}

	model := UserSchema{
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Version:      1,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, name := range u.Groups {
			g, err := resolveGroup(tx, name)
			if err != nil {
				return err
			}
			model.Groups = append(model.Groups, g)
		}
		if err := tx.Create(&model).Error; err != nil {
			if isDuplicateKey(err) {
				return errDuplicateEmail
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errDuplicateEmail) {
			r.log.Warn("duplicate email on insert")
			return nil, pkgerrors.NewAlreadyExistsError("user", "user with this email already exists")
		}
		r.log.Error("failed to create user in db", zap.Error(err))
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	r.log.Info("user created in db", zap.Int64("id", model.ID))
	return toDomain(&model), nil
}

// GetByID retrieves a user from the database by their unique ID.
func (r *UserRepoPG) GetByID(ctx context.Context, id int64) (*user.User, error) {
	var model UserSchema
	if err := r.withGroups(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.Debug("user not found", zap.Int64("id", id))
			return nil, pkgerrors.NewNotFoundError("user", fmt.Sprintf("user not found: id=%d", id))
		}
		r.log.Error("failed to get user from db", zap.Error(err), zap.Int64("id", id))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return toDomain(&model), nil
}

// GetCredentials reads the row without groups. It is the read that precedes
// a password change, so it never goes through a cache.
func (r *UserRepoPG) GetCredentials(ctx context.Context, id int64) (*user.User, error) {
	var model UserSchema
	if err := r.db.WithContext(ctx).First(&model, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NewNotFoundError("user", fmt.Sprintf("user not found: id=%d", id))
		}
		r.log.Error("failed to get credentials from db", zap.Error(err), zap.Int64("id", id))
		return nil, fmt.Errorf("failed to get credentials: %w", err)
	}

	return toDomain(&model), nil
}

// GetByEmail retrieves a user from the database by their normalized email address.
func (r *UserRepoPG) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	var model UserSchema
	if err := r.withGroups(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.Debug("user not found by email", zap.String("email", email))
			return nil, pkgerrors.NewNotFoundError("user", "user not found")
		}
		r.log.Error("failed to get user by email from db", zap.Error(err))
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return toDomain(&model), nil
}

// UpdateProfile writes the name fields only. Email, hash and groups are
// never touched on this path.
func (r *UserRepoPG) UpdateProfile(ctx context.Context, u *user.User) (*user.User, error) {
	if u == nil {
		return nil, errors.New("user cannot be nil")
	}

	res := r.db.WithContext(ctx).Model(&UserSchema{}).Where("id = ?", u.ID).Updates(map[string]any{
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"version":    gorm.Expr("version + 1"),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		r.log.Error("failed to update profile in db", zap.Error(res.Error), zap.Int64("id", u.ID))
		return nil, fmt.Errorf("failed to update profile: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.NewNotFoundError("user", fmt.Sprintf("user not found: id=%d", u.ID))
	}

	r.log.Info("profile updated in db", zap.Int64("id", u.ID))
	return r.GetByID(ctx, u.ID)
}

// UpdatePassword stores a new hash only if the row still has expectedVersion.
// A moved version yields ConflictError; a missing row yields NotFoundError.
func (r *UserRepoPG) UpdatePassword(ctx context.Context, id, expectedVersion int64, hash string) error {
	db := r.db.WithContext(ctx)

	res := db.Model(&UserSchema{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]any{
			"password_hash": hash,
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		r.log.Error("failed to update password in db", zap.Error(res.Error), zap.Int64("id", id))
		return fmt.Errorf("failed to update password: %w", res.Error)
	}

	if res.RowsAffected == 0 {
		var count int64
		if err := db.Model(&UserSchema{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if count == 0 {
			return pkgerrors.NewNotFoundError("user", fmt.Sprintf("user not found: id=%d", id))
		}
		r.log.Warn("password update lost version race", zap.Int64("id", id), zap.Int64("expected_version", expectedVersion))
		return pkgerrors.NewConflictError("account was modified concurrently, retry the request")
	}

	r.log.Info("password updated in db", zap.Int64("id", id))
	return nil
}

func (r *UserRepoPG) withGroups(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Preload("Groups", func(db *gorm.DB) *gorm.DB {
		return db.Order("name")
	})
}

var errDuplicateEmail = errors.New("duplicate email")

// resolveGroup returns the named group, creating it if needed. A concurrent
// sign-up creating the same group is not an error.
func resolveGroup(tx *gorm.DB, name string) (GroupSchema, error) {
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(&GroupSchema{Name: name}).Error; err != nil {
		return GroupSchema{}, fmt.Errorf("create group %q: %w", name, err)
	}

	var g GroupSchema
	if err := tx.Where("name = ?", name).First(&g).Error; err != nil {
		return GroupSchema{}, fmt.Errorf("resolve group %q: %w", name, err)
	}
	return g, nil
}

// isDuplicateKey reports a unique constraint violation. Drivers without
// error translation are matched on their message. Callers decide which
// constraint was hit from the statement that failed.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func toDomain(m *UserSchema) *user.User {
	groups := make([]string, 0, len(m.Groups))
	for _, g := range m.Groups {
		groups = append(groups, g.Name)
	}
	return &user.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Groups:       groups,
		Version:      m.Version,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
