package user

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	domain "account-service/internal/domain/user"
	pkgerrors "account-service/pkg/errors"
	"account-service/pkg/logger"
	"account-service/pkg/security"

	"github.com/go-playground/validator/v10"
)

// Repository defines the interface for user data access operations.
// It abstracts the data layer, allowing different implementations
// (e.g., PostgreSQL, SQLite, a caching decorator) to be used interchangeably.
type Repository interface {
	Create(ctx context.Context, u *domain.User) (*domain.User, error)                 // Insert; AlreadyExistsError on duplicate email
	GetByID(ctx context.Context, id int64) (*domain.User, error)                      // NotFoundError when absent; may be cached, without PasswordHash
	GetCredentials(ctx context.Context, id int64) (*domain.User, error)               // Always read from the store, with PasswordHash
	GetByEmail(ctx context.Context, email string) (*domain.User, error)               // NotFoundError when absent
	UpdateProfile(ctx context.Context, u *domain.User) (*domain.User, error)          // Writes name fields only
	UpdatePassword(ctx context.Context, id, expectedVersion int64, hash string) error // ConflictError if version moved
}

// Usecase implements the business logic for account management operations.
// It provides a clean separation between the transport layer and data layer.
type Usecase struct {
	repo          Repository              // Repository for data access
	hasher        security.PasswordHasher // Slow salted hash for credentials
	passwords     PasswordValidator       // Password strength policy
	defaultGroups []string                // Groups attached at sign-up
	log           *zap.Logger             // Logger for structured logging
	validate      *validator.Validate     // Validator for request shape
}

// Option customizes a Usecase.
type Option func(*Usecase)

// WithDefaultGroups attaches the named groups to every new account.
func WithDefaultGroups(groups ...string) Option {
	return func(uc *Usecase) {
		uc.defaultGroups = append([]string(nil), groups...)
	}
}

// New creates a new instance of Usecase.
func New(r Repository, hasher security.PasswordHasher, passwords PasswordValidator, log *zap.Logger, opts ...Option) *Usecase {
	uc := &Usecase{
		repo:      r,
		hasher:    hasher,
		passwords: passwords,
		log:       log,
		validate:  newValidator(),
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// SignUp creates a new account. Checks run in this order: request shape,
// password strength and confirmation match (reported together), then email
// uniqueness, which the store enforces at insert.
func (uc *Usecase) SignUp(ctx context.Context, in SignUpRequest) (*Profile, error) {
	log := logger.WithContext(ctx, uc.log)

	in.Email = domain.NormalizeEmail(in.Email)
	log.Debug("signing up user")

	if err := uc.validate.Struct(in); err != nil {
		log.Warn("validate failed", zap.Error(err))
		return nil, formatValidationError(err)
	}

	if errs := uc.checkNewPassword(in.Password, in.Password2, security.UserAttributes{"email": in.Email}); len(errs) > 0 {
		log.Warn("sign up rejected", zap.Error(errs))
		return nil, errs
	}

	hash, err := uc.hasher.Hash(in.Password)
	if err != nil {
		log.Error("failed to hash password", zap.Error(err))
		return nil, pkgerrors.NewInternalError("failed to hash password", err)
	}

	created, err := uc.repo.Create(ctx, &domain.User{
		Email:        in.Email,
		PasswordHash: hash,
		Groups:       uc.defaultGroups,
	})
	if err != nil {
		var exists *pkgerrors.AlreadyExistsError
		if errors.As(err, &exists) {
			log.Warn("sign up rejected: email already registered")
			return nil, pkgerrors.ValidationErrors{
				pkgerrors.NewCodedValidationError("email", msgDuplicateEmail, ErrDuplicateEmail),
			}
		}
		log.Error("failed to create user", zap.Error(err))
		return nil, err
	}

	log.Info("user signed up", zap.Int64("id", created.ID))
	return toProfile(created), nil
}

// GetProfile returns the actor's own profile.
func (uc *Usecase) GetProfile(ctx context.Context, actor domain.Actor) (*Profile, error) {
	u, err := uc.loadActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	return toProfile(u), nil
}

// UpdateProfile changes the actor's name fields. Email, password and groups
// are not reachable through this path.
func (uc *Usecase) UpdateProfile(ctx context.Context, actor domain.Actor, in UpdateProfileRequest) (*Profile, error) {
	log := logger.WithContext(ctx, uc.log)
	log.Info("updating profile", zap.Int64("id", actor.UserID))

	if err := uc.validate.Struct(in); err != nil {
		log.Warn("validate failed", zap.Error(err))
		return nil, formatValidationError(err)
	}

	u, err := uc.loadActor(ctx, actor)
	if err != nil {
		return nil, err
	}

	if in.FirstName != nil {
		u.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		u.LastName = strings.TrimSpace(*in.LastName)
	}

	updated, err := uc.repo.UpdateProfile(ctx, u)
	if err != nil {
		log.Error("failed to update profile", zap.Int64("id", actor.UserID), zap.Error(err))
		return nil, err
	}

	return toProfile(updated), nil
}

// ChangePassword replaces the actor's password hash. Checks run in this
// order: request shape, old password (stops here on failure), new password
// strength and confirmation match (reported together). The write is
// conditional on the version read here, so a concurrent change is reported
// as a conflict instead of being overwritten.
func (uc *Usecase) ChangePassword(ctx context.Context, actor domain.Actor, in ChangePasswordRequest) error {
	log := logger.WithContext(ctx, uc.log)
	log.Info("changing password", zap.Int64("id", actor.UserID))

	if err := uc.validate.Struct(in); err != nil {
		log.Warn("validate failed", zap.Error(err))
		return formatValidationError(err)
	}

	u, err := uc.loadCredentials(ctx, actor)
	if err != nil {
		return err
	}

	ok, err := uc.hasher.Verify(u.PasswordHash, in.OldPassword)
	if err != nil {
		log.Error("stored password hash unusable", zap.Int64("id", u.ID), zap.Error(err))
		return pkgerrors.NewInternalError("failed to verify password", err)
	}
	if !ok {
		log.Warn("old password incorrect", zap.Int64("id", u.ID))
		return pkgerrors.ValidationErrors{
			pkgerrors.NewCodedValidationError("old_password", msgIncorrectPassword, ErrIncorrectPassword),
		}
	}

	if errs := uc.checkNewPassword(in.Password, in.Password2, userAttributes(u)); len(errs) > 0 {
		log.Warn("new password rejected", zap.Int64("id", u.ID), zap.Error(errs))
		return errs
	}

	hash, err := uc.hasher.Hash(in.Password)
	if err != nil {
		log.Error("failed to hash password", zap.Error(err))
		return pkgerrors.NewInternalError("failed to hash password", err)
	}

	if err := uc.repo.UpdatePassword(ctx, u.ID, u.Version, hash); err != nil {
		log.Error("failed to update password", zap.Int64("id", u.ID), zap.Error(err))
		return err
	}

	log.Info("password changed", zap.Int64("id", u.ID))
	return nil
}

// loadActor fetches the actor's record. A token for a user that no longer
// exists is treated as invalid credentials.
func (uc *Usecase) loadActor(ctx context.Context, actor domain.Actor) (*domain.User, error) {
	return uc.load(ctx, actor, uc.repo.GetByID)
}

// loadCredentials is loadActor for password checks: the hash and version
// come from the store, never from a cached copy.
func (uc *Usecase) loadCredentials(ctx context.Context, actor domain.Actor) (*domain.User, error) {
	return uc.load(ctx, actor, uc.repo.GetCredentials)
}

func (uc *Usecase) load(ctx context.Context, actor domain.Actor, get func(context.Context, int64) (*domain.User, error)) (*domain.User, error) {
	u, err := get(ctx, actor.UserID)
	if err != nil {
		var notFound *pkgerrors.NotFoundError
		if errors.As(err, &notFound) {
			uc.log.Warn("actor has no account", zap.Int64("id", actor.UserID))
			return nil, pkgerrors.NewUnauthorizedError("user not found")
		}
		uc.log.Error("failed to load user", zap.Int64("id", actor.UserID), zap.Error(err))
		return nil, err
	}
	return u, nil
}

func toProfile(u *domain.User) *Profile {
	groups := u.Groups
	if groups == nil {
		groups = []string{}
	}
	return &Profile{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Groups:    groups,
	}
}
