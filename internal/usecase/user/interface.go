package user

import (
	"context"

	domain "account-service/internal/domain/user"
)

// Service defines the account business logic consumed by transports.
// Every authenticated operation takes the actor explicitly and only ever
// touches the actor's own record.
type Service interface {
	SignUp(ctx context.Context, in SignUpRequest) (*Profile, error)
	GetProfile(ctx context.Context, actor domain.Actor) (*Profile, error)
	UpdateProfile(ctx context.Context, actor domain.Actor, in UpdateProfileRequest) (*Profile, error)
	ChangePassword(ctx context.Context, actor domain.Actor, in ChangePasswordRequest) error
}

var _ Service = (*Usecase)(nil)
