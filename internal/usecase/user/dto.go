package user

// SignUpRequest represents the request payload for creating a new account.
type SignUpRequest struct {
	Email     string `json:"email" validate:"required,email,max=50"`
	Password  string `json:"password" validate:"required"`
	Password2 string `json:"password2" validate:"required"`
}

// UpdateProfileRequest represents the request payload for updating the caller's profile.
// A nil field is left unchanged.
type UpdateProfileRequest struct {
	FirstName *string `json:"first_name" validate:"omitempty,max=150"`
	LastName  *string `json:"last_name" validate:"omitempty,max=150"`
}

// ChangePasswordRequest represents the request payload for changing the caller's password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	Password    string `json:"password" validate:"required"`
	Password2   string `json:"password2" validate:"required"`
}

// Profile is the public view of an account. It never carries the password hash.
type Profile struct {
	ID        int64
	Email     string
	FirstName string
	LastName  string
	Groups    []string
}
