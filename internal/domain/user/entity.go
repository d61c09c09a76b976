package user

import "time"

// User represents an account in the system.
type User struct {
	ID           int64     // ID is the unique identifier for the user
	Email        string    // Email is the normalized, unique login address
	PasswordHash string    // PasswordHash is the encoded salted digest, never plaintext
	FirstName    string    // FirstName is optional
	LastName     string    // LastName is optional
	Groups       []string  // Groups are role names; read-only to the account owner
	Version      int64     // Version increments on every write and guards password changes
	CreatedAt    time.Time // CreatedAt is when the account signed up
	UpdatedAt    time.Time // UpdatedAt is the time of the last write
}

// Actor is the authenticated caller. Account operations always target the
// actor's own record.
type Actor struct {
	UserID   int64
	ClientID string // OAuth2 client the token was issued to, if known
	Scope    string
}
