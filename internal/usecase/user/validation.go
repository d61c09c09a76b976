package user

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	domain "account-service/internal/domain/user"
	pkgerrors "account-service/pkg/errors"
	"account-service/pkg/security"
)

// Validation failure kinds. They are attached to field errors as codes, so
// callers can use errors.Is on whatever the usecase returns.
var (
	ErrDuplicateEmail    = errors.New("duplicate email")
	ErrWeakPassword      = errors.New("weak password")
	ErrPasswordMismatch  = errors.New("password mismatch")
	ErrIncorrectPassword = errors.New("incorrect password")
)

const (
	msgDuplicateEmail    = "user with this email already exists."
	msgPasswordMismatch  = "Password fields did not match"
	msgIncorrectPassword = "Old password is incorrect"
)

// PasswordValidator checks password strength against a policy.
type PasswordValidator interface {
	Validate(password string, attrs security.UserAttributes) error
}

// newValidator returns a validator that reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// formatValidationError converts validator.ValidationErrors into field-attributed messages.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	out := make(pkgerrors.ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		var msg string
		switch e.Tag() {
		case "required":
			msg = "This field is required."
		case "email":
			msg = "Enter a valid email address."
		case "max":
			msg = fmt.Sprintf("Ensure this field has no more than %s characters.", e.Param())
		default:
			msg = "This field is invalid."
		}
		out = append(out, pkgerrors.NewValidationError(e.Field(), msg))
	}
	return out
}

// checkNewPassword runs the strength policy and then the confirmation match.
// Both always run; every failure is reported, strength messages first.
func (uc *Usecase) checkNewPassword(password, confirmation string, attrs security.UserAttributes) pkgerrors.ValidationErrors {
	var errs pkgerrors.ValidationErrors

	if err := uc.passwords.Validate(password, attrs); err != nil {
		var weak *security.WeakPasswordError
		if errors.As(err, &weak) {
			for _, reason := range weak.Reasons {
				errs = append(errs, pkgerrors.NewCodedValidationError("password", reason, ErrWeakPassword))
			}
		} else {
			errs = append(errs, pkgerrors.NewCodedValidationError("password", err.Error(), ErrWeakPassword))
		}
	}

	if password != confirmation {
		errs = append(errs, pkgerrors.NewCodedValidationError("password2", msgPasswordMismatch, ErrPasswordMismatch))
	}

	return errs
}

// userAttributes lists the values a new password must not resemble.
func userAttributes(u *domain.User) security.UserAttributes {
	return security.UserAttributes{
		"email":      u.Email,
		"first name": u.FirstName,
		"last name":  u.LastName,
	}
}
