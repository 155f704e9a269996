// ABOUTME: Input validation for identities and account credentials
// ABOUTME: Registers the "identity" tag on a shared go-playground validator

package auth

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

// identityPattern is the accepted shape of a user identity. It excludes
// whitespace, path separators and control characters.
var identityPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,63}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("identity", func(fl validator.FieldLevel) bool {
		return identityPattern.MatchString(fl.Field().String())
	})
	return v
}

// RegisterRequest is the body of an account registration.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,identity"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// LoginRequest is the body of a login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// ValidIdentity reports whether s is a syntactically valid identity.
func ValidIdentity(s string) bool {
	return validate.Var(s, "required,identity") == nil
}
