package auth

import (
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinPasswordLength is the minimum required password length
	MinPasswordLength = 8
	// DefaultBcryptCost is the cost factor used when none is configured
	DefaultBcryptCost = 12
)

// PasswordValidationError represents a specific password validation failure
type PasswordValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// PasswordValidator handles password validation and hashing
type PasswordValidator struct {
	cost int
}

// NewPasswordValidator creates a new PasswordValidator instance
func NewPasswordValidator(cost int) *PasswordValidator {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &PasswordValidator{cost: cost}
}

// ValidatePassword checks if a password meets all complexity requirements.
// Returns a list of validation errors (empty if password is valid).
func (v *PasswordValidator) ValidatePassword(password string) []PasswordValidationError {
	var errs []PasswordValidationError

	if len(password) < MinPasswordLength {
		errs = append(errs, PasswordValidationError{
			Field:   "password",
			Message: "Password must be at least 8 characters long",
		})
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if !hasUpper {
		errs = append(errs, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one uppercase letter",
		})
	}
	if !hasLower {
		errs = append(errs, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one lowercase letter",
		})
	}
	if !hasNumber {
		errs = append(errs, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one number",
		})
	}
	if !hasSpecial {
		errs = append(errs, PasswordValidationError{
			Field:   "password",
			Message: "Password must contain at least one special character",
		})
	}

	return errs
}

// IsValidPassword returns true if the password meets all requirements
func (v *PasswordValidator) IsValidPassword(password string) bool {
	return len(v.ValidatePassword(password)) == 0
}

// HashPassword creates a bcrypt hash of the password
func (v *PasswordValidator) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), v.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword compares a password with its bcrypt hash.
// Returns nil if they match, error otherwise.
func (v *PasswordValidator) VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
