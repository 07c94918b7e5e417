package keystore

import (
	"unicode"
	"unicode/utf8"

	"github.com/pzverkov/quantum-shield/internal/constants"
	qerrors "github.com/pzverkov/quantum-shield/internal/errors"
)

// ValidatePassword enforces the master password policy: at least
// MinPasswordLength characters including an upper-case letter, a
// lower-case letter and a digit.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < constants.MinPasswordLength {
		return qerrors.Invalid("ValidatePassword", "password must be at least %d characters", constants.MinPasswordLength)
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	switch {
	case !upper:
		return qerrors.Invalid("ValidatePassword", "password must contain an upper-case letter")
	case !lower:
		return qerrors.Invalid("ValidatePassword", "password must contain a lower-case letter")
	case !digit:
		return qerrors.Invalid("ValidatePassword", "password must contain a digit")
	}
	return nil
}
