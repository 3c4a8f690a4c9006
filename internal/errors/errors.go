package errors

import (
	"errors"
	"fmt"
)

// Common error types for the auth client
var (
	// Credential store errors
	ErrCredentialNotFound = errors.New("credential not found")
	ErrInvalidPassphrase  = errors.New("invalid credential store passphrase")
	ErrCorruptStore       = errors.New("credential store is corrupt")
	ErrUnknownKind        = errors.New("unknown credential kind")

	// Refresh errors
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrRefreshFailed  = errors.New("token refresh failed")
	ErrEmptyToken     = errors.New("refresh response carried no access token")

	// Replay errors
	ErrBodyNotReplayable = errors.New("request body cannot be replayed")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
