package errors

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInternal        = errors.New("internal error")
	ErrNotFound        = errors.New("not found")
	// ErrAccessDenied is returned for every credential failure: wrong password,
	// unknown email, revoked session, mismatched or expired refresh token.
	// Callers must not be able to tell these apart.
	ErrAccessDenied     = errors.New("access denied")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrAlreadyExists    = errors.New("already exists")
	ErrStoreUnavailable = errors.New("store unavailable")
)

func NewInvalidArgument(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}

func WrapInternal(err error, context string) error {
	return fmt.Errorf("%w: %s: %v", ErrInternal, context, err)
}

func WrapStoreUnavailable(err error, context string) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, context, err)
}

func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
