// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrForbidden indicates the caller is not allowed to act on the entity.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthorized indicates failed authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest indicates the request is malformed or fails validation.
	ErrBadRequest = errors.New("bad request")
)
