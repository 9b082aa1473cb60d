// Package common defines shared constants, sentinel errors and small helper
// functions used across the cache subsystem. Callers should use errors.Is to
// match the sentinel values.
package common

import "errors"

var (

	// repository / storage errors
	ErrNotFound = errors.New("not found")
	ErrStorage  = errors.New("storage error")

	// key resolution errors
	ErrKeyFetch           = errors.New("key fetch failed")
	ErrInvalidKeyMaterial = errors.New("invalid key material")

	// crypto errors
	ErrIntegrity = errors.New("integrity check failed")

	// notification pipeline errors
	ErrNotificationDecrypt = errors.New("notification decrypt failed")

	// auth token errors
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// validation errors
	ErrValidation = errors.New("validation error")
)
