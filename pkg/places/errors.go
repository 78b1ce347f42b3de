package places

import "errors"

var (
	// ErrNotFound indicates the provider does not know the place.
	ErrNotFound = errors.New("place not found")
	// ErrUnavailable indicates no tier could answer and the provider may not
	// be called (offline, quota exhausted or signed out).
	ErrUnavailable = errors.New("place unavailable")
)
