package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidSession indicates an invalid session identifier.
	ErrInvalidSession = errors.New("invalid session")
	// ErrSessionNotFound indicates the session record does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists indicates the session record already exists.
	ErrSessionExists = errors.New("session already exists")
	// ErrNoFields indicates a merge request carried no fields.
	ErrNoFields = errors.New("no fields to merge")
	// ErrEmptyCommand indicates a push request carried an empty token.
	ErrEmptyCommand = errors.New("empty command token")
)
