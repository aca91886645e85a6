package shared

import "errors"

var (
	// ErrNoPrincipal indicates a request reached a guarded path without authentication.
	ErrNoPrincipal = errors.New("no authenticated principal")
	// ErrRoleNotAllowed indicates the caller's role may not perform the action.
	ErrRoleNotAllowed = errors.New("role not allowed")
)
