package session

import "errors"

// ErrNotFound is returned by Get, AppendEvent and ApplyDelta when no session
// exists for the given id. Callers that want create-on-miss semantics should
// check for it with errors.Is and call Create explicitly.
var ErrNotFound = errors.New("session not found")
