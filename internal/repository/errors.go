package repository

import "errors"

// ErrNotFound is returned by any repository when the requested key has no
// value. Services map it to their own business errors.
var ErrNotFound = errors.New("not found")
