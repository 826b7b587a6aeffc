package models

import "errors"

// ErrNotFound is returned by the data layer when a row does not exist or is
// not owned by the caller.
var ErrNotFound = errors.New("not found")
