package repo

import "errors"

// ErrNotFound is returned when a referenced incident does not exist.
var ErrNotFound = errors.New("not found")
