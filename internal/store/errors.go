package store

import "errors"

// ErrNotFound is returned by the Get* accessors when no row exists under
// the requested key, distinct from an underlying pebble.ErrNotFound so
// callers never need to import the storage engine's error type.
var ErrNotFound = errors.New("store: not found")
