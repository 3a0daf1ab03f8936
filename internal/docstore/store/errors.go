package store

import "errors"

// ErrEntityNotFound is reported when an update or delete targets an id that
// is not in the cache. The id is skipped; the rest of the call proceeds.
var ErrEntityNotFound = errors.New("entity not found")
