package collector

import "errors"

// ErrNotFound is returned by Store.GetSession when no session with the
// requested ID has ever been recorded.
var ErrNotFound = errors.New("collector: not found")
