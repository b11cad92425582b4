package errorutil

import "errors"

// ErrDataIntegrity is a base error type to use for failures that are due to
// a malformed event stream or trace.
var ErrDataIntegrity = errors.New("data integrity error")

// ErrUnsupported is a base error type for usages the profiler refuses to
// handle instead of producing misattributed timings.
var ErrUnsupported = errors.New("unsupported usage")
