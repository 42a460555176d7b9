package singleflight

import "errors"

// ErrPanicked is delivered to joined waiters when the owning call panicked.
var ErrPanicked = errors.New("singleflight: owning call panicked")
