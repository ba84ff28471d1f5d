package engine

import "errors"

// All engine failures are tagged with one of these markers so callers can
// classify them with errors.Is. None of them corrupts engine state: an
// operation either commits fully or leaves everything untouched.
var (
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrUnavailable  = errors.New("no copies available")
	ErrLoanLimit    = errors.New("loan limit reached")
	ErrNoActiveLoan = errors.New("no active loan")
)
