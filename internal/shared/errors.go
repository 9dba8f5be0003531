package shared

import "errors"

// Error taxonomy shared by every module. Services wrap these sentinels with
// fmt.Errorf("...: %w", ...) so handlers can map them onto HTTP statuses and
// callers can decide whether a retry makes sense.
var (
	// ErrValidation marks malformed caller input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a lost race or exhausted quantity. The caller may
	// re-fetch current state and resubmit.
	ErrConflict = errors.New("conflict")
	// ErrTransient marks a store connectivity/timeout failure. The whole
	// operation is safe to retry from the top because nothing was committed.
	ErrTransient = errors.New("transient store error")
	// ErrInvariant marks observed state that should be impossible, e.g. an
	// accumulator above its line quantity. It must never be auto-corrected;
	// processing of the affected document halts for manual reconciliation.
	ErrInvariant = errors.New("invariant violation")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
)
