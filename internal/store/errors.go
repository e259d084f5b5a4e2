package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyTerminal is returned when a verdict write is rejected because
// the submission already holds a terminal verdict. Terminal verdicts are
// written exactly once.
var ErrAlreadyTerminal = errors.New("submission verdict already terminal")

// ErrLeaseHeld is returned when a judging claim is rejected because
// another worker's claim on the submission is still within its lease.
var ErrLeaseHeld = errors.New("submission claim lease still held")
