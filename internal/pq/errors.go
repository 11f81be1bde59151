package pq

import "errors"

// Insert outcomes (spec.md §4.3.1).
var (
	ErrDuplicate = errors.New("pq: duplicate product signature")
	ErrTooBig    = errors.New("pq: product exceeds data region capacity")
)

// Consume outcomes (spec.md §4.3.2).
var (
	ErrEndOfQueue   = errors.New("pq: end of queue")
	ErrLockConflict = errors.New("pq: lock conflict")
	ErrCorrupt      = errors.New("pq: corrupt slot or header")
)

// Failure-model errors (spec.md §4.3.3, §7).
var (
	ErrSystem       = errors.New("pq: system error")
	ErrWouldBlock   = errors.New("pq: would block")
	ErrOverrun      = errors.New("pq: cursor overrun")
	ErrAlreadyOpen  = errors.New("pq: queue already open")
	ErrNotOpen      = errors.New("pq: queue not open")
	ErrInvalidMagic = errors.New("pq: bad magic or version")
)
