package feedtype

import "errors"

// ErrNoSuchEntry is returned by set operations whose result has no
// registered name in the feedtype registry.
var ErrNoSuchEntry = errors.New("feedtype: no such entry")

// ErrNameDefined is returned when registering a name that already exists.
// Name-to-value bindings never overwrite.
var ErrNameDefined = errors.New("feedtype: name already defined")

// ErrBitRange is returned when a bit index falls outside 0..31.
var ErrBitRange = errors.New("feedtype: bit index out of range")

// ErrBitTaken is returned when a primitive bit index is already bound to
// a different name.
var ErrBitTaken = errors.New("feedtype: bit index already bound")
