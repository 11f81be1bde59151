package accesscontrol

import "errors"

var (
	ErrBadLine     = errors.New("accesscontrol: malformed rule line")
	ErrUnknownVerb = errors.New("accesscontrol: unknown rule verb")
	ErrBadRegex    = errors.New("accesscontrol: invalid regular expression")
)
