package pqact

import "errors"

var (
	ErrBadLine       = errors.New("pqact: malformed config line")
	ErrBadRegex      = errors.New("pqact: invalid pattern")
	ErrUnknownAction = errors.New("pqact: unknown action")
	ErrUnknownFlag   = errors.New("pqact: unknown flag")
)
