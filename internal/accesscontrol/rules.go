// Package accesscontrol parses the ALLOW/REQUEST/ACCEPT/EXEC rule file
// (spec.md §3, §4.4, §6) and implements subscription reduction: narrowing
// a downstream's requested product class to what it is actually allowed
// to receive.
package accesscontrol

import "regexp"

// Mode distinguishes the two ACCEPT delivery styles (spec.md §4.5 step 3).
type Mode int

const (
	ModePrimary Mode = iota
	ModeAlternate
)

// AllowRule grants a downstream host a feedtype/pattern window, plus an
// optional fine-grained exclusion (not_ere) applied later by the
// UpstreamWorker's send path rather than at subscription-reduction time.
type AllowRule struct {
	Feedtype uint32
	Host     *regexp.Regexp
	OK       *regexp.Regexp
	Not      *regexp.Regexp // nil if absent
}

// RequestRule is a standing subscription this node holds with an upstream.
type RequestRule struct {
	Feedtype   uint32
	Identifier *regexp.Regexp
	Upstream   string // host[:port]
}

// AcceptRule states what this node will accept when offered by an
// upstream peer.
type AcceptRule struct {
	Feedtype   uint32
	Identifier *regexp.Regexp
	Host       *regexp.Regexp
	Mode       Mode
}

// ExecRule is a standing auxiliary child process started at startup.
type ExecRule struct {
	Argv []string
}

// Table is the full rule set built at config load and rebuilt wholesale
// on SIGHUP (spec.md §5).
type Table struct {
	Allow   []AllowRule
	Request []RequestRule
	Accept  []AcceptRule
	Exec    []ExecRule
}
