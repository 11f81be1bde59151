// Package productclass implements ProductClass: the request/filter
// predicate used by subscriptions, access-control reduction, and the
// pattern-action engine's rule matching. A class is canonicalized on
// construction — specs are deduplicated and regexes compiled once — and its
// Intersect represents the compound AND of two overlapping classes as a
// list of (feedtype-mask, [regex...]) conjunctions evaluated left to right,
// since the intersection of two regular languages is not itself generally
// expressible as one regex.
package productclass

import (
	"regexp"
	"strings"
	"time"

	"github.com/Unidata/LDM-sub012/internal/product"
)

// Zero and End are the well-known cursor-adjacent time bounds: a class with
// From == Zero matches from the beginning of recorded time.
var (
	Zero = time.Unix(0, 0).UTC()
	End  = time.Unix(1<<62, 0).UTC()
)

// Conjunct is one AND-clause: a feedtype mask plus one or more regexes that
// must all match the product identifier.
type Conjunct struct {
	Mask     uint32
	Patterns []*regexp.Regexp
	Raw      []string // original regex sources, in pattern order
}

func (c Conjunct) matches(info product.Info) bool {
	if c.Mask&info.Feedtype == 0 {
		return false
	}
	for _, p := range c.Patterns {
		if !p.MatchString(info.Identifier) {
			return false
		}
	}
	return true
}

func (c Conjunct) key() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(sortlessHex(c.Mask)))
	for _, r := range c.Raw {
		b.WriteByte('\x00')
		b.WriteString(r)
	}
	return b.String()
}

func sortlessHex(v uint32) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		out[i] = hexdigits[v&0xf]
		v >>= 4
	}
	return string(out)
}

// Class is the canonical (from,to,conjuncts) predicate. Conjuncts are
// OR'd together; an empty Conjuncts list matches nothing.
type Class struct {
	From      time.Time
	To        time.Time
	Conjuncts []Conjunct
	// SigHint carries a trailing "SIG=<32 hex>" spec that was stripped from
	// Conjuncts during canonicalization: it requests resuming strictly
	// after the named product rather than filtering by content.
	SigHint *product.Signature
}

// sigPattern recognizes the trailing-signature encoding described in
// spec.md §4.2: a spec whose feedtype is NONE (mask 0) and whose pattern is
// literally "SIG=<32 hex digits>".
var sigPattern = regexp.MustCompile(`^SIG=([0-9A-Fa-f]{32})$`)

// RawSpec is one (feedtype-mask, regex-source) pair as read from a
// subscription request or config line, before canonicalization.
type RawSpec struct {
	Mask    uint32
	Pattern string
}

// New canonicalizes a list of raw specs into a Class: regexes are compiled
// once, duplicate conjuncts are merged, and a trailing SIG= spec is
// extracted into SigHint.
func New(from, to time.Time, specs []RawSpec) (*Class, error) {
	c := &Class{From: from, To: to}
	seen := make(map[string]bool, len(specs))

	for _, s := range specs {
		if s.Mask == 0 {
			if m := sigPattern.FindStringSubmatch(s.Pattern); m != nil {
				sig, err := product.ParseSignature(m[1])
				if err != nil {
					return nil, err
				}
				c.SigHint = &sig
				continue
			}
		}
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, err
		}
		conj := Conjunct{Mask: s.Mask, Patterns: []*regexp.Regexp{re}, Raw: []string{s.Pattern}}
		key := conj.key()
		if seen[key] {
			continue
		}
		seen[key] = true
		c.Conjuncts = append(c.Conjuncts, conj)
	}
	return c, nil
}

// Match reports whether info falls in [From,To] and satisfies at least one
// conjunct. An empty Conjuncts list matches nothing, per spec.md §3.
func (c *Class) Match(info product.Info) bool {
	if info.ArrivalTimestamp.Before(c.From) || info.ArrivalTimestamp.After(c.To) {
		return false
	}
	for _, conj := range c.Conjuncts {
		if conj.matches(info) {
			return true
		}
	}
	return false
}

// Intersect computes A ∩ B: the time range narrows to the overlap, and each
// pair of conjuncts from A and B contributes a merged conjunct (mask AND,
// patterns concatenated) whenever the resulting mask is non-empty. Results
// are deduplicated exactly as New does.
func Intersect(a, b *Class) *Class {
	out := &Class{From: maxTime(a.From, b.From), To: minTime(a.To, b.To)}
	seen := make(map[string]bool)
	for _, ca := range a.Conjuncts {
		for _, cb := range b.Conjuncts {
			mask := ca.Mask & cb.Mask
			if mask == 0 {
				continue
			}
			patterns := make([]*regexp.Regexp, 0, len(ca.Patterns)+len(cb.Patterns))
			raw := make([]string, 0, len(ca.Raw)+len(cb.Raw))
			rawSeen := make(map[string]bool, len(ca.Raw)+len(cb.Raw))
			addClause := func(re *regexp.Regexp, src string) {
				if rawSeen[src] {
					return
				}
				rawSeen[src] = true
				patterns = append(patterns, re)
				raw = append(raw, src)
			}
			for i, re := range ca.Patterns {
				addClause(re, ca.Raw[i])
			}
			for i, re := range cb.Patterns {
				addClause(re, cb.Raw[i])
			}
			conj := Conjunct{Mask: mask, Patterns: patterns, Raw: raw}
			key := conj.key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out.Conjuncts = append(out.Conjuncts, conj)
		}
	}
	return out
}

// Equal reports whether two classes are identical after canonicalization
// (used by the round-trip property test): same time bounds, same conjuncts
// in the same order, same signature hint.
func (c *Class) Equal(o *Class) bool {
	if !c.From.Equal(o.From) || !c.To.Equal(o.To) {
		return false
	}
	if (c.SigHint == nil) != (o.SigHint == nil) {
		return false
	}
	if c.SigHint != nil && *c.SigHint != *o.SigHint {
		return false
	}
	if len(c.Conjuncts) != len(o.Conjuncts) {
		return false
	}
	for i := range c.Conjuncts {
		if c.Conjuncts[i].key() != o.Conjuncts[i].key() {
			return false
		}
	}
	return true
}

// Encode renders a Class back into the RawSpec list New accepts, so that
// decode(encode(class)) round-trips (spec.md §8).
func (c *Class) Encode() (from, to time.Time, specs []RawSpec) {
	for _, conj := range c.Conjuncts {
		for _, raw := range conj.Raw {
			specs = append(specs, RawSpec{Mask: conj.Mask, Pattern: raw})
		}
	}
	if c.SigHint != nil {
		specs = append(specs, RawSpec{Mask: 0, Pattern: "SIG=" + c.SigHint.String()})
	}
	return c.From, c.To, specs
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
