package accesscontrol

import (
	"github.com/Unidata/LDM-sub012/internal/product"
	"github.com/Unidata/LDM-sub012/internal/productclass"
)

// FilteredClass pairs a ProductClass with the ALLOW entries' secondary
// not_ere exclusions, applied at send time rather than at subscription
// reduction time (spec.md §4.5 step 3). It satisfies pq.Matcher.
type FilteredClass struct {
	Class    *productclass.Class
	Excludes []*AllowRule
}

func (f FilteredClass) Match(info product.Info) bool {
	if f.Class == nil || !f.Class.Match(info) {
		return false
	}
	for _, a := range f.Excludes {
		if a.Not != nil && a.Not.MatchString(info.Identifier) {
			return false
		}
	}
	return true
}

// allowedFor builds the union-of-ALLOW class offered to peerHost: every
// ALLOW rule whose host pattern matches contributes one (feedtype, ok_ere)
// conjunct. The matching rules themselves are also returned so their
// not_ere exclusions can be applied later by the caller.
func (t *Table) allowedFor(peerHost string) (*productclass.Class, []*AllowRule) {
	var specs []productclass.RawSpec
	var matched []*AllowRule
	for i := range t.Allow {
		a := &t.Allow[i]
		if !a.Host.MatchString(peerHost) {
			continue
		}
		specs = append(specs, productclass.RawSpec{Mask: a.Feedtype, Pattern: a.OK.String()})
		matched = append(matched, a)
	}
	cls, _ := productclass.New(productclass.Zero, productclass.End, specs)
	return cls, matched
}

// Reduce implements the subscription-reduction contract of spec.md §4.4
// steps 2-4: narrow requested to what peerHost is allowed, then further
// narrow against any existing subscription held by the same peer (the
// process registry passes nil when there is none). changed reports
// whether the result differs from requested, signalling the caller to
// reply RECLASS instead of OK.
func (t *Table) Reduce(peerHost string, requested *productclass.Class, existing *productclass.Class) (reduced *productclass.Class, excludes []*AllowRule, changed bool) {
	allowed, matched := t.allowedFor(peerHost)
	reduced = productclass.Intersect(requested, allowed)
	if existing != nil {
		reduced = productclass.Intersect(reduced, existing)
	}
	changed = !reduced.Equal(requested)
	return reduced, matched, changed
}
