package accesscontrol

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Unidata/LDM-sub012/internal/feedtype"
	"github.com/Unidata/LDM-sub012/internal/ldmconf"
)

// Load parses an access-control file per spec.md §6: lines `ALLOW`,
// `ACCEPT`, `REQUEST`, `EXEC` with fields as in §3, using the shared
// ldmconf lexical rules (comments, continuations, quoted substrings).
func Load(r io.Reader, reg *feedtype.Registry) (*Table, error) {
	lines, err := ldmconf.ReadLogicalLines(r)
	if err != nil {
		return nil, err
	}

	t := &Table{}
	for _, line := range lines {
		tokens := ldmconf.Tokenize(line)
		if len(tokens) == 0 {
			continue
		}
		switch strings.ToUpper(tokens[0]) {
		case "ALLOW":
			rule, err := parseAllow(tokens[1:], reg)
			if err != nil {
				return nil, fmt.Errorf("accesscontrol: %q: %w", line, err)
			}
			t.Allow = append(t.Allow, rule)
		case "REQUEST":
			rule, err := parseRequest(tokens[1:], reg)
			if err != nil {
				return nil, fmt.Errorf("accesscontrol: %q: %w", line, err)
			}
			t.Request = append(t.Request, rule)
		case "ACCEPT":
			rule, err := parseAccept(tokens[1:], reg)
			if err != nil {
				return nil, fmt.Errorf("accesscontrol: %q: %w", line, err)
			}
			t.Accept = append(t.Accept, rule)
		case "EXEC":
			if len(tokens) < 2 {
				return nil, fmt.Errorf("accesscontrol: %q: %w", line, ErrBadLine)
			}
			t.Exec = append(t.Exec, ExecRule{Argv: tokens[1:]})
		default:
			return nil, fmt.Errorf("accesscontrol: %q: %w", line, ErrUnknownVerb)
		}
	}
	return t, nil
}

// ALLOW feedtype host_pattern ok_regex [not_regex]
func parseAllow(fields []string, reg *feedtype.Registry) (AllowRule, error) {
	if len(fields) < 3 {
		return AllowRule{}, ErrBadLine
	}
	bits, err := reg.ParseExpr(fields[0])
	if err != nil {
		return AllowRule{}, err
	}
	host, err := regexp.Compile(fields[1])
	if err != nil {
		return AllowRule{}, fmt.Errorf("%w: host pattern: %v", ErrBadRegex, err)
	}
	ok, err := regexp.Compile(fields[2])
	if err != nil {
		return AllowRule{}, fmt.Errorf("%w: ok_ere: %v", ErrBadRegex, err)
	}
	rule := AllowRule{Feedtype: bits, Host: host, OK: ok}
	if len(fields) >= 4 {
		not, err := regexp.Compile(fields[3])
		if err != nil {
			return AllowRule{}, fmt.Errorf("%w: not_ere: %v", ErrBadRegex, err)
		}
		rule.Not = not
	}
	return rule, nil
}

// REQUEST feedtype identifier_pattern upstream_host[:port]
func parseRequest(fields []string, reg *feedtype.Registry) (RequestRule, error) {
	if len(fields) < 3 {
		return RequestRule{}, ErrBadLine
	}
	bits, err := reg.ParseExpr(fields[0])
	if err != nil {
		return RequestRule{}, err
	}
	ident, err := regexp.Compile(fields[1])
	if err != nil {
		return RequestRule{}, fmt.Errorf("%w: identifier pattern: %v", ErrBadRegex, err)
	}
	return RequestRule{Feedtype: bits, Identifier: ident, Upstream: fields[2]}, nil
}

// ACCEPT feedtype identifier_pattern host_pattern [primary|alternate]
func parseAccept(fields []string, reg *feedtype.Registry) (AcceptRule, error) {
	if len(fields) < 3 {
		return AcceptRule{}, ErrBadLine
	}
	bits, err := reg.ParseExpr(fields[0])
	if err != nil {
		return AcceptRule{}, err
	}
	ident, err := regexp.Compile(fields[1])
	if err != nil {
		return AcceptRule{}, fmt.Errorf("%w: identifier pattern: %v", ErrBadRegex, err)
	}
	host, err := regexp.Compile(fields[2])
	if err != nil {
		return AcceptRule{}, fmt.Errorf("%w: host pattern: %v", ErrBadRegex, err)
	}
	mode := ModePrimary
	if len(fields) >= 4 && strings.EqualFold(fields[3], "alternate") {
		mode = ModeAlternate
	}
	return AcceptRule{Feedtype: bits, Identifier: ident, Host: host, Mode: mode}, nil
}
