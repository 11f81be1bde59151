package pqact

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/Unidata/LDM-sub012/internal/feedtype"
	"github.com/Unidata/LDM-sub012/internal/ldmconf"
)

// Load parses a pqact configuration: one rule per logical line,
//
//	<feedtype-expr> <pattern> <action> [-transient] [-wait] <template...>
//
// reusing the same continuation-joining, comment-stripping,
// quote-respecting lexer as internal/accesscontrol.
func Load(r io.Reader, reg *feedtype.Registry) ([]*Rule, error) {
	lines, err := ldmconf.ReadLogicalLines(r)
	if err != nil {
		return nil, fmt.Errorf("pqact: read config: %w", err)
	}

	var rules []*Rule
	for _, line := range lines {
		tokens := ldmconf.Tokenize(line)
		if len(tokens) < 3 {
			return nil, fmt.Errorf("pqact: %w: %q", ErrBadLine, line)
		}

		rule := &Rule{Pattern: tokens[1]}

		mask, err := reg.ParseExpr(tokens[0])
		if err != nil {
			return nil, fmt.Errorf("pqact: feedtype expr %q: %w", tokens[0], err)
		}
		rule.FeedtypeMask = mask

		if !rule.isElseToken(tokens[1]) {
			re, err := regexp.Compile(tokens[1])
			if err != nil {
				return nil, fmt.Errorf("pqact: %w: %q: %v", ErrBadRegex, tokens[1], err)
			}
			rule.Regex = re
		} else {
			rule.Pattern = elsePattern
		}

		rule.Action = Action(strings.ToLower(tokens[2]))
		if !validAction(rule.Action) {
			return nil, fmt.Errorf("pqact: %w: %q", ErrUnknownAction, tokens[2])
		}

		rest := tokens[3:]
		for len(rest) > 0 && strings.HasPrefix(rest[0], "-") {
			switch rest[0] {
			case "-transient":
				rule.Transient = true
			case "-wait":
				rule.Wait = true
			default:
				return nil, fmt.Errorf("pqact: %w: %q", ErrUnknownFlag, rest[0])
			}
			rest = rest[1:]
		}
		rule.Template = strings.Join(rest, " ")

		rules = append(rules, rule)
	}
	return rules, nil
}

func (r *Rule) isElseToken(pattern string) bool {
	return pattern == "_ELSE_" || pattern == elsePattern
}

func validAction(a Action) bool {
	switch a {
	case ActionFile, ActionStdioFile, ActionPipe, ActionSpipe, ActionXpipe, ActionExec, ActionDBFile, ActionNoop:
		return true
	default:
		return false
	}
}
