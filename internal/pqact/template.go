package pqact

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Unidata/LDM-sub012/internal/product"
)

var (
	captureDigit  = regexp.MustCompile(`\\([0-9])`)
	captureParen  = regexp.MustCompile(`\\\((\d+)\)`)
	strftimeSpec  = regexp.MustCompile(`%[A-Za-z%]`)
	dateComponent = regexp.MustCompile(`\((\d{1,2}):(yyyy|yy|mm|mmm|dd|ddd|hh)\)`)
	seqToken      = regexp.MustCompile(`\(seq\)`)
)

// Expand applies the substitution passes of spec.md §4.7 in order: capture
// groups, strftime conversions, (DD:...) date-rollover components, then
// (seq). now is the wall-clock time used to bound the date-rollover
// candidate search; production callers pass time.Now().
func Expand(tmpl string, matches []string, info product.Info, now time.Time) string {
	out := expandCaptures(tmpl, matches)
	out = expandStrftime(out, info.ArrivalTimestamp.UTC())
	out = expandDateComponents(out, info.ArrivalTimestamp.UTC(), now)
	out = seqToken.ReplaceAllString(out, strconv.FormatUint(info.Sequence, 10))
	return out
}

func expandCaptures(tmpl string, matches []string) string {
	out := captureParen.ReplaceAllStringFunc(tmpl, func(m string) string {
		n, _ := strconv.Atoi(captureParen.FindStringSubmatch(m)[1])
		return groupOrEmpty(matches, n)
	})
	out = captureDigit.ReplaceAllStringFunc(out, func(m string) string {
		n, _ := strconv.Atoi(m[1:])
		return groupOrEmpty(matches, n)
	})
	return out
}

func groupOrEmpty(matches []string, n int) string {
	if n < 0 || n >= len(matches) {
		return ""
	}
	return matches[n]
}

func expandStrftime(tmpl string, t time.Time) string {
	return strftimeSpec.ReplaceAllStringFunc(tmpl, func(spec string) string {
		switch spec[1] {
		case 'Y':
			return fmt.Sprintf("%04d", t.Year())
		case 'y':
			return fmt.Sprintf("%02d", t.Year()%100)
		case 'm':
			return fmt.Sprintf("%02d", int(t.Month()))
		case 'd':
			return fmt.Sprintf("%02d", t.Day())
		case 'H':
			return fmt.Sprintf("%02d", t.Hour())
		case 'M':
			return fmt.Sprintf("%02d", t.Minute())
		case 'S':
			return fmt.Sprintf("%02d", t.Second())
		case 'j':
			return fmt.Sprintf("%03d", t.YearDay())
		case '%':
			return "%"
		default:
			return spec
		}
	})
}

// expandDateComponents resolves (DD:component) tokens, where DD is the
// already-capture-substituted day-of-month hint. Because a product can
// arrive slightly after local midnight on a month boundary, the day number
// alone is ambiguous about which month/year it belongs to; this picks the
// candidate month among {previous, current, next} whose resulting date is
// no later than now+1.5 days and closest to arrival.
func expandDateComponents(tmpl string, arrival, now time.Time) string {
	limit := now.Add(36 * time.Hour)
	return dateComponent.ReplaceAllStringFunc(tmpl, func(m string) string {
		groups := dateComponent.FindStringSubmatch(m)
		dd, err := strconv.Atoi(groups[1])
		if err != nil {
			return m
		}
		candidate := resolveDateCandidate(dd, arrival, limit)
		return formatDateComponent(candidate, groups[2])
	})
}

func resolveDateCandidate(dayOfMonth int, arrival, limit time.Time) time.Time {
	var best time.Time
	bestSet := false
	var bestDiff time.Duration
	for _, delta := range []int{-1, 0, 1} {
		probe := time.Date(arrival.Year(), arrival.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, delta, 0)
		candidate := time.Date(probe.Year(), probe.Month(), dayOfMonth, arrival.Hour(), arrival.Minute(), arrival.Second(), 0, time.UTC)
		if candidate.After(limit) {
			continue
		}
		diff := candidate.Sub(arrival)
		if diff < 0 {
			diff = -diff
		}
		if !bestSet || diff < bestDiff {
			best, bestDiff, bestSet = candidate, diff, true
		}
	}
	if !bestSet {
		return arrival
	}
	return best
}

func formatDateComponent(t time.Time, component string) string {
	switch component {
	case "yyyy":
		return fmt.Sprintf("%04d", t.Year())
	case "yy":
		return fmt.Sprintf("%02d", t.Year()%100)
	case "mm":
		return fmt.Sprintf("%02d", int(t.Month()))
	case "mmm":
		return strings.ToLower(t.Month().String()[:3])
	case "dd":
		return fmt.Sprintf("%02d", t.Day())
	case "ddd":
		return fmt.Sprintf("%03d", t.YearDay())
	case "hh":
		return fmt.Sprintf("%02d", t.Hour())
	default:
		return ""
	}
}
