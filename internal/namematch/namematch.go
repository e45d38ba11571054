// Package namematch provides case-insensitive, singular/plural-aware
// name equality and scoring used by the router and the collection
// index to match a request's target name against a node's advertised
// collections and keywords.
package namematch

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// normalize lowercases, trims, and strips non-alphanumeric characters.
func Normalize(s string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "")
}

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// singularPlural reports whether a and b agree under a trailing-s
// singular/plural rule: "ticket"/"tickets", or equal once a trailing s
// is stripped from either side.
func singularPlural(a, b string) bool {
	if a == b {
		return false // equality is handled by the caller, not this rule
	}
	trimS := func(s string) string {
		if strings.HasSuffix(s, "s") && len(s) > 1 {
			return s[:len(s)-1]
		}
		return s
	}
	return trimS(a) == trimS(b) || trimS(a) == b || a == trimS(b)
}

// Matches reports whether a and b refer to the same name: equal,
// singular/plural variants of each other, or equal once normalized.
func Matches(a, b string) bool {
	fa, fb := fold(a), fold(b)
	if fa == fb {
		return true
	}
	if singularPlural(fa, fb) {
		return true
	}
	return Normalize(a) == Normalize(b)
}

// Contains reports whether candidate contains requested as a substring,
// case-insensitively.
func Contains(candidate, requested string) bool {
	return strings.Contains(fold(candidate), fold(requested))
}

// NormalizedMatch reports whether a and b are equal after normalization.
func NormalizedMatch(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Score rates how well candidate matches query, considering aliases,
// returning the best-scoring rule that applies (0 if none).
func Score(candidate, query string, aliases []string) int {
	best := scorePair(candidate, query)
	for _, alias := range aliases {
		if s := scorePair(alias, query); s > 0 {
			aliasScore := s
			switch {
			case s == 100:
				aliasScore = 80
			default:
				aliasScore = 40
			}
			if aliasScore > best {
				best = aliasScore
			}
		}
	}
	return best
}

func scorePair(candidate, query string) int {
	fc, fq := fold(candidate), fold(query)
	switch {
	case fc == fq:
		return 100
	case singularPlural(fc, fq):
		return 90
	case Normalize(candidate) == Normalize(query):
		return 85
	case strings.Contains(fc, fq):
		return 70
	case strings.Contains(fq, fc):
		return 50
	default:
		return 0
	}
}
