package override

import "strings"

// matches reports whether pattern matches identifier under the
// wildcard grammar: '*' matches zero or more characters, no other
// metacharacters, matching done left-to-right. This is a two-pointer
// glob match with no backtracking stack: on a mismatch it restarts only
// from the most recent '*', one identifier character further on. It is
// linear in len(pattern)+len(identifier) when no restart happens; the
// worst case is O(len(pattern)*len(identifier)).
func matches(pattern, identifier string) bool {
	var pi, si int
	var starIdx = -1
	var matchIdx int

	for si < len(identifier) {
		if pi < len(pattern) && (pattern[pi] == identifier[si]) {
			pi++
			si++
		} else if pi < len(pattern) && pattern[pi] == '*' {
			starIdx = pi
			matchIdx = si
			pi++
		} else if starIdx != -1 {
			pi = starIdx + 1
			matchIdx++
			si = matchIdx
		} else {
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

func countStars(pattern string) int {
	return strings.Count(pattern, "*")
}

// nonWildcardPrefixLen is the length of the literal run before the
// first '*' in pattern (the full pattern length if it has none).
func nonWildcardPrefixLen(pattern string) int {
	if idx := strings.IndexByte(pattern, '*'); idx != -1 {
		return idx
	}
	return len(pattern)
}

// best returns the winning override for identifier among candidates:
//  1. an exact literal match (no '*' in the pattern, pattern == identifier)
//     beats any wildcard match.
//  2. among wildcard matches, fewest '*' characters wins.
//  3. ties broken by the longer non-wildcard (pre-'*') prefix.
//  4. further ties broken lexicographically on the pattern.
//
// Returns found=false if nothing in candidates matches identifier.
func best(candidates []Override, identifier string) (Override, bool) {
	var literal *Override
	var wildcardWinner *Override

	for i := range candidates {
		o := &candidates[i]
		if !strings.Contains(o.Pattern, "*") {
			if o.Pattern == identifier {
				literal = o
			}
			continue
		}
		if !matches(o.Pattern, identifier) {
			continue
		}
		if wildcardWinner == nil || beats(*o, *wildcardWinner) {
			oc := *o
			wildcardWinner = &oc
		}
	}

	if literal != nil {
		return *literal, true
	}
	if wildcardWinner != nil {
		return *wildcardWinner, true
	}
	return Override{}, false
}

// beats reports whether candidate outranks current under the wildcard
// tie-break rules (fewer stars, then longer literal prefix, then
// lexicographically smaller pattern).
func beats(candidate, current Override) bool {
	cs, us := countStars(candidate.Pattern), countStars(current.Pattern)
	if cs != us {
		return cs < us
	}
	cp, up := nonWildcardPrefixLen(candidate.Pattern), nonWildcardPrefixLen(current.Pattern)
	if cp != up {
		return cp > up
	}
	return candidate.Pattern < current.Pattern
}
