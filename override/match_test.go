package override

import "testing"

func TestMatchesWildcardGrammar(t *testing.T) {
	cases := []struct {
		pattern, identifier string
		want                bool
	}{
		{"ceo@acme.com", "ceo@acme.com", true},
		{"ceo@acme.com", "cto@acme.com", false},
		{"*@acme.com", "eng@acme.com", true},
		{"*@acme.com", "eng@other.com", false},
		{"user-*", "user-123", true},
		{"user-*", "USER-123", false},
		{"*", "anything", true},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
		{"a**b", "ab", true},
		{"", "", true},
		{"", "x", false},
	}
	for _, tc := range cases {
		got := matches(tc.pattern, tc.identifier)
		if got != tc.want {
			t.Errorf("matches(%q, %q) = %v, want %v", tc.pattern, tc.identifier, got, tc.want)
		}
	}
}

func TestBestPrefersExactLiteralOverWildcard(t *testing.T) {
	candidates := []Override{
		{ID: "wild", Pattern: "*@acme.com", Limit: 100},
		{ID: "literal", Pattern: "ceo@acme.com", Limit: 10},
	}
	got, found := best(candidates, "ceo@acme.com")
	if !found || got.ID != "literal" {
		t.Fatalf("want literal override to win, got %+v found=%v", got, found)
	}
}

func TestBestFallsBackToWildcardForNonExactIdentifier(t *testing.T) {
	candidates := []Override{
		{ID: "wild", Pattern: "*@acme.com", Limit: 100},
		{ID: "literal", Pattern: "ceo@acme.com", Limit: 10},
	}
	got, found := best(candidates, "eng@acme.com")
	if !found || got.ID != "wild" {
		t.Fatalf("want wildcard override to win, got %+v found=%v", got, found)
	}
}

func TestBestReturnsNotFoundWhenNothingMatches(t *testing.T) {
	candidates := []Override{{ID: "wild", Pattern: "*@acme.com", Limit: 100}}
	_, found := best(candidates, "ceo@other.com")
	if found {
		t.Fatal("expected no match")
	}
}

func TestBestPrefersFewerWildcards(t *testing.T) {
	candidates := []Override{
		{ID: "two-star", Pattern: "*@*.com", Limit: 1},
		{ID: "one-star", Pattern: "*@acme.com", Limit: 2},
	}
	got, found := best(candidates, "eng@acme.com")
	if !found || got.ID != "one-star" {
		t.Fatalf("want fewer-wildcard pattern to win, got %+v found=%v", got, found)
	}
}

func TestBestPrefersLongerNonWildcardPrefixOnTie(t *testing.T) {
	candidates := []Override{
		{ID: "short-prefix", Pattern: "e*@acme.com", Limit: 1},
		{ID: "long-prefix", Pattern: "eng*@acme.com", Limit: 2},
	}
	got, found := best(candidates, "eng1@acme.com")
	if !found || got.ID != "long-prefix" {
		t.Fatalf("want longer-prefix pattern to win, got %+v found=%v", got, found)
	}
}

func TestBeatsBreaksTieLexicographically(t *testing.T) {
	// Same star count (1), same non-wildcard prefix length (2): the
	// lexicographically smaller pattern must win.
	zz := Override{ID: "zz", Pattern: "zz*"}
	aa := Override{ID: "aa", Pattern: "aa*"}
	if !beats(aa, zz) {
		t.Fatal("expected \"aa*\" to beat \"zz*\" on lexicographic tie-break")
	}
	if beats(zz, aa) {
		t.Fatal("expected \"zz*\" to lose the tie-break")
	}
}
