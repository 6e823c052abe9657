package topic

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"
)

// SimilarityThreshold is the ratio at which two normalized topics are considered the same
const SimilarityThreshold = 0.85

var stopwords = map[string]bool{
	"top": true, "most": true, "ranking": true, "ranked": true, "the": true, "a": true, "an": true,
	"first": true, "second": true, "third": true, "fourth": true, "fifth": true, "sixth": true,
	"seventh": true, "eighth": true, "ninth": true, "tenth": true,
}

var numericRe = regexp.MustCompile(`^\d+(st|nd|rd|th)?$`)

// Normalize makes the dedup key of a topic: lowercase, no punctuation, no ranking words,
// ordinals or numbers, plural tokens singularized, single spaces
func Normalize(topic string) string {
	clean := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '\'' || r == '’':
			return -1
		}
		return ' '
	}, topic)

	tokens := strings.Fields(clean)
	res := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if stopwords[tok] || numericRe.MatchString(tok) {
			continue
		}
		res = append(res, singular(tok))
	}
	return strings.Join(res, " ")
}

// singular drops the plural suffix of longer tokens
func singular(tok string) string {
	r := []rune(tok)
	if len(r) <= 3 || r[len(r)-1] != 's' {
		return tok
	}
	switch r[len(r)-2] {
	case 's', 'u', 'i':
		return tok // glass, virus, analysis
	}
	return string(r[:len(r)-1])
}

// Similarity returns the sequence matcher ratio of two normalized topics over their characters
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	m := difflib.NewMatcher(runes(a), runes(b))
	return m.Ratio()
}

func runes(s string) []string {
	res := make([]string, 0, len(s))
	for _, r := range s {
		res = append(res, string(r))
	}
	return res
}

// Match is the closest existing key to a candidate
type Match struct {
	Key        string
	Similarity float64
}

// Collides reports whether key equals or is similar to any of existing, returning the closest match
func Collides(key string, existing []string) (bool, Match) {
	var best Match
	for _, e := range existing {
		if e == key {
			return true, Match{Key: e, Similarity: 1}
		}
		if s := Similarity(key, e); s > best.Similarity {
			best = Match{Key: e, Similarity: s}
		}
	}
	return best.Similarity >= SimilarityThreshold, best
}
