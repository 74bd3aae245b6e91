package analyzer

import (
	"fmt"
	"strings"

	"ragstore/internal/domain"
)

// ParsedQuery is the normalized form of a keyword query. All terms are
// implicitly ANDed; each phrase must additionally appear as a contiguous
// token run. Phrase terms are included in Terms so they participate in
// scoring.
type ParsedQuery struct {
	Terms   []string
	Phrases [][]string
}

// Empty reports whether the query normalized to nothing rankable.
func (q ParsedQuery) Empty() bool {
	return len(q.Terms) == 0
}

// ParseQuery parses a query string supporting implicit AND of terms and
// quoted phrase matching. An unterminated quote fails with
// domain.ErrInvalidQuery.
func (t *Tokenizer) ParseQuery(query string) (ParsedQuery, error) {
	var parsed ParsedQuery
	rest := query

	for {
		start := strings.IndexByte(rest, '"')
		if start < 0 {
			parsed.Terms = append(parsed.Terms, t.Tokenize(rest)...)
			break
		}

		end := strings.IndexByte(rest[start+1:], '"')
		if end < 0 {
			return ParsedQuery{}, fmt.Errorf("%w: unterminated phrase quote", domain.ErrInvalidQuery)
		}

		parsed.Terms = append(parsed.Terms, t.Tokenize(rest[:start])...)

		phrase := t.Tokenize(rest[start+1 : start+1+end])
		if len(phrase) > 0 {
			parsed.Phrases = append(parsed.Phrases, phrase)
			parsed.Terms = append(parsed.Terms, phrase...)
		}

		rest = rest[start+1+end+1:]
	}

	return parsed, nil
}

// MatchesPhrase reports whether the phrase occurs as a contiguous run in
// the token sequence.
func MatchesPhrase(tokens []string, phrase []string) bool {
	if len(phrase) == 0 {
		return true
	}
	if len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}
