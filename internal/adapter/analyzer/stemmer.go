package analyzer

import "strings"

// PorterStemmer reduces English words to their stems so that query and
// index terms agree across inflections ("retrieval", "retrieve",
// "retrieving" all map to the same term).
type PorterStemmer struct {
	step2Rules []suffixRule
	step3Rules []suffixRule
	step4Rules []string
}

// suffixRule rewrites a suffix when the remaining stem has enough
// measure (vowel-consonant sequences) to stay a plausible word.
type suffixRule struct {
	suffix  string
	replace string
}

func NewPorterStemmer() *PorterStemmer {
	// Rule order matters where suffixes overlap ("ational" before
	// "tional", "fulness" before "ful").
	return &PorterStemmer{
		step2Rules: []suffixRule{
			{"ational", "ate"}, {"tional", "tion"}, {"enci", "ence"},
			{"anci", "ance"}, {"izer", "ize"}, {"abli", "able"},
			{"entli", "ent"}, {"ousli", "ous"}, {"alli", "al"},
			{"eli", "e"}, {"ization", "ize"}, {"ation", "ate"},
			{"ator", "ate"}, {"alism", "al"}, {"iveness", "ive"},
			{"fulness", "ful"}, {"ousness", "ous"}, {"aliti", "al"},
			{"iviti", "ive"}, {"biliti", "ble"},
		},
		step3Rules: []suffixRule{
			{"icate", "ic"}, {"ative", ""}, {"alize", "al"},
			{"iciti", "ic"}, {"ical", "ic"}, {"ful", ""}, {"ness", ""},
		},
		step4Rules: []string{
			"ement", "ance", "ence", "able", "ible", "ment", "ant",
			"ent", "ion", "ism", "ate", "iti", "ous", "ive", "ize",
			"al", "er", "ic", "ou",
		},
	}
}

// Stem applies the Porter algorithm steps in order. Words shorter than
// three letters are left alone.
func (p *PorterStemmer) Stem(word string) string {
	if len(word) < 3 {
		return word
	}
	word = strings.ToLower(word)
	word = stripPlurals(word)
	word = stripPastAndProgressive(word)
	word = terminalYToI(word)
	word = p.applyRules(word, p.step2Rules, 0)
	word = p.applyRules(word, p.step3Rules, 0)
	word = p.stripResidualSuffix(word)
	word = stripFinalE(word)
	word = collapseFinalLL(word)
	return word
}

// applyRules rewrites the first matching suffix whose stem measure
// exceeds minMeasure. At most one rule fires per step.
func (p *PorterStemmer) applyRules(word string, rules []suffixRule, minMeasure int) string {
	for _, r := range rules {
		if !strings.HasSuffix(word, r.suffix) {
			continue
		}
		stem := word[:len(word)-len(r.suffix)]
		if measure(stem) > minMeasure {
			return stem + r.replace
		}
		return word
	}
	return word
}

// stripResidualSuffix is step 4: drop a derivational suffix outright when
// the stem is long enough. "ion" only drops after s or t.
func (p *PorterStemmer) stripResidualSuffix(word string) string {
	for _, suffix := range p.step4Rules {
		if !strings.HasSuffix(word, suffix) {
			continue
		}
		stem := word[:len(word)-len(suffix)]
		if measure(stem) <= 1 {
			return word
		}
		if suffix == "ion" {
			if n := len(stem); n == 0 || (stem[n-1] != 's' && stem[n-1] != 't') {
				return word
			}
		}
		return stem
	}
	return word
}

// stripPlurals is step 1a.
func stripPlurals(word string) string {
	switch {
	case strings.HasSuffix(word, "sses"), strings.HasSuffix(word, "ies"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "ss"):
		return word
	case strings.HasSuffix(word, "s"):
		return word[:len(word)-1]
	}
	return word
}

// stripPastAndProgressive is step 1b: remove "ed" and "ing", then repair
// the stem ending.
func stripPastAndProgressive(word string) string {
	if strings.HasSuffix(word, "eed") {
		if measure(word[:len(word)-3]) > 0 {
			return word[:len(word)-1]
		}
		return word
	}

	stripped := false
	if stem := strings.TrimSuffix(word, "ed"); stem != word && hasVowel(stem) {
		word = stem
		stripped = true
	} else if stem := strings.TrimSuffix(word, "ing"); stem != word && hasVowel(stem) {
		word = stem
		stripped = true
	}
	if !stripped {
		return word
	}

	switch {
	case strings.HasSuffix(word, "at"), strings.HasSuffix(word, "bl"), strings.HasSuffix(word, "iz"):
		return word + "e"
	case endsDoubleConsonant(word):
		if c := word[len(word)-1]; c != 'l' && c != 's' && c != 'z' {
			return word[:len(word)-1]
		}
	case measure(word) == 1 && endsCVC(word):
		return word + "e"
	}
	return word
}

// terminalYToI is step 1c.
func terminalYToI(word string) string {
	if strings.HasSuffix(word, "y") {
		if stem := word[:len(word)-1]; hasVowel(stem) {
			return stem + "i"
		}
	}
	return word
}

// stripFinalE is step 5a.
func stripFinalE(word string) string {
	if !strings.HasSuffix(word, "e") {
		return word
	}
	stem := word[:len(word)-1]
	if m := measure(stem); m > 1 || (m == 1 && !endsCVC(stem)) {
		return stem
	}
	return word
}

// collapseFinalLL is step 5b.
func collapseFinalLL(word string) string {
	if measure(word) > 1 && endsDoubleConsonant(word) && word[len(word)-1] == 'l' {
		return word[:len(word)-1]
	}
	return word
}

func isConsonant(word string, i int) bool {
	switch word[i] {
	case 'a', 'e', 'i', 'o', 'u':
		return false
	case 'y':
		// y is a vowel after a consonant ("sky"), a consonant otherwise.
		return i == 0 || !isConsonant(word, i-1)
	}
	return true
}

// measure counts vowel-consonant sequences, the m of [C](VC){m}[V].
func measure(word string) int {
	i, n, m := 0, len(word), 0
	for i < n && isConsonant(word, i) {
		i++
	}
	for i < n {
		for i < n && !isConsonant(word, i) {
			i++
		}
		if i >= n {
			break
		}
		m++
		for i < n && isConsonant(word, i) {
			i++
		}
	}
	return m
}

func hasVowel(word string) bool {
	for i := range word {
		if !isConsonant(word, i) {
			return true
		}
	}
	return false
}

func endsDoubleConsonant(word string) bool {
	n := len(word)
	return n >= 2 && word[n-1] == word[n-2] && isConsonant(word, n-1)
}

// endsCVC reports a consonant-vowel-consonant ending where the final
// consonant is not w, x or y.
func endsCVC(word string) bool {
	n := len(word)
	if n < 3 {
		return false
	}
	if !isConsonant(word, n-3) || isConsonant(word, n-2) || !isConsonant(word, n-1) {
		return false
	}
	c := word[n-1]
	return c != 'w' && c != 'x' && c != 'y'
}
