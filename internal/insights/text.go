package insights

import (
	"strings"
	"unicode/utf8"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "that": true,
	"this": true, "from": true, "have": true, "are": true, "was": true,
	"but": true, "not": true, "you": true, "your": true, "our": true,
	"they": true, "their": true, "has": true, "had": true, "its": true,
	"will": true, "were": true, "been": true, "what": true, "when": true,
	"where": true,
}

const punctuation = "\"'`<>@#$/\\^&*()[]_+=~|:;,.!?-"

// Tokenize lowercases text, turns punctuation into whitespace and keeps
// tokens of at least three characters that are not stopwords.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	cleaned := strings.Map(func(r rune) rune {
		if strings.ContainsRune(punctuation, r) {
			return ' '
		}
		return r
	}, strings.ToLower(text))

	var out []string
	for _, tok := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(tok) < 3 || stopwords[tok] {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// NGrams returns every contiguous window of n tokens joined by a space.
func NGrams(tokens []string, n int) []string {
	if n <= 0 || len(tokens) < n {
		return nil
	}
	out := make([]string, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+n], " "))
	}
	return out
}

// phrases is the bigram then trigram vocabulary of one token sequence.
func phrases(tokens []string) []string {
	return append(NGrams(tokens, 2), NGrams(tokens, 3)...)
}

// Jaccard is |a∩b| / |a∪b|, or 0 when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	inter := 0
	for v := range a {
		if _, ok := b[v]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
