package dedup

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	currencySymbols = strings.NewReplacer("$", " ", "€", " ", "£", " ", "¥", " ", "₹", " ", "₽", " ", "₩", " ")
	magnitudeSuffix = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*[mkb]\b`)
)

// Tokenize returns the distinct salient tokens of text.
func Tokenize(text string) map[string]struct{} {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return nil
	}
	normalized = currencySymbols.Replace(normalized)
	normalized = magnitudeSuffix.ReplaceAllString(normalized, "$1")

	parts := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		if keepToken(part) {
			set[part] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

// keepToken drops stopword-sized tokens but keeps short identifiers such as
// model numbers.
func keepToken(token string) bool {
	n := utf8.RuneCountInString(token)
	if n >= 3 {
		return true
	}
	return n == 2 && strings.IndexFunc(token, unicode.IsDigit) >= 0
}

// Jaccard is |A∩B| / |A∪B| over the token sets of a and b.
func Jaccard(a, b string) float64 {
	return jaccardSets(Tokenize(a), Tokenize(b))
}

// Overlap is |A∩B| / min(|A|, |B|) over the token sets of a and b.
func Overlap(a, b string) float64 {
	return overlapSets(Tokenize(a), Tokenize(b))
}

// HeadlineSimilarity is max(jaccard, overlap) so a headline whose salient
// terms are a subset of the other's still scores high.
func HeadlineSimilarity(a, b string) float64 {
	left, right := Tokenize(a), Tokenize(b)
	return max(jaccardSets(left, right), overlapSets(left, right))
}

// ContentSimilarity is the Jaccard index over the leading prefixChars runes of
// each body. A story without content is compared by its summary.
func ContentSimilarity(a, b Story, prefixChars int) float64 {
	if prefixChars <= 0 {
		prefixChars = DefaultContentPrefixChars
	}
	return Jaccard(
		truncateRunes(a.comparableText(), prefixChars),
		truncateRunes(b.comparableText(), prefixChars),
	)
}

func intersectionSize(left, right map[string]struct{}) int {
	if len(left) > len(right) {
		left, right = right, left
	}
	n := 0
	for token := range left {
		if _, ok := right[token]; ok {
			n++
		}
	}
	return n
}

func jaccardSets(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	intersection := intersectionSize(left, right)
	if intersection == 0 {
		return 0
	}
	union := len(left) + len(right) - intersection
	return float64(intersection) / float64(union)
}

func overlapSets(left, right map[string]struct{}) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}
	intersection := intersectionSize(left, right)
	return float64(intersection) / float64(min(len(left), len(right)))
}
