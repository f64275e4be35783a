package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

// minLetters is the shortest sample worth classifying.
const minLetters = 12

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// newsLanguages covers the feeds the ingester sees. A short list keeps the
// lazily loaded models small.
var newsLanguages = []lingua.Language{
	lingua.English,
	lingua.German,
	lingua.French,
	lingua.Spanish,
	lingua.Italian,
	lingua.Portuguese,
	lingua.Dutch,
	lingua.Polish,
	lingua.Russian,
	lingua.Ukrainian,
	lingua.Swedish,
	lingua.Turkish,
	lingua.Japanese,
	lingua.Chinese,
	lingua.Korean,
}

// Detect returns the lowercase ISO 639-1 code of the headline plus body, or
// "" when the sample is too short or ambiguous.
func Detect(headline, body string) string {
	sample := strings.TrimSpace(headline + "\n" + truncate(body, 1000))
	if countLetters(sample) < minLetters {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// Normalize lowercases a caller-supplied language tag down to its primary
// subtag ("en-US" -> "en"). Unusable tags become "".
func Normalize(tag string) string {
	primary, _, _ := strings.Cut(strings.TrimSpace(tag), "-")
	primary, _, _ = strings.Cut(primary, "_")
	primary = strings.ToLower(primary)
	if len(primary) != 2 {
		return ""
	}
	for _, r := range primary {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	return primary
}

func countLetters(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			n++
		}
	}
	return n
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromLanguages(newsLanguages...).
			WithMinimumRelativeDistance(0.1).
			Build()
	})
	return detector
}
