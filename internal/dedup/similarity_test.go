package dedup

import (
	"math"
	"strings"
	"testing"
)

func approxEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTokenizeNormalizesMoneyAndDropsShortWords(t *testing.T) {
	t.Parallel()

	tokens := Tokenize("Black Forest Labs raises $300M to expand AI image tools")
	for _, want := range []string{"black", "forest", "labs", "raises", "300", "expand", "image", "tools"} {
		if _, ok := tokens[want]; !ok {
			t.Fatalf("expected token %q in %v", want, tokens)
		}
	}
	for _, unwanted := range []string{"$300m", "300m", "to", "ai"} {
		if _, ok := tokens[unwanted]; ok {
			t.Fatalf("unexpected token %q in %v", unwanted, tokens)
		}
	}

	other := Tokenize("raised 300 million")
	if _, ok := other["300"]; !ok {
		t.Fatalf("expected bare number token in %v", other)
	}
}

func TestTokenizeKeepsShortAlphanumericIdentifiers(t *testing.T) {
	t.Parallel()

	tokens := Tokenize("OpenAI ships GPT-4o and o3 in EU")
	for _, want := range []string{"openai", "ships", "gpt", "4o", "o3", "and"} {
		if _, ok := tokens[want]; !ok {
			t.Fatalf("expected token %q in %v", want, tokens)
		}
	}
	if _, ok := tokens["eu"]; ok {
		t.Fatalf("two-letter word without digit should be dropped: %v", tokens)
	}
	if Tokenize("  ") != nil {
		t.Fatalf("expected nil tokens for blank text")
	}
}

func TestMagnitudeSuffixVariants(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"$2.5b", "€40 m", "£12k"} {
		tokens := Tokenize(text)
		for token := range tokens {
			if strings.ContainsAny(token, "mkb$€£") {
				t.Fatalf("suffix or currency survived in %q: %v", text, tokens)
			}
		}
	}
}

func TestJaccardAndOverlap(t *testing.T) {
	t.Parallel()

	if got := Jaccard("alpha bravo charlie", "alpha bravo delta"); !approxEqual(got, 0.5) {
		t.Fatalf("unexpected jaccard: got %v want 0.5", got)
	}
	if got := Overlap("alpha bravo", "alpha bravo charlie delta"); !approxEqual(got, 1) {
		t.Fatalf("unexpected overlap: got %v want 1", got)
	}
	if got := HeadlineSimilarity("alpha bravo", "alpha bravo charlie delta"); !approxEqual(got, 1) {
		t.Fatalf("headline similarity should take the overlap: got %v", got)
	}
	if got := HeadlineSimilarity("alpha bravo charlie delta echo", "alpha bravo charlie foxtrot golf"); !approxEqual(got, 0.6) {
		t.Fatalf("unexpected headline similarity: got %v want 0.6", got)
	}
	for _, pair := range [][2]string{{"", "alpha"}, {"alpha", ""}, {"to be", "alpha"}} {
		if got := Jaccard(pair[0], pair[1]); got != 0 {
			t.Fatalf("expected 0 jaccard for %q/%q, got %v", pair[0], pair[1], got)
		}
		if got := Overlap(pair[0], pair[1]); got != 0 {
			t.Fatalf("expected 0 overlap for %q/%q, got %v", pair[0], pair[1], got)
		}
	}
}

func TestContentSimilarityUsesLeadingPrefix(t *testing.T) {
	t.Parallel()

	lead := strings.Repeat("shared lead paragraph words ", 10)
	a := Story{Content: lead + "alpha tail about one outlet"}
	b := Story{Content: lead + "entirely different closing material"}
	if got := ContentSimilarity(a, b, 200); !approxEqual(got, 1) {
		t.Fatalf("expected identical prefixes to score 1, got %v", got)
	}

	summaryOnly := Story{Summary: "Regulators approved the merger on Tuesday"}
	withContent := Story{Content: "Regulators approved the merger on Tuesday"}
	if got := ContentSimilarity(summaryOnly, withContent, 200); !approxEqual(got, 1) {
		t.Fatalf("expected summary fallback to score 1, got %v", got)
	}
	if got := ContentSimilarity(Story{}, withContent, 200); got != 0 {
		t.Fatalf("expected 0 for empty body, got %v", got)
	}
}
