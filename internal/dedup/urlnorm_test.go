package dedup

import "testing"

func TestNormalizeURLEquivalence(t *testing.T) {
	t.Parallel()

	want := NormalizeURL("https://www.example.com/a/")
	for _, raw := range []string{
		"https://example.com/a",
		"https://example.com/a?utm=x",
		"https://example.com/a#frag",
		"http://EXAMPLE.com/a/",
		"https://www.example.com:443/a",
	} {
		if got := NormalizeURL(raw); got != want {
			t.Fatalf("unexpected key for %q: got %q want %q", raw, got, want)
		}
	}
	if want != "example.com/a" {
		t.Fatalf("unexpected canonical key: got %q want %q", want, "example.com/a")
	}
}

func TestNormalizeURLKeepsDistinctPaths(t *testing.T) {
	t.Parallel()

	if NormalizeURL("https://example.com/a") == NormalizeURL("https://example.com/b") {
		t.Fatalf("distinct paths must not share a key")
	}
	if NormalizeURL("https://example.com:8080/a") == NormalizeURL("https://example.com/a") {
		t.Fatalf("non-default port must stay in the key")
	}
}

func TestNormalizeURLFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{raw: "", want: ""},
		{raw: "   ", want: ""},
		{raw: "HTTP://%ZZ/Broken/", want: "http://%zz/broken"},
		{raw: "Example.com/Story/", want: "example.com/story"},
	}
	for _, tc := range tests {
		if got := NormalizeURL(tc.raw); got != tc.want {
			t.Fatalf("unexpected fallback key for %q: got %q want %q", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizeURLIsPure(t *testing.T) {
	t.Parallel()

	raw := "https://www.Reuters.com/technology/ai/black-forest-labs/?ref=rss"
	first := NormalizeURL(raw)
	for i := 0; i < 5; i++ {
		if got := NormalizeURL(raw); got != first {
			t.Fatalf("normalize not stable: got %q want %q", got, first)
		}
	}
	if !SameURL(raw, "http://reuters.com/technology/ai/black-forest-labs") {
		t.Fatalf("expected SameURL to match normalized variants")
	}
	if SameURL("", "") {
		t.Fatalf("empty urls must never match")
	}
}
