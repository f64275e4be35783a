package langdetect

import "testing"

func TestDetect(t *testing.T) {
	tests := []struct {
		name     string
		headline string
		body     string
		want     string
	}{
		{
			name:     "english",
			headline: "Black Forest Labs raises $300 million in new funding round",
			body:     "The startup behind the Flux image models said the money will be used to hire researchers.",
			want:     "en",
		},
		{
			name:     "german",
			headline: "Black Forest Labs sammelt 300 Millionen Dollar bei Investoren ein",
			body:     "Das Start-up aus Freiburg entwickelt Bildmodelle und will mit dem Geld weitere Forscher einstellen.",
			want:     "de",
		},
		{
			name:     "too short",
			headline: "BFL $300M",
			want:     "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Detect(tc.headline, tc.body); got != tc.want {
				t.Fatalf("unexpected language: got %q want %q", got, tc.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"en":      "en",
		"EN-us":   "en",
		"pt_BR":   "pt",
		"":        "",
		"eng":     "",
		"12":      "",
		" de ":    "de",
		"zh-Hant": "zh",
	}
	for input, want := range tests {
		if got := Normalize(input); got != want {
			t.Fatalf("unexpected normalized tag for %q: got %q want %q", input, got, want)
		}
	}
}
