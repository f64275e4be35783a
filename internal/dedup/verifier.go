package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeRejected  Outcome = "rejected"
	// OutcomeUnknown means the oracle could not answer. It never merges.
	OutcomeUnknown Outcome = "unknown"
)

// Verdict is the semantic verifier's same-event judgment.
type Verdict struct {
	Outcome     Outcome `json:"outcome"`
	IsDuplicate bool    `json:"is_duplicate"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason,omitempty"`
	Cached      bool    `json:"cached,omitempty"`
}

func (v Verdict) Accepted() bool {
	return v.Outcome == OutcomeConfirmed
}

func unknownVerdict(reason string) Verdict {
	return Verdict{Outcome: OutcomeUnknown, Reason: reason}
}

var errMalformedVerdict = errors.New("malformed oracle response")

// Verifier asks the oracle whether two stories describe the same event.
type Verifier struct {
	generator Generator
	cache     VerdictCache
	recorder  Recorder
	cfg       Thresholds
	logger    zerolog.Logger
}

func newVerifier(generator Generator, cache VerdictCache, recorder Recorder, cfg Thresholds, logger zerolog.Logger) *Verifier {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Verifier{
		generator: generator,
		cache:     cache,
		recorder:  recorder,
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

func (v *Verifier) HasOracle() bool {
	return v != nil && v.generator != nil
}

// Check never returns an error: every oracle failure maps to OutcomeUnknown.
// The caller's context deadline bounds the oracle round trip.
func (v *Verifier) Check(ctx context.Context, a, b Story) Verdict {
	if !v.HasOracle() {
		return unknownVerdict("oracle not configured")
	}

	key := PairKey(a.ID, b.ID)
	if key != "" && v.cache != nil {
		cached, ok, err := v.cache.Get(ctx, key)
		if err != nil {
			v.logger.Debug().Err(err).Str("pair", key).Msg("verdict cache read failed")
		} else if ok {
			cached.Cached = true
			v.recorder.ObserveOracle(cached.Outcome, true, 0)
			return cached
		}
	}

	started := time.Now()
	generation, err := v.generator.Generate(ctx, buildVerificationPrompt(a, b, v.cfg.PromptSummaryChars), GenerateOptions{
		MaxTokens:    200,
		Temperature:  0,
		JSONResponse: true,
	})
	if err != nil {
		v.logger.Warn().Err(err).Str("story_a", a.ID).Str("story_b", b.ID).Msg("oracle call failed, treating pair as unknown")
		v.recorder.ObserveOracle(OutcomeUnknown, false, time.Since(started))
		return unknownVerdict("oracle error: " + err.Error())
	}

	parsed, err := parseOracleResponse(generation.Text)
	if err != nil {
		v.logger.Warn().Err(err).Str("story_a", a.ID).Str("story_b", b.ID).Msg("oracle response unusable, treating pair as unknown")
		v.recorder.ObserveOracle(OutcomeUnknown, false, time.Since(started))
		return unknownVerdict(err.Error())
	}

	verdict := Verdict{
		Outcome:     OutcomeRejected,
		IsDuplicate: parsed.IsDuplicate,
		Confidence:  parsed.Confidence,
		Reason:      parsed.Reason,
	}
	if parsed.IsDuplicate && parsed.Confidence > v.cfg.OracleMinConfidence {
		verdict.Outcome = OutcomeConfirmed
	}
	v.recorder.ObserveOracle(verdict.Outcome, false, time.Since(started))

	if key != "" && v.cache != nil {
		if err := v.cache.Set(ctx, key, verdict); err != nil {
			v.logger.Debug().Err(err).Str("pair", key).Msg("verdict cache write failed")
		}
	}
	return verdict
}

// PairKey is the order-independent cache key for two story ids.
func PairKey(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return ""
	}
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

func buildVerificationPrompt(a, b Story, summaryChars int) string {
	var sb strings.Builder
	sb.WriteString("You compare two news stories and decide whether they report the same real-world event.\n")
	sb.WriteString("Different angles, outlets or wording about one event count as the same event. ")
	sb.WriteString("Related but distinct events (a follow-up, a different company, a different round) do not.\n\n")
	writePromptStory(&sb, "Story A", a, summaryChars)
	writePromptStory(&sb, "Story B", b, summaryChars)
	sb.WriteString("Respond with JSON only, no prose, in exactly this shape:\n")
	sb.WriteString(`{"isDuplicate": true|false, "confidence": 0-100, "reason": "one short sentence"}`)
	return sb.String()
}

func writePromptStory(sb *strings.Builder, label string, story Story, summaryChars int) {
	summary := strings.TrimSpace(story.Summary)
	if summary == "" {
		summary = story.comparableText()
	}
	fmt.Fprintf(sb, "%s headline: %s\n", label, strings.TrimSpace(story.Headline))
	fmt.Fprintf(sb, "%s summary: %s\n\n", label, truncateRunes(summary, summaryChars))
}

type oracleResponse struct {
	IsDuplicate bool
	Confidence  float64
	Reason      string
}

type rawOracleResponse struct {
	IsDuplicate *bool           `json:"isDuplicate"`
	Confidence  json.RawMessage `json:"confidence"`
	Reason      string          `json:"reason"`
}

func parseOracleResponse(text string) (oracleResponse, error) {
	object, ok := extractJSONObject(text)
	if !ok {
		return oracleResponse{}, fmt.Errorf("%w: no JSON object found", errMalformedVerdict)
	}

	var raw rawOracleResponse
	if err := json.Unmarshal([]byte(object), &raw); err != nil {
		return oracleResponse{}, fmt.Errorf("%w: %v", errMalformedVerdict, err)
	}
	if raw.IsDuplicate == nil {
		return oracleResponse{}, fmt.Errorf("%w: isDuplicate missing", errMalformedVerdict)
	}

	confidence, err := parseConfidence(raw.Confidence)
	if err != nil {
		return oracleResponse{}, fmt.Errorf("%w: %v", errMalformedVerdict, err)
	}

	return oracleResponse{
		IsDuplicate: *raw.IsDuplicate,
		Confidence:  confidence,
		Reason:      strings.TrimSpace(raw.Reason),
	}, nil
}

// parseConfidence accepts a number or a numeric string and clamps to 0..100.
func parseConfidence(raw json.RawMessage) (float64, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return 0, nil
	}
	if unquoted, err := strconv.Unquote(trimmed); err == nil {
		trimmed = strings.TrimSuffix(strings.TrimSpace(unquoted), "%")
	}
	value, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("confidence %q is not numeric", trimmed)
	}
	return min(100, max(0, value)), nil
}

// extractJSONObject returns the first balanced {...} in text, tolerating code
// fences and surrounding prose.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
