package dedup

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Source is one originating publication's report of a story.
type Source struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Story is a canonical news item, or a retained duplicate of one.
type Story struct {
	ID              string    `json:"id"`
	Headline        string    `json:"headline"`
	Content         string    `json:"content"`
	Summary         string    `json:"summary"`
	URL             string    `json:"url"`
	SourceName      string    `json:"source_name"`
	Language        string    `json:"language,omitempty"`
	Sources         []Source  `json:"sources"`
	PublishedAt     time.Time `json:"published_at"`
	IngestedAt      time.Time `json:"ingested_at"`
	LastSourceAt    time.Time `json:"last_source_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ImpactScore     float64   `json:"pe_impact_score"`
	BaseImpactScore float64   `json:"base_impact_score"`
	IsDuplicate     bool      `json:"is_duplicate"`
	MergedInto      string    `json:"merged_into,omitempty"`
	Hidden          bool      `json:"hidden"`
}

// Incoming is a feed item waiting to be placed into the corpus.
type Incoming struct {
	SourceName  string
	URL         string
	Headline    string
	Content     string
	Summary     string
	Language    string
	PublishedAt time.Time
	ImpactScore float64
}

func (in Incoming) validate() error {
	if strings.TrimSpace(in.Headline) == "" {
		return fmt.Errorf("%w: headline is required", ErrInvalidIncoming)
	}
	if strings.TrimSpace(in.URL) == "" && strings.TrimSpace(in.SourceName) == "" {
		return fmt.Errorf("%w: url or source name is required", ErrInvalidIncoming)
	}
	if in.ImpactScore < 0 {
		return fmt.Errorf("%w: impact score must be >= 0", ErrInvalidIncoming)
	}
	return nil
}

func (in Incoming) source(fallback time.Time) Source {
	published := in.PublishedAt
	if published.IsZero() {
		published = fallback
	}
	return Source{
		Name:        strings.TrimSpace(in.SourceName),
		URL:         strings.TrimSpace(in.URL),
		PublishedAt: published.UTC(),
	}
}

// asStory projects an incoming item onto the comparison shape used by the
// similarity and verification stages. It is never persisted.
func (in Incoming) asStory() Story {
	return Story{
		Headline:    in.Headline,
		Content:     in.Content,
		Summary:     in.Summary,
		URL:         in.URL,
		SourceName:  in.SourceName,
		Language:    in.Language,
		PublishedAt: in.PublishedAt,
	}
}

// effectiveSources returns the recorded sources. A story created before
// sources were tracked contributes its own url as the implicit first source.
func (s Story) effectiveSources() []Source {
	if len(s.Sources) > 0 {
		out := make([]Source, len(s.Sources))
		copy(out, s.Sources)
		return out
	}
	if strings.TrimSpace(s.URL) == "" && strings.TrimSpace(s.SourceName) == "" {
		return nil
	}
	return []Source{{
		Name:        s.SourceName,
		URL:         s.URL,
		PublishedAt: s.PublishedAt,
	}}
}

// baseScore is the un-boosted score the next boost multiplies. When the
// stored score no longer equals the boost of the recorded base, the score was
// rewritten externally and the base is derived from it instead.
func (s Story) baseScore(t Thresholds) float64 {
	n := len(s.effectiveSources())
	if s.BaseImpactScore > 0 && math.Abs(BoostScore(s.BaseImpactScore, n, t)-s.ImpactScore) < scoreTolerance {
		return s.BaseImpactScore
	}
	if s.ImpactScore <= 0 {
		return s.BaseImpactScore
	}
	return s.ImpactScore / boostMultiplier(n, t)
}

// comparableText is the body used for content similarity and prompts.
func (s Story) comparableText() string {
	if content := strings.TrimSpace(s.Content); content != "" {
		return content
	}
	return strings.TrimSpace(s.Summary)
}

// LatestSourceAt is the newest publication time across the story's sources.
func (s Story) LatestSourceAt() time.Time {
	return latestSourceAt(s.effectiveSources(), s.PublishedAt).UTC()
}

func sourceKey(src Source) string {
	if key := NormalizeURL(src.URL); key != "" {
		return key
	}
	name := strings.ToLower(strings.TrimSpace(src.Name))
	if name == "" {
		return ""
	}
	return "name:" + name
}

func containsSource(sources []Source, candidate Source) bool {
	key := sourceKey(candidate)
	if key == "" {
		return false
	}
	for _, existing := range sources {
		if sourceKey(existing) == key {
			return true
		}
	}
	return false
}

// appendSources appends every source in extra whose key is not already
// present, preserving discovery order.
func appendSources(base []Source, extra ...Source) []Source {
	out := make([]Source, 0, len(base)+len(extra))
	out = append(out, base...)
	for _, src := range extra {
		if sourceKey(src) == "" || containsSource(out, src) {
			continue
		}
		out = append(out, src)
	}
	return out
}

func latestSourceAt(sources []Source, fallback time.Time) time.Time {
	latest := fallback
	for _, src := range sources {
		if src.PublishedAt.After(latest) {
			latest = src.PublishedAt
		}
	}
	return latest
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}

func longer(current, candidate string) string {
	if len([]rune(strings.TrimSpace(candidate))) > len([]rune(strings.TrimSpace(current))) {
		return candidate
	}
	return current
}

func truncateRunes(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
