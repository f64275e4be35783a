package dedup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Signal names the stage that produced a match.
type Signal string

const (
	SignalNone          Signal = ""
	SignalExactURL      Signal = "exact_url"
	SignalNormalizedURL Signal = "normalized_url"
	SignalLexicalAuto   Signal = "lexical_auto"
	SignalOracle        Signal = "oracle"
	SignalHeuristic     Signal = "heuristic"
)

// Match is the finder's answer for one incoming item. Story is nil when no
// existing story describes the same event.
type Match struct {
	Story       *Story
	Signal      Signal
	HeadlineSim float64
	ContentSim  float64
	Verdict     *Verdict
	Escalated   []CandidateScore
}

type CandidateScore struct {
	Story       Story
	HeadlineSim float64
	ContentSim  float64
	Verdict     *Verdict
}

func (c CandidateScore) strength() float64 {
	return max(c.HeadlineSim, c.ContentSim)
}

func (c CandidateScore) combined() float64 {
	return (c.HeadlineSim + c.ContentSim) / 2
}

// PairDecision is the outcome of comparing two existing stories.
type PairDecision struct {
	HeadlineSim float64
	ContentSim  float64
	Combined    float64
	Escalated   bool
	Duplicate   bool
	Signal      Signal
	Verdict     *Verdict
}

type Finder struct {
	store    ContentStore
	verifier *Verifier
	cfg      Thresholds
	logger   zerolog.Logger
	now      func() time.Time
}

func newFinder(store ContentStore, verifier *Verifier, cfg Thresholds, logger zerolog.Logger, now func() time.Time) *Finder {
	return &Finder{
		store:    store,
		verifier: verifier,
		cfg:      cfg.withDefaults(),
		logger:   logger,
		now:      now,
	}
}

// FindSimilar runs the staged search: exact url, normalized url within the
// window, lexical pre-filter, then oracle or heuristic on the strongest
// escalated candidates. A store error aborts the search for this item.
func (f *Finder) FindSimilar(ctx context.Context, in Incoming) (Match, error) {
	if f == nil || f.store == nil {
		return Match{}, ErrNotInitialized
	}

	if match, ok, err := f.findExactURL(ctx, in.URL); err != nil {
		return Match{}, err
	} else if ok {
		return match, nil
	}

	window, err := f.windowStories(ctx, in.PublishedAt)
	if err != nil {
		return Match{}, err
	}

	if match, ok := findNormalizedURL(window, in.URL); ok {
		return match, nil
	}

	incoming := in.asStory()
	escalated := make([]CandidateScore, 0, 8)
	for _, candidate := range window {
		if !sameLanguage(candidate.Language, incoming.Language) {
			continue
		}
		score := f.score(candidate, incoming)
		switch f.classify(score.HeadlineSim, score.ContentSim) {
		case lexicalAutoMerge:
			story := candidate
			return Match{
				Story:       &story,
				Signal:      SignalLexicalAuto,
				HeadlineSim: score.HeadlineSim,
				ContentSim:  score.ContentSim,
			}, nil
		case lexicalEscalate:
			escalated = append(escalated, score)
		}
	}
	if len(escalated) == 0 {
		return Match{}, nil
	}

	sort.SliceStable(escalated, func(i, j int) bool {
		return escalated[i].strength() > escalated[j].strength()
	})
	if len(escalated) > f.cfg.MaxOracleCandidates {
		escalated = escalated[:f.cfg.MaxOracleCandidates]
	}

	for i := range escalated {
		candidate := &escalated[i]
		if f.verifier.HasOracle() {
			verdict := f.verifier.Check(ctx, candidate.Story, incoming)
			candidate.Verdict = &verdict
			if !verdict.Accepted() {
				continue
			}
			return f.escalatedMatch(*candidate, SignalOracle, escalated), nil
		}
		if candidate.combined() > f.cfg.NoOracleIngestBar {
			return f.escalatedMatch(*candidate, SignalHeuristic, escalated), nil
		}
	}

	return Match{Escalated: escalated}, nil
}

// ComparePair applies the stricter batch rules to two existing stories.
func (f *Finder) ComparePair(ctx context.Context, a, b Story) PairDecision {
	score := f.score(a, b)
	decision := PairDecision{
		HeadlineSim: score.HeadlineSim,
		ContentSim:  score.ContentSim,
		Combined:    score.combined(),
	}
	if !sameLanguage(a.Language, b.Language) || decision.Combined <= f.cfg.BatchEscalateBar {
		return decision
	}

	decision.Escalated = true
	if f.verifier.HasOracle() {
		verdict := f.verifier.Check(ctx, a, b)
		decision.Verdict = &verdict
		decision.Signal = SignalOracle
		decision.Duplicate = verdict.Accepted()
		return decision
	}

	decision.Signal = SignalHeuristic
	decision.Duplicate = decision.Combined > f.cfg.NoOracleBatchBar
	return decision
}

type lexicalClass int

const (
	lexicalIgnore lexicalClass = iota
	lexicalEscalate
	lexicalAutoMerge
)

// classify applies the two-tier lexical bar. Only strong agreement of both
// signals skips the oracle.
func (f *Finder) classify(headlineSim, contentSim float64) lexicalClass {
	switch {
	case headlineSim > f.cfg.AutoMergeHeadline && contentSim > f.cfg.AutoMergeContent:
		return lexicalAutoMerge
	case headlineSim > f.cfg.EscalateHeadline || contentSim > f.cfg.EscalateContent:
		return lexicalEscalate
	default:
		return lexicalIgnore
	}
}

func (f *Finder) score(candidate, incoming Story) CandidateScore {
	return CandidateScore{
		Story:       candidate,
		HeadlineSim: HeadlineSimilarity(candidate.Headline, incoming.Headline),
		ContentSim:  ContentSimilarity(candidate, incoming, f.cfg.ContentPrefixChars),
	}
}

func (f *Finder) escalatedMatch(candidate CandidateScore, signal Signal, escalated []CandidateScore) Match {
	story := candidate.Story
	return Match{
		Story:       &story,
		Signal:      signal,
		HeadlineSim: candidate.HeadlineSim,
		ContentSim:  candidate.ContentSim,
		Verdict:     candidate.Verdict,
		Escalated:   escalated,
	}
}

func (f *Finder) findExactURL(ctx context.Context, rawURL string) (Match, bool, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return Match{}, false, nil
	}

	stories, err := f.store.Query(ctx, StoryQuery{
		URL:               rawURL,
		IncludeDuplicates: true,
		OrderBy:           OrderByIngestedAt,
		Limit:             1,
	})
	if err != nil {
		return Match{}, false, fmt.Errorf("query exact url: %w", err)
	}
	if len(stories) == 0 {
		// Folded-in sources keep their url only in the sources list.
		stories, err = f.store.Query(ctx, StoryQuery{
			SourceURL:         rawURL,
			IncludeDuplicates: true,
			OrderBy:           OrderByIngestedAt,
			Limit:             1,
		})
		if err != nil {
			return Match{}, false, fmt.Errorf("query exact source url: %w", err)
		}
	}
	if len(stories) == 0 {
		return Match{}, false, nil
	}

	root, err := resolveCanonical(ctx, f.store, stories[0])
	if err != nil {
		return Match{}, false, fmt.Errorf("resolve canonical for exact url: %w", err)
	}
	return Match{Story: &root, Signal: SignalExactURL}, true, nil
}

// windowStories returns live stories published within the window around the
// incoming item's publication time, or around now when it has none.
func (f *Finder) windowStories(ctx context.Context, publishedAt time.Time) ([]Story, error) {
	anchor := publishedAt
	if anchor.IsZero() {
		anchor = f.now()
	}
	window := f.cfg.window()

	stories, err := f.store.Query(ctx, StoryQuery{
		PublishedFrom: anchor.Add(-window),
		PublishedTo:   anchor.Add(window),
		OrderBy:       OrderByPublishedAt,
		Limit:         windowCandidateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("query window stories: %w", err)
	}
	return stories, nil
}

func findNormalizedURL(window []Story, rawURL string) (Match, bool) {
	key := NormalizeURL(rawURL)
	if key == "" {
		return Match{}, false
	}
	for _, candidate := range window {
		if NormalizeURL(candidate.URL) == key || containsSource(candidate.Sources, Source{URL: rawURL}) {
			story := candidate
			return Match{Story: &story, Signal: SignalNormalizedURL}, true
		}
	}
	return Match{}, false
}

// sameLanguage treats an unknown language as compatible with anything.
func sameLanguage(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" || a == "und" || b == "und" {
		return true
	}
	return strings.EqualFold(a, b)
}
