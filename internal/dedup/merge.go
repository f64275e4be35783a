package dedup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const combinedSummaryMaxTokens = 400

// FoldResult describes a fold of an incoming source into a canonical story.
// Added is false when the source was already recorded.
type FoldResult struct {
	Story        Story
	Added        bool
	AISummary    bool
	SourceCount  int
	BoostedScore float64
}

// MergeResult describes a merge of two existing stories.
type MergeResult struct {
	Winner    Story
	LoserID   string
	Skipped   bool
	Repointed int
}

type Merger struct {
	store     ContentStore
	generator Generator
	scorer    RelevanceScorer
	cfg       Thresholds
	logger    zerolog.Logger
	now       func() time.Time
	newID     func() string
}

func newMerger(store ContentStore, generator Generator, scorer RelevanceScorer, cfg Thresholds, logger zerolog.Logger, now func() time.Time) *Merger {
	return &Merger{
		store:     store,
		generator: generator,
		scorer:    scorer,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		now:       now,
		newID:     uuid.NewString,
	}
}

// BoostScore applies the per-source boost to base, capped at the ceiling.
func BoostScore(base float64, sourceCount int, t Thresholds) float64 {
	t = t.withDefaults()
	if base <= 0 {
		return 0
	}
	return min(t.ScoreCeiling, base*boostMultiplier(sourceCount, t))
}

const scoreTolerance = 1e-6

func boostMultiplier(sourceCount int, t Thresholds) float64 {
	if sourceCount < 1 {
		sourceCount = 1
	}
	return 1 + float64(sourceCount-1)*t.BoostPerSource
}

// boostedScore never drops below current; a merge only adds sources.
func boostedScore(current Story, base float64, sourceCount int, t Thresholds) float64 {
	return max(current.ImpactScore, BoostScore(base, sourceCount, t))
}

// InsertNew creates a canonical story for an item that matched nothing.
func (m *Merger) InsertNew(ctx context.Context, in Incoming) (Story, error) {
	if m == nil || m.store == nil {
		return Story{}, ErrNotInitialized
	}

	now := m.now().UTC()
	src := in.source(now)
	story := Story{
		ID:           m.newID(),
		Headline:     strings.TrimSpace(in.Headline),
		Content:      in.Content,
		Summary:      in.Summary,
		URL:          src.URL,
		SourceName:   src.Name,
		Language:     in.Language,
		Sources:      []Source{src},
		PublishedAt:  src.PublishedAt,
		IngestedAt:   now,
		LastSourceAt: src.PublishedAt,
		UpdatedAt:    now,
		ImpactScore:  in.ImpactScore,
	}
	if story.ImpactScore <= 0 && m.scorer != nil {
		score, err := m.scorer.Score(ctx, story)
		if err != nil {
			m.logger.Warn().Err(err).Str("url", story.URL).Msg("relevance scorer failed, inserting unscored story")
		} else {
			story.ImpactScore = score
		}
	}
	story.BaseImpactScore = story.ImpactScore

	inserted, err := m.store.Insert(ctx, story)
	if err != nil {
		return Story{}, fmt.Errorf("insert story: %w", err)
	}
	return inserted, nil
}

// FoldSource appends the incoming source to the canonical story identified by
// canonicalID. Re-folding a recorded source is a no-op.
func (m *Merger) FoldSource(ctx context.Context, canonicalID string, in Incoming) (FoldResult, error) {
	if m == nil || m.store == nil {
		return FoldResult{}, ErrNotInitialized
	}

	snapshot, err := m.ResolveCanonical(ctx, canonicalID)
	if err != nil {
		return FoldResult{}, err
	}
	src := in.source(m.now().UTC())
	if containsSource(snapshot.effectiveSources(), src) {
		return FoldResult{Story: snapshot, SourceCount: len(snapshot.effectiveSources()), BoostedScore: snapshot.ImpactScore}, nil
	}

	// The oracle round trip stays outside the transaction.
	aiSummary := m.combinedSummary(ctx, snapshot, in)

	var result FoldResult
	err = runInTx(ctx, m.store, func(store ContentStore) error {
		current, err := m.resolveIn(ctx, store, snapshot.ID)
		if err != nil {
			return err
		}
		sources := current.effectiveSources()
		if containsSource(sources, src) {
			result = FoldResult{Story: current, SourceCount: len(sources), BoostedScore: current.ImpactScore}
			return nil
		}

		sources = appendSources(sources, src)
		base := current.baseScore(m.cfg)
		boosted := boostedScore(current, base, len(sources), m.cfg)
		content := longer(current.Content, in.Content)
		summary := longer(current.Summary, in.Summary)
		if aiSummary != "" {
			summary = aiSummary
		}
		published := earliest(current.PublishedAt, src.PublishedAt)
		lastSource := latestSourceAt(sources, current.LastSourceAt)
		now := m.now().UTC()

		if err := store.Update(ctx, current.ID, StoryUpdate{
			Content:         &content,
			Summary:         &summary,
			Sources:         &sources,
			PublishedAt:     &published,
			LastSourceAt:    &lastSource,
			ImpactScore:     &boosted,
			BaseImpactScore: &base,
			UpdatedAt:       &now,
		}); err != nil {
			return fmt.Errorf("update canonical story %s: %w", current.ID, err)
		}

		current.Content = content
		current.Summary = summary
		current.Sources = sources
		current.PublishedAt = published
		current.LastSourceAt = lastSource
		current.ImpactScore = boosted
		current.BaseImpactScore = base
		current.UpdatedAt = now
		result = FoldResult{
			Story:        current,
			Added:        true,
			AISummary:    aiSummary != "",
			SourceCount:  len(sources),
			BoostedScore: boosted,
		}
		return nil
	})
	if err != nil {
		return FoldResult{}, err
	}
	return result, nil
}

// MergeExisting folds loser into winner. The winner is resolved to its
// canonical root first. The winner write always lands before the loser is
// marked, and the loser's own duplicates are re-pointed at the winner.
func (m *Merger) MergeExisting(ctx context.Context, winnerID, loserID string) (MergeResult, error) {
	if m == nil || m.store == nil {
		return MergeResult{}, ErrNotInitialized
	}
	if strings.TrimSpace(winnerID) == "" || strings.TrimSpace(loserID) == "" {
		return MergeResult{}, fmt.Errorf("winner and loser ids are required")
	}
	if winnerID == loserID {
		return MergeResult{}, ErrSelfMerge
	}

	var result MergeResult
	err := runInTx(ctx, m.store, func(store ContentStore) error {
		winner, err := m.resolveIn(ctx, store, winnerID)
		if err != nil {
			return fmt.Errorf("resolve winner: %w", err)
		}
		loser, err := store.Get(ctx, loserID)
		if err != nil {
			return fmt.Errorf("load loser %s: %w", loserID, err)
		}
		if loser.IsDuplicate {
			result = MergeResult{Winner: winner, LoserID: loser.ID, Skipped: true}
			return nil
		}
		if winner.ID == loser.ID {
			return ErrSelfMerge
		}

		sources := appendSources(winner.effectiveSources(), loser.effectiveSources()...)
		base := winner.baseScore(m.cfg)
		boosted := boostedScore(winner, base, len(sources), m.cfg)
		content := longer(winner.Content, loser.Content)
		summary := longer(winner.Summary, loser.Summary)
		published := earliest(winner.PublishedAt, loser.PublishedAt)
		lastSource := latestSourceAt(sources, winner.LastSourceAt)
		now := m.now().UTC()

		if err := store.Update(ctx, winner.ID, StoryUpdate{
			Content:         &content,
			Summary:         &summary,
			Sources:         &sources,
			PublishedAt:     &published,
			LastSourceAt:    &lastSource,
			ImpactScore:     &boosted,
			BaseImpactScore: &base,
			UpdatedAt:       &now,
		}); err != nil {
			return fmt.Errorf("update winner %s: %w", winner.ID, err)
		}

		duplicate, hidden, target := true, true, winner.ID
		if err := store.Update(ctx, loser.ID, StoryUpdate{
			IsDuplicate: &duplicate,
			MergedInto:  &target,
			Hidden:      &hidden,
			UpdatedAt:   &now,
		}); err != nil {
			return fmt.Errorf("mark %s duplicate of %s: %w", loser.ID, winner.ID, err)
		}

		repointed, err := repointDuplicates(ctx, store, loser.ID, winner.ID, now)
		if err != nil {
			return err
		}

		winner.Content = content
		winner.Summary = summary
		winner.Sources = sources
		winner.PublishedAt = published
		winner.LastSourceAt = lastSource
		winner.ImpactScore = boosted
		winner.BaseImpactScore = base
		winner.UpdatedAt = now
		result = MergeResult{Winner: winner, LoserID: loser.ID, Repointed: repointed}
		return nil
	})
	if err != nil {
		return MergeResult{}, err
	}
	return result, nil
}

// ResolveCanonical follows merged_into to the live story.
func (m *Merger) ResolveCanonical(ctx context.Context, id string) (Story, error) {
	if m == nil || m.store == nil {
		return Story{}, ErrNotInitialized
	}
	return m.resolveIn(ctx, m.store, id)
}

func (m *Merger) resolveIn(ctx context.Context, store ContentStore, id string) (Story, error) {
	story, err := store.Get(ctx, id)
	if err != nil {
		return Story{}, fmt.Errorf("load story %s: %w", id, err)
	}
	return resolveCanonical(ctx, store, story)
}

func resolveCanonical(ctx context.Context, store ContentStore, story Story) (Story, error) {
	visited := map[string]struct{}{story.ID: {}}
	for story.IsDuplicate && story.MergedInto != "" {
		if _, seen := visited[story.MergedInto]; seen {
			return Story{}, fmt.Errorf("%w at %s", ErrMergeCycle, story.MergedInto)
		}
		next, err := store.Get(ctx, story.MergedInto)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Story{}, fmt.Errorf("merged_into target %s of %s: %w", story.MergedInto, story.ID, err)
			}
			return Story{}, fmt.Errorf("load merged_into target %s: %w", story.MergedInto, err)
		}
		visited[next.ID] = struct{}{}
		story = next
	}
	return story, nil
}

func repointDuplicates(ctx context.Context, store ContentStore, fromID, toID string, now time.Time) (int, error) {
	children, err := store.Query(ctx, StoryQuery{
		MergedInto:        fromID,
		IncludeDuplicates: true,
		OrderBy:           OrderByIngestedAt,
	})
	if err != nil {
		return 0, fmt.Errorf("query duplicates of %s: %w", fromID, err)
	}
	target := toID
	count := 0
	for _, child := range children {
		if child.ID == toID {
			continue
		}
		if err := store.Update(ctx, child.ID, StoryUpdate{MergedInto: &target, UpdatedAt: &now}); err != nil {
			return count, fmt.Errorf("re-point duplicate %s to %s: %w", child.ID, toID, err)
		}
		count++
	}
	return count, nil
}

// combinedSummary asks the generator for a summary spanning both reports.
// Failure returns "" and the caller keeps the longer summary instead.
func (m *Merger) combinedSummary(ctx context.Context, existing Story, in Incoming) string {
	if m.generator == nil {
		return ""
	}
	existingText := strings.TrimSpace(existing.Summary)
	if existingText == "" {
		existingText = existing.comparableText()
	}
	incomingText := strings.TrimSpace(in.Summary)
	if incomingText == "" {
		incomingText = strings.TrimSpace(in.Content)
	}
	if existingText == "" || incomingText == "" {
		return ""
	}

	prompt := fmt.Sprintf(
		"Two outlets reported the same news event. Write one neutral summary of at most three sentences that combines the facts from both reports. Return only the summary text.\n\nReport 1 (%s): %s\n%s\n\nReport 2 (%s): %s\n%s",
		existing.SourceName, strings.TrimSpace(existing.Headline), truncateRunes(existingText, 1200),
		in.SourceName, strings.TrimSpace(in.Headline), truncateRunes(incomingText, 1200),
	)
	generation, err := m.generator.Generate(ctx, prompt, GenerateOptions{MaxTokens: combinedSummaryMaxTokens, Temperature: 0.3})
	if err != nil {
		m.logger.Warn().Err(err).Str("story_id", existing.ID).Msg("combined summary generation failed, keeping longer summary")
		return ""
	}
	text := strings.TrimSpace(generation.Text)
	if text == "" {
		m.logger.Warn().Str("story_id", existing.ID).Msg("combined summary was empty, keeping longer summary")
	}
	return text
}
