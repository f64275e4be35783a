package db

import (
	"context"
	"fmt"
	"strings"

	"horse.fit/storymerge/internal/dedup"
)

// StoryListOptions controls the live story listing.
type StoryListOptions struct {
	Limit  int
	Offset int
	// IncludeHidden also returns stories hidden by a merge.
	IncludeHidden bool
}

// StoryDetail is one story plus the duplicates folded into it.
type StoryDetail struct {
	Story      dedup.Story      `json:"story"`
	Duplicates []dedup.Story    `json:"duplicates"`
	Decisions  []dedup.Decision `json:"decisions"`
}

// ListLiveStories returns canonical stories, most recently published first.
func (p *Pool) ListLiveStories(ctx context.Context, opts StoryListOptions) ([]dedup.Story, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	if opts.Offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}

	tx := p.gdb.WithContext(ctx).
		Model(&StoryRecord{}).
		Where("is_duplicate = ?", false)
	if !opts.IncludeHidden {
		tx = tx.Where("hidden = ?", false)
	}

	var records []StoryRecord
	err := tx.Order("published_at DESC, story_id DESC").
		Limit(opts.Limit).
		Offset(opts.Offset).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list live stories: %w", err)
	}

	out := make([]dedup.Story, 0, len(records))
	for _, rec := range records {
		out = append(out, storyFromRecord(rec))
	}
	return out, nil
}

// GetStoryDetail loads a story with its duplicates and latest decisions.
func (p *Pool) GetStoryDetail(ctx context.Context, storyID string) (*StoryDetail, error) {
	trimmed := strings.TrimSpace(storyID)
	if trimmed == "" {
		return nil, fmt.Errorf("story id is required")
	}

	stories := p.Stories()
	story, err := stories.Get(ctx, trimmed)
	if err != nil {
		return nil, err
	}

	duplicates, err := stories.Query(ctx, dedup.StoryQuery{
		MergedInto:        trimmed,
		IncludeDuplicates: true,
		OrderBy:           dedup.OrderByPublishedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("list duplicates: %w", err)
	}

	decisions, err := p.ListDecisionsForStory(ctx, trimmed, 50)
	if err != nil {
		return nil, err
	}

	return &StoryDetail{
		Story:      story,
		Duplicates: duplicates,
		Decisions:  decisions,
	}, nil
}
