package db

import (
	"context"
	"fmt"
	"time"

	"horse.fit/storymerge/internal/dedup"
)

const backfillPageSize = 200

// BackfillResult counts one backfill pass.
type BackfillResult struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
}

// BackfillLastSourceAt recomputes last_source_at from the sources list for
// every live story whose stored value is zero or stale. With dryRun set the
// rows are only counted.
func (p *Pool) BackfillLastSourceAt(ctx context.Context, dryRun bool) (BackfillResult, error) {
	var result BackfillResult
	if p == nil || p.gdb == nil {
		return result, fmt.Errorf("database pool is not initialized")
	}

	stories := p.Stories()
	lastID := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		tx := p.gdb.WithContext(ctx).
			Model(&StoryRecord{}).
			Where("is_duplicate = ?", false)
		if lastID != "" {
			tx = tx.Where("story_id > ?", lastID)
		}

		var page []StoryRecord
		if err := tx.Order("story_id ASC").Limit(backfillPageSize).Find(&page).Error; err != nil {
			return result, fmt.Errorf("load backfill page: %w", err)
		}
		if len(page) == 0 {
			return result, nil
		}

		for _, rec := range page {
			result.Scanned++
			story := storyFromRecord(rec)
			if !lastSourceStale(story) {
				continue
			}
			result.Updated++
			if dryRun {
				continue
			}
			want := story.LatestSourceAt()
			if err := stories.Update(ctx, story.ID, dedup.StoryUpdate{LastSourceAt: &want}); err != nil {
				return result, fmt.Errorf("backfill story %s: %w", story.ID, err)
			}
		}
		lastID = page[len(page)-1].StoryID
	}
}

func lastSourceStale(story dedup.Story) bool {
	want := story.LatestSourceAt()
	// postgres keeps microseconds.
	return !want.IsZero() && !story.LastSourceAt.Truncate(time.Microsecond).Equal(want.Truncate(time.Microsecond))
}
