package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/storymerge/internal/dedup"
)

// StoryStore is the gorm-backed dedup.ContentStore. Inside RunInTx, reads
// take row locks on postgres.
type StoryStore struct {
	db   *gorm.DB
	lock bool
	now  func() time.Time
}

// Stories returns the store bound to this pool.
func (p *Pool) Stories() *StoryStore {
	if p == nil {
		return nil
	}
	return &StoryStore{
		db:  p.gdb,
		now: func() time.Time { return time.Now().UTC() },
	}
}

var storyOrderColumns = map[string]string{
	dedup.OrderByPublishedAt: "published_at DESC, story_id DESC",
	dedup.OrderByIngestedAt:  "ingested_at DESC, story_id DESC",
}

func (s *StoryStore) Query(ctx context.Context, q dedup.StoryQuery) ([]dedup.Story, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("story store is not initialized")
	}

	tx := s.db.WithContext(ctx).Model(&StoryRecord{})
	if url := strings.TrimSpace(q.URL); url != "" {
		tx = tx.Where("url = ?", url)
	}
	if sourceURL := strings.TrimSpace(q.SourceURL); sourceURL != "" {
		filter, err := sourceURLFilter(s.db.Dialector.Name(), sourceURL)
		if err != nil {
			return nil, err
		}
		tx = tx.Where(filter)
	}
	if mergedInto := strings.TrimSpace(q.MergedInto); mergedInto != "" {
		tx = tx.Where("merged_into = ?", mergedInto)
	}
	if !q.PublishedFrom.IsZero() {
		tx = tx.Where("published_at >= ?", q.PublishedFrom.UTC())
	}
	if !q.PublishedTo.IsZero() {
		tx = tx.Where("published_at <= ?", q.PublishedTo.UTC())
	}
	if !q.IncludeDuplicates {
		tx = tx.Where("is_duplicate = ?", false)
	}

	order, ok := storyOrderColumns[q.OrderBy]
	if !ok {
		order = storyOrderColumns[dedup.OrderByPublishedAt]
	}
	tx = tx.Order(order)
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if s.lock {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var records []StoryRecord
	if err := tx.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("query stories: %w", err)
	}

	stories := make([]dedup.Story, 0, len(records))
	for _, rec := range records {
		stories = append(stories, storyFromRecord(rec))
	}
	return stories, nil
}

func (s *StoryStore) Get(ctx context.Context, id string) (dedup.Story, error) {
	if s == nil || s.db == nil {
		return dedup.Story{}, fmt.Errorf("story store is not initialized")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return dedup.Story{}, fmt.Errorf("story id is required")
	}

	tx := s.db.WithContext(ctx)
	if s.lock {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var rec StoryRecord
	if err := tx.Where("story_id = ?", trimmed).Take(&rec).Error; err != nil {
		if IsNoRows(err) {
			return dedup.Story{}, fmt.Errorf("get story %s: %w", trimmed, dedup.ErrNotFound)
		}
		return dedup.Story{}, fmt.Errorf("get story %s: %w", trimmed, err)
	}
	return storyFromRecord(rec), nil
}

func (s *StoryStore) Insert(ctx context.Context, story dedup.Story) (dedup.Story, error) {
	if s == nil || s.db == nil {
		return dedup.Story{}, fmt.Errorf("story store is not initialized")
	}
	if strings.TrimSpace(story.ID) == "" {
		story.ID = uuid.NewString()
	}

	rec := recordFromStory(story, s.now())
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return dedup.Story{}, fmt.Errorf("insert story: %w", err)
	}
	return storyFromRecord(rec), nil
}

func (s *StoryStore) Update(ctx context.Context, id string, update dedup.StoryUpdate) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("story store is not initialized")
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("story id is required")
	}

	values := updateColumns(update)
	if _, ok := values["updated_at"]; !ok {
		values["updated_at"] = s.now()
	}

	result := s.db.WithContext(ctx).
		Model(&StoryRecord{}).
		Where("story_id = ?", trimmed).
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("update story %s: %w", trimmed, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update story %s: %w", trimmed, dedup.ErrNotFound)
	}
	return nil
}

// RunInTx runs fn inside a database transaction.
func (s *StoryStore) RunInTx(ctx context.Context, fn func(store dedup.ContentStore) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("story store is not initialized")
	}
	if fn == nil {
		return errors.New("transaction callback is nil")
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&StoryStore{
			db:   tx,
			lock: tx.Dialector.Name() == "postgres",
			now:  s.now,
		})
	})
}

func updateColumns(update dedup.StoryUpdate) map[string]any {
	values := make(map[string]any)
	if update.Content != nil {
		values["content"] = *update.Content
	}
	if update.Summary != nil {
		values["summary"] = *update.Summary
	}
	if update.Sources != nil {
		sources := *update.Sources
		if sources == nil {
			sources = []dedup.Source{}
		}
		values["sources"] = datatypes.JSONSlice[dedup.Source](sources)
	}
	if update.PublishedAt != nil {
		values["published_at"] = update.PublishedAt.UTC()
	}
	if update.LastSourceAt != nil {
		values["last_source_at"] = update.LastSourceAt.UTC()
	}
	if update.ImpactScore != nil {
		values["pe_impact_score"] = *update.ImpactScore
	}
	if update.BaseImpactScore != nil {
		values["base_impact_score"] = *update.BaseImpactScore
	}
	if update.IsDuplicate != nil {
		values["is_duplicate"] = *update.IsDuplicate
	}
	if update.MergedInto != nil {
		values["merged_into"] = stringPtr(*update.MergedInto)
	}
	if update.Hidden != nil {
		values["hidden"] = *update.Hidden
	}
	if update.UpdatedAt != nil {
		values["updated_at"] = update.UpdatedAt.UTC()
	}
	return values
}

// sourceURLFilter matches rows whose sources array holds an entry with the
// given url. Postgres uses jsonb containment so idx_stories_sources_gin
// serves the lookup.
func sourceURLFilter(dialect, sourceURL string) (clause.Expr, error) {
	if dialect == "postgres" {
		needle, err := json.Marshal([]map[string]string{{"url": sourceURL}})
		if err != nil {
			return clause.Expr{}, fmt.Errorf("encode source url filter: %w", err)
		}
		return gorm.Expr("sources @> ?::jsonb", string(needle)), nil
	}
	return gorm.Expr("EXISTS (SELECT 1 FROM json_each(stories.sources) WHERE json_extract(json_each.value, '$.url') = ?)", sourceURL), nil
}
