package db

import (
	"time"

	"gorm.io/datatypes"

	"horse.fit/storymerge/internal/dedup"
)

// StoryRecord maps stories.
type StoryRecord struct {
	StoryID         string                            `gorm:"column:story_id;type:varchar(36);primaryKey"`
	Headline        string                            `gorm:"column:headline;type:text;not null"`
	Content         string                            `gorm:"column:content;type:text;not null;default:''"`
	Summary         string                            `gorm:"column:summary;type:text;not null;default:''"`
	URL             string                            `gorm:"column:url;type:text;not null;default:'';index:idx_stories_url"`
	SourceName      string                            `gorm:"column:source_name;type:text;not null;default:''"`
	Language        string                            `gorm:"column:language;type:varchar(8);not null;default:''"`
	Sources         datatypes.JSONSlice[dedup.Source] `gorm:"column:sources;not null"`
	PublishedAt     time.Time                         `gorm:"column:published_at;not null;index:idx_stories_published_at"`
	IngestedAt      time.Time                         `gorm:"column:ingested_at;not null"`
	LastSourceAt    time.Time                         `gorm:"column:last_source_at;not null"`
	PEImpactScore   float64                           `gorm:"column:pe_impact_score;not null;default:0"`
	BaseImpactScore float64                           `gorm:"column:base_impact_score;not null;default:0"`
	IsDuplicate     bool                              `gorm:"column:is_duplicate;not null;default:false"`
	MergedInto      *string                           `gorm:"column:merged_into;type:varchar(36);index:idx_stories_merged_into"`
	Hidden          bool                              `gorm:"column:hidden;not null;default:false"`
	CreatedAt       time.Time                         `gorm:"column:created_at;not null"`
	UpdatedAt       time.Time                         `gorm:"column:updated_at;not null"`
}

func (StoryRecord) TableName() string { return "stories" }

// DecisionRecord maps dedup_decisions, the audit trail of ingestion and
// batch decisions.
type DecisionRecord struct {
	DecisionID  string    `gorm:"column:decision_id;type:varchar(36);primaryKey"`
	Mode        string    `gorm:"column:mode;type:varchar(16);not null"`
	Kind        string    `gorm:"column:kind;type:varchar(32);not null;index:idx_dedup_decisions_kind"`
	StoryID     string    `gorm:"column:story_id;type:varchar(36);not null;index:idx_dedup_decisions_story"`
	CandidateID *string   `gorm:"column:candidate_id;type:varchar(36);index:idx_dedup_decisions_candidate"`
	SourceURL   *string   `gorm:"column:source_url;type:text"`
	Signal      *string   `gorm:"column:signal;type:varchar(32)"`
	HeadlineSim float64   `gorm:"column:headline_sim;not null;default:0"`
	ContentSim  float64   `gorm:"column:content_sim;not null;default:0"`
	Verdict     *string   `gorm:"column:verdict;type:varchar(16)"`
	Confidence  *float64  `gorm:"column:confidence"`
	Reason      *string   `gorm:"column:reason;type:text"`
	DryRun      bool      `gorm:"column:dry_run;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;not null;index:idx_dedup_decisions_created"`
}

func (DecisionRecord) TableName() string { return "dedup_decisions" }

func autoMigrateModels() []any {
	return []any{
		&StoryRecord{},
		&DecisionRecord{},
	}
}

func storyFromRecord(rec StoryRecord) dedup.Story {
	story := dedup.Story{
		ID:              rec.StoryID,
		Headline:        rec.Headline,
		Content:         rec.Content,
		Summary:         rec.Summary,
		URL:             rec.URL,
		SourceName:      rec.SourceName,
		Language:        rec.Language,
		Sources:         []dedup.Source(rec.Sources),
		PublishedAt:     rec.PublishedAt.UTC(),
		IngestedAt:      rec.IngestedAt.UTC(),
		LastSourceAt:    rec.LastSourceAt.UTC(),
		UpdatedAt:       rec.UpdatedAt.UTC(),
		ImpactScore:     rec.PEImpactScore,
		BaseImpactScore: rec.BaseImpactScore,
		IsDuplicate:     rec.IsDuplicate,
		Hidden:          rec.Hidden,
	}
	if rec.MergedInto != nil {
		story.MergedInto = *rec.MergedInto
	}
	for i := range story.Sources {
		story.Sources[i].PublishedAt = story.Sources[i].PublishedAt.UTC()
	}
	return story
}

func recordFromStory(story dedup.Story, now time.Time) StoryRecord {
	sources := story.Sources
	if sources == nil {
		sources = []dedup.Source{}
	}
	updated := story.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	return StoryRecord{
		StoryID:         story.ID,
		Headline:        story.Headline,
		Content:         story.Content,
		Summary:         story.Summary,
		URL:             story.URL,
		SourceName:      story.SourceName,
		Language:        story.Language,
		Sources:         datatypes.JSONSlice[dedup.Source](sources),
		PublishedAt:     story.PublishedAt.UTC(),
		IngestedAt:      story.IngestedAt.UTC(),
		LastSourceAt:    story.LastSourceAt.UTC(),
		PEImpactScore:   story.ImpactScore,
		BaseImpactScore: story.BaseImpactScore,
		IsDuplicate:     story.IsDuplicate,
		MergedInto:      stringPtr(story.MergedInto),
		Hidden:          story.Hidden,
		CreatedAt:       now,
		UpdatedAt:       updated.UTC(),
	}
}

func stringPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func floatPtr(v float64) *float64 {
	return &v
}
