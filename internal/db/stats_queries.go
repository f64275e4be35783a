package db

import (
	"context"
	"fmt"
	"time"

	"horse.fit/storymerge/internal/dedup"
)

// CorpusStats is the read model returned by the stats command and endpoint.
type CorpusStats struct {
	Day        string           `json:"day"`
	Totals     CorpusTotals     `json:"totals"`
	Throughput CorpusThroughput `json:"throughput"`
	Decisions  map[string]int64 `json:"decisions_today"`
}

type CorpusTotals struct {
	Stories     int64 `json:"stories"`
	LiveStories int64 `json:"live_stories"`
	Duplicates  int64 `json:"duplicates"`
	MultiSource int64 `json:"multi_source"`
	Decisions   int64 `json:"decisions"`
}

type CorpusThroughput struct {
	StoriesIngestedToday int64 `json:"stories_ingested_today"`
	SourcesFoldedToday   int64 `json:"sources_folded_today"`
	MergedToday          int64 `json:"merged_today"`
}

// QueryCorpusStats counts stories and decisions, with throughput for the
// [dayStart, dayEnd) window.
func (p *Pool) QueryCorpusStats(ctx context.Context, dayStart, dayEnd time.Time) (*CorpusStats, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	startUTC := dayStart.UTC()
	endUTC := dayEnd.UTC()
	if !startUTC.Before(endUTC) {
		return nil, fmt.Errorf("dayStart must be before dayEnd")
	}

	stats := &CorpusStats{
		Day:       startUTC.Format("2006-01-02"),
		Decisions: make(map[string]int64),
	}
	gdb := p.gdb.WithContext(ctx)

	counts := []struct {
		label string
		dest  *int64
		model any
		where string
		args  []any
	}{
		{"stories", &stats.Totals.Stories, &StoryRecord{}, "", nil},
		{"live stories", &stats.Totals.LiveStories, &StoryRecord{}, "is_duplicate = ?", []any{false}},
		{"duplicates", &stats.Totals.Duplicates, &StoryRecord{}, "is_duplicate = ?", []any{true}},
		{"decisions", &stats.Totals.Decisions, &DecisionRecord{}, "", nil},
		{"stories ingested today", &stats.Throughput.StoriesIngestedToday, &StoryRecord{}, "ingested_at >= ? AND ingested_at < ?", []any{startUTC, endUTC}},
	}
	for _, c := range counts {
		tx := gdb.Model(c.model)
		if c.where != "" {
			tx = tx.Where(c.where, c.args...)
		}
		if err := tx.Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", c.label, err)
		}
	}

	lengthFn := "json_array_length"
	if p.isPostgres() {
		lengthFn = "jsonb_array_length"
	}
	err := gdb.Model(&StoryRecord{}).
		Where("is_duplicate = ? AND "+lengthFn+"(sources) > 1", false).
		Count(&stats.Totals.MultiSource).Error
	if err != nil {
		return nil, fmt.Errorf("count multi-source stories: %w", err)
	}

	var kinds []struct {
		Kind  string
		Total int64
	}
	err = gdb.Model(&DecisionRecord{}).
		Select("kind, COUNT(*) AS total").
		Where("created_at >= ? AND created_at < ?", startUTC, endUTC).
		Group("kind").
		Scan(&kinds).Error
	if err != nil {
		return nil, fmt.Errorf("count decisions by kind: %w", err)
	}
	for _, k := range kinds {
		stats.Decisions[k.Kind] = k.Total
		switch k.Kind {
		case string(dedup.DecisionFolded):
			stats.Throughput.SourcesFoldedToday = k.Total
		case string(dedup.DecisionMerged):
			stats.Throughput.MergedToday = k.Total
		}
	}

	return stats, nil
}
