package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"horse.fit/storymerge/internal/dedup"
)

// RecordDecision implements dedup.DecisionLog.
func (p *Pool) RecordDecision(ctx context.Context, decision dedup.Decision) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if strings.TrimSpace(decision.StoryID) == "" {
		return fmt.Errorf("decision story id is required")
	}

	rec := DecisionRecord{
		DecisionID:  strings.TrimSpace(decision.ID),
		Mode:        string(decision.Mode),
		Kind:        string(decision.Kind),
		StoryID:     decision.StoryID,
		CandidateID: stringPtr(decision.CandidateID),
		SourceURL:   stringPtr(decision.SourceURL),
		Signal:      stringPtr(string(decision.Signal)),
		HeadlineSim: decision.HeadlineSim,
		ContentSim:  decision.ContentSim,
		DryRun:      decision.DryRun,
		CreatedAt:   decision.CreatedAt.UTC(),
	}
	if rec.DecisionID == "" {
		rec.DecisionID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if v := decision.Verdict; v != nil {
		rec.Verdict = stringPtr(string(v.Outcome))
		rec.Confidence = floatPtr(v.Confidence)
		rec.Reason = stringPtr(v.Reason)
	}

	if err := p.gdb.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert dedup decision: %w", err)
	}
	return nil
}

// ListDecisionsForStory returns the audit trail touching a story, newest first.
func (p *Pool) ListDecisionsForStory(ctx context.Context, storyID string, limit int) ([]dedup.Decision, error) {
	if p == nil || p.gdb == nil {
		return nil, fmt.Errorf("database pool is not initialized")
	}
	trimmed := strings.TrimSpace(storyID)
	if trimmed == "" {
		return nil, fmt.Errorf("story id is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	var records []DecisionRecord
	err := p.gdb.WithContext(ctx).
		Where("story_id = ? OR candidate_id = ?", trimmed, trimmed).
		Order("created_at DESC, decision_id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list decisions for story: %w", err)
	}

	out := make([]dedup.Decision, 0, len(records))
	for _, rec := range records {
		out = append(out, decisionFromRecord(rec))
	}
	return out, nil
}

func decisionFromRecord(rec DecisionRecord) dedup.Decision {
	d := dedup.Decision{
		ID:          rec.DecisionID,
		Mode:        dedup.Mode(rec.Mode),
		Kind:        dedup.DecisionKind(rec.Kind),
		StoryID:     rec.StoryID,
		CandidateID: derefString(rec.CandidateID),
		SourceURL:   derefString(rec.SourceURL),
		Signal:      dedup.Signal(derefString(rec.Signal)),
		HeadlineSim: rec.HeadlineSim,
		ContentSim:  rec.ContentSim,
		DryRun:      rec.DryRun,
		CreatedAt:   rec.CreatedAt.UTC(),
	}
	if rec.Verdict != nil {
		v := dedup.Verdict{
			Outcome: dedup.Outcome(*rec.Verdict),
			Reason:  derefString(rec.Reason),
		}
		if rec.Confidence != nil {
			v.Confidence = *rec.Confidence
		}
		v.IsDuplicate = v.Outcome == dedup.OutcomeConfirmed
		d.Verdict = &v
	}
	return d
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
