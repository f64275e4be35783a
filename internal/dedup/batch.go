package dedup

import (
	"context"
	"fmt"
)

const DefaultBatchLimit = 500

type BatchOptions struct {
	Limit  int
	DryRun bool
}

func (o BatchOptions) normalize() BatchOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultBatchLimit
	}
	return o
}

// BatchReport counts a retroactive pass. On an aborted run it holds the
// progress made before the failure.
type BatchReport struct {
	Scanned   int        `json:"scanned"`
	Compared  int        `json:"compared"`
	Escalated int        `json:"escalated"`
	Merged    int        `json:"merged"`
	Rejected  int        `json:"rejected"`
	DryRun    bool       `json:"dry_run"`
	Decisions []Decision `json:"decisions"`
}

// RunBatch scans a snapshot of the most recent live stories pairwise and folds
// every confirmed duplicate j into the earlier story i. Stories already marked
// duplicate are skipped, so an interrupted run can be repeated safely.
func (e *Engine) RunBatch(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	if e == nil || e.finder == nil {
		return BatchReport{}, ErrNotInitialized
	}
	opts = opts.normalize()
	report := BatchReport{DryRun: opts.DryRun}

	snapshot, err := e.store.Query(ctx, StoryQuery{
		OrderBy: OrderByPublishedAt,
		Limit:   opts.Limit,
	})
	if err != nil {
		return report, fmt.Errorf("load batch snapshot: %w", err)
	}
	report.Scanned = len(snapshot)
	processed := make([]bool, len(snapshot))

	for i := range snapshot {
		if processed[i] || snapshot[i].IsDuplicate {
			continue
		}
		for j := i + 1; j < len(snapshot) && !processed[i]; j++ {
			if err := ctx.Err(); err != nil {
				return report, fmt.Errorf("batch dedup interrupted: %w", err)
			}
			if processed[j] || snapshot[j].IsDuplicate {
				continue
			}

			pair := e.finder.ComparePair(ctx, snapshot[i], snapshot[j])
			report.Compared++
			if !pair.Escalated {
				continue
			}
			report.Escalated++

			decision := Decision{
				Mode:        ModeBatch,
				StoryID:     snapshot[i].ID,
				CandidateID: snapshot[j].ID,
				Signal:      pair.Signal,
				HeadlineSim: pair.HeadlineSim,
				ContentSim:  pair.ContentSim,
				Verdict:     pair.Verdict,
				DryRun:      opts.DryRun,
			}

			switch {
			case !pair.Duplicate:
				decision.Kind = DecisionRejected
				report.Rejected++
			case opts.DryRun:
				decision.Kind = DecisionWouldMerge
				processed[j] = true
				report.Merged++
			default:
				merged, err := e.merger.MergeExisting(ctx, snapshot[i].ID, snapshot[j].ID)
				if err != nil {
					return report, fmt.Errorf("merge %s into %s: %w", snapshot[j].ID, snapshot[i].ID, err)
				}
				processed[j] = true
				decision.Kind = DecisionMerged
				if merged.Skipped {
					decision.Kind = DecisionAlreadyPresent
				} else {
					report.Merged++
				}
				decision.StoryID = merged.Winner.ID
				if merged.Winner.ID == snapshot[i].ID {
					snapshot[i] = merged.Winner
				} else {
					// i was folded elsewhere concurrently; its root now owns j.
					processed[i] = true
				}
			}

			decision = e.record(ctx, decision)
			report.Decisions = append(report.Decisions, decision)
			e.logBatchDecision(decision, pair, snapshot[i], snapshot[j])
		}
	}

	return report, nil
}

func (e *Engine) logBatchDecision(decision Decision, pair PairDecision, a, b Story) {
	event := e.logger.Debug()
	if decision.DryRun || decision.Kind == DecisionMerged {
		event = e.logger.Info()
	}
	event = event.
		Str("decision", string(decision.Kind)).
		Bool("dry_run", decision.DryRun).
		Str("story_id", a.ID).
		Str("candidate_id", b.ID).
		Str("headline", a.Headline).
		Str("candidate_headline", b.Headline).
		Float64("headline_sim", pair.HeadlineSim).
		Float64("content_sim", pair.ContentSim).
		Float64("combined", pair.Combined).
		Str("signal", string(pair.Signal))
	if pair.Verdict != nil {
		event = event.
			Str("verdict", string(pair.Verdict.Outcome)).
			Float64("confidence", pair.Verdict.Confidence).
			Str("reason", pair.Verdict.Reason)
	}
	event.Msg("batch dedup decision")
}
