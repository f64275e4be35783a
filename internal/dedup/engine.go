package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/storymerge/internal/globaltime"
)

type Mode string

const (
	ModeIngest Mode = "ingest"
	ModeBatch  Mode = "batch"
)

type DecisionKind string

const (
	DecisionInserted       DecisionKind = "inserted"
	DecisionFolded         DecisionKind = "folded"
	DecisionAlreadyPresent DecisionKind = "already_present"
	DecisionMerged         DecisionKind = "merged"
	DecisionWouldMerge     DecisionKind = "would_merge"
	DecisionRejected       DecisionKind = "rejected"
)

// Decision is one audited classification. StoryID is the canonical story the
// decision lands on; CandidateID is the matched or folded-away story.
type Decision struct {
	ID          string       `json:"id"`
	Mode        Mode         `json:"mode"`
	Kind        DecisionKind `json:"kind"`
	StoryID     string       `json:"story_id"`
	CandidateID string       `json:"candidate_id,omitempty"`
	SourceURL   string       `json:"source_url,omitempty"`
	Signal      Signal       `json:"signal,omitempty"`
	HeadlineSim float64      `json:"headline_sim"`
	ContentSim  float64      `json:"content_sim"`
	Verdict     *Verdict     `json:"verdict,omitempty"`
	DryRun      bool         `json:"dry_run"`
	CreatedAt   time.Time    `json:"created_at"`
}

type Options struct {
	Store      ContentStore
	Generator  Generator
	Scorer     RelevanceScorer
	Cache      VerdictCache
	Decisions  DecisionLog
	Recorder   Recorder
	Thresholds Thresholds
	Logger     zerolog.Logger
	// Now defaults to globaltime.UTC.
	Now func() time.Time
}

// Engine wires the finder, verifier and merger around one content store.
type Engine struct {
	store     ContentStore
	finder    *Finder
	verifier  *Verifier
	merger    *Merger
	decisions DecisionLog
	recorder  Recorder
	cfg       Thresholds
	logger    zerolog.Logger
	now       func() time.Time
}

type IngestResult struct {
	StoryID  string       `json:"story_id"`
	Kind     DecisionKind `json:"kind"`
	Signal   Signal       `json:"signal,omitempty"`
	Story    Story        `json:"story"`
	Decision Decision     `json:"decision"`
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("content store is required")
	}
	cfg := opts.Thresholds.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate thresholds: %w", err)
	}
	now := opts.Now
	if now == nil {
		now = globaltime.UTC
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = nopRecorder{}
	}

	verifier := newVerifier(opts.Generator, opts.Cache, recorder, cfg, opts.Logger)
	return &Engine{
		store:     opts.Store,
		finder:    newFinder(opts.Store, verifier, cfg, opts.Logger, now),
		verifier:  verifier,
		merger:    newMerger(opts.Store, opts.Generator, opts.Scorer, cfg, opts.Logger, now),
		decisions: opts.Decisions,
		recorder:  recorder,
		cfg:       cfg,
		logger:    opts.Logger,
		now:       now,
	}, nil
}

func (e *Engine) Finder() *Finder { return e.finder }
func (e *Engine) Verifier() *Verifier { return e.verifier }
func (e *Engine) Merger() *Merger { return e.merger }
func (e *Engine) Thresholds() Thresholds {
	return e.cfg
}

// Ingest places one feed item: it is either folded into the story describing
// the same event or inserted as a new canonical story.
func (e *Engine) Ingest(ctx context.Context, in Incoming) (IngestResult, error) {
	if e == nil || e.finder == nil {
		return IngestResult{}, ErrNotInitialized
	}
	if err := in.validate(); err != nil {
		return IngestResult{}, err
	}

	match, err := e.finder.FindSimilar(ctx, in)
	if err != nil {
		return IngestResult{}, fmt.Errorf("find similar story: %w", err)
	}

	decision := Decision{
		Mode:        ModeIngest,
		SourceURL:   in.URL,
		Signal:      match.Signal,
		HeadlineSim: match.HeadlineSim,
		ContentSim:  match.ContentSim,
		Verdict:     match.Verdict,
	}

	var story Story
	if match.Story == nil {
		story, err = e.merger.InsertNew(ctx, in)
		if err != nil {
			return IngestResult{}, err
		}
		decision.Kind = DecisionInserted
		decision.StoryID = story.ID
	} else {
		folded, err := e.merger.FoldSource(ctx, match.Story.ID, in)
		if err != nil {
			return IngestResult{}, fmt.Errorf("fold source into %s: %w", match.Story.ID, err)
		}
		story = folded.Story
		decision.StoryID = story.ID
		decision.Kind = DecisionAlreadyPresent
		if folded.Added {
			decision.Kind = DecisionFolded
		}
	}

	decision = e.record(ctx, decision)
	e.logger.Debug().
		Str("story_id", decision.StoryID).
		Str("decision", string(decision.Kind)).
		Str("signal", string(decision.Signal)).
		Float64("headline_sim", decision.HeadlineSim).
		Float64("content_sim", decision.ContentSim).
		Msg("ingest decision")

	return IngestResult{
		StoryID:  story.ID,
		Kind:     decision.Kind,
		Signal:   decision.Signal,
		Story:    story,
		Decision: decision,
	}, nil
}

// record stamps, counts and audits a decision. Audit failures are logged and
// never fail the operation that produced the decision.
func (e *Engine) record(ctx context.Context, decision Decision) Decision {
	decision.ID = uuid.NewString()
	decision.CreatedAt = e.now().UTC()
	e.recorder.ObserveDecision(decision.Mode, decision.Kind, decision.Signal)
	if e.decisions != nil && !decision.DryRun {
		if err := e.decisions.RecordDecision(ctx, decision); err != nil {
			e.logger.Warn().Err(err).Str("story_id", decision.StoryID).Str("decision", string(decision.Kind)).Msg("record dedup decision failed")
		}
	}
	return decision
}
