package dedup

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("story not found")
	ErrSelfMerge       = errors.New("cannot merge a story into itself")
	ErrMergeCycle      = errors.New("merged_into chain forms a cycle")
	ErrInvalidIncoming = errors.New("invalid incoming story")
	ErrNotInitialized  = errors.New("dedup engine is not initialized")
)

const (
	OrderByPublishedAt = "published_at"
	OrderByIngestedAt  = "ingested_at"
)

// StoryQuery filters a corpus scan. Zero values disable a filter; results are
// always ordered descending by OrderBy. SourceURL matches stories with a
// recorded source carrying exactly that url.
type StoryQuery struct {
	URL               string
	SourceURL         string
	MergedInto        string
	PublishedFrom     time.Time
	PublishedTo       time.Time
	IncludeDuplicates bool
	OrderBy           string
	Limit             int
}

// StoryUpdate is a partial write. Nil fields are left untouched.
type StoryUpdate struct {
	Content         *string
	Summary         *string
	Sources         *[]Source
	PublishedAt     *time.Time
	LastSourceAt    *time.Time
	ImpactScore     *float64
	BaseImpactScore *float64
	IsDuplicate     *bool
	MergedInto      *string
	Hidden          *bool
	UpdatedAt       *time.Time
}

// ContentStore is the document collection the engine reads and mutates.
type ContentStore interface {
	Query(ctx context.Context, q StoryQuery) ([]Story, error)
	Get(ctx context.Context, id string) (Story, error)
	Insert(ctx context.Context, story Story) (Story, error)
	Update(ctx context.Context, id string, update StoryUpdate) error
}

// Transactor is implemented by stores that can run a read-modify-write
// atomically. Reads through the store handed to fn lock the rows they return.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(store ContentStore) error) error
}

type GenerateOptions struct {
	MaxTokens    int
	Temperature  float64
	JSONResponse bool
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Generation struct {
	Text  string
	Usage Usage
}

// Generator is the AI content-generation capability.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (Generation, error)
}

// RelevanceScorer seeds pe_impact_score for brand-new stories that arrive
// without one.
type RelevanceScorer interface {
	Score(ctx context.Context, story Story) (float64, error)
}

// VerdictCache remembers definitive oracle judgments for a story pair.
type VerdictCache interface {
	Get(ctx context.Context, key string) (Verdict, bool, error)
	Set(ctx context.Context, key string, verdict Verdict) error
}

// DecisionLog is the audit trail of ingestion and batch decisions.
type DecisionLog interface {
	RecordDecision(ctx context.Context, decision Decision) error
}

type Recorder interface {
	ObserveDecision(mode Mode, kind DecisionKind, signal Signal)
	ObserveOracle(outcome Outcome, cached bool, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(Mode, DecisionKind, Signal) {}
func (nopRecorder) ObserveOracle(Outcome, bool, time.Duration) {}

func runInTx(ctx context.Context, store ContentStore, fn func(store ContentStore) error) error {
	if tx, ok := store.(Transactor); ok {
		return tx.RunInTx(ctx, fn)
	}
	return fn(store)
}
