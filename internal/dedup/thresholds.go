package dedup

import (
	"fmt"
	"time"
)

const (
	DefaultAutoMergeHeadline   = 0.8
	DefaultAutoMergeContent    = 0.75
	DefaultEscalateHeadline    = 0.4
	DefaultEscalateContent     = 0.4
	DefaultNoOracleIngestBar   = 0.35
	DefaultNoOracleBatchBar    = 0.4
	DefaultBatchEscalateBar    = 0.25
	DefaultWindowHours         = 48
	DefaultOracleMinConfidence = 70
	DefaultMaxOracleCandidates = 3
	DefaultContentPrefixChars  = 200
	DefaultPromptSummaryChars  = 300
	DefaultScoreCeiling        = 99.99
	DefaultBoostPerSource      = 0.15

	windowCandidateLimit = 300
)

// Thresholds holds every tunable bar used by the finder, verifier, merger and
// batch deduplicator.
type Thresholds struct {
	AutoMergeHeadline   float64
	AutoMergeContent    float64
	EscalateHeadline    float64
	EscalateContent     float64
	NoOracleIngestBar   float64
	NoOracleBatchBar    float64
	BatchEscalateBar    float64
	WindowHours         int
	OracleMinConfidence float64
	MaxOracleCandidates int
	ContentPrefixChars  int
	PromptSummaryChars  int
	ScoreCeiling        float64
	BoostPerSource      float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		AutoMergeHeadline:   DefaultAutoMergeHeadline,
		AutoMergeContent:    DefaultAutoMergeContent,
		EscalateHeadline:    DefaultEscalateHeadline,
		EscalateContent:     DefaultEscalateContent,
		NoOracleIngestBar:   DefaultNoOracleIngestBar,
		NoOracleBatchBar:    DefaultNoOracleBatchBar,
		BatchEscalateBar:    DefaultBatchEscalateBar,
		WindowHours:         DefaultWindowHours,
		OracleMinConfidence: DefaultOracleMinConfidence,
		MaxOracleCandidates: DefaultMaxOracleCandidates,
		ContentPrefixChars:  DefaultContentPrefixChars,
		PromptSummaryChars:  DefaultPromptSummaryChars,
		ScoreCeiling:        DefaultScoreCeiling,
		BoostPerSource:      DefaultBoostPerSource,
	}
}

// withDefaults fills unset fields from DefaultThresholds.
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.AutoMergeHeadline <= 0 {
		t.AutoMergeHeadline = d.AutoMergeHeadline
	}
	if t.AutoMergeContent <= 0 {
		t.AutoMergeContent = d.AutoMergeContent
	}
	if t.EscalateHeadline <= 0 {
		t.EscalateHeadline = d.EscalateHeadline
	}
	if t.EscalateContent <= 0 {
		t.EscalateContent = d.EscalateContent
	}
	if t.NoOracleIngestBar <= 0 {
		t.NoOracleIngestBar = d.NoOracleIngestBar
	}
	if t.NoOracleBatchBar <= 0 {
		t.NoOracleBatchBar = d.NoOracleBatchBar
	}
	if t.BatchEscalateBar <= 0 {
		t.BatchEscalateBar = d.BatchEscalateBar
	}
	if t.WindowHours <= 0 {
		t.WindowHours = d.WindowHours
	}
	if t.OracleMinConfidence <= 0 {
		t.OracleMinConfidence = d.OracleMinConfidence
	}
	if t.MaxOracleCandidates <= 0 {
		t.MaxOracleCandidates = d.MaxOracleCandidates
	}
	if t.ContentPrefixChars <= 0 {
		t.ContentPrefixChars = d.ContentPrefixChars
	}
	if t.PromptSummaryChars <= 0 {
		t.PromptSummaryChars = d.PromptSummaryChars
	}
	if t.ScoreCeiling <= 0 {
		t.ScoreCeiling = d.ScoreCeiling
	}
	if t.BoostPerSource <= 0 {
		t.BoostPerSource = d.BoostPerSource
	}
	return t
}

func (t Thresholds) Validate() error {
	unit := []struct {
		name  string
		value float64
	}{
		{"auto_merge_headline", t.AutoMergeHeadline},
		{"auto_merge_content", t.AutoMergeContent},
		{"escalate_headline", t.EscalateHeadline},
		{"escalate_content", t.EscalateContent},
		{"no_oracle_ingest_bar", t.NoOracleIngestBar},
		{"no_oracle_batch_bar", t.NoOracleBatchBar},
		{"batch_escalate_bar", t.BatchEscalateBar},
	}
	for _, item := range unit {
		if item.value < 0 || item.value > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", item.name, item.value)
		}
	}
	if t.EscalateHeadline > t.AutoMergeHeadline {
		return fmt.Errorf("escalate_headline (%v) cannot exceed auto_merge_headline (%v)", t.EscalateHeadline, t.AutoMergeHeadline)
	}
	if t.WindowHours < 1 {
		return fmt.Errorf("window_hours must be >= 1")
	}
	if t.OracleMinConfidence < 0 || t.OracleMinConfidence > 100 {
		return fmt.Errorf("oracle_min_confidence must be within [0,100]")
	}
	if t.MaxOracleCandidates < 1 {
		return fmt.Errorf("max_oracle_candidates must be >= 1")
	}
	return nil
}

func (t Thresholds) window() time.Duration {
	return time.Duration(t.WindowHours) * time.Hour
}
