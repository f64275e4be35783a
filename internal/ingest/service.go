package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/storymerge/internal/dedup"
	"horse.fit/storymerge/internal/langdetect"
	"horse.fit/storymerge/internal/reader"
	payloadschema "horse.fit/storymerge/schema"
)

const maxItemErrorLength = 500

// Item results, also used as metric labels.
const (
	ResultStored  = "stored"
	ResultInvalid = "invalid"
	ResultFailed  = "failed"
)

// Placer is the dedup engine surface the service drives.
type Placer interface {
	Ingest(ctx context.Context, in dedup.Incoming) (dedup.IngestResult, error)
}

type ItemRecorder interface {
	ObserveIngestItem(result string)
}

type Options struct {
	// Concurrency bounds parallel item preparation. Placement is sequential.
	Concurrency int
	// DetectLanguage fills Incoming.Language when the payload carries none.
	DetectLanguage bool
	Recorder       ItemRecorder
	Logger         zerolog.Logger
}

type Service struct {
	placer         Placer
	concurrency    int
	detectLanguage bool
	recorder       ItemRecorder
	logger         zerolog.Logger
}

// ItemOutcome reports one feed item of a batch.
type ItemOutcome struct {
	Index   int                `json:"index"`
	URL     string             `json:"url"`
	Result  string             `json:"result"`
	StoryID string             `json:"story_id,omitempty"`
	Kind    dedup.DecisionKind `json:"kind,omitempty"`
	Signal  dedup.Signal       `json:"signal,omitempty"`
	Error   string             `json:"error,omitempty"`
}

type Result struct {
	Items          int           `json:"items"`
	Inserted       int           `json:"inserted"`
	Folded         int           `json:"folded"`
	AlreadyPresent int           `json:"already_present"`
	Invalid        int           `json:"invalid"`
	Failed         int           `json:"failed"`
	Outcomes       []ItemOutcome `json:"outcomes"`
}

func NewService(placer Placer, opts Options) *Service {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		placer:         placer,
		concurrency:    concurrency,
		detectLanguage: opts.DetectLanguage,
		recorder:       opts.Recorder,
		logger:         opts.Logger,
	}
}

// Incoming converts a validated feed item into the engine's input: HTML
// bodies are reduced to text and the language is normalized or detected.
func (s *Service) Incoming(item *payloadschema.FeedItem) (dedup.Incoming, error) {
	if item == nil {
		return dedup.Incoming{}, fmt.Errorf("%w: feed item is nil", dedup.ErrInvalidIncoming)
	}

	content := strings.TrimSpace(item.Content)
	summary := strings.TrimSpace(item.Summary)
	if item.IsHTML() {
		var err error
		if content, err = reader.ExtractText(content, item.URL); err != nil {
			return dedup.Incoming{}, fmt.Errorf("extract content text: %w", err)
		}
		if summary, err = reader.ExtractText(summary, item.URL); err != nil {
			return dedup.Incoming{}, fmt.Errorf("extract summary text: %w", err)
		}
	}

	language := ""
	if item.Language != nil {
		language = langdetect.Normalize(*item.Language)
	}
	if language == "" && s != nil && s.detectLanguage {
		body := content
		if body == "" {
			body = summary
		}
		language = langdetect.Detect(item.Headline, body)
	}

	in := dedup.Incoming{
		SourceName:  strings.TrimSpace(item.Source),
		URL:         strings.TrimSpace(item.URL),
		Headline:    strings.TrimSpace(item.Headline),
		Content:     content,
		Summary:     summary,
		Language:    language,
		PublishedAt: item.PublishedTime(),
	}
	if item.ImpactScore != nil {
		in.ImpactScore = *item.ImpactScore
	}
	return in, nil
}

// IngestItem places one feed item.
func (s *Service) IngestItem(ctx context.Context, item *payloadschema.FeedItem) (dedup.IngestResult, error) {
	if s == nil || s.placer == nil {
		return dedup.IngestResult{}, fmt.Errorf("ingest service is not initialized")
	}

	in, err := s.Incoming(item)
	if err != nil {
		s.observe(ResultInvalid)
		return dedup.IngestResult{}, err
	}
	result, err := s.placer.Ingest(ctx, in)
	if err != nil {
		s.observe(classify(err))
		return dedup.IngestResult{}, err
	}
	s.observe(ResultStored)
	return result, nil
}

type prepared struct {
	in  dedup.Incoming
	err error
}

// IngestBatch prepares items concurrently and places them one at a time in
// input order, so two feeds carrying the same story in one batch fold instead
// of racing to insert. Item failures are reported in the result; only context
// cancellation aborts the batch.
func (s *Service) IngestBatch(ctx context.Context, items []*payloadschema.FeedItem) (Result, error) {
	result := Result{Items: len(items), Outcomes: make([]ItemOutcome, 0, len(items))}
	if s == nil || s.placer == nil {
		return result, fmt.Errorf("ingest service is not initialized")
	}

	inputs := make([]prepared, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in, err := s.Incoming(item)
			inputs[i] = prepared{in: in, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	for i, input := range inputs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		outcome := ItemOutcome{Index: i, URL: input.in.URL}
		if outcome.URL == "" && items[i] != nil {
			outcome.URL = items[i].URL
		}
		if input.err != nil {
			outcome.Result = ResultInvalid
			outcome.Error = truncateError(input.err)
			result.Invalid++
			result.Outcomes = append(result.Outcomes, outcome)
			s.observe(ResultInvalid)
			s.logger.Warn().Err(input.err).Int("index", i).Msg("feed item skipped")
			continue
		}

		placed, err := s.placer.Ingest(ctx, input.in)
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			outcome.Result = classify(err)
			outcome.Error = truncateError(err)
			if outcome.Result == ResultInvalid {
				result.Invalid++
			} else {
				result.Failed++
			}
			result.Outcomes = append(result.Outcomes, outcome)
			s.observe(outcome.Result)
			s.logger.Warn().
				Err(err).
				Int("index", i).
				Str("url", input.in.URL).
				Str("source", input.in.SourceName).
				Msg("feed item ingest failed")
			continue
		}

		outcome.Result = ResultStored
		outcome.StoryID = placed.StoryID
		outcome.Kind = placed.Kind
		outcome.Signal = placed.Signal
		switch placed.Kind {
		case dedup.DecisionInserted:
			result.Inserted++
		case dedup.DecisionFolded:
			result.Folded++
		case dedup.DecisionAlreadyPresent:
			result.AlreadyPresent++
		}
		result.Outcomes = append(result.Outcomes, outcome)
		s.observe(ResultStored)
	}

	s.logger.Info().
		Int("items", result.Items).
		Int("inserted", result.Inserted).
		Int("folded", result.Folded).
		Int("already_present", result.AlreadyPresent).
		Int("invalid", result.Invalid).
		Int("failed", result.Failed).
		Msg("ingest batch completed")

	return result, nil
}

func (s *Service) observe(result string) {
	if s != nil && s.recorder != nil {
		s.recorder.ObserveIngestItem(result)
	}
}

func classify(err error) string {
	if errors.Is(err, dedup.ErrInvalidIncoming) {
		return ResultInvalid
	}
	return ResultFailed
}

func truncateError(err error) string {
	msg := err.Error()
	runes := []rune(msg)
	if len(runes) <= maxItemErrorLength {
		return msg
	}
	return string(runes[:maxItemErrorLength])
}
