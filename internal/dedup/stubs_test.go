package dedup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var errInjected = errors.New("injected failure")

type memoryStore struct {
	mu         sync.Mutex
	stories    map[string]Story
	seq        int
	failUpdate map[string]error
	updated    []string
	txCalls    int
}

func newMemoryStore(seed ...Story) *memoryStore {
	s := &memoryStore{
		stories:    make(map[string]Story),
		failUpdate: make(map[string]error),
	}
	for _, story := range seed {
		s.stories[story.ID] = cloneStory(story)
	}
	return s
}

func cloneStory(story Story) Story {
	if story.Sources != nil {
		story.Sources = append([]Source(nil), story.Sources...)
	}
	return story
}

func (s *memoryStore) Query(_ context.Context, q StoryQuery) ([]Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Story, 0, len(s.stories))
	for _, story := range s.stories {
		if q.URL != "" && story.URL != q.URL {
			continue
		}
		if q.SourceURL != "" && !hasSourceURL(story.Sources, q.SourceURL) {
			continue
		}
		if q.MergedInto != "" && story.MergedInto != q.MergedInto {
			continue
		}
		if !q.IncludeDuplicates && story.IsDuplicate {
			continue
		}
		if !q.PublishedFrom.IsZero() && story.PublishedAt.Before(q.PublishedFrom) {
			continue
		}
		if !q.PublishedTo.IsZero() && story.PublishedAt.After(q.PublishedTo) {
			continue
		}
		out = append(out, cloneStory(story))
	}

	key := func(story Story) time.Time {
		if q.OrderBy == OrderByIngestedAt {
			return story.IngestedAt
		}
		return story.PublishedAt
	}
	sort.SliceStable(out, func(i, j int) bool {
		if key(out[i]).Equal(key(out[j])) {
			return out[i].ID < out[j].ID
		}
		return key(out[i]).After(key(out[j]))
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	story, ok := s.stories[id]
	if !ok {
		return Story{}, ErrNotFound
	}
	return cloneStory(story), nil
}

func (s *memoryStore) Insert(_ context.Context, story Story) (Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if story.ID == "" {
		s.seq++
		story.ID = fmt.Sprintf("story-%d", s.seq)
	}
	s.stories[story.ID] = cloneStory(story)
	return cloneStory(story), nil
}

func (s *memoryStore) Update(_ context.Context, id string, u StoryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failUpdate[id]; err != nil {
		return err
	}
	story, ok := s.stories[id]
	if !ok {
		return ErrNotFound
	}
	if u.Content != nil {
		story.Content = *u.Content
	}
	if u.Summary != nil {
		story.Summary = *u.Summary
	}
	if u.Sources != nil {
		story.Sources = append([]Source(nil), (*u.Sources)...)
	}
	if u.PublishedAt != nil {
		story.PublishedAt = *u.PublishedAt
	}
	if u.LastSourceAt != nil {
		story.LastSourceAt = *u.LastSourceAt
	}
	if u.ImpactScore != nil {
		story.ImpactScore = *u.ImpactScore
	}
	if u.BaseImpactScore != nil {
		story.BaseImpactScore = *u.BaseImpactScore
	}
	if u.IsDuplicate != nil {
		story.IsDuplicate = *u.IsDuplicate
	}
	if u.MergedInto != nil {
		story.MergedInto = *u.MergedInto
	}
	if u.Hidden != nil {
		story.Hidden = *u.Hidden
	}
	if u.UpdatedAt != nil {
		story.UpdatedAt = *u.UpdatedAt
	}
	s.stories[id] = story
	s.updated = append(s.updated, id)
	return nil
}

// RunInTx restores the pre-transaction state when fn fails.
func (s *memoryStore) RunInTx(ctx context.Context, fn func(store ContentStore) error) error {
	s.mu.Lock()
	s.txCalls++
	backup := make(map[string]Story, len(s.stories))
	for id, story := range s.stories {
		backup[id] = cloneStory(story)
	}
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.stories = backup
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memoryStore) count(includeDuplicates bool) int {
	stories, _ := s.Query(context.Background(), StoryQuery{IncludeDuplicates: includeDuplicates})
	return len(stories)
}

type stubGenerator struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	respond func(prompt string) (string, error)
}

func (g *stubGenerator) Generate(_ context.Context, prompt string, _ GenerateOptions) (Generation, error) {
	g.mu.Lock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	respond := g.respond
	g.mu.Unlock()

	if respond == nil {
		return Generation{}, errInjected
	}
	text, err := respond(prompt)
	if err != nil {
		return Generation{}, err
	}
	return Generation{Text: text}, nil
}

func (g *stubGenerator) verificationCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, prompt := range g.prompts {
		if isVerificationPrompt(prompt) {
			n++
		}
	}
	return n
}

func isVerificationPrompt(prompt string) bool {
	return strings.Contains(prompt, "isDuplicate")
}

// oracleSaying answers verification prompts with a fixed verdict and fails
// every other prompt, so merges fall back to the longer summary.
func oracleSaying(isDuplicate bool, confidence int) *stubGenerator {
	return &stubGenerator{respond: func(prompt string) (string, error) {
		if !isVerificationPrompt(prompt) {
			return "", errInjected
		}
		return fmt.Sprintf(`{"isDuplicate": %t, "confidence": %d, "reason": "stub"}`, isDuplicate, confidence), nil
	}}
}

type memoryDecisionLog struct {
	mu        sync.Mutex
	decisions []Decision
}

func (l *memoryDecisionLog) RecordDecision(_ context.Context, d Decision) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.decisions = append(l.decisions, d)
	return nil
}

type memoryVerdictCache struct {
	mu       sync.Mutex
	verdicts map[string]Verdict
}

func (c *memoryVerdictCache) Get(_ context.Context, key string) (Verdict, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.verdicts[key]
	return v, ok, nil
}

func (c *memoryVerdictCache) Set(_ context.Context, key string, v Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.verdicts == nil {
		c.verdicts = make(map[string]Verdict)
	}
	c.verdicts[key] = v
	return nil
}

var testNow = time.Date(2025, 6, 12, 15, 0, 0, 0, time.UTC)

func newTestEngine(t interface{ Fatalf(string, ...any) }, store ContentStore, generator Generator, extra ...func(*Options)) *Engine {
	opts := Options{
		Store:  store,
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return testNow },
	}
	if generator != nil {
		opts.Generator = generator
	}
	for _, fn := range extra {
		fn(&opts)
	}
	engine, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func hasSourceURL(sources []Source, url string) bool {
	for _, src := range sources {
		if src.URL == url {
			return true
		}
	}
	return false
}
