package dedup

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBoostScoreMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	cfg := DefaultThresholds()
	if got := BoostScore(10, 3, cfg); !approxEqual(got, 13.0) {
		t.Fatalf("unexpected boost: got %v want 13.0", got)
	}
	for _, base := range []float64{0.5, 10, 42, 80, 99.99, 150} {
		prev := 0.0
		for n := 1; n <= 12; n++ {
			got := BoostScore(base, n, cfg)
			if got < prev {
				t.Fatalf("boost decreased for base=%v n=%d: %v < %v", base, n, got, prev)
			}
			if got > cfg.ScoreCeiling {
				t.Fatalf("boost exceeded ceiling for base=%v n=%d: %v", base, n, got)
			}
			prev = got
		}
	}
	if got := BoostScore(80, 3, cfg); got != cfg.ScoreCeiling {
		t.Fatalf("expected cap at %v, got %v", cfg.ScoreCeiling, got)
	}
}

func TestInsertNewSeedsSourcesAndTimestamps(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	engine := newTestEngine(t, store, nil)
	published := testNow.Add(-20 * time.Minute)

	story, err := engine.Merger().InsertNew(context.Background(), Incoming{
		SourceName:  "Reuters",
		URL:         "https://reuters.example/a",
		Headline:    "Headline",
		PublishedAt: published,
		ImpactScore: 42,
	})
	if err != nil {
		t.Fatalf("insert new: %v", err)
	}
	if story.ID == "" || len(story.Sources) != 1 || story.Sources[0].Name != "Reuters" {
		t.Fatalf("unexpected inserted story: %+v", story)
	}
	if !story.IngestedAt.Equal(testNow) || !story.PublishedAt.Equal(published) || !story.LastSourceAt.Equal(published) {
		t.Fatalf("unexpected timestamps: %+v", story)
	}
	if story.BaseImpactScore != 42 || story.IsDuplicate {
		t.Fatalf("unexpected score or flags: %+v", story)
	}

	undated, err := engine.Merger().InsertNew(context.Background(), Incoming{SourceName: "Wire", URL: "https://wire.example/b", Headline: "Other"})
	if err != nil {
		t.Fatalf("insert undated: %v", err)
	}
	if !undated.PublishedAt.Equal(testNow) {
		t.Fatalf("expected undated story to be published now, got %s", undated.PublishedAt)
	}
}

type fixedScorer struct{ score float64 }

func (s fixedScorer) Score(context.Context, Story) (float64, error) { return s.score, nil }

func TestInsertNewAsksScorerWhenUnscored(t *testing.T) {
	t.Parallel()

	engine := newTestEngine(t, newMemoryStore(), nil, func(o *Options) { o.Scorer = fixedScorer{score: 37} })
	story, err := engine.Merger().InsertNew(context.Background(), Incoming{SourceName: "A", URL: "https://a.example/1", Headline: "H"})
	if err != nil {
		t.Fatalf("insert new: %v", err)
	}
	if story.ImpactScore != 37 || story.BaseImpactScore != 37 {
		t.Fatalf("expected scorer to seed the score, got %+v", story)
	}
}

func TestFoldSourceAppendsBoostsAndKeepsLonger(t *testing.T) {
	t.Parallel()

	existing := seedStory("s1", "Headline", "short", "https://a.example/1", testNow.Add(-time.Hour))
	existing.Summary = "brief"
	store := newMemoryStore(existing)
	engine := newTestEngine(t, store, nil)

	res, err := engine.Merger().FoldSource(context.Background(), "s1", Incoming{
		SourceName:  "B",
		URL:         "https://b.example/2",
		Headline:    "Headline too",
		Content:     "a much longer body of text",
		Summary:     "a fuller summary",
		PublishedAt: testNow.Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatalf("fold source: %v", err)
	}
	if !res.Added || res.SourceCount != 2 || res.AISummary {
		t.Fatalf("unexpected fold result: %+v", res)
	}

	got, _ := store.Get(context.Background(), "s1")
	if len(got.Sources) != 2 || got.Sources[1].URL != "https://b.example/2" {
		t.Fatalf("unexpected sources: %+v", got.Sources)
	}
	if !approxEqual(got.ImpactScore, 11.5) || got.BaseImpactScore != 10 {
		t.Fatalf("unexpected score: impact=%v base=%v", got.ImpactScore, got.BaseImpactScore)
	}
	if got.Content != "a much longer body of text" || got.Summary != "a fuller summary" {
		t.Fatalf("expected longer content and summary, got %q / %q", got.Content, got.Summary)
	}
	if !got.PublishedAt.Equal(testNow.Add(-2*time.Hour)) || !got.LastSourceAt.Equal(testNow.Add(-time.Hour)) {
		t.Fatalf("unexpected timestamps: published=%s last_source=%s", got.PublishedAt, got.LastSourceAt)
	}
	if !got.IngestedAt.Equal(existing.IngestedAt) {
		t.Fatalf("ingested_at must never change")
	}
}

func TestFoldSourceIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newMemoryStore(seedStory("s1", "Headline", "body", "https://www.a.example/1/", testNow.Add(-time.Hour)))
	engine := newTestEngine(t, store, nil)

	for _, raw := range []string{"https://a.example/1", "http://a.example/1?utm_source=x"} {
		res, err := engine.Merger().FoldSource(context.Background(), "s1", Incoming{SourceName: "A", URL: raw, Headline: "Headline"})
		if err != nil {
			t.Fatalf("fold source: %v", err)
		}
		if res.Added {
			t.Fatalf("expected no-op for %q", raw)
		}
	}
	got, _ := store.Get(context.Background(), "s1")
	if len(got.Sources) != 1 || got.ImpactScore != 10 {
		t.Fatalf("no-op fold changed the story: %+v", got)
	}
	if len(store.updated) != 0 {
		t.Fatalf("no-op fold must not write, got updates %v", store.updated)
	}
}

func TestFoldSourceKeepsExternallyRaisedScore(t *testing.T) {
	t.Parallel()

	rescored := seedStory("s1", "Headline", "body", "https://a.example/1", testNow.Add(-time.Hour))
	rescored.ImpactScore, rescored.BaseImpactScore = 50, 10
	capped := seedStory("s2", "Headline", "body", "https://a.example/2", testNow.Add(-time.Hour))
	capped.Sources = append(capped.Sources,
		Source{Name: "B", URL: "https://b.example/2", PublishedAt: testNow.Add(-time.Hour)},
		Source{Name: "C", URL: "https://c.example/2", PublishedAt: testNow.Add(-time.Hour)},
	)
	capped.ImpactScore, capped.BaseImpactScore = DefaultScoreCeiling, 80
	store := newMemoryStore(rescored, capped)
	engine := newTestEngine(t, store, nil)

	if _, err := engine.Merger().FoldSource(context.Background(), "s1", Incoming{SourceName: "B", URL: "https://b.example/1", Headline: "H"}); err != nil {
		t.Fatalf("fold source: %v", err)
	}
	got, _ := store.Get(context.Background(), "s1")
	if !approxEqual(got.ImpactScore, 57.5) || !approxEqual(got.BaseImpactScore, 50) {
		t.Fatalf("expected boost from the rescored value: impact=%v base=%v", got.ImpactScore, got.BaseImpactScore)
	}

	if _, err := engine.Merger().FoldSource(context.Background(), "s2", Incoming{SourceName: "D", URL: "https://d.example/2", Headline: "H"}); err != nil {
		t.Fatalf("fold source: %v", err)
	}
	got, _ = store.Get(context.Background(), "s2")
	if got.ImpactScore != DefaultScoreCeiling || got.BaseImpactScore != 80 {
		t.Fatalf("capped score must hold: impact=%v base=%v", got.ImpactScore, got.BaseImpactScore)
	}
}

func TestFoldSourceUsesCombinedSummary(t *testing.T) {
	t.Parallel()

	existing := seedStory("s1", "Headline", "body", "https://a.example/1", testNow.Add(-time.Hour))
	existing.Summary = "existing summary that is quite long already"
	store := newMemoryStore(existing)
	gen := &stubGenerator{respond: func(string) (string, error) { return "  combined view  ", nil }}
	engine := newTestEngine(t, store, gen)

	res, err := engine.Merger().FoldSource(context.Background(), "s1", Incoming{SourceName: "B", URL: "https://b.example/2", Headline: "H", Summary: "new angle"})
	if err != nil {
		t.Fatalf("fold source: %v", err)
	}
	if !res.AISummary || res.Story.Summary != "combined view" {
		t.Fatalf("expected AI summary, got %+v", res)
	}
}

func TestFoldSourceResolvesDuplicateTarget(t *testing.T) {
	t.Parallel()

	root := seedStory("root", "Root", "body", "https://a.example/root", testNow.Add(-time.Hour))
	dup := seedStory("dup", "Dup", "body", "https://b.example/dup", testNow.Add(-time.Hour))
	dup.IsDuplicate, dup.MergedInto = true, "root"
	store := newMemoryStore(root, dup)
	engine := newTestEngine(t, store, nil)

	res, err := engine.Merger().FoldSource(context.Background(), "dup", Incoming{SourceName: "C", URL: "https://c.example/3", Headline: "H"})
	if err != nil {
		t.Fatalf("fold source: %v", err)
	}
	if res.Story.ID != "root" {
		t.Fatalf("expected fold into canonical root, got %s", res.Story.ID)
	}
	gotDup, _ := store.Get(context.Background(), "dup")
	if len(gotDup.Sources) != 1 {
		t.Fatalf("duplicate must stay untouched, got %+v", gotDup.Sources)
	}
}

func TestMergeExistingMarksLoserAndNeverDeletes(t *testing.T) {
	t.Parallel()

	winner := seedStory("w", "Winner", "short", "https://a.example/w", testNow.Add(-3*time.Hour))
	winner.Sources = nil
	loser := seedStory("l", "Loser", "a considerably longer body", "https://b.example/l", testNow.Add(-time.Hour))
	child := seedStory("c", "Child", "body", "https://c.example/c", testNow.Add(-2*time.Hour))
	child.IsDuplicate, child.Hidden, child.MergedInto = true, true, "l"
	store := newMemoryStore(winner, loser, child)
	engine := newTestEngine(t, store, nil)

	res, err := engine.Merger().MergeExisting(context.Background(), "w", "l")
	if err != nil {
		t.Fatalf("merge existing: %v", err)
	}
	if res.Repointed != 1 {
		t.Fatalf("expected one re-pointed duplicate, got %d", res.Repointed)
	}

	gotWinner, _ := store.Get(context.Background(), "w")
	if len(gotWinner.Sources) != 2 || gotWinner.Sources[0].URL != "https://a.example/w" || gotWinner.Sources[1].URL != "https://b.example/l" {
		t.Fatalf("expected implicit first source then loser source, got %+v", gotWinner.Sources)
	}
	if !approxEqual(gotWinner.ImpactScore, 11.5) || gotWinner.Content != "a considerably longer body" {
		t.Fatalf("unexpected winner: %+v", gotWinner)
	}

	gotLoser, err := store.Get(context.Background(), "l")
	if err != nil {
		t.Fatalf("loser must still exist: %v", err)
	}
	if !gotLoser.IsDuplicate || !gotLoser.Hidden || gotLoser.MergedInto != "w" {
		t.Fatalf("unexpected loser flags: %+v", gotLoser)
	}
	gotChild, _ := store.Get(context.Background(), "c")
	if gotChild.MergedInto != "w" {
		t.Fatalf("expected child re-pointed at winner, got %q", gotChild.MergedInto)
	}
	if store.updated[0] != "w" || store.updated[1] != "l" {
		t.Fatalf("winner must be written before the loser is marked, got %v", store.updated)
	}
	if store.count(true) != 3 {
		t.Fatalf("merge must not delete documents")
	}
}

func TestMergeExistingGuards(t *testing.T) {
	t.Parallel()

	a := seedStory("a", "A", "body", "https://a.example/a", testNow)
	b := seedStory("b", "B", "body", "https://b.example/b", testNow)
	b.IsDuplicate, b.MergedInto = true, "a"
	x := seedStory("x", "X", "body", "https://x.example/x", testNow)
	x.IsDuplicate, x.MergedInto = true, "y"
	y := seedStory("y", "Y", "body", "https://y.example/y", testNow)
	y.IsDuplicate, y.MergedInto = true, "x"
	store := newMemoryStore(a, b, x, y)
	engine := newTestEngine(t, store, nil)
	ctx := context.Background()

	if _, err := engine.Merger().MergeExisting(ctx, "a", "a"); !errors.Is(err, ErrSelfMerge) {
		t.Fatalf("expected self-merge error, got %v", err)
	}
	// b resolves to a, so merging a into b would be a self merge.
	if _, err := engine.Merger().MergeExisting(ctx, "b", "a"); !errors.Is(err, ErrSelfMerge) {
		t.Fatalf("expected self-merge after resolution, got %v", err)
	}
	if _, err := engine.Merger().MergeExisting(ctx, "x", "a"); !errors.Is(err, ErrMergeCycle) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	res, err := engine.Merger().MergeExisting(ctx, "a", "b")
	if err != nil || !res.Skipped {
		t.Fatalf("expected already-duplicate loser to be skipped, got %+v err=%v", res, err)
	}
}

func TestMergeExistingRollsBackOnLoserWriteFailure(t *testing.T) {
	t.Parallel()

	w := seedStory("w", "W", "body", "https://a.example/w", testNow)
	l := seedStory("l", "L", "body", "https://b.example/l", testNow)
	store := newMemoryStore(w, l)
	store.failUpdate["l"] = errInjected
	engine := newTestEngine(t, store, nil)

	if _, err := engine.Merger().MergeExisting(context.Background(), "w", "l"); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	gotWinner, _ := store.Get(context.Background(), "w")
	if len(gotWinner.Sources) != 1 {
		t.Fatalf("failed transaction must leave the winner unchanged, got %+v", gotWinner.Sources)
	}
	gotLoser, _ := store.Get(context.Background(), "l")
	if gotLoser.IsDuplicate {
		t.Fatalf("loser must not be marked when the merge failed")
	}
}
