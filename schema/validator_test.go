package payloadschema

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidateFeedItem_Valid(t *testing.T) {
	payload := json.RawMessage(`{
		"payload_version":"v1",
		"source":"TechCrunch",
		"url":"https://techcrunch.example/2025/06/12/black-forest-labs/",
		"headline":"Black Forest Labs raises $300M",
		"content":"<p>Black Forest Labs raised <b>$300M</b>.</p>",
		"content_format":"html",
		"published_at":"2025-06-12T14:00:00Z",
		"language":"en",
		"impact_score":61.5
	}`)

	item, err := ValidateFeedItem(payload)
	if err != nil {
		t.Fatalf("expected payload to be valid, got error: %v", err)
	}
	if item.Source != "TechCrunch" || !item.IsHTML() {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.ImpactScore == nil || *item.ImpactScore != 61.5 {
		t.Fatalf("expected impact_score=61.5, got %v", item.ImpactScore)
	}
	if got := item.PublishedTime(); got.IsZero() || got.Hour() != 14 {
		t.Fatalf("unexpected published time: %s", got)
	}
}

func TestValidateFeedItem_Rejections(t *testing.T) {
	tests := map[string]string{
		"missing url":      `{"payload_version":"v1","source":"A","headline":"H"}`,
		"whitespace title": `{"payload_version":"v1","source":"A","url":"https://a.example/1","headline":"   "}`,
		"wrong version":    `{"payload_version":"v2","source":"A","url":"https://a.example/1","headline":"H"}`,
		"bad date":         `{"payload_version":"v1","source":"A","url":"https://a.example/1","headline":"H","published_at":"yesterday"}`,
		"score too high":   `{"payload_version":"v1","source":"A","url":"https://a.example/1","headline":"H","impact_score":120}`,
		"unknown field":    `{"payload_version":"v1","source":"A","url":"https://a.example/1","headline":"H","extra":1}`,
		"relative url":     `{"payload_version":"v1","source":"A","url":"/relative/path","headline":"H"}`,
		"trailing content": `{"payload_version":"v1","source":"A","url":"https://a.example/1","headline":"H"} {}`,
	}
	for name, payload := range tests {
		if _, err := ValidateFeedItem(json.RawMessage(payload)); err == nil {
			t.Fatalf("%s: expected validation to fail", name)
		}
	}
}

func TestReadFeedItems_JSONLReportsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`{"payload_version":"v1","source":"A","url":"https://a.example/1","headline":"First"}`,
		``,
		`{"payload_version":"v1","source":"B","headline":"Missing url"}`,
		`{"payload_version":"v1","source":"C","url":"https://c.example/3","headline":"Third"}`,
	}, "\n")

	items, problems, err := ReadFeedItems(strings.NewReader(input))
	if err != nil {
		t.Fatalf("read feed items: %v", err)
	}
	if len(items) != 2 || len(problems) != 1 {
		t.Fatalf("unexpected split: items=%d problems=%d", len(items), len(problems))
	}
	if !strings.Contains(problems[0].Error(), "item 1") {
		t.Fatalf("expected problem to carry the entry index, got %v", problems[0])
	}
}

func TestReadFeedItems_ArrayAndSingleObject(t *testing.T) {
	array := `[{"payload_version":"v1","source":"A","url":"https://a.example/1","headline":"One"},
		{"payload_version":"v1","source":"B","url":"https://b.example/2","headline":"Two"}]`
	items, problems, err := ReadFeedItems(strings.NewReader(array))
	if err != nil || len(items) != 2 || len(problems) != 0 {
		t.Fatalf("array: items=%d problems=%v err=%v", len(items), problems, err)
	}

	single := "{\n  \"payload_version\": \"v1\",\n  \"source\": \"A\",\n  \"url\": \"https://a.example/1\",\n  \"headline\": \"One\"\n}\n"
	items, problems, err = ReadFeedItems(strings.NewReader(single))
	if err != nil || len(items) != 1 || len(problems) != 0 {
		t.Fatalf("single: items=%d problems=%v err=%v", len(items), problems, err)
	}

	if _, _, err := ReadFeedItems(strings.NewReader("  ")); err == nil {
		t.Fatalf("expected empty payload error")
	}
}
