package payloadschema

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed feed_item.schema.json
var feedItemSchemaJSON string

const (
	ContentFormatText = "text"
	ContentFormatHTML = "html"
)

// FeedItem is one validated feed entry.
type FeedItem struct {
	PayloadVersion string   `json:"payload_version"`
	Source         string   `json:"source"`
	URL            string   `json:"url"`
	Headline       string   `json:"headline"`
	Content        string   `json:"content,omitempty"`
	Summary        string   `json:"summary,omitempty"`
	ContentFormat  string   `json:"content_format,omitempty"`
	PublishedAt    *string  `json:"published_at,omitempty"`
	Language       *string  `json:"language,omitempty"`
	ImpactScore    *float64 `json:"impact_score,omitempty"`
}

// PublishedTime returns the parsed publication time, zero when absent.
func (f FeedItem) PublishedTime() time.Time {
	if f.PublishedAt == nil {
		return time.Time{}
	}
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(*f.PublishedAt))
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func (f FeedItem) IsHTML() bool {
	return strings.EqualFold(strings.TrimSpace(f.ContentFormat), ContentFormatHTML)
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateFeedItem(payload json.RawMessage) (*FeedItem, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var item FeedItem
	if err := json.Unmarshal(normalized, &item); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

// ReadFeedItems validates either a single JSON object, a JSON array, or JSONL.
// Invalid entries are reported by index and do not stop the scan.
func ReadFeedItems(r io.Reader) ([]*FeedItem, []error, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read payload: %w", err)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil, fmt.Errorf("payload is empty")
	}

	var entries []json.RawMessage
	switch {
	case trimmed[0] == '[':
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, nil, fmt.Errorf("decode payload array: %w", err)
		}
	case isSingleObject(trimmed):
		entries = []json.RawMessage{trimmed}
	default:
		scanner := bufio.NewScanner(bytes.NewReader(trimmed))
		scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			entries = append(entries, append(json.RawMessage(nil), line...))
		}
		if err := scanner.Err(); err != nil {
			return nil, nil, fmt.Errorf("scan JSONL payload: %w", err)
		}
	}

	items := make([]*FeedItem, 0, len(entries))
	var problems []error
	for i, entry := range entries {
		item, err := ValidateFeedItem(entry)
		if err != nil {
			problems = append(problems, fmt.Errorf("item %d: %w", i, err))
			continue
		}
		items = append(items, item)
	}
	return items, problems, nil
}

func isSingleObject(raw []byte) bool {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	var value json.RawMessage
	if err := decoder.Decode(&value); err != nil {
		return false
	}
	return decoder.Decode(&struct{}{}) == io.EOF
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("feed_item.schema.json", strings.NewReader(feedItemSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("feed_item.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}
		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}
	return value, nil
}

func validateSemantics(item *FeedItem) error {
	if item == nil {
		return fmt.Errorf("payload is nil")
	}
	if strings.TrimSpace(item.Source) == "" {
		return fmt.Errorf("source must not be empty")
	}
	if strings.TrimSpace(item.Headline) == "" {
		return fmt.Errorf("headline must not be empty")
	}
	if err := validateURI("url", item.URL); err != nil {
		return err
	}
	if item.PublishedAt != nil {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(*item.PublishedAt)); err != nil {
			return fmt.Errorf("published_at must be RFC3339: %w", err)
		}
	}
	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", fieldName)
	}
	return nil
}
