package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"horse.fit/storymerge/internal/dedup"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	AIEndpoint       string        `envconfig:"AI_ENDPOINT" default:""`
	AIModel          string        `envconfig:"AI_MODEL" default:"gpt-4o-mini"`
	AIAPIKey         string        `envconfig:"AI_API_KEY" default:""`
	AIRequestTimeout time.Duration `envconfig:"AI_REQUEST_TIMEOUT" default:"30s"`

	RedisAddr       string        `envconfig:"REDIS_ADDR" default:""`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	RedisVerdictTTL time.Duration `envconfig:"REDIS_VERDICT_TTL" default:"168h"`

	HTTPAddr             string `envconfig:"HTTP_ADDR" default:":8090"`
	CORSAllowedOrigins   string `envconfig:"CORS_ALLOWED_ORIGINS" default:""`
	IngestConcurrency    int    `envconfig:"INGEST_CONCURRENCY" default:"4"`
	IngestDetectLanguage bool   `envconfig:"INGEST_DETECT_LANGUAGE" default:"true"`

	ThresholdsFile string `envconfig:"DEDUP_THRESHOLDS_FILE" default:""`
	DedupThresholds
}

// DedupThresholds mirrors dedup.Thresholds for environment loading.
type DedupThresholds struct {
	AutoMergeHeadline   float64 `envconfig:"DEDUP_AUTO_MERGE_HEADLINE" default:"0.8"`
	AutoMergeContent    float64 `envconfig:"DEDUP_AUTO_MERGE_CONTENT" default:"0.75"`
	EscalateHeadline    float64 `envconfig:"DEDUP_ESCALATE_HEADLINE" default:"0.4"`
	EscalateContent     float64 `envconfig:"DEDUP_ESCALATE_CONTENT" default:"0.4"`
	NoOracleIngestBar   float64 `envconfig:"DEDUP_NO_ORACLE_INGEST_BAR" default:"0.35"`
	NoOracleBatchBar    float64 `envconfig:"DEDUP_NO_ORACLE_BATCH_BAR" default:"0.4"`
	BatchEscalateBar    float64 `envconfig:"DEDUP_BATCH_ESCALATE_BAR" default:"0.25"`
	WindowHours         int     `envconfig:"DEDUP_WINDOW_HOURS" default:"48"`
	OracleMinConfidence float64 `envconfig:"DEDUP_ORACLE_MIN_CONFIDENCE" default:"70"`
	MaxOracleCandidates int     `envconfig:"DEDUP_MAX_ORACLE_CANDIDATES" default:"3"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.AIRequestTimeout <= 0 {
		return fmt.Errorf("AI_REQUEST_TIMEOUT must be > 0")
	}
	if c.RedisVerdictTTL <= 0 {
		return fmt.Errorf("REDIS_VERDICT_TTL must be > 0")
	}
	if c.IngestConcurrency < 1 {
		return fmt.Errorf("INGEST_CONCURRENCY must be >= 1")
	}
	thresholds, err := c.Thresholds()
	if err != nil {
		return err
	}
	if err := thresholds.Validate(); err != nil {
		return fmt.Errorf("dedup thresholds: %w", err)
	}
	return nil
}

func (c *Config) OracleEnabled() bool {
	return c != nil && strings.TrimSpace(c.AIEndpoint) != ""
}

// Thresholds returns the environment thresholds with DEDUP_THRESHOLDS_FILE
// applied on top.
func (c *Config) Thresholds() (dedup.Thresholds, error) {
	t := dedup.DefaultThresholds()
	if c == nil {
		return t, nil
	}
	t.AutoMergeHeadline = c.DedupThresholds.AutoMergeHeadline
	t.AutoMergeContent = c.DedupThresholds.AutoMergeContent
	t.EscalateHeadline = c.DedupThresholds.EscalateHeadline
	t.EscalateContent = c.DedupThresholds.EscalateContent
	t.NoOracleIngestBar = c.DedupThresholds.NoOracleIngestBar
	t.NoOracleBatchBar = c.DedupThresholds.NoOracleBatchBar
	t.BatchEscalateBar = c.DedupThresholds.BatchEscalateBar
	t.WindowHours = c.DedupThresholds.WindowHours
	t.OracleMinConfidence = c.DedupThresholds.OracleMinConfidence
	t.MaxOracleCandidates = c.DedupThresholds.MaxOracleCandidates

	path := strings.TrimSpace(c.ThresholdsFile)
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read DEDUP_THRESHOLDS_FILE: %w", err)
	}
	return ApplyThresholdsYAML(t, raw)
}

type thresholdsFile struct {
	AutoMergeHeadline   *float64 `yaml:"auto_merge_headline"`
	AutoMergeContent    *float64 `yaml:"auto_merge_content"`
	EscalateHeadline    *float64 `yaml:"escalate_headline"`
	EscalateContent     *float64 `yaml:"escalate_content"`
	NoOracleIngestBar   *float64 `yaml:"no_oracle_ingest_bar"`
	NoOracleBatchBar    *float64 `yaml:"no_oracle_batch_bar"`
	BatchEscalateBar    *float64 `yaml:"batch_escalate_bar"`
	WindowHours         *int     `yaml:"window_hours"`
	OracleMinConfidence *float64 `yaml:"oracle_min_confidence"`
	MaxOracleCandidates *int     `yaml:"max_oracle_candidates"`
}

// ApplyThresholdsYAML overrides the keys present in raw. Unknown keys are an
// error so a typo cannot silently keep a default.
func ApplyThresholdsYAML(t dedup.Thresholds, raw []byte) (dedup.Thresholds, error) {
	var file thresholdsFile
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return t, nil
		}
		return t, fmt.Errorf("decode thresholds YAML: %w", err)
	}

	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setFloat(&t.AutoMergeHeadline, file.AutoMergeHeadline)
	setFloat(&t.AutoMergeContent, file.AutoMergeContent)
	setFloat(&t.EscalateHeadline, file.EscalateHeadline)
	setFloat(&t.EscalateContent, file.EscalateContent)
	setFloat(&t.NoOracleIngestBar, file.NoOracleIngestBar)
	setFloat(&t.NoOracleBatchBar, file.NoOracleBatchBar)
	setFloat(&t.BatchEscalateBar, file.BatchEscalateBar)
	setInt(&t.WindowHours, file.WindowHours)
	setFloat(&t.OracleMinConfidence, file.OracleMinConfidence)
	setInt(&t.MaxOracleCandidates, file.MaxOracleCandidates)
	return t, nil
}

func (c *Config) CORSAllowedOriginsList() []string {
	if c == nil {
		return nil
	}

	parts := strings.Split(c.CORSAllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		if _, exists := seen[origin]; exists {
			continue
		}
		seen[origin] = struct{}{}
		origins = append(origins, origin)
	}
	return origins
}
