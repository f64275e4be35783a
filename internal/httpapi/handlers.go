package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"horse.fit/storymerge/internal/db"
	"horse.fit/storymerge/internal/dedup"
	payloadschema "horse.fit/storymerge/schema"
)

type storyListResponse struct {
	Items    []dedup.Story `json:"items"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

type ingestResponse struct {
	StoryID string             `json:"story_id"`
	Kind    dedup.DecisionKind `json:"kind"`
	Signal  dedup.Signal       `json:"signal,omitempty"`
	Story   dedup.Story        `json:"story"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.deps.Store.Ping(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("database ping failed")
		return c.JSON(http.StatusServiceUnavailable, jsendResponse{
			Status:  "error",
			Message: "Database unavailable",
			Code:    http.StatusServiceUnavailable,
		})
	}
	return success(c, map[string]any{
		"service": "storymerge",
		"time":    s.deps.Now(),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	day, err := parseDay(c.QueryParam("day"), s.deps.Now())
	if err != nil {
		return failValidation(c, map[string]string{"day": err.Error()})
	}

	stats, err := s.deps.Store.QueryCorpusStats(c.Request().Context(), day, day.Add(24*time.Hour))
	if err != nil {
		s.logger.Error().Err(err).Msg("query stats failed")
		return internalError(c, "Failed to load stats")
	}
	return success(c, stats)
}

func (s *Server) handleStories(c echo.Context) error {
	fieldErrors := map[string]string{}
	page, err := parsePositiveInt(c.QueryParam("page"), 1, 1, 100000)
	if err != nil {
		fieldErrors["page"] = err.Error()
	}
	pageSize, err := parsePositiveInt(c.QueryParam("page_size"), defaultPageSize, 1, maxPageSize)
	if err != nil {
		fieldErrors["page_size"] = err.Error()
	}
	includeHidden, err := parseBool(c.QueryParam("include_hidden"))
	if err != nil {
		fieldErrors["include_hidden"] = err.Error()
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	stories, err := s.deps.Store.ListLiveStories(c.Request().Context(), db.StoryListOptions{
		Limit:         pageSize,
		Offset:        (page - 1) * pageSize,
		IncludeHidden: includeHidden,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("list stories failed")
		return internalError(c, "Failed to load stories")
	}
	return success(c, storyListResponse{
		Items:    stories,
		Page:     page,
		PageSize: pageSize,
	})
}

func (s *Server) handleStoryDetail(c echo.Context) error {
	storyID := strings.TrimSpace(c.Param("story_id"))
	if storyID == "" {
		return failValidation(c, map[string]string{"story_id": "is required"})
	}

	detail, err := s.deps.Store.GetStoryDetail(c.Request().Context(), storyID)
	if err != nil {
		if errors.Is(err, dedup.ErrNotFound) {
			return failNotFound(c, "Story not found")
		}
		s.logger.Error().Err(err).Str("story_id", storyID).Msg("load story detail failed")
		return internalError(c, "Failed to load story")
	}
	return success(c, detail)
}

func (s *Server) handleIngest(c echo.Context) error {
	if s.deps.Ingester == nil {
		return fail(c, http.StatusServiceUnavailable, "Ingestion is not enabled", nil)
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return fail(c, http.StatusBadRequest, "Failed to read request body", nil)
	}

	item, err := payloadschema.ValidateFeedItem(body)
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	result, err := s.deps.Ingester.IngestItem(c.Request().Context(), item)
	if err != nil {
		if errors.Is(err, dedup.ErrInvalidIncoming) {
			return failValidation(c, map[string]string{"payload": err.Error()})
		}
		s.logger.Error().Err(err).Str("url", item.URL).Msg("ingest item failed")
		return internalError(c, "Failed to ingest item")
	}

	status := http.StatusOK
	if result.Kind == dedup.DecisionInserted {
		status = http.StatusCreated
	}
	return successWithStatus(c, status, ingestResponse{
		StoryID: result.StoryID,
		Kind:    result.Kind,
		Signal:  result.Signal,
		Story:   result.Story,
	})
}

func (s *Server) handleBatch(c echo.Context) error {
	if s.deps.Batch == nil {
		return fail(c, http.StatusServiceUnavailable, "Batch deduplication is not enabled", nil)
	}

	fieldErrors := map[string]string{}
	dryRun, err := parseBool(c.QueryParam("dry_run"))
	if err != nil {
		fieldErrors["dry_run"] = err.Error()
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), dedup.DefaultBatchLimit, 1, maxBatchLimit)
	if err != nil {
		fieldErrors["limit"] = err.Error()
	}
	if len(fieldErrors) > 0 {
		return failValidation(c, fieldErrors)
	}

	if !s.batchMu.TryLock() {
		return fail(c, http.StatusConflict, "A batch run is already in progress", nil)
	}
	defer s.batchMu.Unlock()

	report, err := s.deps.Batch.RunBatch(c.Request().Context(), dedup.BatchOptions{Limit: limit, DryRun: dryRun})
	if err != nil {
		s.logger.Error().
			Err(err).
			Int("merged", report.Merged).
			Int("compared", report.Compared).
			Msg("batch dedup aborted")
		return c.JSON(http.StatusInternalServerError, jsendResponse{
			Status:  "error",
			Message: "Batch deduplication aborted",
			Code:    http.StatusInternalServerError,
			Data:    report,
		})
	}
	return success(c, report)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseBool(raw string) (bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(trimmed)
	if err != nil {
		return false, fmt.Errorf("must be a boolean")
	}
	return value, nil
}

// parseDay returns the UTC midnight of raw (YYYY-MM-DD), or of now when empty.
func parseDay(raw string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		now = now.UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	day, err := time.Parse("2006-01-02", trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("must be YYYY-MM-DD")
	}
	return day.UTC(), nil
}
