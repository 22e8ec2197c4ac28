package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"loclab.gg/stringsmith/internal/memory"
	"loclab.gg/stringsmith/internal/memory/tmx"
)

type addUnitRequest struct {
	SourceText string           `json:"source_text"`
	TargetText string           `json:"target_text"`
	Context    string           `json:"context,omitempty"`
	DomainID   string           `json:"domain_id,omitempty"`
	Provider   string           `json:"provider,omitempty"`
	Confidence *float64         `json:"confidence,omitempty"`
	Verified   bool             `json:"verified,omitempty"`
	Metadata   *memory.Metadata `json:"metadata,omitempty"`
}

type verifyUnitRequest struct {
	CorrectedText string `json:"corrected_text,omitempty"`
}

// pairStore resolves the :source/:target route segments to the shared store
// for that pair.
func (s *Server) pairStore(c echo.Context) (*memory.Store, error) {
	return s.stores.Get(c.Request().Context(), c.Param("source"), c.Param("target"))
}

func (s *Server) handleMemoryStats(c echo.Context) error {
	store, err := s.pairStore(c)
	if err != nil {
		return failValidation(c, map[string]string{"language_pair": err.Error()})
	}

	pair := store.Pair()
	return success(c, map[string]any{
		"sourceLanguage": pair.Source,
		"targetLanguage": pair.Target,
		"stats":          store.Stats(),
	})
}

func (s *Server) handleMemorySearch(c echo.Context) error {
	store, err := s.pairStore(c)
	if err != nil {
		return failValidation(c, map[string]string{"language_pair": err.Error()})
	}

	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return failValidation(c, map[string]string{"q": "is required"})
	}

	defaults := memory.DefaultSearchParams()
	minSimilarity, err := parsePositiveInt(c.QueryParam("min"), defaults.MinSimilarity, 1, 100)
	if err != nil {
		return failValidation(c, map[string]string{"min": err.Error()})
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaults.MaxResults, 1, 50)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	matches := store.Search(query, memory.SearchParams{
		MinSimilarity:  minSimilarity,
		MaxResults:     limit,
		PreferVerified: defaults.PreferVerified,
		ContextFilter:  strings.TrimSpace(c.QueryParam("context")),
		DomainFilter:   strings.TrimSpace(c.QueryParam("domain")),
	})
	if matches == nil {
		matches = []memory.Match{}
	}

	return success(c, map[string]any{
		"query":   query,
		"matches": matches,
		"total":   len(matches),
	})
}

func (s *Server) handleAddUnit(c echo.Context) error {
	store, err := s.pairStore(c)
	if err != nil {
		return failValidation(c, map[string]string{"language_pair": err.Error()})
	}

	var req addUnitRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	if strings.TrimSpace(req.SourceText) == "" {
		return failValidation(c, map[string]string{"source_text": "is required"})
	}
	if strings.TrimSpace(req.TargetText) == "" {
		return failValidation(c, map[string]string{"target_text": "is required"})
	}

	// Hand-entered pairs are trusted unless the caller says otherwise.
	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
		if confidence < 0 || confidence > 1 {
			return failValidation(c, map[string]string{"confidence": "must be between 0 and 1"})
		}
	}
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		provider = "manual"
	}

	unit, err := store.Add(c.Request().Context(), req.SourceText, req.TargetText, memory.AddOptions{
		Context:    req.Context,
		DomainID:   req.DomainID,
		Provider:   provider,
		Confidence: confidence,
		Verified:   req.Verified,
		Metadata:   req.Metadata,
	})
	if err != nil {
		return failValidation(c, map[string]string{"unit": err.Error()})
	}

	return success(c, unit)
}

func (s *Server) handleVerifyUnit(c echo.Context) error {
	store, err := s.pairStore(c)
	if err != nil {
		return failValidation(c, map[string]string{"language_pair": err.Error()})
	}

	unitID := strings.TrimSpace(c.Param("unit_id"))
	if unitID == "" {
		return failValidation(c, map[string]string{"unit_id": "is required"})
	}

	// The body is optional; verification without a correction keeps the
	// stored target text.
	var req verifyUnitRequest
	if c.Request().ContentLength != 0 {
		if err := decodeJSONBody(c, &req); err != nil {
			return failValidation(c, map[string]string{"body": err.Error()})
		}
	}

	unit, err := store.Verify(c.Request().Context(), unitID, req.CorrectedText)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return failNotFound(c, "Translation unit not found")
		}
		s.logger.Error().Err(err).Str("unit_id", unitID).Msg("verify unit failed")
		return internalError(c, "Failed to verify unit")
	}

	return success(c, unit)
}

func (s *Server) handleRemoveUnit(c echo.Context) error {
	store, err := s.pairStore(c)
	if err != nil {
		return failValidation(c, map[string]string{"language_pair": err.Error()})
	}

	unitID := strings.TrimSpace(c.Param("unit_id"))
	if unitID == "" {
		return failValidation(c, map[string]string{"unit_id": "is required"})
	}

	if err := store.Remove(c.Request().Context(), unitID); err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return failNotFound(c, "Translation unit not found")
		}
		s.logger.Error().Err(err).Str("unit_id", unitID).Msg("remove unit failed")
		return internalError(c, "Failed to remove unit")
	}

	return success(c, map[string]any{
		"removed": unitID,
		"units":   store.Len(),
	})
}

func (s *Server) handleExportMemory(c echo.Context) error {
	store, err := s.pairStore(c)
	if err != nil {
		return failValidation(c, map[string]string{"language_pair": err.Error()})
	}

	format := strings.ToLower(strings.TrimSpace(c.QueryParam("format")))
	if format == "" {
		format = "tmx"
	}

	pairKey := store.Pair().Key()
	switch format {
	case "tmx":
		payload, err := tmx.Export(store)
		if err != nil {
			s.logger.Error().Err(err).Str("pair", pairKey).Msg("render TMX export failed")
			return internalError(c, "Failed to export memory")
		}
		disposition := fmt.Sprintf("attachment; filename=%q", "memory-"+pairKey+".tmx")
		c.Response().Header().Set(echo.HeaderContentDisposition, disposition)
		return c.Blob(http.StatusOK, "application/xml; charset=utf-8", payload)
	case "json":
		payload, err := json.MarshalIndent(store.Units(), "", "  ")
		if err != nil {
			s.logger.Error().Err(err).Str("pair", pairKey).Msg("render JSON export failed")
			return internalError(c, "Failed to export memory")
		}
		disposition := fmt.Sprintf("attachment; filename=%q", "memory-"+pairKey+".json")
		c.Response().Header().Set(echo.HeaderContentDisposition, disposition)
		return c.Blob(http.StatusOK, "application/json", payload)
	default:
		return failValidation(c, map[string]string{"format": "must be tmx or json"})
	}
}

func (s *Server) handleImportMemory(c echo.Context) error {
	store, err := s.pairStore(c)
	if err != nil {
		return failValidation(c, map[string]string{"language_pair": err.Error()})
	}

	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodyBytes))
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not read request body"})
	}
	if len(data) == 0 {
		return failValidation(c, map[string]string{"body": "a TMX document is required"})
	}

	added, err := tmx.Import(c.Request().Context(), store, data, tmx.ImportProvider)
	if err != nil {
		return failValidation(c, map[string]string{"document": err.Error()})
	}

	return success(c, map[string]any{
		"imported": added,
		"units":    store.Len(),
	})
}
