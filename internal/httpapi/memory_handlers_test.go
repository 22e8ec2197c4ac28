package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"loclab.gg/stringsmith/internal/memory"
)

func newPairContext(
	method string,
	path string,
	body string,
	params map[string]string,
) (echo.Context, *httptest.ResponseRecorder) {
	_, c, rec := newJSONContext(method, path, body)
	names := make([]string, 0, len(params)+2)
	values := make([]string, 0, len(params)+2)
	names = append(names, "source", "target")
	values = append(values, "en", "ja")
	for name, value := range params {
		names = append(names, name)
		values = append(values, value)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

func addTestUnit(t *testing.T, server *Server, source, target string) memory.Unit {
	t.Helper()

	store, err := server.stores.Get(context.Background(), "en", "ja")
	if err != nil {
		t.Fatalf("get store: %v", err)
	}
	unit, err := store.Add(context.Background(), source, target, memory.AddOptions{
		Provider:   "manual",
		Confidence: 1.0,
	})
	if err != nil {
		t.Fatalf("add unit: %v", err)
	}
	return unit
}

func TestHandleMemoryStats_ReportsCounts(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	addTestUnit(t, server, "New Game", "新しいゲーム")
	addTestUnit(t, server, "Continue", "続ける")

	c, rec := newPairContext(http.MethodGet, "/api/v1/memory/en/ja/stats", "", nil)
	if err := server.handleMemoryStats(c); err != nil {
		t.Fatalf("handleMemoryStats returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	env := decodeEnvelope(t, rec)
	var payload struct {
		SourceLanguage string `json:"sourceLanguage"`
		Stats          struct {
			TotalUnits int `json:"totalUnits"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode stats payload: %v", err)
	}
	if payload.SourceLanguage != "en" {
		t.Fatalf("unexpected source language: %q", payload.SourceLanguage)
	}
	if payload.Stats.TotalUnits != 2 {
		t.Fatalf("expected 2 units, got %d", payload.Stats.TotalUnits)
	}
}

func TestHandleMemorySearch_RequiresQuery(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)

	c, rec := newPairContext(http.MethodGet, "/api/v1/memory/en/ja/search", "", nil)
	if err := server.handleMemorySearch(c); err != nil {
		t.Fatalf("handleMemorySearch returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleMemorySearch_FindsCloseMatch(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	addTestUnit(t, server, "Attack the enemy!", "敵を攻撃する！")

	c, rec := newPairContext(http.MethodGet, "/api/v1/memory/en/ja/search?q="+
		"Attack+the+enemy", "", nil)
	if err := server.handleMemorySearch(c); err != nil {
		t.Fatalf("handleMemorySearch returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	env := decodeEnvelope(t, rec)
	var payload struct {
		Total   int `json:"total"`
		Matches []struct {
			Similarity int `json:"similarity"`
			Unit       struct {
				TargetText string `json:"targetText"`
			} `json:"unit"`
		} `json:"matches"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode search payload: %v", err)
	}
	if payload.Total != 1 {
		t.Fatalf("expected 1 match, got %d", payload.Total)
	}
	if payload.Matches[0].Similarity < 90 {
		t.Fatalf("expected similarity >= 90, got %d", payload.Matches[0].Similarity)
	}
	if payload.Matches[0].Unit.TargetText != "敵を攻撃する！" {
		t.Fatalf("unexpected target text: %q", payload.Matches[0].Unit.TargetText)
	}
}

func TestHandleAddUnit_StoresUnit(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	body := `{"source_text": "Load Game", "target_text": "ゲームをロード", "verified": true}`

	c, rec := newPairContext(http.MethodPost, "/api/v1/memory/en/ja/units", body, nil)
	if err := server.handleAddUnit(c); err != nil {
		t.Fatalf("handleAddUnit returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var unit memory.Unit
	if err := json.Unmarshal(env.Data, &unit); err != nil {
		t.Fatalf("decode unit: %v", err)
	}
	if unit.SourceText != "Load Game" || !unit.Verified {
		t.Fatalf("unexpected unit: %+v", unit)
	}
	if unit.Provider != "manual" {
		t.Fatalf("expected manual provider default, got %q", unit.Provider)
	}

	store, err := server.stores.Get(context.Background(), "en", "ja")
	if err != nil {
		t.Fatalf("get store: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 stored unit, got %d", store.Len())
	}
}

func TestHandleAddUnit_RejectsMissingFields(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)

	c, rec := newPairContext(http.MethodPost, "/api/v1/memory/en/ja/units", `{"source_text": "Save"}`, nil)
	if err := server.handleAddUnit(c); err != nil {
		t.Fatalf("handleAddUnit returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
	env := decodeEnvelope(t, rec)
	if _, ok := env.Fields["target_text"]; !ok {
		t.Fatalf("expected target_text field error, got %+v", env.Fields)
	}
}

func TestHandleAddUnit_RejectsConfidenceOutOfRange(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	body := `{"source_text": "Save", "target_text": "保存", "confidence": 1.5}`

	c, rec := newPairContext(http.MethodPost, "/api/v1/memory/en/ja/units", body, nil)
	if err := server.handleAddUnit(c); err != nil {
		t.Fatalf("handleAddUnit returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleVerifyUnit_AppliesCorrection(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	unit := addTestUnit(t, server, "Quit", "やめる")

	body := `{"corrected_text": "終了"}`
	c, rec := newPairContext(http.MethodPost, "/api/v1/memory/en/ja/units/"+unit.ID+"/verify", body,
		map[string]string{"unit_id": unit.ID})
	if err := server.handleVerifyUnit(c); err != nil {
		t.Fatalf("handleVerifyUnit returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var verified memory.Unit
	if err := json.Unmarshal(env.Data, &verified); err != nil {
		t.Fatalf("decode unit: %v", err)
	}
	if !verified.Verified {
		t.Fatal("expected unit to be verified")
	}
	if verified.TargetText != "終了" {
		t.Fatalf("expected corrected target text, got %q", verified.TargetText)
	}
}

func TestHandleVerifyUnit_UnknownUnitReturnsNotFound(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)

	c, rec := newPairContext(http.MethodPost, "/api/v1/memory/en/ja/units/missing/verify", "",
		map[string]string{"unit_id": "missing"})
	if err := server.handleVerifyUnit(c); err != nil {
		t.Fatalf("handleVerifyUnit returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleRemoveUnit_RemovesUnit(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	unit := addTestUnit(t, server, "Options", "オプション")

	c, rec := newPairContext(http.MethodDelete, "/api/v1/memory/en/ja/units/"+unit.ID, "",
		map[string]string{"unit_id": unit.ID})
	if err := server.handleRemoveUnit(c); err != nil {
		t.Fatalf("handleRemoveUnit returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	store, err := server.stores.Get(context.Background(), "en", "ja")
	if err != nil {
		t.Fatalf("get store: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d units", store.Len())
	}
}

func TestHandleExportMemory_TMX(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	addTestUnit(t, server, "New Game", "新しいゲーム")

	c, rec := newPairContext(http.MethodGet, "/api/v1/memory/en/ja/export?format=tmx", "", nil)
	if err := server.handleExportMemory(c); err != nil {
		t.Fatalf("handleExportMemory returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusOK)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "<tmx") {
		t.Fatalf("expected a TMX document, got %q", body)
	}
	if !strings.Contains(body, "New Game") {
		t.Fatalf("expected exported source text, got %q", body)
	}
}

func TestHandleImportMemory_AddsUnits(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)
	tmxBody := `<?xml version="1.0" encoding="UTF-8"?>
<tmx version="1.4">
  <header creationtool="test" creationtoolversion="1" datatype="plaintext" segtype="sentence" adminlang="en" srclang="en" o-tmf="test"/>
  <body>
    <tu>
      <tuv xml:lang="en"><seg>Press any key</seg></tuv>
      <tuv xml:lang="ja"><seg>何かキーを押してください</seg></tuv>
    </tu>
  </body>
</tmx>`

	c, rec := newPairContext(http.MethodPost, "/api/v1/memory/en/ja/import", tmxBody, nil)
	if err := server.handleImportMemory(c); err != nil {
		t.Fatalf("handleImportMemory returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	env := decodeEnvelope(t, rec)
	var payload struct {
		Imported int `json:"imported"`
		Units    int `json:"units"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode import payload: %v", err)
	}
	if payload.Imported != 1 || payload.Units != 1 {
		t.Fatalf("unexpected import counts: %+v", payload)
	}
}

func TestHandleImportMemory_RejectsEmptyBody(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, nil)

	c, rec := newPairContext(http.MethodPost, "/api/v1/memory/en/ja/import", "", nil)
	if err := server.handleImportMemory(c); err != nil {
		t.Fatalf("handleImportMemory returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}
