package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
	"github.com/hitoshi/creatorpulse/internal/pipeline"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// mockPipeline はテスト用のPipelineRunner実装。
type mockPipeline struct {
	result  *pipeline.Result
	err     error
	sources []model.Source
}

func (m *mockPipeline) Run(_ context.Context, sources []model.Source) (*pipeline.Result, error) {
	m.sources = sources
	return m.result, m.err
}

// mockUpdater はテスト用のNewsletterContentUpdater実装。
type mockUpdater struct {
	savedID      string
	savedContent string
	err          error
}

func (m *mockUpdater) UpdateContent(_ context.Context, id string, content string) error {
	m.savedID = id
	m.savedContent = content
	return m.err
}

func draftRequestBody(t *testing.T, body any) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		t.Fatalf("failed to encode request body: %v", err)
	}
	return buf
}

// TestGenerateDraft_Success は正常系のドラフト生成を検証する。
func TestGenerateDraft_Success(t *testing.T) {
	p := &mockPipeline{
		result: &pipeline.Result{
			Draft: &model.Draft{
				Text:        "<html>draft</html>",
				SourcesUsed: []string{"src-1"},
				GeneratedAt: time.Now(),
			},
		},
	}
	h := NewDraftHandler(p, nil, newTestLogger())

	body := draftRequestBody(t, map[string]any{
		"newsletter_id": "new",
		"sources": []map[string]any{
			{"id": "src-1", "type": "rss", "identifier": "https://example.com/feed.xml"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/generate-draft", body)
	rec := httptest.NewRecorder()
	h.GenerateDraft(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp generateDraftResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Draft != "<html>draft</html>" {
		t.Errorf("draft = %q", resp.Draft)
	}
	if len(resp.SourcesUsed) != 1 || resp.SourcesUsed[0] != "src-1" {
		t.Errorf("sources_used = %v, want [src-1]", resp.SourcesUsed)
	}
	if resp.GenerationTime < 0 {
		t.Errorf("generation_time = %v", resp.GenerationTime)
	}

	// activeを省略したソースはアクティブとして扱われる
	if len(p.sources) != 1 || !p.sources[0].Active {
		t.Errorf("sources = %+v, want active source", p.sources)
	}
}

// TestGenerateDraft_SourceErrorsIncluded は一部ソースの失敗がレスポンスに含まれることを検証する。
func TestGenerateDraft_SourceErrorsIncluded(t *testing.T) {
	p := &mockPipeline{
		result: &pipeline.Result{
			Draft: &model.Draft{Text: "draft", SourcesUsed: []string{"src-1"}},
			SourceErrors: []*model.FetchError{
				model.NewFetchError("src-2", errors.New("connection refused")),
			},
		},
	}
	h := NewDraftHandler(p, nil, newTestLogger())

	body := draftRequestBody(t, map[string]any{
		"sources": []map[string]any{
			{"id": "src-1", "type": "rss", "identifier": "https://example.com/feed.xml"},
			{"id": "src-2", "type": "reddit", "identifier": "golang"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/generate-draft", body)
	rec := httptest.NewRecorder()
	h.GenerateDraft(rec, req)

	var resp generateDraftResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.SourceErrors) != 1 {
		t.Fatalf("source_errors = %v, want 1 entry", resp.SourceErrors)
	}
	if resp.SourceErrors[0].SourceID != "src-2" {
		t.Errorf("source_id = %q, want src-2", resp.SourceErrors[0].SourceID)
	}
	if !strings.Contains(resp.SourceErrors[0].Reason, "connection refused") {
		t.Errorf("reason = %q", resp.SourceErrors[0].Reason)
	}
}

// TestGenerateDraft_SavesDraftForExistingNewsletter は既存ニュースレターにドラフトが保存されることを検証する。
func TestGenerateDraft_SavesDraftForExistingNewsletter(t *testing.T) {
	p := &mockPipeline{
		result: &pipeline.Result{
			Draft: &model.Draft{Text: "saved draft", SourcesUsed: []string{"src-1"}},
		},
	}
	updater := &mockUpdater{}
	h := NewDraftHandler(p, updater, newTestLogger())

	body := draftRequestBody(t, map[string]any{
		"newsletter_id": "nl-1",
		"sources": []map[string]any{
			{"id": "src-1", "type": "rss", "identifier": "https://example.com/feed.xml"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/generate-draft", body)
	rec := httptest.NewRecorder()
	h.GenerateDraft(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if updater.savedID != "nl-1" || updater.savedContent != "saved draft" {
		t.Errorf("saved = (%q, %q), want (nl-1, saved draft)", updater.savedID, updater.savedContent)
	}
}

// TestGenerateDraft_EmptySources はソース未指定が400で拒否されることを検証する。
func TestGenerateDraft_EmptySources(t *testing.T) {
	h := NewDraftHandler(&mockPipeline{}, nil, newTestLogger())

	body := draftRequestBody(t, map[string]any{"sources": []map[string]any{}})
	req := httptest.NewRequest(http.MethodPost, "/api/generate-draft", body)
	rec := httptest.NewRecorder()
	h.GenerateDraft(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp apiErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != model.ErrCodeNoActiveSources {
		t.Errorf("code = %q, want %q", resp.Code, model.ErrCodeNoActiveSources)
	}
}

// TestGenerateDraft_UnsupportedSourceType は未サポートのソース種別が400で拒否されることを検証する。
func TestGenerateDraft_UnsupportedSourceType(t *testing.T) {
	h := NewDraftHandler(&mockPipeline{}, nil, newTestLogger())

	body := draftRequestBody(t, map[string]any{
		"sources": []map[string]any{
			{"id": "src-1", "type": "tiktok", "identifier": "someone"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/generate-draft", body)
	rec := httptest.NewRecorder()
	h.GenerateDraft(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp apiErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != model.ErrCodeUnsupportedSourceType {
		t.Errorf("code = %q, want %q", resp.Code, model.ErrCodeUnsupportedSourceType)
	}
}

// TestGenerateDraft_NoContentError はコンテンツ未取得が422で返されることを検証する。
func TestGenerateDraft_NoContentError(t *testing.T) {
	h := NewDraftHandler(&mockPipeline{err: model.NewNoContentError()}, nil, newTestLogger())

	body := draftRequestBody(t, map[string]any{
		"sources": []map[string]any{
			{"id": "src-1", "type": "rss", "identifier": "https://example.com/feed.xml"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/generate-draft", body)
	rec := httptest.NewRecorder()
	h.GenerateDraft(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}

// TestGenerateDraft_SynthesisErrorMapsTo502 は合成失敗が502で返されることを検証する。
func TestGenerateDraft_SynthesisErrorMapsTo502(t *testing.T) {
	synthErr := &model.SynthesisError{Reason: "モデル呼び出しが失敗しました", Cause: errors.New("boom")}
	h := NewDraftHandler(&mockPipeline{err: synthErr}, nil, newTestLogger())

	body := draftRequestBody(t, map[string]any{
		"sources": []map[string]any{
			{"id": "src-1", "type": "rss", "identifier": "https://example.com/feed.xml"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/generate-draft", body)
	rec := httptest.NewRecorder()
	h.GenerateDraft(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var resp apiErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != model.ErrCodeSynthesisFailed {
		t.Errorf("code = %q, want %q", resp.Code, model.ErrCodeSynthesisFailed)
	}
}

// TestGenerateDraft_SynthesisFailureIncludesFallbackReport は合成失敗時に
// 取得済み項目のフォールバックレポートが添付されることを検証する。
func TestGenerateDraft_SynthesisFailureIncludesFallbackReport(t *testing.T) {
	p := &mockPipeline{
		result: &pipeline.Result{
			Items: []model.ContentItem{
				{SourceID: "src-1", SourceName: "Tech Weekly", Title: "Go 1.25 Released", URL: "https://example.com/go-1-25"},
			},
		},
		err: &model.SynthesisError{Reason: "モデル呼び出しが失敗しました", Cause: errors.New("boom")},
	}
	h := NewDraftHandler(p, nil, newTestLogger())

	body := draftRequestBody(t, map[string]any{
		"sources": []map[string]any{
			{"id": "src-1", "type": "rss", "identifier": "https://example.com/feed.xml"},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/generate-draft", body)
	rec := httptest.NewRecorder()
	h.GenerateDraft(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}

	var resp struct {
		Code           string `json:"code"`
		FallbackReport string `json:"fallback_report"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != model.ErrCodeSynthesisFailed {
		t.Errorf("code = %q, want %q", resp.Code, model.ErrCodeSynthesisFailed)
	}
	if !strings.Contains(resp.FallbackReport, "Go 1.25 Released") {
		t.Errorf("fallback_report = %q", resp.FallbackReport)
	}
}

// TestGenerateDraft_InvalidJSON は不正なJSONが400で拒否されることを検証する。
func TestGenerateDraft_InvalidJSON(t *testing.T) {
	h := NewDraftHandler(&mockPipeline{}, nil, newTestLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/generate-draft", strings.NewReader("{invalid"))
	rec := httptest.NewRecorder()
	h.GenerateDraft(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}
