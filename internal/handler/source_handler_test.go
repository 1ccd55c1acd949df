package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/creatorpulse/internal/fetcher"
	"github.com/hitoshi/creatorpulse/internal/model"
)

// mockPreviewFetcher はテスト用のSourceFetcher実装。
type mockPreviewFetcher struct {
	sourceType model.SourceType
	items      []model.ContentItem
	err        error
	fetched    model.Source
}

func (m *mockPreviewFetcher) Type() model.SourceType {
	return m.sourceType
}

func (m *mockPreviewFetcher) Fetch(_ context.Context, source model.Source) ([]model.ContentItem, error) {
	m.fetched = source
	if m.err != nil {
		return nil, m.err
	}
	return m.items, nil
}

// mockPreviewResolver はテスト用のFetcherResolver実装。
type mockPreviewResolver struct {
	fetchers map[model.SourceType]fetcher.SourceFetcher
}

func (m *mockPreviewResolver) Lookup(t model.SourceType) (fetcher.SourceFetcher, error) {
	f, ok := m.fetchers[t]
	if !ok {
		return nil, errors.New("unsupported")
	}
	return f, nil
}

func previewRequest(t *testing.T, h *SourceHandler, path string) *httptest.ResponseRecorder {
	t.Helper()

	r := chi.NewRouter()
	r.Get("/api/sources/{type}/preview", h.Preview)

	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// TestPreview_Success は正常系のソースプレビューを検証する。
func TestPreview_Success(t *testing.T) {
	published := time.Now().Add(-2 * time.Hour)
	f := &mockPreviewFetcher{
		sourceType: model.SourceTypeRSS,
		items: []model.ContentItem{
			{Title: "記事1", URL: "https://example.com/1", PublishedAt: &published, Summary: "要約1"},
			{Title: "記事2", URL: "https://example.com/2", Summary: "要約2"},
		},
	}
	resolver := &mockPreviewResolver{fetchers: map[model.SourceType]fetcher.SourceFetcher{
		model.SourceTypeRSS: f,
	}}
	h := NewSourceHandler(resolver, newTestLogger())

	rec := previewRequest(t, h, "/api/sources/rss/preview?identifier=https%3A%2F%2Fexample.com%2Ffeed.xml")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp previewResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.SourceType != "rss" || resp.ItemCount != 2 {
		t.Errorf("response = (%q, %d), want (rss, 2)", resp.SourceType, resp.ItemCount)
	}
	if resp.Items[0].Title != "記事1" {
		t.Errorf("items[0].title = %q", resp.Items[0].Title)
	}

	if f.fetched.Identifier != "https://example.com/feed.xml" {
		t.Errorf("fetched identifier = %q", f.fetched.Identifier)
	}
}

// TestPreview_UnsupportedType は未サポートのソース種別が400で拒否されることを検証する。
func TestPreview_UnsupportedType(t *testing.T) {
	h := NewSourceHandler(&mockPreviewResolver{}, newTestLogger())

	rec := previewRequest(t, h, "/api/sources/tiktok/preview?identifier=someone")

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

// TestPreview_MissingIdentifier は識別子未指定が400で拒否されることを検証する。
func TestPreview_MissingIdentifier(t *testing.T) {
	h := NewSourceHandler(&mockPreviewResolver{}, newTestLogger())

	rec := previewRequest(t, h, "/api/sources/rss/preview")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

// TestPreview_FetchErrorMapsTo502 はフェッチ失敗が502で返されることを検証する。
func TestPreview_FetchErrorMapsTo502(t *testing.T) {
	f := &mockPreviewFetcher{
		sourceType: model.SourceTypeReddit,
		err:        errors.New("connection refused"),
	}
	resolver := &mockPreviewResolver{fetchers: map[model.SourceType]fetcher.SourceFetcher{
		model.SourceTypeReddit: f,
	}}
	h := NewSourceHandler(resolver, newTestLogger())

	rec := previewRequest(t, h, "/api/sources/reddit/preview?identifier=golang")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	var resp apiErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Code != ErrCodeFetchFailed {
		t.Errorf("code = %q, want %q", resp.Code, ErrCodeFetchFailed)
	}
}
