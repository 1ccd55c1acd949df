package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/creatorpulse/internal/fetcher"
	"github.com/hitoshi/creatorpulse/internal/model"
)

// FetcherResolver はソース種別からフェッチャーを解決するインターフェース。
type FetcherResolver interface {
	// Lookup は指定されたソース種別のフェッチャーを返す。
	Lookup(t model.SourceType) (fetcher.SourceFetcher, error)
}

// SourceHandler はソースプレビューのHTTPハンドラー。
type SourceHandler struct {
	resolver FetcherResolver
	logger   *slog.Logger
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(resolver FetcherResolver, logger *slog.Logger) *SourceHandler {
	return &SourceHandler{
		resolver: resolver,
		logger:   logger,
	}
}

// previewItemResponse はプレビュー記事のAPIレスポンス。
type previewItemResponse struct {
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Summary     string     `json:"summary"`
}

// previewResponse はソースプレビューのAPIレスポンス。
type previewResponse struct {
	SourceType string                `json:"source_type"`
	Identifier string                `json:"identifier"`
	ItemCount  int                   `json:"item_count"`
	Items      []previewItemResponse `json:"items"`
}

// Preview は単一ソースのフェッチプレビューを処理する。
// GET /api/sources/{type}/preview?identifier=
func (h *SourceHandler) Preview(w http.ResponseWriter, r *http.Request) {
	sourceType := model.SourceType(chi.URLParam(r, "type"))
	if !model.ValidSourceType(sourceType) {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedSourceTypeError(string(sourceType)))
		return
	}

	identifier := r.URL.Query().Get("identifier")
	if identifier == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "identifierクエリパラメータが必要です。",
			Category: "validation",
			Action:   "プレビューするソースの識別子を指定してください。",
		})
		return
	}

	f, err := h.resolver.Lookup(sourceType)
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedSourceTypeError(string(sourceType)))
		return
	}

	source := model.Source{
		ID:         "preview",
		Type:       sourceType,
		Identifier: identifier,
		Active:     true,
	}

	items, err := f.Fetch(r.Context(), source)
	if err != nil {
		h.logger.Warn("プレビューフェッチに失敗しました",
			slog.String("source_type", string(sourceType)),
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, &model.APIError{
			Code:     ErrCodeFetchFailed,
			Message:  "ソースからのコンテンツ取得に失敗しました。",
			Category: "content",
			Action:   "識別子が正しいか確認し、しばらく待ってから再度お試しください。",
		})
		return
	}

	previews := make([]previewItemResponse, 0, len(items))
	for _, item := range items {
		previews = append(previews, previewItemResponse{
			Title:       item.Title,
			URL:         item.URL,
			PublishedAt: item.PublishedAt,
			Summary:     item.Summary,
		})
	}

	writeJSONResponse(w, http.StatusOK, previewResponse{
		SourceType: string(sourceType),
		Identifier: identifier,
		ItemCount:  len(previews),
		Items:      previews,
	})
}
