package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
	"github.com/hitoshi/creatorpulse/internal/pipeline"
	"github.com/hitoshi/creatorpulse/internal/synth"
)

// PipelineRunner はドラフト生成パイプラインのインターフェース。
type PipelineRunner interface {
	// Run はアクティブなソースからコンテンツを集約し、草稿を合成する。
	Run(ctx context.Context, sources []model.Source) (*pipeline.Result, error)
}

// NewsletterContentUpdater は生成済みドラフトの保存インターフェース。
// repository.NewsletterRepositoryを直接要求せず、最小限のインターフェースとして定義する。
type NewsletterContentUpdater interface {
	// UpdateContent はニュースレターの本文を更新する。
	UpdateContent(ctx context.Context, id string, content string) error
}

// DraftHandler はドラフト生成のHTTPハンドラー。
type DraftHandler struct {
	pipeline PipelineRunner
	updater  NewsletterContentUpdater
	logger   *slog.Logger
}

// NewDraftHandler はDraftHandlerを生成する。
func NewDraftHandler(p PipelineRunner, updater NewsletterContentUpdater, logger *slog.Logger) *DraftHandler {
	return &DraftHandler{
		pipeline: p,
		updater:  updater,
		logger:   logger,
	}
}

// sourceRequest はドラフト生成リクエストのソース指定。
// activeを省略した場合はアクティブとして扱う。
type sourceRequest struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
	Active      *bool  `json:"active"`
}

// generateDraftRequest はドラフト生成リクエストのボディ。
type generateDraftRequest struct {
	NewsletterID string          `json:"newsletter_id"`
	Sources      []sourceRequest `json:"sources"`
}

// sourceErrorResponse はソースごとのフェッチ失敗の通知。
type sourceErrorResponse struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

// generateDraftResponse はドラフト生成のAPIレスポンス。
type generateDraftResponse struct {
	Draft          string                `json:"draft"`
	SourcesUsed    []string              `json:"sources_used"`
	SourceErrors   []sourceErrorResponse `json:"source_errors"`
	GenerationTime float64               `json:"generation_time"`
}

// synthesisFailureResponse は合成失敗時のAPIレスポンス。
// 統一エラーフォーマットに加え、取得済み項目のフォールバックレポートを含む。
// フォールバックは草稿の代替ではなく、手動編集用の素材として返す。
type synthesisFailureResponse struct {
	apiErrorResponse
	FallbackReport string                `json:"fallback_report"`
	SourceErrors   []sourceErrorResponse `json:"source_errors"`
}

// GenerateDraft はドラフト生成を処理する。
// POST /api/generate-draft
func (h *DraftHandler) GenerateDraft(w http.ResponseWriter, r *http.Request) {
	var req generateDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestResponse(w)
		return
	}

	if len(req.Sources) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewNoActiveSourcesError())
		return
	}

	sources := make([]model.Source, 0, len(req.Sources))
	for _, sr := range req.Sources {
		t := model.SourceType(sr.Type)
		if !model.ValidSourceType(t) {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewUnsupportedSourceTypeError(sr.Type))
			return
		}
		active := true
		if sr.Active != nil {
			active = *sr.Active
		}
		sources = append(sources, model.Source{
			ID:          sr.ID,
			Type:        t,
			Identifier:  sr.Identifier,
			DisplayName: sr.DisplayName,
			Active:      active,
		})
	}

	h.logger.Info("ドラフト生成を開始します",
		slog.String("newsletter_id", req.NewsletterID),
		slog.Int("source_count", len(sources)),
	)

	start := time.Now()
	result, err := h.pipeline.Run(r.Context(), sources)
	if err != nil {
		// 合成失敗かつ項目取得済みの場合はフォールバックレポートを添付する
		var synthErr *model.SynthesisError
		if errors.As(err, &synthErr) && result != nil && len(result.Items) > 0 {
			apiErr := model.NewSynthesisFailedError()
			writeJSONResponse(w, http.StatusBadGateway, synthesisFailureResponse{
				apiErrorResponse: apiErrorResponse{
					Code:     apiErr.Code,
					Message:  apiErr.Message,
					Category: apiErr.Category,
					Action:   apiErr.Action,
				},
				FallbackReport: synth.FallbackHTML(result.Items),
				SourceErrors:   toSourceErrorResponses(result.SourceErrors),
			})
			return
		}
		handleServiceError(w, err)
		return
	}
	generationTime := time.Since(start).Seconds()

	// 既存ニュースレターを指定された場合はドラフトを保存する
	if req.NewsletterID != "" && req.NewsletterID != "new" && h.updater != nil {
		if err := h.updater.UpdateContent(r.Context(), req.NewsletterID, result.Draft.Text); err != nil {
			h.logger.Warn("ドラフトの保存に失敗しました",
				slog.String("newsletter_id", req.NewsletterID),
				slog.String("error", err.Error()),
			)
		}
	}

	h.logger.Info("ドラフト生成が完了しました",
		slog.String("newsletter_id", req.NewsletterID),
		slog.Int("sources_used", len(result.Draft.SourcesUsed)),
		slog.Int("source_errors", len(result.SourceErrors)),
		slog.Float64("generation_time", generationTime),
	)

	writeJSONResponse(w, http.StatusOK, generateDraftResponse{
		Draft:          result.Draft.Text,
		SourcesUsed:    result.Draft.SourcesUsed,
		SourceErrors:   toSourceErrorResponses(result.SourceErrors),
		GenerationTime: generationTime,
	})
}

// toSourceErrorResponses はFetchErrorのスライスをAPIレスポンスに変換する。
func toSourceErrorResponses(fetchErrs []*model.FetchError) []sourceErrorResponse {
	out := make([]sourceErrorResponse, 0, len(fetchErrs))
	for _, fe := range fetchErrs {
		out = append(out, sourceErrorResponse{
			SourceID: fe.SourceID,
			Reason:   fe.Cause.Error(),
		})
	}
	return out
}
