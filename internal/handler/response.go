// Package handler はHTTP APIのハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// ErrCodeFetchFailed はプレビューフェッチ失敗のエラーコード。
const ErrCodeFetchFailed = "FETCH_FAILED"

// apiErrorResponse は統一エラーフォーマットのレスポンス。
type apiErrorResponse struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// writeJSONResponse はJSONレスポンスを書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSONResponse(w, statusCode, apiErrorResponse{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// writeInvalidRequestResponse はリクエストボディ解析失敗の統一レスポンスを書き込む。
func writeInvalidRequestResponse(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  "リクエストボディの解析に失敗しました。",
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var schedErr *model.InvalidScheduleError
	if errors.As(err, &schedErr) {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity, model.NewInvalidScheduleAPIError(schedErr.Reason))
		return
	}

	var synthErr *model.SynthesisError
	if errors.As(err, &synthErr) {
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewSynthesisFailedError())
		return
	}

	// 型付きエラー以外は内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	writeAPIErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidSchedule:
		return http.StatusUnprocessableEntity
	case model.ErrCodeNoContent:
		return http.StatusUnprocessableEntity
	case model.ErrCodeSynthesisFailed:
		return http.StatusBadGateway
	case model.ErrCodeNoActiveSources, model.ErrCodeUnsupportedSourceType, model.ErrCodeInvalidURL:
		return http.StatusBadRequest
	case model.ErrCodeSSRFBlocked:
		return http.StatusForbidden
	case model.ErrCodeNewsletterNotFound, model.ErrCodeSendJobNotFound:
		return http.StatusNotFound
	case ErrCodeFetchFailed, model.ErrCodeMailSendFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
