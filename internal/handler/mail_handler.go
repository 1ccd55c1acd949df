package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/mail"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// Mailer はメール送信のインターフェース。
type Mailer interface {
	// Send は1宛先にメールを送信する。
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// MailHandler はテストメール送信のHTTPハンドラー。
type MailHandler struct {
	mailer Mailer
	logger *slog.Logger
}

// NewMailHandler はMailHandlerを生成する。
func NewMailHandler(mailer Mailer, logger *slog.Logger) *MailHandler {
	return &MailHandler{
		mailer: mailer,
		logger: logger,
	}
}

// testEmailRequest はテストメール送信リクエストのボディ。
type testEmailRequest struct {
	ToEmail string `json:"to_email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// testEmailResponse はテストメール送信のAPIレスポンス。
type testEmailResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// TestEmail はSMTP設定確認用のテストメール送信を処理する。
// POST /api/test-email
func (h *MailHandler) TestEmail(w http.ResponseWriter, r *http.Request) {
	var req testEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestResponse(w)
		return
	}

	if _, err := mail.ParseAddress(req.ToEmail); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "宛先メールアドレスの形式が不正です。",
			Category: "validation",
			Action:   "正しいメールアドレスを指定してください。",
		})
		return
	}

	subject := req.Subject
	if subject == "" {
		subject = "CreatorPulse テストメール"
	}
	message := req.Message
	if message == "" {
		message = "SMTP設定は正常に動作しています。"
	}

	htmlBody := fmt.Sprintf(
		`<html><body><h2>CreatorPulse テストメール</h2><p>%s</p></body></html>`,
		html.EscapeString(message),
	)

	if err := h.mailer.Send(r.Context(), req.ToEmail, subject, message, htmlBody); err != nil {
		h.logger.Error("テストメールの送信に失敗しました",
			slog.String("to_email", req.ToEmail),
			slog.String("error", err.Error()),
		)
		writeAPIErrorResponse(w, http.StatusBadGateway, model.NewMailSendFailedError(err.Error()))
		return
	}

	h.logger.Info("テストメールを送信しました", slog.String("to_email", req.ToEmail))

	writeJSONResponse(w, http.StatusOK, testEmailResponse{
		Success: true,
		Message: fmt.Sprintf("テストメールを %s に送信しました。", req.ToEmail),
	})
}
