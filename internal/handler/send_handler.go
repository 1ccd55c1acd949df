package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/creatorpulse/internal/dispatch"
	"github.com/hitoshi/creatorpulse/internal/model"
)

// JobScheduler は送信ジョブの作成と実行のインターフェース。
type JobScheduler interface {
	// CreateJob は送信ジョブを作成する。即時モードでは同期的に配信まで行う。
	CreateJob(ctx context.Context, in dispatch.CreateJobInput) (*model.SendJob, error)
	// ExecuteJob は指定IDの送信ジョブを実行する。終端状態のジョブは記録済み結果を返す。
	ExecuteJob(ctx context.Context, jobID string) (*model.SendJob, error)
}

// SendHandler はニュースレター送信のHTTPハンドラー。
type SendHandler struct {
	scheduler JobScheduler
	logger    *slog.Logger
}

// NewSendHandler はSendHandlerを生成する。
func NewSendHandler(scheduler JobScheduler, logger *slog.Logger) *SendHandler {
	return &SendHandler{
		scheduler: scheduler,
		logger:    logger,
	}
}

// recipientRequest は送信リクエストの宛先指定。
type recipientRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// sendNewsletterRequest はニュースレター送信リクエストのボディ。
type sendNewsletterRequest struct {
	NewsletterID    string             `json:"newsletter_id"`
	Recipients      []recipientRequest `json:"recipients"`
	ScheduledFor    string             `json:"scheduled_for"`
	SendImmediately bool               `json:"send_immediately"`
}

// sendNewsletterResponse はニュースレター送信のAPIレスポンス。
type sendNewsletterResponse struct {
	Success         bool       `json:"success"`
	JobID           string     `json:"job_id"`
	Status          string     `json:"status"`
	RecipientsCount int        `json:"recipients_count"`
	ScheduledFor    *time.Time `json:"scheduled_for,omitempty"`
}

// deliveryResultResponse は宛先ごとの配信結果のAPIレスポンス。
type deliveryResultResponse struct {
	RecipientID string    `json:"recipient_id"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// executeJobResponse は送信ジョブ実行のAPIレスポンス。
type executeJobResponse struct {
	JobID     string                   `json:"job_id"`
	Status    string                   `json:"status"`
	Delivered int                      `json:"delivered"`
	Failed    int                      `json:"failed"`
	Results   []deliveryResultResponse `json:"results"`
}

// SendNewsletter はニュースレター送信リクエストを処理する。
// POST /api/send-newsletter
func (h *SendHandler) SendNewsletter(w http.ResponseWriter, r *http.Request) {
	var req sendNewsletterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequestResponse(w)
		return
	}

	if req.NewsletterID == "" {
		writeAPIErrorResponse(w, http.StatusUnprocessableEntity,
			model.NewInvalidScheduleAPIError("ニュースレターIDが空です"))
		return
	}

	var scheduledFor *time.Time
	if req.ScheduledFor != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			writeAPIErrorResponse(w, http.StatusUnprocessableEntity,
				model.NewInvalidScheduleAPIError("送信予定時刻の形式が不正です（RFC3339形式で指定してください）"))
			return
		}
		scheduledFor = &t
	}

	recipients := make([]model.Recipient, 0, len(req.Recipients))
	for _, rr := range req.Recipients {
		recipients = append(recipients, model.Recipient{
			ID:    rr.ID,
			Email: rr.Email,
			Name:  rr.Name,
		})
	}

	job, err := h.scheduler.CreateJob(r.Context(), dispatch.CreateJobInput{
		NewsletterID:    req.NewsletterID,
		Recipients:      recipients,
		ScheduledFor:    scheduledFor,
		SendImmediately: req.SendImmediately,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.logger.Info("送信リクエストを受け付けました",
		slog.String("newsletter_id", req.NewsletterID),
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.Int("recipients_count", len(job.Recipients)),
	)

	writeJSONResponse(w, http.StatusOK, sendNewsletterResponse{
		Success:         job.Status != model.JobStatusFailed,
		JobID:           job.ID,
		Status:          string(job.Status),
		RecipientsCount: len(job.Recipients),
		ScheduledFor:    job.ScheduledFor,
	})
}

// ExecuteJob は送信ジョブの外部トリガー実行を処理する。
// POST /api/send-jobs/{id}/execute
func (h *SendHandler) ExecuteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.scheduler.ExecuteJob(r.Context(), jobID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	delivered := 0
	failed := 0
	results := make([]deliveryResultResponse, 0, len(job.Results))
	for _, res := range job.Results {
		if res.Outcome == model.OutcomeDelivered {
			delivered++
		} else {
			failed++
		}
		results = append(results, deliveryResultResponse{
			RecipientID: res.RecipientID,
			Outcome:     string(res.Outcome),
			Reason:      res.Reason,
			AttemptedAt: res.AttemptedAt,
		})
	}

	writeJSONResponse(w, http.StatusOK, executeJobResponse{
		JobID:     job.ID,
		Status:    string(job.Status),
		Delivered: delivered,
		Failed:    failed,
		Results:   results,
	})
}
