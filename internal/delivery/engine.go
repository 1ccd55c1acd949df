// Package delivery はニュースレターの宛先ごとの配信処理を提供する。
// 宛先単位の失敗を分離し、配信結果を集約してジョブ状態を遷移させる。
package delivery

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// Mailer はメール送信チャネルのインターフェース。
// 認証情報と接続管理は実装側の責務。
type Mailer interface {
	Send(ctx context.Context, to, subject, textBody, htmlBody string) error
}

// Sanitizer は配信前のHTML本文の無害化とテキストパート導出のインターフェース。
type Sanitizer interface {
	Plain(rawHTML string) string
	SanitizeHTML(rawHTML string) string
}

// Metrics は配信処理の計測インターフェース。
type Metrics interface {
	ObserveDelivery(success bool, duration time.Duration)
}

// Options は配信処理の動作設定。
type Options struct {
	MaxConcurrent int           // 同時送信数の上限
	RatePerSec    float64       // 秒間送信レートの上限（0以下で無制限）
	SendTimeout   time.Duration // 宛先1件あたりの送信タイムアウト
}

// Engine はニュースレターの配信実行を行う。
type Engine struct {
	mailer    Mailer
	sanitizer Sanitizer
	metrics   Metrics
	logger    *slog.Logger
	limiter   *rate.Limiter
	opts      Options
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(mailer Mailer, sanitizer Sanitizer, metrics Metrics, logger *slog.Logger, opts Options) *Engine {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}

	return &Engine{
		mailer:    mailer,
		sanitizer: sanitizer,
		metrics:   metrics,
		logger:    logger,
		limiter:   limiter,
		opts:      opts,
	}
}

// Deliver はジョブの全宛先へニュースレターを配信し、ジョブ状態を遷移させる。
// 宛先ごとの失敗は他の宛先への配信を妨げず、DeliveryResultとして記録される。
// 集約結果: 全成功=sent、一部成功=partially_failed、全失敗=failed。
func (e *Engine) Deliver(ctx context.Context, job *model.SendJob, newsletter *model.Newsletter) *model.SendJob {
	start := time.Now()

	// モデル生成のHTMLは配信前に許可リストでサニタイズする
	content := newsletter.Content
	if e.sanitizer != nil {
		content = e.sanitizer.SanitizeHTML(content)
	}

	results := make([]model.DeliveryResult, len(job.Recipients))

	sem := make(chan struct{}, e.opts.MaxConcurrent)
	var wg sync.WaitGroup

	for i, recipient := range job.Recipients {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(idx int, r model.Recipient) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			results[idx] = e.deliverOne(ctx, r, newsletter.Title, content)
		}(i, recipient)
	}

	wg.Wait()

	// 宛先順に依存しない決定的な記録順序にする
	sort.Slice(results, func(i, j int) bool {
		return results[i].RecipientID < results[j].RecipientID
	})

	delivered := 0
	for _, res := range results {
		if res.Outcome == model.OutcomeDelivered {
			delivered++
		}
	}

	job.Results = results
	job.Status = aggregateStatus(delivered, len(results))
	job.UpdatedAt = time.Now().UTC()

	e.logger.Info("配信ジョブが完了しました",
		slog.String("job_id", job.ID),
		slog.String("newsletter_id", job.NewsletterID),
		slog.String("status", string(job.Status)),
		slog.Int("delivered", delivered),
		slog.Int("failed", len(results)-delivered),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return job
}

// deliverOne は1宛先へ配信を試行し、結果を記録する。
func (e *Engine) deliverOne(ctx context.Context, recipient model.Recipient, subject, content string) model.DeliveryResult {
	result := model.DeliveryResult{
		RecipientID: recipient.ID,
		AttemptedAt: time.Now().UTC(),
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			result.Outcome = model.OutcomeFailed
			result.Reason = "レート制限待機中に中断されました: " + err.Error()
			return result
		}
	}

	sendCtx := ctx
	if e.opts.SendTimeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, e.opts.SendTimeout)
		defer cancel()
	}

	htmlBody := Personalize(content, recipient)
	textBody := ""
	if e.sanitizer != nil {
		textBody = e.sanitizer.Plain(htmlBody)
	}

	start := time.Now()
	err := e.mailer.Send(sendCtx, recipient.Email, subject, textBody, htmlBody)
	if e.metrics != nil {
		e.metrics.ObserveDelivery(err == nil, time.Since(start))
	}

	if err != nil {
		deliveryErr := &model.DeliveryError{RecipientID: recipient.ID, Cause: err}
		e.logger.Error("宛先への配信に失敗しました",
			slog.String("recipient_id", recipient.ID),
			slog.String("email", recipient.Email),
			slog.String("error", deliveryErr.Error()),
		)
		result.Outcome = model.OutcomeFailed
		result.Reason = err.Error()
		return result
	}

	result.Outcome = model.OutcomeDelivered
	return result
}

// aggregateStatus は宛先ごとの結果からジョブの集約状態を決定する。
func aggregateStatus(delivered, total int) model.JobStatus {
	switch {
	case delivered == total:
		return model.JobStatusSent
	case delivered > 0:
		return model.JobStatusPartiallyFailed
	default:
		return model.JobStatusFailed
	}
}

// clientNamePlaceholder は本文中の宛先名プレースホルダー。
const clientNamePlaceholder = "{{client_name}}"

// defaultClientName は宛先名が未設定の場合の表示名。
const defaultClientName = "Valued Client"

// Personalize は本文中のプレースホルダーを宛先の名前に置換する。
func Personalize(content string, recipient model.Recipient) string {
	name := strings.TrimSpace(recipient.Name)
	if name == "" {
		name = defaultClientName
	}
	return strings.ReplaceAll(content, clientNamePlaceholder, name)
}
