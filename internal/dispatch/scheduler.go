// Package dispatch は送信ジョブの作成と実行ライフサイクル管理を提供する。
// ジョブの作成（検証 + pending状態の永続化）と実行（冪等な配信トリガー）を
// 分離した2フェーズ契約として公開する。タイマーやポーリングは保持しない。
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/creatorpulse/internal/model"
	"github.com/hitoshi/creatorpulse/internal/repository"
)

// Deliverer は配信実行のインターフェース。
type Deliverer interface {
	Deliver(ctx context.Context, job *model.SendJob, newsletter *model.Newsletter) *model.SendJob
}

// Scheduler は送信ジョブのライフサイクルを管理する。
// 状態遷移は pending → sent | partially_failed | failed の一方向のみで、
// 終端状態のジョブの再実行は記録済み結果を返すno-opとなる。
type Scheduler struct {
	newsletterRepo repository.NewsletterRepository
	jobRepo        repository.SendJobRepository
	deliverer      Deliverer
	logger         *slog.Logger
	now            func() time.Time // テスト用に差し替え可能
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(newsletterRepo repository.NewsletterRepository, jobRepo repository.SendJobRepository, deliverer Deliverer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		newsletterRepo: newsletterRepo,
		jobRepo:        jobRepo,
		deliverer:      deliverer,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// CreateJobInput は送信ジョブ作成のリクエスト。
type CreateJobInput struct {
	NewsletterID    string
	Recipients      []model.Recipient
	ScheduledFor    *time.Time
	SendImmediately bool
}

// CreateJob は送信リクエストを検証してジョブを作成する。
// 即時モードは同一リクエスト内で配信まで同期実行する。
// 予約モードはpending状態のまま永続化され、外部トリガーによる
// ExecuteJob呼び出しを待つ。
// 検証失敗はいかなる副作用よりも前にリクエスト全体を拒否する。
func (s *Scheduler) CreateJob(ctx context.Context, in CreateJobInput) (*model.SendJob, error) {
	if len(in.Recipients) == 0 {
		return nil, &model.InvalidScheduleError{Reason: "宛先が1件も指定されていません"}
	}

	mode := model.SendModeImmediate
	var scheduledFor *time.Time
	if !in.SendImmediately {
		if in.ScheduledFor == nil {
			return nil, &model.InvalidScheduleError{Reason: "予約送信には送信予定時刻の指定が必要です"}
		}
		if !in.ScheduledFor.After(s.now()) {
			return nil, &model.InvalidScheduleError{Reason: "送信予定時刻は未来の時刻を指定してください"}
		}
		mode = model.SendModeScheduled
		t := in.ScheduledFor.UTC()
		scheduledFor = &t
	}

	newsletter, err := s.newsletterRepo.FindByID(ctx, in.NewsletterID)
	if err != nil {
		return nil, err
	}
	if newsletter == nil {
		return nil, model.NewNewsletterNotFoundError(in.NewsletterID)
	}

	now := s.now()
	job := &model.SendJob{
		ID:           uuid.NewString(),
		NewsletterID: newsletter.ID,
		Recipients:   in.Recipients,
		Mode:         mode,
		ScheduledFor: scheduledFor,
		Status:       model.JobStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.jobRepo.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("送信ジョブを作成しました",
		slog.String("job_id", job.ID),
		slog.String("newsletter_id", job.NewsletterID),
		slog.String("mode", string(job.Mode)),
		slog.Int("recipients_count", len(job.Recipients)),
	)

	if mode == model.SendModeScheduled {
		if err := s.newsletterRepo.UpdateStatus(ctx, newsletter.ID, model.NewsletterStatusScheduled, scheduledFor); err != nil {
			return nil, err
		}
		return job, nil
	}

	// 即時モード: 同期実行
	return s.executeJob(ctx, job, newsletter)
}

// ExecuteJob は指定ジョブの配信を実行する。
// 外部の時刻ベーストリガー（送信ループや手動実行）から呼び出される。
// 終端状態のジョブは再送せず、記録済みの結果をそのまま返す（冪等）。
func (s *Scheduler) ExecuteJob(ctx context.Context, jobID string) (*model.SendJob, error) {
	job, err := s.jobRepo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, model.NewSendJobNotFoundError(jobID)
	}

	if job.Status.Terminal() {
		s.logger.Info("終端状態のジョブの再実行要求をスキップしました",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		return job, nil
	}

	newsletter, err := s.newsletterRepo.FindByID(ctx, job.NewsletterID)
	if err != nil {
		return nil, err
	}
	if newsletter == nil {
		return nil, model.NewNewsletterNotFoundError(job.NewsletterID)
	}

	return s.executeJob(ctx, job, newsletter)
}

// executeJob は配信を実行して結果を永続化する。
// 条件付き更新が拒否された場合（並行実行との競合）は保存済みの結果を返す。
func (s *Scheduler) executeJob(ctx context.Context, job *model.SendJob, newsletter *model.Newsletter) (*model.SendJob, error) {
	job = s.deliverer.Deliver(ctx, job, newsletter)

	saved, err := s.jobRepo.CompleteIfPending(ctx, job)
	if err != nil {
		return nil, err
	}
	if !saved {
		stored, err := s.jobRepo.FindByID(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, fmt.Errorf("実行結果の保存競合後にジョブが見つかりません: %s", job.ID)
		}
		s.logger.Warn("ジョブは並行して実行済みのため保存済みの結果を返します",
			slog.String("job_id", job.ID),
			slog.String("status", string(stored.Status)),
		)
		return stored, nil
	}

	if status, ok := newsletterStatusFor(job.Status); ok {
		if err := s.newsletterRepo.UpdateStatus(ctx, newsletter.ID, status, nil); err != nil {
			s.logger.Error("ニュースレター状態の更新に失敗しました",
				slog.String("newsletter_id", newsletter.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return job, nil
}

// newsletterStatusFor はジョブの終端状態に対応するニュースレター状態を返す。
// 全宛先失敗の場合はニュースレター状態を変更しない（再送可能なまま残す）。
func newsletterStatusFor(status model.JobStatus) (model.NewsletterStatus, bool) {
	switch status {
	case model.JobStatusSent:
		return model.NewsletterStatusSent, true
	case model.JobStatusPartiallyFailed:
		return model.NewsletterStatusPartiallySent, true
	}
	return "", false
}
