// Package sendloop は予約送信ジョブのバックグラウンド実行を提供する。
// 定期ポーリングで実行時刻に達したジョブを取得し、スケジューラーに委譲する。
package sendloop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
	"github.com/hitoshi/creatorpulse/internal/repository"
)

// defaultBatchLimit は1サイクルで処理する予約ジョブの最大件数。
const defaultBatchLimit = 50

// JobExecutor は送信ジョブ実行のインターフェース。
type JobExecutor interface {
	// ExecuteJob は指定IDの送信ジョブを実行する。終端状態のジョブはno-opとなる。
	ExecuteJob(ctx context.Context, jobID string) (*model.SendJob, error)
}

// Loop は予約送信ジョブのポーリングと並列制御を行う。
// ティッカーで実行時刻に達したpendingジョブを取得し、
// semaphoreパターンで最大並列数を制御しながら実行する。
type Loop struct {
	jobRepo        repository.SendJobRepository
	executor       JobExecutor
	logger         *slog.Logger
	maxConcurrency int
	batchLimit     int

	now func() time.Time
}

// NewLoop はLoopの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewLoop(
	jobRepo repository.SendJobRepository,
	executor JobExecutor,
	logger *slog.Logger,
	maxConcurrency int,
) *Loop {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Loop{
		jobRepo:        jobRepo,
		executor:       executor,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		batchLimit:     defaultBatchLimit,
		now:            time.Now,
	}
}

// Start は指定間隔のティッカーで送信ループを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (l *Loop) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.logger.Info("送信ループを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", l.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := l.RunOnce(ctx); err != nil {
		l.logger.Error("送信サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("送信ループを停止しました")
			return
		case <-ticker.C:
			if err := l.RunOnce(ctx); err != nil {
				l.logger.Error("送信サイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は実行時刻に達した予約ジョブを1回取得し、並列で実行する。
// semaphoreパターンで最大並列数を制御する。
// ジョブ単位の失敗はサイクル全体を失敗させない。
func (l *Loop) RunOnce(ctx context.Context) error {
	start := l.now()

	jobs, err := l.jobRepo.ListDue(ctx, start, l.batchLimit)
	if err != nil {
		return err
	}

	if len(jobs) == 0 {
		return nil
	}

	l.logger.Info("送信サイクルを開始します",
		slog.Int("job_count", len(jobs)),
	)

	sem := make(chan struct{}, l.maxConcurrency)
	var wg sync.WaitGroup

	for _, job := range jobs {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(j *model.SendJob) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			result, err := l.executor.ExecuteJob(ctx, j.ID)
			if err != nil {
				l.logger.Error("予約ジョブの実行に失敗しました",
					slog.String("job_id", j.ID),
					slog.String("newsletter_id", j.NewsletterID),
					slog.String("error", err.Error()),
				)
				return
			}

			l.logger.Info("予約ジョブを実行しました",
				slog.String("job_id", result.ID),
				slog.String("status", string(result.Status)),
			)
		}(job)
	}

	wg.Wait()

	duration := time.Since(start)
	l.logger.Info("送信サイクルが完了しました",
		slog.Int("job_count", len(jobs)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
