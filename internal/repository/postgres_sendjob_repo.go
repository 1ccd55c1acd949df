package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// PostgresSendJobRepo はPostgreSQLを使用した送信ジョブリポジトリ。
// 宛先リストと配信結果はJSONBカラムに格納する。
type PostgresSendJobRepo struct {
	db *sql.DB
}

// NewPostgresSendJobRepo はPostgresSendJobRepoを生成する。
func NewPostgresSendJobRepo(db *sql.DB) *PostgresSendJobRepo {
	return &PostgresSendJobRepo{db: db}
}

// Create は送信ジョブをpending状態で作成する。
func (r *PostgresSendJobRepo) Create(ctx context.Context, job *model.SendJob) error {
	recipients, err := json.Marshal(job.Recipients)
	if err != nil {
		return fmt.Errorf("宛先リストのエンコードに失敗しました: %w", err)
	}
	results, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("配信結果のエンコードに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO send_jobs (id, newsletter_id, recipients, mode, scheduled_for, status, results, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.NewsletterID, recipients, job.Mode,
		nullTime(job.ScheduledFor), job.Status, results,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("送信ジョブの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDの送信ジョブを取得する。見つからない場合はnilを返す。
func (r *PostgresSendJobRepo) FindByID(ctx context.Context, id string) (*model.SendJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, newsletter_id, recipients, mode, scheduled_for, status, results, created_at, updated_at
		 FROM send_jobs WHERE id = $1`,
		id,
	)

	job, err := scanSendJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("送信ジョブの取得に失敗しました: %w", err)
	}
	return job, nil
}

// ListDue は実行時刻に達したpending状態の予約ジョブを取得する。
// 実行時刻の古い順に返す。
func (r *PostgresSendJobRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*model.SendJob, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, newsletter_id, recipients, mode, scheduled_for, status, results, created_at, updated_at
		 FROM send_jobs
		 WHERE status = $1 AND mode = $2 AND scheduled_for <= $3
		 ORDER BY scheduled_for ASC
		 LIMIT $4`,
		model.JobStatusPending, model.SendModeScheduled, now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("実行待ちジョブの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var jobs []*model.SendJob
	for rows.Next() {
		job, err := scanSendJob(rows)
		if err != nil {
			return nil, fmt.Errorf("送信ジョブの読み取りに失敗しました: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("実行待ちジョブの走査に失敗しました: %w", err)
	}

	return jobs, nil
}

// CompleteIfPending はジョブがpending状態の場合のみ終端状態と配信結果を保存する。
func (r *PostgresSendJobRepo) CompleteIfPending(ctx context.Context, job *model.SendJob) (bool, error) {
	results, err := json.Marshal(job.Results)
	if err != nil {
		return false, fmt.Errorf("配信結果のエンコードに失敗しました: %w", err)
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE send_jobs SET status = $2, results = $3, updated_at = $4
		 WHERE id = $1 AND status = $5`,
		job.ID, job.Status, results, time.Now().UTC(), model.JobStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("送信ジョブの更新に失敗しました: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新結果の確認に失敗しました: %w", err)
	}
	return affected == 1, nil
}

// rowScanner はsql.Rowとsql.Rowsに共通のScanインターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSendJob は1行を送信ジョブに変換する。
func scanSendJob(row rowScanner) (*model.SendJob, error) {
	job := &model.SendJob{}
	var recipients, results []byte
	var scheduledFor sql.NullTime

	err := row.Scan(
		&job.ID, &job.NewsletterID, &recipients, &job.Mode,
		&scheduledFor, &job.Status, &results,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if scheduledFor.Valid {
		t := scheduledFor.Time
		job.ScheduledFor = &t
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &job.Recipients); err != nil {
			return nil, fmt.Errorf("宛先リストのデコードに失敗しました: %w", err)
		}
	}
	if len(results) > 0 {
		if err := json.Unmarshal(results, &job.Results); err != nil {
			return nil, fmt.Errorf("配信結果のデコードに失敗しました: %w", err)
		}
	}

	return job, nil
}
