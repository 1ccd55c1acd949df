// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// NewsletterRepository はニュースレターデータの永続化インターフェース。
type NewsletterRepository interface {
	// Create はニュースレターを作成する。
	Create(ctx context.Context, newsletter *model.Newsletter) error

	// FindByID は指定IDのニュースレターを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Newsletter, error)

	// UpdateStatus はニュースレターの状態と送信予定時刻を更新する。
	UpdateStatus(ctx context.Context, id string, status model.NewsletterStatus, scheduledAt *time.Time) error

	// UpdateContent はニュースレターの本文を更新する。
	UpdateContent(ctx context.Context, id string, content string) error
}

// SendJobRepository は送信ジョブデータの永続化インターフェース。
type SendJobRepository interface {
	// Create は送信ジョブをpending状態で作成する。
	Create(ctx context.Context, job *model.SendJob) error

	// FindByID は指定IDの送信ジョブを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.SendJob, error)

	// ListDue は実行時刻に達したpending状態の予約ジョブを取得する。
	ListDue(ctx context.Context, now time.Time, limit int) ([]*model.SendJob, error)

	// CompleteIfPending はジョブがpending状態の場合のみ終端状態と配信結果を保存する。
	// 保存できた場合はtrueを返す。既に終端状態の場合はfalseを返し、何も変更しない。
	// 同一ジョブの並行実行で二重送信の記録を上書きしないための条件付き更新。
	CompleteIfPending(ctx context.Context, job *model.SendJob) (bool, error)
}
