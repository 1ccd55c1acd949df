package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// PostgresNewsletterRepo はPostgreSQLを使用したニュースレターリポジトリ。
type PostgresNewsletterRepo struct {
	db *sql.DB
}

// NewPostgresNewsletterRepo はPostgresNewsletterRepoを生成する。
func NewPostgresNewsletterRepo(db *sql.DB) *PostgresNewsletterRepo {
	return &PostgresNewsletterRepo{db: db}
}

// Create はニュースレターを作成する。
func (r *PostgresNewsletterRepo) Create(ctx context.Context, newsletter *model.Newsletter) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO newsletters (id, user_id, title, content, status, scheduled_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		newsletter.ID, newsletter.UserID, newsletter.Title, newsletter.Content,
		newsletter.Status, nullTime(newsletter.ScheduledAt),
		newsletter.CreatedAt, newsletter.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ニュースレターの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByID は指定IDのニュースレターを取得する。見つからない場合はnilを返す。
func (r *PostgresNewsletterRepo) FindByID(ctx context.Context, id string) (*model.Newsletter, error) {
	newsletter := &model.Newsletter{}
	var scheduledAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, content, status, scheduled_at, created_at, updated_at
		 FROM newsletters WHERE id = $1`,
		id,
	).Scan(
		&newsletter.ID, &newsletter.UserID, &newsletter.Title, &newsletter.Content,
		&newsletter.Status, &scheduledAt, &newsletter.CreatedAt, &newsletter.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ニュースレターの取得に失敗しました: %w", err)
	}

	if scheduledAt.Valid {
		t := scheduledAt.Time
		newsletter.ScheduledAt = &t
	}

	return newsletter, nil
}

// UpdateStatus はニュースレターの状態と送信予定時刻を更新する。
func (r *PostgresNewsletterRepo) UpdateStatus(ctx context.Context, id string, status model.NewsletterStatus, scheduledAt *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE newsletters SET status = $2, scheduled_at = $3, updated_at = $4 WHERE id = $1`,
		id, status, nullTime(scheduledAt), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ニュースレター状態の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateContent はニュースレターの本文を更新する。
func (r *PostgresNewsletterRepo) UpdateContent(ctx context.Context, id string, content string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE newsletters SET content = $2, updated_at = $3 WHERE id = $1`,
		id, content, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ニュースレター本文の更新に失敗しました: %w", err)
	}
	return nil
}

// nullTime は*time.Timeをsql.NullTimeに変換する。
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
