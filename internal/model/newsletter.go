// Package model はドメインモデルを定義する。
package model

import "time"

// NewsletterStatus はニュースレターの状態を表す。
type NewsletterStatus string

const (
	// NewsletterStatusDraft は草稿状態。
	NewsletterStatusDraft NewsletterStatus = "draft"
	// NewsletterStatusScheduled は送信予約済み状態。
	NewsletterStatusScheduled NewsletterStatus = "scheduled"
	// NewsletterStatusSent は全宛先への送信完了状態。
	NewsletterStatusSent NewsletterStatus = "sent"
	// NewsletterStatusPartiallySent は一部宛先のみ送信成功した状態。
	NewsletterStatusPartiallySent NewsletterStatus = "partially_sent"
)

// Newsletter は1号分のニュースレターを表す。
type Newsletter struct {
	ID          string
	UserID      string
	Title       string
	Content     string // 合成済みHTML草稿
	Status      NewsletterStatus
	ScheduledAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
