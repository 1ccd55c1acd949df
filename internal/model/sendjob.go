// Package model はドメインモデルを定義する。
package model

import "time"

// SendMode は送信ジョブの実行モードを表す。
type SendMode string

const (
	// SendModeImmediate は即時送信モード。
	SendModeImmediate SendMode = "immediate"
	// SendModeScheduled は予約送信モード。
	SendModeScheduled SendMode = "scheduled"
)

// JobStatus は送信ジョブのライフサイクル状態を表す。
// pending → sent | partially_failed | failed の一方向遷移のみ許可される。
type JobStatus string

const (
	// JobStatusPending は実行待ち状態。
	JobStatusPending JobStatus = "pending"
	// JobStatusSent は全宛先への送信成功状態（終端）。
	JobStatusSent JobStatus = "sent"
	// JobStatusPartiallyFailed は一部宛先のみ成功した状態（終端）。
	JobStatusPartiallyFailed JobStatus = "partially_failed"
	// JobStatusFailed は全宛先への送信失敗状態（終端）。
	JobStatusFailed JobStatus = "failed"
)

// Terminal はジョブ状態が終端かを返す。終端状態のジョブの再実行は
// キャッシュされた結果を返すno-opとなる。
func (s JobStatus) Terminal() bool {
	return s == JobStatusSent || s == JobStatusPartiallyFailed || s == JobStatusFailed
}

// DeliveryOutcome は宛先ごとの配信結果を表す。
type DeliveryOutcome string

const (
	// OutcomeDelivered は配信成功。
	OutcomeDelivered DeliveryOutcome = "delivered"
	// OutcomeFailed は配信失敗。
	OutcomeFailed DeliveryOutcome = "failed"
)

// DeliveryResult は1宛先への配信試行の記録を表す。
type DeliveryResult struct {
	RecipientID string
	Outcome     DeliveryOutcome
	Reason      string // Outcome=failed の場合の失敗理由
	AttemptedAt time.Time
}

// SendJob は1通のニュースレターを宛先セットへ配信する作業単位を表す。
// 状態遷移はDelivery Engineのみが行い、終端後の再実行は記録済み結果を返す。
type SendJob struct {
	ID           string
	NewsletterID string
	Recipients   []Recipient // ジョブ作成時に解決済みの宛先レコード
	Mode         SendMode
	ScheduledFor *time.Time // Mode=scheduled の場合のみ設定
	Status       JobStatus
	Results      []DeliveryResult
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecipientIDs は宛先IDのリストを返す。
func (j *SendJob) RecipientIDs() []string {
	ids := make([]string, len(j.Recipients))
	for i, r := range j.Recipients {
		ids[i] = r.ID
	}
	return ids
}
