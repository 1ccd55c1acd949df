// Package model はドメインモデルを定義する。
package model

import "fmt"

// FetchError は単一ソースのフェッチ失敗を表す。
// パイプライン実行全体に対しては致命的でなく、集約されて結果に含まれる。
type FetchError struct {
	SourceID string
	Cause    error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	return fmt.Sprintf("ソース %s のフェッチに失敗しました: %v", e.SourceID, e.Cause)
}

// Unwrap は原因エラーを返す。
func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewFetchError はFetchErrorを生成する。
func NewFetchError(sourceID string, cause error) *FetchError {
	return &FetchError{SourceID: sourceID, Cause: cause}
}

// SynthesisError は草稿合成の失敗を表す。
// 草稿生成リクエスト全体に対して致命的であり、劣化した草稿が返されることはない。
type SynthesisError struct {
	Reason string
	Cause  error
}

// Error はerrorインターフェースを実装する。
func (e *SynthesisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("草稿の合成に失敗しました（%s）: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("草稿の合成に失敗しました（%s）", e.Reason)
}

// Unwrap は原因エラーを返す。
func (e *SynthesisError) Unwrap() error {
	return e.Cause
}

// InvalidScheduleError は送信リクエストの検証失敗を表す。
// 副作用が発生する前にリクエスト全体を拒否する。
type InvalidScheduleError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("無効な送信リクエストです: %s", e.Reason)
}

// DeliveryError は単一宛先への配信失敗を表す。
// ジョブ全体に対しては致命的でなく、DeliveryResultとして記録される。
type DeliveryError struct {
	RecipientID string
	Cause       error
}

// Error はerrorインターフェースを実装する。
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("宛先 %s への配信に失敗しました: %v", e.RecipientID, e.Cause)
}

// Unwrap は原因エラーを返す。
func (e *DeliveryError) Unwrap() error {
	return e.Cause
}

// APIError はAPI層の統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, content, delivery, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidSchedule       = "INVALID_SCHEDULE"
	ErrCodeNoContent             = "NO_CONTENT"
	ErrCodeSynthesisFailed       = "SYNTHESIS_FAILED"
	ErrCodeNoActiveSources       = "NO_ACTIVE_SOURCES"
	ErrCodeUnsupportedSourceType = "UNSUPPORTED_SOURCE_TYPE"
	ErrCodeNewsletterNotFound    = "NEWSLETTER_NOT_FOUND"
	ErrCodeSendJobNotFound       = "SEND_JOB_NOT_FOUND"
	ErrCodeInvalidURL            = "INVALID_URL"
	ErrCodeSSRFBlocked           = "SSRF_BLOCKED"
	ErrCodeMailSendFailed        = "MAIL_SEND_FAILED"
)

// NewInvalidScheduleAPIError は送信リクエスト検証失敗のAPIErrorを生成する。
func NewInvalidScheduleAPIError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSchedule,
		Message:  fmt.Sprintf("送信リクエストが無効です: %s", reason),
		Category: "validation",
		Action:   "宛先と送信予定時刻を確認してください。",
	}
}

// NewNoContentError はコンテンツ未取得エラーを生成する。
func NewNoContentError() *APIError {
	return &APIError{
		Code:     ErrCodeNoContent,
		Message:  "指定されたソースからコンテンツを取得できませんでした。",
		Category: "content",
		Action:   "ソースの識別子が正しいか確認し、しばらく待ってから再度お試しください。",
	}
}

// NewSynthesisFailedError は草稿合成失敗のAPIErrorを生成する。
func NewSynthesisFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeSynthesisFailed,
		Message:  "言語モデルによる草稿の生成に失敗しました。",
		Category: "content",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewNoActiveSourcesError はアクティブソース不在エラーを生成する。
func NewNoActiveSourcesError() *APIError {
	return &APIError{
		Code:     ErrCodeNoActiveSources,
		Message:  "アクティブなソースが指定されていません。",
		Category: "validation",
		Action:   "少なくとも1件のアクティブなソースを指定してください。",
	}
}

// NewUnsupportedSourceTypeError は未サポートのソース種別エラーを生成する。
func NewUnsupportedSourceTypeError(t string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedSourceType,
		Message:  fmt.Sprintf("サポートされていないソース種別です: %s", t),
		Category: "validation",
		Action:   "ソース種別には rss、youtube、reddit、blog、podcast、other のいずれかを指定してください。",
	}
}

// NewNewsletterNotFoundError はニュースレター未検出エラーを生成する。
func NewNewsletterNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeNewsletterNotFound,
		Message:  fmt.Sprintf("指定されたニュースレターが見つかりません: %s", id),
		Category: "content",
		Action:   "ニュースレターIDを確認してください。",
	}
}

// NewSendJobNotFoundError は送信ジョブ未検出エラーを生成する。
func NewSendJobNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeSendJobNotFound,
		Message:  fmt.Sprintf("指定された送信ジョブが見つかりません: %s", id),
		Category: "delivery",
		Action:   "送信ジョブIDを確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewMailSendFailedError はメール送信失敗エラーを生成する。
func NewMailSendFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeMailSendFailed,
		Message:  fmt.Sprintf("メールの送信に失敗しました: %s", reason),
		Category: "delivery",
		Action:   "SMTP設定を確認してください。",
	}
}
