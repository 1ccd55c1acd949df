// Package model はドメインモデルを定義する。
package model

// SourceType はコンテンツソースの種別を表す。
type SourceType string

const (
	// SourceTypeRSS はRSS/Atomフィードソース。
	SourceTypeRSS SourceType = "rss"
	// SourceTypeYouTube はYouTubeチャンネルソース。
	SourceTypeYouTube SourceType = "youtube"
	// SourceTypeReddit はRedditコミュニティソース。
	SourceTypeReddit SourceType = "reddit"
	// SourceTypeBlog はブログソース（フィード自動検出＋HTML抽出フォールバック）。
	SourceTypeBlog SourceType = "blog"
	// SourceTypePodcast はポッドキャストフィードソース。
	SourceTypePodcast SourceType = "podcast"
	// SourceTypeOther はその他のWebページソース（HTML抽出のみ）。
	SourceTypeOther SourceType = "other"
)

// ValidSourceType はソース種別がサポート対象かを検証する。
func ValidSourceType(t SourceType) bool {
	switch t {
	case SourceTypeRSS, SourceTypeYouTube, SourceTypeReddit,
		SourceTypeBlog, SourceTypePodcast, SourceTypeOther:
		return true
	}
	return false
}

// Source は外部コンテンツソースの設定レコードを表す。
// レコードのライフサイクル管理は呼び出し側（データストア）の責務であり、
// コアはアクティブなソースのリストを受け取って読み取るのみ。
type Source struct {
	ID          string
	Type        SourceType
	Identifier  string // 種別ごとの形式: フィードURL、チャンネルURL/ID、コミュニティ名、ページURL
	DisplayName string
	Active      bool
}

// Recipient は配信先の連絡先レコードを表す。
// クライアントリストの解決は呼び出し側の責務。
type Recipient struct {
	ID    string
	Email string
	Name  string
}
