// Package model はドメインモデルを定義する。
package model

import "time"

// ContentItem はフェッチャーが取得した1件のコンテンツ候補を表す。
// 1回のパイプライン実行内でのみ使用される一時データであり、コアは永続化しない。
type ContentItem struct {
	SourceID    string
	SourceType  SourceType
	SourceName  string // フィードタイトルや "r/golang" などの表示名
	Title       string
	URL         string
	PublishedAt *time.Time
	Summary     string  // サニタイズ済みテキスト
	Body        string  // サニタイズ済み本文（取得できた場合のみ）
	Score       float64 // ソース固有のスコア（Redditの投稿スコアなど）
}

// HasContent はタイトルとサマリーの両方が欠落していないかを返す。
// 両方欠落した項目はフェッチ段階で破棄される。
func (c *ContentItem) HasContent() bool {
	return c.Title != "" || c.Summary != ""
}

// Draft は1回の合成呼び出しで生成されたニュースレター草稿を表す。
// 生成後はイミュータブルであり、再合成は常に新しいDraftを生成する。
type Draft struct {
	Text        string
	SourcesUsed []string // 項目を提供した全ソースのID（昇順）
	GeneratedAt time.Time
}
