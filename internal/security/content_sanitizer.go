// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はフェッチしたリモートコンテンツをサニタイズし、
// 草稿プロンプトや配信メールにスクリプト等が混入することを防ぐ。
// bluemondayライブラリを使用した許可リストベースのポリシーを用いる。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はリモートコンテンツのサニタイズ機能のインターフェースを定義する。
// フェッチャーが取得した項目のサマリー・本文に対して使用される。
type ContentSanitizerService interface {
	// Plain はHTMLコンテンツから全タグを除去したプレーンテキストを返す。
	// HTMLエンティティはデコードし、連続する空白は1つに畳み込む。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Plain(rawHTML string) string

	// SanitizeHTML はHTMLコンテンツをサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, a, ul, ol, li, blockquote, pre, code, strong, em, h1-h3）のみを通過させ、
	// script, iframe, styleタグおよびon*イベント属性を除去する。
	SanitizeHTML(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	strict *bluemonday.Policy
	html   *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// 初期化時にbluemondayのポリシーを2種類構築する:
//   - strict: 全タグ除去（項目サマリーのプレーンテキスト化用）
//   - html: 許可リストベースの安全なHTML（草稿コンテンツ用）
func NewContentSanitizer() *contentSanitizer {
	h := bluemonday.NewPolicy()
	h.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
		"h1", "h2", "h3",
	)
	h.AllowAttrs("href").OnElements("a")
	h.AllowRelativeURLs(false)
	h.AllowURLSchemes("https", "http")
	h.AddTargetBlankToFullyQualifiedLinks(true)
	h.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		strict: bluemonday.StrictPolicy(),
		html:   h,
	}
}

// Plain はHTMLコンテンツから全タグを除去したプレーンテキストを返す。
func (s *contentSanitizer) Plain(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	stripped := s.strict.Sanitize(rawHTML)
	// bluemondayはエンティティをエスケープしたまま残すためデコードする
	decoded := html.UnescapeString(stripped)
	return strings.Join(strings.Fields(decoded), " ")
}

// SanitizeHTML はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) SanitizeHTML(rawHTML string) string {
	if rawHTML == "" {
		return ""
	}
	return s.html.Sanitize(rawHTML)
}
