// Package fetcher はソース種別ごとのコンテンツ取得機能を提供する。
// 各フェッチャーはSourceFetcherインターフェースを実装し、
// Registryによりソース種別で解決される。
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// userAgent は外部HTTPアクセスで使用するUser-Agentヘッダー。
const userAgent = "CreatorPulse/1.0 Content Aggregator"

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Sanitizer はフェッチしたコンテンツのサニタイズ処理のインターフェース。
type Sanitizer interface {
	Plain(rawHTML string) string
}

// SourceFetcher は単一ソースからのコンテンツ取得を行う。
// 実装はソース種別ごとに存在し、取得失敗はエラーとして返す。
// 返却される項目は全てサニタイズ済みであること。
type SourceFetcher interface {
	// Type はこのフェッチャーが担当するソース種別を返す。
	Type() model.SourceType

	// Fetch はソースからコンテンツ項目を取得する。
	// タイトルとサマリーの両方が欠落した項目は含めない。
	Fetch(ctx context.Context, source model.Source) ([]model.ContentItem, error)
}

// Options はフェッチャー共通の動作設定。
type Options struct {
	Timeout     time.Duration // 1リクエストあたりのタイムアウト
	MaxBodySize int64         // レスポンスボディの最大サイズ
	MaxItems    int           // ソース1件あたりの最大取得件数
}

// Registry はソース種別からフェッチャーを解決するレジストリ。
type Registry struct {
	fetchers map[model.SourceType]SourceFetcher
}

// NewRegistry は指定されたフェッチャーを登録したRegistryを生成する。
// 同一種別の重複登録は後勝ちとなる。
func NewRegistry(fetchers ...SourceFetcher) *Registry {
	m := make(map[model.SourceType]SourceFetcher, len(fetchers))
	for _, f := range fetchers {
		m[f.Type()] = f
	}
	return &Registry{fetchers: m}
}

// NewDefaultRegistry は全ソース種別のフェッチャーを登録したRegistryを生成する。
func NewDefaultRegistry(ssrfGuard SSRFValidator, sanitizer Sanitizer, logger *slog.Logger, opts Options) *Registry {
	return NewRegistry(
		NewRSSFetcher(model.SourceTypeRSS, ssrfGuard, sanitizer, logger, opts),
		NewRSSFetcher(model.SourceTypePodcast, ssrfGuard, sanitizer, logger, opts),
		NewYouTubeFetcher(ssrfGuard, sanitizer, logger, opts),
		NewRedditFetcher(ssrfGuard, sanitizer, logger, opts),
		NewBlogFetcher(ssrfGuard, sanitizer, logger, opts),
		NewPageFetcher(ssrfGuard, sanitizer, logger, opts),
	)
}

// Lookup はソース種別に対応するフェッチャーを返す。
// 未登録の種別の場合はエラーを返す。
func (r *Registry) Lookup(t model.SourceType) (SourceFetcher, error) {
	f, ok := r.fetchers[t]
	if !ok {
		return nil, fmt.Errorf("未サポートのソース種別です: %s", t)
	}
	return f, nil
}

// fetchBody はSSRF検証付きでURLを取得し、レスポンスボディを返す。
// 全フェッチャー共通のHTTP取得処理。
func fetchBody(ctx context.Context, ssrfGuard SSRFValidator, rawURL, accept string, opts Options) ([]byte, string, error) {
	if err := ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, "", fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := ssrfGuard.NewSafeClient(opts.Timeout, opts.MaxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("HTTPステータス %d が返されました", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBodySize))
	if err != nil {
		return nil, "", fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// capItems は項目数を最大取得件数に制限する。
func capItems(items []model.ContentItem, maxItems int) []model.ContentItem {
	if maxItems > 0 && len(items) > maxItems {
		return items[:maxItems]
	}
	return items
}
