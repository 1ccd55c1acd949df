package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// defaultRedditEndpoint はReddit公開JSON APIのエンドポイントテンプレート。
const defaultRedditEndpoint = "https://www.reddit.com/r/%s/hot.json?limit=%d&raw_json=1"

// RedditFetcher はRedditコミュニティのホット投稿を公開JSON APIから取得する。
// 認証不要の読み取り専用エンドポイントを使用する。
type RedditFetcher struct {
	ssrfGuard SSRFValidator
	sanitizer Sanitizer
	logger    *slog.Logger
	opts      Options
	endpoint  string // テスト用にエンドポイントテンプレートを差し替え可能
}

// NewRedditFetcher はRedditFetcherの新しいインスタンスを生成する。
func NewRedditFetcher(ssrfGuard SSRFValidator, sanitizer Sanitizer, logger *slog.Logger, opts Options) *RedditFetcher {
	return &RedditFetcher{
		ssrfGuard: ssrfGuard,
		sanitizer: sanitizer,
		logger:    logger,
		opts:      opts,
		endpoint:  defaultRedditEndpoint,
	}
}

// Type はソース種別を返す。
func (f *RedditFetcher) Type() model.SourceType {
	return model.SourceTypeReddit
}

// redditListing はReddit JSON APIのリスティングレスポンス。
type redditListing struct {
	Data struct {
		Children []struct {
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// redditPost は1件の投稿データ。
type redditPost struct {
	Title             string  `json:"title"`
	Permalink         string  `json:"permalink"`
	URL               string  `json:"url"`
	Selftext          string  `json:"selftext"`
	Score             float64 `json:"score"`
	CreatedUTC        float64 `json:"created_utc"`
	Stickied          bool    `json:"stickied"`
	RemovedByCategory string  `json:"removed_by_category"`
}

// Fetch はコミュニティのホット投稿をコンテンツ項目として取得する。
// 削除済み投稿とピン留め投稿は除外する。
func (f *RedditFetcher) Fetch(ctx context.Context, source model.Source) ([]model.ContentItem, error) {
	start := time.Now()

	community := normalizeCommunity(source.Identifier)
	if community == "" {
		return nil, fmt.Errorf("コミュニティ名が不正です: %q", source.Identifier)
	}

	url := fmt.Sprintf(f.endpoint, community, f.fetchLimit())
	body, _, err := fetchBody(ctx, f.ssrfGuard, url, "application/json", f.opts)
	if err != nil {
		f.logger.Error("Reddit APIの取得に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("community", community),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var listing redditListing
	if err := json.Unmarshal(body, &listing); err != nil {
		f.logger.Error("Redditレスポンスのパースに失敗しました",
			slog.String("source_id", source.ID),
			slog.String("community", community),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("Redditレスポンスパース失敗: %w", err)
	}

	sourceName := source.DisplayName
	if sourceName == "" {
		sourceName = "r/" + community
	}

	items := make([]model.ContentItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.Stickied || post.RemovedByCategory != "" {
			continue
		}
		if post.Selftext == "[removed]" || post.Selftext == "[deleted]" {
			continue
		}

		item := model.ContentItem{
			SourceID:   source.ID,
			SourceType: model.SourceTypeReddit,
			SourceName: sourceName,
			Title:      f.sanitizer.Plain(post.Title),
			URL:        postURL(post),
			Summary:    f.sanitizer.Plain(post.Selftext),
			Score:      post.Score,
		}
		if post.CreatedUTC > 0 {
			t := time.Unix(int64(post.CreatedUTC), 0).UTC()
			item.PublishedAt = &t
		}
		if !item.HasContent() {
			continue
		}
		items = append(items, item)
	}

	f.logger.Info("Redditフェッチが完了しました",
		slog.String("source_id", source.ID),
		slog.String("community", community),
		slog.Int("items_total", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return capItems(items, f.opts.MaxItems), nil
}

// fetchLimit はAPIに要求する件数を返す。
// 除外投稿を考慮して最大取得件数より多めに要求する。
func (f *RedditFetcher) fetchLimit() int {
	if f.opts.MaxItems <= 0 {
		return 25
	}
	return f.opts.MaxItems + 5
}

// normalizeCommunity は識別子からコミュニティ名を抽出する。
// "golang"、"r/golang"、"https://www.reddit.com/r/golang/" のいずれの形式も受け付ける。
func normalizeCommunity(identifier string) string {
	s := strings.TrimSpace(identifier)
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.reddit.com/")
	s = strings.TrimPrefix(s, "reddit.com/")
	s = strings.TrimPrefix(s, "old.reddit.com/")
	s = strings.TrimPrefix(s, "r/")
	if idx := strings.IndexByte(s, '/'); idx >= 0 {
		s = s[:idx]
	}
	if idx := strings.IndexByte(s, '?'); idx >= 0 {
		s = s[:idx]
	}
	return s
}

// postURL は投稿のリンク先URLを返す。
// 外部リンク投稿はリンク先、テキスト投稿はRedditのパーマリンクを返す。
func postURL(post redditPost) string {
	if isHTTPURL(post.URL) && !strings.Contains(post.URL, "reddit.com"+post.Permalink) {
		return post.URL
	}
	if post.Permalink != "" {
		return "https://www.reddit.com" + post.Permalink
	}
	return post.URL
}
