package fetcher

import (
	"bytes"
	"context"
	"log/slog"
	"mime"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// blogAccept はブログページ取得時のAcceptヘッダー。
// フィードURLが直接指定されるケースもあるためフィード形式も受け付ける。
const blogAccept = "text/html, application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// BlogFetcher はブログURLからコンテンツを取得する。
// フィード自動検出を優先し、フィードが見つからない場合は
// ページ本体のHTML抽出にフォールバックする。
type BlogFetcher struct {
	ssrfGuard SSRFValidator
	sanitizer Sanitizer
	logger    *slog.Logger
	opts      Options
	rss       *RSSFetcher
}

// NewBlogFetcher はBlogFetcherの新しいインスタンスを生成する。
func NewBlogFetcher(ssrfGuard SSRFValidator, sanitizer Sanitizer, logger *slog.Logger, opts Options) *BlogFetcher {
	return &BlogFetcher{
		ssrfGuard: ssrfGuard,
		sanitizer: sanitizer,
		logger:    logger,
		opts:      opts,
		rss:       NewRSSFetcher(model.SourceTypeBlog, ssrfGuard, sanitizer, logger, opts),
	}
}

// Type はソース種別を返す。
func (f *BlogFetcher) Type() model.SourceType {
	return model.SourceTypeBlog
}

// Fetch はブログからコンテンツ項目を取得する。
// 1. 識別子URLを取得し、レスポンスがフィードなら直接パース
// 2. HTMLの場合はheadタグからフィードリンクを検出してフィードをパース
// 3. フィード未検出の場合はページ本体から1件の項目を抽出
func (f *BlogFetcher) Fetch(ctx context.Context, source model.Source) ([]model.ContentItem, error) {
	start := time.Now()

	body, contentType, err := fetchBody(ctx, f.ssrfGuard, source.Identifier, blogAccept, f.opts)
	if err != nil {
		f.logger.Error("ブログページの取得に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("url", source.Identifier),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	// フィードが直接指定された場合
	if isFeedContent(contentType, body) {
		items, _, err := f.rss.parseFeed(body, source)
		return items, err
	}

	// HTMLからフィードリンクを検出
	if feedURL := discoverFeedURL(body, source.Identifier); feedURL != "" {
		feedBody, _, err := fetchBody(ctx, f.ssrfGuard, feedURL, feedAccept, f.opts)
		if err == nil {
			items, _, parseErr := f.rss.parseFeed(feedBody, source)
			if parseErr == nil {
				f.logger.Info("ブログフィードの自動検出に成功しました",
					slog.String("source_id", source.ID),
					slog.String("feed_url", feedURL),
					slog.Int("items_total", len(items)),
					slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
				)
				return items, nil
			}
		}
		f.logger.Warn("検出されたフィードの取得に失敗したためHTML抽出にフォールバックします",
			slog.String("source_id", source.ID),
			slog.String("feed_url", feedURL),
		)
	}

	// フィード未検出: ページ本体から抽出
	item, err := scrapePage(body, source, model.SourceTypeBlog, f.sanitizer)
	if err != nil {
		f.logger.Error("ページ本体の抽出に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("url", source.Identifier),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	f.logger.Info("ブログフェッチが完了しました（HTML抽出）",
		slog.String("source_id", source.ID),
		slog.String("url", source.Identifier),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return []model.ContentItem{item}, nil
}

// isFeedContent はContent-Typeとボディからレスポンスがフィードかを判定する。
func isFeedContent(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	switch mediaType {
	case "application/rss+xml", "application/atom+xml":
		return true
	case "text/xml", "application/xml", "":
		// 汎用XMLはボディ解析で判定
	default:
		return false
	}

	// 先頭4KBを検査してRSS/Atomのルート要素を探す
	checkSize := 4096
	if len(body) < checkSize {
		checkSize = len(body)
	}
	prefix := strings.ToLower(string(body[:checkSize]))

	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

// discoverFeedURL はHTMLのheadタグからRSS/Atomフィードリンクを検出する。
// 複数候補がある場合は先頭を優先する。相対URLはbaseURLを基準に解決される。
func discoverFeedURL(htmlBody []byte, baseURL string) string {
	baseU, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}
			if tagName == "body" {
				return ""
			}
			if !inHead || tagName != "link" || !hasAttr {
				continue
			}

			var rel, linkType, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					linkType = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "alternate" || href == "" {
				continue
			}
			if linkType != "application/rss+xml" && linkType != "application/atom+xml" {
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			return baseU.ResolveReference(ref).String()

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				return ""
			}
		}
	}
}
