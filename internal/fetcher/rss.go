package fetcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// feedAccept はフィード取得時のAcceptヘッダー。
const feedAccept = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// RSSFetcher はRSS/Atomフィードからコンテンツを取得する。
// ポッドキャストもフィード形式（RSS + enclosure）のため同一実装を共用する。
type RSSFetcher struct {
	sourceType model.SourceType
	ssrfGuard  SSRFValidator
	sanitizer  Sanitizer
	logger     *slog.Logger
	opts       Options
}

// NewRSSFetcher はRSSFetcherの新しいインスタンスを生成する。
// sourceTypeにはSourceTypeRSSまたはSourceTypePodcastを指定する。
func NewRSSFetcher(sourceType model.SourceType, ssrfGuard SSRFValidator, sanitizer Sanitizer, logger *slog.Logger, opts Options) *RSSFetcher {
	return &RSSFetcher{
		sourceType: sourceType,
		ssrfGuard:  ssrfGuard,
		sanitizer:  sanitizer,
		logger:     logger,
		opts:       opts,
	}
}

// Type はソース種別を返す。
func (f *RSSFetcher) Type() model.SourceType {
	return f.sourceType
}

// Fetch はフィードURLからコンテンツ項目を取得する。
func (f *RSSFetcher) Fetch(ctx context.Context, source model.Source) ([]model.ContentItem, error) {
	start := time.Now()

	body, _, err := fetchBody(ctx, f.ssrfGuard, source.Identifier, feedAccept, f.opts)
	if err != nil {
		f.logger.Error("フィードの取得に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("source_type", string(f.sourceType)),
			slog.String("url", source.Identifier),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	items, feedTitle, err := f.parseFeed(body, source)
	if err != nil {
		f.logger.Error("フィードのパースに失敗しました",
			slog.String("source_id", source.ID),
			slog.String("url", source.Identifier),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	f.logger.Info("フィードフェッチが完了しました",
		slog.String("source_id", source.ID),
		slog.String("source_type", string(f.sourceType)),
		slog.String("feed_title", feedTitle),
		slog.Int("items_total", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return items, nil
}

// parseFeed はフィードボディをパースしてコンテンツ項目に変換する。
func (f *RSSFetcher) parseFeed(body []byte, source model.Source) ([]model.ContentItem, string, error) {
	parser := gofeed.NewParser()
	parsedFeed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, "", fmt.Errorf("フィードパース失敗: %w", err)
	}

	sourceName := source.DisplayName
	if sourceName == "" {
		sourceName = parsedFeed.Title
	}

	items := make([]model.ContentItem, 0, len(parsedFeed.Items))
	for _, entry := range parsedFeed.Items {
		if entry == nil {
			continue
		}

		item := convertFeedEntry(entry, source, f.sourceType, sourceName, f.sanitizer)
		if !item.HasContent() {
			continue
		}
		items = append(items, item)
	}

	return capItems(items, f.opts.MaxItems), parsedFeed.Title, nil
}

// convertFeedEntry はgofeedの記事をContentItemに変換する。
// サマリーと本文はサニタイズしてプレーンテキスト化する。
func convertFeedEntry(entry *gofeed.Item, source model.Source, sourceType model.SourceType, sourceName string, sanitizer Sanitizer) model.ContentItem {
	item := model.ContentItem{
		SourceID:   source.ID,
		SourceType: sourceType,
		SourceName: sourceName,
		Title:      sanitizer.Plain(entry.Title),
		URL:        entry.Link,
	}

	// 公開日時: PublishedParsedを優先し、なければUpdatedParsed
	if entry.PublishedParsed != nil {
		t := *entry.PublishedParsed
		item.PublishedAt = &t
	} else if entry.UpdatedParsed != nil {
		t := *entry.UpdatedParsed
		item.PublishedAt = &t
	}

	// サマリー: Descriptionを優先し、なければContentの冒頭
	if entry.Description != "" {
		item.Summary = sanitizer.Plain(entry.Description)
	}
	if entry.Content != "" {
		item.Body = sanitizer.Plain(entry.Content)
		if item.Summary == "" {
			item.Summary = item.Body
		}
	}

	// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
	if item.URL == "" && isHTTPURL(entry.GUID) {
		item.URL = entry.GUID
	}

	return item
}

// isHTTPURL は文字列がhttp(s) URLかを判定する。
func isHTTPURL(s string) bool {
	return len(s) > 7 && (s[:7] == "http://" || (len(s) > 8 && s[:8] == "https://"))
}
