package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// minParagraphLength はサマリーとして採用する段落の最小文字数。
// ナビゲーションやフッターの短いテキストを除外する。
const minParagraphLength = 80

// PageFetcher は任意のWebページから1件のコンテンツ項目をHTML抽出で取得する。
// フィードを持たない「その他」種別のソースで使用される。
type PageFetcher struct {
	ssrfGuard SSRFValidator
	sanitizer Sanitizer
	logger    *slog.Logger
	opts      Options
}

// NewPageFetcher はPageFetcherの新しいインスタンスを生成する。
func NewPageFetcher(ssrfGuard SSRFValidator, sanitizer Sanitizer, logger *slog.Logger, opts Options) *PageFetcher {
	return &PageFetcher{
		ssrfGuard: ssrfGuard,
		sanitizer: sanitizer,
		logger:    logger,
		opts:      opts,
	}
}

// Type はソース種別を返す。
func (f *PageFetcher) Type() model.SourceType {
	return model.SourceTypeOther
}

// Fetch はページ本体からコンテンツ項目を抽出する。
func (f *PageFetcher) Fetch(ctx context.Context, source model.Source) ([]model.ContentItem, error) {
	start := time.Now()

	body, _, err := fetchBody(ctx, f.ssrfGuard, source.Identifier, "text/html, */*", f.opts)
	if err != nil {
		f.logger.Error("ページの取得に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("url", source.Identifier),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	item, err := scrapePage(body, source, model.SourceTypeOther, f.sanitizer)
	if err != nil {
		f.logger.Error("ページ本体の抽出に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("url", source.Identifier),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	f.logger.Info("ページフェッチが完了しました",
		slog.String("source_id", source.ID),
		slog.String("url", source.Identifier),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return []model.ContentItem{item}, nil
}

// scrapePage はHTMLからタイトルとサマリーを抽出して1件のContentItemを生成する。
// タイトル: og:title > titleタグ > 最初のh1
// サマリー: meta description > og:description > 最初の十分な長さの段落
func scrapePage(body []byte, source model.Source, sourceType model.SourceType, sanitizer Sanitizer) (model.ContentItem, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return model.ContentItem{}, fmt.Errorf("HTMLパース失敗: %w", err)
	}

	title := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}

	summary := strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", ""))
	if summary == "" {
		summary = strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", ""))
	}
	if summary == "" {
		doc.Find("article p, main p, p").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			text := strings.TrimSpace(sel.Text())
			if len(text) >= minParagraphLength {
				summary = text
				return false
			}
			return true
		})
	}

	sourceName := source.DisplayName
	if sourceName == "" {
		sourceName = title
	}

	item := model.ContentItem{
		SourceID:   source.ID,
		SourceType: sourceType,
		SourceName: sourceName,
		Title:      sanitizer.Plain(title),
		URL:        source.Identifier,
		Summary:    sanitizer.Plain(summary),
	}
	if !item.HasContent() {
		return model.ContentItem{}, fmt.Errorf("ページからタイトルもサマリーも抽出できませんでした: %s", source.Identifier)
	}

	return item, nil
}
