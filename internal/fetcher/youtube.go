package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// defaultYouTubeFeedEndpoint はチャンネルのアップロードフィードのエンドポイントテンプレート。
const defaultYouTubeFeedEndpoint = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// channelIDPattern はYouTubeチャンネルIDの形式（UC + 22文字）。
var channelIDPattern = regexp.MustCompile(`^UC[\w-]{22}$`)

// YouTubeFetcher はYouTubeチャンネルの新着動画をアップロードフィード経由で取得する。
// APIキー不要の公開Atomフィードを使用する。
// ハンドルURL（@name）やカスタムURLはチャンネルページのメタタグから
// チャンネルIDに解決される。
type YouTubeFetcher struct {
	ssrfGuard    SSRFValidator
	sanitizer    Sanitizer
	logger       *slog.Logger
	opts         Options
	feedEndpoint string // テスト用にエンドポイントテンプレートを差し替え可能
}

// NewYouTubeFetcher はYouTubeFetcherの新しいインスタンスを生成する。
func NewYouTubeFetcher(ssrfGuard SSRFValidator, sanitizer Sanitizer, logger *slog.Logger, opts Options) *YouTubeFetcher {
	return &YouTubeFetcher{
		ssrfGuard:    ssrfGuard,
		sanitizer:    sanitizer,
		logger:       logger,
		opts:         opts,
		feedEndpoint: defaultYouTubeFeedEndpoint,
	}
}

// Type はソース種別を返す。
func (f *YouTubeFetcher) Type() model.SourceType {
	return model.SourceTypeYouTube
}

// Fetch はチャンネルの新着動画をコンテンツ項目として取得する。
func (f *YouTubeFetcher) Fetch(ctx context.Context, source model.Source) ([]model.ContentItem, error) {
	start := time.Now()

	channelID, err := f.resolveChannelID(ctx, source.Identifier)
	if err != nil {
		f.logger.Error("チャンネルIDの解決に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("identifier", source.Identifier),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	feedURL := fmt.Sprintf(f.feedEndpoint, channelID)
	body, _, err := fetchBody(ctx, f.ssrfGuard, feedURL, feedAccept, f.opts)
	if err != nil {
		f.logger.Error("アップロードフィードの取得に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	parser := gofeed.NewParser()
	parsedFeed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("アップロードフィードのパース失敗: %w", err)
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
		item := convertFeedEntry(entry, source, model.SourceTypeYouTube, sourceName, f.sanitizer)
		if !item.HasContent() {
			continue
		}
		items = append(items, item)
	}

	f.logger.Info("YouTubeフェッチが完了しました",
		slog.String("source_id", source.ID),
		slog.String("channel_id", channelID),
		slog.Int("items_total", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return capItems(items, f.opts.MaxItems), nil
}

// resolveChannelID は識別子をチャンネルIDに解決する。
// チャンネルIDそのもの、/channel/ を含むURLは直接解決し、
// それ以外のURL（ハンドル、カスタムURL）はページを取得してメタタグから解決する。
func (f *YouTubeFetcher) resolveChannelID(ctx context.Context, identifier string) (string, error) {
	id := strings.TrimSpace(identifier)
	if channelIDPattern.MatchString(id) {
		return id, nil
	}

	if extracted := extractChannelIDFromURL(id); extracted != "" {
		return extracted, nil
	}

	if !isHTTPURL(id) {
		// ハンドル名のみが指定された場合はチャンネルページURLを組み立てる
		handle := strings.TrimPrefix(id, "@")
		if handle == "" {
			return "", fmt.Errorf("チャンネル識別子が不正です: %q", identifier)
		}
		id = "https://www.youtube.com/@" + handle
	}

	body, _, err := fetchBody(ctx, f.ssrfGuard, id, "text/html, */*", f.opts)
	if err != nil {
		return "", fmt.Errorf("チャンネルページの取得に失敗: %w", err)
	}

	channelID := extractChannelIDFromHTML(body)
	if channelID == "" {
		return "", fmt.Errorf("チャンネルページからチャンネルIDを検出できませんでした: %s", id)
	}
	return channelID, nil
}

// extractChannelIDFromURL はURLパスの /channel/ セグメントからチャンネルIDを抽出する。
func extractChannelIDFromURL(rawURL string) string {
	idx := strings.Index(rawURL, "/channel/")
	if idx < 0 {
		return ""
	}
	rest := rawURL[idx+len("/channel/"):]
	if end := strings.IndexAny(rest, "/?#"); end >= 0 {
		rest = rest[:end]
	}
	if channelIDPattern.MatchString(rest) {
		return rest
	}
	return ""
}

// extractChannelIDFromHTML はチャンネルページのHTMLからチャンネルIDを抽出する。
// og:urlメタタグとcanonicalリンクの順で検索する。
func extractChannelIDFromHTML(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)
			if tagName == "body" {
				// メタタグはheadにのみ存在する
				return ""
			}
			if (tagName != "meta" && tagName != "link") || !hasAttr {
				continue
			}

			var property, rel, content, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "property":
					property = strings.ToLower(string(val))
				case "rel":
					rel = strings.ToLower(string(val))
				case "content":
					content = string(val)
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			if tagName == "meta" && property == "og:url" {
				if id := extractChannelIDFromURL(content); id != "" {
					return id
				}
			}
			if tagName == "link" && rel == "canonical" {
				if id := extractChannelIDFromURL(href); id != "" {
					return id
				}
			}
		}
	}
}
