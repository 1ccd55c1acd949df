package synth

import (
	"fmt"
	"html"
	"strings"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// fallbackMaxItems はフォールバックレポートに含める最大項目数。
const fallbackMaxItems = 30

// FallbackHTML は項目リストから単純なリンク一覧のHTMLレポートを生成する。
// モデル合成が失敗した場合に呼び出し側が明示的に使用する最終手段であり、
// Synthesizerが暗黙に返すことはない。
func FallbackHTML(items []model.ContentItem) string {
	limited := items
	if len(limited) > fallbackMaxItems {
		limited = limited[:fallbackMaxItems]
	}

	var list strings.Builder
	for _, item := range limited {
		published := ""
		if item.PublishedAt != nil {
			published = item.PublishedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		list.WriteString(fmt.Sprintf(
			"<li>[%s] <a href=\"%s\">%s</a> <small>%s</small></li>\n",
			html.EscapeString(item.SourceName),
			html.EscapeString(item.URL),
			html.EscapeString(item.Title),
			html.EscapeString(published),
		))
	}

	return strings.TrimSpace(fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <title>CreatorPulse Fallback Report</title>
    <style>
        body { font-family: sans-serif; line-height: 1.6; }
        ul { list-style-type: none; padding-left: 0; }
        li { margin-bottom: 10px; }
        a { text-decoration: none; color: #0066cc; }
        small { color: #888; }
    </style>
</head>
<body>
    <h1>CreatorPulse Fallback Report</h1>
    <p>The language model failed to generate a report. Here is a raw list of the latest items:</p>
    <h2>Latest</h2>
    <ul>%s</ul>
</body>
</html>`, list.String()))
}
