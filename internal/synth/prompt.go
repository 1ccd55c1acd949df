package synth

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// promptHeader はニュースレター草稿生成の指示部。
// メールで読みやすい自己完結型HTMLを要求する。
var promptHeader = strings.Join([]string{
	"You are an expert news editor and technical report writer.",
	"Produce a FULL, self-contained newsletter in **HTML5 only** (do not use Markdown).",
	"Constraints and format:",
	"- Output a valid, standalone HTML document: include <!DOCTYPE html>, <html>, <head>, and <body>.",
	"- Add a <head> with a <style> block for clean, modern email-friendly formatting:",
	"    * Font: system-ui or sans-serif.",
	"    * Light background (#f9f9f9) with card-like white sections and subtle shadows.",
	"    * Use padding, spacing, and <h1>/<h2> headings for readability.",
	"- At the top: include an <h1> title and an **Executive Summary** (3-5 sentences).",
	"- Cluster and deduplicate: combine highly similar items into one topic section.",
	"- Each topic section should include:",
	"    * A short <h2> heading (the theme/topic).",
	"    * A descriptive summary (6-8 sentences).",
	"    * 5-8 key bullet takeaways (<ul><li>).",
	"    * A 'Read more' link to the best single source.",
	"- At the end: add a 'Key Takeaways' section in bullet points.",
	"- Keep tone precise, professional, and neutral (no hype).",
	"- Ensure everything is self-contained - no external CSS, JS, or links except for sources.",
	"Here is the data to use for the newsletter:",
}, "\n")

// buildPrompt は項目リストから構造化プロンプトを組み立てる。
// 入力はランキング済みかつtrimLeastRecentでバジェットへ削減済みであること。
// それでも超過する場合の最終ガードとして末尾の項目から削る。
func buildPrompt(items []model.ContentItem, budget int) string {
	var b strings.Builder
	b.WriteString(promptHeader)

	for _, item := range items {
		line := formatItemLine(item)
		if budget > 0 && b.Len()+len(line)+1 > budget {
			break
		}
		b.WriteByte('\n')
		b.WriteString(line)
	}

	return b.String()
}

// trimLeastRecent はプロンプトがバジェットに収まるまで、公開日時が
// 最も古い項目から除外する。残った項目の順序は保持される。
// バジェットが超過している間はスコアより鮮度を優先する。
func trimLeastRecent(items []model.ContentItem, budget int) []model.ContentItem {
	if budget <= 0 {
		return items
	}

	kept := make([]model.ContentItem, len(items))
	copy(kept, items)

	for len(kept) > 1 && promptSize(kept) > budget {
		oldest := 0
		for i := 1; i < len(kept); i++ {
			if publishedTime(kept[i]).Before(publishedTime(kept[oldest])) {
				oldest = i
			}
		}
		kept = append(kept[:oldest], kept[oldest+1:]...)
	}
	return kept
}

// promptSize は項目リストを描画した場合のプロンプト文字数を返す。
func promptSize(items []model.ContentItem) int {
	size := len(promptHeader)
	for _, item := range items {
		size += 1 + len(formatItemLine(item))
	}
	return size
}

// publishedTime は公開日時を返す。未設定の項目は最古として扱う。
func publishedTime(item model.ContentItem) time.Time {
	if item.PublishedAt == nil {
		return time.Time{}
	}
	return *item.PublishedAt
}

// formatItemLine は1項目をプロンプトの1行に整形する。
func formatItemLine(item model.ContentItem) string {
	published := "N/A"
	if item.PublishedAt != nil {
		published = item.PublishedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	summary := strings.TrimSpace(strings.ReplaceAll(item.Summary, "\n", " "))
	return fmt.Sprintf("- [source=%s] title=%s date=%s url=%s summary=%s",
		item.SourceName, item.Title, published, item.URL, summary)
}
