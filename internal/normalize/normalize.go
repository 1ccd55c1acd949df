// Package normalize はフェッチ結果の正規化・重複排除・ランキングを提供する。
// 複数ソースのフェッチ出力を1つの正規化済み項目リストに統合する。
package normalize

import (
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// Options は正規化処理の動作設定。
type Options struct {
	RecencyWindow time.Duration // この期間より古い項目は破棄する
	MaxItems      int           // 出力の最大項目数
}

// Normalizer はコンテンツ項目の正規化処理を行う。
type Normalizer struct {
	opts Options
}

// NewNormalizer はNormalizerの新しいインスタンスを生成する。
func NewNormalizer(opts Options) *Normalizer {
	return &Normalizer{opts: opts}
}

// Normalize は全フェッチャーの出力を統合して正規化済み項目リストを生成する。
// 処理順序:
//  1. 鮮度ウィンドウより古い項目を破棄
//  2. 類似キー（正規化タイトル + 正規化URL）で重複排除（先着優先）
//  3. 公開日時の降順でソート（同時刻はソースID、タイトルの辞書順）
//  4. 最大項目数に切り詰め（ソース多様性を優先）
//
// 同一入力に対して常に同一出力を返す（バイト単位で再現可能）。
func (n *Normalizer) Normalize(items []model.ContentItem, now time.Time) []model.ContentItem {
	// 1. 鮮度フィルタ: 公開日時のない項目は破棄せず残す
	cutoff := now.Add(-n.opts.RecencyWindow)
	fresh := make([]model.ContentItem, 0, len(items))
	for _, item := range items {
		if n.opts.RecencyWindow > 0 && item.PublishedAt != nil && item.PublishedAt.Before(cutoff) {
			continue
		}
		fresh = append(fresh, item)
	}

	// 2. 重複排除: 入力順で最初に現れた項目を採用する
	seen := make(map[string]struct{}, len(fresh))
	deduped := make([]model.ContentItem, 0, len(fresh))
	for _, item := range fresh {
		key := similarityKey(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, item)
	}

	// 3. ソート: 公開日時の降順、公開日時なしは末尾
	sort.SliceStable(deduped, func(i, j int) bool {
		return lessByRecency(&deduped[i], &deduped[j])
	})

	// 4. 切り詰め: ソース多様性を優先
	if n.opts.MaxItems > 0 && len(deduped) > n.opts.MaxItems {
		deduped = truncateWithDiversity(deduped, n.opts.MaxItems)
	}

	return deduped
}

// lessByRecency は公開日時の降順比較を行う。
// 同時刻（または両方nil）の場合はソースID、タイトルの辞書順で決定的に順序付ける。
func lessByRecency(a, b *model.ContentItem) bool {
	switch {
	case a.PublishedAt == nil && b.PublishedAt == nil:
		// 両方日時なし: 辞書順
	case a.PublishedAt == nil:
		return false
	case b.PublishedAt == nil:
		return true
	case !a.PublishedAt.Equal(*b.PublishedAt):
		return a.PublishedAt.After(*b.PublishedAt)
	}

	if a.SourceID != b.SourceID {
		return a.SourceID < b.SourceID
	}
	return a.Title < b.Title
}

// similarityKey は重複判定用の類似キーを計算する。
// 正規化タイトル（小文字化 + 記号除去）と正規化URL（ホスト + パス）を結合する。
func similarityKey(item model.ContentItem) string {
	return normalizeTitle(item.Title) + "|" + canonicalURL(item.URL)
}

// normalizeTitle はタイトルを小文字化し、記号を除去し、空白を単一スペースに圧縮する。
func normalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))

	lastSpace := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		default:
			// 記号は除去
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// canonicalURL はURLをホスト + パスに正規化する。
// スキーム、クエリ、フラグメント、末尾スラッシュ、wwwプレフィックスの差異を吸収する。
func canonicalURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(rawURL))
	}

	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	path := strings.TrimRight(u.Path, "/")
	return host + path
}

// truncateWithDiversity はソース多様性を保ちながら項目リストを切り詰める。
// ソース1件あたりの採用数を ceil(maxItems / ソース数) に制限した後、
// 残り枠を鮮度順で補充する。入力は鮮度降順でソート済みであること。
func truncateWithDiversity(items []model.ContentItem, maxItems int) []model.ContentItem {
	distinct := make(map[string]struct{})
	for _, item := range items {
		distinct[item.SourceID] = struct{}{}
	}

	perSourceCap := (maxItems + len(distinct) - 1) / len(distinct)

	taken := make([]model.ContentItem, 0, maxItems)
	skipped := make([]model.ContentItem, 0, len(items))
	counts := make(map[string]int, len(distinct))

	for _, item := range items {
		if len(taken) >= maxItems {
			break
		}
		if counts[item.SourceID] >= perSourceCap {
			skipped = append(skipped, item)
			continue
		}
		counts[item.SourceID]++
		taken = append(taken, item)
	}

	// 残り枠をスキップ分から鮮度順で補充
	for _, item := range skipped {
		if len(taken) >= maxItems {
			break
		}
		taken = append(taken, item)
	}

	// 補充後も出力全体を鮮度降順に保つ
	sort.SliceStable(taken, func(i, j int) bool {
		return lessByRecency(&taken[i], &taken[j])
	})

	return taken
}
