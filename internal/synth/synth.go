// Package synth は正規化済み項目からのニュースレター草稿合成を提供する。
// 言語モデルバックエンドへの呼び出し、リトライ、出力検証を行う。
package synth

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// Completer は言語モデルバックエンドのインターフェース。
// バックエンドの種類によらず失敗とタイムアウトは一様に扱われる。
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options は合成処理の動作設定。
type Options struct {
	MaxRetries    int           // モデル呼び出しの最大試行回数
	RetryDelay    time.Duration // 試行間の待機時間
	PromptBudget  int           // プロンプトの最大文字数
	DraftMaxLen   int           // 草稿の最大文字数（超過分は切り捨て）
	SourceWeights map[string]float64
}

// Synthesizer はニュースレター草稿の合成を行う。
type Synthesizer struct {
	completer Completer
	logger    *slog.Logger
	opts      Options
}

// NewSynthesizer はSynthesizerの新しいインスタンスを生成する。
func NewSynthesizer(completer Completer, logger *slog.Logger, opts Options) *Synthesizer {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	return &Synthesizer{
		completer: completer,
		logger:    logger,
		opts:      opts,
	}
}

// Synthesize は正規化済み項目リストから草稿を合成する。
// 空の項目リスト、リトライ後も失敗するモデル呼び出し、空の応答は
// いずれもSynthesisErrorとなる。劣化した草稿が返されることはない。
func (s *Synthesizer) Synthesize(ctx context.Context, items []model.ContentItem) (*model.Draft, error) {
	if len(items) == 0 {
		return nil, &model.SynthesisError{Reason: "合成対象の項目がありません"}
	}

	ranked := rankItems(items, s.opts.SourceWeights, time.Now().UTC())
	ranked = trimLeastRecent(ranked, s.opts.PromptBudget)
	prompt := buildPrompt(ranked, s.opts.PromptBudget)

	text, err := s.completeWithRetry(ctx, prompt)
	if err != nil {
		return nil, err
	}

	text = stripCodeFence(text)
	if text == "" {
		return nil, &model.SynthesisError{Reason: "モデルが空の応答を返しました"}
	}
	if s.opts.DraftMaxLen > 0 && len(text) > s.opts.DraftMaxLen {
		s.logger.Warn("草稿が最大文字数を超えたため切り詰めます",
			slog.Int("length", len(text)),
			slog.Int("max_length", s.opts.DraftMaxLen),
		)
		text = truncateOnRuneBoundary(text, s.opts.DraftMaxLen)
	}

	return &model.Draft{
		Text:        text,
		SourcesUsed: collectSourceIDs(items),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// completeWithRetry はモデル呼び出しを最大試行回数までリトライする。
// コンテキストのキャンセルは即座に中断する。
func (s *Synthesizer) completeWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= s.opts.MaxRetries; attempt++ {
		text, err := s.completer.Complete(ctx, prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text), nil
		}

		if err != nil {
			lastErr = err
			s.logger.Warn("モデル呼び出しに失敗しました",
				slog.Int("attempt", attempt),
				slog.Int("max_retries", s.opts.MaxRetries),
				slog.String("error", err.Error()),
			)
		} else {
			s.logger.Warn("モデルが空の応答を返しました",
				slog.Int("attempt", attempt),
				slog.Int("max_retries", s.opts.MaxRetries),
			)
		}

		if ctx.Err() != nil {
			return "", &model.SynthesisError{Reason: "モデル呼び出しが中断されました", Cause: ctx.Err()}
		}
		if attempt < s.opts.MaxRetries && s.opts.RetryDelay > 0 {
			select {
			case <-time.After(s.opts.RetryDelay):
			case <-ctx.Done():
				return "", &model.SynthesisError{Reason: "モデル呼び出しが中断されました", Cause: ctx.Err()}
			}
		}
	}

	return "", &model.SynthesisError{Reason: "リトライ上限に達しました", Cause: lastErr}
}

// stripCodeFence はモデル応答を囲むMarkdownコードフェンスを除去する。
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```html") {
		text = text[len("```html"):]
	} else if strings.HasPrefix(text, "```") {
		text = text[len("```"):]
	}
	if strings.HasSuffix(text, "```") {
		text = text[:len(text)-len("```")]
	}
	return strings.TrimSpace(text)
}

// truncateOnRuneBoundary はテキストをmaxLenバイト以下に切り詰める。
// マルチバイト文字の途中で切断しないよう、ルーン境界まで戻る。
func truncateOnRuneBoundary(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// collectSourceIDs は項目を提供した全ソースIDを昇順の重複なしリストで返す。
// モデルがどの項目を参照したかは判定できないため、項目セット内の
// 全ソースを「使用された」とみなす。
func collectSourceIDs(items []model.ContentItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.SourceID]; ok {
			continue
		}
		seen[item.SourceID] = struct{}{}
		ids = append(ids, item.SourceID)
	}
	sort.Strings(ids)
	return ids
}

// rankItems は項目をスコアの降順に並べ替える。
// スコア = ソース固有スコア + 鮮度ボーナス（48時間以内を優遇）+ ソース種別の重み。
func rankItems(items []model.ContentItem, weights map[string]float64, now time.Time) []model.ContentItem {
	ranked := make([]model.ContentItem, len(items))
	copy(ranked, items)

	sort.SliceStable(ranked, func(i, j int) bool {
		return itemScore(&ranked[i], weights, now) > itemScore(&ranked[j], weights, now)
	})
	return ranked
}

// itemScore は1項目のランキングスコアを計算する。
func itemScore(item *model.ContentItem, weights map[string]float64, now time.Time) float64 {
	ageHours := 0.0
	if item.PublishedAt != nil {
		age := now.Sub(*item.PublishedAt).Hours()
		if age > 0 {
			ageHours = age
		}
	}

	recencyBonus := 48.0 - ageHours
	if recencyBonus < 0 {
		recencyBonus = 0
	}

	weight := weights[string(item.SourceType)]
	return item.Score + recencyBonus + weight
}
