// Package pipeline はコンテンツ集約から草稿合成までの実行フローを提供する。
// 全アクティブソースの並列フェッチ、正規化、モデル合成を1回の実行として束ねる。
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/creatorpulse/internal/fetcher"
	"github.com/hitoshi/creatorpulse/internal/model"
)

// FetcherResolver はソース種別からフェッチャーを解決するインターフェース。
type FetcherResolver interface {
	Lookup(t model.SourceType) (fetcher.SourceFetcher, error)
}

// Normalizer は正規化処理のインターフェース。
type Normalizer interface {
	Normalize(items []model.ContentItem, now time.Time) []model.ContentItem
}

// Synthesizer は草稿合成のインターフェース。
type Synthesizer interface {
	Synthesize(ctx context.Context, items []model.ContentItem) (*model.Draft, error)
}

// Metrics はパイプライン実行の計測インターフェース。
type Metrics interface {
	ObserveFetch(sourceType string, success bool, duration time.Duration)
	ObserveSynthesis(success bool, duration time.Duration)
}

// Options はパイプライン実行の動作設定。
type Options struct {
	FetchTimeout   time.Duration // フェッチ1件あたりのタイムアウト
	OverallTimeout time.Duration // フェッチフェーズ全体のデッドライン
	MaxConcurrent  int           // 同時フェッチ数の上限
}

// Result は1回のパイプライン実行の結果。
// 一部ソースのフェッチ失敗は実行全体を失敗させず、SourceErrorsに集約される。
// 部分的なカバレッジを利用者に警告するかは呼び出し側の判断に委ねる。
type Result struct {
	Draft        *model.Draft
	Items        []model.ContentItem
	SourceErrors []*model.FetchError
}

// Pipeline はコンテンツ集約・草稿合成パイプラインの実行を行う。
type Pipeline struct {
	resolver    FetcherResolver
	normalizer  Normalizer
	synthesizer Synthesizer
	metrics     Metrics
	logger      *slog.Logger
	opts        Options
}

// NewPipeline はPipelineの新しいインスタンスを生成する。
func NewPipeline(resolver FetcherResolver, normalizer Normalizer, synthesizer Synthesizer, metrics Metrics, logger *slog.Logger, opts Options) *Pipeline {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	return &Pipeline{
		resolver:    resolver,
		normalizer:  normalizer,
		synthesizer: synthesizer,
		metrics:     metrics,
		logger:      logger,
		opts:        opts,
	}
}

// Run はアクティブソースからのフェッチ、正規化、合成を実行する。
// 全ソースのフェッチが失敗した場合や合成が失敗した場合はエラーを返す。
// 一部のフェッチ失敗では残りのソースで処理を継続する。
func (p *Pipeline) Run(ctx context.Context, sources []model.Source) (*Result, error) {
	start := time.Now()

	active := make([]model.Source, 0, len(sources))
	for _, src := range sources {
		if src.Active {
			active = append(active, src)
		}
	}
	if len(active) == 0 {
		return nil, model.NewNoActiveSourcesError()
	}

	items, fetchErrs := p.fetchAll(ctx, active)

	p.logger.Info("フェッチフェーズが完了しました",
		slog.Int("source_count", len(active)),
		slog.Int("failed_sources", len(fetchErrs)),
		slog.Int("items_total", len(items)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	normalized := p.normalizer.Normalize(items, time.Now().UTC())
	if len(normalized) == 0 {
		return &Result{SourceErrors: fetchErrs}, model.NewNoContentError()
	}

	synthStart := time.Now()
	draft, err := p.synthesizer.Synthesize(ctx, normalized)
	if p.metrics != nil {
		p.metrics.ObserveSynthesis(err == nil, time.Since(synthStart))
	}
	if err != nil {
		return &Result{Items: normalized, SourceErrors: fetchErrs}, err
	}

	p.logger.Info("パイプライン実行が完了しました",
		slog.Int("items_normalized", len(normalized)),
		slog.Int("sources_used", len(draft.SourcesUsed)),
		slog.Int("draft_chars", len(draft.Text)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return &Result{Draft: draft, Items: normalized, SourceErrors: fetchErrs}, nil
}

// fetchAll は全アクティブソースをsemaphoreパターンで並列フェッチする。
// フェッチフェーズ全体のデッドライン到達時は未完了のフェッチを放棄し、
// その時点までに到着した結果のみを返す。
func (p *Pipeline) fetchAll(ctx context.Context, sources []model.Source) ([]model.ContentItem, []*model.FetchError) {
	fetchCtx := ctx
	cancel := context.CancelFunc(func() {})
	if p.opts.OverallTimeout > 0 {
		fetchCtx, cancel = context.WithTimeout(ctx, p.opts.OverallTimeout)
	}
	defer cancel()

	var mu sync.Mutex
	var items []model.ContentItem
	var fetchErrs []*model.FetchError

	sem := make(chan struct{}, p.opts.MaxConcurrent)
	var wg sync.WaitGroup

	for _, src := range sources {
		wg.Add(1)
		go func(src model.Source) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-fetchCtx.Done():
				// デッドライン到達: このソースは結果から除外される
				mu.Lock()
				fetchErrs = append(fetchErrs, model.NewFetchError(src.ID, fetchCtx.Err()))
				mu.Unlock()
				return
			}

			fetched, err := p.fetchOne(fetchCtx, src)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fetchErrs = append(fetchErrs, model.NewFetchError(src.ID, err))
				return
			}
			items = append(items, fetched...)
		}(src)
	}

	// 全フェッチの完了またはデッドライン到達を待つ
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-fetchCtx.Done():
		p.logger.Warn("フェッチフェーズがデッドラインに到達したため未完了のフェッチを放棄します",
			slog.String("error", fetchCtx.Err().Error()),
		)
	}

	mu.Lock()
	defer mu.Unlock()
	snapshotItems := make([]model.ContentItem, len(items))
	copy(snapshotItems, items)
	snapshotErrs := make([]*model.FetchError, len(fetchErrs))
	copy(snapshotErrs, fetchErrs)
	return snapshotItems, snapshotErrs
}

// fetchOne は単一ソースをフェッチする。
// フェッチ1件ごとのタイムアウトを適用し、失敗をソース単位で分離する。
func (p *Pipeline) fetchOne(ctx context.Context, src model.Source) ([]model.ContentItem, error) {
	f, err := p.resolver.Lookup(src.Type)
	if err != nil {
		return nil, err
	}

	if p.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.FetchTimeout)
		defer cancel()
	}

	start := time.Now()
	items, err := f.Fetch(ctx, src)
	if p.metrics != nil {
		p.metrics.ObserveFetch(string(src.Type), err == nil, time.Since(start))
	}
	return items, err
}
