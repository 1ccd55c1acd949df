package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RankingConfig はソース種別ごとの重み付け設定を保持する。
// プロンプト構築時の項目順序付けに使用される。
type RankingConfig struct {
	// SourceWeights はソース種別（rss, reddit, youtube, blog, podcast, other）
	// ごとの重み。未指定の種別は0.0として扱う。
	SourceWeights map[string]float64 `yaml:"source_weights"`
}

// DefaultRankingConfig はデフォルトの重み付け設定を返す。
func DefaultRankingConfig() RankingConfig {
	return RankingConfig{
		SourceWeights: map[string]float64{
			"reddit":  10.0,
			"youtube": 7.0,
			"rss":     5.0,
			"blog":    5.0,
			"podcast": 5.0,
		},
	}
}

// LoadRanking はYAMLファイルからRankingConfigを読み込む。
// pathが空の場合はデフォルト設定を返す。
func LoadRanking(path string) (RankingConfig, error) {
	if path == "" {
		return DefaultRankingConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return RankingConfig{}, fmt.Errorf("ランキング設定ファイルの読み込みに失敗しました: %w", err)
	}

	var cfg RankingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return RankingConfig{}, fmt.Errorf("ランキング設定のパースに失敗しました: %w", err)
	}

	if cfg.SourceWeights == nil {
		cfg.SourceWeights = DefaultRankingConfig().SourceWeights
	}

	return cfg, nil
}
