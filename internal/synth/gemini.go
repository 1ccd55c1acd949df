package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// defaultGeminiEndpoint はGemini APIのエンドポイントテンプレート。
const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"

// GeminiClient はGemini APIのCompleter実装。
// generateContentエンドポイントをHTTP経由で直接呼び出す。
type GeminiClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	apiKey     string
	model      string
	endpoint   string // テスト用にエンドポイントテンプレートを差し替え可能
}

// NewGeminiClient はGeminiClientの新しいインスタンスを生成する。
func NewGeminiClient(apiKey, model string, timeout time.Duration, logger *slog.Logger) *GeminiClient {
	return &GeminiClient{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		apiKey:     apiKey,
		model:      model,
		endpoint:   defaultGeminiEndpoint,
	}
}

// geminiRequest はgenerateContentのリクエストボディ。
type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

// geminiResponse はgenerateContentのレスポンスボディ。
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete はプロンプトをGemini APIに送信して応答テキストを返す。
// Completerインターフェースを実装する。
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()

	reqBody, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	url := fmt.Sprintf(c.endpoint, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("リクエスト作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Gemini APIへのリクエストに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("レスポンスの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Gemini APIがステータス %d を返しました", resp.StatusCode)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("レスポンスのパースに失敗しました: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("Gemini APIエラー: %s (%s)", parsed.Error.Message, parsed.Error.Status)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("Gemini APIが候補を返しませんでした")
	}

	var text bytes.Buffer
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	c.logger.Info("Gemini呼び出しが完了しました",
		slog.String("model", c.model),
		slog.Int("prompt_chars", len(prompt)),
		slog.Int("response_chars", text.Len()),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return text.String(), nil
}
