package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/creatorpulse/internal/delivery"
	"github.com/hitoshi/creatorpulse/internal/dispatch"
	"github.com/hitoshi/creatorpulse/internal/fetcher"
	"github.com/hitoshi/creatorpulse/internal/metrics"
	"github.com/hitoshi/creatorpulse/internal/middleware"
	"github.com/hitoshi/creatorpulse/internal/model"
	"github.com/hitoshi/creatorpulse/internal/normalize"
	"github.com/hitoshi/creatorpulse/internal/pipeline"
	"github.com/hitoshi/creatorpulse/internal/security"
	"github.com/hitoshi/creatorpulse/internal/synth"
)

const integrationToken = "integration-test-token"

// localOnlySSRFGuard はループバック宛のみ許可するテスト用SSRF検証。
// 外部ホスト（reddit.com等）への実アクセスを遮断しつつ、httptestサーバーを許可する。
type localOnlySSRFGuard struct{}

func (g *localOnlySSRFGuard) ValidateURL(rawURL string) error {
	if strings.Contains(rawURL, "127.0.0.1") || strings.Contains(rawURL, "localhost") {
		return nil
	}
	return errors.New("外部ホストへのアクセスは許可されていません")
}

func (g *localOnlySSRFGuard) NewSafeClient(timeout time.Duration, _ int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

// recordingMailer は送信内容を記録するテスト用Mailer。
type recordingMailer struct {
	mu   sync.Mutex
	sent []string
}

func (m *recordingMailer) Send(_ context.Context, to, _, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, to)
	return nil
}

// fixedCompleter は固定の草稿を返すテスト用Completer。
type fixedCompleter struct {
	draft string
}

func (c *fixedCompleter) Complete(_ context.Context, _ string) (string, error) {
	return c.draft, nil
}

// memNewsletterRepo はテスト用のインメモリニュースレターリポジトリ。
type memNewsletterRepo struct {
	mu          sync.Mutex
	newsletters map[string]*model.Newsletter
}

func (m *memNewsletterRepo) Create(_ context.Context, n *model.Newsletter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.newsletters[n.ID] = &cp
	return nil
}

func (m *memNewsletterRepo) FindByID(_ context.Context, id string) (*model.Newsletter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.newsletters[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (m *memNewsletterRepo) UpdateStatus(_ context.Context, id string, status model.NewsletterStatus, scheduledAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.newsletters[id]
	if !ok {
		return errors.New("not found")
	}
	n.Status = status
	n.ScheduledAt = scheduledAt
	return nil
}

func (m *memNewsletterRepo) UpdateContent(_ context.Context, id string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.newsletters[id]
	if !ok {
		return errors.New("not found")
	}
	n.Content = content
	return nil
}

// memSendJobRepo はテスト用のインメモリ送信ジョブリポジトリ。
type memSendJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.SendJob
}

func (m *memSendJobRepo) Create(_ context.Context, job *model.SendJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memSendJobRepo) FindByID(_ context.Context, id string) (*model.SendJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (m *memSendJobRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*model.SendJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*model.SendJob
	for _, job := range m.jobs {
		if job.Status == model.JobStatusPending && job.Mode == model.SendModeScheduled &&
			job.ScheduledFor != nil && !job.ScheduledFor.After(now) {
			cp := *job
			due = append(due, &cp)
			if len(due) >= limit {
				break
			}
		}
	}
	return due, nil
}

func (m *memSendJobRepo) CompleteIfPending(_ context.Context, job *model.SendJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.jobs[job.ID]
	if !ok {
		return false, errors.New("not found")
	}
	if stored.Status != model.JobStatusPending {
		return false, nil
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return true, nil
}

// integrationRSSBody は3件の最新記事を含むRSSフィードを生成する。
func integrationRSSBody(now time.Time) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>Tech Weekly</title>
<item><title>Go 1.25 Released</title><link>https://example.com/go-1-25</link><pubDate>%s</pubDate><description>新リリースの概要</description></item>
<item><title>Scaling Postgres</title><link>https://example.com/scaling-postgres</link><pubDate>%s</pubDate><description>スケーリングの実践</description></item>
<item><title>HTTP/3 in Production</title><link>https://example.com/http3</link><pubDate>%s</pubDate><description>本番導入の知見</description></item>
</channel>
</rss>`,
		now.Add(-1*time.Hour).Format(time.RFC1123Z),
		now.Add(-2*time.Hour).Format(time.RFC1123Z),
		now.Add(-3*time.Hour).Format(time.RFC1123Z),
	)
}

type integrationEnv struct {
	server *httptest.Server
	mailer *recordingMailer
	nlRepo *memNewsletterRepo
}

// newIntegrationEnv は実コンポーネントを組み合わせたテスト環境を構築する。
// LLMとSMTPのみモックし、フェッチ・正規化・合成・配信・HTTP層は実装をそのまま使う。
func newIntegrationEnv(t *testing.T) *integrationEnv {
	t.Helper()

	logger := newTestLogger()
	ssrfGuard := &localOnlySSRFGuard{}
	sanitizer := security.NewContentSanitizer()

	fetchOpts := fetcher.Options{
		Timeout:     5 * time.Second,
		MaxBodySize: 1 << 20,
		MaxItems:    20,
	}
	registry := fetcher.NewDefaultRegistry(ssrfGuard, sanitizer, logger, fetchOpts)

	normalizer := normalize.NewNormalizer(normalize.Options{
		RecencyWindow: 72 * time.Hour,
		MaxItems:      60,
	})

	synthesizer := synth.NewSynthesizer(
		&fixedCompleter{draft: "<html><body>週刊ドラフト</body></html>"},
		logger,
		synth.Options{MaxRetries: 1, PromptBudget: 100000, DraftMaxLen: 100000},
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	pl := pipeline.NewPipeline(registry, normalizer, synthesizer, collector, logger, pipeline.Options{
		FetchTimeout:   5 * time.Second,
		OverallTimeout: 10 * time.Second,
		MaxConcurrent:  4,
	})

	mailer := &recordingMailer{}
	engine := delivery.NewEngine(mailer, sanitizer, collector, logger, delivery.Options{
		MaxConcurrent: 2,
		SendTimeout:   5 * time.Second,
	})

	nlRepo := &memNewsletterRepo{newsletters: map[string]*model.Newsletter{
		"nl-1": {
			ID:      "nl-1",
			UserID:  "user-1",
			Title:   "週刊テックニュース",
			Content: "<html><body>本文</body></html>",
			Status:  model.NewsletterStatusDraft,
		},
	}}
	jobRepo := &memSendJobRepo{jobs: make(map[string]*model.SendJob)}
	scheduler := dispatch.NewScheduler(nlRepo, jobRepo, engine, logger)

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rateLimiter.Stop)

	router := NewRouter(&RouterDeps{
		Logger:            logger,
		CORSAllowedOrigin: "http://localhost:3000",
		APIToken:          integrationToken,
		RateLimiter:       rateLimiter,
		Gatherer:          reg,
		Pipeline:          pl,
		NewsletterContent: nlRepo,
		Scheduler:         scheduler,
		Resolver:          registry,
		Mailer:            mailer,
	})

	apiServer := httptest.NewServer(router)
	t.Cleanup(apiServer.Close)

	return &integrationEnv{
		server: apiServer,
		mailer: mailer,
		nlRepo: nlRepo,
	}
}

func (env *integrationEnv) post(t *testing.T, path string, body any, token string) *http.Response {
	t.Helper()

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		t.Fatalf("failed to encode body: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, env.server.URL+path, buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

// TestIntegration_HealthWithoutAuth は/healthが認証なしで応答することを検証する。
func TestIntegration_HealthWithoutAuth(t *testing.T) {
	env := newIntegrationEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

// TestIntegration_APIRequiresAuth は/api配下が認証なしで401を返すことを検証する。
func TestIntegration_APIRequiresAuth(t *testing.T) {
	env := newIntegrationEnv(t)

	resp := env.post(t, "/api/generate-draft", map[string]any{}, "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

// TestIntegration_GenerateDraftAndSend はフェッチから配信までの一連のフローを検証する。
// RSSソースは3件の記事を返し、Redditソースはアクセス遮断で失敗する。
// 草稿はRSSのみから合成され、2宛先への即時送信が成功する。
func TestIntegration_GenerateDraftAndSend(t *testing.T) {
	env := newIntegrationEnv(t)

	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, integrationRSSBody(time.Now()))
	}))
	t.Cleanup(feedServer.Close)
	rssURL := feedServer.URL

	// --- ドラフト生成 ---
	resp := env.post(t, "/api/generate-draft", map[string]any{
		"newsletter_id": "nl-1",
		"sources": []map[string]any{
			{"id": "src-rss", "type": "rss", "identifier": rssURL},
			{"id": "src-reddit", "type": "reddit", "identifier": "golang"},
		},
	}, integrationToken)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("generate-draft status = %d: %s", resp.StatusCode, body)
	}

	var draftResp generateDraftResponse
	if err := json.NewDecoder(resp.Body).Decode(&draftResp); err != nil {
		t.Fatalf("failed to decode draft response: %v", err)
	}
	if !strings.Contains(draftResp.Draft, "週刊ドラフト") {
		t.Errorf("draft = %q", draftResp.Draft)
	}
	if len(draftResp.SourcesUsed) != 1 || draftResp.SourcesUsed[0] != "src-rss" {
		t.Errorf("sources_used = %v, want [src-rss]", draftResp.SourcesUsed)
	}
	if len(draftResp.SourceErrors) != 1 || draftResp.SourceErrors[0].SourceID != "src-reddit" {
		t.Errorf("source_errors = %v, want src-reddit entry", draftResp.SourceErrors)
	}

	// 生成されたドラフトがニュースレターに保存されている
	nl, err := env.nlRepo.FindByID(context.Background(), "nl-1")
	if err != nil || nl == nil {
		t.Fatalf("failed to find newsletter: %v", err)
	}
	if !strings.Contains(nl.Content, "週刊ドラフト") {
		t.Errorf("newsletter content = %q", nl.Content)
	}

	// --- 即時送信 ---
	sendResp := env.post(t, "/api/send-newsletter", map[string]any{
		"newsletter_id":    "nl-1",
		"send_immediately": true,
		"recipients": []map[string]any{
			{"id": "c-1", "email": "a@example.com", "name": "Alice"},
			{"id": "c-2", "email": "b@example.com", "name": "Bob"},
		},
	}, integrationToken)
	defer sendResp.Body.Close()

	if sendResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(sendResp.Body)
		t.Fatalf("send-newsletter status = %d: %s", sendResp.StatusCode, body)
	}

	var sendResult sendNewsletterResponse
	if err := json.NewDecoder(sendResp.Body).Decode(&sendResult); err != nil {
		t.Fatalf("failed to decode send response: %v", err)
	}
	if !sendResult.Success || sendResult.Status != "sent" {
		t.Errorf("send result = %+v", sendResult)
	}
	if sendResult.RecipientsCount != 2 {
		t.Errorf("recipients_count = %d, want 2", sendResult.RecipientsCount)
	}

	env.mailer.mu.Lock()
	sentCount := len(env.mailer.sent)
	env.mailer.mu.Unlock()
	if sentCount != 2 {
		t.Errorf("sent mails = %d, want 2", sentCount)
	}

	// ニュースレター状態がsentに更新されている
	nl, err = env.nlRepo.FindByID(context.Background(), "nl-1")
	if err != nil || nl == nil {
		t.Fatalf("failed to find newsletter: %v", err)
	}
	if nl.Status != model.NewsletterStatusSent {
		t.Errorf("newsletter status = %q, want sent", nl.Status)
	}
}

// TestIntegration_PastScheduleRejected は過去時刻の予約が422で拒否され、副作用が残らないことを検証する。
func TestIntegration_PastScheduleRejected(t *testing.T) {
	env := newIntegrationEnv(t)

	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	resp := env.post(t, "/api/send-newsletter", map[string]any{
		"newsletter_id": "nl-1",
		"scheduled_for": past,
		"recipients": []map[string]any{
			{"id": "c-1", "email": "a@example.com"},
		},
	}, integrationToken)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 422: %s", resp.StatusCode, body)
	}

	env.mailer.mu.Lock()
	sentCount := len(env.mailer.sent)
	env.mailer.mu.Unlock()
	if sentCount != 0 {
		t.Errorf("sent mails = %d, want 0", sentCount)
	}

	nl, _ := env.nlRepo.FindByID(context.Background(), "nl-1")
	if nl.Status != model.NewsletterStatusDraft {
		t.Errorf("newsletter status = %q, want draft", nl.Status)
	}
}

// TestIntegration_MetricsEndpoint は/metricsが収集済みメトリクスを公開することを検証する。
func TestIntegration_MetricsEndpoint(t *testing.T) {
	env := newIntegrationEnv(t)

	resp, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
