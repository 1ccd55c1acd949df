package delivery

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
	"github.com/hitoshi/creatorpulse/internal/security"
)

// mockMailer はテスト用のMailerモック。宛先メールアドレスごとに失敗を設定できる。
type mockMailer struct {
	mu       sync.Mutex
	failFor  map[string]error
	sent     []string
	subjects []string
	html     []string
}

func (m *mockMailer) Send(_ context.Context, to, subject, _, htmlBody string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[to]; ok {
		return err
	}
	m.sent = append(m.sent, to)
	m.subjects = append(m.subjects, subject)
	m.html = append(m.html, htmlBody)
	return nil
}

func newTestLogger() *slog.Logger {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil))
}

func testEngine(mailer Mailer) *Engine {
	return NewEngine(mailer, nil, nil, newTestLogger(), Options{
		MaxConcurrent: 2,
		SendTimeout:   time.Second,
	})
}

func testJob(recipients ...model.Recipient) *model.SendJob {
	return &model.SendJob{
		ID:           "job-1",
		NewsletterID: "nl-1",
		Recipients:   recipients,
		Mode:         model.SendModeImmediate,
		Status:       model.JobStatusPending,
	}
}

func testNewsletter() *model.Newsletter {
	return &model.Newsletter{
		ID:      "nl-1",
		Title:   "週刊ニュースレター",
		Content: "<h1>Hello {{client_name}}!</h1><p>今週のまとめです。</p>",
		Status:  model.NewsletterStatusDraft,
	}
}

func TestDeliver_AllSucceed(t *testing.T) {
	mailer := &mockMailer{}
	e := testEngine(mailer)

	job := testJob(
		model.Recipient{ID: "r1", Email: "a@example.com", Name: "Alice"},
		model.Recipient{ID: "r2", Email: "b@example.com", Name: "Bob"},
	)
	got := e.Deliver(context.Background(), job, testNewsletter())

	if got.Status != model.JobStatusSent {
		t.Errorf("全成功時はsentであるべき: %s", got.Status)
	}
	if len(got.Results) != 2 {
		t.Fatalf("全宛先の結果が記録されるべき: got %d", len(got.Results))
	}
	for _, res := range got.Results {
		if res.Outcome != model.OutcomeDelivered {
			t.Errorf("宛先 %s の結果が不正: %s", res.RecipientID, res.Outcome)
		}
		if res.AttemptedAt.IsZero() {
			t.Error("試行日時が記録されるべき")
		}
	}
}

func TestDeliver_PartialFailure(t *testing.T) {
	// 3宛先中2番目のみ失敗するケース
	mailer := &mockMailer{failFor: map[string]error{
		"b@example.com": errors.New("mailbox full"),
	}}
	e := testEngine(mailer)

	job := testJob(
		model.Recipient{ID: "r1", Email: "a@example.com"},
		model.Recipient{ID: "r2", Email: "b@example.com"},
		model.Recipient{ID: "r3", Email: "c@example.com"},
	)
	got := e.Deliver(context.Background(), job, testNewsletter())

	if got.Status != model.JobStatusPartiallyFailed {
		t.Errorf("一部失敗時はpartially_failedであるべき: %s", got.Status)
	}

	delivered, failed := 0, 0
	for _, res := range got.Results {
		switch res.Outcome {
		case model.OutcomeDelivered:
			delivered++
		case model.OutcomeFailed:
			failed++
			if res.RecipientID != "r2" {
				t.Errorf("失敗宛先が一致しない: %s", res.RecipientID)
			}
			if !strings.Contains(res.Reason, "mailbox full") {
				t.Errorf("失敗理由が記録されるべき: %q", res.Reason)
			}
		}
	}
	if delivered != 2 || failed != 1 {
		t.Errorf("delivered=2, failed=1 であるべき: got %d/%d", delivered, failed)
	}
}

func TestDeliver_AllFail(t *testing.T) {
	mailer := &mockMailer{failFor: map[string]error{
		"a@example.com": errors.New("rejected"),
		"b@example.com": errors.New("rejected"),
	}}
	e := testEngine(mailer)

	job := testJob(
		model.Recipient{ID: "r1", Email: "a@example.com"},
		model.Recipient{ID: "r2", Email: "b@example.com"},
	)
	got := e.Deliver(context.Background(), job, testNewsletter())

	if got.Status != model.JobStatusFailed {
		t.Errorf("全失敗時はfailedであるべき: %s", got.Status)
	}
}

func TestDeliver_PersonalizesContent(t *testing.T) {
	mailer := &mockMailer{}
	e := testEngine(mailer)

	job := testJob(model.Recipient{ID: "r1", Email: "a@example.com", Name: "Alice"})
	e.Deliver(context.Background(), job, testNewsletter())

	if len(mailer.html) != 1 {
		t.Fatal("メールが送信されるべき")
	}
	if !strings.Contains(mailer.html[0], "Hello Alice!") {
		t.Errorf("宛先名が差し込まれるべき: %q", mailer.html[0])
	}
	if strings.Contains(mailer.html[0], "{{client_name}}") {
		t.Error("プレースホルダーが残っているべきでない")
	}
	if mailer.subjects[0] != "週刊ニュースレター" {
		t.Errorf("件名はニュースレタータイトルであるべき: %q", mailer.subjects[0])
	}
}

func TestDeliver_SanitizesHTMLBeforeSend(t *testing.T) {
	mailer := &mockMailer{}
	e := NewEngine(mailer, security.NewContentSanitizer(), nil, newTestLogger(), Options{
		MaxConcurrent: 1,
		SendTimeout:   time.Second,
	})

	nl := testNewsletter()
	nl.Content = "<p>こんにちは {{client_name}}</p><script>alert(1)</script><p onclick=\"x()\">まとめ</p>"

	job := testJob(model.Recipient{ID: "r1", Email: "a@example.com", Name: "Alice"})
	e.Deliver(context.Background(), job, nl)

	if len(mailer.html) != 1 {
		t.Fatal("メールが送信されるべき")
	}
	body := mailer.html[0]
	if strings.Contains(body, "<script>") || strings.Contains(body, "alert(1)") {
		t.Errorf("scriptタグが除去されるべき: %q", body)
	}
	if strings.Contains(body, "onclick") {
		t.Errorf("イベント属性が除去されるべき: %q", body)
	}
	if !strings.Contains(body, "こんにちは Alice") {
		t.Errorf("サニタイズ後も本文と差し込みが保持されるべき: %q", body)
	}
}

func TestDeliver_ResultsSortedByRecipientID(t *testing.T) {
	mailer := &mockMailer{}
	e := testEngine(mailer)

	job := testJob(
		model.Recipient{ID: "r3", Email: "c@example.com"},
		model.Recipient{ID: "r1", Email: "a@example.com"},
		model.Recipient{ID: "r2", Email: "b@example.com"},
	)
	got := e.Deliver(context.Background(), job, testNewsletter())

	for i := 1; i < len(got.Results); i++ {
		if got.Results[i-1].RecipientID > got.Results[i].RecipientID {
			t.Fatalf("結果は宛先IDの昇順であるべき: %v", got.Results)
		}
	}
}

func TestPersonalize_DefaultName(t *testing.T) {
	got := Personalize("Hi {{client_name}}", model.Recipient{ID: "r", Email: "a@example.com"})
	if got != "Hi Valued Client" {
		t.Errorf("名前未設定時はデフォルト名を使用すべき: %q", got)
	}
}

func TestAggregateStatus(t *testing.T) {
	cases := []struct {
		delivered, total int
		want             model.JobStatus
	}{
		{3, 3, model.JobStatusSent},
		{1, 3, model.JobStatusPartiallyFailed},
		{0, 3, model.JobStatusFailed},
	}
	for _, c := range cases {
		if got := aggregateStatus(c.delivered, c.total); got != c.want {
			t.Errorf("aggregateStatus(%d, %d) = %s, want %s", c.delivered, c.total, got, c.want)
		}
	}
}
