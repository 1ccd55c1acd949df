package fetcher

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/hitoshi/creatorpulse/internal/model"
)

// mockSSRFGuard はテスト用のSSRF検証モック。
type mockSSRFGuard struct {
	validateErr error
}

func (m *mockSSRFGuard) NewSafeClient(timeout time.Duration, _ int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

func (m *mockSSRFGuard) ValidateURL(_ string) error {
	return m.validateErr
}

// passthroughSanitizer はテスト用のサニタイザーモック。入力をそのまま返す。
type passthroughSanitizer struct{}

func (passthroughSanitizer) Plain(raw string) string {
	return raw
}

// newTestLogger はテスト用のロガーを生成する。
func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, nil))
}

func testOptions() Options {
	return Options{
		Timeout:     5 * time.Second,
		MaxBodySize: 5 * 1024 * 1024,
		MaxItems:    20,
	}
}

func TestRegistry_Lookup(t *testing.T) {
	var buf bytes.Buffer
	reg := NewDefaultRegistry(&mockSSRFGuard{}, passthroughSanitizer{}, newTestLogger(&buf), testOptions())

	types := []model.SourceType{
		model.SourceTypeRSS,
		model.SourceTypeYouTube,
		model.SourceTypeReddit,
		model.SourceTypeBlog,
		model.SourceTypePodcast,
		model.SourceTypeOther,
	}
	for _, typ := range types {
		f, err := reg.Lookup(typ)
		if err != nil {
			t.Errorf("種別 %s のフェッチャーが見つからない: %v", typ, err)
			continue
		}
		if f.Type() != typ {
			t.Errorf("種別が一致しない: got %s, want %s", f.Type(), typ)
		}
	}
}

func TestRegistry_Lookup_UnsupportedType(t *testing.T) {
	var buf bytes.Buffer
	reg := NewDefaultRegistry(&mockSSRFGuard{}, passthroughSanitizer{}, newTestLogger(&buf), testOptions())

	if _, err := reg.Lookup(model.SourceType("twitter")); err == nil {
		t.Error("未サポート種別でエラーが返されるべき")
	}
}

func TestCapItems(t *testing.T) {
	items := make([]model.ContentItem, 10)
	for i := range items {
		items[i].Title = fmt.Sprintf("item %d", i)
	}

	capped := capItems(items, 3)
	if len(capped) != 3 {
		t.Errorf("最大件数制限が効いていない: got %d, want 3", len(capped))
	}

	// 0以下は無制限
	all := capItems(items, 0)
	if len(all) != 10 {
		t.Errorf("MaxItems=0 では全件返すべき: got %d", len(all))
	}
}
