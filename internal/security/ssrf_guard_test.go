package security

import (
	"testing"
	"time"
)

func TestValidateURL_AllowsPublicHTTPS(t *testing.T) {
	g := NewSSRFGuard()

	if err := g.ValidateURL("https://example.com/feed.xml"); err != nil {
		t.Errorf("公開URLが拒否された: %v", err)
	}
}

func TestValidateURL_BlocksPrivateIP(t *testing.T) {
	g := NewSSRFGuard()

	cases := []string{
		"http://10.0.0.1/feed",
		"http://172.16.0.1/feed",
		"http://192.168.1.1/feed",
		"http://127.0.0.1/feed",
		"http://169.254.169.254/latest/meta-data",
	}
	for _, url := range cases {
		if err := g.ValidateURL(url); err == nil {
			t.Errorf("プライベート/メタデータIPが許可された: %s", url)
		}
	}
}

func TestValidateURL_BlocksLocalhost(t *testing.T) {
	g := NewSSRFGuard()

	if err := g.ValidateURL("http://localhost:8080/"); err == nil {
		t.Error("localhost が許可された")
	}
}

func TestValidateURL_BlocksMetadataHostname(t *testing.T) {
	g := NewSSRFGuard()

	if err := g.ValidateURL("http://metadata.google.internal/computeMetadata/v1/"); err == nil {
		t.Error("メタデータホスト名が許可された")
	}
}

func TestValidateURL_BlocksNonHTTPScheme(t *testing.T) {
	g := NewSSRFGuard()

	cases := []string{
		"ftp://example.com/file",
		"file:///etc/passwd",
		"gopher://example.com/",
	}
	for _, url := range cases {
		if err := g.ValidateURL(url); err == nil {
			t.Errorf("非HTTPスキームが許可された: %s", url)
		}
	}
}

func TestValidateURL_RejectsEmptyAndInvalid(t *testing.T) {
	g := NewSSRFGuard()

	if err := g.ValidateURL(""); err == nil {
		t.Error("空URLが許可された")
	}
	if err := g.ValidateURL("http://"); err == nil {
		t.Error("ホストなしURLが許可された")
	}
}

func TestNewSafeClient_ReturnsClient(t *testing.T) {
	g := NewSSRFGuard()

	client := g.NewSafeClient(10*time.Second, 1024*1024)
	if client == nil {
		t.Fatal("NewSafeClient は nil を返してはならない")
	}
}
