// Package mail はSMTP経由のメール送信機能を提供する。
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// Config はSMTP接続の設定。
type Config struct {
	Server    string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// SMTPMailer はSTARTTLSを使用するSMTPメーラー。
// メッセージはtext/plainとtext/htmlのmultipart/alternative形式で構築される。
type SMTPMailer struct {
	cfg    Config
	logger *slog.Logger
}

// NewSMTPMailer はSMTPMailerの新しいインスタンスを生成する。
func NewSMTPMailer(cfg Config, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, logger: logger}
}

// Send は1通のメールを送信する。
// 接続、STARTTLS、認証、送信を1回の呼び出しで行う。
// コンテキストのデッドラインは接続タイムアウトとして適用される。
func (m *SMTPMailer) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	start := time.Now()
	addr := net.JoinHostPort(m.cfg.Server, fmt.Sprintf("%d", m.cfg.Port))

	dialer := &net.Dialer{Timeout: m.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("SMTPサーバーへの接続に失敗しました: %w", err)
	}

	if m.cfg.Timeout > 0 {
		deadline := time.Now().Add(m.cfg.Timeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.Server)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SMTPクライアントの初期化に失敗しました: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Server}); err != nil {
		return fmt.Errorf("STARTTLSに失敗しました: %w", err)
	}

	auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Server)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP認証に失敗しました: %w", err)
	}

	if err := client.Mail(m.cfg.FromEmail); err != nil {
		return fmt.Errorf("送信元の指定に失敗しました: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("宛先の指定に失敗しました: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("メッセージ送信の開始に失敗しました: %w", err)
	}
	msg := buildMessage(m.cfg.FromName, m.cfg.FromEmail, to, subject, textBody, htmlBody)
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("メッセージの書き込みに失敗しました: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("メッセージの送信に失敗しました: %w", err)
	}

	if err := client.Quit(); err != nil {
		m.logger.Warn("SMTP QUITに失敗しました", slog.String("error", err.Error()))
	}

	m.logger.Info("メールを送信しました",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// multipartBoundary はmultipart/alternativeの境界文字列。
// 本文に現れない十分に特異な固定値を使用する。
const multipartBoundary = "=_creatorpulse_boundary_7f2a9c"

// buildMessage はRFC 5322形式のメールメッセージを構築する。
// text/plainとtext/htmlの両方が指定された場合はmultipart/alternativeとなり、
// HTMLパートを後に置くことでHTML対応クライアントに優先表示させる。
func buildMessage(fromName, fromEmail, to, subject, textBody, htmlBody string) string {
	var b strings.Builder

	from := fromEmail
	if fromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", fromName), fromEmail)
	}

	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")

	switch {
	case textBody != "" && htmlBody != "":
		b.WriteString("Content-Type: multipart/alternative; boundary=\"" + multipartBoundary + "\"\r\n\r\n")

		b.WriteString("--" + multipartBoundary + "\r\n")
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(textBody + "\r\n\r\n")

		b.WriteString("--" + multipartBoundary + "\r\n")
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(htmlBody + "\r\n\r\n")

		b.WriteString("--" + multipartBoundary + "--\r\n")

	case htmlBody != "":
		b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
		b.WriteString(htmlBody + "\r\n")

	default:
		b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		b.WriteString(textBody + "\r\n")
	}

	return b.String()
}
