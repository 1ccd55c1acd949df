// Package app はアプリケーションの初期化と起動を行う。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/creatorpulse/internal/config"
	"github.com/hitoshi/creatorpulse/internal/database"
	"github.com/hitoshi/creatorpulse/internal/delivery"
	"github.com/hitoshi/creatorpulse/internal/dispatch"
	"github.com/hitoshi/creatorpulse/internal/fetcher"
	"github.com/hitoshi/creatorpulse/internal/handler"
	"github.com/hitoshi/creatorpulse/internal/logger"
	"github.com/hitoshi/creatorpulse/internal/mail"
	"github.com/hitoshi/creatorpulse/internal/metrics"
	"github.com/hitoshi/creatorpulse/internal/middleware"
	"github.com/hitoshi/creatorpulse/internal/normalize"
	"github.com/hitoshi/creatorpulse/internal/pipeline"
	"github.com/hitoshi/creatorpulse/internal/repository"
	"github.com/hitoshi/creatorpulse/internal/security"
	"github.com/hitoshi/creatorpulse/internal/synth"
	"github.com/hitoshi/creatorpulse/internal/worker/sendloop"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// buildServices はパイプライン・配信・ディスパッチの依存関係をワイヤリングする。
// serveとworkerの両モードで共通の構成を使う。
type services struct {
	registry   *fetcher.Registry
	pipeline   *pipeline.Pipeline
	mailer     *mail.SMTPMailer
	scheduler  *dispatch.Scheduler
	nlRepo     *repository.PostgresNewsletterRepo
	jobRepo    *repository.PostgresSendJobRepo
	collector  *metrics.Collector
	registerer *prometheus.Registry
}

func buildServices(cfg *config.Config, db *sql.DB) (*services, error) {
	log := slog.Default()

	// 1. リポジトリの初期化
	nlRepo := repository.NewPostgresNewsletterRepo(db)
	jobRepo := repository.NewPostgresSendJobRepo(db)

	// 2. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 3. メトリクスの初期化
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. フェッチャーレジストリの初期化
	registry := fetcher.NewDefaultRegistry(ssrfGuard, sanitizer, log, fetcher.Options{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		MaxItems:    cfg.FetchMaxItems,
	})

	// 5. 正規化と合成の初期化
	normalizer := normalize.NewNormalizer(normalize.Options{
		RecencyWindow: cfg.RecencyWindow,
		MaxItems:      cfg.MaxItems,
	})

	ranking, err := config.LoadRanking(cfg.RankingConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranking config: %w", err)
	}

	geminiClient := synth.NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel, cfg.LLMTimeout, log)
	synthesizer := synth.NewSynthesizer(geminiClient, log, synth.Options{
		MaxRetries:    cfg.LLMMaxRetries,
		RetryDelay:    cfg.LLMRetryDelay,
		PromptBudget:  cfg.PromptBudget,
		DraftMaxLen:   cfg.DraftMaxLen,
		SourceWeights: ranking.SourceWeights,
	})

	// 6. パイプラインの構築
	pl := pipeline.NewPipeline(registry, normalizer, synthesizer, collector, log, pipeline.Options{
		FetchTimeout:   cfg.FetchTimeout,
		OverallTimeout: cfg.PipelineTimeout,
		MaxConcurrent:  cfg.FetchMaxConcurrent,
	})

	// 7. 配信エンジンとスケジューラーの構築
	mailer := mail.NewSMTPMailer(mail.Config{
		Server:    cfg.SMTPServer,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		FromEmail: cfg.FromEmail,
		FromName:  cfg.FromName,
		Timeout:   cfg.SendTimeout,
	}, log)

	engine := delivery.NewEngine(mailer, sanitizer, collector, log, delivery.Options{
		MaxConcurrent: cfg.SendMaxConcurrent,
		RatePerSec:    cfg.SendRatePerSec,
		SendTimeout:   cfg.SendTimeout,
	})

	scheduler := dispatch.NewScheduler(nlRepo, jobRepo, engine, log)

	return &services{
		registry:   registry,
		pipeline:   pl,
		mailer:     mailer,
		scheduler:  scheduler,
		nlRepo:     nlRepo,
		jobRepo:    jobRepo,
		collector:  collector,
		registerer: reg,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	svcs, err := buildServices(cfg, db)
	if err != nil {
		return err
	}

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		APIToken:          cfg.APIToken,
		RateLimiter:       rateLimiter,
		Gatherer:          svcs.registerer,
		Pipeline:          svcs.pipeline,
		NewsletterContent: svcs.nlRepo,
		Scheduler:         svcs.scheduler,
		Resolver:          svcs.registry,
		Mailer:            svcs.mailer,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker は予約送信ワーカーモードで起動する。
// DB接続を開き、送信ループを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	svcs, err := buildServices(cfg, db)
	if err != nil {
		return err
	}

	loop := sendloop.NewLoop(svcs.jobRepo, svcs.scheduler, slog.Default(), cfg.SendMaxConcurrent)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("send_loop_interval", cfg.SendLoopInterval),
		slog.Int("max_concurrent", cfg.SendMaxConcurrent),
	)

	// 送信ループをメインgoroutineで実行（ブロッキング）
	loop.Start(ctx, cfg.SendLoopInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
