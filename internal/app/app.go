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

	"github.com/fraternitybase/engagement/internal/config"
	"github.com/fraternitybase/engagement/internal/database"
	"github.com/fraternitybase/engagement/internal/engagement"
	"github.com/fraternitybase/engagement/internal/handler"
	"github.com/fraternitybase/engagement/internal/logger"
	"github.com/fraternitybase/engagement/internal/metrics"
	"github.com/fraternitybase/engagement/internal/middleware"
	"github.com/fraternitybase/engagement/internal/model"
	"github.com/fraternitybase/engagement/internal/report"
	"github.com/fraternitybase/engagement/internal/repository"
	"github.com/fraternitybase/engagement/internal/security"
	"github.com/fraternitybase/engagement/internal/worker/analysis"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、設定に従って構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envと環境変数から設定を読み込む
	if err := config.LoadEnvFile(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定に従ってログを再構成する
	logger.SetupDefaultWith(w, logger.Options{
		Format: cfg.LogFormat,
		Level:  cfg.LogLevel,
	})

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
// 単発コマンドのサマリーはstdoutへ、そのログはstderrへ出力する。
func Run(stdout, stderr io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr, defaultRunners())
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")
	return db, nil
}

// newService はリポジトリを組み立ててengagement.Serviceを生成する。
func newService(db *sql.DB, cfg *config.Config, opts ...engagement.Option) *engagement.Service {
	policy := engagement.FailFast
	if cfg.AnalyzeContinueOnError {
		policy = engagement.ContinueOnError
	}
	opts = append([]engagement.Option{engagement.WithBatchPolicy(policy)}, opts...)

	return engagement.NewService(
		repository.NewPostgresPostRepo(db),
		repository.NewPostgresKeywordRepo(db),
		repository.NewPostgresChapterRepo(db),
		slog.Default(),
		opts...,
	)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	slog.Info("starting application",
		slog.String("command", string(CommandServe)),
		slog.String("port", cfg.ServerPort),
	)

	// 1. DB接続
	db, err := openDB(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. メトリクスとサービスの初期化
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	svc := newService(db, cfg, engagement.WithMetrics(collector))

	// 3. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitPerMinute))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		AnalysisService:   svc,
		Sanitizer:         security.NewCaptionSanitizer(),
		TopLimit:          cfg.TopOpportunitiesLimit,
		MetricsGatherer:   prometheus.DefaultGatherer,
	})

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 直近投稿のスコアリングとチャプター集計の再計算を定期実行する。
// 1件の失敗でサイクル全体を止めないよう、常にContinueOnErrorで処理する。
func runWorker(cfg *config.Config) error {
	slog.Info("starting application",
		slog.String("command", string(CommandWorker)),
	)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := newService(db, cfg).WithPolicy(engagement.ContinueOnError)
	job := analysis.NewJob(svc, slog.Default(), analysis.Config{
		Interval: cfg.AnalysisInterval,
		Days:     cfg.AnalyzeDefaultDays,
	})

	// ジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx)

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

// analyzer はCLIの分析コマンドが使うサービスの操作。
type analyzer interface {
	AnalyzeChapterPosts(ctx context.Context, chapterID string, limit int) (*engagement.BatchResult, error)
	AnalyzeAllRecentPosts(ctx context.Context, days int) (*engagement.BatchResult, error)
	GetTopOpportunities(ctx context.Context, limit int) ([]*model.PostWithChapter, error)
}

// runAnalyze はスコアリングを1回実行し、件数集計と上位の機会投稿を出力する。
func runAnalyze(ctx context.Context, cfg *config.Config, out io.Writer, opts analyzeOptions) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := newService(db, cfg)
	if opts.ContinueOnError {
		svc = svc.WithPolicy(engagement.ContinueOnError)
	}
	return analyzeAndReport(ctx, svc, cfg, out, opts)
}

// analyzeAndReport はanalyzeコマンドの本体。
// バッチがエラーで中断した場合も、それまでの件数集計は出力してからエラーを返す。
func analyzeAndReport(ctx context.Context, svc analyzer, cfg *config.Config, out io.Writer, opts analyzeOptions) error {
	w := report.NewWriter(out, nil)

	var (
		result *engagement.BatchResult
		scope  string
		err    error
	)
	if opts.ChapterID != "" {
		limit := opts.Limit
		if limit == 0 {
			limit = cfg.AnalyzeChapterLimit
		}
		scope = fmt.Sprintf("chapter %s, latest %d posts", opts.ChapterID, limit)
		result, err = svc.AnalyzeChapterPosts(ctx, opts.ChapterID, limit)
	} else {
		days := opts.Days
		if days == 0 {
			days = cfg.AnalyzeDefaultDays
		}
		scope = fmt.Sprintf("last %d days", days)
		result, err = svc.AnalyzeAllRecentPosts(ctx, days)
	}

	if result != nil {
		if werr := w.WriteBatch(scope, result); werr != nil {
			return werr
		}
	}
	if err != nil {
		return fmt.Errorf("analysis failed: %w", err)
	}

	top, err := svc.GetTopOpportunities(ctx, report.TopN)
	if err != nil {
		return fmt.Errorf("failed to load top opportunities: %w", err)
	}
	return w.WriteOpportunities(top)
}

// runTop は直近30日の機会投稿を出力する。
func runTop(ctx context.Context, cfg *config.Config, out io.Writer, limit int) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if limit == 0 {
		limit = cfg.TopOpportunitiesLimit
	}
	top, err := newService(db, cfg).GetTopOpportunities(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to load top opportunities: %w", err)
	}
	return report.NewWriter(out, nil).WriteOpportunities(top)
}

// runRecalculate はアウトリーチ記録のある全チャプターの集計を再計算する。
func runRecalculate(ctx context.Context, cfg *config.Config, out io.Writer) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := newService(db, cfg).RecalculateEngagementScores(ctx)
	if err != nil {
		return fmt.Errorf("recalculation failed after %d chapters: %w", n, err)
	}
	_, err = fmt.Fprintf(out, "Recalculated engagement for %d chapters.\n", n)
	return err
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

// envOrDefault は環境変数が空の場合にdefを返す。
func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
