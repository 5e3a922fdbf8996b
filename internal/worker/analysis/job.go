// Package analysis は投稿スコアリングとチャプター集計を定期実行するワーカージョブを提供する。
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fraternitybase/engagement/internal/engagement"
)

// Analyzer はジョブが呼び出す分析サービスのインターフェース。
// *engagement.Serviceがそのまま満たす。
type Analyzer interface {
	AnalyzeAllRecentPosts(ctx context.Context, days int) (*engagement.BatchResult, error)
	RecalculateEngagementScores(ctx context.Context) (int, error)
}

// Config はジョブの設定パラメータ。
type Config struct {
	// Interval はサイクルの実行間隔（デフォルト: 1時間）。
	Interval time.Duration
	// Days はスコアリング対象とする直近日数（デフォルト: 30日）。
	Days int
}

// DefaultConfig はデフォルトのジョブ設定を返す。
func DefaultConfig() Config {
	return Config{
		Interval: time.Hour,
		Days:     engagement.DefaultRecentDays,
	}
}

// Job は直近投稿のスコアリングと集計再計算を1サイクルとして定期実行する。
// データストア障害が続く場合は連続失敗回数に応じてサイクルをスキップする。
type Job struct {
	analyzer Analyzer
	logger   *slog.Logger
	config   Config
	now      func() time.Time

	consecutiveErrors int
	backoffUntil      time.Time
}

// NewJob はJobの新しいインスタンスを生成する。
// 0以下の設定値はDefaultConfigの値で補う。
func NewJob(analyzer Analyzer, logger *slog.Logger, config Config) *Job {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Days <= 0 {
		config.Days = def.Days
	}
	return &Job{
		analyzer: analyzer,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Start はジョブをティッカーで定期実行する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで実行を継続する。
func (j *Job) Start(ctx context.Context) {
	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	j.logger.Info("analysis job started",
		slog.Duration("interval", j.config.Interval),
		slog.Int("days", j.config.Days),
	)

	j.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("analysis job stopped")
			return
		case <-ticker.C:
			j.runCycle(ctx)
		}
	}
}

func (j *Job) runCycle(ctx context.Context) {
	if err := j.RunOnce(ctx); err != nil {
		j.logger.Error("analysis cycle failed",
			slog.String("error", err.Error()),
			slog.Int("consecutive_errors", j.consecutiveErrors),
		)
	}
}

// ErrAllPostsFailed は対象投稿がすべてスコアリングに失敗したことを示す。
var ErrAllPostsFailed = errors.New("every post failed to score")

// RunOnce は1回のサイクルを実行する。
// スコアリングが失敗した場合、または全件が失敗した場合は集計再計算を行わない。
func (j *Job) RunOnce(ctx context.Context) error {
	start := j.now()

	// バックオフ中の場合はスキップ
	if !j.backoffUntil.IsZero() && start.Before(j.backoffUntil) {
		j.logger.Info("analysis cycle skipped during backoff",
			slog.Time("backoff_until", j.backoffUntil),
		)
		return nil
	}

	result, err := j.analyzer.AnalyzeAllRecentPosts(ctx, j.config.Days)
	if err != nil {
		j.recordFailure(start)
		return fmt.Errorf("analyze recent posts: %w", err)
	}
	if result.Processed == 0 && len(result.Failures) > 0 {
		j.recordFailure(start)
		return fmt.Errorf("analyze recent posts: %w (%d posts)", ErrAllPostsFailed, len(result.Failures))
	}

	chapters, err := j.analyzer.RecalculateEngagementScores(ctx)
	if err != nil {
		j.recordFailure(start)
		return fmt.Errorf("recalculate engagement (%d chapters done): %w", chapters, err)
	}

	j.consecutiveErrors = 0
	j.backoffUntil = time.Time{}

	j.logger.Info("analysis cycle completed",
		slog.Int("posts", result.Total),
		slog.Int("analyzed", result.Processed),
		slog.Int("opportunities", result.Opportunities),
		slog.Int("failed", len(result.Failures)),
		slog.Int("chapters", chapters),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return nil
}

func (j *Job) recordFailure(at time.Time) {
	j.consecutiveErrors++
	if backoff := calculateErrorBackoff(j.consecutiveErrors); backoff > 0 {
		j.backoffUntil = at.Add(backoff)
		j.logger.Warn("analysis job backing off",
			slog.Int("consecutive_errors", j.consecutiveErrors),
			slog.Duration("backoff", backoff),
		)
	}
}

// calculateErrorBackoff は連続エラー回数に基づくバックオフ時間を計算する。
// 3回連続: 30分、5回連続: 1時間、10回連続: 6時間。
func calculateErrorBackoff(consecutiveErrors int) time.Duration {
	switch {
	case consecutiveErrors >= 10:
		return 6 * time.Hour
	case consecutiveErrors >= 5:
		return 1 * time.Hour
	case consecutiveErrors >= 3:
		return 30 * time.Minute
	default:
		return 0
	}
}
