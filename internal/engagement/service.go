package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fraternitybase/engagement/internal/model"
	"github.com/fraternitybase/engagement/internal/repository"
)

const (
	// DefaultChapterLimit はAnalyzeChapterPostsの既定取得件数。
	DefaultChapterLimit = 20
	// DefaultRecentDays はAnalyzeAllRecentPostsの既定対象日数。
	DefaultRecentDays = 30
	// DefaultTopLimit はGetTopOpportunitiesの既定件数。
	DefaultTopLimit = 50
	// TopOpportunityWindow はGetTopOpportunitiesの対象期間。
	TopOpportunityWindow = 30 * 24 * time.Hour
)

// BatchPolicy はバッチ処理中に1件の投稿でエラーが発生したときの振る舞い。
type BatchPolicy int

const (
	// FailFast は最初のエラーでバッチ全体を中断し、そのエラーを返す。
	FailFast BatchPolicy = iota
	// ContinueOnError はエラーをBatchResult.Failuresに記録して残りの投稿を処理する。
	ContinueOnError
)

// MetricsRecorder はスコアリングのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordPostAnalyzed(isOpportunity bool)
	RecordAnalysisFailure(stage string)
	RecordBatchDuration(operation string, d time.Duration)
	RecordChapterRecalculated()
}

// ItemFailure はバッチ内で失敗した投稿1件分の情報。
type ItemFailure struct {
	PostID string
	Err    error
}

// BatchResult はバッチスコアリングの集計結果。
type BatchResult struct {
	Total         int
	Processed     int
	Opportunities int
	Failures      []ItemFailure
}

// Service は投稿の読み込み・スコアリング・書き戻しをまとめたサービス。
// すべての処理は逐次実行で、並列化しない。
type Service struct {
	posts    repository.PostRepository
	keywords repository.KeywordRepository
	chapters repository.ChapterRepository
	logger   *slog.Logger
	metrics  MetricsRecorder
	now      func() time.Time
	policy   BatchPolicy
}

// Option はServiceの任意設定。
type Option func(*Service)

// WithClock は評価時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBatchPolicy はバッチのエラー処理方針を設定する。既定はFailFast。
func WithBatchPolicy(p BatchPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithMetrics はメトリクス記録先を設定する。
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	posts repository.PostRepository,
	keywords repository.KeywordRepository,
	chapters repository.ChapterRepository,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		posts:    posts,
		keywords: keywords,
		chapters: chapters,
		logger:   logger,
		metrics:  nopMetrics{},
		now:      time.Now,
		policy:   FailFast,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy は現在のバッチエラー処理方針を返す。
func (s *Service) Policy() BatchPolicy {
	return s.policy
}

// WithPolicy は方針だけを差し替えたServiceのコピーを返す。
// ワーカーが共有ServiceをContinueOnErrorで使うために利用する。
func (s *Service) WithPolicy(p BatchPolicy) *Service {
	cp := *s
	cp.policy = p
	return &cp
}

// AnalyzePost は指定IDの投稿をスコアリングし、結果を書き戻す。
// 投稿が存在しない場合はPOST_NOT_FOUNDエラーを返す。
func (s *Service) AnalyzePost(ctx context.Context, postID string) (model.ScoreResult, error) {
	post, err := s.posts.FindByIDWithChapter(ctx, postID)
	if err != nil {
		s.metrics.RecordAnalysisFailure("load_post")
		return model.ScoreResult{}, model.NewStoreUnavailableError("load post", err)
	}
	if post == nil {
		return model.ScoreResult{}, model.NewPostNotFoundError(postID)
	}

	keywords, err := s.loadKeywords(ctx)
	if err != nil {
		return model.ScoreResult{}, err
	}

	return s.scoreAndSave(ctx, &post.Post, keywords)
}

// AnalyzeChapterPosts はチャプターの最新limit件の投稿をスコアリングする。
// limitが0以下の場合はDefaultChapterLimitを使う。
func (s *Service) AnalyzeChapterPosts(ctx context.Context, chapterID string, limit int) (*BatchResult, error) {
	if limit <= 0 {
		limit = DefaultChapterLimit
	}
	start := s.now()

	posts, err := s.posts.ListRecentByChapter(ctx, chapterID, limit)
	if err != nil {
		s.metrics.RecordAnalysisFailure("load_posts")
		return nil, model.NewStoreUnavailableError("load chapter posts", err)
	}

	result, err := s.analyzeBatch(ctx, posts)
	s.metrics.RecordBatchDuration("chapter", s.now().Sub(start))
	if err != nil {
		return result, err
	}

	s.logger.Info("chapter posts analyzed",
		slog.String("chapter_id", chapterID),
		slog.Int("total", result.Total),
		slog.Int("processed", result.Processed),
		slog.Int("opportunities", result.Opportunities),
		slog.Int("failed", len(result.Failures)),
	)
	return result, nil
}

// AnalyzeAllRecentPosts はposted_atが直近days日以内の全投稿をスコアリングする。
// daysが0以下の場合はDefaultRecentDaysを使う。
func (s *Service) AnalyzeAllRecentPosts(ctx context.Context, days int) (*BatchResult, error) {
	if days <= 0 {
		days = DefaultRecentDays
	}
	start := s.now()
	cutoff := start.Add(-time.Duration(days) * 24 * time.Hour)

	posts, err := s.posts.ListPostedSince(ctx, cutoff)
	if err != nil {
		s.metrics.RecordAnalysisFailure("load_posts")
		return nil, model.NewStoreUnavailableError("load recent posts", err)
	}

	result, err := s.analyzeBatch(ctx, posts)
	s.metrics.RecordBatchDuration("recent", s.now().Sub(start))
	if err != nil {
		return result, err
	}

	s.logger.Info("recent posts analyzed",
		slog.Int("days", days),
		slog.Int("total", result.Total),
		slog.Int("processed", result.Processed),
		slog.Int("opportunities", result.Opportunities),
		slog.Int("failed", len(result.Failures)),
	)
	return result, nil
}

// GetTopOpportunities は直近30日の機会投稿をスコア降順で最大limit件返す。
// limitが0以下の場合はDefaultTopLimitを使う。
func (s *Service) GetTopOpportunities(ctx context.Context, limit int) ([]*model.PostWithChapter, error) {
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	since := s.now().Add(-TopOpportunityWindow)

	posts, err := s.posts.ListTopOpportunities(ctx, since, limit)
	if err != nil {
		return nil, model.NewStoreUnavailableError("load top opportunities", err)
	}
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

// RecalculateEngagementScores はアウトリーチ記録のある全チャプターについて
// 集計の再計算を1チャプターずつ逐次実行する。処理したチャプター数を返す。
func (s *Service) RecalculateEngagementScores(ctx context.Context) (int, error) {
	start := s.now()

	chapterIDs, err := s.chapters.ListChapterIDsWithOutreach(ctx)
	if err != nil {
		return 0, model.NewStoreUnavailableError("load outreach chapters", err)
	}

	processed := 0
	for _, id := range chapterIDs {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := s.chapters.RecalculateEngagement(ctx, id); err != nil {
			s.metrics.RecordAnalysisFailure("recalculate")
			return processed, model.NewStoreUnavailableError("recalculate chapter "+id, err)
		}
		processed++
		s.metrics.RecordChapterRecalculated()
	}

	s.metrics.RecordBatchDuration("recalculate", s.now().Sub(start))
	s.logger.Info("chapter engagement recalculated",
		slog.Int("chapters", processed),
	)
	return processed, nil
}

// analyzeBatch はキーワード表を1回だけ読み込み、投稿を1件ずつ逐次処理する。
func (s *Service) analyzeBatch(ctx context.Context, posts []*model.Post) (*BatchResult, error) {
	result := &BatchResult{Total: len(posts)}
	if len(posts) == 0 {
		return result, nil
	}

	keywords, err := s.loadKeywords(ctx)
	if err != nil {
		return result, err
	}

	for _, post := range posts {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		score, err := s.scoreAndSave(ctx, post, keywords)
		if err != nil {
			if s.policy == FailFast {
				return result, fmt.Errorf("analysis aborted at post %s: %w", post.ID, err)
			}
			s.logger.Warn("post analysis failed, continuing",
				slog.String("post_id", post.ID),
				slog.String("error", err.Error()),
			)
			result.Failures = append(result.Failures, ItemFailure{PostID: post.ID, Err: err})
			continue
		}

		result.Processed++
		if score.IsOpportunity {
			result.Opportunities++
		}
	}

	return result, nil
}

// scoreAndSave は1件をスコアリングして書き戻す。
func (s *Service) scoreAndSave(ctx context.Context, post *model.Post, keywords []model.Keyword) (model.ScoreResult, error) {
	now := s.now()
	result := Score(*post, keywords, now)

	if err := s.posts.UpdateScore(ctx, post.ID, result, now); err != nil {
		s.metrics.RecordAnalysisFailure("save_score")
		return model.ScoreResult{}, model.NewStoreUnavailableError("save score", err)
	}

	result.Apply(post, now)
	s.metrics.RecordPostAnalyzed(result.IsOpportunity)
	return result, nil
}

func (s *Service) loadKeywords(ctx context.Context) ([]model.Keyword, error) {
	keywords, err := s.keywords.ListAll(ctx)
	if err != nil {
		s.metrics.RecordAnalysisFailure("load_keywords")
		return nil, model.NewStoreUnavailableError("load keywords", err)
	}
	return keywords, nil
}

// nopMetrics はメトリクス未設定時の空実装。
type nopMetrics struct{}

func (nopMetrics) RecordPostAnalyzed(bool)                   {}
func (nopMetrics) RecordAnalysisFailure(string)              {}
func (nopMetrics) RecordBatchDuration(string, time.Duration) {}
func (nopMetrics) RecordChapterRecalculated()                {}
