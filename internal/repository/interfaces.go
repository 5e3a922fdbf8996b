// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/fraternitybase/engagement/internal/model"
)

// PostRepository はSNS投稿データの永続化インターフェース。
// 投稿本体は外部の取り込み処理が作成するため、ここでは参照と派生フィールドの更新のみを扱う。
type PostRepository interface {
	// FindByIDWithChapter は指定IDの投稿を親チャプターの識別情報付きで取得する。
	// 見つからない場合はnilを返す。
	FindByIDWithChapter(ctx context.Context, id string) (*model.PostWithChapter, error)

	// ListRecentByChapter はチャプターの投稿をposted_at降順で最大limit件取得する。
	ListRecentByChapter(ctx context.Context, chapterID string, limit int) ([]*model.Post, error)

	// ListPostedSince はposted_atがcutoff以降の投稿をposted_at降順で取得する。
	ListPostedSince(ctx context.Context, cutoff time.Time) ([]*model.Post, error)

	// UpdateScore は投稿の派生フィールド4項目とanalyzed_atを上書き更新する。
	// 加算ではなく全置換のため、同じ結果で何度呼んでも冪等。
	UpdateScore(ctx context.Context, postID string, result model.ScoreResult, analyzedAt time.Time) error

	// ListTopOpportunities はis_opportunity=trueかつposted_atがsince以降の投稿を
	// opportunity_score降順で最大limit件、チャプター情報付きで取得する。
	ListTopOpportunities(ctx context.Context, since time.Time, limit int) ([]*model.PostWithChapter, error)
}

// KeywordRepository はスコアリング用キーワード表の参照インターフェース。
type KeywordRepository interface {
	// ListAll は全キーワードを登録順で返す。
	// 順序はevent_typeキーワードの先勝ち判定に影響する。
	ListAll(ctx context.Context) ([]model.Keyword, error)
}

// ChapterRepository はチャプター単位の集計に必要な操作のインターフェース。
type ChapterRepository interface {
	// ListChapterIDsWithOutreach はアウトリーチ記録が1件以上あるチャプターIDを返す。
	ListChapterIDsWithOutreach(ctx context.Context) ([]string, error)

	// RecalculateEngagement はチャプターのエンゲージメント集計を再計算する。
	// 集計ロジックはストアドファンクションrecalculate_chapter_engagementに委ねる。
	RecalculateEngagement(ctx context.Context, chapterID string) error
}
