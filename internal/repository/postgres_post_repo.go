package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fraternitybase/engagement/internal/model"
)

// postColumns はsocial_postsから取得する列。scanPostの引数順と一致させること。
const postColumns = `p.id, p.chapter_id, p.caption, p.posted_at, p.engagement_rate, p.post_url,
		        p.is_opportunity, p.opportunity_reason, p.opportunity_score,
		        p.detected_event_type, p.analyzed_at`

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// scanPost はpostColumnsの順で1行を読み取る。extraはpostColumnsの後ろに続く列。
func scanPost(s rowScanner, extra ...any) (*model.Post, error) {
	p := &model.Post{}
	var caption, postURL, reason, eventType sql.NullString
	var postedAt, analyzedAt sql.NullTime
	var rate sql.NullFloat64

	dest := []any{
		&p.ID, &p.ChapterID, &caption, &postedAt, &rate, &postURL,
		&p.IsOpportunity, &reason, &p.OpportunityScore,
		&eventType, &analyzedAt,
	}
	dest = append(dest, extra...)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	p.Caption = nullStringValue(caption)
	p.PostURL = nullStringValue(postURL)
	p.OpportunityReason = nullStringPtr(reason)
	p.DetectedEventType = nullStringPtr(eventType)
	if postedAt.Valid {
		p.PostedAt = &postedAt.Time
	}
	if analyzedAt.Valid {
		p.AnalyzedAt = &analyzedAt.Time
	}
	if rate.Valid {
		p.EngagementRate = &rate.Float64
	}

	return p, nil
}

// FindByIDWithChapter は指定IDの投稿をチャプター名・大学名付きで取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindByIDWithChapter(ctx context.Context, id string) (*model.PostWithChapter, error) {
	var chapterName, universityName sql.NullString

	row := r.db.QueryRowContext(ctx,
		`SELECT `+postColumns+`, c.chapter_name, u.name
		 FROM social_posts p
		 JOIN chapters c ON c.id = p.chapter_id
		 LEFT JOIN universities u ON u.id = c.university_id
		 WHERE p.id = $1`,
		id,
	)

	post, err := scanPost(row, &chapterName, &universityName)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find post: %w", err)
	}

	return &model.PostWithChapter{
		Post:           *post,
		ChapterName:    nullStringValue(chapterName),
		UniversityName: nullStringValue(universityName),
	}, nil
}

// ListRecentByChapter はチャプターの最新投稿をposted_at降順で最大limit件取得する。
func (r *PostgresPostRepo) ListRecentByChapter(ctx context.Context, chapterID string, limit int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+`
		 FROM social_posts p
		 WHERE p.chapter_id = $1
		 ORDER BY p.posted_at DESC NULLS LAST
		 LIMIT $2`,
		chapterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapter posts: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

// ListPostedSince はposted_atがcutoff以降の投稿を取得する。
func (r *PostgresPostRepo) ListPostedSince(ctx context.Context, cutoff time.Time) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+`
		 FROM social_posts p
		 WHERE p.posted_at >= $1
		 ORDER BY p.posted_at DESC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent posts: %w", err)
	}
	defer rows.Close()

	return collectPosts(rows)
}

// UpdateScore は投稿の派生フィールドを上書き更新する。
func (r *PostgresPostRepo) UpdateScore(ctx context.Context, postID string, result model.ScoreResult, analyzedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE social_posts
		 SET is_opportunity = $1, opportunity_reason = $2, opportunity_score = $3,
		     detected_event_type = $4, analyzed_at = $5, updated_at = now()
		 WHERE id = $6`,
		result.IsOpportunity, toNullString(result.OpportunityReason), result.OpportunityScore,
		toNullString(result.DetectedEventType), analyzedAt, postID,
	)
	if err != nil {
		return fmt.Errorf("failed to update post score: %w", err)
	}
	return nil
}

// ListTopOpportunities は機会判定された投稿をスコア降順で取得する。
func (r *PostgresPostRepo) ListTopOpportunities(ctx context.Context, since time.Time, limit int) ([]*model.PostWithChapter, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+postColumns+`, c.chapter_name, u.name
		 FROM social_posts p
		 JOIN chapters c ON c.id = p.chapter_id
		 LEFT JOIN universities u ON u.id = c.university_id
		 WHERE p.is_opportunity = true AND p.posted_at >= $1
		 ORDER BY p.opportunity_score DESC, p.posted_at DESC
		 LIMIT $2`,
		since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list top opportunities: %w", err)
	}
	defer rows.Close()

	var result []*model.PostWithChapter
	for rows.Next() {
		var chapterName, universityName sql.NullString
		post, err := scanPost(rows, &chapterName, &universityName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		result = append(result, &model.PostWithChapter{
			Post:           *post,
			ChapterName:    nullStringValue(chapterName),
			UniversityName: nullStringValue(universityName),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate opportunities: %w", err)
	}

	return result, nil
}

// collectPosts はrowsの全行をPostに変換する。
func collectPosts(rows *sql.Rows) ([]*model.Post, error) {
	var posts []*model.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan post: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate posts: %w", err)
	}
	return posts, nil
}
