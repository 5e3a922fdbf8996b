package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresChapterRepo はPostgreSQLを使用したチャプター集計リポジトリ。
type PostgresChapterRepo struct {
	db *sql.DB
}

// NewPostgresChapterRepo はPostgresChapterRepoを生成する。
func NewPostgresChapterRepo(db *sql.DB) *PostgresChapterRepo {
	return &PostgresChapterRepo{db: db}
}

// ListChapterIDsWithOutreach はアウトリーチ記録を持つチャプターIDを重複なく返す。
func (r *PostgresChapterRepo) ListChapterIDsWithOutreach(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT chapter_id FROM chapter_outreach ORDER BY chapter_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list outreach chapters: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chapter id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outreach chapters: %w", err)
	}

	return ids, nil
}

// RecalculateEngagement はストアドファンクションでチャプターの集計を再計算する。
func (r *PostgresChapterRepo) RecalculateEngagement(ctx context.Context, chapterID string) error {
	if _, err := r.db.ExecContext(ctx,
		`SELECT recalculate_chapter_engagement($1)`,
		chapterID,
	); err != nil {
		return fmt.Errorf("failed to recalculate chapter engagement: %w", err)
	}
	return nil
}
