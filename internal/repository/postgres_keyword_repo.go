package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fraternitybase/engagement/internal/model"
)

// PostgresKeywordRepo はPostgreSQLを使用したキーワードリポジトリ。
type PostgresKeywordRepo struct {
	db *sql.DB
}

// NewPostgresKeywordRepo はPostgresKeywordRepoを生成する。
func NewPostgresKeywordRepo(db *sql.DB) *PostgresKeywordRepo {
	return &PostgresKeywordRepo{db: db}
}

// ListAll は全キーワードを登録順（id昇順）で返す。
// weightがNULLの行もそのまま返し、重み0としての扱いは呼び出し側に委ねる。
func (r *PostgresKeywordRepo) ListAll(ctx context.Context) ([]model.Keyword, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT keyword, category, weight FROM engagement_keywords ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list keywords: %w", err)
	}
	defer rows.Close()

	var keywords []model.Keyword
	for rows.Next() {
		var kw model.Keyword
		var keyword, category sql.NullString
		var weight sql.NullInt64
		if err := rows.Scan(&keyword, &category, &weight); err != nil {
			return nil, fmt.Errorf("failed to scan keyword: %w", err)
		}
		kw.Keyword = nullStringValue(keyword)
		kw.Category = nullStringValue(category)
		if weight.Valid {
			w := int(weight.Int64)
			kw.Weight = &w
		}
		keywords = append(keywords, kw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate keywords: %w", err)
	}

	return keywords, nil
}
