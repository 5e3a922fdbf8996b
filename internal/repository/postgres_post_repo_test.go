package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fraternitybase/engagement/internal/model"
)

// postRowColumns はpostColumnsに対応するモック行の列名。
var postRowColumns = []string{
	"id", "chapter_id", "caption", "posted_at", "engagement_rate", "post_url",
	"is_opportunity", "opportunity_reason", "opportunity_score",
	"detected_event_type", "analyzed_at",
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// TestPostgresPostRepo_ImplementsInterface はPostgresPostRepoがPostRepositoryを実装することを検証する。
func TestPostgresPostRepo_ImplementsInterface(t *testing.T) {
	var _ PostRepository = (*PostgresPostRepo)(nil)
}

func TestPostgresPostRepo_FindByIDWithChapter_Found(t *testing.T) {
	db, mock := newMockDB(t)
	postedAt := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM social_posts p JOIN chapters c").
		WithArgs("post-1").
		WillReturnRows(sqlmock.NewRows(append(postRowColumns, "chapter_name", "name")).
			AddRow("post-1", "chapter-1", "Rush week!", postedAt, 6.2, "https://instagram.com/p/abc",
				false, nil, int64(0), nil, nil, "Alpha Beta", "State University"))

	repo := NewPostgresPostRepo(db)
	got, err := repo.FindByIDWithChapter(context.Background(), "post-1")
	if err != nil {
		t.Fatalf("FindByIDWithChapter returned error: %v", err)
	}
	if got == nil {
		t.Fatal("expected non-nil post")
	}

	if got.Caption != "Rush week!" {
		t.Errorf("Caption = %q, want %q", got.Caption, "Rush week!")
	}
	if got.PostedAt == nil || !got.PostedAt.Equal(postedAt) {
		t.Errorf("PostedAt = %v, want %v", got.PostedAt, postedAt)
	}
	if got.EngagementRate == nil || *got.EngagementRate != 6.2 {
		t.Errorf("EngagementRate = %v, want 6.2", got.EngagementRate)
	}
	if got.OpportunityReason != nil {
		t.Errorf("OpportunityReason = %q, want nil", *got.OpportunityReason)
	}
	if got.ChapterName != "Alpha Beta" || got.UniversityName != "State University" {
		t.Errorf("chapter = (%q, %q), want (Alpha Beta, State University)", got.ChapterName, got.UniversityName)
	}

	expectationsMet(t, mock)
}

func TestPostgresPostRepo_FindByIDWithChapter_NullCaption(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("FROM social_posts p JOIN chapters c").
		WithArgs("post-2").
		WillReturnRows(sqlmock.NewRows(append(postRowColumns, "chapter_name", "name")).
			AddRow("post-2", "chapter-1", nil, nil, nil, nil,
				false, nil, int64(0), nil, nil, "Alpha Beta", nil))

	repo := NewPostgresPostRepo(db)
	got, err := repo.FindByIDWithChapter(context.Background(), "post-2")
	if err != nil {
		t.Fatalf("FindByIDWithChapter returned error: %v", err)
	}

	if got.Caption != "" {
		t.Errorf("Caption = %q, want empty", got.Caption)
	}
	if got.PostedAt != nil {
		t.Errorf("PostedAt = %v, want nil", got.PostedAt)
	}
	if got.EngagementRate != nil {
		t.Errorf("EngagementRate = %v, want nil", *got.EngagementRate)
	}
	if got.UniversityName != "" {
		t.Errorf("UniversityName = %q, want empty", got.UniversityName)
	}

	expectationsMet(t, mock)
}

func TestPostgresPostRepo_FindByIDWithChapter_NotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("FROM social_posts p JOIN chapters c").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	repo := NewPostgresPostRepo(db)
	got, err := repo.FindByIDWithChapter(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FindByIDWithChapter returned error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil post, got %+v", got)
	}

	expectationsMet(t, mock)
}

func TestPostgresPostRepo_FindByIDWithChapter_DBError(t *testing.T) {
	db, mock := newMockDB(t)
	dbErr := errors.New("connection refused")

	mock.ExpectQuery("FROM social_posts p JOIN chapters c").
		WithArgs("post-1").
		WillReturnError(dbErr)

	repo := NewPostgresPostRepo(db)
	_, err := repo.FindByIDWithChapter(context.Background(), "post-1")
	if !errors.Is(err, dbErr) {
		t.Fatalf("error = %v, want wrapped %v", err, dbErr)
	}

	expectationsMet(t, mock)
}

func TestPostgresPostRepo_ListRecentByChapter(t *testing.T) {
	db, mock := newMockDB(t)
	t1 := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("WHERE p.chapter_id = \\$1 ORDER BY p.posted_at DESC NULLS LAST LIMIT \\$2").
		WithArgs("chapter-1", 20).
		WillReturnRows(sqlmock.NewRows(postRowColumns).
			AddRow("post-1", "chapter-1", "newest", t1, 3.1, nil, false, nil, int64(0), nil, nil).
			AddRow("post-2", "chapter-1", "older", t2, nil, nil, true, "Indicates vendor need", int64(32), "social", t1))

	repo := NewPostgresPostRepo(db)
	posts, err := repo.ListRecentByChapter(context.Background(), "chapter-1", 20)
	if err != nil {
		t.Fatalf("ListRecentByChapter returned error: %v", err)
	}

	if len(posts) != 2 {
		t.Fatalf("len(posts) = %d, want 2", len(posts))
	}
	if posts[0].ID != "post-1" || posts[1].ID != "post-2" {
		t.Errorf("order = [%s %s], want [post-1 post-2]", posts[0].ID, posts[1].ID)
	}
	if posts[1].DetectedEventType == nil || *posts[1].DetectedEventType != "social" {
		t.Errorf("DetectedEventType = %v, want social", posts[1].DetectedEventType)
	}
	if posts[1].OpportunityScore != 32 {
		t.Errorf("OpportunityScore = %d, want 32", posts[1].OpportunityScore)
	}

	expectationsMet(t, mock)
}

func TestPostgresPostRepo_ListPostedSince(t *testing.T) {
	db, mock := newMockDB(t)
	cutoff := time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("WHERE p.posted_at >= \\$1").
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows(postRowColumns))

	repo := NewPostgresPostRepo(db)
	posts, err := repo.ListPostedSince(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("ListPostedSince returned error: %v", err)
	}
	if len(posts) != 0 {
		t.Errorf("len(posts) = %d, want 0", len(posts))
	}

	expectationsMet(t, mock)
}

func TestPostgresPostRepo_UpdateScore(t *testing.T) {
	db, mock := newMockDB(t)
	analyzedAt := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	reason := "Contains partnership signal keywords"
	eventType := "recruitment"

	mock.ExpectExec("UPDATE social_posts SET is_opportunity = \\$1").
		WithArgs(true, reason, 35, eventType, analyzedAt, "post-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresPostRepo(db)
	err := repo.UpdateScore(context.Background(), "post-1", model.ScoreResult{
		IsOpportunity:     true,
		OpportunityReason: &reason,
		OpportunityScore:  35,
		DetectedEventType: &eventType,
	}, analyzedAt)
	if err != nil {
		t.Fatalf("UpdateScore returned error: %v", err)
	}

	expectationsMet(t, mock)
}

func TestPostgresPostRepo_UpdateScore_WritesNulls(t *testing.T) {
	db, mock := newMockDB(t)
	analyzedAt := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE social_posts").
		WithArgs(false, nil, 0, nil, analyzedAt, "post-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresPostRepo(db)
	if err := repo.UpdateScore(context.Background(), "post-1", model.ScoreResult{}, analyzedAt); err != nil {
		t.Fatalf("UpdateScore returned error: %v", err)
	}

	expectationsMet(t, mock)
}

func TestPostgresPostRepo_ListTopOpportunities(t *testing.T) {
	db, mock := newMockDB(t)
	since := time.Date(2026, 2, 13, 0, 0, 0, 0, time.UTC)
	postedAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("WHERE p.is_opportunity = true AND p.posted_at >= \\$1 ORDER BY p.opportunity_score DESC").
		WithArgs(since, 10).
		WillReturnRows(sqlmock.NewRows(append(postRowColumns, "chapter_name", "name")).
			AddRow("post-9", "chapter-3", "Sponsor our formal", postedAt, 4.0, "https://instagram.com/p/xyz",
				true, "Contains partnership signal keywords; Event pattern: social", int64(30), "social", postedAt,
				"Gamma Delta", "Tech Institute"))

	repo := NewPostgresPostRepo(db)
	got, err := repo.ListTopOpportunities(context.Background(), since, 10)
	if err != nil {
		t.Fatalf("ListTopOpportunities returned error: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ChapterName != "Gamma Delta" {
		t.Errorf("ChapterName = %q, want %q", got[0].ChapterName, "Gamma Delta")
	}
	if !got[0].IsOpportunity || got[0].OpportunityScore != 30 {
		t.Errorf("opportunity = (%v, %d), want (true, 30)", got[0].IsOpportunity, got[0].OpportunityScore)
	}
	if got[0].PostURL != "https://instagram.com/p/xyz" {
		t.Errorf("PostURL = %q", got[0].PostURL)
	}

	expectationsMet(t, mock)
}
