package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fraternitybase/engagement/internal/engagement"
	"github.com/fraternitybase/engagement/internal/middleware"
	"github.com/fraternitybase/engagement/internal/model"
	"github.com/fraternitybase/engagement/internal/security"
)

const (
	// maxQueryLimit はlimitクエリパラメータの上限。
	maxQueryLimit = 200
	// maxQueryDays はdaysクエリパラメータの上限。
	maxQueryDays = 365
	// captionPreviewRunes はAPIレスポンスのキャプションプレビュー文字数。
	captionPreviewRunes = 100
)

// AnalysisServiceInterface は分析ハンドラーが必要とするサービスインターフェース。
type AnalysisServiceInterface interface {
	// AnalyzePost は1件の投稿をスコアリングして書き戻す。
	AnalyzePost(ctx context.Context, postID string) (model.ScoreResult, error)
	// AnalyzeChapterPosts はチャプターの最新投稿をまとめてスコアリングする。
	AnalyzeChapterPosts(ctx context.Context, chapterID string, limit int) (*engagement.BatchResult, error)
	// AnalyzeAllRecentPosts は直近days日の全投稿をスコアリングする。
	AnalyzeAllRecentPosts(ctx context.Context, days int) (*engagement.BatchResult, error)
	// GetTopOpportunities はスコア上位の機会投稿を返す。
	GetTopOpportunities(ctx context.Context, limit int) ([]*model.PostWithChapter, error)
	// RecalculateEngagementScores はチャプター集計を再計算する。
	RecalculateEngagementScores(ctx context.Context) (int, error)
}

// AnalysisHandler はスコアリングと機会投稿一覧のHTTPハンドラー。
type AnalysisHandler struct {
	service      AnalysisServiceInterface
	sanitizer    *security.CaptionSanitizer
	defaultLimit int
}

// NewAnalysisHandler はAnalysisHandlerを生成する。
// defaultLimitが0以下の場合はengagement.DefaultTopLimitを使う。
func NewAnalysisHandler(service AnalysisServiceInterface, sanitizer *security.CaptionSanitizer, defaultLimit int) *AnalysisHandler {
	if sanitizer == nil {
		sanitizer = security.NewCaptionSanitizer()
	}
	if defaultLimit <= 0 || defaultLimit > maxQueryLimit {
		defaultLimit = engagement.DefaultTopLimit
	}
	return &AnalysisHandler{
		service:      service,
		sanitizer:    sanitizer,
		defaultLimit: defaultLimit,
	}
}

// opportunityResponse は機会投稿1件のAPIレスポンス。
type opportunityResponse struct {
	ID                string     `json:"id"`
	ChapterID         string     `json:"chapter_id"`
	ChapterName       string     `json:"chapter_name"`
	UniversityName    string     `json:"university_name"`
	CaptionPreview    string     `json:"caption_preview"`
	PostURL           string     `json:"post_url"`
	PostedAt          *time.Time `json:"posted_at"`
	OpportunityScore  int        `json:"opportunity_score"`
	OpportunityReason *string    `json:"opportunity_reason"`
	DetectedEventType *string    `json:"detected_event_type"`
	AnalyzedAt        *time.Time `json:"analyzed_at"`
}

// opportunityListResponse は機会投稿一覧のAPIレスポンス。
type opportunityListResponse struct {
	Opportunities []opportunityResponse `json:"opportunities"`
	Count         int                   `json:"count"`
}

// scoreResponse は単一投稿のスコアリング結果。
type scoreResponse struct {
	PostID            string  `json:"post_id"`
	IsOpportunity     bool    `json:"is_opportunity"`
	OpportunityScore  int     `json:"opportunity_score"`
	OpportunityReason *string `json:"opportunity_reason"`
	DetectedEventType *string `json:"detected_event_type"`
}

// failureResponse はバッチ内で失敗した投稿。
type failureResponse struct {
	PostID string `json:"post_id"`
	Error  string `json:"error"`
}

// batchResponse はバッチスコアリングの集計結果。
type batchResponse struct {
	Total         int               `json:"total"`
	Processed     int               `json:"processed"`
	Opportunities int               `json:"opportunities"`
	Failures      []failureResponse `json:"failures"`
}

// recalculateResponse は集計再計算の結果。
type recalculateResponse struct {
	Chapters int `json:"chapters"`
}

// ListOpportunities はスコア上位の機会投稿を返す。
// GET /api/opportunities?limit=N
func (h *AnalysisHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntQuery(r, "limit", h.defaultLimit, maxQueryLimit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	posts, err := h.service.GetTopOpportunities(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := opportunityListResponse{
		Opportunities: make([]opportunityResponse, 0, len(posts)),
	}
	for _, p := range posts {
		resp.Opportunities = append(resp.Opportunities, h.toOpportunityResponse(p))
	}
	resp.Count = len(resp.Opportunities)

	writeJSON(w, http.StatusOK, resp)
}

// AnalyzePost は1件の投稿をスコアリングする。
// POST /api/posts/{id}/analyze
func (h *AnalysisHandler) AnalyzePost(w http.ResponseWriter, r *http.Request) {
	postID, err := parseUUIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.AnalyzePost(r.Context(), postID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, scoreResponse{
		PostID:            postID,
		IsOpportunity:     result.IsOpportunity,
		OpportunityScore:  result.OpportunityScore,
		OpportunityReason: result.OpportunityReason,
		DetectedEventType: result.DetectedEventType,
	})
}

// AnalyzeChapter はチャプターの最新投稿をスコアリングする。
// POST /api/chapters/{id}/analyze?limit=N
func (h *AnalysisHandler) AnalyzeChapter(w http.ResponseWriter, r *http.Request) {
	chapterID, err := parseUUIDParam(r, "id")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	limit, err := parseIntQuery(r, "limit", engagement.DefaultChapterLimit, maxQueryLimit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.AnalyzeChapterPosts(r.Context(), chapterID, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchResponse(result))
}

// AnalyzeRecent は直近days日の全投稿をスコアリングする。
// POST /api/analysis/recent?days=N
func (h *AnalysisHandler) AnalyzeRecent(w http.ResponseWriter, r *http.Request) {
	days, err := parseIntQuery(r, "days", engagement.DefaultRecentDays, maxQueryDays)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	result, err := h.service.AnalyzeAllRecentPosts(r.Context(), days)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toBatchResponse(result))
}

// RecalculateEngagement はアウトリーチ記録のあるチャプターの集計を再計算する。
// POST /api/engagement/recalculate
func (h *AnalysisHandler) RecalculateEngagement(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.RecalculateEngagementScores(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, recalculateResponse{Chapters: n})
}

func (h *AnalysisHandler) toOpportunityResponse(p *model.PostWithChapter) opportunityResponse {
	return opportunityResponse{
		ID:                p.ID,
		ChapterID:         p.ChapterID,
		ChapterName:       p.ChapterName,
		UniversityName:    p.UniversityName,
		CaptionPreview:    h.sanitizer.Preview(p.Caption, captionPreviewRunes),
		PostURL:           p.PostURL,
		PostedAt:          p.PostedAt,
		OpportunityScore:  p.OpportunityScore,
		OpportunityReason: p.OpportunityReason,
		DetectedEventType: p.DetectedEventType,
		AnalyzedAt:        p.AnalyzedAt,
	}
}

func toBatchResponse(result *engagement.BatchResult) batchResponse {
	resp := batchResponse{Failures: []failureResponse{}}
	if result == nil {
		return resp
	}
	resp.Total = result.Total
	resp.Processed = result.Processed
	resp.Opportunities = result.Opportunities
	for _, f := range result.Failures {
		resp.Failures = append(resp.Failures, failureResponse{PostID: f.PostID, Error: f.Err.Error()})
	}
	return resp
}

// parseUUIDParam はURLパラメータをUUIDとして検証し、正規化した文字列を返す。
func parseUUIDParam(r *http.Request, key string) (string, error) {
	raw := chi.URLParam(r, key)
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", model.NewInvalidInputError(key + " must be a UUID")
	}
	return id.String(), nil
}

// parseIntQuery は正の整数クエリパラメータを読み取る。未指定の場合はdefを返す。
// 1未満またはmaxを超える値はINVALID_INPUTエラーになる。
func parseIntQuery(r *http.Request, key string, def, max int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > max {
		return 0, model.NewInvalidInputError(key + " must be between 1 and " + strconv.Itoa(max))
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		if statusCode >= http.StatusInternalServerError {
			slog.Error("analysis request failed", slog.String("error", err.Error()))
		}
		middleware.WriteErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodePostNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case model.ErrCodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
