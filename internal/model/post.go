// Package model はドメインモデルを定義する。
package model

import "time"

// Post はチャプターのSNS投稿を表す。
// 投稿本体は外部の取り込み処理が作成し、スコアリングでは派生フィールドのみを更新する。
type Post struct {
	ID             string
	ChapterID      string
	Caption        string // NULLは空文字列として扱う
	PostedAt       *time.Time
	EngagementRate *float64 // パーセント値
	PostURL        string

	// 派生フィールド（スコアリング結果）
	IsOpportunity     bool
	OpportunityReason *string
	OpportunityScore  int
	DetectedEventType *string
	AnalyzedAt        *time.Time
}

// PostWithChapter は投稿と親チャプターの識別情報を結合したモデル。
// chapters、universitiesテーブルとJOINして取得される。
type PostWithChapter struct {
	Post
	ChapterName    string
	UniversityName string
}

// ScoreResult は投稿のスコアリング結果を表す。
// 同じキャプション・キーワード表・評価時刻に対して常に同じ結果になる。
type ScoreResult struct {
	IsOpportunity     bool
	OpportunityReason *string // IsOpportunityがfalseの場合はnil
	OpportunityScore  int     // 0〜100にクランプ済み
	DetectedEventType *string
}

// Apply はスコアリング結果を投稿の派生フィールドに上書きする。
func (r ScoreResult) Apply(p *Post, analyzedAt time.Time) {
	p.IsOpportunity = r.IsOpportunity
	p.OpportunityReason = r.OpportunityReason
	p.OpportunityScore = r.OpportunityScore
	p.DetectedEventType = r.DetectedEventType
	p.AnalyzedAt = &analyzedAt
}
