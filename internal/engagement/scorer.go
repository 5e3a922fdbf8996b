// Package engagement はSNS投稿のスポンサー機会スコアリングを提供する。
//
// Scoreはキャプション・投稿日時・エンゲージメント率とキーワード表から
// 説明可能なスコアを算出する純粋関数で、状態を持たない。
// 加点値と閾値は固定の契約値であり、調整可能なパラメータではない。
package engagement

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fraternitybase/engagement/internal/model"
)

const (
	// OpportunityThreshold は機会と判定する未クランプ合計スコアの下限。
	OpportunityThreshold = 20
	// MaxScore は保存されるスコアの上限。
	MaxScore = 100

	recencyWindow       = 7 * 24 * time.Hour
	recencyBonus        = 10
	highEngagementRate  = 5.0
	highEngagementBonus = 15
	partnershipBonus    = 20
	vendorNeedBonus     = 12
	reasonSeparator     = "; "
	reasonRecent        = "Posted in last 7 days (timely engagement)"
	reasonPartnership   = "Contains partnership signal keywords"
	reasonVendorNeed    = "Indicates vendor need"
	eventReasonPrefix   = "Event pattern: "
)

// eventPattern はイベント種別の正規表現と加点値の組。
type eventPattern struct {
	label string
	re    *regexp.Regexp
	bonus int
}

// eventPatterns は評価順に並んだイベントパターン。最初に一致したものだけが加点される。
// 順序を入れ替えると記録されるイベント種別が変わる。
var eventPatterns = []eventPattern{
	{label: "recruitment", re: regexp.MustCompile(`(?i)\b(rush(es|ing)?|recruit(ment|ments|ing|s|ed)?|bid days?)\b`), bonus: 15},
	{label: "philanthropy", re: regexp.MustCompile(`(?i)\b(philanthrop(y|ies|ic)|charit(y|ies|able)|fundrais(er|ers|ing|ed))\b`), bonus: 12},
	{label: "social", re: regexp.MustCompile(`(?i)\b(socials?|mixers?|date[- ]?part(y|ies)|formals?)\b`), bonus: 10},
	{label: "brotherhood", re: regexp.MustCompile(`(?i)\b(brotherhoods?|sisterhoods?)\b`), bonus: 5},
	{label: "sports", re: regexp.MustCompile(`(?i)\b(intramurals?|sports?)\b`), bonus: 5},
}

// partnershipPatterns はスポンサー・提携の募集を示すパターン。
// 複数行キャプションでも need と help が別の行にあれば一致する。
var partnershipPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bsponsor`),
	regexp.MustCompile(`(?i)\bpartner(s|ed|ing|ships?)?\b`),
	regexp.MustCompile(`(?i)\blooking for\b`),
	regexp.MustCompile(`(?i)\bvendors?\b`),
	regexp.MustCompile(`(?is)\bneed(s|ed)?\b.*\bhelp\b`),
	regexp.MustCompile(`(?i)\bseek(s|ing)?\b`),
}

// vendorNeedPatterns は外部業者の需要を示すパターン。
var vendorNeedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(merch(andise)?|apparel|t-?shirts?|shirts?|swag)\b`),
	regexp.MustCompile(`(?i)\b(photographers?|photography|photos?)\b`),
	regexp.MustCompile(`(?i)\b(djs?|music)\b`),
	regexp.MustCompile(`(?i)\b(catering|caterers?|cater(ed)?|food)\b`),
}

// Score は1件の投稿をスコアリングする。
// nowは評価時刻で、直近7日ボーナスの判定にのみ使う。
// キーワード表の順序は、event_typeカテゴリのキーワードのうちどれを
// detected_event_typeとして記録するかに影響する（先勝ち）。
func Score(post model.Post, keywords []model.Keyword, now time.Time) model.ScoreResult {
	score := 0
	var reasons []string
	var eventType string

	caption := strings.ToLower(post.Caption)

	// 1. キーワードの部分一致
	if caption != "" {
		for _, kw := range keywords {
			needle := strings.ToLower(strings.TrimSpace(kw.Keyword))
			if needle == "" {
				continue
			}
			if !strings.Contains(caption, needle) {
				continue
			}
			score += kw.EffectiveWeight()
			reasons = append(reasons, `Contains "`+kw.Keyword+`" (`+kw.Category+`)`)
			if kw.Category == model.KeywordCategoryEventType && eventType == "" {
				eventType = kw.Keyword
			}
		}
	}

	// 2. 直近7日ボーナス
	if post.PostedAt != nil {
		age := now.Sub(*post.PostedAt)
		if age <= recencyWindow {
			score += recencyBonus
			reasons = append(reasons, reasonRecent)
		}
	}

	// 3. 高エンゲージメントボーナス
	if post.EngagementRate != nil && *post.EngagementRate > highEngagementRate {
		score += highEngagementBonus
		rate := strconv.FormatFloat(*post.EngagementRate, 'f', -1, 64)
		reasons = append(reasons, fmt.Sprintf("High engagement rate (%s%%)", rate))
	}

	if caption != "" {
		// 4. イベントパターン（先勝ち）
		for _, p := range eventPatterns {
			if !p.re.MatchString(caption) {
				continue
			}
			score += p.bonus
			reasons = append(reasons, eventReasonPrefix+p.label)
			if eventType == "" {
				eventType = p.label
			}
			break
		}

		// 5. 提携シグナル
		if matchesAny(partnershipPatterns, caption) {
			score += partnershipBonus
			reasons = append(reasons, reasonPartnership)
		}

		// 6. 業者ニーズ
		if matchesAny(vendorNeedPatterns, caption) {
			score += vendorNeedBonus
			reasons = append(reasons, reasonVendorNeed)
		}
	}

	// 7. 判定（閾値判定はクランプ前の合計で行う）
	result := model.ScoreResult{
		IsOpportunity:    score >= OpportunityThreshold,
		OpportunityScore: clamp(score),
	}
	if result.IsOpportunity {
		reason := strings.Join(reasons, reasonSeparator)
		result.OpportunityReason = &reason
	}
	if eventType != "" {
		result.DetectedEventType = &eventType
	}
	return result
}

// matchesAny はいずれかのパターンに一致するかを判定する。最初の一致で打ち切る。
func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, re := range patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}
