// Package report はCLI向けの分析結果サマリーを出力する。
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fraternitybase/engagement/internal/engagement"
	"github.com/fraternitybase/engagement/internal/model"
	"github.com/fraternitybase/engagement/internal/security"
)

const (
	// TopN はサマリーに表示する機会投稿の件数。
	TopN = 10
	// CaptionPreviewRunes はキャプションプレビューの最大文字数。
	CaptionPreviewRunes = 100

	dateLayout = "2006-01-02"
	divider    = "------------------------------------------------------------"
)

// Writer は分析サマリーをテキストで書き出す。
type Writer struct {
	w         io.Writer
	sanitizer *security.CaptionSanitizer
}

// NewWriter はWriterを生成する。
func NewWriter(w io.Writer, sanitizer *security.CaptionSanitizer) *Writer {
	if sanitizer == nil {
		sanitizer = security.NewCaptionSanitizer()
	}
	return &Writer{w: w, sanitizer: sanitizer}
}

// WriteBatch はバッチの件数集計を書き出す。scopeは対象範囲の説明（例: "last 30 days"）。
func (r *Writer) WriteBatch(scope string, result *engagement.BatchResult) error {
	if result == nil {
		result = &engagement.BatchResult{}
	}

	tw := tabwriter.NewWriter(r.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Engagement analysis (%s)\n", scope)
	fmt.Fprintln(tw, divider)
	fmt.Fprintf(tw, "Posts found:\t%d\n", result.Total)
	fmt.Fprintf(tw, "Posts analyzed:\t%d\n", result.Processed)
	fmt.Fprintf(tw, "Opportunities:\t%d\n", result.Opportunities)
	if len(result.Failures) > 0 {
		fmt.Fprintf(tw, "Failed:\t%d\n", len(result.Failures))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, f := range result.Failures {
		if _, err := fmt.Fprintf(r.w, "  ! %s: %v\n", f.PostID, f.Err); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(r.w)
	return err
}

// WriteOpportunities は機会投稿を最大TopN件書き出す。
func (r *Writer) WriteOpportunities(posts []*model.PostWithChapter) error {
	if len(posts) == 0 {
		_, err := fmt.Fprintln(r.w, "No opportunities found.")
		return err
	}

	if len(posts) > TopN {
		posts = posts[:TopN]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top %d opportunities\n", len(posts))
	b.WriteString(divider + "\n")

	for i, p := range posts {
		fmt.Fprintf(&b, "%2d. %s (%s)  score %d\n", i+1, orDash(p.ChapterName), orDash(p.UniversityName), p.OpportunityScore)
		fmt.Fprintf(&b, "    Reason:  %s\n", orDash(deref(p.OpportunityReason)))
		fmt.Fprintf(&b, "    Event:   %s\n", orDash(deref(p.DetectedEventType)))
		fmt.Fprintf(&b, "    Posted:  %s\n", formatDate(p.PostedAt))
		fmt.Fprintf(&b, "    Caption: %s\n", orDash(r.sanitizer.Preview(p.Caption, CaptionPreviewRunes)))
		fmt.Fprintf(&b, "    URL:     %s\n", orDash(p.PostURL))
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(dateLayout)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
