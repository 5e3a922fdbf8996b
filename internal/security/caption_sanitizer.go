// Package security はSNS由来テキストを表示用に無害化する機能を提供する。
//
// キャプションは外部の取り込み処理から届く未検証の文字列で、
// HTMLタグや文字参照が混入していることがある。CLIとAPIの双方で
// プレーンテキストとして表示するため、bluemondayのStrictPolicyで
// 全タグを除去したうえで文字参照を復元する。
package security

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ellipsis は切り詰めたプレビューの末尾に付ける。
const ellipsis = "..."

// CaptionSanitizer はキャプションをプレーンテキスト化する。
// bluemondayのポリシーはスレッドセーフなので、1つのインスタンスを共有してよい。
type CaptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewCaptionSanitizer はCaptionSanitizerの新しいインスタンスを生成する。
func NewCaptionSanitizer() *CaptionSanitizer {
	return &CaptionSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// PlainText はタグを除去し、文字参照を復元し、連続する空白を1つにまとめる。
// 空文字列の入力には空文字列を返す。
func (s *CaptionSanitizer) PlainText(caption string) string {
	if caption == "" {
		return ""
	}
	// StrictPolicyは出力時に&等をエスケープするため、最後に復元する
	stripped := s.policy.Sanitize(caption)
	return strings.Join(strings.FieldsFunc(html.UnescapeString(stripped), unicode.IsSpace), " ")
}

// Preview はPlainTextの結果を最大maxRunes文字に切り詰める。
// 切り詰めた場合は末尾に"..."を付け、全体でmaxRunes文字以内に収める。
// maxRunesが0以下の場合は切り詰めない。
func (s *CaptionSanitizer) Preview(caption string, maxRunes int) string {
	text := s.PlainText(caption)
	if maxRunes <= 0 {
		return text
	}

	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}

	cut := maxRunes - len(ellipsis)
	if cut < 0 {
		cut = 0
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace) + ellipsis
}
