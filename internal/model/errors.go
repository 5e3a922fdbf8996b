// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIやCLIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, analysis, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因エラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodePostNotFound     = "POST_NOT_FOUND"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeInvalidInput     = "INVALID_INPUT"
)

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("post not found: %s", postID),
		Category: "analysis",
		Action:   "投稿IDを確認してください。",
	}
}

// NewStoreUnavailableError はデータストア障害エラーを生成する。
// 原因エラーはそのまま保持し、リトライは行わない。
func NewStoreUnavailableError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  fmt.Sprintf("store unavailable during %s", op),
		Category: "system",
		Action:   "データベースの接続状態を確認してから再度お試しください。",
		Err:      err,
	}
}

// NewInvalidInputError は入力値エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  fmt.Sprintf("invalid input: %s", reason),
		Category: "validation",
		Action:   "入力値を確認してください。",
	}
}

// HasCode はerrのチェーンに指定コードのAPIErrorが含まれるかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// IsNotFound は投稿未検出エラーかどうかを判定する。
func IsNotFound(err error) bool {
	return HasCode(err, ErrCodePostNotFound)
}

// IsStoreUnavailable はデータストア障害エラーかどうかを判定する。
func IsStoreUnavailable(err error) bool {
	return HasCode(err, ErrCodeStoreUnavailable)
}
