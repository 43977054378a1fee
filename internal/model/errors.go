package model

import (
	"errors"
	"fmt"
)

// 分類器・要約器の呼び出しで呼び出し元が分岐に使うエラー。
var (
	// ErrRateLimited はLLMのAPIがレート制限を返したことを示す。
	ErrRateLimited = errors.New("llm rate limited")
	// ErrUnparseable はLLMの応答から判定結果を読み取れなかったことを示す。
	ErrUnparseable = errors.New("llm response is unparseable")
)

// APIError はステータスAPIの統一エラーフォーマットを表す。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, storage, system
	Action   string // 対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidLimit      = "INVALID_LIMIT"
	ErrCodeLedgerUnavailable = "LEDGER_UNAVAILABLE"
	ErrCodeTooManyRequests   = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// NewInvalidLimitError は件数指定が不正な場合のエラーを生成する。
func NewInvalidLimitError(raw string, maxLimit int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimit,
		Message:  fmt.Sprintf("無効な件数指定です: %s", raw),
		Category: "validation",
		Action:   fmt.Sprintf("limit には1から%dまでの整数を指定してください。", maxLimit),
	}
}

// NewLedgerUnavailableError は公開台帳を参照できない場合のエラーを生成する。
func NewLedgerUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeLedgerUnavailable,
		Message:  "公開台帳を参照できません。",
		Category: "storage",
		Action:   "データベースの状態を確認してください。",
	}
}
