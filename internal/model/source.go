package model

import "time"

// SourceState は配信元ごとの収集状態を表す。
// プロセス内でのみ保持し、永続化しない。
type SourceState struct {
	Name              string
	FetchStatus       FetchStatus
	ConsecutiveErrors int
	ErrorMessage      string
	NextFetchAt       time.Time
	LastSuccessAt     time.Time
	UpdatedAt         time.Time
}

// FetchStatus は配信元の収集状態を表す。
type FetchStatus string

const (
	// FetchStatusActive は通常どおり収集する状態。
	FetchStatusActive FetchStatus = "active"
	// FetchStatusBackoff は連続失敗によりNextFetchAtまで収集を見送る状態。
	FetchStatusBackoff FetchStatus = "backoff"
)
