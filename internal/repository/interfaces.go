// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/newsrelay/internal/model"
)

// LedgerRepository は配信済みニュース台帳の永続化インターフェース。
// 台帳のキーは (news_id, source) で、同じキーは1件しか記録されない。
type LedgerRepository interface {
	// Exists は指定キーが記録済みかを返す。
	Exists(ctx context.Context, newsID, source string) (bool, error)

	// Insert は配信記録を追加する。
	// キーが既に存在する場合は何もせず false を返す。新規に記録した場合のみ true を返す。
	Insert(ctx context.Context, record *model.PublishedRecord) (bool, error)

	// ListRecent は記録日時の新しい順に最大limit件を返す。
	ListRecent(ctx context.Context, limit int) ([]model.PublishedRecord, error)

	// DeleteOlderThan は記録日時がcutoffより前の記録を削除し、削除件数を返す。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClassifierCacheRepository は分類器の判定結果キャッシュの永続化インターフェース。
type ClassifierCacheRepository interface {
	// Get は有効期限内のキャッシュ値を返す。存在しないか期限切れの場合は found=false を返す。
	Get(ctx context.Context, key string) (value bool, found bool, err error)

	// Set はキャッシュ値をUPSERTする。
	Set(ctx context.Context, key, kind string, value bool, ttl time.Duration) error

	// DeleteExpired は期限切れのキャッシュを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}
