// Package cleanup は台帳と判定キャッシュの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過した配信記録と、有効期限切れの判定キャッシュを
// 日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// LedgerPurger は保持期間を超過した配信記録を削除する。
type LedgerPurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// ExpiredDeleter は有効期限切れのキャッシュを削除する。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// CleanupJob は台帳と判定キャッシュの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	ledger        LedgerPurger
	cache         ExpiredDeleter
	logger        *slog.Logger
	RetentionDays int // 配信記録の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// cache が nil の場合は判定キャッシュの削除を行わない。
func NewCleanupJob(ledger LedgerPurger, cache ExpiredDeleter, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		ledger:        ledger,
		cache:         cache,
		logger:        logger,
		RetentionDays: 30,
	}
}

// Run は保持期間を超過した配信記録と期限切れの判定キャッシュを削除する。
// 台帳の削除に失敗してもキャッシュの削除は試みる。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	retention := time.Duration(j.RetentionDays) * 24 * time.Hour

	var firstErr error
	deletedCount, err := j.ledger.Purge(ctx, retention)
	if err != nil {
		j.logger.Error("台帳クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		firstErr = fmt.Errorf("台帳クリーンアップの実行に失敗: %w", err)
	}

	var expiredCount int64
	if j.cache != nil {
		expiredCount, err = j.cache.DeleteExpired(ctx)
		if err != nil {
			j.logger.Error("判定キャッシュの削除に失敗しました",
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = fmt.Errorf("判定キャッシュの削除に失敗: %w", err)
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int64("expired_cache_count", expiredCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
