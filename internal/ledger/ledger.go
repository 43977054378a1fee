// Package ledger は配信済みニュースの台帳を扱う。
// 一時的なロック競合やタイムアウトは線形バックオフで再試行する。
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/newsrelay/internal/model"
	"github.com/hitoshi/newsrelay/internal/repository"
)

// 再試行対象のPostgreSQLエラーコード。
var retryableCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement_timeout)
}

// Config は台帳操作の設定。
type Config struct {
	// MaxRetries は初回の後に再試行する最大回数。
	MaxRetries int
	// RetryDelay は線形バックオフの1段分の待機時間。n回目の再試行前に n*RetryDelay 待つ。
	RetryDelay time.Duration
	// OpTimeout は1回の操作のタイムアウト。0以下の場合は呼び出し元のコンテキストに従う。
	OpTimeout time.Duration
}

// DefaultConfig はデフォルトの台帳設定を返す。
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 200 * time.Millisecond,
		OpTimeout:  5 * time.Second,
	}
}

// Ledger は配信済みニュースの台帳。
type Ledger struct {
	repo   repository.LedgerRepository
	cfg    Config
	logger *slog.Logger
}

// New は新しいLedgerを生成する。
func New(repo repository.LedgerRepository, cfg Config, logger *slog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
	}
}

// IsPublished は (id, source) が配信済みかを返す。
// 再試行しても失敗した場合はエラーをログに記録し、未配信として扱う。
func (l *Ledger) IsPublished(ctx context.Context, id, source string) bool {
	var exists bool
	err := l.withRetry(ctx, "is_published", func(ctx context.Context) error {
		var err error
		exists, err = l.repo.Exists(ctx, id, source)
		return err
	})
	if err != nil {
		l.logger.Error("配信済み確認に失敗したため未配信として扱います",
			slog.String("news_id", id),
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
		return false
	}
	return exists
}

// MarkPublished は配信済みとして記録する。
// 初めて記録した場合のみ true を返す。既に記録済みの場合は false を返す。
func (l *Ledger) MarkPublished(ctx context.Context, id, link, source string, publishedAt time.Time) (bool, error) {
	var inserted bool
	err := l.withRetry(ctx, "mark_published", func(ctx context.Context) error {
		var err error
		inserted, err = l.repo.Insert(ctx, &model.PublishedRecord{
			NewsID:      id,
			Link:        link,
			Source:      source,
			PublishedAt: publishedAt,
		})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark published: %w", err)
	}
	return inserted, nil
}

// LastPublished は直近に記録した最大limit件を新しい順に返す。
func (l *Ledger) LastPublished(ctx context.Context, limit int) ([]model.PublishedRecord, error) {
	var records []model.PublishedRecord
	err := l.withRetry(ctx, "last_published", func(ctx context.Context) error {
		var err error
		records, err = l.repo.ListRecent(ctx, limit)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list published: %w", err)
	}
	return records, nil
}

// Purge は retention より前に記録した行を削除し、削除件数を返す。
func (l *Ledger) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	var deleted int64
	err := l.withRetry(ctx, "purge", func(ctx context.Context) error {
		var err error
		deleted, err = l.repo.DeleteOlderThan(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge ledger: %w", err)
	}
	return deleted, nil
}

// IsRetryable はロック競合・デッドロック・タイムアウトなど再試行で回復しうるエラーかを返す。
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryableCodes[pqErr.Code]
	}
	return false
}

// withRetry は fn を実行し、再試行可能なエラーの場合は線形バックオフで再試行する。
// 呼び出し元のコンテキストが終了した場合は直ちに返る。
func (l *Ledger) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * l.cfg.RetryDelay
			l.logger.Warn("台帳操作を再試行します",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.Float64("delay_ms", float64(delay.Milliseconds())),
				slog.String("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = l.attempt(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil || !IsRetryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}

func (l *Ledger) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if l.cfg.OpTimeout <= 0 {
		return fn(ctx)
	}
	opCtx, cancel := context.WithTimeout(ctx, l.cfg.OpTimeout)
	defer cancel()
	return fn(opCtx)
}
