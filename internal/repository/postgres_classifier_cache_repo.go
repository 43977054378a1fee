package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// PostgresClassifierCacheRepo はPostgreSQLを使用した分類器キャッシュリポジトリ。
type PostgresClassifierCacheRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresClassifierCacheRepo はPostgresClassifierCacheRepoを生成する。
func NewPostgresClassifierCacheRepo(db *sql.DB) *PostgresClassifierCacheRepo {
	return &PostgresClassifierCacheRepo{db: db, now: time.Now}
}

// Get は有効期限内のキャッシュ値を返す。
func (r *PostgresClassifierCacheRepo) Get(ctx context.Context, key string) (bool, bool, error) {
	var value bool
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM classifier_cache WHERE cache_key = $1 AND expires_at > $2`,
		key, r.now().UTC(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("分類器キャッシュの取得に失敗しました: %w", err)
	}
	return value, true, nil
}

// Set はキャッシュ値をUPSERTする。同じキーの値と有効期限は上書きされる。
func (r *PostgresClassifierCacheRepo) Set(ctx context.Context, key, kind string, value bool, ttl time.Duration) error {
	now := r.now().UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO classifier_cache (cache_key, kind, value, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (cache_key) DO UPDATE
		 SET kind = EXCLUDED.kind,
		     value = EXCLUDED.value,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at`,
		key, kind, value, now, now.Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("分類器キャッシュの保存に失敗しました: %w", err)
	}
	return nil
}

// DeleteExpired は期限切れのキャッシュを削除する。
func (r *PostgresClassifierCacheRepo) DeleteExpired(ctx context.Context) (int64, error) {
	query, args, err := deleteExpiredQuery(r.now())
	if err != nil {
		return 0, fmt.Errorf("キャッシュ削除のクエリ生成に失敗しました: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("期限切れキャッシュの削除に失敗しました: %w", err)
	}
	return res.RowsAffected()
}

func deleteExpiredQuery(now time.Time) (string, []interface{}, error) {
	return psql.
		Delete("classifier_cache").
		Where(sq.LtOrEq{"expires_at": now.UTC()}).
		ToSql()
}
