package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/hitoshi/newsrelay/internal/model"
)

// psql はPostgreSQLのプレースホルダ形式を使うクエリビルダ。
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresLedgerRepo はPostgreSQLを使用した配信済み台帳リポジトリ。
type PostgresLedgerRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresLedgerRepo はPostgresLedgerRepoを生成する。
func NewPostgresLedgerRepo(db *sql.DB) *PostgresLedgerRepo {
	return &PostgresLedgerRepo{db: db, now: time.Now}
}

// Exists は指定キーが記録済みかを返す。
func (r *PostgresLedgerRepo) Exists(ctx context.Context, newsID, source string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM published_news WHERE news_id = $1 AND source = $2)`,
		newsID, source,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("配信記録の確認に失敗しました: %w", err)
	}
	return exists, nil
}

// Insert は配信記録を追加する。ON CONFLICT DO NOTHING により重複は無視される。
// 新規に記録した場合のみ record の ID と RecordedAt を設定して true を返す。
func (r *PostgresLedgerRepo) Insert(ctx context.Context, record *model.PublishedRecord) (bool, error) {
	id := uuid.New().String()
	recordedAt := r.now().UTC()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO published_news (id, news_id, link, source, published_at, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (news_id, source) DO NOTHING`,
		id, record.NewsID, record.Link, record.Source, record.PublishedAt.UTC(), recordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("配信記録の追加に失敗しました: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("配信記録の追加件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	record.ID = id
	record.RecordedAt = recordedAt
	return true, nil
}

// ListRecent は記録日時の新しい順に最大limit件を返す。
func (r *PostgresLedgerRepo) ListRecent(ctx context.Context, limit int) ([]model.PublishedRecord, error) {
	query, args, err := listRecentQuery(limit)
	if err != nil {
		return nil, fmt.Errorf("配信記録一覧のクエリ生成に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("配信記録一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	records := make([]model.PublishedRecord, 0, limit)
	for rows.Next() {
		var rec model.PublishedRecord
		if err := rows.Scan(&rec.ID, &rec.NewsID, &rec.Link, &rec.Source, &rec.PublishedAt, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("配信記録のスキャンに失敗しました: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("配信記録一覧の読み込みに失敗しました: %w", err)
	}

	return records, nil
}

// DeleteOlderThan は記録日時がcutoffより前の記録を削除する。
func (r *PostgresLedgerRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := deleteOlderThanQuery(cutoff)
	if err != nil {
		return 0, fmt.Errorf("配信記録削除のクエリ生成に失敗しました: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("古い配信記録の削除に失敗しました: %w", err)
	}
	return res.RowsAffected()
}

func listRecentQuery(limit int) (string, []interface{}, error) {
	return psql.
		Select("id", "news_id", "link", "source", "published_at", "recorded_at").
		From("published_news").
		OrderBy("recorded_at DESC", "id").
		Limit(uint64(limit)).
		ToSql()
}

func deleteOlderThanQuery(cutoff time.Time) (string, []interface{}, error) {
	return psql.
		Delete("published_news").
		Where(sq.Lt{"recorded_at": cutoff.UTC()}).
		ToSql()
}
