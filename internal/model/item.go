// Package model はドメインモデルを定義する。
package model

import "time"

// Item は収集したニュース1件を表す。
// 生成後はイミュータブルとして扱う。
type Item struct {
	// ID は正規化済みリンク（リンクがない場合はタイトル+公開日時）から導出したフィンガープリント。
	ID          string    `json:"id"`
	Title       string    `json:"title"`   // 正規化済み（HTML除去、空白圧縮）
	Summary     string    `json:"summary"` // 正規化済み
	Link        string    `json:"link"`    // トラッキングパラメータ除去済みURL
	Source      string    `json:"source"`  // 人間が読める配信元名
	Tag         string    `json:"tag"`     // 表示用カテゴリ（ハッシュタグとして描画）
	PublishedAt time.Time `json:"published_at"`
	// DateEstimated は公開日時が取得できず収集時刻で補完したことを示す。
	DateEstimated bool `json:"date_estimated"`
}

// ItemKey は冪等性キー (ID, Source) を表す。
type ItemKey struct {
	ID     string
	Source string
}

// Key はItemの冪等性キーを返す。
// 同じ内容でも配信元が異なれば別の公開単位として扱う。
func (i Item) Key() ItemKey {
	return ItemKey{ID: i.ID, Source: i.Source}
}

// RawItem はコレクターが取得した未正規化の記事データを表す。
// item.Builder によって Item に変換される。
type RawItem struct {
	Title       string
	Link        string
	Summary     string
	GUID        string
	PublishedAt *time.Time
}

// PublishedRecord は台帳に記録された公開済みレコードを表す。
type PublishedRecord struct {
	ID          string    `json:"id"`
	NewsID      string    `json:"news_id"`
	Link        string    `json:"link"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	RecordedAt  time.Time `json:"recorded_at"`
}
