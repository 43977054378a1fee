// Package item はコレクターの生データからItemを組み立て、事前フィルタを適用する。
package item

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hitoshi/newsrelay/internal/model"
	"github.com/hitoshi/newsrelay/internal/security"
)

// SourceMeta はItemに引き継ぐ配信元の情報。
type SourceMeta struct {
	Name string
	Tag  string
}

// Builder はRawItemを正規化してItemを生成する。
type Builder struct {
	normalizer *security.TextNormalizer
	now        func() time.Time
}

// NewBuilder は新しいBuilderを生成する。
func NewBuilder(normalizer *security.TextNormalizer) *Builder {
	return &Builder{
		normalizer: normalizer,
		now:        time.Now,
	}
}

// Build はRawItemからItemを生成する。
// タイトルとリンクの両方が空の場合は false を返す。
// 公開日時が取得できない場合は現在時刻で補完し、推定フラグを付与する。
func (b *Builder) Build(raw model.RawItem, src SourceMeta) (model.Item, bool) {
	title := b.normalizer.Normalize(raw.Title)
	link := security.CleanURL(raw.Link)
	if link == "" && isURL(raw.GUID) {
		link = security.CleanURL(raw.GUID)
	}
	if title == "" && link == "" {
		return model.Item{}, false
	}

	it := model.Item{
		Title:   title,
		Summary: b.normalizer.Normalize(raw.Summary),
		Link:    link,
		Source:  src.Name,
		Tag:     src.Tag,
	}

	if raw.PublishedAt != nil && !raw.PublishedAt.IsZero() {
		it.PublishedAt = raw.PublishedAt.UTC()
	} else {
		it.PublishedAt = b.now().UTC()
		it.DateEstimated = true
	}

	it.ID = Fingerprint(it)
	return it, true
}

// Fingerprint はItemの内容からIDを導出する。
// リンクがあればリンク、なければタイトルと公開日時、日時も推定値ならタイトルのみを使う。
func Fingerprint(it model.Item) string {
	basis := it.Link
	if basis == "" {
		basis = it.Title
		if !it.DateEstimated {
			basis += "|" + it.PublishedAt.UTC().Format(time.RFC3339)
		}
	}
	sum := sha256.Sum256([]byte(basis))
	return hex.EncodeToString(sum[:])[:32]
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
