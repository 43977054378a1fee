package security

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	// 本文末尾の「続きを読む」系の定型句。以降は切り捨てる。
	readMorePattern = regexp.MustCompile(`(?i)\s*(читать далее|read more|подробнее).*$`)
	// テキスト中に埋め込まれたトラッキングパラメータ。
	trackingPattern = regexp.MustCompile(`[?&]utm_[A-Za-z_]+=[^\s&]*`)
)

// TextNormalizer は配信元から取り込んだタイトルと本文をプレーンテキストに正規化する。
// 出力はTelegramへ送る前に改めてHTMLエスケープされる。
type TextNormalizer struct {
	policy *bluemonday.Policy
}

// NewTextNormalizer は新しいTextNormalizerを生成する。
// すべてのタグを除去するStrictPolicyを使い、ブロック要素の境界には空白を入れる。
func NewTextNormalizer() *TextNormalizer {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)
	return &TextNormalizer{policy: p}
}

// Normalize はタグ除去、エンティティのデコード、空白の圧縮、
// トラッキングパラメータと末尾の定型句の除去を行う。
func (n *TextNormalizer) Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyは出力をエスケープするため、最後にデコードする
	text := n.policy.Sanitize(raw)
	text = html.UnescapeString(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = trackingPattern.ReplaceAllString(text, "")
	text = readMorePattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// CleanURL はURLから utm_* クエリパラメータを除去する。
// 解析できないURLはトリムだけして返す。
func CleanURL(raw string) string {
	raw = strings.TrimSpace(html.UnescapeString(raw))
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.RawQuery == "" {
		return u.String()
	}
	q := u.Query()
	changed := false
	for key := range q {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			q.Del(key)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	return u.String()
}
