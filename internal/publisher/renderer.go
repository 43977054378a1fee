package publisher

import (
	"html"
	"strings"

	"github.com/hitoshi/newsrelay/internal/model"
)

// DefaultLinkLabel は記事へのリンクの表示名。
const DefaultLinkLabel = "Читать полностью"

// Renderer は投稿テキストをTelegramのHTML形式で組み立てる。
type Renderer struct {
	linkLabel string
}

// NewRenderer は新しいRendererを生成する。
func NewRenderer(linkLabel string) *Renderer {
	if linkLabel == "" {
		linkLabel = DefaultLinkLabel
	}
	return &Renderer{linkLabel: linkLabel}
}

// Render はハッシュタグ行、本文、記事へのリンクを改行でつないだテキストを返す。
// 緊急の場合はハッシュタグの前に ⚡ を付ける。本文とタグはHTMLエスケープする。
func (r *Renderer) Render(it model.Item, body string, urgent bool) string {
	var parts []string

	if tag := Hashtag(it.Tag); tag != "" {
		tag = html.EscapeString(tag)
		if urgent {
			tag = "⚡" + tag
		}
		parts = append(parts, tag)
	} else if urgent {
		parts = append(parts, "⚡")
	}

	if body = strings.TrimSpace(body); body != "" {
		parts = append(parts, html.EscapeString(body))
	}

	if it.Link != "" {
		parts = append(parts, `<a href="`+html.EscapeString(it.Link)+`">`+html.EscapeString(r.linkLabel)+`</a>`)
	}

	return strings.Join(parts, "\n")
}

// Hashtag はタグをハッシュタグ表記に変換する。空白は "_" に置き換え、先頭に "#" がなければ付ける。
func Hashtag(tag string) string {
	tag = strings.Join(strings.Fields(tag), "_")
	if tag == "" || tag == "#" {
		return ""
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	return tag
}
