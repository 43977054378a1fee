package collector

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
)

const acceptHTML = "text/html, application/xhtml+xml, */*;q=0.8"

// HTMLCollector はCSSセレクタでHTMLページから記事を抽出する。
type HTMLCollector struct {
	base
}

// NewHTMLCollector は新しいHTMLCollectorを生成する。
func NewHTMLCollector(opts Options, builder *item.Builder, logger *slog.Logger) *HTMLCollector {
	return &HTMLCollector{base{fetch: newHTTPFetcher(opts), builder: builder, logger: logger}}
}

// Collect はページを取得し、html_selector に従って記事を抽出する。
// タイトルかリンクが取れないノードは捨てる。公開日時はページからは取らない。
func (c *HTMLCollector) Collect(ctx context.Context, src config.Source) Result {
	start := time.Now()

	resp, err := c.fetch.get(ctx, src.HTMLURL, acceptHTML)
	if err != nil {
		return c.fail(src, err, start)
	}

	doc, err := parseDocument(resp)
	if err != nil {
		return c.fail(src, err, start)
	}

	pageURL, err := url.Parse(resp.url)
	if err != nil {
		return c.fail(src, fmt.Errorf("ページURLの解析に失敗: %w", err), start)
	}

	raws := extractBySelector(doc, src.HTMLSelector, pageURL)
	if src.MaxItems > 0 && len(raws) > src.MaxItems {
		raws = raws[:src.MaxItems]
	}
	if len(raws) == 0 {
		c.logger.Warn("セレクタに一致する記事がありません",
			slog.String("source", src.Name),
			slog.String("item_selector", src.HTMLSelector.Item),
		)
	}
	return c.ok(src, c.build(raws, item.SourceMeta{Name: src.Name, Tag: src.Tag}), start)
}

// parseDocument はContent-Typeとmetaタグから文字コードを判定してHTMLを解析する。
func parseDocument(resp *response) (*goquery.Document, error) {
	reader, err := charset.NewReader(bytes.NewReader(resp.body), resp.header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("文字コードの変換に失敗: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("HTMLのパースに失敗: %w", err)
	}
	return doc, nil
}

func extractBySelector(doc *goquery.Document, sel config.HTMLSelector, pageURL *url.URL) []model.RawItem {
	var raws []model.RawItem
	doc.Find(sel.Item).Each(func(_ int, node *goquery.Selection) {
		title := textOf(node, sel.Title)
		link := linkOf(node, sel.Link)
		if title == "" || link == "" {
			return
		}
		raw := model.RawItem{
			Title: title,
			Link:  resolveURL(pageURL, link),
		}
		if sel.Summary != "" {
			raw.Summary = textOf(node, sel.Summary)
		}
		raws = append(raws, raw)
	})
	return raws
}

// textOf はセレクタに一致する最初の要素のテキストを返す。セレクタが空ならノード自身のテキスト。
func textOf(node *goquery.Selection, selector string) string {
	target := node
	if selector != "" {
		target = node.Find(selector).First()
	}
	return strings.TrimSpace(target.Text())
}

// linkOf はリンクを取り出す。"a::attr(data-href)" のように属性を指定でき、
// 指定がない場合は href を使う。セレクタ部分が空ならノード自身を見る。
func linkOf(node *goquery.Selection, selector string) string {
	if selector == "" {
		selector = "a"
	}
	css, attr := selector, "href"
	if i := strings.Index(selector, "::attr("); i >= 0 {
		css = strings.TrimSpace(selector[:i])
		attr = strings.TrimSpace(strings.TrimSuffix(selector[i+len("::attr("):], ")"))
	}

	target := node
	if css != "" {
		target = node.Find(css).First()
	}
	v, _ := target.Attr(attr)
	return strings.TrimSpace(v)
}
