package collector

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
)

const acceptFeed = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// RSSCollector はRSS/Atomフィードを収集する。
// 設定されたURLがHTMLページだった場合は、ページが告知するフィードを1回だけ辿る。
type RSSCollector struct {
	base
}

// NewRSSCollector は新しいRSSCollectorを生成する。
func NewRSSCollector(opts Options, builder *item.Builder, logger *slog.Logger) *RSSCollector {
	return &RSSCollector{base{fetch: newHTTPFetcher(opts), builder: builder, logger: logger}}
}

// Collect はフィードを取得してItemに変換する。
func (c *RSSCollector) Collect(ctx context.Context, src config.Source) Result {
	start := time.Now()

	resp, err := c.fetch.get(ctx, src.RSS, acceptFeed)
	if err != nil {
		return c.fail(src, err, start)
	}

	if !IsDirectFeed(resp.header.Get("Content-Type"), resp.body) {
		candidates := ParseFeedLinksFromHTML(resp.body, resp.url)
		if best := SelectBestFeed(candidates, resp.url); best != nil {
			c.logger.Info("HTMLページからフィードを検出しました",
				slog.String("source", src.Name),
				slog.String("page_url", resp.url),
				slog.String("feed_url", best.URL),
			)
			resp, err = c.fetch.get(ctx, best.URL, acceptFeed)
			if err != nil {
				return c.fail(src, err, start)
			}
		}
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.body))
	if err != nil {
		return c.fail(src, fmt.Errorf("フィードのパースに失敗: %w", err), start)
	}

	raws := rawItemsFromFeed(feed.Items)
	if src.MaxItems > 0 && len(raws) > src.MaxItems {
		raws = raws[:src.MaxItems]
	}
	return c.ok(src, c.build(raws, item.SourceMeta{Name: src.Name, Tag: src.Tag}), start)
}

// rawItemsFromFeed はgofeedの記事をRawItemに変換する。
// 公開日時は更新日時で、要約は本文で補完する。
func rawItemsFromFeed(items []*gofeed.Item) []model.RawItem {
	raws := make([]model.RawItem, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}

		raw := model.RawItem{
			Title:   it.Title,
			Link:    it.Link,
			Summary: it.Description,
			GUID:    it.GUID,
		}
		if raw.Summary == "" {
			raw.Summary = it.Content
		}

		if it.PublishedParsed != nil {
			t := *it.PublishedParsed
			raw.PublishedAt = &t
		} else if it.UpdatedParsed != nil {
			t := *it.UpdatedParsed
			raw.PublishedAt = &t
		}

		if raw.Link == "" && (strings.HasPrefix(raw.GUID, "http://") || strings.HasPrefix(raw.GUID, "https://")) {
			raw.Link = raw.GUID
		}

		raws = append(raws, raw)
	}
	return raws
}
