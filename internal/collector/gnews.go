package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
)

const (
	// DefaultGoogleNewsBaseURL はGoogle NewsのRSSエンドポイント。
	DefaultGoogleNewsBaseURL = "https://news.google.com/rss"

	maxPublisherSuffixRunes = 50
	maxGoogleSummaryRunes   = 500
	maxTagQueryRunes        = 20
)

// googleNewsTopics はトピック名からGoogle NewsのトピックIDへの対応。
var googleNewsTopics = map[string]string{
	"world":      "CAAqJggKIiBDQkFTRWdvSUwyMHZNRGx1YlY4U0FtVnVHZ0pWVXlnQVAB",
	"nation":     "CAAqIggKIhxDQkFTRHdvSkwyMHZNRGxqTjNjd0VnSmxiaWdBUAE",
	"business":   "CAAqJggKIiBDQkFTRWdvSUwyMHZNRGx6TVdZU0FtVnVHZ0pWVXlnQVAB",
	"technology": "CAAqJggKIiBDQkFTRWdvSUwyMHZNRGRqTVhZU0FtVnVHZ0pWVXlnQVAB",
	"science":    "CAAqJggKIiBDQkFTRWdvSUwyMHZNRFp0Y1RjU0FtVnVHZ0pWVXlnQVAB",
	"health":     "CAAqIQgKIhtDQkFTRGdvSUwyMHZNR3QwTlRFU0FtVnVLQUFQAQ",
	"sports":     "CAAqJggKIiBDQkFTRWdvSUwyMHZNRFp1ZEdvU0FtVnVHZ0pWVXlnQVAB",
}

var unsafeTagChars = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// GoogleNewsCollector はGoogle NewsのトピックフィードとRSS検索を収集する。
type GoogleNewsCollector struct {
	base
	baseURL string
}

// NewGoogleNewsCollector は新しいGoogleNewsCollectorを生成する。
func NewGoogleNewsCollector(opts Options, builder *item.Builder, logger *slog.Logger) *GoogleNewsCollector {
	return &GoogleNewsCollector{
		base:    base{fetch: newHTTPFetcher(opts), builder: builder, logger: logger},
		baseURL: DefaultGoogleNewsBaseURL,
	}
}

// Collect はトピックまたは検索クエリのフィードを取得する。
// 記事の配信元は "Google News (<発行元>)" とし、タイトル末尾の " - 発行元" を取り除く。
func (c *GoogleNewsCollector) Collect(ctx context.Context, src config.Source) Result {
	start := time.Now()

	feedURL, tag := c.feedURL(src)
	resp, err := c.fetch.get(ctx, feedURL, acceptFeed)
	if err != nil {
		return c.fail(src, err, start)
	}

	feed, err := gofeed.NewParser().ParseString(string(resp.body))
	if err != nil {
		return c.fail(src, fmt.Errorf("フィードのパースに失敗: %w", err), start)
	}

	entries := feed.Items
	if src.MaxItems > 0 && len(entries) > src.MaxItems {
		entries = entries[:src.MaxItems]
	}

	items := make([]model.Item, 0, len(entries))
	for _, entry := range entries {
		title, publisher := splitPublisher(entry.Title)
		sourceName := "Google News"
		if publisher != "" {
			sourceName = "Google News (" + publisher + ")"
		}

		raw := model.RawItem{
			Title:   title,
			Link:    entry.Link,
			Summary: truncateRunes(entry.Description, maxGoogleSummaryRunes),
			GUID:    entry.GUID,
		}
		if entry.PublishedParsed != nil {
			raw.PublishedAt = entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			raw.PublishedAt = entry.UpdatedParsed
		}

		if it, ok := c.builder.Build(raw, item.SourceMeta{Name: sourceName, Tag: tag}); ok {
			items = append(items, it)
		}
	}
	return c.ok(src, items, start)
}

// feedURL は配信元設定からフィードURLと既定のタグを組み立てる。
func (c *GoogleNewsCollector) feedURL(src config.Source) (string, string) {
	lang := src.Language
	if lang == "" {
		lang = "ru"
	}
	country := src.Country
	if country == "" {
		country = "RU"
	}
	params := "hl=" + url.QueryEscape(lang) + "&gl=" + url.QueryEscape(country) +
		"&ceid=" + url.QueryEscape(country+":"+lang)

	if src.Type == config.SourceTypeGNewsSearch {
		tag := src.Tag
		if tag == "" {
			tag = "gnews_" + truncateRunes(unsafeTagChars.ReplaceAllString(strings.ToLower(src.Query), "_"), maxTagQueryRunes)
		}
		return c.baseURL + "/search?q=" + url.QueryEscape(src.Query) + "&" + params, tag
	}

	topic := strings.ToLower(strings.TrimSpace(src.Topic))
	id, ok := googleNewsTopics[topic]
	if !ok {
		id = src.Topic
	}
	tag := src.Tag
	if tag == "" {
		tag = "gnews_" + topic
	}
	return c.baseURL + "/topics/" + url.PathEscape(id) + "?" + params, tag
}

// splitPublisher は "見出し - 発行元" を見出しと発行元に分ける。
// 区切り以降が短い場合のみ発行元とみなす。
func splitPublisher(title string) (string, string) {
	i := strings.LastIndex(title, " - ")
	if i < 0 {
		return title, ""
	}
	suffix := strings.TrimSpace(title[i+3:])
	if suffix == "" || utf8.RuneCountInString(suffix) >= maxPublisherSuffixRunes {
		return title, ""
	}
	return strings.TrimSpace(title[:i]), suffix
}
