package collector

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
)

const (
	// DefaultTelegramBaseURL は公開チャンネルのWebプレビューのベースURL。
	DefaultTelegramBaseURL = "https://t.me"

	minPostRunes           = 20
	maxPostRunes           = 1000
	titleRunes             = 100
	defaultPostsPerChannel = 10
)

// TelegramChannelCollector は公開チャンネルのWebプレビュー（t.me/s/<channel>）から投稿を収集する。
type TelegramChannelCollector struct {
	base
	baseURL string
}

// NewTelegramChannelCollector は新しいTelegramChannelCollectorを生成する。
func NewTelegramChannelCollector(opts Options, builder *item.Builder, logger *slog.Logger) *TelegramChannelCollector {
	return &TelegramChannelCollector{
		base:    base{fetch: newHTTPFetcher(opts), builder: builder, logger: logger},
		baseURL: DefaultTelegramBaseURL,
	}
}

// Collect はチャンネルの直近の投稿を収集する。
// 20文字未満の投稿は捨て、タイトルは本文先頭100文字の最初の文とする。
func (c *TelegramChannelCollector) Collect(ctx context.Context, src config.Source) Result {
	start := time.Now()
	channel := strings.TrimPrefix(strings.TrimSpace(src.Channel), "@")

	resp, err := c.fetch.get(ctx, c.baseURL+"/s/"+channel, acceptHTML)
	if err != nil {
		return c.fail(src, err, start)
	}

	doc, err := parseDocument(resp)
	if err != nil {
		return c.fail(src, err, start)
	}

	limit := src.MaxItems
	if limit <= 0 {
		limit = defaultPostsPerChannel
	}

	// プレビューは古い順に並ぶので末尾から limit 件を使う
	messages := doc.Find(".tgme_widget_message")
	if n := messages.Length(); n > limit {
		messages = messages.Slice(n-limit, n)
	}

	var raws []model.RawItem
	messages.Each(func(_ int, msg *goquery.Selection) {
		if raw, ok := parseTelegramMessage(msg, channel); ok {
			raws = append(raws, raw)
		}
	})

	tag := src.Tag
	if tag == "" {
		tag = "tg_" + channel
	}
	return c.ok(src, c.build(raws, item.SourceMeta{Name: src.Name, Tag: tag}), start)
}

func parseTelegramMessage(msg *goquery.Selection, channel string) (model.RawItem, bool) {
	dataPost, _ := msg.Attr("data-post")
	postID := dataPost[strings.LastIndex(dataPost, "/")+1:]
	if postID == "" {
		return model.RawItem{}, false
	}

	text := strings.Join(strings.Fields(msg.Find(".tgme_widget_message_text").First().Text()), " ")
	if utf8.RuneCountInString(text) < minPostRunes {
		return model.RawItem{}, false
	}
	text = truncateRunes(text, maxPostRunes)

	raw := model.RawItem{
		Title:   postTitle(text),
		Link:    DefaultTelegramBaseURL + "/" + channel + "/" + postID,
		Summary: text,
	}
	if dt, ok := msg.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339, dt); err == nil {
			raw.PublishedAt = &t
		}
	}
	return raw, true
}

// postTitle は先頭100文字から最初の文を取り出す。文の区切りがなければ100文字をそのまま使う。
func postTitle(text string) string {
	head := truncateRunes(text, titleRunes)
	if i := strings.Index(head, ". "); i >= 0 {
		return head[:i] + "."
	}
	if i := strings.Index(head, "! "); i >= 0 {
		return head[:i] + "!"
	}
	return head
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
