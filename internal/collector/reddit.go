package collector

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
)

const (
	// DefaultRedditBaseURL はRedditのベースURL。
	DefaultRedditBaseURL = "https://www.reddit.com"

	defaultRedditLimit    = 25
	maxRedditSummaryRunes = 500
)

// RedditCollector はサブレディットの人気投稿のうち外部リンクを収集する。
type RedditCollector struct {
	base
	baseURL string
}

// NewRedditCollector は新しいRedditCollectorを生成する。
func NewRedditCollector(opts Options, builder *item.Builder, logger *slog.Logger) *RedditCollector {
	return &RedditCollector{
		base:    base{fetch: newHTTPFetcher(opts), builder: builder, logger: logger},
		baseURL: DefaultRedditBaseURL,
	}
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				ID         string  `json:"id"`
				Title      string  `json:"title"`
				URL        string  `json:"url"`
				Selftext   string  `json:"selftext"`
				IsSelf     bool    `json:"is_self"`
				Stickied   bool    `json:"stickied"`
				CreatedUTC float64 `json:"created_utc"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// Collect は hot.json を取得する。テキスト投稿と固定表示の投稿は捨てる。
func (c *RedditCollector) Collect(ctx context.Context, src config.Source) Result {
	start := time.Now()
	sub := strings.TrimPrefix(strings.TrimSpace(src.Subreddit), "r/")

	limit := src.MaxItems
	if limit <= 0 {
		limit = defaultRedditLimit
	}
	reqURL := c.baseURL + "/r/" + url.PathEscape(sub) + "/hot.json?limit=" + strconv.Itoa(limit)

	var listing redditListing
	if err := c.fetch.getJSON(ctx, reqURL, nil, &listing); err != nil {
		return c.fail(src, err, start)
	}

	raws := make([]model.RawItem, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		if post.IsSelf || post.Stickied || post.Title == "" || post.URL == "" {
			continue
		}
		raws = append(raws, model.RawItem{
			Title:       post.Title,
			Link:        post.URL,
			Summary:     truncateRunes(post.Selftext, maxRedditSummaryRunes),
			GUID:        "reddit_" + post.ID,
			PublishedAt: unixTime(post.CreatedUTC),
		})
	}
	return c.ok(src, c.build(raws, item.SourceMeta{Name: src.Name, Tag: tagOr(src.Tag, "reddit_"+sub)}), start)
}
