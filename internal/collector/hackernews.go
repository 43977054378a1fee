package collector

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
)

const (
	// DefaultHackerNewsBaseURL はHacker NewsのFirebase APIのベースURL。
	DefaultHackerNewsBaseURL = "https://hacker-news.firebaseio.com/v0"

	defaultHackerNewsStories  = 30
	hackerNewsItemConcurrency = 5
)

// HackerNewsCollector はHacker Newsのトップストーリーを収集する。
type HackerNewsCollector struct {
	base
	baseURL string
}

// NewHackerNewsCollector は新しいHackerNewsCollectorを生成する。
func NewHackerNewsCollector(opts Options, builder *item.Builder, logger *slog.Logger) *HackerNewsCollector {
	return &HackerNewsCollector{
		base:    base{fetch: newHTTPFetcher(opts), builder: builder, logger: logger},
		baseURL: DefaultHackerNewsBaseURL,
	}
}

type hackerNewsStory struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Time        int64  `json:"time"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

// Collect はトップストーリーのIDを取得し、先頭から max_items 件の詳細を並列に取得する。
// 外部リンクのないストーリーと取得に失敗したストーリーは捨てる。
func (c *HackerNewsCollector) Collect(ctx context.Context, src config.Source) Result {
	start := time.Now()

	var ids []int64
	if err := c.fetch.getJSON(ctx, c.baseURL+"/topstories.json", nil, &ids); err != nil {
		return c.fail(src, err, start)
	}
	limit := src.MaxItems
	if limit <= 0 {
		limit = defaultHackerNewsStories
	}
	if len(ids) > limit {
		ids = ids[:limit]
	}

	stories := make([]*hackerNewsStory, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hackerNewsItemConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			var s hackerNewsStory
			if err := c.fetch.getJSON(gctx, c.baseURL+"/item/"+strconv.FormatInt(id, 10)+".json", nil, &s); err != nil {
				c.logger.Debug("Hacker Newsのストーリー取得に失敗しました",
					slog.String("source", src.Name),
					slog.Int64("id", id),
					slog.String("error", err.Error()),
				)
				return nil
			}
			stories[i] = &s
			return nil
		})
	}
	_ = g.Wait()

	raws := make([]model.RawItem, 0, len(stories))
	for _, s := range stories {
		if s == nil || s.Dead || s.Deleted || s.Type != "story" || s.Title == "" || s.URL == "" {
			continue
		}
		raws = append(raws, model.RawItem{
			Title:       s.Title,
			Link:        s.URL,
			Summary:     fmt.Sprintf("Score: %d | Comments: %d", s.Score, s.Descendants),
			GUID:        "hn_" + strconv.FormatInt(s.ID, 10),
			PublishedAt: unixTime(float64(s.Time)),
		})
	}
	return c.ok(src, c.build(raws, item.SourceMeta{Name: src.Name, Tag: tagOr(src.Tag, "hackernews")}), start)
}
