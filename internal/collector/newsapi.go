package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
)

const (
	// DefaultNewsAPIBaseURL はNewsAPIのエンドポイント。
	DefaultNewsAPIBaseURL = "https://newsapi.org/v2"

	defaultNewsAPIPageSize = 50
	maxNewsAPIPageSize     = 100
)

// NewsAPICollector はNewsAPIの記事検索を収集する。
type NewsAPICollector struct {
	base
	baseURL string
	apiKey  string
}

// NewNewsAPICollector は新しいNewsAPICollectorを生成する。
func NewNewsAPICollector(opts Options, builder *item.Builder, logger *slog.Logger) *NewsAPICollector {
	return &NewsAPICollector{
		base:    base{fetch: newHTTPFetcher(opts), builder: builder, logger: logger},
		baseURL: DefaultNewsAPIBaseURL,
		apiKey:  opts.NewsAPIKey,
	}
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// Collect は newsapi_sources または query で記事を検索し、新しい順に取得する。
// APIキーが未設定の場合は skipped を返す。
func (c *NewsAPICollector) Collect(ctx context.Context, src config.Source) Result {
	start := time.Now()
	if c.apiKey == "" {
		c.logger.Warn("NEWSAPI_KEY が未設定のためNewsAPIの配信元をスキップします",
			slog.String("source", src.Name),
		)
		return Result{Source: src.Name, Items: []model.Item{}, Outcome: OutcomeSkipped, Duration: time.Since(start)}
	}

	var body newsAPIResponse
	header := http.Header{}
	header.Set("X-Api-Key", c.apiKey)
	if err := c.fetch.getJSON(ctx, c.requestURL(src), header, &body); err != nil {
		return c.fail(src, err, start)
	}
	if body.Status != "ok" {
		return c.fail(src, fmt.Errorf("newsapi error: %s: %s", body.Code, body.Message), start)
	}

	raws := make([]model.RawItem, 0, len(body.Articles))
	for _, a := range body.Articles {
		if a.Title == "" || a.URL == "" {
			continue
		}
		raws = append(raws, model.RawItem{
			Title:       a.Title,
			Link:        a.URL,
			Summary:     a.Description,
			PublishedAt: rfc3339Time(a.PublishedAt),
		})
	}
	return c.ok(src, c.build(raws, item.SourceMeta{Name: src.Name, Tag: tagOr(src.Tag, "newsapi")}), start)
}

func (c *NewsAPICollector) requestURL(src config.Source) string {
	size := src.MaxItems
	if size <= 0 {
		size = defaultNewsAPIPageSize
	}
	size = min(size, maxNewsAPIPageSize)

	q := url.Values{}
	q.Set("sortBy", "publishedAt")
	q.Set("pageSize", strconv.Itoa(size))
	if len(src.NewsSources) > 0 {
		q.Set("sources", strings.Join(src.NewsSources, ","))
	}
	if src.Query != "" {
		q.Set("q", src.Query)
	}
	if src.Language != "" {
		q.Set("language", src.Language)
	}
	return c.baseURL + "/everything?" + q.Encode()
}
