package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
)

const (
	// DefaultGitHubAPIBaseURL はGitHub REST APIのベースURL。
	DefaultGitHubAPIBaseURL = "https://api.github.com"

	defaultTrendingRepos     = 20
	trendingWindow           = 7 * 24 * time.Hour
	maxRepoDescriptionInline = 100
)

// GitHubTrendingCollector は直近に作成されスターを集めているリポジトリを収集する。
type GitHubTrendingCollector struct {
	base
	baseURL string
	now     func() time.Time
}

// NewGitHubTrendingCollector は新しいGitHubTrendingCollectorを生成する。
func NewGitHubTrendingCollector(opts Options, builder *item.Builder, logger *slog.Logger) *GitHubTrendingCollector {
	return &GitHubTrendingCollector{
		base:    base{fetch: newHTTPFetcher(opts), builder: builder, logger: logger},
		baseURL: DefaultGitHubAPIBaseURL,
		now:     time.Now,
	}
}

type githubSearchResponse struct {
	Items []struct {
		FullName    string `json:"full_name"`
		HTMLURL     string `json:"html_url"`
		Description string `json:"description"`
		Stars       int    `json:"stargazers_count"`
		Language    string `json:"language"`
	} `json:"items"`
}

// Collect は過去7日間に作成されたリポジトリをスター数の多い順に検索する。
// 公開日時は持たないため取得時刻を使い、リンクで既出を判定する。
func (c *GitHubTrendingCollector) Collect(ctx context.Context, src config.Source) Result {
	start := time.Now()

	var body githubSearchResponse
	header := http.Header{}
	header.Set("Accept", "application/vnd.github+json")
	if err := c.fetch.getJSON(ctx, c.searchURL(src), header, &body); err != nil {
		return c.fail(src, err, start)
	}

	raws := make([]model.RawItem, 0, len(body.Items))
	for _, repo := range body.Items {
		if repo.FullName == "" || repo.HTMLURL == "" {
			continue
		}
		title := repo.FullName
		if repo.Description != "" {
			title += " - " + truncateRunes(repo.Description, maxRepoDescriptionInline)
		}
		lang := repo.Language
		if lang == "" {
			lang = "Unknown"
		}
		raws = append(raws, model.RawItem{
			Title:   title,
			Link:    repo.HTMLURL,
			Summary: fmt.Sprintf("⭐ %d | %s | %s", repo.Stars, lang, repo.Description),
		})
	}
	return c.ok(src, c.build(raws, item.SourceMeta{Name: src.Name, Tag: tagOr(src.Tag, "github")}), start)
}

func (c *GitHubTrendingCollector) searchURL(src config.Source) string {
	size := src.MaxItems
	if size <= 0 {
		size = defaultTrendingRepos
	}
	query := "created:>" + c.now().Add(-trendingWindow).UTC().Format("2006-01-02")
	if src.RepoLanguage != "" {
		query += " language:" + src.RepoLanguage
	}

	q := url.Values{}
	q.Set("q", query)
	q.Set("sort", "stars")
	q.Set("order", "desc")
	q.Set("per_page", strconv.Itoa(min(size, 100)))
	return c.baseURL + "/search/repositories?" + q.Encode()
}
