package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// SourceType はコレクターの種別を表す。
type SourceType string

const (
	SourceTypeRSS         SourceType = "rss"
	SourceTypeHTML        SourceType = "html"
	SourceTypeTelegram    SourceType = "telegram"
	SourceTypeGNewsTopic  SourceType = "gnews_topic"
	SourceTypeGNewsSearch SourceType = "gnews_search"

	SourceTypeNewsAPI        SourceType = "newsapi"
	SourceTypeReddit         SourceType = "reddit"
	SourceTypeHackerNews     SourceType = "hackernews"
	SourceTypeGitHubTrending SourceType = "github_trending"
)

// Tier は配信元の優先度を表す。空文字は未指定。
type Tier string

const (
	TierHigh   Tier = "high"
	TierMedium Tier = "medium"
	TierLow    Tier = "low"
)

// UnmarshalYAML は "high" などの文字列と 1〜3 の数値の両方を受け付ける。
func (t *Tier) UnmarshalYAML(node *yaml.Node) error {
	v := strings.ToLower(strings.TrimSpace(node.Value))
	switch v {
	case "", "high", "medium", "low":
		*t = Tier(v)
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid priority %q", node.Value)
	}
	switch {
	case n >= 3:
		*t = TierHigh
	case n == 2:
		*t = TierMedium
	default:
		*t = TierLow
	}
	return nil
}

// HTMLSelector はHTMLスクレイピング用のCSSセレクタ。
// Link は "a::attr(href)" のように属性を指定できる。
type HTMLSelector struct {
	Item    string `yaml:"item"`
	Title   string `yaml:"title"`
	Link    string `yaml:"link"`
	Summary string `yaml:"summary"`
}

// Source は配信元1件の設定。
type Source struct {
	Name         string       `yaml:"name"`
	Tag          string       `yaml:"tag"`
	Type         SourceType   `yaml:"type"`
	RSS          string       `yaml:"rss"`
	HTMLURL      string       `yaml:"html_url"`
	HTMLSelector HTMLSelector `yaml:"html_selector"`
	Channel      string       `yaml:"channel"`
	Topic        string       `yaml:"topic"`
	Query        string       `yaml:"query"`
	NewsSources  []string     `yaml:"newsapi_sources"`
	Subreddit    string       `yaml:"subreddit"`
	RepoLanguage string       `yaml:"repo_language"`
	// Language は newsapi では記事の言語。Google News では google_news.language で上書きする。
	Language string `yaml:"language"`
	Country  string `yaml:"-"`
	MaxItems int    `yaml:"max_items"`
	Priority Tier   `yaml:"priority"`
}

// PriorityConfig は配信元優先度の設定。
type PriorityConfig struct {
	High               []string `yaml:"high"`
	Medium             []string `yaml:"medium"`
	Low                []string `yaml:"low"`
	MaxSourcesPerCycle int      `yaml:"max_sources_per_cycle"`
}

// FilterConfig はキーワードと経過時間による事前フィルタの設定。
type FilterConfig struct {
	IncludeKeywords []string `yaml:"include_keywords"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
	MaxAgeHours     int      `yaml:"max_age_hours"`
}

// GoogleNewsConfig はGoogle Newsフィードの設定。
type GoogleNewsConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Language      string   `yaml:"language"`
	Country       string   `yaml:"country"`
	Topics        []string `yaml:"topics"`
	SearchQueries []string `yaml:"search_queries"`
	MaxItems      int      `yaml:"max_items"`
	Tag           string   `yaml:"tag"`
}

// ImportanceKeywords は重要度判定のキーワード集合の上書き設定。
// 空の集合は組み込みのリストを使う。
type ImportanceKeywords struct {
	Critical     []string `yaml:"critical"`
	HotTopic     []string `yaml:"hot_topic"`
	HighPriority []string `yaml:"high_priority"`
	Entities     []string `yaml:"entities"`
	Magnitude    []string `yaml:"magnitude"`
	Urgency      []string `yaml:"urgency"`
	LowInterest  []string `yaml:"low_interest"`
	Personal     []string `yaml:"personal"`
}

// TuningConfig は再起動せずに変更できる運用パラメータ。
// 省略した項目は環境変数で指定した値を使う。
type TuningConfig struct {
	Dedup      DedupTuning      `yaml:"dedup"`
	Posting    PostingTuning    `yaml:"posting"`
	Queue      QueueTuning      `yaml:"queue"`
	Classifier ClassifierTuning `yaml:"classifier"`
}

// DedupTuning は重複判定の閾値と重み。
type DedupTuning struct {
	Enabled       *bool    `yaml:"enabled"`
	Threshold     *float64 `yaml:"threshold"`
	TitleWeight   *float64 `yaml:"title_weight"`
	ContentWeight *float64 `yaml:"content_weight"`
}

// PostingTuning は収集と投稿の間隔。
type PostingTuning struct {
	CollectInterval *time.Duration `yaml:"collect_interval"`
	MinInterval     *time.Duration `yaml:"min_interval"`
	MaxInterval     *time.Duration `yaml:"max_interval"`
	UrgentPostDelay *time.Duration `yaml:"urgent_post_delay"`
}

// QueueTuning は投稿キューの容量。
type QueueTuning struct {
	Capacity *int `yaml:"capacity"`
}

// ClassifierTuning は1サイクルあたりの分類器呼び出し回数の上限。
type ClassifierTuning struct {
	MaxUrgencyCalls   *int `yaml:"max_urgency_calls"`
	MaxFreshnessCalls *int `yaml:"max_freshness_calls"`
}

// SourceSet は配信元設定ファイル全体を表す。
type SourceSet struct {
	Sources    []Source           `yaml:"sources"`
	Priority   PriorityConfig     `yaml:"source_priority"`
	Filters    FilterConfig       `yaml:"filters"`
	GoogleNews GoogleNewsConfig   `yaml:"google_news"`
	Importance ImportanceKeywords `yaml:"importance"`
	Tuning     TuningConfig       `yaml:"tuning"`
}

// ParseSources はYAMLを解析し、デフォルト値の補完と検証を行う。
func ParseSources(data []byte) (*SourceSet, error) {
	var set SourceSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse sources: %w", err)
	}

	if set.Priority.MaxSourcesPerCycle <= 0 {
		set.Priority.MaxSourcesPerCycle = 3
	}
	if set.Filters.MaxAgeHours <= 0 {
		set.Filters.MaxAgeHours = 24
	}
	if set.GoogleNews.Language == "" {
		set.GoogleNews.Language = "ru"
	}
	if set.GoogleNews.Country == "" {
		set.GoogleNews.Country = "RU"
	}
	if set.GoogleNews.MaxItems <= 0 {
		set.GoogleNews.MaxItems = 10
	}

	if err := validateTuning(set.Tuning); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(set.Sources))
	for i := range set.Sources {
		src := &set.Sources[i]
		src.Name = strings.TrimSpace(src.Name)
		if src.Name == "" {
			return nil, fmt.Errorf("source #%d: name is required", i+1)
		}
		if seen[src.Name] {
			return nil, fmt.Errorf("source %q: duplicate name", src.Name)
		}
		seen[src.Name] = true

		if src.Type == "" {
			src.Type = inferType(*src)
		}
		if err := validateSource(*src); err != nil {
			return nil, err
		}
	}

	return &set, nil
}

// inferType は type 省略時に設定項目から種別を推定する。
func inferType(src Source) SourceType {
	switch {
	case src.RSS != "":
		return SourceTypeRSS
	case src.HTMLURL != "":
		return SourceTypeHTML
	case src.Channel != "":
		return SourceTypeTelegram
	case src.Topic != "":
		return SourceTypeGNewsTopic
	case src.Query != "":
		return SourceTypeGNewsSearch
	case src.Subreddit != "":
		return SourceTypeReddit
	}
	return ""
}

func validateSource(src Source) error {
	switch src.Type {
	case SourceTypeRSS:
		return requireURL(src.Name, "rss", src.RSS)
	case SourceTypeHTML:
		if src.HTMLSelector.Item == "" {
			return fmt.Errorf("source %q: html_selector.item is required", src.Name)
		}
		return requireURL(src.Name, "html_url", src.HTMLURL)
	case SourceTypeTelegram:
		if src.Channel == "" {
			return fmt.Errorf("source %q: channel is required", src.Name)
		}
	case SourceTypeGNewsTopic:
		if src.Topic == "" {
			return fmt.Errorf("source %q: topic is required", src.Name)
		}
	case SourceTypeGNewsSearch:
		if src.Query == "" {
			return fmt.Errorf("source %q: query is required", src.Name)
		}
	case SourceTypeNewsAPI:
		if src.Query == "" && len(src.NewsSources) == 0 {
			return fmt.Errorf("source %q: query or newsapi_sources is required", src.Name)
		}
	case SourceTypeReddit:
		if !subredditName.MatchString(src.Subreddit) {
			return fmt.Errorf("source %q: subreddit must be a plain subreddit name", src.Name)
		}
	case SourceTypeHackerNews, SourceTypeGitHubTrending:
	default:
		return fmt.Errorf("source %q: unknown type %q", src.Name, src.Type)
	}
	return nil
}

var subredditName = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)

func validateTuning(t TuningConfig) error {
	unit := func(name string, v *float64) error {
		if v != nil && (*v < 0 || *v > 1) {
			return fmt.Errorf("tuning: %s must be between 0 and 1", name)
		}
		return nil
	}
	for name, v := range map[string]*float64{
		"dedup.threshold":      t.Dedup.Threshold,
		"dedup.title_weight":   t.Dedup.TitleWeight,
		"dedup.content_weight": t.Dedup.ContentWeight,
	} {
		if err := unit(name, v); err != nil {
			return err
		}
	}
	for name, v := range map[string]*time.Duration{
		"posting.collect_interval": t.Posting.CollectInterval,
		"posting.min_interval":     t.Posting.MinInterval,
		"posting.max_interval":     t.Posting.MaxInterval,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("tuning: %s must be positive", name)
		}
	}
	if v := t.Posting.UrgentPostDelay; v != nil && *v < 0 {
		return fmt.Errorf("tuning: posting.urgent_post_delay must not be negative")
	}
	if lo, hi := t.Posting.MinInterval, t.Posting.MaxInterval; lo != nil && hi != nil && *lo > *hi {
		return fmt.Errorf("tuning: posting.min_interval must not exceed posting.max_interval")
	}
	for name, v := range map[string]*int{
		"queue.capacity":                 t.Queue.Capacity,
		"classifier.max_urgency_calls":   t.Classifier.MaxUrgencyCalls,
		"classifier.max_freshness_calls": t.Classifier.MaxFreshnessCalls,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("tuning: %s must be positive", name)
		}
	}
	return nil
}

func requireURL(name, field, raw string) error {
	u, err := url.Parse(raw)
	if raw == "" || err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source %q: %s must be an http(s) URL", name, field)
	}
	return nil
}

// Tasks はサイクルで収集する配信元の一覧を返す。
// 設定ファイルの順序を保ち、Google Newsが有効な場合はトピックと検索クエリを末尾に展開する。
func (s *SourceSet) Tasks() []Source {
	tasks := make([]Source, 0, len(s.Sources)+len(s.GoogleNews.Topics)+len(s.GoogleNews.SearchQueries))
	tasks = append(tasks, s.Sources...)
	for i := range tasks {
		if tasks[i].Type == SourceTypeGNewsTopic || tasks[i].Type == SourceTypeGNewsSearch {
			tasks[i].Language = s.GoogleNews.Language
			tasks[i].Country = s.GoogleNews.Country
			if tasks[i].MaxItems <= 0 {
				tasks[i].MaxItems = s.GoogleNews.MaxItems
			}
		}
	}

	if !s.GoogleNews.Enabled {
		return tasks
	}
	for _, topic := range s.GoogleNews.Topics {
		tasks = append(tasks, Source{
			Name:     "Google News: " + topic,
			Tag:      s.googleNewsTag(topic),
			Type:     SourceTypeGNewsTopic,
			Topic:    topic,
			Language: s.GoogleNews.Language,
			Country:  s.GoogleNews.Country,
			MaxItems: s.GoogleNews.MaxItems,
		})
	}
	for _, q := range s.GoogleNews.SearchQueries {
		tasks = append(tasks, Source{
			Name:     "Google News: " + q,
			Tag:      s.googleNewsTag(q),
			Type:     SourceTypeGNewsSearch,
			Query:    q,
			Language: s.GoogleNews.Language,
			Country:  s.GoogleNews.Country,
			MaxItems: s.GoogleNews.MaxItems,
		})
	}
	return tasks
}

func (s *SourceSet) googleNewsTag(fallback string) string {
	if s.GoogleNews.Tag != "" {
		return s.GoogleNews.Tag
	}
	return fallback
}

// Order は配信元名から設定順のインデックスへのマップを返す。
func (s *SourceSet) Order() map[string]int {
	order := make(map[string]int, len(s.Sources))
	for i, src := range s.Sources {
		order[src.Name] = i
	}
	return order
}

// SourceFile は配信元設定ファイルを保持し、更新時刻が変わった場合に再読み込みする。
type SourceFile struct {
	path string

	mu      sync.Mutex
	current *SourceSet
	modTime time.Time
}

// NewSourceFile は新しいSourceFileを生成する。ファイルは最初の Current 呼び出しで読み込む。
func NewSourceFile(path string) *SourceFile {
	return &SourceFile{path: path}
}

// Path は設定ファイルのパスを返す。
func (f *SourceFile) Path() string {
	return f.path
}

// Current は最新の設定を返す。
// ファイルの更新時刻が前回読み込み時から変わっていなければキャッシュを返す。
// 再読み込みに失敗した場合は直前の正常な設定とエラーを返す。
// 一度も読み込めていない場合は nil とエラーを返す。
func (f *SourceFile) Current() (*SourceSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	info, err := os.Stat(f.path)
	if err != nil {
		return f.current, fmt.Errorf("failed to stat sources file: %w", err)
	}
	if f.current != nil && info.ModTime().Equal(f.modTime) {
		return f.current, nil
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return f.current, fmt.Errorf("failed to read sources file: %w", err)
	}
	set, err := ParseSources(data)
	if err != nil {
		return f.current, err
	}

	f.current = set
	f.modTime = info.ModTime()
	return set, nil
}
