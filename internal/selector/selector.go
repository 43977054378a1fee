// Package selector は1サイクルで投稿キューに入れるItemを配信元の優先度に基づいて選ぶ。
package selector

import (
	"log/slog"
	"sort"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/model"
)

// DefaultMaxSourcesPerCycle は1サイクルで選ぶ配信元数のデフォルト値。
const DefaultMaxSourcesPerCycle = 3

// Priority は配信元の優先度。大きいほど優先する。
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 2
	PriorityHigh   Priority = 3
)

// Config は選択の設定。
type Config struct {
	MaxSourcesPerCycle int
	// Explicit は配信元ごとに明示された優先度。
	Explicit map[string]config.Tier
	High     []string
	Medium   []string
	Low      []string
	// Order は配信元名から設定順のインデックスへのマップ。
	Order map[string]int
}

// ConfigFrom は配信元設定から選択の設定を組み立てる。
func ConfigFrom(set *config.SourceSet) Config {
	explicit := make(map[string]config.Tier)
	for _, src := range set.Tasks() {
		if src.Priority != "" {
			explicit[src.Name] = src.Priority
		}
	}
	return Config{
		MaxSourcesPerCycle: set.Priority.MaxSourcesPerCycle,
		Explicit:           explicit,
		High:               set.Priority.High,
		Medium:             set.Priority.Medium,
		Low:                set.Priority.Low,
		Order:              set.Order(),
	}
}

// PriorityOf は配信元の優先度を返す。
// 明示された優先度、優先度リストへの所属、デフォルトの medium の順に解決する。
func (c Config) PriorityOf(source string) Priority {
	if tier, ok := c.Explicit[source]; ok {
		return fromTier(tier)
	}
	switch {
	case contains(c.High, source):
		return PriorityHigh
	case contains(c.Medium, source):
		return PriorityMedium
	case contains(c.Low, source):
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func fromTier(t config.Tier) Priority {
	switch t {
	case config.TierHigh:
		return PriorityHigh
	case config.TierLow:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Selector は優先度に基づいてItemを選ぶ。
type Selector struct {
	logger *slog.Logger
}

// New は新しいSelectorを生成する。
func New(logger *slog.Logger) *Selector {
	return &Selector{logger: logger}
}

type group struct {
	source   string
	priority Priority
	order    int // 設定順。設定にない配信元は設定済みのものの後ろに出現順で並ぶ
	first    int // 入力中の最初の出現位置
	pick     model.Item
}

// Select は配信元ごとに最も公開日時の早いItemを1件ずつ選び、
// 優先度の高い配信元から最大 MaxSourcesPerCycle 件を返す。
// 同じ優先度の配信元は設定順、公開日時が同じItemは入力順で決める。
func (s *Selector) Select(items []model.Item, cfg Config) []model.Item {
	limit := cfg.MaxSourcesPerCycle
	if limit <= 0 {
		limit = DefaultMaxSourcesPerCycle
	}

	index := make(map[string]int)
	var groups []*group
	for i, it := range items {
		gi, ok := index[it.Source]
		if !ok {
			order, configured := cfg.Order[it.Source]
			if !configured {
				order = len(cfg.Order) + i
			}
			groups = append(groups, &group{
				source:   it.Source,
				priority: cfg.PriorityOf(it.Source),
				order:    order,
				first:    i,
				pick:     it,
			})
			index[it.Source] = len(groups) - 1
			continue
		}
		if it.PublishedAt.Before(groups[gi].pick.PublishedAt) {
			groups[gi].pick = it
		}
	}

	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].priority != groups[b].priority {
			return groups[a].priority > groups[b].priority
		}
		if groups[a].order != groups[b].order {
			return groups[a].order < groups[b].order
		}
		return groups[a].first < groups[b].first
	})

	if len(groups) > limit {
		groups = groups[:limit]
	}
	selected := make([]model.Item, 0, len(groups))
	sources := make([]string, 0, len(groups))
	for _, g := range groups {
		selected = append(selected, g.pick)
		sources = append(sources, g.source)
	}

	if len(selected) > 0 {
		s.logger.Info("優先度に基づいて配信元を選択しました",
			slog.Int("candidates", len(items)),
			slog.Int("candidate_sources", len(index)),
			slog.Any("selected_sources", sources),
		)
	}
	return selected
}
