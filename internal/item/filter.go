package item

import (
	"strings"
	"time"

	"github.com/hitoshi/newsrelay/internal/model"
)

// FilterRules はキーワードと経過時間による事前フィルタの条件。
type FilterRules struct {
	IncludeKeywords []string
	ExcludeKeywords []string
	MaxAge          time.Duration // 0以下は無制限
}

// Filter はFilterRulesに一致するItemだけを残す。入力の順序は保たれる。
// キーワードはタイトルと本文に対して大文字小文字を区別せずに照合する。
// 公開日時が推定値のItemは経過時間で除外しない。
func Filter(items []model.Item, rules FilterRules, now time.Time) []model.Item {
	include := lowerNonEmpty(rules.IncludeKeywords)
	exclude := lowerNonEmpty(rules.ExcludeKeywords)

	var cutoff time.Time
	if rules.MaxAge > 0 {
		cutoff = now.Add(-rules.MaxAge)
	}

	out := make([]model.Item, 0, len(items))
	for _, it := range items {
		if !cutoff.IsZero() && !it.DateEstimated && it.PublishedAt.Before(cutoff) {
			continue
		}
		text := strings.ToLower(it.Title + " " + it.Summary)
		if containsAny(text, exclude) {
			continue
		}
		if len(include) > 0 && !containsAny(text, include) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func lowerNonEmpty(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
