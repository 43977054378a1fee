// Package importance はニュースの重要度をキーワードの一致から判定する。
// I/Oを持たない純粋な計算のみを行う。
package importance

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/newsrelay/internal/keyword"
	"github.com/hitoshi/newsrelay/internal/model"
)

// longContentRunes を超える本文は情報量が多いとみなす。
const longContentRunes = 500

// Scorer はキーワード集合に基づいて重要度を算出する。
type Scorer struct {
	sets KeywordSets
}

// NewScorer は新しいScorerを生成する。
func NewScorer(sets KeywordSets) *Scorer {
	return &Scorer{sets: sets}
}

// Analyze はタイトルと本文から重要度を算出する。
// 各集合の一致に応じて加点・減点し、0〜1に丸めてカテゴリを決める。
func (s *Scorer) Analyze(title, content string) model.ImportanceScore {
	text := strings.ToLower(title + " " + content)
	var factors []string
	score := 0.0

	if n := keyword.Count(text, s.sets.Critical); n > 0 {
		score += 0.5
		factors = append(factors, fmt.Sprintf("重大事象（%d語）", n))
		if n >= 2 {
			score += 0.2
			factors = append(factors, "複数の重大事象")
		}
	}
	if n := keyword.Count(text, s.sets.HotTopic); n > 0 {
		score += 0.4
		factors = append(factors, fmt.Sprintf("重点話題（%d語）", n))
	}
	if n := keyword.Count(text, s.sets.LowInterest); n >= 3 {
		score -= 0.5
		factors = append(factors, fmt.Sprintf("関心の低い話題（%d語）", n))
	}
	if n := keyword.Count(text, s.sets.Personal); n >= 2 {
		score -= 0.3
		factors = append(factors, fmt.Sprintf("私生活の話題（%d語）", n))
	}
	if n := keyword.Count(text, s.sets.HighPriority); n > 0 {
		score += 0.3
		factors = append(factors, fmt.Sprintf("高優先度（%d語）", n))
	}
	if n := keyword.Count(text, s.sets.Entities); n > 0 {
		score += 0.2
		factors = append(factors, fmt.Sprintf("要人・機関（%d語）", n))
	}
	if n := keyword.Count(text, s.sets.Magnitude); n > 0 {
		score += 0.1
		factors = append(factors, fmt.Sprintf("規模を示す語（%d語）", n))
	}
	if utf8.RuneCountInString(content) > longContentRunes {
		score += 0.1
		factors = append(factors, "本文が長い")
	}
	if keyword.Count(text, s.sets.Urgency) > 0 {
		score += 0.2
		factors = append(factors, "速報")
	}

	score = min(max(score, 0), 1)
	return model.ImportanceScore{
		Score:    score,
		Category: categoryOf(score),
		Factors:  factors,
	}
}

func categoryOf(score float64) model.Category {
	switch {
	case score >= 0.7:
		return model.CategoryCritical
	case score >= 0.5:
		return model.CategoryHigh
	case score >= 0.3:
		return model.CategoryMedium
	default:
		return model.CategoryLow
	}
}

// AdaptiveLength はカテゴリに応じて要約の目標文字数を返す。
func AdaptiveLength(score model.ImportanceScore, base int) int {
	b := float64(base)
	switch score.Category {
	case model.CategoryCritical:
		return int(math.Round(min(b*2.4, 1200)))
	case model.CategoryHigh:
		return int(math.Round(min(b*1.5, 900)))
	case model.CategoryMedium:
		return base
	default:
		return int(math.Round(max(b*0.8, 400)))
	}
}

// ShouldIncludeDetails は critical と high のときだけ true を返す。
func ShouldIncludeDetails(score model.ImportanceScore) bool {
	return score.Category == model.CategoryCritical || score.Category == model.CategoryHigh
}
