package model

// Category は重要度カテゴリを表す。
type Category string

const (
	// CategoryCritical は最重要ニュース。
	CategoryCritical Category = "critical"
	// CategoryHigh は重要ニュース。
	CategoryHigh Category = "high"
	// CategoryMedium は通常ニュース。
	CategoryMedium Category = "medium"
	// CategoryLow は低重要度ニュース。
	CategoryLow Category = "low"
)

// ImportanceScore は重要度判定の結果。永続化しない。
type ImportanceScore struct {
	Score    float64 // 0〜1
	Category Category
	Factors  []string
}

// SimilarityResult は重複判定の結果。永続化しない。
type SimilarityResult struct {
	Score       float64 // 0〜1
	IsDuplicate bool
	Reason      string
}
