package publisher

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/hitoshi/newsrelay/internal/importance"
	"github.com/hitoshi/newsrelay/internal/llm"
	"github.com/hitoshi/newsrelay/internal/model"
)

// Summarizer は要約器のインターフェース。
// テスト時にモックに差し替え可能。
type Summarizer interface {
	Summarize(ctx context.Context, req llm.SummaryRequest) (string, error)
}

// ComposerConfig は投稿テキスト組み立ての設定。
type ComposerConfig struct {
	// BaseLength は重要度で伸縮させる前の本文の目標文字数。
	BaseLength int
	// SummaryEnabled が true の場合は要約器で本文を生成する。
	SummaryEnabled bool
}

// Message は組み立てた投稿テキストとその重要度。
type Message struct {
	Text       string
	Importance model.ImportanceScore
	Length     int
	Summarized bool
}

// Composer は重要度の判定、本文の生成、切り詰め、描画を順に行う。
type Composer struct {
	summarizer Summarizer
	renderer   *Renderer
	config     ComposerConfig
	logger     *slog.Logger

	mu     sync.RWMutex
	scorer *importance.Scorer
}

// NewComposer はComposerの新しいインスタンスを生成する。summarizer は nil でもよい。
func NewComposer(scorer *importance.Scorer, summarizer Summarizer, renderer *Renderer, config ComposerConfig, logger *slog.Logger) *Composer {
	if config.BaseLength <= 0 {
		config.BaseLength = 500
	}
	return &Composer{
		scorer:     scorer,
		summarizer: summarizer,
		renderer:   renderer,
		config:     config,
		logger:     logger,
	}
}

// SetKeywords は重要度判定のキーワード集合を差し替える。
func (c *Composer) SetKeywords(sets importance.KeywordSets) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scorer = importance.NewScorer(sets)
}

// Compose は投稿テキストを組み立てる。
// 要約に失敗した場合や要約器がない場合はItemの要約、それもなければタイトルを本文にする。
func (c *Composer) Compose(ctx context.Context, it model.Item, urgent bool) Message {
	c.mu.RLock()
	scorer := c.scorer
	c.mu.RUnlock()

	score := scorer.Analyze(it.Title, it.Summary)
	length := importance.AdaptiveLength(score, c.config.BaseLength)

	body := ""
	summarized := false
	if c.summarizer != nil && c.config.SummaryEnabled {
		s, err := c.summarizer.Summarize(ctx, llm.SummaryRequest{
			Title:          it.Title,
			Content:        it.Summary,
			Link:           it.Link,
			MaxLength:      length,
			Importance:     score,
			IncludeDetails: importance.ShouldIncludeDetails(score),
		})
		if err != nil {
			c.logger.Warn("要約の生成に失敗したため元の要約を使います",
				slog.String("title", it.Title),
				slog.String("error", err.Error()),
			)
		} else {
			body = s
			summarized = true
		}
	}
	if strings.TrimSpace(body) == "" {
		body = it.Summary
	}
	if strings.TrimSpace(body) == "" {
		body = it.Title
	}
	body = llm.TruncateBySentences(body, length)

	c.logger.Info("投稿テキストを組み立てました",
		slog.String("title", it.Title),
		slog.String("category", string(score.Category)),
		slog.Float64("score", score.Score),
		slog.Int("length", length),
		slog.Bool("summarized", summarized),
	)

	return Message{
		Text:       c.renderer.Render(it, body, urgent),
		Importance: score,
		Length:     length,
		Summarized: summarized,
	}
}
