package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/item"
)

// Registry は配信元の種別からコレクターを引く。
type Registry struct {
	collectors map[config.SourceType]Collector
	logger     *slog.Logger
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		collectors: make(map[config.SourceType]Collector),
		logger:     logger,
	}
}

// NewDefaultRegistry は組み込みの全種別を登録したRegistryを生成する。
func NewDefaultRegistry(opts Options, builder *item.Builder, logger *slog.Logger) *Registry {
	r := NewRegistry(logger)
	gnews := NewGoogleNewsCollector(opts, builder, logger)
	r.Register(config.SourceTypeRSS, NewRSSCollector(opts, builder, logger))
	r.Register(config.SourceTypeHTML, NewHTMLCollector(opts, builder, logger))
	r.Register(config.SourceTypeTelegram, NewTelegramChannelCollector(opts, builder, logger))
	r.Register(config.SourceTypeGNewsTopic, gnews)
	r.Register(config.SourceTypeGNewsSearch, gnews)
	r.Register(config.SourceTypeNewsAPI, NewNewsAPICollector(opts, builder, logger))
	r.Register(config.SourceTypeReddit, NewRedditCollector(opts, builder, logger))
	r.Register(config.SourceTypeHackerNews, NewHackerNewsCollector(opts, builder, logger))
	r.Register(config.SourceTypeGitHubTrending, NewGitHubTrendingCollector(opts, builder, logger))
	return r
}

// Register は種別にコレクターを登録する。既存の登録は置き換える。
func (r *Registry) Register(t config.SourceType, c Collector) {
	r.collectors[t] = c
}

// Collect は種別に対応するコレクターで収集する。
// 未登録の種別は skipped を返す。コレクター内のパニックは failed として回収する。
func (r *Registry) Collect(ctx context.Context, src config.Source) (res Result) {
	c, ok := r.collectors[src.Type]
	if !ok {
		r.logger.Warn("未対応の配信元種別のためスキップします",
			slog.String("source", src.Name),
			slog.String("type", string(src.Type)),
		)
		return Result{Source: src.Name, Items: nil, Outcome: OutcomeSkipped}
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("コレクターでパニックが発生しました",
				slog.String("source", src.Name),
				slog.Any("panic", rec),
			)
			res = Result{
				Source:   src.Name,
				Items:    nil,
				Outcome:  OutcomeFailed,
				Err:      fmt.Errorf("collector panic: %v", rec),
				Duration: time.Since(start),
			}
		}
	}()

	return c.Collect(ctx, src)
}
