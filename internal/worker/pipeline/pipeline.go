// Package pipeline は収集サイクルと投稿スケジューラを束ねるオーケストレーターを提供する。
// 収集タスクと投稿タスクは同じ投稿キューと公開台帳を共有する。
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/newsrelay/internal/collector"
	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/dedup"
	"github.com/hitoshi/newsrelay/internal/gate"
	"github.com/hitoshi/newsrelay/internal/importance"
	"github.com/hitoshi/newsrelay/internal/metrics"
	"github.com/hitoshi/newsrelay/internal/model"
	"github.com/hitoshi/newsrelay/internal/publisher"
	"github.com/hitoshi/newsrelay/internal/queue"
	"github.com/hitoshi/newsrelay/internal/selector"
)

// SourceProvider は配信元設定のスナップショットを返す。
type SourceProvider interface {
	Current() (*config.SourceSet, error)
}

// SourceCollector は配信元1件を収集する。
type SourceCollector interface {
	Collect(ctx context.Context, src config.Source) collector.Result
}

// Ledger は公開台帳のインターフェース。
type Ledger interface {
	IsPublished(ctx context.Context, id, source string) bool
	MarkPublished(ctx context.Context, id, link, source string, publishedAt time.Time) (bool, error)
}

// Composer は投稿テキストを組み立てる。
type Composer interface {
	Compose(ctx context.Context, it model.Item, urgent bool) publisher.Message
	SetKeywords(sets importance.KeywordSets)
}

// Config はパイプラインの設定。
type Config struct {
	CollectInterval time.Duration
	CollectTimeout  time.Duration
	MaxConcurrent   int
	PostMinInterval time.Duration
	PostMaxInterval time.Duration
	UrgentPostDelay time.Duration
	PublishTimeout  time.Duration
	// Destination は投稿先（TelegramのチャンネルID）。
	Destination string
	// MaxAttempts は1エントリあたりの投稿試行回数の上限。
	MaxAttempts int
}

// DefaultConfig はデフォルトのパイプライン設定を返す。
func DefaultConfig() Config {
	return Config{
		CollectInterval: 10 * time.Minute,
		CollectTimeout:  15 * time.Second,
		MaxConcurrent:   8,
		PostMinInterval: 5 * time.Minute,
		PostMaxInterval: 7 * time.Minute,
		UrgentPostDelay: 2 * time.Second,
		PublishTimeout:  30 * time.Second,
		MaxAttempts:     2,
	}
}

// Deps はパイプラインが利用するコンポーネント。
type Deps struct {
	Sources      SourceProvider
	Collector    SourceCollector
	Health       *collector.SourceHealth
	Deduplicator *dedup.Deduplicator
	Gate         *gate.Gate
	Selector     *selector.Selector
	Queue        *queue.Queue
	Ledger       Ledger
	Composer     Composer
	Sink         publisher.Sink
	Metrics      metrics.MetricsCollector
}

// Stats はパイプラインの累積カウンタ。
type Stats struct {
	Cycles          int64     `json:"cycles"`
	LastCycleID     string    `json:"last_cycle_id,omitempty"`
	LastCycleAt     time.Time `json:"last_cycle_at,omitempty"`
	Collected       int64     `json:"collected"`
	Enqueued        int64     `json:"enqueued"`
	PublishedUrgent int64     `json:"published_urgent"`
	PublishedQueue  int64     `json:"published_queue"`
	PublishFailures int64     `json:"publish_failures"`
	Requeued        int64     `json:"requeued"`
	Dropped         int64     `json:"dropped"`
	QueueLength     int       `json:"queue_length"`
	QueueCapacity   int       `json:"queue_capacity"`
}

// Pipeline は収集から投稿までの状態を持つオーケストレーター。
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	// jitter は次の投稿までの待機時間を返す。
	jitter func() time.Duration
	// sleep は緊急投稿の間隔を空ける。
	sleep func(ctx context.Context, d time.Duration)

	// collectMu は収集サイクルの多重実行を防ぐ。
	collectMu sync.Mutex
	// postMu は投稿の多重実行を防ぐ。
	postMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats

	// base は起動時の運用パラメータ、current は配信元設定で上書きした現在値。
	tuneMu  sync.RWMutex
	base    tunables
	current tunables
}

// New は新しいPipelineを生成する。
func New(deps Deps, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	p := &Pipeline{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		sleep:  sleepContext,
	}
	p.jitter = p.randomPostDelay
	p.base = baseTunables(deps, cfg)
	p.current = p.base
	return p
}

// Stats は現在の累積カウンタを返す。
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	s := p.stats
	p.statsMu.Unlock()
	s.QueueLength = p.deps.Queue.Len()
	s.QueueCapacity = p.deps.Queue.Cap()
	return s
}

// SourceStates は配信元ごとの収集状態を返す。
func (p *Pipeline) SourceStates() []model.SourceState {
	if p.deps.Health == nil {
		return nil
	}
	return p.deps.Health.Snapshot()
}

func (p *Pipeline) updateStats(fn func(s *Stats)) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	fn(&p.stats)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
