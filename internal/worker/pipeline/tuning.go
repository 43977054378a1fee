package pipeline

import (
	"log/slog"
	"time"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/dedup"
	"github.com/hitoshi/newsrelay/internal/model"
)

// tunables は配信元設定ファイルで上書きできる運用パラメータ。
type tunables struct {
	dedup             dedup.Config
	collectInterval   time.Duration
	postMinInterval   time.Duration
	postMaxInterval   time.Duration
	urgentPostDelay   time.Duration
	queueCapacity     int
	maxUrgencyCalls   int
	maxFreshnessCalls int
}

// baseTunables は起動時の設定とコンポーネントの初期値を集める。
func baseTunables(deps Deps, cfg Config) tunables {
	t := tunables{
		dedup:           deps.Deduplicator.Config(),
		collectInterval: cfg.CollectInterval,
		postMinInterval: cfg.PostMinInterval,
		postMaxInterval: cfg.PostMaxInterval,
		urgentPostDelay: cfg.UrgentPostDelay,
		queueCapacity:   deps.Queue.Cap(),
	}
	t.maxUrgencyCalls, t.maxFreshnessCalls = deps.Gate.Limits()
	return t
}

// with は指定された項目だけを上書きした値を返す。
func (t tunables) with(o config.TuningConfig) tunables {
	if o.Dedup.Enabled != nil {
		t.dedup.Enabled = *o.Dedup.Enabled
	}
	if o.Dedup.Threshold != nil {
		t.dedup.Threshold = *o.Dedup.Threshold
	}
	if o.Dedup.TitleWeight != nil {
		t.dedup.TitleWeight = *o.Dedup.TitleWeight
	}
	if o.Dedup.ContentWeight != nil {
		t.dedup.ContentWeight = *o.Dedup.ContentWeight
	}
	if o.Posting.CollectInterval != nil {
		t.collectInterval = *o.Posting.CollectInterval
	}
	if o.Posting.MinInterval != nil {
		t.postMinInterval = *o.Posting.MinInterval
	}
	if o.Posting.MaxInterval != nil {
		t.postMaxInterval = *o.Posting.MaxInterval
	}
	if o.Posting.UrgentPostDelay != nil {
		t.urgentPostDelay = *o.Posting.UrgentPostDelay
	}
	if o.Queue.Capacity != nil {
		t.queueCapacity = *o.Queue.Capacity
	}
	if o.Classifier.MaxUrgencyCalls != nil {
		t.maxUrgencyCalls = *o.Classifier.MaxUrgencyCalls
	}
	if o.Classifier.MaxFreshnessCalls != nil {
		t.maxFreshnessCalls = *o.Classifier.MaxFreshnessCalls
	}
	// 片方だけ上書きされて範囲が逆転した場合は下限に揃える
	if t.postMaxInterval < t.postMinInterval {
		t.postMaxInterval = t.postMinInterval
	}
	return t
}

// tuning は現在有効な運用パラメータを返す。
func (p *Pipeline) tuning() tunables {
	p.tuneMu.RLock()
	defer p.tuneMu.RUnlock()
	return p.current
}

// applyTuning は配信元設定の上書きをコンポーネントに反映する。
// 上書きが消えた項目は起動時の値に戻る。
func (p *Pipeline) applyTuning(logger *slog.Logger, o config.TuningConfig, report *CycleReport) {
	next := p.base.with(o)

	p.tuneMu.Lock()
	prev := p.current
	p.current = next
	p.tuneMu.Unlock()

	if next == prev {
		return
	}

	if next.dedup != prev.dedup {
		p.deps.Deduplicator.SetConfig(next.dedup)
	}
	evicted := 0
	if next.queueCapacity != prev.queueCapacity {
		entries := p.deps.Queue.SetCapacity(next.queueCapacity)
		items := make([]model.Item, 0, len(entries))
		for _, e := range entries {
			items = append(items, e.Item)
			p.deps.Metrics.RecordEvicted()
		}
		p.deps.Deduplicator.Forget(items...)
		evicted = len(entries)
		report.Evicted += evicted
	}
	if next.maxUrgencyCalls != prev.maxUrgencyCalls || next.maxFreshnessCalls != prev.maxFreshnessCalls {
		p.deps.Gate.SetLimits(next.maxUrgencyCalls, next.maxFreshnessCalls)
	}

	logger.Info("運用パラメータを更新しました",
		slog.Bool("dedup_enabled", next.dedup.Enabled),
		slog.Float64("dedup_threshold", next.dedup.Threshold),
		slog.Float64("dedup_title_weight", next.dedup.TitleWeight),
		slog.Float64("dedup_content_weight", next.dedup.ContentWeight),
		slog.Duration("collect_interval", next.collectInterval),
		slog.Duration("post_min_interval", next.postMinInterval),
		slog.Duration("post_max_interval", next.postMaxInterval),
		slog.Duration("urgent_post_delay", next.urgentPostDelay),
		slog.Int("queue_capacity", next.queueCapacity),
		slog.Int("evicted", evicted),
		slog.Int("max_urgency_calls", next.maxUrgencyCalls),
		slog.Int("max_freshness_calls", next.maxFreshnessCalls),
	)
}
