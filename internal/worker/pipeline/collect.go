package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/newsrelay/internal/collector"
	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/gate"
	"github.com/hitoshi/newsrelay/internal/importance"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
	"github.com/hitoshi/newsrelay/internal/queue"
	"github.com/hitoshi/newsrelay/internal/selector"
)

// CycleReport は1回の収集サイクルの集計。
type CycleReport struct {
	CycleID          string
	Sources          int
	FailedSources    int
	SkippedSources   int
	Collected        int
	Filtered         int
	Unique           int
	Duplicates       int
	AlreadyQueued    int
	AlreadyPublished int
	UrgentPublished  int
	UrgentRequeued   int
	Stale            int
	Selected         int
	Enqueued         int
	Evicted          int
	Duration         time.Duration
}

// CollectOnce は収集サイクルを1回実行する。
// 収集、フィルタ、重複除去、台帳照合、緊急投稿、鮮度判定、選択、キュー投入の順に処理する。
// 配信元ごとの失敗はサイクルを中断せず、その配信元を0件として扱う。
// 配信元設定を一度も読み込めていない場合のみエラーを返す。
func (p *Pipeline) CollectOnce(ctx context.Context) (CycleReport, error) {
	p.collectMu.Lock()
	defer p.collectMu.Unlock()

	start := p.now()
	report := CycleReport{CycleID: uuid.NewString()}
	logger := p.logger.With(slog.String("cycle_id", report.CycleID))

	set, err := p.deps.Sources.Current()
	if set == nil {
		if err == nil {
			err = errors.New("no sources loaded")
		}
		return report, fmt.Errorf("配信元設定の読み込みに失敗: %w", err)
	}
	if err != nil {
		logger.Warn("配信元設定の再読み込みに失敗したため直前の設定を使います",
			slog.String("error", err.Error()),
		)
	}
	if p.deps.Composer != nil {
		p.deps.Composer.SetKeywords(importance.DefaultKeywords().WithOverrides(set.Importance))
	}
	p.applyTuning(logger, set.Tuning, &report)

	tasks := set.Tasks()
	report.Sources = len(tasks)
	logger.Info("収集サイクルを開始します",
		slog.Int("source_count", len(tasks)),
	)

	items := p.collectAll(ctx, logger, tasks, &report)
	report.Collected = len(items)

	items = item.Filter(items, item.FilterRules{
		IncludeKeywords: set.Filters.IncludeKeywords,
		ExcludeKeywords: set.Filters.ExcludeKeywords,
		MaxAge:          time.Duration(set.Filters.MaxAgeHours) * time.Hour,
	}, p.now())
	report.Filtered = len(items)

	// 同じ話題では最も早い報道が残るよう公開日時の昇順に並べる
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].PublishedAt.Before(items[j].PublishedAt)
	})

	unique, duplicates := p.deps.Deduplicator.FilterDuplicates(items)
	report.Unique = len(unique)
	report.Duplicates = len(duplicates)
	p.deps.Metrics.RecordDuplicates(len(duplicates))

	candidates := make([]model.Item, 0, len(unique))
	for _, it := range unique {
		if p.deps.Queue.Contains(it.Key()) {
			report.AlreadyQueued++
			continue
		}
		if p.deps.Ledger.IsPublished(ctx, it.ID, it.Source) {
			report.AlreadyPublished++
			continue
		}
		candidates = append(candidates, it)
	}

	cycle := p.deps.Gate.NewCycle()
	freshness, handled := p.urgentPath(ctx, logger, cycle, candidates, &report)

	var fresh, forget []model.Item
	for _, it := range candidates {
		if handled[it.Key()] {
			continue
		}
		isFresh, checked := freshness[it.Key()]
		if !checked {
			v := cycle.IsFresh(ctx, it.Title, it.Summary)
			p.deps.Metrics.RecordVerdict(string(gate.KindFreshness), string(v.Outcome))
			isFresh = v.Value
		}
		if !isFresh {
			report.Stale++
			forget = append(forget, it)
			logger.Debug("鮮度判定で古いニュースと判定されました",
				slog.String("title", it.Title),
				slog.String("source", it.Source),
			)
			continue
		}
		fresh = append(fresh, it)
	}

	selected := p.deps.Selector.Select(fresh, selector.ConfigFrom(set))
	report.Selected = len(selected)

	chosen := make(map[model.ItemKey]bool, len(selected))
	for _, it := range selected {
		if p.enqueue(logger, queue.Entry{Item: it, EnqueuedAt: p.now()}, &report) {
			chosen[it.Key()] = true
		}
	}
	for _, it := range fresh {
		if !chosen[it.Key()] {
			forget = append(forget, it)
		}
	}
	// 投入しなかったItemは次のサイクルで再び候補になれるようにする
	p.deps.Deduplicator.Forget(forget...)

	report.Duration = p.now().Sub(start)
	p.deps.Metrics.RecordEnqueued(report.Enqueued)
	p.deps.Metrics.SetQueueDepth(p.deps.Queue.Len())
	p.deps.Metrics.RecordCycleDuration(report.Duration)
	p.updateStats(func(s *Stats) {
		s.Cycles++
		s.LastCycleID = report.CycleID
		s.LastCycleAt = start
		s.Collected += int64(report.Collected)
		s.Enqueued += int64(report.Enqueued)
	})

	logger.Info("収集サイクルが完了しました",
		slog.Int("source_count", report.Sources),
		slog.Int("failed_sources", report.FailedSources),
		slog.Int("collected", report.Collected),
		slog.Int("unique", report.Unique),
		slog.Int("duplicates", report.Duplicates),
		slog.Int("already_published", report.AlreadyPublished),
		slog.Int("urgent_published", report.UrgentPublished),
		slog.Int("stale", report.Stale),
		slog.Int("enqueued", report.Enqueued),
		slog.Int("queue_length", p.deps.Queue.Len()),
		slog.Float64("duration_ms", float64(report.Duration.Milliseconds())),
	)
	return report, nil
}

// collectAll は配信元を並列に収集し、設定順にItemを連結する。
// セマフォで最大並列数を制御する。
func (p *Pipeline) collectAll(ctx context.Context, logger *slog.Logger, tasks []config.Source, report *CycleReport) []model.Item {
	results := make([]collector.Result, len(tasks))
	sem := make(chan struct{}, p.cfg.MaxConcurrent)
	var wg sync.WaitGroup

	for i, src := range tasks {
		if p.deps.Health != nil && !p.deps.Health.Allow(src.Name) {
			results[i] = collector.Result{Source: src.Name, Outcome: collector.OutcomeSkipped}
			logger.Info("連続して失敗している配信元の収集を見送ります",
				slog.String("source", src.Name),
			)
			continue
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(i int, src config.Source) {
			defer wg.Done()
			defer func() { <-sem }()

			fetchCtx := ctx
			if p.cfg.CollectTimeout > 0 {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(ctx, p.cfg.CollectTimeout)
				defer cancel()
			}
			results[i] = p.deps.Collector.Collect(fetchCtx, src)
		}(i, src)
	}

	wg.Wait()

	var items []model.Item
	for i, res := range results {
		name := tasks[i].Name
		switch res.Outcome {
		case collector.OutcomeOK:
			if p.deps.Health != nil {
				p.deps.Health.RecordSuccess(name)
			}
			p.deps.Metrics.RecordCollected(name, len(res.Items))
			items = append(items, res.Items...)
			logger.Debug("配信元の収集が完了しました",
				slog.String("source", name),
				slog.Int("item_count", len(res.Items)),
				slog.Float64("duration_ms", float64(res.Duration.Milliseconds())),
			)
		case collector.OutcomeFailed:
			report.FailedSources++
			p.deps.Metrics.RecordSourceFailure(name)
			logger.Warn("配信元の収集に失敗しました",
				slog.String("source", name),
				slog.String("type", string(tasks[i].Type)),
				slog.String("error", errString(res.Err)),
				slog.Float64("duration_ms", float64(res.Duration.Milliseconds())),
			)
			if p.deps.Health == nil {
				continue
			}
			if backoff, next := p.deps.Health.RecordFailure(name, res.Err); backoff {
				logger.Warn("連続失敗のため配信元をバックオフします",
					slog.String("source", name),
					slog.Time("next_fetch_at", next),
				)
			}
		default:
			report.SkippedSources++
		}
	}
	return items
}

// enqueue はエントリをキューに入れる。満杯で追い出したエントリは次のサイクルで再発見できるようにする。
func (p *Pipeline) enqueue(logger *slog.Logger, e queue.Entry, report *CycleReport) bool {
	evicted, ok := p.deps.Queue.Push(e)
	if !ok {
		return false
	}
	report.Enqueued++
	if evicted != nil {
		report.Evicted++
		p.deps.Metrics.RecordEvicted()
		p.deps.Deduplicator.Forget(evicted.Item)
		logger.Warn("投稿キューが満杯のため最も古いエントリを破棄しました",
			slog.String("title", evicted.Item.Title),
			slog.String("source", evicted.Item.Source),
		)
	}
	return true
}

// urgentPath は候補を新しい順に鮮度と緊急度で判定し、緊急のものを即時に投稿する。
// 分類器の呼び出し回数はゲートのサイクルごとの上限で抑え、キャッシュと語彙による判定は上限を消費しない。
// 判定済みの鮮度と、緊急経路で処理したItemの集合を返す。
func (p *Pipeline) urgentPath(ctx context.Context, logger *slog.Logger, cycle *gate.Cycle, candidates []model.Item, report *CycleReport) (freshness, handled map[model.ItemKey]bool) {
	freshness = make(map[model.ItemKey]bool)
	handled = make(map[model.ItemKey]bool)

	newestFirst := make([]model.Item, len(candidates))
	copy(newestFirst, candidates)
	sort.SliceStable(newestFirst, func(i, j int) bool {
		return newestFirst[i].PublishedAt.After(newestFirst[j].PublishedAt)
	})

	type urgentItem struct {
		item   model.Item
		reason string
	}
	var urgent []urgentItem
	for _, it := range newestFirst {
		fresh := cycle.IsFresh(ctx, it.Title, it.Summary)
		p.deps.Metrics.RecordVerdict(string(gate.KindFreshness), string(fresh.Outcome))
		freshness[it.Key()] = fresh.Value
		if !fresh.Value {
			continue
		}

		v := cycle.IsUrgent(ctx, it.Title, it.Summary)
		p.deps.Metrics.RecordVerdict(string(gate.KindUrgency), string(v.Outcome))
		if v.Value {
			urgent = append(urgent, urgentItem{item: it, reason: v.Reason})
		}
	}

	// 投稿は報道の古い順に行う
	for i := len(urgent) - 1; i >= 0; i-- {
		if i < len(urgent)-1 {
			p.sleep(ctx, p.tuning().urgentPostDelay)
		}
		handled[urgent[i].item.Key()] = true
		p.publishUrgent(ctx, logger, urgent[i].item, urgent[i].reason, report)
	}
	return freshness, handled
}
