package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/newsrelay/internal/metrics"
	"github.com/hitoshi/newsrelay/internal/model"
	"github.com/hitoshi/newsrelay/internal/publisher"
	"github.com/hitoshi/newsrelay/internal/queue"
)

// PostOutcome は投稿ティック1回の結果。
type PostOutcome string

const (
	PostEmpty     PostOutcome = "empty"
	PostSkipped   PostOutcome = "skipped"
	PostPublished PostOutcome = "published"
	PostRequeued  PostOutcome = "requeued"
	PostDropped   PostOutcome = "dropped"
)

// PostOnce はキューの先頭を1件取り出して投稿する。
// 台帳に記録済みなら投稿せずに捨てる。失敗したエントリは試行回数の上限までキューの末尾に戻し、
// それを超えたら捨てて、後のサイクルで再発見できるよう重複判定のハッシュを忘れる。
func (p *Pipeline) PostOnce(ctx context.Context) PostOutcome {
	p.postMu.Lock()
	defer p.postMu.Unlock()

	entry, ok := p.deps.Queue.Pop()
	if !ok {
		p.logger.Debug("投稿キューは空です")
		return PostEmpty
	}
	defer func() { p.deps.Metrics.SetQueueDepth(p.deps.Queue.Len()) }()

	it := entry.Item
	if p.deps.Ledger.IsPublished(ctx, it.ID, it.Source) {
		p.logger.Info("配信済みのためスキップします",
			slog.String("title", it.Title),
			slog.String("source", it.Source),
		)
		return PostSkipped
	}

	entry.Attempts++
	if err := p.publish(ctx, it, entry.Urgent); err != nil {
		p.deps.Metrics.RecordPublishFailure(metrics.PathQueue)
		p.updateStats(func(s *Stats) { s.PublishFailures++ })

		if entry.Attempts < p.cfg.MaxAttempts && p.deps.Queue.Requeue(entry) {
			p.deps.Metrics.RecordRequeued()
			p.updateStats(func(s *Stats) { s.Requeued++ })
			p.logger.Warn("投稿に失敗したため再試行のためにキューへ戻しました",
				slog.String("title", it.Title),
				slog.String("source", it.Source),
				slog.Int("attempts", entry.Attempts),
				slog.String("error", err.Error()),
			)
			return PostRequeued
		}

		p.deps.Deduplicator.Forget(it)
		p.updateStats(func(s *Stats) { s.Dropped++ })
		p.logger.Error("投稿に失敗したためエントリを破棄しました",
			slog.String("title", it.Title),
			slog.String("source", it.Source),
			slog.Int("attempts", entry.Attempts),
			slog.String("error", err.Error()),
		)
		return PostDropped
	}

	p.deps.Metrics.RecordPublished(metrics.PathQueue)
	p.updateStats(func(s *Stats) { s.PublishedQueue++ })
	p.logger.Info("ニュースを投稿しました",
		slog.String("title", it.Title),
		slog.String("source", it.Source),
		slog.Bool("urgent", entry.Urgent),
		slog.Int("queue_length", p.deps.Queue.Len()),
	)
	return PostPublished
}

// publishUrgent は緊急ニュースを即時に投稿する。
// 失敗した場合は1回だけの再試行として通常のキューに入れる。
func (p *Pipeline) publishUrgent(ctx context.Context, logger *slog.Logger, it model.Item, reason string, report *CycleReport) {
	err := p.publish(ctx, it, true)
	if err == nil {
		report.UrgentPublished++
		p.deps.Metrics.RecordPublished(metrics.PathUrgent)
		p.updateStats(func(s *Stats) { s.PublishedUrgent++ })
		logger.Info("緊急ニュースを即時に投稿しました",
			slog.String("title", it.Title),
			slog.String("source", it.Source),
			slog.String("reason", reason),
		)
		return
	}

	p.deps.Metrics.RecordPublishFailure(metrics.PathUrgent)
	p.updateStats(func(s *Stats) { s.PublishFailures++ })
	logger.Warn("緊急ニュースの投稿に失敗したため通常のキューで再試行します",
		slog.String("title", it.Title),
		slog.String("source", it.Source),
		slog.String("error", err.Error()),
	)
	if p.enqueue(logger, queue.Entry{Item: it, Urgent: true, Attempts: 1, EnqueuedAt: p.now()}, report) {
		report.UrgentRequeued++
		p.deps.Metrics.RecordRequeued()
		p.updateStats(func(s *Stats) { s.Requeued++ })
	}
}

// publish は投稿テキストを組み立てて送信し、成功したら台帳に記録する。
// 送信後の台帳記録の失敗はログに残すだけで投稿の失敗にはしない。
func (p *Pipeline) publish(ctx context.Context, it model.Item, urgent bool) error {
	pubCtx := ctx
	if p.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(ctx, p.cfg.PublishTimeout)
		defer cancel()
	}

	msg := p.deps.Composer.Compose(pubCtx, it, urgent)
	if err := p.deps.Sink.Publish(pubCtx, p.cfg.Destination, msg.Text); err != nil {
		if errors.Is(err, publisher.ErrNotConfigured) {
			p.logger.Warn("投稿先が設定されていません")
		}
		return err
	}

	first, err := p.deps.Ledger.MarkPublished(ctx, it.ID, it.Link, it.Source, it.PublishedAt)
	if err != nil {
		p.logger.Error("投稿後の台帳への記録に失敗しました",
			slog.String("news_id", it.ID),
			slog.String("source", it.Source),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if !first {
		p.logger.Warn("台帳に記録済みのニュースを投稿しました",
			slog.String("news_id", it.ID),
			slog.String("source", it.Source),
		)
	}
	p.logger.Debug("投稿内容",
		slog.String("category", string(msg.Importance.Category)),
		slog.Float64("importance", msg.Importance.Score),
		slog.Int("length", msg.Length),
		slog.Bool("summarized", msg.Summarized),
	)
	return nil
}
