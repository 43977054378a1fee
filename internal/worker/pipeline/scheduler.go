package pipeline

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Start は収集タスクと投稿タスクを起動し、コンテキストがキャンセルされるまでブロックする。
// キャンセル時は実行中のサイクルと投稿を最後まで終えてから戻る。
func (p *Pipeline) Start(ctx context.Context) {
	p.logger.Info("パイプラインを開始しました",
		slog.Duration("collect_interval", p.cfg.CollectInterval),
		slog.Duration("post_min_interval", p.cfg.PostMinInterval),
		slog.Duration("post_max_interval", p.cfg.PostMaxInterval),
		slog.Int("max_concurrent", p.cfg.MaxConcurrent),
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.runCollectLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		p.runPostLoop(ctx)
	}()
	wg.Wait()

	p.logger.Info("パイプラインを停止しました")
}

// RunOnce は収集サイクルを1回実行し、キューから1件投稿する。
func (p *Pipeline) RunOnce(ctx context.Context) (CycleReport, PostOutcome, error) {
	report, err := p.CollectOnce(ctx)
	if err != nil {
		return report, PostEmpty, err
	}
	return report, p.PostOnce(ctx), nil
}

func (p *Pipeline) runCollectLoop(ctx context.Context) {
	// 実行中のサイクルはキャンセルで中断させない
	work := context.WithoutCancel(ctx)

	interval := p.tuning().collectInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// 起動直後に1回実行
	p.collectTick(work)
	interval = p.resetCollectTicker(ticker, interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("収集タスクを停止しました")
			return
		case <-ticker.C:
			p.collectTick(work)
			interval = p.resetCollectTicker(ticker, interval)
		}
	}
}

// resetCollectTicker は収集間隔が変わっていればティッカーを再設定し、有効な間隔を返す。
func (p *Pipeline) resetCollectTicker(ticker *time.Ticker, current time.Duration) time.Duration {
	next := p.tuning().collectInterval
	if next <= 0 || next == current {
		return current
	}
	ticker.Reset(next)
	p.logger.Info("収集間隔を変更しました",
		slog.Duration("collect_interval", next),
	)
	return next
}

func (p *Pipeline) collectTick(ctx context.Context) {
	if _, err := p.CollectOnce(ctx); err != nil {
		p.logger.Error("収集サイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pipeline) runPostLoop(ctx context.Context) {
	work := context.WithoutCancel(ctx)

	timer := time.NewTimer(p.jitter())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("投稿タスクを停止しました")
			return
		case <-timer.C:
			p.PostOnce(work)
			next := p.jitter()
			p.logger.Debug("次の投稿を予約しました",
				slog.Duration("delay", next),
			)
			timer.Reset(next)
		}
	}
}

// randomPostDelay は [PostMinInterval, PostMaxInterval] から一様に選んだ待機時間を返す。
func (p *Pipeline) randomPostDelay() time.Duration {
	t := p.tuning()
	lo, hi := t.postMinInterval, t.postMaxInterval
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}
