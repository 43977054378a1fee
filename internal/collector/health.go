package collector

import (
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/newsrelay/internal/model"
)

const (
	// failureThreshold はバックオフに入る連続失敗回数。
	failureThreshold = 3
	// maxBackoff はバックオフの上限。
	maxBackoff = 6 * time.Hour
)

// CalculateBackoff は連続失敗回数に基づいて指数バックオフ遅延を計算する。
// 閾値到達時に initial、以降1回ごとに2倍、最大6時間。
func CalculateBackoff(initial time.Duration, consecutiveErrors int) time.Duration {
	delay := initial
	for i := failureThreshold; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return min(delay, maxBackoff)
}

// SourceHealth は配信元ごとの連続失敗を記録し、失敗が続く配信元の収集を一時的に見送る。
// プロセス内でのみ保持する。
type SourceHealth struct {
	initialBackoff time.Duration
	now            func() time.Time

	mu     sync.Mutex
	states map[string]*model.SourceState
}

// NewSourceHealth は新しいSourceHealthを生成する。initialBackoff には収集間隔を渡す。
func NewSourceHealth(initialBackoff time.Duration) *SourceHealth {
	return &SourceHealth{
		initialBackoff: initialBackoff,
		now:            time.Now,
		states:         make(map[string]*model.SourceState),
	}
}

// Allow は配信元を今収集してよいかを返す。
func (h *SourceHealth) Allow(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.states[name]
	if !ok || st.FetchStatus != model.FetchStatusBackoff {
		return true
	}
	return !h.now().Before(st.NextFetchAt)
}

// RecordSuccess は収集成功を記録し、失敗回数をリセットする。
func (h *SourceHealth) RecordSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	st := h.state(name)
	st.FetchStatus = model.FetchStatusActive
	st.ConsecutiveErrors = 0
	st.ErrorMessage = ""
	st.NextFetchAt = time.Time{}
	st.LastSuccessAt = now
	st.UpdatedAt = now
}

// RecordFailure は収集失敗を記録する。閾値に達した場合はバックオフに入れ、再開予定時刻を返す。
func (h *SourceHealth) RecordFailure(name string, err error) (backoff bool, next time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	st := h.state(name)
	st.ConsecutiveErrors++
	if err != nil {
		st.ErrorMessage = err.Error()
	}
	st.UpdatedAt = now
	if st.ConsecutiveErrors < failureThreshold {
		return false, time.Time{}
	}
	st.FetchStatus = model.FetchStatusBackoff
	st.NextFetchAt = now.Add(CalculateBackoff(h.initialBackoff, st.ConsecutiveErrors))
	return true, st.NextFetchAt
}

// Snapshot は全配信元の状態のコピーを名前順で返す。
func (h *SourceHealth) Snapshot() []model.SourceState {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]model.SourceState, 0, len(h.states))
	for _, st := range h.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (h *SourceHealth) state(name string) *model.SourceState {
	st, ok := h.states[name]
	if !ok {
		st = &model.SourceState{Name: name, FetchStatus: model.FetchStatusActive}
		h.states[name] = st
	}
	return st
}
