package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/newsrelay/internal/dedup"
	"github.com/hitoshi/newsrelay/internal/middleware"
	"github.com/hitoshi/newsrelay/internal/model"
	"github.com/hitoshi/newsrelay/internal/queue"
	"github.com/hitoshi/newsrelay/internal/worker/pipeline"
)

const (
	// defaultPublishedLimit は /api/published の1回の取得件数（デフォルト）。
	defaultPublishedLimit = 20
	// maxPublishedLimit は /api/published で指定できる最大件数。
	maxPublishedLimit = 200
)

// QueueInspector は投稿キューの状態を返す。
type QueueInspector interface {
	Snapshot() []queue.Entry
	Cap() int
}

// PublishedLister は台帳の直近の記録を返す。
type PublishedLister interface {
	LastPublished(ctx context.Context, limit int) ([]model.PublishedRecord, error)
}

// PipelineInspector はパイプラインの累積カウンタと配信元の状態を返す。
type PipelineInspector interface {
	Stats() pipeline.Stats
	SourceStates() []model.SourceState
}

// DedupInspector は重複判定の統計を返す。
type DedupInspector interface {
	Stats() dedup.Stats
}

// StatusHandler はパイプラインの状態を返すHTTPハンドラー。
type StatusHandler struct {
	queue    QueueInspector
	ledger   PublishedLister
	pipeline PipelineInspector
	dedup    DedupInspector
	logger   *slog.Logger
}

// NewStatusHandler はStatusHandlerを生成する。
func NewStatusHandler(q QueueInspector, ledger PublishedLister, p PipelineInspector, d DedupInspector, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		queue:    q,
		ledger:   ledger,
		pipeline: p,
		dedup:    d,
		logger:   logger,
	}
}

// --- レスポンス型 ---

// queueResponse は投稿キューのレスポンス。
type queueResponse struct {
	Length   int           `json:"length"`
	Capacity int           `json:"capacity"`
	Entries  []queue.Entry `json:"entries"`
}

// publishedResponse は配信記録一覧のレスポンス。
type publishedResponse struct {
	Records []model.PublishedRecord `json:"records"`
}

// sourceStateResponse は配信元の収集状態のレスポンス。
type sourceStateResponse struct {
	Name              string `json:"name"`
	FetchStatus       string `json:"fetch_status"`
	ConsecutiveErrors int    `json:"consecutive_errors"`
	ErrorMessage      string `json:"error_message,omitempty"`
	NextFetchAt       string `json:"next_fetch_at,omitempty"`
	LastSuccessAt     string `json:"last_success_at,omitempty"`
}

// statsResponse はパイプライン統計のレスポンス。
type statsResponse struct {
	Pipeline pipeline.Stats        `json:"pipeline"`
	Dedup    dedup.Stats           `json:"dedup"`
	Sources  []sourceStateResponse `json:"sources"`
}

// Queue は投稿キューのスナップショットを返す。
// GET /api/queue
func (h *StatusHandler) Queue(w http.ResponseWriter, r *http.Request) {
	entries := h.queue.Snapshot()
	writeJSON(w, queueResponse{
		Length:   len(entries),
		Capacity: h.queue.Cap(),
		Entries:  entries,
	})
}

// Published は台帳の直近の記録を新しい順に返す。
// GET /api/published?limit=N
func (h *StatusHandler) Published(w http.ResponseWriter, r *http.Request) {
	limit := defaultPublishedLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPublishedLimit {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidLimitError(raw, maxPublishedLimit))
			return
		}
		limit = n
	}

	records, err := h.ledger.LastPublished(r.Context(), limit)
	if err != nil {
		h.logger.Error("配信記録の取得に失敗しました",
			slog.Int("limit", limit),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewLedgerUnavailableError())
		return
	}
	if records == nil {
		records = []model.PublishedRecord{}
	}
	writeJSON(w, publishedResponse{Records: records})
}

// Stats は重複判定とパイプラインの累積カウンタ、配信元ごとの収集状態を返す。
// GET /api/stats
func (h *StatusHandler) Stats(w http.ResponseWriter, r *http.Request) {
	states := h.pipeline.SourceStates()
	sources := make([]sourceStateResponse, 0, len(states))
	for _, s := range states {
		sources = append(sources, toSourceStateResponse(s))
	}

	writeJSON(w, statsResponse{
		Pipeline: h.pipeline.Stats(),
		Dedup:    h.dedup.Stats(),
		Sources:  sources,
	})
}

func toSourceStateResponse(s model.SourceState) sourceStateResponse {
	resp := sourceStateResponse{
		Name:              s.Name,
		FetchStatus:       string(s.FetchStatus),
		ConsecutiveErrors: s.ConsecutiveErrors,
		ErrorMessage:      s.ErrorMessage,
	}
	if !s.NextFetchAt.IsZero() {
		resp.NextFetchAt = s.NextFetchAt.UTC().Format(time.RFC3339)
	}
	if !s.LastSuccessAt.IsZero() {
		resp.LastSuccessAt = s.LastSuccessAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
