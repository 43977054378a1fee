package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/newsrelay/internal/collector"
	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/dedup"
	"github.com/hitoshi/newsrelay/internal/gate"
	"github.com/hitoshi/newsrelay/internal/importance"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
	"github.com/hitoshi/newsrelay/internal/publisher"
	"github.com/hitoshi/newsrelay/internal/queue"
	"github.com/hitoshi/newsrelay/internal/selector"
)

// --- モック定義 ---

type fakeSources struct {
	set *config.SourceSet
	err error
}

func (f *fakeSources) Current() (*config.SourceSet, error) {
	return f.set, f.err
}

// mockCollector は配信元名ごとに結果を返すモック。
type mockCollector struct {
	mu          sync.Mutex
	calls       map[string]int
	collectFunc func(ctx context.Context, src config.Source) collector.Result
}

func (m *mockCollector) Collect(ctx context.Context, src config.Source) collector.Result {
	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[src.Name]++
	m.mu.Unlock()
	return m.collectFunc(ctx, src)
}

func (m *mockCollector) callCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// memoryLedger はプロセス内の台帳。
type memoryLedger struct {
	mu        sync.Mutex
	published map[model.ItemKey]bool
	marks     int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{published: make(map[model.ItemKey]bool)}
}

func (l *memoryLedger) IsPublished(_ context.Context, id, source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.published[model.ItemKey{ID: id, Source: source}]
}

func (l *memoryLedger) MarkPublished(_ context.Context, id, _, source string, _ time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.marks++
	key := model.ItemKey{ID: id, Source: source}
	if l.published[key] {
		return false, nil
	}
	l.published[key] = true
	return true, nil
}

func (l *memoryLedger) markCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marks
}

type mockComposer struct {
	mu       sync.Mutex
	urgent   []bool
	keywords int
}

func (m *mockComposer) Compose(_ context.Context, it model.Item, urgent bool) publisher.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urgent = append(m.urgent, urgent)
	return publisher.Message{Text: it.Title}
}

func (m *mockComposer) SetKeywords(importance.KeywordSets) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keywords++
}

// mockSink は送信内容を記録するモック。
type mockSink struct {
	mu          sync.Mutex
	texts       []string
	publishFunc func(ctx context.Context, destination, text string) error
}

func (m *mockSink) Publish(ctx context.Context, destination, text string) error {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	if m.publishFunc != nil {
		return m.publishFunc(ctx, destination, text)
	}
	return nil
}

func (m *mockSink) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

type mockClassifier struct {
	classifyFunc func(ctx context.Context, req gate.Request) (bool, error)
}

func (m *mockClassifier) Classify(ctx context.Context, req gate.Request) (bool, error) {
	return m.classifyFunc(ctx, req)
}

// compile-time interface checks
var (
	_ SourceProvider  = (*config.SourceFile)(nil)
	_ SourceCollector = (*collector.Registry)(nil)
	_ Composer        = (*publisher.Composer)(nil)
	_ publisher.Sink  = (*mockSink)(nil)
	_ gate.Classifier = (*mockClassifier)(nil)
)

// --- ヘルパー ---

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newItem(source, title string, age time.Duration) model.Item {
	it := model.Item{
		Title:       title,
		Link:        "https://news.example.com/" + source + "/" + title,
		Source:      source,
		PublishedAt: baseTime.Add(-age),
	}
	it.ID = item.Fingerprint(it)
	return it
}

func sourceSet(names ...string) *config.SourceSet {
	set := &config.SourceSet{}
	for _, name := range names {
		set.Sources = append(set.Sources, config.Source{
			Name: name,
			Type: config.SourceTypeRSS,
			RSS:  "https://news.example.com/" + name + "/rss",
		})
	}
	return set
}

// itemsBySource は配信元ごとに固定のItemを返すコレクター。
func itemsBySource(items map[string][]model.Item) *mockCollector {
	return &mockCollector{collectFunc: func(_ context.Context, src config.Source) collector.Result {
		return collector.Result{Source: src.Name, Items: items[src.Name], Outcome: collector.OutcomeOK}
	}}
}

type testEnv struct {
	pipeline *Pipeline
	queue    *queue.Queue
	ledger   *memoryLedger
	sink     *mockSink
	composer *mockComposer
	logs     *bytes.Buffer
}

func testGateConfig() gate.Config {
	cfg := gate.DefaultConfig()
	cfg.CallDelay = 0
	cfg.RateLimitBackoff = time.Millisecond
	return cfg
}

func newTestEnv(set *config.SourceSet, coll SourceCollector, classifier gate.Classifier) *testEnv {
	return newTestEnvWithGate(set, coll, classifier, testGateConfig())
}

func newTestEnvWithGate(set *config.SourceSet, coll SourceCollector, classifier gate.Classifier, gateCfg gate.Config) *testEnv {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	env := &testEnv{
		queue:    queue.New(10),
		ledger:   newMemoryLedger(),
		sink:     &mockSink{},
		composer: &mockComposer{},
		logs:     &buf,
	}

	cfg := DefaultConfig()
	cfg.UrgentPostDelay = 0
	cfg.Destination = "@channel"

	env.pipeline = New(Deps{
		Sources:      &fakeSources{set: set},
		Collector:    coll,
		Health:       collector.NewSourceHealth(10 * time.Minute),
		Deduplicator: dedup.New(dedup.DefaultConfig(), logger),
		Gate:         gate.New(gateCfg, classifier, gate.NewMemoryCache(), logger),
		Selector:     selector.New(logger),
		Queue:        env.queue,
		Ledger:       env.ledger,
		Composer:     env.composer,
		Sink:         env.sink,
	}, cfg, logger)
	env.pipeline.now = func() time.Time { return baseTime }
	return env
}

// --- CollectOnce ---

func TestPipeline_CollectOnce_EnqueuesEarliestItemPerSource(t *testing.T) {
	older := newItem("A", "Central bank raises interest rates", 30*time.Minute)
	newer := newItem("A", "Parliament approves new budget plan", 10*time.Minute)
	other := newItem("B", "Oil exports grow in southern region", 20*time.Minute)
	env := newTestEnv(sourceSet("A", "B"), itemsBySource(map[string][]model.Item{
		"A": {newer, older},
		"B": {other},
	}), nil)

	report, err := env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}

	if report.Collected != 3 || report.Unique != 3 {
		t.Errorf("report = %+v", report)
	}
	snap := env.queue.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("配信元ごとに1件ずつキューに入るべき: len = %d", len(snap))
	}
	if snap[0].Item.ID != older.ID {
		t.Errorf("配信元Aでは最も早いItemが選ばれるべき: %q", snap[0].Item.Title)
	}
	if snap[1].Item.ID != other.ID {
		t.Errorf("2件目 = %q, want %q", snap[1].Item.Title, other.Title)
	}
	if len(env.sink.sent()) != 0 {
		t.Error("緊急でないItemは即時に投稿されるべきでない")
	}
	if env.composer.keywords != 1 {
		t.Errorf("サイクルごとにキーワード集合を反映するべき: %d", env.composer.keywords)
	}

	// 選ばれなかったItemは次のサイクルで再び候補になり、投入済みのItemは重複として除かれる
	report, err = env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("2回目の CollectOnce がエラーを返した: %v", err)
	}
	if report.Duplicates != 2 || report.Enqueued != 1 {
		t.Errorf("2回目の report = %+v", report)
	}
	snap = env.queue.Snapshot()
	if len(snap) != 3 || snap[2].Item.ID != newer.ID {
		t.Errorf("前回選ばれなかったItemが投入されるべき: %+v", snap)
	}
}

func TestPipeline_CollectOnce_SourceFailureDoesNotAbortCycle(t *testing.T) {
	good := newItem("B", "Oil exports grow in southern region", 20*time.Minute)
	coll := &mockCollector{collectFunc: func(_ context.Context, src config.Source) collector.Result {
		if src.Name == "A" {
			return collector.Result{Source: "A", Items: []model.Item{}, Outcome: collector.OutcomeFailed, Err: errors.New("timeout")}
		}
		return collector.Result{Source: src.Name, Items: []model.Item{good}, Outcome: collector.OutcomeOK}
	}}
	env := newTestEnv(sourceSet("A", "B"), coll, nil)

	report, err := env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}
	if report.FailedSources != 1 {
		t.Errorf("FailedSources = %d, want 1", report.FailedSources)
	}
	if env.queue.Len() != 1 {
		t.Errorf("失敗していない配信元のItemはキューに入るべき: len = %d", env.queue.Len())
	}
	if !bytes.Contains(env.logs.Bytes(), []byte("配信元の収集に失敗しました")) {
		t.Error("収集失敗がログに記録されるべき")
	}
}

func TestPipeline_CollectOnce_FailingSourceBacksOff(t *testing.T) {
	coll := &mockCollector{collectFunc: func(_ context.Context, src config.Source) collector.Result {
		return collector.Result{Source: src.Name, Items: []model.Item{}, Outcome: collector.OutcomeFailed, Err: errors.New("503")}
	}}
	env := newTestEnv(sourceSet("A"), coll, nil)

	for i := 0; i < 4; i++ {
		if _, err := env.pipeline.CollectOnce(context.Background()); err != nil {
			t.Fatalf("CollectOnce がエラーを返した: %v", err)
		}
	}
	if got := coll.callCount("A"); got != 3 {
		t.Errorf("3回連続で失敗した配信元は見送られるべき: calls = %d, want 3", got)
	}
	states := env.pipeline.SourceStates()
	if len(states) != 1 || states[0].FetchStatus != model.FetchStatusBackoff {
		t.Errorf("states = %+v", states)
	}
}

func TestPipeline_CollectOnce_UrgentPublishedImmediately(t *testing.T) {
	urgent := newItem("A", "Explosion reported in the city centre", 5*time.Minute)
	env := newTestEnv(sourceSet("A"), itemsBySource(map[string][]model.Item{"A": {urgent}}), nil)

	report, err := env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}

	if report.UrgentPublished != 1 {
		t.Errorf("UrgentPublished = %d, want 1", report.UrgentPublished)
	}
	if sent := env.sink.sent(); len(sent) != 1 || sent[0] != urgent.Title {
		t.Errorf("sent = %v", sent)
	}
	if len(env.composer.urgent) != 1 || !env.composer.urgent[0] {
		t.Error("緊急として組み立てられるべき")
	}
	if !env.ledger.IsPublished(context.Background(), urgent.ID, urgent.Source) {
		t.Error("緊急投稿は台帳に記録されるべき")
	}
	if env.queue.Len() != 0 {
		t.Errorf("緊急投稿したItemはキューに入るべきでない: len = %d", env.queue.Len())
	}
	if stats := env.pipeline.Stats(); stats.PublishedUrgent != 1 {
		t.Errorf("Stats.PublishedUrgent = %d, want 1", stats.PublishedUrgent)
	}
}

func TestPipeline_CollectOnce_UrgentNewestItemNotCrowdedOutByOlderItems(t *testing.T) {
	titles := []string{
		"Museum opens gallery of modern sculpture",
		"Farmers expect good harvest of wheat",
		"City council approves new park design",
		"Library extends weekend opening schedule",
		"Orchestra announces autumn concert season",
		"Startup unveils electric cargo bicycle",
		"University launches marine biology course",
		"Railway operator orders new passenger carriages",
		"Chess champion visits local school club",
		"Bakery chain expands into northern towns",
	}
	bySource := make(map[string][]model.Item)
	var names []string
	for i, title := range titles {
		name := "S" + string(rune('0'+i))
		names = append(names, name)
		bySource[name] = []model.Item{newItem(name, title, time.Duration(60+i)*time.Minute)}
	}
	urgent := newItem("B", "Explosion reported in the city centre", time.Minute)
	bySource["B"] = []model.Item{urgent}
	names = append(names, "B")

	env := newTestEnv(sourceSet(names...), itemsBySource(bySource), nil)

	report, err := env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}
	if report.UrgentPublished != 1 {
		t.Errorf("UrgentPublished = %d, want 1", report.UrgentPublished)
	}
	if sent := env.sink.sent(); len(sent) != 1 || sent[0] != urgent.Title {
		t.Errorf("古いItemが多くても最新の緊急ニュースは即時投稿されるべき: sent = %v", sent)
	}
}

func TestPipeline_CollectOnce_UrgencyCallsSpentOnNewestItems(t *testing.T) {
	oldest := newItem("A", "Museum opens gallery of modern sculpture", 50*time.Minute)
	urgent := newItem("B", "Explosion reported in the city centre", 40*time.Minute)
	middle := newItem("C", "Farmers expect good harvest of wheat", 30*time.Minute)
	newest := newItem("D", "City council approves new park design", 10*time.Minute)

	var mu sync.Mutex
	var asked []string
	classifier := &mockClassifier{classifyFunc: func(_ context.Context, req gate.Request) (bool, error) {
		if req.Kind != gate.KindUrgency {
			return true, nil
		}
		mu.Lock()
		defer mu.Unlock()
		asked = append(asked, req.Title)
		return false, nil
	}}
	gateCfg := testGateConfig()
	gateCfg.MaxUrgencyCalls = 1
	env := newTestEnvWithGate(sourceSet("A", "B", "C", "D"), itemsBySource(map[string][]model.Item{
		"A": {oldest},
		"B": {urgent},
		"C": {middle},
		"D": {newest},
	}), classifier, gateCfg)

	report, err := env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}
	if len(asked) != 1 || asked[0] != newest.Title {
		t.Errorf("分類器の呼び出し枠は最新のItemに使われるべき: %v", asked)
	}
	if report.UrgentPublished != 1 {
		t.Errorf("緊急キーワードによる判定は呼び出し枠を消費しないべき: UrgentPublished = %d", report.UrgentPublished)
	}
	if sent := env.sink.sent(); len(sent) != 1 || sent[0] != urgent.Title {
		t.Errorf("sent = %v", sent)
	}
	if env.queue.Len() != 3 {
		t.Errorf("緊急でないItemはキューに入るべき: len = %d", env.queue.Len())
	}
}

func TestPipeline_CollectOnce_UrgentFailureRetriedOnceThroughQueue(t *testing.T) {
	urgent := newItem("A", "Explosion reported in the city centre", 5*time.Minute)
	env := newTestEnv(sourceSet("A"), itemsBySource(map[string][]model.Item{"A": {urgent}}), nil)
	env.sink.publishFunc = func(context.Context, string, string) error {
		return errors.New("telegram unavailable")
	}

	report, err := env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}
	if report.UrgentPublished != 0 || report.UrgentRequeued != 1 {
		t.Errorf("report = %+v", report)
	}
	snap := env.queue.Snapshot()
	if len(snap) != 1 || !snap[0].Urgent || snap[0].Attempts != 1 {
		t.Fatalf("失敗した緊急投稿は試行済みとしてキューに入るべき: %+v", snap)
	}

	if got := env.pipeline.PostOnce(context.Background()); got != PostDropped {
		t.Errorf("キュー経由の再試行も失敗したら破棄するべき: %q", got)
	}
	if env.queue.Len() != 0 {
		t.Error("破棄したエントリはキューに残るべきでない")
	}
	if len(env.sink.sent()) != 2 {
		t.Errorf("送信回数 = %d, want 2", len(env.sink.sent()))
	}
}

func TestPipeline_CollectOnce_SkipsPublishedItems(t *testing.T) {
	it := newItem("A", "Central bank raises interest rates", 10*time.Minute)
	env := newTestEnv(sourceSet("A"), itemsBySource(map[string][]model.Item{"A": {it}}), nil)
	env.ledger.MarkPublished(context.Background(), it.ID, it.Link, it.Source, it.PublishedAt)

	report, err := env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}
	if report.AlreadyPublished != 1 || env.queue.Len() != 0 {
		t.Errorf("配信済みのItemはキューに入るべきでない: report=%+v", report)
	}
}

func TestPipeline_CollectOnce_PublishedUrgentItemNotRepublished(t *testing.T) {
	urgent := newItem("A", "Explosion reported in the city centre", 5*time.Minute)
	var calls int
	classifier := &mockClassifier{classifyFunc: func(context.Context, gate.Request) (bool, error) {
		calls++
		return true, nil
	}}
	env := newTestEnv(sourceSet("A"), itemsBySource(map[string][]model.Item{"A": {urgent}}), classifier)
	env.ledger.MarkPublished(context.Background(), urgent.ID, urgent.Link, urgent.Source, urgent.PublishedAt)

	report, err := env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}
	if report.AlreadyPublished != 1 || report.UrgentPublished != 0 {
		t.Errorf("台帳照合は緊急投稿より先に行うべき: report=%+v", report)
	}
	if len(env.sink.sent()) != 0 || calls != 0 {
		t.Errorf("配信済みのItemは送信も判定もされるべきでない: sent=%v calls=%d", env.sink.sent(), calls)
	}
}

func TestPipeline_CollectOnce_StaleItemsDropped(t *testing.T) {
	stale := newItem("A", "Parliament votes today on budget", 10*time.Minute)
	var calls []gate.Kind
	classifier := &mockClassifier{classifyFunc: func(_ context.Context, req gate.Request) (bool, error) {
		calls = append(calls, req.Kind)
		return false, nil
	}}
	env := newTestEnv(sourceSet("A"), itemsBySource(map[string][]model.Item{"A": {stale}}), classifier)

	report, err := env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}
	if report.Stale != 1 || env.queue.Len() != 0 {
		t.Errorf("古いと判定されたItemはキューに入るべきでない: report=%+v", report)
	}
	if len(calls) != 1 || calls[0] != gate.KindFreshness {
		t.Errorf("鮮度は1回だけ判定され、古いItemの緊急度は判定しないべき: %v", calls)
	}
}

func TestPipeline_CollectOnce_ClassifierFailureFailsOpen(t *testing.T) {
	it := newItem("A", "Parliament votes today on budget", 10*time.Minute)
	classifier := &mockClassifier{classifyFunc: func(context.Context, gate.Request) (bool, error) {
		return false, errors.New("classifier down")
	}}
	env := newTestEnv(sourceSet("A"), itemsBySource(map[string][]model.Item{"A": {it}}), classifier)

	if _, err := env.pipeline.CollectOnce(context.Background()); err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}
	if env.queue.Len() != 1 {
		t.Errorf("分類器が失敗した場合は新しく緊急でないものとしてキューに入るべき: len = %d", env.queue.Len())
	}
	if len(env.sink.sent()) != 0 {
		t.Error("分類器が失敗した場合は緊急投稿するべきでない")
	}
}

func TestPipeline_CollectOnce_NoSources_ReturnsError(t *testing.T) {
	env := newTestEnv(nil, itemsBySource(nil), nil)
	env.pipeline.deps.Sources = &fakeSources{err: errors.New("file not found")}

	if _, err := env.pipeline.CollectOnce(context.Background()); err == nil {
		t.Error("配信元設定を読み込めない場合はエラーを返すべき")
	}
}

func ptr[T any](v T) *T { return &v }

func TestPipeline_CollectOnce_AppliesTuningOverrides(t *testing.T) {
	set := sourceSet("A")
	env := newTestEnv(set, itemsBySource(nil), nil)
	for _, title := range []string{"Oil exports grow", "Parliament approves budget", "Central bank raises rates"} {
		env.queue.Push(queue.Entry{Item: newItem("A", title, time.Hour)})
	}

	set.Tuning = config.TuningConfig{
		Dedup:      config.DedupTuning{Enabled: ptr(false), Threshold: ptr(0.9)},
		Posting:    config.PostingTuning{MinInterval: ptr(time.Minute), MaxInterval: ptr(2 * time.Minute)},
		Queue:      config.QueueTuning{Capacity: ptr(1)},
		Classifier: config.ClassifierTuning{MaxUrgencyCalls: ptr(3)},
	}
	report, err := env.pipeline.CollectOnce(context.Background())
	if err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}

	if env.queue.Cap() != 1 || env.queue.Len() != 1 {
		t.Errorf("キュー容量の上書きが反映されるべき: cap=%d len=%d", env.queue.Cap(), env.queue.Len())
	}
	if report.Evicted != 2 {
		t.Errorf("Evicted = %d, want 2", report.Evicted)
	}
	if cfg := env.pipeline.deps.Deduplicator.Config(); cfg.Enabled || cfg.Threshold != 0.9 {
		t.Errorf("重複判定の設定が反映されるべき: %+v", cfg)
	}
	if u, f := env.pipeline.deps.Gate.Limits(); u != 3 || f != gate.DefaultConfig().MaxFreshnessCalls {
		t.Errorf("Limits() = %d, %d", u, f)
	}
	for i := 0; i < 50; i++ {
		if d := env.pipeline.randomPostDelay(); d < time.Minute || d > 2*time.Minute {
			t.Fatalf("上書きした投稿間隔の範囲外: %v", d)
		}
	}
	if !bytes.Contains(env.logs.Bytes(), []byte("運用パラメータを更新しました")) {
		t.Error("運用パラメータの更新をログに出力するべき")
	}

	// 上書きを削除すると起動時の値に戻る
	set.Tuning = config.TuningConfig{}
	if _, err := env.pipeline.CollectOnce(context.Background()); err != nil {
		t.Fatalf("CollectOnce がエラーを返した: %v", err)
	}
	if env.queue.Cap() != 10 {
		t.Errorf("Cap = %d, want 10", env.queue.Cap())
	}
	if cfg := env.pipeline.deps.Deduplicator.Config(); cfg != dedup.DefaultConfig() {
		t.Errorf("重複判定の設定が起動時の値に戻るべき: %+v", cfg)
	}
	if u, _ := env.pipeline.deps.Gate.Limits(); u != gate.DefaultConfig().MaxUrgencyCalls {
		t.Errorf("MaxUrgencyCalls = %d, want %d", u, gate.DefaultConfig().MaxUrgencyCalls)
	}
}

func TestTunables_With_KeepsIntervalOrder(t *testing.T) {
	base := tunables{postMinInterval: 5 * time.Minute, postMaxInterval: 7 * time.Minute}

	got := base.with(config.TuningConfig{Posting: config.PostingTuning{MinInterval: ptr(10 * time.Minute)}})

	if got.postMinInterval != 10*time.Minute || got.postMaxInterval != 10*time.Minute {
		t.Errorf("下限だけ上書きして範囲が逆転した場合は上限を揃えるべき: %+v", got)
	}
	if base.postMinInterval != 5*time.Minute {
		t.Error("元の値を変更するべきでない")
	}
}

// --- PostOnce ---

func TestPipeline_PostOnce_Empty(t *testing.T) {
	env := newTestEnv(sourceSet(), itemsBySource(nil), nil)
	if got := env.pipeline.PostOnce(context.Background()); got != PostEmpty {
		t.Errorf("PostOnce = %q, want %q", got, PostEmpty)
	}
}

func TestPipeline_PostOnce_PublishesAndRecords(t *testing.T) {
	it := newItem("A", "Central bank raises interest rates", 10*time.Minute)
	env := newTestEnv(sourceSet("A"), itemsBySource(nil), nil)
	env.queue.Push(queue.Entry{Item: it})

	if got := env.pipeline.PostOnce(context.Background()); got != PostPublished {
		t.Fatalf("PostOnce = %q, want %q", got, PostPublished)
	}
	if !env.ledger.IsPublished(context.Background(), it.ID, it.Source) {
		t.Error("投稿後は台帳に記録されるべき")
	}
	if stats := env.pipeline.Stats(); stats.PublishedQueue != 1 || stats.QueueLength != 0 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestPipeline_PostOnce_SkipsPublished(t *testing.T) {
	it := newItem("A", "Central bank raises interest rates", 10*time.Minute)
	env := newTestEnv(sourceSet("A"), itemsBySource(nil), nil)
	env.ledger.MarkPublished(context.Background(), it.ID, it.Link, it.Source, it.PublishedAt)
	env.queue.Push(queue.Entry{Item: it})

	if got := env.pipeline.PostOnce(context.Background()); got != PostSkipped {
		t.Errorf("PostOnce = %q, want %q", got, PostSkipped)
	}
	if len(env.sink.sent()) != 0 {
		t.Error("配信済みのItemは送信されるべきでない")
	}
}

func TestPipeline_PostOnce_RequeuesOnceThenDrops(t *testing.T) {
	it := newItem("A", "Central bank raises interest rates", 10*time.Minute)
	env := newTestEnv(sourceSet("A"), itemsBySource(nil), nil)
	env.sink.publishFunc = func(context.Context, string, string) error {
		return errors.New("bad gateway")
	}
	env.queue.Push(queue.Entry{Item: it})

	if got := env.pipeline.PostOnce(context.Background()); got != PostRequeued {
		t.Fatalf("1回目 = %q, want %q", got, PostRequeued)
	}
	if snap := env.queue.Snapshot(); len(snap) != 1 || snap[0].Attempts != 1 {
		t.Fatalf("再投入されたエントリ = %+v", snap)
	}
	if got := env.pipeline.PostOnce(context.Background()); got != PostDropped {
		t.Errorf("2回目 = %q, want %q", got, PostDropped)
	}
	if env.ledger.IsPublished(context.Background(), it.ID, it.Source) {
		t.Error("失敗したItemは台帳に記録されるべきでない")
	}
	if stats := env.pipeline.Stats(); stats.PublishFailures != 2 || stats.Requeued != 1 || stats.Dropped != 1 {
		t.Errorf("Stats = %+v", stats)
	}
}

func TestPipeline_PostOnce_RecordsOnlyAfterSuccessfulRetry(t *testing.T) {
	it := newItem("A", "Central bank raises interest rates", 10*time.Minute)
	env := newTestEnv(sourceSet("A"), itemsBySource(nil), nil)
	failures := 1
	env.sink.publishFunc = func(context.Context, string, string) error {
		if failures > 0 {
			failures--
			return errors.New("bad gateway")
		}
		return nil
	}
	env.queue.Push(queue.Entry{Item: it})

	if got := env.pipeline.PostOnce(context.Background()); got != PostRequeued {
		t.Fatalf("1回目 = %q, want %q", got, PostRequeued)
	}
	if n := env.ledger.markCount(); n != 0 {
		t.Fatalf("送信に失敗した時点で台帳に記録するべきでない: MarkPublished = %d", n)
	}
	if env.ledger.IsPublished(context.Background(), it.ID, it.Source) {
		t.Fatal("送信に失敗したItemは配信済みになるべきでない")
	}

	if got := env.pipeline.PostOnce(context.Background()); got != PostPublished {
		t.Fatalf("2回目 = %q, want %q", got, PostPublished)
	}
	if n := env.ledger.markCount(); n != 1 {
		t.Errorf("MarkPublished = %d, want 1", n)
	}
	if len(env.sink.sent()) != 2 {
		t.Errorf("送信回数 = %d, want 2", len(env.sink.sent()))
	}
	if env.queue.Len() != 0 {
		t.Error("投稿済みのエントリはキューに残るべきでない")
	}
}

func TestPipeline_PostOnce_NotConfiguredSink(t *testing.T) {
	it := newItem("A", "Central bank raises interest rates", 10*time.Minute)
	env := newTestEnv(sourceSet("A"), itemsBySource(nil), nil)
	env.sink.publishFunc = func(context.Context, string, string) error {
		return publisher.ErrNotConfigured
	}
	env.queue.Push(queue.Entry{Item: it})

	if got := env.pipeline.PostOnce(context.Background()); got != PostRequeued {
		t.Errorf("PostOnce = %q, want %q", got, PostRequeued)
	}
	if !bytes.Contains(env.logs.Bytes(), []byte("投稿先が設定されていません")) {
		t.Error("投稿先が未設定であることをログに記録するべき")
	}
}

// --- スケジューラ ---

func TestPipeline_RandomPostDelay_WithinWindow(t *testing.T) {
	env := newTestEnv(sourceSet(), itemsBySource(nil), nil)
	env.pipeline.current.postMinInterval = 5 * time.Minute
	env.pipeline.current.postMaxInterval = 7 * time.Minute

	for i := 0; i < 200; i++ {
		d := env.pipeline.randomPostDelay()
		if d < 5*time.Minute || d > 7*time.Minute {
			t.Fatalf("待機時間が範囲外: %v", d)
		}
	}

	env.pipeline.current.postMaxInterval = 5 * time.Minute
	if d := env.pipeline.randomPostDelay(); d != 5*time.Minute {
		t.Errorf("最小と最大が同じ場合はその値を返すべき: %v", d)
	}
}

func TestPipeline_Start_CollectsPostsAndStops(t *testing.T) {
	it := newItem("A", "Central bank raises interest rates", 10*time.Minute)
	env := newTestEnv(sourceSet("A"), itemsBySource(map[string][]model.Item{"A": {it}}), nil)
	env.pipeline.base.collectInterval = time.Hour
	env.pipeline.current = env.pipeline.base
	env.pipeline.jitter = func() time.Duration { return 5 * time.Millisecond }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.pipeline.Start(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(env.sink.sent()) == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("投稿タスクがキューのItemを投稿しなかった")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後に Start が戻らなかった")
	}

	if !env.ledger.IsPublished(context.Background(), it.ID, it.Source) {
		t.Error("投稿したItemは台帳に記録されるべき")
	}
}

func TestPipeline_RunOnce(t *testing.T) {
	it := newItem("A", "Central bank raises interest rates", 10*time.Minute)
	env := newTestEnv(sourceSet("A"), itemsBySource(map[string][]model.Item{"A": {it}}), nil)

	report, outcome, err := env.pipeline.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce がエラーを返した: %v", err)
	}
	if report.Enqueued != 1 || outcome != PostPublished {
		t.Errorf("report=%+v outcome=%q", report, outcome)
	}
}
