package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/newsrelay/internal/collector"
	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/dedup"
	"github.com/hitoshi/newsrelay/internal/gate"
	"github.com/hitoshi/newsrelay/internal/handler"
	"github.com/hitoshi/newsrelay/internal/importance"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/ledger"
	"github.com/hitoshi/newsrelay/internal/llm"
	"github.com/hitoshi/newsrelay/internal/metrics"
	"github.com/hitoshi/newsrelay/internal/middleware"
	"github.com/hitoshi/newsrelay/internal/publisher"
	"github.com/hitoshi/newsrelay/internal/queue"
	"github.com/hitoshi/newsrelay/internal/repository"
	"github.com/hitoshi/newsrelay/internal/security"
	"github.com/hitoshi/newsrelay/internal/selector"
	"github.com/hitoshi/newsrelay/internal/worker/cleanup"
	"github.com/hitoshi/newsrelay/internal/worker/pipeline"
)

// classifierCache は判定キャッシュのバックエンド。
// ゲートからの読み書きとクリーンアップジョブからの期限切れ削除の両方に使う。
type classifierCache interface {
	gate.Cache
	cleanup.ExpiredDeleter
}

// components は起動モードが共有する組み立て済みの依存関係。
type components struct {
	pipeline    *pipeline.Pipeline
	cleanupJob  *cleanup.CleanupJob
	router      http.Handler
	rateLimiter *middleware.RateLimiter
	closers     []func() error
}

// Close は外部クライアントなどの後始末を行う。
func (c *components) Close() {
	if c.rateLimiter != nil {
		c.rateLimiter.Stop()
	}
	for _, closeFn := range c.closers {
		if err := closeFn(); err != nil {
			slog.Warn("クライアントのクローズに失敗しました", slog.String("error", err.Error()))
		}
	}
}

// buildComponents は設定から全依存関係をワイヤリングする。
// 配信元設定ファイルを読み込めない場合はエラーを返す。
func buildComponents(ctx context.Context, cfg *config.Config, db *sql.DB, logger *slog.Logger) (*components, error) {
	c := &components{}

	// 1. 配信元設定
	sourceFile := config.NewSourceFile(cfg.SourcesFile)
	set, err := sourceFile.Current()
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	logger.Info("配信元設定を読み込みました",
		slog.String("path", sourceFile.Path()),
		slog.Int("source_count", len(set.Tasks())),
	)

	// 2. セキュリティとコレクター
	guard := security.NewSourceGuard()
	builder := item.NewBuilder(security.NewTextNormalizer())
	registry := collector.NewDefaultRegistry(collector.Options{
		Client:      guard.NewClient(cfg.CollectTimeout),
		Validator:   guard,
		MaxBodySize: cfg.CollectMaxSize,
		NewsAPIKey:  cfg.NewsAPIKey,
	}, builder, logger)

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewCollector(reg)

	// 4. 分類器と判定ゲート
	completer, closeFn, err := newCompleter(ctx, cfg, logger)
	if err != nil {
		logger.Warn("LLMクライアントの初期化に失敗したため分類器と要約器を無効にします",
			slog.String("provider", cfg.LLMProvider),
			slog.String("error", err.Error()),
		)
		completer, closeFn = nil, nil
	}
	if closeFn != nil {
		c.closers = append(c.closers, closeFn)
	}

	var llmClassifier *llm.Classifier
	var classifier gate.Classifier
	if completer != nil {
		llmClassifier = llm.NewClassifier(completer, logger)
		classifier = llmClassifier
	}

	cache := newClassifierCache(cfg, db)
	g := gate.New(gate.Config{
		MaxUrgencyCalls:        cfg.GateMaxUrgencyCalls,
		MaxFreshnessCalls:      cfg.GateMaxFreshnessCalls,
		CallDelay:              cfg.GateCallDelay,
		RateLimitBackoff:       cfg.GateRateLimitBackoff,
		CallTimeout:            cfg.GateCallTimeout,
		CacheTTL:               cfg.GateCacheTTL,
		FreshnessMaxAgeMinutes: cfg.FreshnessMaxAgeMinutes,
	}, classifier, cache, logger)

	// 5. 投稿テキストの組み立てと送信
	var summarizer publisher.Summarizer
	if cfg.SummaryEnabled && llmClassifier != nil {
		summarizer = llmClassifier
	}
	composer := publisher.NewComposer(
		importance.NewScorer(importance.DefaultKeywords().WithOverrides(set.Importance)),
		summarizer,
		publisher.NewRenderer(cfg.TelegramLinkLabel),
		publisher.ComposerConfig{
			BaseLength:     cfg.SummaryBaseLength,
			SummaryEnabled: summarizer != nil,
		},
		logger,
	)

	if !cfg.PublishingEnabled() {
		logger.Warn("TELEGRAM_BOT_TOKEN または TELEGRAM_CHANNEL_ID が未設定のため投稿は失敗として扱われます")
	}
	sink := publisher.NewTelegramSink(
		&http.Client{Timeout: cfg.PublishTimeout},
		cfg.TelegramBotToken,
		cfg.PublishMinInterval,
		logger,
	)

	// 6. 台帳
	ledgerCfg := ledger.DefaultConfig()
	ledgerCfg.MaxRetries = cfg.LedgerMaxRetries
	ledgerCfg.RetryDelay = cfg.LedgerRetryDelay
	l := ledger.New(repository.NewPostgresLedgerRepo(db), ledgerCfg, logger)

	// 7. パイプライン
	deduplicator := dedup.New(dedup.Config{
		Enabled:       cfg.DedupEnabled,
		Threshold:     cfg.DedupThreshold,
		TitleWeight:   cfg.DedupTitleWeight,
		ContentWeight: cfg.DedupContentWeight,
	}, logger)
	q := queue.New(cfg.QueueCapacity)

	c.pipeline = pipeline.New(pipeline.Deps{
		Sources:      sourceFile,
		Collector:    registry,
		Health:       collector.NewSourceHealth(cfg.CollectInterval),
		Deduplicator: deduplicator,
		Gate:         g,
		Selector:     selector.New(logger),
		Queue:        q,
		Ledger:       l,
		Composer:     composer,
		Sink:         sink,
		Metrics:      m,
	}, pipeline.Config{
		CollectInterval: cfg.CollectInterval,
		CollectTimeout:  cfg.CollectTimeout,
		MaxConcurrent:   cfg.CollectMaxConcurrent,
		PostMinInterval: cfg.PostMinInterval,
		PostMaxInterval: cfg.PostMaxInterval,
		UrgentPostDelay: cfg.UrgentPostDelay,
		PublishTimeout:  cfg.PublishTimeout,
		Destination:     cfg.TelegramChannelID,
	}, logger)

	// 8. クリーンアップジョブ
	c.cleanupJob = cleanup.NewCleanupJob(l, cache, logger)
	c.cleanupJob.RetentionDays = cfg.LedgerRetentionDays

	// 9. ステータスAPI
	c.rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), logger)
	c.router = handler.NewRouter(&handler.RouterDeps{
		Logger:        logger,
		RateLimiter:   c.rateLimiter,
		HealthChecker: db,
		Gatherer:      reg,
		Queue:         q,
		Ledger:        l,
		Pipeline:      c.pipeline,
		Deduplicator:  deduplicator,
	})

	return c, nil
}

// newCompleter はLLM_PROVIDERに応じたLLMクライアントを生成する。
// APIキーが未設定の場合は nil を返し、ゲートは語彙による判定のみで動作する。
func newCompleter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (llm.Completer, func() error, error) {
	if !cfg.ClassifierEnabled() {
		logger.Warn("LLM_API_KEY が未設定のため分類器と要約器を無効にします")
		return nil, nil, nil
	}

	switch cfg.LLMProvider {
	case "gemini":
		return newGeminiCompleter(ctx, cfg.LLMAPIKey, cfg.LLMModel, logger)
	default:
		return llm.NewChatCompleter(
			&http.Client{Timeout: cfg.GateCallTimeout},
			llm.ChatConfig{
				APIKey:   cfg.LLMAPIKey,
				Model:    cfg.LLMModel,
				Endpoint: cfg.LLMEndpoint,
			},
			logger,
		), nil, nil
	}
}

// newGeminiCompleter はGeminiクライアントを生成する。テストで差し替える。
var newGeminiCompleter = func(ctx context.Context, apiKey, model string, logger *slog.Logger) (llm.Completer, func() error, error) {
	g, err := llm.NewGeminiCompleter(ctx, apiKey, model, logger)
	if err != nil {
		return nil, nil, err
	}
	return g, g.Close, nil
}

// newClassifierCache はGATE_CACHE_BACKENDに応じた判定キャッシュを返す。
func newClassifierCache(cfg *config.Config, db *sql.DB) classifierCache {
	if cfg.GateCacheBackend == "memory" {
		return gate.NewMemoryCache()
	}
	return repository.NewPostgresClassifierCacheRepo(db)
}
