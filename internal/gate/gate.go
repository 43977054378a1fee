// Package gate は外部分類器による鮮度・緊急度判定を、キャッシュ・呼び出し上限・
// 語彙による即時判定・フェイルオープンの方針で包む。
package gate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/hitoshi/newsrelay/internal/keyword"
	"github.com/hitoshi/newsrelay/internal/model"
)

// Kind は判定の種類を表す。
type Kind string

const (
	// KindFreshness は鮮度判定。
	KindFreshness Kind = "freshness"
	// KindUrgency は緊急度判定。
	KindUrgency Kind = "urgency"
)

// Request は分類器への問い合わせ内容。
type Request struct {
	Title         string
	Content       string
	Kind          Kind
	MaxAgeMinutes int // 鮮度判定でのみ使用する
}

// Classifier は外部の分類器のインターフェース。
// テスト時にモックに差し替え可能。
type Classifier interface {
	Classify(ctx context.Context, req Request) (bool, error)
}

// Cache は判定結果のキャッシュのインターフェース。
type Cache interface {
	Get(ctx context.Context, key string) (value, found bool, err error)
	Set(ctx context.Context, key, kind string, value bool, ttl time.Duration) error
}

// Outcome は判定がどの経路で決まったかを表す。
type Outcome string

const (
	OutcomeCached     Outcome = "cached"
	OutcomeFastPath   Outcome = "fast_path"
	OutcomeClassified Outcome = "classified"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// Verdict は判定結果。
type Verdict struct {
	Value   bool
	Outcome Outcome
	Reason  string
}

// Config はゲートの設定パラメータ。
type Config struct {
	// MaxUrgencyCalls は1サイクルあたりのキャッシュされていない緊急度判定の最大呼び出し回数（デフォルト: 10）。
	MaxUrgencyCalls int
	// MaxFreshnessCalls は1サイクルあたりのキャッシュされていない鮮度判定の最大呼び出し回数（デフォルト: 15）。
	MaxFreshnessCalls int
	// CallDelay は分類器呼び出しの最低間隔（デフォルト: 800ms）。
	CallDelay time.Duration
	// RateLimitBackoff はレート制限応答を受けたときの待機時間（デフォルト: 5秒）。
	RateLimitBackoff time.Duration
	// CallTimeout は1回の呼び出しのタイムアウト（デフォルト: 20秒）。
	CallTimeout time.Duration
	// CacheTTL は判定結果のキャッシュ期間（デフォルト: 24時間）。
	CacheTTL time.Duration
	// FreshnessMaxAgeMinutes は鮮度判定で分類器に渡す許容経過時間（デフォルト: 120分）。
	FreshnessMaxAgeMinutes int
}

// DefaultConfig はデフォルトのゲート設定を返す。
func DefaultConfig() Config {
	return Config{
		MaxUrgencyCalls:        10,
		MaxFreshnessCalls:      15,
		CallDelay:              800 * time.Millisecond,
		RateLimitBackoff:       5 * time.Second,
		CallTimeout:            20 * time.Second,
		CacheTTL:               24 * time.Hour,
		FreshnessMaxAgeMinutes: 120,
	}
}

// Gate は判定方針を保持する。呼び出し回数の上限は Cycle ごとに数える。
type Gate struct {
	classifier Classifier
	cache      Cache
	limiter    *rate.Limiter
	logger     *slog.Logger
	config     Config

	// limitsMu は config の呼び出し回数の上限を保護する。
	limitsMu sync.RWMutex
}

// New はGateの新しいインスタンスを生成する。
// classifier が nil の場合は語彙による即時判定とキャッシュのみで判定する。
func New(config Config, classifier Classifier, cache Cache, logger *slog.Logger) *Gate {
	if cache == nil {
		cache = NewMemoryCache()
	}
	limit := rate.Inf
	if config.CallDelay > 0 {
		limit = rate.Every(config.CallDelay)
	}
	return &Gate{
		classifier: classifier,
		cache:      cache,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		config:     config,
	}
}

// Cycle は1回の収集サイクル分の呼び出し回数を数える。
type Cycle struct {
	gate *Gate

	mu    sync.Mutex
	calls map[Kind]int
}

// NewCycle は新しいサイクルを開始する。
func (g *Gate) NewCycle() *Cycle {
	return &Cycle{gate: g, calls: make(map[Kind]int)}
}

// IsFresh は鮮度を判定する。判定できない場合は新しいものとして扱う。
func (c *Cycle) IsFresh(ctx context.Context, title, content string) Verdict {
	return c.check(ctx, Request{
		Title:         title,
		Content:       content,
		Kind:          KindFreshness,
		MaxAgeMinutes: c.gate.config.FreshnessMaxAgeMinutes,
	})
}

// IsUrgent は緊急度を判定する。判定できない場合は緊急でないものとして扱う。
func (c *Cycle) IsUrgent(ctx context.Context, title, content string) Verdict {
	return c.check(ctx, Request{Title: title, Content: content, Kind: KindUrgency})
}

// Calls はこのサイクルで分類器を呼び出した回数を返す。
func (c *Cycle) Calls(kind Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[kind]
}

func (c *Cycle) check(ctx context.Context, req Request) Verdict {
	g := c.gate
	fallback := defaultValue(req.Kind)
	key := CacheKey(req.Title, req.Content, req.Kind)

	if value, found, err := g.cache.Get(ctx, key); err != nil {
		g.logger.Warn("判定キャッシュの読み取りに失敗しました",
			slog.String("kind", string(req.Kind)),
			slog.String("error", err.Error()),
		)
	} else if found {
		return Verdict{Value: value, Outcome: OutcomeCached, Reason: "キャッシュに一致"}
	}

	if value, reason, ok := fastPath(req); ok {
		g.store(ctx, key, req.Kind, value)
		return Verdict{Value: value, Outcome: OutcomeFastPath, Reason: reason}
	}

	if g.classifier == nil {
		return Verdict{Value: fallback, Outcome: OutcomeSkipped, Reason: "分類器が設定されていない"}
	}

	if !c.reserve(req.Kind) {
		g.logger.Info("1サイクルあたりの最大分類器呼び出し回数に達したため判定せずに通過させます",
			slog.String("kind", string(req.Kind)),
			slog.String("title", truncate(req.Title, 80)),
			slog.Int("max_calls", g.maxCalls(req.Kind)),
		)
		return Verdict{Value: fallback, Outcome: OutcomeSkipped, Reason: "呼び出し上限に到達"}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return Verdict{Value: fallback, Outcome: OutcomeFailed, Reason: err.Error()}
	}

	callCtx := ctx
	if g.config.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.config.CallTimeout)
		defer cancel()
	}

	value, err := g.classifier.Classify(callCtx, req)
	if err != nil {
		if errors.Is(err, model.ErrRateLimited) {
			g.logger.Warn("分類器がレート制限を返したため待機してから判定を諦めます",
				slog.String("kind", string(req.Kind)),
				slog.Duration("backoff", g.config.RateLimitBackoff),
			)
			select {
			case <-ctx.Done():
			case <-time.After(g.config.RateLimitBackoff):
			}
		} else {
			g.logger.Warn("分類器の呼び出しに失敗したためデフォルト値で判定します",
				slog.String("kind", string(req.Kind)),
				slog.String("title", truncate(req.Title, 80)),
				slog.Bool("default", fallback),
				slog.String("error", err.Error()),
			)
		}
		return Verdict{Value: fallback, Outcome: OutcomeFailed, Reason: err.Error()}
	}

	g.store(ctx, key, req.Kind, value)
	return Verdict{Value: value, Outcome: OutcomeClassified, Reason: "分類器による判定"}
}

// reserve は呼び出し枠を1つ確保する。上限に達している場合は false を返す。
func (c *Cycle) reserve(kind Kind) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls[kind] >= c.gate.maxCalls(kind) {
		return false
	}
	c.calls[kind]++
	return true
}

func (g *Gate) maxCalls(kind Kind) int {
	g.limitsMu.RLock()
	defer g.limitsMu.RUnlock()
	if kind == KindUrgency {
		return g.config.MaxUrgencyCalls
	}
	return g.config.MaxFreshnessCalls
}

// Limits は1サイクルあたりの緊急度判定と鮮度判定の呼び出し回数の上限を返す。
func (g *Gate) Limits() (urgency, freshness int) {
	g.limitsMu.RLock()
	defer g.limitsMu.RUnlock()
	return g.config.MaxUrgencyCalls, g.config.MaxFreshnessCalls
}

// SetLimits は呼び出し回数の上限を変更する。
func (g *Gate) SetLimits(urgency, freshness int) {
	g.limitsMu.Lock()
	defer g.limitsMu.Unlock()
	g.config.MaxUrgencyCalls = urgency
	g.config.MaxFreshnessCalls = freshness
}

func (g *Gate) store(ctx context.Context, key string, kind Kind, value bool) {
	if err := g.cache.Set(ctx, key, string(kind), value, g.config.CacheTTL); err != nil {
		g.logger.Warn("判定キャッシュの書き込みに失敗しました",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}

// CacheKey は小文字化したタイトル・本文・判定種別から SHA-256 の先頭16桁を返す。
// 鮮度判定の許容経過時間はキーに含めない。
func CacheKey(title, content string, kind Kind) string {
	normalized := strings.ToLower(strings.TrimSpace(title)) + " " +
		strings.ToLower(strings.TrimSpace(content)) + " " + string(kind)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

func defaultValue(kind Kind) bool {
	return kind == KindFreshness
}

// fastPath は分類器を呼ばずに決められる場合に結果を返す。
func fastPath(req Request) (value bool, reason string, ok bool) {
	text := strings.ToLower(req.Title + " " + req.Content)
	switch req.Kind {
	case KindUrgency:
		for _, kw := range urgencyKeywords {
			if keyword.Contains(text, kw) {
				return true, "緊急キーワード: " + kw, true
			}
		}
	case KindFreshness:
		if !keyword.Any(text, timeKeywords) {
			return true, "時間の言及がない", true
		}
	}
	return false, "", false
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
