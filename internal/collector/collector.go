// Package collector は配信元からニュースを取得し、Itemに変換する。
// 配信元の種別ごとのコレクターと、種別から実装を引くレジストリを提供する。
package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/newsrelay/internal/config"
	"github.com/hitoshi/newsrelay/internal/item"
	"github.com/hitoshi/newsrelay/internal/model"
)

// Outcome は1配信元の収集結果の種別。
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Result は1配信元の収集結果。失敗時も Items は空スライスとして扱える。
type Result struct {
	Source   string
	Items    []model.Item
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Collector は1つの配信元からItemを収集する。
// 失敗は Result の Outcome と Err で返し、パニックやエラー戻り値では通知しない。
type Collector interface {
	Collect(ctx context.Context, src config.Source) Result
}

// URLValidator は収集先URLの静的検証のインターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Options はコレクター共通のHTTP設定。
type Options struct {
	// Client は収集用のHTTPクライアント。本番では security.SourceGuard が生成したものを使う。
	Client *http.Client
	// Validator はリクエスト前のURL検証。nil の場合は検証しない。
	Validator   URLValidator
	MaxBodySize int64
	UserAgent   string
	// NewsAPIKey はNewsAPIのAPIキー。空の場合 newsapi の配信元はスキップする。
	NewsAPIKey string
}

const defaultUserAgent = "Mozilla/5.0 (compatible; newsrelay/1.0; +https://t.me)"

// StatusError は取得時のHTTPステータスが成功以外だったことを表す。
type StatusError struct {
	StatusCode int
	Class      FetchResult
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d (%s)", e.StatusCode, e.Class)
}

// httpFetcher はコレクター共通のHTTP取得処理。
type httpFetcher struct {
	client      *http.Client
	validator   URLValidator
	maxBodySize int64
	userAgent   string
}

func newHTTPFetcher(opts Options) *httpFetcher {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	maxBody := opts.MaxBodySize
	if maxBody <= 0 {
		maxBody = 5 * 1024 * 1024
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	return &httpFetcher{
		client:      client,
		validator:   opts.Validator,
		maxBodySize: maxBody,
		userAgent:   ua,
	}
}

// response は取得したボディとヘッダ。
type response struct {
	body   []byte
	header http.Header
	url    string
}

// get はURLを検証してGETし、最大サイズまでボディを読み込む。
// 200以外のステータスは StatusError として返す。
func (f *httpFetcher) get(ctx context.Context, rawURL, accept string) (*response, error) {
	header := http.Header{}
	if accept != "" {
		header.Set("Accept", accept)
	}
	return f.getWithHeader(ctx, rawURL, header)
}

// getWithHeader は追加のリクエストヘッダ付きで get と同じ処理を行う。
func (f *httpFetcher) getWithHeader(ctx context.Context, rawURL string, header http.Header) (*response, error) {
	if f.validator != nil {
		if err := f.validator.ValidateURL(rawURL); err != nil {
			return nil, fmt.Errorf("URL検証に失敗: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if class := ClassifyHTTPStatus(resp.StatusCode); class != FetchResultOK {
		// 接続を再利用できるよう読み捨てる
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Class: class}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	return &response{body: body, header: resp.Header, url: resp.Request.URL.String()}, nil
}

// base はコレクター共通の依存。
type base struct {
	fetch   *httpFetcher
	builder *item.Builder
	logger  *slog.Logger
}

// build はRawItemをItemに変換する。タイトルもリンクもないものは捨てる。
func (b *base) build(raws []model.RawItem, meta item.SourceMeta) []model.Item {
	items := make([]model.Item, 0, len(raws))
	for _, raw := range raws {
		if it, ok := b.builder.Build(raw, meta); ok {
			items = append(items, it)
		}
	}
	return items
}

func (b *base) ok(src config.Source, items []model.Item, start time.Time) Result {
	return Result{Source: src.Name, Items: items, Outcome: OutcomeOK, Duration: time.Since(start)}
}

func (b *base) fail(src config.Source, err error, start time.Time) Result {
	return Result{Source: src.Name, Items: []model.Item{}, Outcome: OutcomeFailed, Err: err, Duration: time.Since(start)}
}

// IsStatus は err が指定分類の StatusError かを返す。
func IsStatus(err error, class FetchResult) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Class == class
}
