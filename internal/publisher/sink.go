// Package publisher は投稿メッセージの組み立てとTelegramチャンネルへの送信を行う。
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"
)

const (
	// defaultTelegramBaseURL はTelegram Bot APIのベースURL。
	defaultTelegramBaseURL = "https://api.telegram.org"
	// maxResponseBytes はAPI応答から読み取る最大バイト数。
	maxResponseBytes = 64 * 1024
)

// ErrNotConfigured は投稿先のトークンまたはチャンネルが設定されていないことを示す。
var ErrNotConfigured = errors.New("publish destination is not configured")

// Sink は投稿先のインターフェース。失敗した場合はエラーを返す。
type Sink interface {
	Publish(ctx context.Context, destination, text string) error
}

// TelegramSink はTelegram Bot APIの sendMessage で投稿する。
// 連続投稿でレート制限を受けないよう、送信間隔を rate.Limiter で空ける。
type TelegramSink struct {
	httpClient *http.Client
	token      string
	limiter    *rate.Limiter
	logger     *slog.Logger
	baseURL    string // テスト用にベースURLを差し替え可能
}

var _ Sink = (*TelegramSink)(nil)

// NewTelegramSink はTelegramSinkの新しいインスタンスを生成する。
func NewTelegramSink(httpClient *http.Client, token string, minInterval time.Duration, logger *slog.Logger) *TelegramSink {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &TelegramSink{
		httpClient: httpClient,
		token:      token,
		limiter:    rate.NewLimiter(limit, 1),
		logger:     logger,
		baseURL:    defaultTelegramBaseURL,
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Publish はHTML形式のテキストをチャンネルへ送信する。
func (s *TelegramSink) Publish(ctx context.Context, destination, text string) error {
	if s.token == "" || destination == "" {
		return ErrNotConfigured
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("送信待機が中断されました: %w", err)
	}

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                destination,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		// URLにトークンが含まれるため、エラー文字列はそのまま記録しない
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("Telegram APIの呼び出しに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	var result apiResponse
	_ = json.Unmarshal(body, &result)

	if resp.StatusCode != http.StatusOK || !result.OK {
		s.logger.Error("Telegram APIがエラーを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("description", result.Description),
			slog.Int("retry_after", result.Parameters.RetryAfter),
		)
		return fmt.Errorf("Telegram APIがステータス %d を返しました: %s", resp.StatusCode, result.Description)
	}

	s.logger.Debug("Telegramへ送信しました",
		slog.String("destination", destination),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}
