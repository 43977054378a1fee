// Package llm は外部のLLMを使った分類器と要約器を提供する。
// OpenAI互換のチャットAPI（Groq）とGeminiのどちらかをバックエンドにできる。
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/newsrelay/internal/model"
)

const (
	// DefaultChatEndpoint はGroqのチャット補完APIのエンドポイント。
	DefaultChatEndpoint = "https://api.groq.com/openai/v1/chat/completions"
	// DefaultChatModel はGroqで使うデフォルトのモデル。
	DefaultChatModel = "llama-3.1-8b-instant"
	// maxErrorBodyBytes はエラー応答から読み取る最大バイト数。
	maxErrorBodyBytes = 4096
)

// systemPrompt はすべての呼び出しで使う編集者としての指示。
const systemPrompt = "Ты профессиональный редактор новостей. Переводи на русский язык и создавай краткие, информативные сводки. Сохраняй все важные детали: имена, места, даты, цифры."

// Completer はプロンプトから応答テキストを得るインターフェース。
// テスト時にモックに差し替え可能。
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ChatConfig はチャットAPIクライアントの設定。
type ChatConfig struct {
	APIKey      string
	Model       string
	Endpoint    string
	Temperature float64
	MaxTokens   int
}

// ChatCompleter はOpenAI互換のチャット補完APIのクライアント。
type ChatCompleter struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     ChatConfig
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

var _ Completer = (*ChatCompleter)(nil)

// NewChatCompleter はChatCompleterの新しいインスタンスを生成する。
func NewChatCompleter(httpClient *http.Client, config ChatConfig, logger *slog.Logger) *ChatCompleter {
	if config.Model == "" {
		config.Model = DefaultChatModel
	}
	if config.Temperature == 0 {
		config.Temperature = 0.2
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = DefaultChatEndpoint
	}
	return &ChatCompleter{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		endpoint:   endpoint,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete はプロンプトを送信して応答テキストを返す。
// ステータス429またはレート制限を示すエラー本文の場合は model.ErrRateLimited を返す。
func (c *ChatCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("リクエストJSONの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("チャットAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if resp.StatusCode == http.StatusTooManyRequests ||
			strings.Contains(strings.ToLower(string(body)), "rate_limit") {
			return "", fmt.Errorf("チャットAPIがステータス %d を返しました: %w", resp.StatusCode, model.ErrRateLimited)
		}
		c.logger.Error("チャットAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return "", fmt.Errorf("チャットAPIがステータス %d を返しました", resp.StatusCode)
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("チャットAPIの応答に選択肢がありません")
	}
	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}
