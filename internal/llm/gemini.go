package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hitoshi/newsrelay/internal/model"
)

// DefaultGeminiModel はGeminiで使うデフォルトのモデル。
const DefaultGeminiModel = "gemini-1.5-flash"

// GeminiCompleter はGemini APIのクライアント。
type GeminiCompleter struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger *slog.Logger
}

var _ Completer = (*GeminiCompleter)(nil)

// NewGeminiCompleter はGeminiCompleterの新しいインスタンスを生成する。
func NewGeminiCompleter(ctx context.Context, apiKey, modelName string, logger *slog.Logger) (*GeminiCompleter, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("Geminiクライアントの作成に失敗しました: %w", err)
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	m := client.GenerativeModel(modelName)
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	m.SetTemperature(0.2)
	m.SetMaxOutputTokens(1024)

	return &GeminiCompleter{client: client, model: m, logger: logger}, nil
}

// Complete はプロンプトを送信して応答テキストを返す。
func (g *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if isGeminiRateLimit(err) {
			return "", fmt.Errorf("Gemini APIがレート制限を返しました: %w", model.ErrRateLimited)
		}
		g.logger.Error("Gemini APIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("コンテンツの生成に失敗しました: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("Geminiから応答がありません")
	}
	return text, nil
}

// Close はクライアントを閉じる。
func (g *GeminiCompleter) Close() error {
	return g.client.Close()
}

// responseText は最初の候補のテキストパートを連結して返す。
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return strings.TrimSpace(sb.String())
}

func isGeminiRateLimit(err error) bool {
	if status.Code(err) == codes.ResourceExhausted {
		return true
	}
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests
}
