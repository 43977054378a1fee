package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hitoshi/newsrelay/internal/gate"
	"github.com/hitoshi/newsrelay/internal/keyword"
	"github.com/hitoshi/newsrelay/internal/model"
)

const urgencyPrompt = `Проанализируй эту новость и определи, является ли она СРОЧНОЙ и требует немедленной публикации.

Критерии срочности:
- Критические события (взрывы, атаки, катастрофы)
- Военные действия и конфликты
- Политические кризисы и перевороты
- Природные катастрофы
- Технологические кризисы
- Экономические кризисы
- Международные инциденты

Заголовок: %s
Описание: %s

Ответь только "ДА" если новость срочная, или "НЕТ" если обычная:`

const freshnessPrompt = `Проанализируй эту новость и определи, является ли она СВЕЖЕЙ (опубликована не более %d минут назад).

Критерии свежести:
- Новость должна быть актуальной и недавней
- Если есть указания на время (часы, минуты, "сегодня", "сейчас", "только что") - учитывай их
- Если новость старая (вчера, на прошлой неделе, месяц назад) - она НЕ свежая
- Если нет четких временных указаний, но новость выглядит актуальной - считай свежей

Заголовок: %s
Описание: %s

ВАЖНО: Ответь ТОЛЬКО одним словом: "ДА" или "НЕТ". Никаких дополнительных объяснений.`

var (
	yesWords = []string{"да", "yes"}
	noWords  = []string{"нет", "no"}
)

// Classifier はLLMに問い合わせて鮮度・緊急度を判定し、要約も生成する。
type Classifier struct {
	completer Completer
	logger    *slog.Logger
}

var _ gate.Classifier = (*Classifier)(nil)

// NewClassifier はClassifierの新しいインスタンスを生成する。
func NewClassifier(completer Completer, logger *slog.Logger) *Classifier {
	return &Classifier{completer: completer, logger: logger}
}

// Classify は判定種別に応じたプロンプトを送り、ДА/НЕТ の応答を真偽値に変換する。
// 応答から判定を読み取れない場合は model.ErrUnparseable を返す。
func (c *Classifier) Classify(ctx context.Context, req gate.Request) (bool, error) {
	var prompt string
	switch req.Kind {
	case gate.KindUrgency:
		prompt = fmt.Sprintf(urgencyPrompt, req.Title, req.Content)
	case gate.KindFreshness:
		prompt = fmt.Sprintf(freshnessPrompt, req.MaxAgeMinutes, req.Title, req.Content)
	default:
		return false, fmt.Errorf("未知の判定種別です: %s", req.Kind)
	}

	answer, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		return false, err
	}

	value, err := parseAnswer(answer, req.Kind)
	if err != nil {
		c.logger.Info("分類器の応答を解釈できませんでした",
			slog.String("kind", string(req.Kind)),
			slog.String("answer", truncate(answer, 100)),
		)
		return false, err
	}
	return value, nil
}

// parseAnswer は応答を真偽値に変換する。
// 緊急度は肯定を、鮮度は否定を優先して読み取る。
func parseAnswer(answer string, kind gate.Kind) (bool, error) {
	text := strings.ToLower(answer)
	yes := keyword.Any(text, yesWords)
	no := keyword.Any(text, noWords)

	if kind == gate.KindFreshness {
		switch {
		case no:
			return false, nil
		case yes:
			return true, nil
		}
	} else {
		switch {
		case yes:
			return true, nil
		case no:
			return false, nil
		}
	}
	return false, fmt.Errorf("応答 %q: %w", truncate(answer, 50), model.ErrUnparseable)
}
