package llm

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/newsrelay/internal/model"
)

// minSummaryRunes 未満の要約は品質が低いとみなして再生成する。
const minSummaryRunes = 10

const summaryPrompt = `Ты профессиональный журналист в стиле Varlamov News. Твоя задача - перевести новость на русский язык и создать ПОЛНУЮ СТАТЬЮ.

ПРАВИЛА:
1. ВСЕГДА переводи на русский язык - никакого английского текста
2. %s
3. %s
4. Пиши простым, понятным языком как в Varlamov News
5. НЕ используй заголовки - сразу начинай с сути новости
6. НЕ используй форматирование ** или другие символы
7. НЕ начинай с упоминания страны (Великобритания:, США:, и т.д.)
8. Создай ПОЛНУЮ СТАТЬЮ - люди должны прочитать всю новость в Telegram
9. Структурируй информацию логично: что произошло, почему, какие последствия
10. Включи ВСЕ важные детали из оригинальной новости
11. Добавь контекст и объяснения для лучшего понимания
12. ОБЯЗАТЕЛЬНО используй абзацы - разделяй текст на 2-3 абзаца
13. Между абзацами делай пустую строку для лучшей читаемости
14. Первый абзац - краткое изложение, остальные - детали

ВАЖНОСТЬ НОВОСТИ: %s (факторы: %s)

Заголовок: %s
Описание: %s
Ссылка: %s

Создай ПОЛНУЮ СТАТЬЮ в стиле Varlamov News на русском языке с правильными абзацами:`

const retrySummaryPrompt = `СРОЧНО! Создай качественную СТАТЬЮ в стиле Varlamov News на русском языке.

ТРЕБОВАНИЯ:
- Минимум 200 символов
- Только русский язык
- Полные предложения
- Вся важная информация
- БЕЗ заголовков - сразу с сути
- НЕ начинай с упоминания страны
- ОБЯЗАТЕЛЬНО раздели на 2-3 абзаца
- Между абзацами делай пустую строку
- Первый абзац - краткое изложение
- Остальные абзацы - детали и контекст

Заголовок: %s
Описание: %s

Статья на русском с абзацами:`

// SummaryRequest は要約の生成に必要な情報。
type SummaryRequest struct {
	Title      string
	Content    string
	Link       string
	MaxLength  int // 文字数の上限（ルーン数）
	Importance model.ImportanceScore
	// IncludeDetails が true の場合は詳細を含めるよう指示する。
	IncludeDetails bool
}

// Summarize は重要度に応じた長さの要約を生成する。
// 短すぎる応答の場合は指示を強めて1回だけ再生成し、書式を除去して文単位で切り詰める。
func (c *Classifier) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	lengthInstruction, detailInstruction := instructionsFor(req)
	factors := strings.Join(req.Importance.Factors, ", ")
	prompt := fmt.Sprintf(summaryPrompt,
		lengthInstruction, detailInstruction,
		strings.ToUpper(string(req.Importance.Category)), factors,
		req.Title, req.Content, req.Link,
	)

	summary, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("要約の生成に失敗しました: %w", err)
	}

	if utf8.RuneCountInString(strings.TrimSpace(summary)) < minSummaryRunes {
		c.logger.Warn("要約が短すぎるため再生成します",
			slog.String("title", truncate(req.Title, 80)),
			slog.Int("length", utf8.RuneCountInString(summary)),
		)
		summary, err = c.completer.Complete(ctx, fmt.Sprintf(retrySummaryPrompt, req.Title, req.Content))
		if err != nil {
			return "", fmt.Errorf("要約の再生成に失敗しました: %w", err)
		}
		if utf8.RuneCountInString(strings.TrimSpace(summary)) < minSummaryRunes {
			return "", fmt.Errorf("十分な長さの要約を生成できませんでした")
		}
	}

	summary = CleanFormatting(summary)
	if req.MaxLength > 0 {
		summary = TruncateBySentences(summary, req.MaxLength)
	}
	c.logger.Info("要約を生成しました",
		slog.String("category", string(req.Importance.Category)),
		slog.Int("length", utf8.RuneCountInString(summary)),
		slog.Int("max_length", req.MaxLength),
	)
	return summary, nil
}

func instructionsFor(req SummaryRequest) (length, detail string) {
	switch {
	case req.Importance.Category == model.CategoryCritical:
		return fmt.Sprintf("Создай ПОЛНУЮ СТАТЬЮ до %d символов с ВСЕМИ деталями", req.MaxLength),
			"Включи ВСЕ важные детали: имена, места, даты, цифры, организации, контекст событий, причины, последствия, историю вопроса, мнения экспертов"
	case req.IncludeDetails:
		return fmt.Sprintf("Создай РАЗВЕРНУТУЮ СТАТЬЮ до %d символов", req.MaxLength),
			"Включи ключевые детали: имена, места, даты, цифры, основные факты, контекст, последствия"
	default:
		return fmt.Sprintf("Создай ИНФОРМАТИВНУЮ СТАТЬЮ до %d символов", req.MaxLength),
			"Включи основную информацию, важные детали и контекст"
	}
}

var (
	boldPattern          = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern        = regexp.MustCompile(`\*(.*?)\*`)
	underscorePattern    = regexp.MustCompile(`_(.*?)_`)
	codePattern          = regexp.MustCompile("`(.*?)`")
	countryPrefixPattern = regexp.MustCompile(`(?i)^(Великобритания|США|Шотландия|Новость из \p{L}+):\s*`)
	blankLinesPattern    = regexp.MustCompile(`\n\s*\n\s*\n+`)
	spacesPattern        = regexp.MustCompile(`[ \t]+`)
	sentencePattern      = regexp.MustCompile(`[^.!?]+[.!?]*`)
)

// CleanFormatting はMarkdownの装飾と先頭の国名表記を除去し、段落の空行を整える。
func CleanFormatting(text string) string {
	if text == "" {
		return text
	}
	text = boldPattern.ReplaceAllString(text, "$1")
	text = italicPattern.ReplaceAllString(text, "$1")
	text = underscorePattern.ReplaceAllString(text, "$1")
	text = codePattern.ReplaceAllString(text, "$1")
	text = countryPrefixPattern.ReplaceAllString(strings.TrimSpace(text), "")
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	text = spacesPattern.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "\n ", "\n")
	return strings.TrimSpace(text)
}

// TruncateBySentences は maxRunes を超えないよう文の単位で切り詰める。段落の区切りは保つ。
// 最初の文だけで上限を超える場合は文字単位で切り詰めて省略記号を付ける。
func TruncateBySentences(text string, maxRunes int) string {
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	var sb strings.Builder
	length := 0
	for _, raw := range sentencePattern.FindAllString(text, -1) {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") {
			s += "."
		}
		sep := ""
		if sb.Len() > 0 {
			sep = " "
			lead := raw[:len(raw)-len(strings.TrimLeftFunc(raw, unicode.IsSpace))]
			if strings.Contains(lead, "\n") {
				sep = "\n\n"
			}
		}
		n := utf8.RuneCountInString(sep + s)
		if length+n > maxRunes {
			break
		}
		sb.WriteString(sep)
		sb.WriteString(s)
		length += n
	}

	if result := strings.TrimSpace(sb.String()); result != "" {
		return result
	}
	if maxRunes <= 1 {
		return string([]rune(text)[:max(maxRunes, 0)])
	}
	return strings.TrimSpace(string([]rune(text)[:maxRunes-1])) + "…"
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
