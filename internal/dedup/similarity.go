package dedup

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/pmezard/go-difflib/difflib"
)

var (
	tagPattern     = regexp.MustCompile(`<[^>]+>`)
	nonWordPattern = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// stopWords は重要語の抽出で無視するロシア語・英語の語。
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		и в на с по для от до из к у о об за при
		the and in on at to for of with by from up about
		a an is are was were be been have has had do does did
		will would could should may might can this that these those
		объявил объявила объявили заявил заявила заявили сообщил сообщила сообщили`) {
		stopWords[w] = struct{}{}
	}
}

// normalize は小文字化、タグ除去、記号の空白化、空白の圧縮を行う。
func normalize(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ToLower(text)
	text = tagPattern.ReplaceAllString(text, "")
	text = nonWordPattern.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(text), " ")
}

// keyPhrasesOf は正規化済みテキストから重要語とその2-gram・3-gramを抽出する。
// 重要語は3文字以上かつストップワードでない語。
func keyPhrasesOf(normalized string) []string {
	var words []string
	for _, w := range strings.Fields(normalized) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		words = append(words, w)
	}

	phrases := make([]string, 0, len(words)*3)
	phrases = append(phrases, words...)
	for i := 0; i+1 < len(words); i++ {
		phrases = append(phrases, words[i]+" "+words[i+1])
	}
	for i := 0; i+2 < len(words); i++ {
		phrases = append(phrases, words[i]+" "+words[i+1]+" "+words[i+2])
	}
	return phrases
}

// text は類似度計算のために前処理したテキスト。
type text struct {
	normalized string
	runes      []string
	phrases    map[string]struct{}
}

func prepare(raw string) text {
	n := normalize(raw)
	t := text{normalized: n}
	if n == "" {
		return t
	}
	t.runes = make([]string, 0, len(n))
	for _, r := range n {
		t.runes = append(t.runes, string(r))
	}
	phrases := keyPhrasesOf(n)
	t.phrases = make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		t.phrases[p] = struct{}{}
	}
	return t
}

// similarity は前処理済みの2テキストの類似度を 0〜1 で返す。
// 文字列の一致率と重要語集合のJaccard係数を 0.3:0.7 で合成する。
// 重要語が片方でも空の場合は一致率のみを使う。
func similarity(a, b text) float64 {
	if a.normalized == "" || b.normalized == "" {
		return 0
	}

	// 引数の順序で一致率が変わらないよう辞書順に並べる
	x, y := a, b
	if y.normalized < x.normalized {
		x, y = y, x
	}
	ratio := difflib.NewMatcher(x.runes, y.runes).Ratio()

	if len(a.phrases) == 0 || len(b.phrases) == 0 {
		return ratio
	}

	inter := 0
	for p := range a.phrases {
		if _, ok := b.phrases[p]; ok {
			inter++
		}
	}
	union := len(a.phrases) + len(b.phrases) - inter
	jaccard := 0.0
	if union > 0 {
		jaccard = float64(inter) / float64(union)
	}

	return min(ratio*0.3+jaccard*0.7, 1.0)
}

// Similarity は2つのテキストの類似度を 0〜1 で返す。引数の順序に依存しない。
func Similarity(a, b string) float64 {
	return similarity(prepare(a), prepare(b))
}
