// Package keyword は小文字化済みテキストに対するキーワード照合を提供する。
package keyword

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// shortRunes 以下の長さの語は単語単位で照合する。
const shortRunes = 3

// Contains はキーワードの出現を判定する。text と kw は小文字化済みであること。
// 3文字以下の語は "un" が "under" に一致するような誤検出を避けるため単語単位で照合し、
// それより長い語は語形変化を拾えるよう部分一致で照合する。
// 境界の判定はキーワードの端が文字か数字の場合だけ行うため、"%" のような記号は常に部分一致になる。
func Contains(text, kw string) bool {
	if kw == "" {
		return false
	}
	if utf8.RuneCountInString(kw) > shortRunes {
		return strings.Contains(text, kw)
	}
	first, _ := utf8.DecodeRuneInString(kw)
	last, _ := utf8.DecodeLastRuneInString(kw)
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], kw)
		if i < 0 {
			return false
		}
		start, end := off+i, off+i+len(kw)
		before, _ := utf8.DecodeLastRuneInString(text[:start])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if !(isWordRune(first) && start > 0 && isWordRune(before)) &&
			!(isWordRune(last) && end < len(text) && isWordRune(after)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		off = start + size
	}
	return false
}

// Count はテキストに含まれるキーワードの種類数を返す。
func Count(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if Contains(text, kw) {
			n++
		}
	}
	return n
}

// Any はいずれかのキーワードが含まれるかを返す。
func Any(text string, keywords []string) bool {
	for _, kw := range keywords {
		if Contains(text, kw) {
			return true
		}
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
