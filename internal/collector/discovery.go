package collector

import (
	"bytes"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// FeedType はフィードの種類（RSS/Atom）を表す。
type FeedType string

const (
	FeedTypeRSS  FeedType = "rss"
	FeedTypeAtom FeedType = "atom"
)

// FeedCandidate はHTMLから検出されたフィード候補を表す。
type FeedCandidate struct {
	URL      string
	FeedType FeedType
	Title    string
}

var feedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
}

// xmlContentTypes はボディを見ないとフィードか判定できないContent-Type。
var xmlContentTypes = []string{
	"text/xml",
	"application/xml",
}

// IsDirectFeed はContent-Typeとボディから、レスポンスがRSS/Atomフィードかを判定する。
// Content-Typeが空の場合はボディだけで判定する。
func IsDirectFeed(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	for _, ct := range feedContentTypes {
		if mediaType == ct {
			return true
		}
	}

	isXML := mediaType == ""
	for _, ct := range xmlContentTypes {
		if mediaType == ct {
			isXML = true
			break
		}
	}
	if !isXML || len(body) == 0 {
		return false
	}
	return isRSSOrAtomXML(body)
}

// isRSSOrAtomXML は先頭4KBにRSS/Atomのルート要素があるかを調べる。
func isRSSOrAtomXML(body []byte) bool {
	prefix := strings.ToLower(string(body[:min(len(body), 4096)]))

	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

// ParseFeedLinksFromHTML はheadの <link rel="alternate"> からRSS/Atomフィードを検出する。
// 相対URLはbaseURLを基準に絶対URLに解決する。
func ParseFeedLinksFromHTML(htmlBody []byte, baseURL string) []FeedCandidate {
	var candidates []FeedCandidate

	baseU, err := url.Parse(baseURL)
	if err != nil {
		return candidates
	}

	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return candidates

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			switch string(tn) {
			case "head":
				inHead = true
				continue
			case "body":
				return candidates
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			var rel, linkType, href, title string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					linkType = strings.ToLower(string(val))
				case "href":
					href = string(val)
				case "title":
					title = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "alternate" || href == "" {
				continue
			}

			var feedType FeedType
			switch linkType {
			case "application/rss+xml":
				feedType = FeedTypeRSS
			case "application/atom+xml":
				feedType = FeedTypeAtom
			default:
				continue
			}

			resolved := resolveURL(baseU, href)
			if resolved == "" {
				continue
			}
			candidates = append(candidates, FeedCandidate{URL: resolved, FeedType: feedType, Title: title})

		case html.EndTagToken:
			if tn, _ := tokenizer.TagName(); string(tn) == "head" {
				return candidates
			}
		}
	}
}

// SelectBestFeed は候補から同一ホスト、Atom、先頭の順で優先して1件選ぶ。
func SelectBestFeed(candidates []FeedCandidate, pageURL string) *FeedCandidate {
	if len(candidates) == 0 {
		return nil
	}

	pageHost := hostOf(pageURL)
	bestIdx, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == pageHost {
			score += 100
		}
		if c.FeedType == FeedTypeAtom {
			score += 10
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	return &candidates[bestIdx]
}

func resolveURL(base *url.URL, rawRef string) string {
	ref, err := url.Parse(strings.TrimSpace(rawRef))
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
