package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/newsrelay/internal/config"
)

const testPage = `<html><head><meta charset="utf-8"><title>News</title></head><body>
<div class="news">
  <h2 class="title">Parliament passes budget</h2>
  <a class="more" href="/news/1">Read</a>
  <p class="lead">The vote was close.</p>
</div>
<div class="news">
  <h2 class="title">Oil prices rise</h2>
  <a class="more" data-href="https://example.org/news/2" href="/ignored">Read</a>
</div>
<div class="news">
  <h2 class="title"></h2>
  <a class="more" href="/news/3">No title</a>
</div>
<div class="news">
  <h2 class="title">No link here</h2>
</div>
</body></html>`

func newHTMLTestServer(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
}

func TestHTMLCollector_Collect(t *testing.T) {
	server := newHTMLTestServer(testPage)
	defer server.Close()

	var buf bytes.Buffer
	c := NewHTMLCollector(testOptions(server), newTestBuilder(), newTestLogger(&buf))
	res := c.Collect(context.Background(), config.Source{
		Name:    "Example",
		HTMLURL: server.URL + "/list",
		HTMLSelector: config.HTMLSelector{
			Item:    "div.news",
			Title:   "h2.title",
			Link:    "a.more::attr(href)",
			Summary: "p.lead",
		},
	})

	if res.Outcome != OutcomeOK {
		t.Fatalf("Outcome = %q, want ok (err=%v)", res.Outcome, res.Err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("タイトルかリンクがないノードは捨てるべき: len(Items) = %d, want 2", len(res.Items))
	}
	if res.Items[0].Title != "Parliament passes budget" {
		t.Errorf("Title = %q", res.Items[0].Title)
	}
	if res.Items[0].Link != server.URL+"/news/1" {
		t.Errorf("相対リンクはページURL基準で解決されるべき: %q", res.Items[0].Link)
	}
	if res.Items[0].Summary != "The vote was close." {
		t.Errorf("Summary = %q", res.Items[0].Summary)
	}
	if !res.Items[0].DateEstimated {
		t.Error("HTMLの記事は公開日時を推定扱いにするべき")
	}
}

func TestHTMLCollector_CustomAttribute(t *testing.T) {
	server := newHTMLTestServer(testPage)
	defer server.Close()

	var buf bytes.Buffer
	c := NewHTMLCollector(testOptions(server), newTestBuilder(), newTestLogger(&buf))
	res := c.Collect(context.Background(), config.Source{
		Name:         "Example",
		HTMLURL:      server.URL,
		HTMLSelector: config.HTMLSelector{Item: "div.news", Title: "h2.title", Link: "a.more::attr(data-href)"},
	})

	if len(res.Items) != 1 || res.Items[0].Link != "https://example.org/news/2" {
		t.Errorf("data-href 属性からリンクを取るべき: %+v", res.Items)
	}
}

func TestHTMLCollector_NoMatches_LogsWarning(t *testing.T) {
	server := newHTMLTestServer(testPage)
	defer server.Close()

	var buf bytes.Buffer
	c := NewHTMLCollector(testOptions(server), newTestBuilder(), newTestLogger(&buf))
	res := c.Collect(context.Background(), config.Source{
		Name:         "Example",
		HTMLURL:      server.URL,
		HTMLSelector: config.HTMLSelector{Item: "article"},
	})

	if res.Outcome != OutcomeOK || len(res.Items) != 0 {
		t.Errorf("一致なしは空の ok であるべき: %+v", res)
	}
	if !bytes.Contains(buf.Bytes(), []byte("セレクタに一致する記事がありません")) {
		t.Error("一致なしは警告ログを出すべき")
	}
}

func TestHTMLCollector_Windows1251(t *testing.T) {
	// "Новости" を windows-1251 で符号化したもの
	title := []byte{0xCD, 0xEE, 0xE2, 0xEE, 0xF1, 0xF2, 0xE8}
	page := append([]byte(`<html><body><div class="n"><a href="/x">`), title...)
	page = append(page, []byte(`</a></div></body></html>`)...)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=windows-1251")
		w.Write(page)
	}))
	defer server.Close()

	var buf bytes.Buffer
	c := NewHTMLCollector(testOptions(server), newTestBuilder(), newTestLogger(&buf))
	res := c.Collect(context.Background(), config.Source{
		Name:         "Example",
		HTMLURL:      server.URL,
		HTMLSelector: config.HTMLSelector{Item: "div.n", Title: "a"},
	})

	if len(res.Items) != 1 || res.Items[0].Title != "Новости" {
		t.Errorf("文字コードを変換して解析するべき: %+v", res.Items)
	}
}

func TestLinkOf_DefaultsToAnchorHref(t *testing.T) {
	server := newHTMLTestServer(testPage)
	defer server.Close()

	var buf bytes.Buffer
	c := NewHTMLCollector(testOptions(server), newTestBuilder(), newTestLogger(&buf))
	res := c.Collect(context.Background(), config.Source{
		Name:         "Example",
		HTMLURL:      server.URL,
		HTMLSelector: config.HTMLSelector{Item: "div.news", Title: "h2.title"},
	})

	if len(res.Items) != 2 || res.Items[1].Link != server.URL+"/ignored" {
		t.Errorf("リンクセレクタ省略時は a の href を使うべき: %+v", res.Items)
	}
}
