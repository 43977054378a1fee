package collector

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/newsrelay/internal/config"
)

const testGoogleNewsRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Google News</title>
<item>
  <title>Central bank raises key rate - Reuters</title>
  <link>https://news.google.com/articles/abc</link>
  <pubDate>Mon, 01 Jan 2024 10:00:00 GMT</pubDate>
  <description>Rate decision</description>
</item>
<item>
  <title>Talks continue - a very long trailing fragment that is certainly not the name of any publisher</title>
  <link>https://news.google.com/articles/def</link>
</item>
<item>
  <title>Third story - TASS</title>
  <link>https://news.google.com/articles/ghi</link>
</item>
</channel></rss>`

func newGoogleNewsTestServer(gotURL *string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*gotURL = r.URL.String()
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, testGoogleNewsRSS)
	}))
}

func TestGoogleNewsCollector_Topic(t *testing.T) {
	var gotURL string
	server := newGoogleNewsTestServer(&gotURL)
	defer server.Close()

	var buf bytes.Buffer
	c := NewGoogleNewsCollector(testOptions(server), newTestBuilder(), newTestLogger(&buf))
	c.baseURL = server.URL
	res := c.Collect(context.Background(), config.Source{
		Name:     "Google News: world",
		Type:     config.SourceTypeGNewsTopic,
		Topic:    "World",
		Language: "en",
		Country:  "US",
		MaxItems: 2,
	})

	if res.Outcome != OutcomeOK {
		t.Fatalf("Outcome = %q, want ok (err=%v)", res.Outcome, res.Err)
	}
	wantPrefix := "/topics/" + googleNewsTopics["world"] + "?hl=en&gl=US&ceid=US%3Aen"
	if gotURL != wantPrefix {
		t.Errorf("URL = %q, want %q", gotURL, wantPrefix)
	}
	if len(res.Items) != 2 {
		t.Fatalf("len(Items) = %d, want 2", len(res.Items))
	}

	first := res.Items[0]
	if first.Title != "Central bank raises key rate" {
		t.Errorf("発行元の接尾辞は除去されるべき: %q", first.Title)
	}
	if first.Source != "Google News (Reuters)" {
		t.Errorf("Source = %q", first.Source)
	}
	if first.Tag != "gnews_world" {
		t.Errorf("Tag = %q", first.Tag)
	}

	second := res.Items[1]
	if !strings.HasPrefix(second.Title, "Talks continue - a very long") {
		t.Errorf("長い接尾辞は残すべき: %q", second.Title)
	}
	if second.Source != "Google News" {
		t.Errorf("Source = %q", second.Source)
	}
}

func TestGoogleNewsCollector_Search(t *testing.T) {
	var gotURL string
	server := newGoogleNewsTestServer(&gotURL)
	defer server.Close()

	var buf bytes.Buffer
	c := NewGoogleNewsCollector(testOptions(server), newTestBuilder(), newTestLogger(&buf))
	c.baseURL = server.URL
	res := c.Collect(context.Background(), config.Source{
		Name:  "Google News: oil prices",
		Type:  config.SourceTypeGNewsSearch,
		Query: "oil prices",
	})

	if gotURL != "/search?q=oil+prices&hl=ru&gl=RU&ceid=RU%3Aru" {
		t.Errorf("URL = %q", gotURL)
	}
	if len(res.Items) != 3 {
		t.Fatalf("len(Items) = %d, want 3", len(res.Items))
	}
	if res.Items[0].Tag != "gnews_oil_prices" {
		t.Errorf("Tag = %q", res.Items[0].Tag)
	}
}

func TestSplitPublisher(t *testing.T) {
	tests := []struct {
		in, title, publisher string
	}{
		{"Headline - Reuters", "Headline", "Reuters"},
		{"A - B - Interfax", "A - B", "Interfax"},
		{"No publisher", "No publisher", ""},
		{"Trailing - ", "Trailing - ", ""},
	}
	for _, tt := range tests {
		title, publisher := splitPublisher(tt.in)
		if title != tt.title || publisher != tt.publisher {
			t.Errorf("splitPublisher(%q) = (%q, %q), want (%q, %q)", tt.in, title, publisher, tt.title, tt.publisher)
		}
	}
}
