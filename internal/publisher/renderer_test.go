package publisher

import (
	"testing"

	"github.com/hitoshi/newsrelay/internal/model"
)

func TestRenderer_Render(t *testing.T) {
	r := NewRenderer("")
	it := model.Item{Tag: "world news", Link: "https://example.com/a?x=1&y=2"}

	got := r.Render(it, "Цены <выросли> на 5% & больше", false)
	want := "#world_news\n" +
		"Цены &lt;выросли&gt; на 5% &amp; больше\n" +
		`<a href="https://example.com/a?x=1&amp;y=2">Читать полностью</a>`
	if got != want {
		t.Errorf("Render =\n%s\nwant\n%s", got, want)
	}
}

func TestRenderer_Render_Urgent(t *testing.T) {
	r := NewRenderer("Read more")
	it := model.Item{Tag: "#breaking", Link: "https://example.com/b"}

	got := r.Render(it, "Body", true)
	want := "⚡#breaking\nBody\n<a href=\"https://example.com/b\">Read more</a>"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestRenderer_Render_OmitsEmptyParts(t *testing.T) {
	r := NewRenderer("")
	if got := r.Render(model.Item{}, "Only body", false); got != "Only body" {
		t.Errorf("Render = %q", got)
	}
}

func TestHashtag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"world", "#world"},
		{"#world", "#world"},
		{"  world   news ", "#world_news"},
		{"", ""},
		{"   ", ""},
		{"#", ""},
	}
	for _, tt := range tests {
		if got := Hashtag(tt.in); got != tt.want {
			t.Errorf("Hashtag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
