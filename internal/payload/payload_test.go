package payload

import (
	"errors"
	"strings"
	"testing"

	"slack2tg/internal/domain"
)

func mustParse(t *testing.T, body string) domain.ParsedMessage {
	t.Helper()
	msg, err := Parse([]byte(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return msg
}

func TestParse_TextOnly(t *testing.T) {
	msg := mustParse(t, `{"text":"  hello world  "}`)
	if msg.Text != "hello world" {
		t.Fatalf("expected trimmed text, got %q", msg.Text)
	}
	if len(msg.Images) != 0 || len(msg.Documents) != 0 {
		t.Fatal("expected no media")
	}
}

func TestParse_AllBlockTypesInOrder(t *testing.T) {
	msg := mustParse(t, `{
		"blocks": [
			{"type":"header","text":{"type":"plain_text","text":"Deploy"}},
			{"type":"section","text":{"type":"mrkdwn","text":"Service *api* rolled out"}},
			{"type":"divider"},
			{"type":"context","elements":[{"type":"mrkdwn","text":"by"},{"type":"image","alt_text":"bot"},"ci"]}
		]
	}`)

	want := "*Deploy*\nService *api* rolled out\n\n———\n\nby bot ci"
	if msg.Text != want {
		t.Fatalf("got %q\nwant %q", msg.Text, want)
	}
}

func TestParse_UnknownAndMalformedBlocksSkipped(t *testing.T) {
	msg := mustParse(t, `{
		"blocks": [
			{"type":"actions","elements":[{"type":"button","text":"Click"}]},
			"not a block",
			42,
			{"type":"section","text":{"type":"mrkdwn"}},
			{"type":"section","text":"plain string section"},
			{"type":"header","text":{"text":{"nested":true}}}
		]
	}`)
	if msg.Text != "plain string section" {
		t.Fatalf("got %q", msg.Text)
	}
}

func TestParse_TextAndBlocksJoinedByBlankLine(t *testing.T) {
	msg := mustParse(t, `{"text":"top","blocks":[{"type":"section","text":"below"}]}`)
	if msg.Text != "top\n\nbelow" {
		t.Fatalf("got %q", msg.Text)
	}
}

func TestParse_Attachments(t *testing.T) {
	msg := mustParse(t, `{
		"attachments": [
			{"image_url":"https://x/a.png","title":"A"},
			{"thumb_url":"https://x/b.png","fallback":"B"},
			{"file_url":"https://x/c.pdf","title":"C"}
		]
	}`)
	if len(msg.Images) != 2 || len(msg.Documents) != 1 {
		t.Fatalf("expected 2 images and 1 document, got %d and %d", len(msg.Images), len(msg.Documents))
	}
	if msg.Images[0] != (domain.MediaItem{URL: "https://x/a.png", Caption: "A"}) {
		t.Fatalf("unexpected first image: %+v", msg.Images[0])
	}
	if msg.Images[1].Caption != "B" {
		t.Fatalf("expected fallback caption, got %q", msg.Images[1].Caption)
	}
	if msg.Documents[0].URL != "https://x/c.pdf" {
		t.Fatalf("unexpected document: %+v", msg.Documents[0])
	}
}

func TestParse_AttachmentImageTakesPriority(t *testing.T) {
	msg := mustParse(t, `{"attachments":[{"image_url":"https://x/i.png","file_url":"https://x/f.pdf"}]}`)
	if len(msg.Images) != 1 || len(msg.Documents) != 0 {
		t.Fatalf("attachment must count once, as image: %+v", msg)
	}
}

func TestParse_AttachmentTitleLinkAsDocument(t *testing.T) {
	msg := mustParse(t, `{"attachments":[{"title_link":"https://x/page","title":"Page"},{"title":"no url"}, "junk"]}`)
	if len(msg.Documents) != 1 || msg.Documents[0].URL != "https://x/page" {
		t.Fatalf("unexpected documents: %+v", msg.Documents)
	}
	if len(msg.Images) != 0 {
		t.Fatal("expected no images")
	}
}

func TestParse_Preamble(t *testing.T) {
	tests := []struct {
		name, body, want string
	}{
		{"username only", `{"username":"ci","text":"hi"}`, "From: ci\n\nhi"},
		{"emoji", `{"username":"ci","icon_emoji":":robot:","text":"hi"}`, ":robot: From: ci\n\nhi"},
		{"icon url", `{"username":"ci","icon_url":"https://x/i.png","text":"hi"}`, "From: ci (https://x/i.png)\n\nhi"},
		{"emoji wins over url", `{"username":"ci","icon_emoji":":x:","icon_url":"u"}`, ":x: From: ci"},
		{"no username", `{"icon_emoji":":x:","text":"hi"}`, "hi"},
		{"preamble alone", `{"username":"  ci  "}`, "From: ci"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mustParse(t, tt.body).Text; got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParse_WrongTypesDegrade(t *testing.T) {
	msg := mustParse(t, `{"text":5,"blocks":{"type":"section"},"attachments":"none","username":["x"]}`)
	if !msg.Empty() {
		t.Fatalf("expected empty message, got %+v", msg)
	}
}

func TestDecode_Channel(t *testing.T) {
	p, err := Decode([]byte(`{"channel":" #alerts ","text":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if p.Channel != "#alerts" {
		t.Fatalf("expected trimmed channel, got %q", p.Channel)
	}
}

func TestDecode_NotAnObject(t *testing.T) {
	for _, body := range []string{"", "not json", "[1,2]", "null", `"text"`} {
		_, err := Decode([]byte(body))
		if !errors.Is(err, domain.ErrMalformedRequest) {
			t.Errorf("Decode(%q): expected ErrMalformedRequest, got %v", body, err)
		}
	}
}

func TestRenderBlocks_DropsEmpty(t *testing.T) {
	got := RenderBlocks([]Block{HeaderBlock{}, ContextBlock{}, SectionBlock{Text: "x"}})
	if got != "x" {
		t.Fatalf("got %q", got)
	}
	if !strings.Contains(RenderBlocks([]Block{DividerBlock{}}), "———") {
		t.Fatal("divider should render a rule")
	}
}
