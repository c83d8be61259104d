// Package payload decodes Slack incoming-webhook payloads into the canonical
// domain.ParsedMessage. Decoding is lenient: a missing or mistyped optional
// field degrades to its empty value instead of failing the request.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"slack2tg/internal/domain"
)

// Payload is a decoded webhook body.
type Payload struct {
	Text        string
	Channel     string
	Username    string
	IconEmoji   string
	IconURL     string
	Blocks      []Block
	Attachments []Attachment
}

// Attachment is a legacy Slack attachment reduced to the fields the relay uses.
type Attachment struct {
	ImageURL  string
	ThumbURL  string
	FileURL   string
	TitleLink string
	Title     string
	Fallback  string
}

type fields map[string]json.RawMessage

// Decode parses raw as a webhook body. It fails only when raw is not a JSON object.
func Decode(raw []byte) (*Payload, error) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return nil, fmt.Errorf("%w: body must be a JSON object", domain.ErrMalformedRequest)
	}

	p := &Payload{
		Text:      strings.TrimSpace(f.str("text")),
		Channel:   strings.TrimSpace(f.str("channel")),
		Username:  strings.TrimSpace(f.str("username")),
		IconEmoji: strings.TrimSpace(f.str("icon_emoji")),
		IconURL:   strings.TrimSpace(f.str("icon_url")),
	}
	for _, item := range f.list("blocks") {
		if b := decodeBlock(item); b != nil {
			p.Blocks = append(p.Blocks, b)
		}
	}
	for _, item := range f.list("attachments") {
		if a, ok := objectOf(item); ok {
			p.Attachments = append(p.Attachments, Attachment{
				ImageURL:  a.str("image_url"),
				ThumbURL:  a.str("thumb_url"),
				FileURL:   a.str("file_url"),
				TitleLink: a.str("title_link"),
				Title:     a.str("title"),
				Fallback:  a.str("fallback"),
			})
		}
	}
	return p, nil
}

// Parse decodes raw and builds the canonical message from it.
func Parse(raw []byte) (domain.ParsedMessage, error) {
	p, err := Decode(raw)
	if err != nil {
		return domain.ParsedMessage{}, err
	}
	return p.Message(), nil
}

// Message renders the payload: preamble, body text and blocks, with
// attachments split into images and documents.
func (p *Payload) Message() domain.ParsedMessage {
	text := joinNonEmpty("\n\n", p.Text, RenderBlocks(p.Blocks))
	if preamble := p.preamble(); preamble != "" {
		text = joinNonEmpty("\n\n", preamble, text)
	}

	msg := domain.ParsedMessage{Text: text}
	for _, a := range p.Attachments {
		caption := firstNonEmpty(a.Title, a.Fallback)
		// An attachment is either an image or a document, never both.
		if url := firstNonEmpty(a.ImageURL, a.ThumbURL); url != "" {
			msg.Images = append(msg.Images, domain.MediaItem{URL: url, Caption: caption})
			continue
		}
		if url := firstNonEmpty(a.FileURL, a.TitleLink); url != "" {
			msg.Documents = append(msg.Documents, domain.MediaItem{URL: url, Caption: caption})
		}
	}
	return msg
}

func (p *Payload) preamble() string {
	if p.Username == "" {
		return ""
	}
	preamble := "From: " + p.Username
	switch {
	case p.IconEmoji != "":
		preamble = p.IconEmoji + " " + preamble
	case p.IconURL != "":
		preamble = preamble + " (" + p.IconURL + ")"
	}
	return preamble
}

// str returns the string value of key, or "" when absent or not a string.
func (f fields) str(key string) string {
	raw, ok := f[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// list returns the elements of the array at key, or nil when absent or not an array.
func (f fields) list(key string) []json.RawMessage {
	raw, ok := f[key]
	if !ok {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	return items
}

func objectOf(raw json.RawMessage) (fields, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	return f, true
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
