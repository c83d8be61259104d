package payload

import (
	"encoding/json"
	"strings"

	"github.com/slack-go/slack"
)

// dividerLine stands in for a Slack divider block.
const dividerLine = "\n———\n"

// Block is one renderable Slack layout block. The set of implementations is
// closed: header, section, divider and context. Other block types are dropped
// during decoding.
type Block interface {
	Type() slack.MessageBlockType
	render() string
}

type HeaderBlock struct{ Text string }

type SectionBlock struct{ Text string }

type DividerBlock struct{}

type ContextBlock struct{ Elements []string }

func (HeaderBlock) Type() slack.MessageBlockType  { return slack.MBTHeader }
func (SectionBlock) Type() slack.MessageBlockType { return slack.MBTSection }
func (DividerBlock) Type() slack.MessageBlockType { return slack.MBTDivider }
func (ContextBlock) Type() slack.MessageBlockType { return slack.MBTContext }

func (b HeaderBlock) render() string {
	if b.Text == "" {
		return ""
	}
	return "*" + b.Text + "*"
}

func (b SectionBlock) render() string { return b.Text }

func (DividerBlock) render() string { return dividerLine }

func (b ContextBlock) render() string {
	return joinNonEmpty(" ", b.Elements...)
}

// RenderBlocks renders blocks one per line, dropping blocks that render empty.
func RenderBlocks(blocks []Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if line := b.render(); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func decodeBlock(raw json.RawMessage) Block {
	f, ok := objectOf(raw)
	if !ok {
		return nil
	}
	switch slack.MessageBlockType(f.str("type")) {
	case slack.MBTHeader:
		return HeaderBlock{Text: innerText(f["text"])}
	case slack.MBTSection:
		return SectionBlock{Text: innerText(f["text"])}
	case slack.MBTDivider:
		return DividerBlock{}
	case slack.MBTContext:
		var elems []string
		for _, el := range f.list("elements") {
			if text := innerText(el); text != "" {
				elems = append(elems, text)
			}
		}
		return ContextBlock{Elements: elems}
	default:
		return nil
	}
}

// innerText extracts display text from a raw string, or from an object's
// "text" field, falling back to "alt_text".
func innerText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if f, ok := objectOf(raw); ok {
		return firstNonEmpty(f.str("text"), f.str("alt_text"))
	}
	return ""
}
