// Package render prepares text for Telegram: markup escaping, splitting into
// message-sized chunks, and caption truncation.
package render

import (
	"strings"
	"unicode"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram Bot API limits, in characters.
const (
	MessageLimit    = 4096
	CaptionLimit    = 1024
	MediaGroupLimit = 10
)

// markdownV2Replacer escapes every MarkdownV2 reserved character, backslash included.
var markdownV2Replacer = strings.NewReplacer(
	`\`, `\\`,
	"_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// EscapeMarkdownV2 prefixes each reserved character with a backslash.
func EscapeMarkdownV2(text string) string {
	return markdownV2Replacer.Replace(text)
}

// NeedsEscaping reports whether text sent with parseMode must be escaped.
func NeedsEscaping(parseMode string) bool {
	return parseMode == tgbotapi.ModeMarkdownV2 || parseMode == tgbotapi.ModeHTML
}

// Escape escapes text for the given Telegram parse mode. Legacy Markdown and
// plain text pass through unchanged.
func Escape(parseMode, text string) string {
	switch parseMode {
	case tgbotapi.ModeMarkdownV2:
		return EscapeMarkdownV2(text)
	case tgbotapi.ModeHTML:
		return tgbotapi.EscapeText(tgbotapi.ModeHTML, text)
	default:
		return text
	}
}

// Caption escapes text and cuts it to CaptionLimit characters. The cut is a
// plain length cut and may split an escape sequence.
func Caption(parseMode, text string) string {
	if text == "" {
		return ""
	}
	escaped := []rune(Escape(parseMode, text))
	if len(escaped) > CaptionLimit {
		escaped = escaped[:CaptionLimit]
	}
	return string(escaped)
}

// Chunk splits text into segments of at most limit characters. Each cut is
// placed at the last newline before the limit, else the last space, else
// exactly at the limit; whitespace at the start of the remainder is dropped.
func Chunk(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		return []string{text}
	}
	remaining := []rune(text)
	if len(remaining) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(remaining) > 0 {
		if len(remaining) <= limit {
			chunks = append(chunks, string(remaining))
			break
		}

		cut := lastIndex(remaining[:limit], '\n')
		if cut <= 0 {
			cut = lastIndex(remaining[:limit], ' ')
		}
		if cut <= 0 {
			cut = limit
		}

		chunks = append(chunks, string(remaining[:cut]))
		remaining = trimLeftSpace(remaining[cut:])
	}
	return chunks
}

func lastIndex(rs []rune, r rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == r {
			return i
		}
	}
	return -1
}

func trimLeftSpace(rs []rune) []rune {
	for len(rs) > 0 && unicode.IsSpace(rs[0]) {
		rs = rs[1:]
	}
	return rs
}
