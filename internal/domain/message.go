package domain

// MediaItem is a remote file reference with an optional caption.
type MediaItem struct {
	URL     string
	Caption string // empty = no caption
}

// ParsedMessage is the canonical form of one inbound webhook payload.
// It is built once per request and treated as read-only afterwards.
type ParsedMessage struct {
	Text      string      // body text, rendered blocks and optional preamble
	Images    []MediaItem // in payload order
	Documents []MediaItem // in payload order
}

// Empty reports whether the message carries nothing to deliver.
func (m ParsedMessage) Empty() bool {
	return m.Text == "" && len(m.Images) == 0 && len(m.Documents) == 0
}
