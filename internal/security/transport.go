package security

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// SigningTransport signs outgoing webhook requests with the headers Gate
// verifies. It is used by operators to post test payloads to a relay.
type SigningTransport struct {
	Secret string
	Base   http.RoundTripper
	Now    func() time.Time
}

func (t *SigningTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.Secret == "" {
		return base.RoundTrip(req)
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body = b
	}

	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	ts := now().Unix()

	signed := req.Clone(req.Context())
	signed.Body = io.NopCloser(bytes.NewReader(body))
	signed.ContentLength = int64(len(body))
	signed.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	signed.Header.Set(HeaderSignature, "sha256="+Sign(t.Secret, ts, body))
	return base.RoundTrip(signed)
}
