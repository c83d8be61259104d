package security

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"slack2tg/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

var fixedNow = time.Unix(1_700_000_000, 0)

func mustGate(secret string, allow ...string) *Gate {
	return NewGate(GateConfig{
		SharedSecret: secret,
		AllowIPs:     allow,
		Now:          func() time.Time { return fixedNow },
		Logger:       testLogger(),
	})
}

func signedHeader(secret string, ts int64, body []byte, prefixed bool) http.Header {
	sig := Sign(secret, ts, body)
	if prefixed {
		sig = "sha256=" + sig
	}
	h := http.Header{}
	h.Set(HeaderSignature, sig)
	h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	return h
}

func TestAuthenticate_OpenMode(t *testing.T) {
	g := mustGate("")
	if err := g.Authenticate("r1", http.Header{}, url.Values{}, "1.2.3.4", nil); err != nil {
		t.Fatalf("open mode should allow: %v", err)
	}
	if !g.Open() {
		t.Fatal("expected open gate")
	}
}

func TestAuthenticate_IPAllowlist(t *testing.T) {
	g := mustGate("", "10.0.0.1")
	if err := g.Authenticate("r1", http.Header{}, url.Values{}, "10.0.0.1", nil); err != nil {
		t.Fatalf("allowlisted ip rejected: %v", err)
	}
	err := g.Authenticate("r1", http.Header{}, url.Values{}, "10.0.0.2", nil)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAuthenticate_IPCheckedBeforeSecret(t *testing.T) {
	g := mustGate("s3cret", "10.0.0.1")
	q := url.Values{QueryToken: {"s3cret"}}
	err := g.Authenticate("r1", http.Header{}, q, "10.9.9.9", nil)
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden even with valid token, got %v", err)
	}
}

func TestAuthenticate_Token(t *testing.T) {
	g := mustGate("s3cret")
	if err := g.Authenticate("r1", http.Header{}, url.Values{QueryToken: {"s3cret"}}, "", nil); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}
	err := g.Authenticate("r1", http.Header{}, url.Values{QueryToken: {"wrong"}}, "", nil)
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestAuthenticate_Signature(t *testing.T) {
	body := []byte(`{"text":"hi"}`)
	g := mustGate("s3cret")
	now := fixedNow.Unix()

	tests := []struct {
		name   string
		header http.Header
		ok     bool
	}{
		{"prefixed", signedHeader("s3cret", now, body, true), true},
		{"bare hex", signedHeader("s3cret", now, body, false), true},
		{"within window past", signedHeader("s3cret", now-300, body, true), true},
		{"within window future", signedHeader("s3cret", now+300, body, true), true},
		{"stale", signedHeader("s3cret", now-301, body, true), false},
		{"future", signedHeader("s3cret", now+301, body, true), false},
		{"wrong secret", signedHeader("other", now, body, true), false},
		{"missing", http.Header{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Authenticate("r1", tt.header, url.Values{}, "", body)
			if tt.ok && err != nil {
				t.Fatalf("expected allow, got %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestAuthenticate_SignatureOverDifferentBody(t *testing.T) {
	g := mustGate("s3cret")
	h := signedHeader("s3cret", fixedNow.Unix(), []byte(`{"text":"a"}`), true)
	if err := g.Authenticate("r1", h, url.Values{}, "", []byte(`{"text":"b"}`)); err == nil {
		t.Fatal("signature over another body must not verify")
	}
}

func TestAuthenticate_NonNumericTimestamp(t *testing.T) {
	g := mustGate("s3cret")
	h := http.Header{}
	h.Set(HeaderSignature, Sign("s3cret", fixedNow.Unix(), nil))
	h.Set(HeaderTimestamp, "yesterday")
	if err := g.Authenticate("r1", h, url.Values{}, "", nil); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestParseSignature(t *testing.T) {
	tests := map[string]string{
		"sha256=abc": "abc",
		"SHA256=abc": "abc",
		"abc":        "abc",
		"":           "",
	}
	for in, want := range tests {
		if got := parseSignature(in); got != want {
			t.Errorf("parseSignature(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCheck_UsesRemoteAddr(t *testing.T) {
	g := mustGate("", "192.0.2.1")
	req := httptest.NewRequest(http.MethodPost, "/hook/r1", nil)
	req.RemoteAddr = "192.0.2.1:54321"
	req.Header.Set("X-Forwarded-For", "10.0.0.1")
	if err := g.Check(req, "r1", nil); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}

	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "192.0.2.1")
	if err := g.Check(req, "r1", nil); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("forwarding headers must not be trusted, got %v", err)
	}
}

func TestSigningTransport_ProducesVerifiableRequest(t *testing.T) {
	g := mustGate("s3cret")
	var gateErr error
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gateErr = g.Authenticate("r1", r.Header, r.URL.Query(), "", body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &SigningTransport{
		Secret: "s3cret",
		Now:    func() time.Time { return fixedNow },
	}}
	resp, err := client.Post(srv.URL+"/hook/r1", "application/json", strings.NewReader(`{"text":"hi"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if gateErr != nil {
		t.Fatalf("signed request rejected: %v", gateErr)
	}
}

