package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"slack2tg/internal/domain"
	"slack2tg/internal/routing"
	"slack2tg/internal/security"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type delivery struct {
	dest string
	msg  domain.ParsedMessage
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []delivery
	err   error
}

func (f *fakeDeliverer) Deliver(_ context.Context, dest string, msg domain.ParsedMessage) (domain.DeliveryReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, delivery{dest: dest, msg: msg})
	if f.err != nil {
		return domain.DeliveryReport{}, f.err
	}
	return domain.DeliveryReport{Photos: len(msg.Images), Documents: len(msg.Documents), Chunks: 1}, nil
}

type fakeAudit struct {
	mu   sync.Mutex
	recs []domain.DeliveryRecord
}

func (f *fakeAudit) LogDelivery(_ context.Context, rec domain.DeliveryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestServer(t *testing.T, gate security.GateConfig, d domain.Deliverer, audit domain.AuditLogger) *Server {
	t.Helper()
	gate.Now = func() time.Time { return fixedNow }
	gate.Logger = testLogger()
	return New(Config{
		MaxBodyBytes:    1024,
		Gate:            security.NewGate(gate),
		Resolver:        routing.NewResolver(map[string]string{"alerts": "-100", "ops": "@ops"}, "-1"),
		Deliverer:       d,
		Audit:           audit,
		MetricsEndpoint: "/metrics",
		Logger:          testLogger(),
	})
}

func post(t *testing.T, h http.Handler, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.RemoteAddr = "10.0.0.1:5555"
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestHook_DeliversAndAudits(t *testing.T) {
	d := &fakeDeliverer{}
	audit := &fakeAudit{}
	h := newTestServer(t, security.GateConfig{}, d, audit).Handler()

	body := `{"text":"hello","attachments":[{"image_url":"https://x/1.png","title":"one"}]}`
	rec := post(t, h, "/hook/alerts", body, http.Header{HeaderRequestID: {"req-1"}})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec); got["ok"] != true {
		t.Fatalf("unexpected body: %v", got)
	}
	if rec.Header().Get(HeaderRequestID) != "req-1" {
		t.Fatal("request ID should be echoed")
	}
	if len(d.calls) != 1 || d.calls[0].dest != "-100" || d.calls[0].msg.Text != "hello" || len(d.calls[0].msg.Images) != 1 {
		t.Fatalf("unexpected delivery: %+v", d.calls)
	}
	if len(audit.recs) != 1 {
		t.Fatalf("expected one audit record, got %d", len(audit.recs))
	}
	rec0 := audit.recs[0]
	if rec0.RequestID != "req-1" || rec0.RouteKey != "alerts" || rec0.Outcome != domain.OutcomeOK || rec0.Photos != 1 {
		t.Fatalf("unexpected audit record: %+v", rec0)
	}
}

func TestHook_RoutingFallbacks(t *testing.T) {
	tests := []struct {
		name, target, body, want string
	}{
		{"route key", "/hook/ops", `{"text":"x","channel":"alerts"}`, "@ops"},
		{"embedded channel", "/hook/unknown", `{"text":"x","channel":"alerts"}`, "-100"},
		{"default", "/hook/unknown", `{"text":"x","channel":"nowhere"}`, "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDeliverer{}
			h := newTestServer(t, security.GateConfig{}, d, nil).Handler()
			rec := post(t, h, tt.target, tt.body, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if d.calls[0].dest != tt.want {
				t.Fatalf("got destination %q, want %q", d.calls[0].dest, tt.want)
			}
		})
	}
}

func TestHook_GeneratesRequestID(t *testing.T) {
	h := newTestServer(t, security.GateConfig{}, &fakeDeliverer{}, nil).Handler()
	rec := post(t, h, "/hook/alerts", `{"text":"x"}`, nil)
	if id := rec.Header().Get(HeaderRequestID); len(id) != 36 {
		t.Fatalf("expected generated uuid, got %q", id)
	}
}

func TestHook_StatusCodes(t *testing.T) {
	secret := "s3cret"
	body := `{"text":"hi"}`
	ts := strconv.FormatInt(fixedNow.Unix(), 10)
	validSig := "sha256=" + security.Sign(secret, fixedNow.Unix(), []byte(body))

	tests := []struct {
		name   string
		gate   security.GateConfig
		target string
		body   string
		header http.Header
		want   int
	}{
		{"open mode", security.GateConfig{}, "/hook/alerts", body, nil, http.StatusOK},
		{"invalid json", security.GateConfig{}, "/hook/alerts", "{nope", nil, http.StatusBadRequest},
		{"json array", security.GateConfig{}, "/hook/alerts", `[1,2]`, nil, http.StatusBadRequest},
		{"too large", security.GateConfig{}, "/hook/alerts", `{"text":"` + strings.Repeat("a", 2048) + `"}`, nil, http.StatusRequestEntityTooLarge},
		{"ip not allowed", security.GateConfig{AllowIPs: []string{"10.9.9.9"}, SharedSecret: secret}, "/hook/alerts?token=" + secret, body, nil, http.StatusForbidden},
		{"missing auth", security.GateConfig{SharedSecret: secret}, "/hook/alerts", body, nil, http.StatusUnauthorized},
		{"token", security.GateConfig{SharedSecret: secret}, "/hook/alerts?token=" + secret, body, nil, http.StatusOK},
		{"signature", security.GateConfig{SharedSecret: secret}, "/hook/alerts", body,
			http.Header{security.HeaderSignature: {validSig}, security.HeaderTimestamp: {ts}}, http.StatusOK},
		{"bad signature", security.GateConfig{SharedSecret: secret}, "/hook/alerts", body,
			http.Header{security.HeaderSignature: {"sha256=00"}, security.HeaderTimestamp: {ts}}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, tt.gate, &fakeDeliverer{}, nil).Handler()
			rec := post(t, h, tt.target, tt.body, tt.header)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestHook_AuthRunsBeforeParsing(t *testing.T) {
	d := &fakeDeliverer{}
	h := newTestServer(t, security.GateConfig{SharedSecret: "s"}, d, nil).Handler()
	rec := post(t, h, "/hook/alerts", "{not json", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 before JSON validation, got %d", rec.Code)
	}
}

func TestHook_DeliveryFailureIs502(t *testing.T) {
	d := &fakeDeliverer{err: fmt.Errorf("sendMessage: %w: chat not found", domain.ErrPermanentUpstream)}
	audit := &fakeAudit{}
	h := newTestServer(t, security.GateConfig{}, d, audit).Handler()

	rec := post(t, h, "/hook/alerts", `{"text":"x"}`, nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["ok"] != false || strings.Contains(rec.Body.String(), "chat not found") {
		t.Fatalf("error body should be generic: %s", rec.Body.String())
	}
	if audit.recs[0].Outcome != domain.OutcomeFailed || audit.recs[0].ErrorClass != "permanent_upstream" {
		t.Fatalf("unexpected audit record: %+v", audit.recs[0])
	}
}

func TestHook_NoDelivererIs503(t *testing.T) {
	h := newTestServer(t, security.GateConfig{}, nil, nil).Handler()
	rec := post(t, h, "/hook/alerts", `{"text":"x"}`, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHook_NoDestinationIs503(t *testing.T) {
	d := &fakeDeliverer{}
	s := New(Config{Resolver: routing.NewResolver(nil, ""), Deliverer: d, Logger: testLogger()})
	rec := post(t, s.Handler(), "/hook/anything", `{"text":"x"}`, nil)
	if rec.Code != http.StatusServiceUnavailable || len(d.calls) != 0 {
		t.Fatalf("expected 503 without delivery, got %d (%d calls)", rec.Code, len(d.calls))
	}
}

func TestHook_EmptyPayloadSkipsDelivery(t *testing.T) {
	d := &fakeDeliverer{}
	h := newTestServer(t, security.GateConfig{}, d, nil).Handler()
	rec := post(t, h, "/hook/alerts", `{"attachments":[{"title":"no url"}]}`, nil)
	if rec.Code != http.StatusOK || len(d.calls) != 0 {
		t.Fatalf("expected 200 without delivery, got %d (%d calls)", rec.Code, len(d.calls))
	}
}

func TestHook_MethodNotAllowed(t *testing.T) {
	h := newTestServer(t, security.GateConfig{}, &fakeDeliverer{}, nil).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hook/alerts", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestProbes(t *testing.T) {
	ready := newTestServer(t, security.GateConfig{}, &fakeDeliverer{}, nil).Handler()
	notReady := newTestServer(t, security.GateConfig{}, nil, nil).Handler()

	get := func(h http.Handler, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	if rec := get(notReady, "/healthz"); rec.Code != http.StatusOK || decodeBody(t, rec)["status"] != "up" {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(ready, "/ready"); rec.Code != http.StatusOK || decodeBody(t, rec)["ready"] != true {
		t.Fatalf("ready: %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(notReady, "/ready"); rec.Code != http.StatusServiceUnavailable || decodeBody(t, rec)["ready"] != false {
		t.Fatalf("not ready: %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(ready, "/metrics"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "slack2tg_hooks_total") {
		t.Fatalf("metrics: %d", rec.Code)
	}
}

func TestReady_CustomCheck(t *testing.T) {
	s := New(Config{Deliverer: &fakeDeliverer{}, Ready: func() bool { return false }, Logger: testLogger()})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := New(Config{Deliverer: &fakeDeliverer{}, Resolver: routing.NewResolver(nil, "-1"), Logger: testLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String()
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Post(url+"/hook/x", "application/json", bytes.NewReader([]byte(`{"text":"x"}`)))
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("server not reachable: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
