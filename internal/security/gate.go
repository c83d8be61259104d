package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"slack2tg/internal/domain"
)

const (
	// SignatureTolerance bounds the clock skew between a signed request's
	// timestamp and its receipt, in both directions.
	SignatureTolerance = 300 * time.Second

	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	QueryToken      = "token"
)

// GateConfig configures the webhook security gate.
type GateConfig struct {
	SharedSecret string   // empty = open mode
	AllowIPs     []string // empty = any client
	Now          func() time.Time
	Logger       *slog.Logger
}

// Gate authenticates inbound webhook requests: IP allowlist first, then either
// a shared-secret query token or an HMAC-SHA256 signature over the body.
type Gate struct {
	secret   string
	allowIPs map[string]struct{}
	now      func() time.Time
	logger   *slog.Logger
}

func NewGate(cfg GateConfig) *Gate {
	allow := make(map[string]struct{}, len(cfg.AllowIPs))
	for _, ip := range cfg.AllowIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			allow[ip] = struct{}{}
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		secret:   cfg.SharedSecret,
		allowIPs: allow,
		now:      cfg.Now,
		logger:   cfg.Logger,
	}
}

// Open reports whether requests are accepted without a token or signature.
func (g *Gate) Open() bool { return g.secret == "" }

// Check authenticates r using its TCP peer address as the client IP.
func (g *Gate) Check(r *http.Request, routeKey string, body []byte) error {
	return g.Authenticate(routeKey, r.Header, r.URL.Query(), ClientIP(r), body)
}

// Authenticate returns nil to allow the request, or an error wrapping
// domain.ErrForbidden (IP not allowlisted) or domain.ErrUnauthorized.
func (g *Gate) Authenticate(routeKey string, header http.Header, query url.Values, clientIP string, body []byte) error {
	if len(g.allowIPs) > 0 {
		if _, ok := g.allowIPs[clientIP]; !ok {
			g.logger.Warn("webhook rejected", "route_key", routeKey, "client_ip", clientIP, "reason", "ip not allowed")
			return fmt.Errorf("%w: client ip not allowed", domain.ErrForbidden)
		}
	}

	if g.secret == "" {
		return nil
	}

	if token := query.Get(QueryToken); token != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(g.secret)) == 1 {
		return nil
	}

	sig := parseSignature(header.Get(HeaderSignature))
	if err := g.verifySignature(body, header.Get(HeaderTimestamp), sig); err != nil {
		g.logger.Warn("webhook rejected", "route_key", routeKey, "client_ip", clientIP, "reason", err.Error())
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	return nil
}

func (g *Gate) verifySignature(body []byte, timestamp, provided string) error {
	if provided == "" || timestamp == "" {
		return fmt.Errorf("missing signature or timestamp")
	}
	ts, err := strconv.ParseInt(strings.TrimSpace(timestamp), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid timestamp")
	}

	skew := g.now().Unix() - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(SignatureTolerance/time.Second) {
		return fmt.Errorf("timestamp outside tolerance")
	}

	expected := Sign(g.secret, ts, body)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

// parseSignature accepts "sha256=<hex>" or a bare hex digest.
func parseSignature(header string) string {
	if len(header) >= 7 && strings.EqualFold(header[:7], "sha256=") {
		return header[7:]
	}
	return header
}

// Sign returns the lowercase hex HMAC-SHA256 of "{ts}:{body}" keyed by secret.
func Sign(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte{':'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ClientIP returns the host part of the request's remote address. Forwarding
// headers are ignored.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
