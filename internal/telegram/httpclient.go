package telegram

import (
	"net"
	"net/http"
	"time"
)

const defaultAPITimeout = 30 * time.Second

// SharedHTTPClient builds the single HTTP client behind the bot handle.
// Every request goes to one host, so the idle pool is sized per host.
// HTTPS_PROXY is honoured for networks where api.telegram.org is blocked.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultAPITimeout
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     2 * time.Minute,
			TLSHandshakeTimeout: 10 * time.Second,
			// Uploads by URL make Telegram fetch the file before it answers.
			ResponseHeaderTimeout: timeout,
		},
	}
}
