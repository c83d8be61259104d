package config

import (
	"encoding/json"
	"strconv"
	"strings"
)

// applyEnv overlays the flat environment variables used by container
// deployments onto cfg. Unparseable values are ignored.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.Token)
	str("DEFAULT_CHAT_ID", &cfg.Routing.DefaultChatID)
	str("SHARED_SECRET", &cfg.Security.SharedSecret)
	str("LOG_LEVEL", &cfg.General.LogLevel)
	str("LISTEN_ADDR", &cfg.Server.ListenAddr)
	str("AUDIT_DB_PATH", &cfg.Audit.DBPath)

	if v, ok := lookup("PARSE_MODE"); ok {
		// An explicitly empty PARSE_MODE selects plain text.
		cfg.Telegram.ParseMode = strings.TrimSpace(v)
	}

	if v, ok := lookup("ROUTING_MAP"); ok && strings.TrimSpace(v) != "" {
		var routes RouteMap
		if err := json.Unmarshal([]byte(v), &routes); err == nil {
			cfg.Routing.Routes = routes
		} else {
			cfg.Routing.Routes = RouteMap{}
		}
	}

	if v, ok := lookup("ALLOW_IPS"); ok {
		cfg.Security.AllowIPs = splitCSV(v)
	}

	if v, ok := lookup("DISABLE_WEB_PREVIEW"); ok {
		if b, ok := parseBool(v); ok {
			cfg.Telegram.DisableWebPreview = b
		}
	}
	if v, ok := lookup("JSON_LOGS"); ok {
		if b, ok := parseBool(v); ok {
			cfg.General.JSONLogs = b
		}
	}
	if v, ok := lookup("AUDIT_ENABLED"); ok {
		if b, ok := parseBool(v); ok {
			cfg.Audit.Enabled = b
		}
	}

	if v, ok := lookup("MAX_MEDIA"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Telegram.MaxMedia = n
		}
	}
	if v, ok := lookup("RETRY_MAX"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Retry.MaxAttempts = n
		}
	}
	if v, ok := lookup("RETRY_BACKOFF"); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			cfg.Retry.BackoffSeconds = f
		}
	}
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
