package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// GetByPath looks up a value by its dotted JSON path, e.g. "telegram.parseMode"
// or "routing.routes.alerts". Route keys containing dots cannot be addressed.
func GetByPath(cfg *Config, path string) (any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var node any
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, err
	}

	walked := make([]string, 0, 4)
	for _, key := range strings.Split(path, ".") {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s is not a section", strings.Join(walked, "."))
		}
		if node, ok = obj[key]; !ok {
			return nil, fmt.Errorf("unknown config key %q", path)
		}
		walked = append(walked, key)
	}
	return node, nil
}

// Sanitize returns a copy safe to print: the bot token keeps only its bot id
// and the shared secret is hidden.
func Sanitize(cfg *Config) *Config {
	out := *cfg
	out.Routing.Routes = maps.Clone(cfg.Routing.Routes)
	out.Security.AllowIPs = slices.Clone(cfg.Security.AllowIPs)

	out.Telegram.Token = maskToken(cfg.Telegram.Token)
	if out.Security.SharedSecret != "" {
		out.Security.SharedSecret = "***"
	}
	return &out
}

// maskToken turns "123456:ABC..." into "123456:***". Tokens of another shape
// are hidden entirely.
func maskToken(token string) string {
	if token == "" {
		return ""
	}
	if id, _, ok := strings.Cut(token, ":"); ok && id != "" && !strings.Contains(id, "${") {
		return id + ":***"
	}
	return "***"
}
