// Package routing maps webhook route keys to Telegram chat IDs.
package routing

// Resolver looks up destinations in a static routing table. It is safe for
// concurrent use because it is never modified after construction.
type Resolver struct {
	table       map[string]string
	defaultChat string
}

// NewResolver copies table so later changes to the caller's map have no effect.
func NewResolver(table map[string]string, defaultChat string) *Resolver {
	t := make(map[string]string, len(table))
	for k, v := range table {
		t[k] = v
	}
	return &Resolver{table: t, defaultChat: defaultChat}
}

// Resolve tries the route key, then the channel embedded in the payload, then
// falls back to the default chat. Empty keys are skipped.
func (r *Resolver) Resolve(routeKey, channel string) string {
	for _, key := range []string{routeKey, channel} {
		if key == "" {
			continue
		}
		if dest, ok := r.table[key]; ok {
			return dest
		}
	}
	return r.defaultChat
}

// Default returns the fallback chat ID.
func (r *Resolver) Default() string { return r.defaultChat }

// Len returns the number of configured routes.
func (r *Resolver) Len() int { return len(r.table) }
