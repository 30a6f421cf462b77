package llm

import "time"

// ProviderHealth is a point-in-time snapshot of one provider. Snapshots are
// immutable: every probe produces a new value.
type ProviderHealth struct {
	Provider      string    `json:"provider"`
	Reachable     bool      `json:"reachable"`
	Models        []string  `json:"models"`
	Error         string    `json:"error,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	LatencyMs     *int64    `json:"latency_ms,omitempty"`
}

// UnknownHealth is the snapshot reported for a provider that was never probed.
func UnknownHealth(provider string) ProviderHealth {
	return ProviderHealth{Provider: provider, Models: []string{}}
}

// Known reports whether the snapshot comes from an actual probe.
func (h ProviderHealth) Known() bool { return !h.LastCheckedAt.IsZero() }

// Status returns "unknown", "ok" or "down".
func (h ProviderHealth) Status() string {
	switch {
	case !h.Known():
		return "unknown"
	case h.Reachable:
		return "ok"
	default:
		return "down"
	}
}
