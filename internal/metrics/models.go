// Package metrics queries Prometheus for per-VM usage statistics over a
// fixed 30-day lookback window.
package metrics

// Usage holds aggregate samples for one series over the lookback window.
// Fields are independently nullable; partial data is valid.
type Usage struct {
	Peak *float64 `json:"peak"`
	Avg  *float64 `json:"avg"`
	Low  *float64 `json:"low"`
}

// Storage holds the current disk gauge for the fixed /data mount.
type Storage struct {
	DataMount *float64 `json:"dataMount"`
}

// Bundle aggregates usage statistics for one VM address. LastUpdated is set
// only when at least one series returned a value.
type Bundle struct {
	CPU         Usage   `json:"cpu"`
	Memory      Usage   `json:"memory"`
	Storage     Storage `json:"storage"`
	LastUpdated *string `json:"lastUpdated"`
}

// Set maps VM address to its metrics bundle. Unreachable addresses are
// absent, never present with a null bundle.
type Set map[string]Bundle
