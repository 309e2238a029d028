// Package inventory fetches virtual machines from the cloud provider and
// shapes them into logical services, ready for per-environment filtering.
package inventory

// VM is one virtual machine as served to clients. Records are immutable once
// fetched and replaced wholesale on the next refresh cycle.
type VM struct {
	Name           string `json:"name"`
	IP             string `json:"ip"`             // private IP, "" when unresolved
	CoreCount      int32  `json:"coreCount"`      // 0 when size metadata is missing
	Memory         string `json:"memory"`         // e.g. "16GB", "0GB" when unknown
	OS             string `json:"os"`             // "unknown" when not derivable
	Status         string `json:"status"`         // power state, "unknown" on lookup failure
	SubscriptionID string `json:"subscriptionId"`
	ResourceGroup  string `json:"resourceGroup"`
}

// Service is a named logical grouping of VMs sharing a declared service tag.
// A service with zero VMs is never persisted.
type Service struct {
	Name          string `json:"service"`
	BusinessOwner string `json:"businessOwner"`
	ResourceGroup string `json:"resourceGroup"`
	Location      string `json:"location"`
	VMs           []VM   `json:"vms"`
}

// Snapshot is the complete set of services at a point in time, either
// environment-unaware (fresh from a fetch) or filtered to one environment.
type Snapshot struct {
	Services    []Service `json:"services"`
	LastUpdated string    `json:"last_updated,omitempty"`
}
