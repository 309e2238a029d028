package inventory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// ServiceTag marks a VM as visible to the board; machines without it are
	// skipped entirely.
	ServiceTag = "service"

	// OwnerTag carries the owning team for a service.
	OwnerTag = "proj"

	// defaultCallTimeout bounds each individual provider call so one slow
	// upstream lookup cannot stall a whole refresh cycle.
	defaultCallTimeout = 30 * time.Second

	// unknownValue is the sentinel for per-field lookups that failed.
	unknownValue = "unknown"
)

// Regions are the locations probed for VM size metadata.
var Regions = []string{"westeurope", "germanywestcentral", "eastus", "westus"}

// Capacity describes one VM size.
type Capacity struct {
	Cores    int32
	MemoryGB int32
}

// RawVM is one machine as reported by the provider, before grouping and
// enrichment.
type RawVM struct {
	Name          string
	Location      string
	ResourceGroup string
	Tags          map[string]string
	Size          string
	OS            string
	NICIDs        []string
}

// Provider is the cloud inventory collaborator. Every method is
// independently fallible; the fetcher decides which failures abort a cycle
// and which degrade a single field.
type Provider interface {
	// Subscriptions enumerates the subscription IDs reachable with the
	// configured credential.
	Subscriptions(ctx context.Context) ([]string, error)

	// Sizes returns capacity metadata per size name for one location.
	Sizes(ctx context.Context, subscriptionID, location string) (map[string]Capacity, error)

	// VirtualMachines enumerates every VM in a subscription.
	VirtualMachines(ctx context.Context, subscriptionID string) ([]RawVM, error)

	// PowerState resolves the current run state of one VM.
	PowerState(ctx context.Context, subscriptionID, resourceGroup, name string) (string, error)

	// PrivateIP resolves a network interface ID to its private address.
	PrivateIP(ctx context.Context, subscriptionID, nicID string) (string, error)
}

// Fetcher orchestrates one full inventory pull over the provider.
type Fetcher struct {
	provider Provider
	logger   *zap.Logger
	timeout  time.Duration
}

// NewFetcher creates an inventory fetcher. A nil provider is allowed and
// makes every fetch fail, which keeps the refresh loop alive but idle when
// credentials are not configured.
func NewFetcher(provider Provider, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		provider: provider,
		logger:   logger,
		timeout:  defaultCallTimeout,
	}
}

// FetchAll pulls every visible VM across all reachable subscriptions and
// returns an environment-unaware snapshot. Subscription or VM enumeration
// failures abort the fetch; per-region size lookups and per-VM state and
// address lookups only degrade their field.
func (f *Fetcher) FetchAll(ctx context.Context) (Snapshot, error) {
	if f.provider == nil {
		return Snapshot{}, fmt.Errorf("inventory provider not configured")
	}

	subs, err := f.subscriptions(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to enumerate subscriptions: %w", err)
	}

	builder := NewBuilder()
	for _, sub := range subs {
		if err := f.fetchSubscription(ctx, sub, builder); err != nil {
			return Snapshot{}, fmt.Errorf("failed to fetch subscription %s: %w", sub, err)
		}
	}
	return builder.Snapshot(), nil
}

func (f *Fetcher) fetchSubscription(ctx context.Context, sub string, builder *Builder) error {
	sizes := f.sizesForSubscription(ctx, sub)

	vms, err := f.virtualMachines(ctx, sub)
	if err != nil {
		return err
	}

	for _, raw := range vms {
		serviceTag, ok := raw.Tags[ServiceTag]
		if !ok {
			continue
		}

		status := f.powerState(ctx, sub, raw)
		ip := f.privateIP(ctx, sub, raw)
		capacity := sizes[raw.Size]

		vm := VM{
			Name:           raw.Name,
			IP:             ip,
			CoreCount:      capacity.Cores,
			Memory:         fmt.Sprintf("%dGB", capacity.MemoryGB),
			OS:             raw.OS,
			Status:         status,
			SubscriptionID: sub,
			ResourceGroup:  raw.ResourceGroup,
		}
		builder.Add(serviceTag, raw.Tags[OwnerTag], raw.ResourceGroup, raw.Location, vm)
	}
	return nil
}

// sizesForSubscription merges size metadata across all known regions.
// A failing region is logged and skipped; affected VMs fall back to a
// zero-valued capacity instead of aborting the fetch.
func (f *Fetcher) sizesForSubscription(ctx context.Context, sub string) map[string]Capacity {
	sizes := make(map[string]Capacity)
	for _, region := range Regions {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		regionSizes, err := f.provider.Sizes(callCtx, sub, region)
		cancel()
		if err != nil {
			f.logger.Debug("Size lookup failed",
				zap.String("subscription", sub),
				zap.String("region", region),
				zap.Error(err))
			continue
		}
		for name, capacity := range regionSizes {
			sizes[name] = capacity
		}
	}
	return sizes
}

func (f *Fetcher) subscriptions(ctx context.Context) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.provider.Subscriptions(callCtx)
}

func (f *Fetcher) virtualMachines(ctx context.Context, sub string) ([]RawVM, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.provider.VirtualMachines(callCtx, sub)
}

func (f *Fetcher) powerState(ctx context.Context, sub string, raw RawVM) string {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	status, err := f.provider.PowerState(callCtx, sub, raw.ResourceGroup, raw.Name)
	if err != nil {
		f.logger.Debug("Power state lookup failed",
			zap.String("vm", raw.Name),
			zap.Error(err))
		return unknownValue
	}
	return status
}

// privateIP resolves the first reachable NIC to a private address. Failing
// NICs are skipped; no resolvable address leaves the field empty.
func (f *Fetcher) privateIP(ctx context.Context, sub string, raw RawVM) string {
	for _, nicID := range raw.NICIDs {
		callCtx, cancel := context.WithTimeout(ctx, f.timeout)
		ip, err := f.provider.PrivateIP(callCtx, sub, nicID)
		cancel()
		if err != nil {
			f.logger.Debug("NIC resolution failed",
				zap.String("vm", raw.Name),
				zap.String("nic", nicID),
				zap.Error(err))
			continue
		}
		if ip != "" {
			return ip
		}
	}
	return ""
}
