// Package azure adapts the Azure Resource Manager SDK to the inventory
// provider interface. It holds no business logic beyond flattening ARM
// responses into plain values.
package azure

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v4"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/subscription/armsubscription"

	"github.com/ninebot-ops/vmboard/internal/inventory"
)

const powerStatePrefix = "PowerState/"

// Credentials holds the service-principal parameters for ARM access.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// Configured reports whether all credential parameters are present.
func (c Credentials) Configured() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// Client implements inventory.Provider over the ARM SDK. Per-subscription
// clients are created lazily and cached; the struct is safe for concurrent
// use, though the refresh loop is its only caller.
type Client struct {
	cred azcore.TokenCredential
	subs *armsubscription.SubscriptionsClient

	mu       sync.Mutex
	compute  map[string]*armcompute.VirtualMachinesClient
	sizes    map[string]*armcompute.VirtualMachineSizesClient
	networks map[string]*armnetwork.InterfacesClient
}

// NewClient builds an ARM-backed provider from service-principal credentials.
func NewClient(creds Credentials) (*Client, error) {
	cred, err := azidentity.NewClientSecretCredential(creds.TenantID, creds.ClientID, creds.ClientSecret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build credential: %w", err)
	}
	subs, err := armsubscription.NewSubscriptionsClient(cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build subscriptions client: %w", err)
	}
	return &Client{
		cred:     cred,
		subs:     subs,
		compute:  make(map[string]*armcompute.VirtualMachinesClient),
		sizes:    make(map[string]*armcompute.VirtualMachineSizesClient),
		networks: make(map[string]*armnetwork.InterfacesClient),
	}, nil
}

// Subscriptions enumerates every subscription ID visible to the credential.
func (c *Client) Subscriptions(ctx context.Context) ([]string, error) {
	var ids []string
	pager := c.subs.NewListPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list subscriptions: %w", err)
		}
		for _, sub := range page.Value {
			if sub != nil && sub.SubscriptionID != nil {
				ids = append(ids, *sub.SubscriptionID)
			}
		}
	}
	return ids, nil
}

// Sizes returns capacity metadata per size name for one location.
func (c *Client) Sizes(ctx context.Context, subscriptionID, location string) (map[string]inventory.Capacity, error) {
	client, err := c.sizesClient(subscriptionID)
	if err != nil {
		return nil, err
	}

	sizes := make(map[string]inventory.Capacity)
	pager := client.NewListPager(location, nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sizes in %s: %w", location, err)
		}
		for _, size := range page.Value {
			if size == nil || size.Name == nil {
				continue
			}
			capacity := inventory.Capacity{}
			if size.NumberOfCores != nil {
				capacity.Cores = *size.NumberOfCores
			}
			if size.MemoryInMB != nil {
				capacity.MemoryGB = *size.MemoryInMB / 1024
			}
			sizes[*size.Name] = capacity
		}
	}
	return sizes, nil
}

// VirtualMachines enumerates every VM in a subscription.
func (c *Client) VirtualMachines(ctx context.Context, subscriptionID string) ([]inventory.RawVM, error) {
	client, err := c.computeClient(subscriptionID)
	if err != nil {
		return nil, err
	}

	var vms []inventory.RawVM
	pager := client.NewListAllPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list virtual machines: %w", err)
		}
		for _, vm := range page.Value {
			if vm == nil || vm.Name == nil || vm.ID == nil {
				continue
			}
			vms = append(vms, flattenVM(vm))
		}
	}
	return vms, nil
}

// PowerState resolves the current run state of one VM from its instance
// view. A VM with no power-state status reports "unknown" without error.
func (c *Client) PowerState(ctx context.Context, subscriptionID, resourceGroup, name string) (string, error) {
	client, err := c.computeClient(subscriptionID)
	if err != nil {
		return "", err
	}

	view, err := client.InstanceView(ctx, resourceGroup, name, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get instance view for %s: %w", name, err)
	}
	for _, status := range view.Statuses {
		if status == nil || status.Code == nil {
			continue
		}
		if strings.HasPrefix(*status.Code, powerStatePrefix) {
			return strings.TrimPrefix(*status.Code, powerStatePrefix), nil
		}
	}
	return "unknown", nil
}

// PrivateIP resolves a network interface ID to its first configured private
// address. An interface with no private address resolves to "".
func (c *Client) PrivateIP(ctx context.Context, subscriptionID, nicID string) (string, error) {
	rg, name, err := parseNICID(nicID)
	if err != nil {
		return "", err
	}
	client, err := c.networkClient(subscriptionID)
	if err != nil {
		return "", err
	}

	nic, err := client.Get(ctx, rg, name, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get network interface %s: %w", name, err)
	}
	if nic.Properties == nil {
		return "", nil
	}
	for _, ipConfig := range nic.Properties.IPConfigurations {
		if ipConfig == nil || ipConfig.Properties == nil {
			continue
		}
		if ip := ipConfig.Properties.PrivateIPAddress; ip != nil && *ip != "" {
			return *ip, nil
		}
	}
	return "", nil
}

func (c *Client) computeClient(subscriptionID string) (*armcompute.VirtualMachinesClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.compute[subscriptionID]; ok {
		return client, nil
	}
	client, err := armcompute.NewVirtualMachinesClient(subscriptionID, c.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build compute client: %w", err)
	}
	c.compute[subscriptionID] = client
	return client, nil
}

func (c *Client) sizesClient(subscriptionID string) (*armcompute.VirtualMachineSizesClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.sizes[subscriptionID]; ok {
		return client, nil
	}
	client, err := armcompute.NewVirtualMachineSizesClient(subscriptionID, c.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build sizes client: %w", err)
	}
	c.sizes[subscriptionID] = client
	return client, nil
}

func (c *Client) networkClient(subscriptionID string) (*armnetwork.InterfacesClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.networks[subscriptionID]; ok {
		return client, nil
	}
	client, err := armnetwork.NewInterfacesClient(subscriptionID, c.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build network client: %w", err)
	}
	c.networks[subscriptionID] = client
	return client, nil
}

// flattenVM converts one ARM virtual machine into the provider-neutral
// representation consumed by the fetcher.
func flattenVM(vm *armcompute.VirtualMachine) inventory.RawVM {
	raw := inventory.RawVM{
		Name:          deref(vm.Name),
		Location:      deref(vm.Location),
		ResourceGroup: resourceGroupFromID(deref(vm.ID)),
		Tags:          make(map[string]string, len(vm.Tags)),
		OS:            "unknown",
	}
	for key, value := range vm.Tags {
		raw.Tags[key] = deref(value)
	}

	props := vm.Properties
	if props == nil {
		return raw
	}
	if props.HardwareProfile != nil && props.HardwareProfile.VMSize != nil {
		raw.Size = string(*props.HardwareProfile.VMSize)
	}
	raw.OS = osFromImage(props.StorageProfile)
	if props.NetworkProfile != nil {
		for _, ref := range props.NetworkProfile.NetworkInterfaces {
			if ref != nil && ref.ID != nil {
				raw.NICIDs = append(raw.NICIDs, *ref.ID)
			}
		}
	}
	return raw
}

// osFromImage derives a display string from the image reference: offer plus
// SKU when both are set, otherwise the last segment of a custom image ID.
func osFromImage(profile *armcompute.StorageProfile) string {
	if profile == nil || profile.ImageReference == nil {
		return "unknown"
	}
	img := profile.ImageReference
	offer, sku := deref(img.Offer), deref(img.SKU)
	if offer != "" && sku != "" {
		return offer + " " + sku
	}
	if id := deref(img.ID); id != "" {
		parts := strings.Split(id, "/")
		return parts[len(parts)-1]
	}
	return "unknown"
}

// resourceGroupFromID extracts the resource group segment of an ARM ID.
// ARM IDs are case-insensitive in the "resourceGroups" literal.
func resourceGroupFromID(id string) string {
	parts := strings.Split(id, "/")
	for i, part := range parts {
		if strings.EqualFold(part, "resourceGroups") && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return ""
}

// parseNICID extracts the resource group and interface name from a NIC ID.
func parseNICID(id string) (rg, name string, err error) {
	parts := strings.Split(id, "/")
	for i, part := range parts {
		if strings.EqualFold(part, "resourceGroups") && i+1 < len(parts) {
			rg = parts[i+1]
		}
		if strings.EqualFold(part, "networkInterfaces") && i+1 < len(parts) {
			name = parts[i+1]
		}
	}
	if rg == "" || name == "" {
		return "", "", fmt.Errorf("malformed network interface ID: %s", id)
	}
	return rg, name, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
