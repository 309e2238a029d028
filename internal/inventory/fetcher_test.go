package inventory

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

// fakeProvider implements Provider for tests. Zero value reports one empty
// subscription; fields inject data and failures per call.
type fakeProvider struct {
	subs    []string
	subsErr error

	sizes    map[string]map[string]Capacity // location -> size name -> capacity
	sizesErr map[string]error               // location -> error

	vms    map[string][]RawVM // subscription -> VMs
	vmsErr error

	powerStates  map[string]string // vm name -> state
	powerErr     map[string]error  // vm name -> error
	privateIPs   map[string]string // nic ID -> IP
	privateIPErr map[string]error  // nic ID -> error

	sizeCalls int
}

func (p *fakeProvider) Subscriptions(ctx context.Context) ([]string, error) {
	return p.subs, p.subsErr
}

func (p *fakeProvider) Sizes(ctx context.Context, sub, location string) (map[string]Capacity, error) {
	p.sizeCalls++
	if err := p.sizesErr[location]; err != nil {
		return nil, err
	}
	return p.sizes[location], nil
}

func (p *fakeProvider) VirtualMachines(ctx context.Context, sub string) ([]RawVM, error) {
	if p.vmsErr != nil {
		return nil, p.vmsErr
	}
	return p.vms[sub], nil
}

func (p *fakeProvider) PowerState(ctx context.Context, sub, rg, name string) (string, error) {
	if err := p.powerErr[name]; err != nil {
		return "", err
	}
	if state, ok := p.powerStates[name]; ok {
		return state, nil
	}
	return "unknown", nil
}

func (p *fakeProvider) PrivateIP(ctx context.Context, sub, nicID string) (string, error) {
	if err := p.privateIPErr[nicID]; err != nil {
		return "", err
	}
	return p.privateIPs[nicID], nil
}

func testVM(name, rg, size string, tags map[string]string, nics ...string) RawVM {
	return RawVM{
		Name:          name,
		Location:      "westeurope",
		ResourceGroup: rg,
		Tags:          tags,
		Size:          size,
		OS:            "UbuntuServer 22.04-LTS",
		NICIDs:        nics,
	}
}

// TestFetchAll_HappyPath tests end-to-end enumeration and enrichment
func TestFetchAll_HappyPath(t *testing.T) {
	p := &fakeProvider{
		subs: []string{"sub-1"},
		sizes: map[string]map[string]Capacity{
			"westeurope": {"Standard_D4": {Cores: 4, MemoryGB: 16}},
		},
		vms: map[string][]RawVM{
			"sub-1": {
				testVM("vm-1", "NINEBOT-DEV-01", "Standard_D4",
					map[string]string{ServiceTag: "nacos/gateway", OwnerTag: "teamA"}, "nic-1"),
			},
		},
		powerStates: map[string]string{"vm-1": "running"},
		privateIPs:  map[string]string{"nic-1": "10.0.0.5"},
	}

	f := NewFetcher(p, zap.NewNop())
	snap, err := f.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	if len(snap.Services) != 2 {
		t.Fatalf("got %d services, want 2 (split tag)", len(snap.Services))
	}
	for _, svc := range snap.Services {
		if len(svc.VMs) != 1 {
			t.Fatalf("service %q has %d VMs, want 1", svc.Name, len(svc.VMs))
		}
		vm := svc.VMs[0]
		if vm.IP != "10.0.0.5" {
			t.Errorf("IP = %q, want 10.0.0.5", vm.IP)
		}
		if vm.CoreCount != 4 || vm.Memory != "16GB" {
			t.Errorf("capacity = %d/%s, want 4/16GB", vm.CoreCount, vm.Memory)
		}
		if vm.Status != "running" {
			t.Errorf("status = %q, want running", vm.Status)
		}
		if vm.SubscriptionID != "sub-1" || vm.ResourceGroup != "NINEBOT-DEV-01" {
			t.Errorf("identity = %q/%q", vm.SubscriptionID, vm.ResourceGroup)
		}
	}
}

// TestFetchAll_SkipsUntaggedVMs verifies VMs without the service tag are
// invisible, not an error.
func TestFetchAll_SkipsUntaggedVMs(t *testing.T) {
	p := &fakeProvider{
		subs: []string{"sub-1"},
		vms: map[string][]RawVM{
			"sub-1": {
				testVM("vm-tagged", "rg", "s", map[string]string{ServiceTag: "app"}),
				testVM("vm-untagged", "rg", "s", map[string]string{"env": "dev"}),
				testVM("vm-no-tags", "rg", "s", nil),
			},
		},
	}

	f := NewFetcher(p, zap.NewNop())
	snap, err := f.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(snap.Services) != 1 || snap.Services[0].Name != "app" {
		t.Fatalf("services = %+v, want only app", snap.Services)
	}
}

// TestFetchAll_DegradesPerFieldLookups verifies that failing state, address
// and size lookups degrade their field without aborting the fetch.
func TestFetchAll_DegradesPerFieldLookups(t *testing.T) {
	p := &fakeProvider{
		subs: []string{"sub-1"},
		sizesErr: map[string]error{
			"westeurope":         errors.New("throttled"),
			"germanywestcentral": errors.New("throttled"),
			"eastus":             errors.New("throttled"),
			"westus":             errors.New("throttled"),
		},
		vms: map[string][]RawVM{
			"sub-1": {
				testVM("vm-1", "rg", "Standard_D4", map[string]string{ServiceTag: "app"}, "nic-1"),
			},
		},
		powerErr:     map[string]error{"vm-1": errors.New("instance view unavailable")},
		privateIPErr: map[string]error{"nic-1": errors.New("nic gone")},
	}

	f := NewFetcher(p, zap.NewNop())
	snap, err := f.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(snap.Services) != 1 {
		t.Fatalf("got %d services, want 1", len(snap.Services))
	}
	vm := snap.Services[0].VMs[0]
	if vm.Status != "unknown" {
		t.Errorf("status = %q, want unknown", vm.Status)
	}
	if vm.IP != "" {
		t.Errorf("IP = %q, want empty", vm.IP)
	}
	if vm.CoreCount != 0 || vm.Memory != "0GB" {
		t.Errorf("capacity = %d/%s, want zero placeholder", vm.CoreCount, vm.Memory)
	}
}

// TestFetchAll_FirstResolvableNICWins verifies NIC fallback order
func TestFetchAll_FirstResolvableNICWins(t *testing.T) {
	p := &fakeProvider{
		subs: []string{"sub-1"},
		vms: map[string][]RawVM{
			"sub-1": {
				testVM("vm-1", "rg", "s", map[string]string{ServiceTag: "app"}, "nic-bad", "nic-empty", "nic-good"),
			},
		},
		privateIPErr: map[string]error{"nic-bad": errors.New("boom")},
		privateIPs:   map[string]string{"nic-empty": "", "nic-good": "10.1.2.3"},
	}

	f := NewFetcher(p, zap.NewNop())
	snap, err := f.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if ip := snap.Services[0].VMs[0].IP; ip != "10.1.2.3" {
		t.Errorf("IP = %q, want 10.1.2.3", ip)
	}
}

// TestFetchAll_SubscriptionFailureAborts verifies total-failure semantics
func TestFetchAll_SubscriptionFailureAborts(t *testing.T) {
	p := &fakeProvider{subsErr: errors.New("credential rejected")}
	f := NewFetcher(p, zap.NewNop())
	if _, err := f.FetchAll(context.Background()); err == nil {
		t.Fatal("expected error on subscription enumeration failure")
	}
}

// TestFetchAll_VMEnumerationFailureAborts verifies that a failing VM list
// surfaces as a fetch error rather than a partial snapshot.
func TestFetchAll_VMEnumerationFailureAborts(t *testing.T) {
	p := &fakeProvider{
		subs:   []string{"sub-1"},
		vmsErr: errors.New("listAll failed"),
	}
	f := NewFetcher(p, zap.NewNop())
	if _, err := f.FetchAll(context.Background()); err == nil {
		t.Fatal("expected error on VM enumeration failure")
	}
}

// TestFetchAll_NilProvider verifies the disabled-provider path
func TestFetchAll_NilProvider(t *testing.T) {
	f := NewFetcher(nil, zap.NewNop())
	if _, err := f.FetchAll(context.Background()); err == nil {
		t.Fatal("expected error with nil provider")
	}
}

// TestFetchAll_ProbesAllRegions verifies size metadata is gathered from
// every known region once per subscription.
func TestFetchAll_ProbesAllRegions(t *testing.T) {
	p := &fakeProvider{subs: []string{"sub-1"}}
	f := NewFetcher(p, zap.NewNop())
	if _, err := f.FetchAll(context.Background()); err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if p.sizeCalls != len(Regions) {
		t.Errorf("size lookups = %d, want %d", p.sizeCalls, len(Regions))
	}
}
