package inventory

import (
	"github.com/ninebot-ops/vmboard/internal/environment"
)

// Partition splits an environment-unaware snapshot into one filtered
// snapshot per environment. Every environment in the closed set receives an
// entry, possibly with zero services. Within each environment a service
// keeps only the VMs whose resource group classifies to that environment,
// is dropped entirely when none remain, and takes its representative
// resource group from the first retained VM.
func Partition(snap Snapshot, classifier *environment.Classifier) map[string]Snapshot {
	out := make(map[string]Snapshot, len(classifier.Environments()))
	for _, env := range classifier.Environments() {
		filtered := Snapshot{
			Services:    make([]Service, 0),
			LastUpdated: snap.LastUpdated,
		}
		for _, svc := range snap.Services {
			var vms []VM
			for _, vm := range svc.VMs {
				if classifier.Classify(vm.ResourceGroup) == env {
					vms = append(vms, vm)
				}
			}
			if len(vms) == 0 {
				continue
			}
			kept := svc
			kept.VMs = vms
			kept.ResourceGroup = vms[0].ResourceGroup
			filtered.Services = append(filtered.Services, kept)
		}
		out[env] = filtered
	}
	return out
}
