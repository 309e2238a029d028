package inventory

import "strings"

// serviceSeparator splits composite service tags like "nacos/gateway" into
// independent logical services.
const serviceSeparator = "/"

// SplitServiceNames splits a raw service tag into trimmed, non-empty logical
// names. A tag with no separator yields exactly one name; a tag of only
// separators and whitespace yields none.
func SplitServiceNames(tag string) []string {
	var names []string
	for _, part := range strings.Split(tag, serviceSeparator) {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Builder accumulates raw inventory entries into services, merging entries
// that resolve to the same logical service name. VM order within a service
// follows insertion order; the order of services in the built snapshot is
// not stable and consumers must not rely on it.
type Builder struct {
	services map[string]*Service
}

// NewBuilder creates an empty snapshot builder.
func NewBuilder() *Builder {
	return &Builder{services: make(map[string]*Service)}
}

// Add splits the service tag and upserts one service per logical name. The
// first entry seen for a name supplies the owner/location/resource-group
// template; later entries only append. The same machine may legitimately
// appear under several logical services, each holding its own copy of vm.
func (b *Builder) Add(serviceTag, owner, resourceGroup, location string, vm VM) {
	for _, name := range SplitServiceNames(serviceTag) {
		svc, ok := b.services[name]
		if !ok {
			svc = &Service{
				Name:          name,
				BusinessOwner: owner,
				ResourceGroup: resourceGroup,
				Location:      location,
			}
			b.services[name] = svc
		}
		svc.VMs = append(svc.VMs, vm)
	}
}

// Snapshot materializes the accumulated services.
func (b *Builder) Snapshot() Snapshot {
	services := make([]Service, 0, len(b.services))
	for _, svc := range b.services {
		services = append(services, *svc)
	}
	return Snapshot{Services: services}
}
