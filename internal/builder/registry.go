package builder

import "github.com/rotisserie/eris"

// DefaultVendor is used when no vendor is configured.
const DefaultVendor = "cdm"

// Registry maps vendor names to builder variants.
type Registry struct {
	vendors map[string]Vendor
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with the built-in variants.
func NewRegistry() *Registry {
	r := &Registry{vendors: make(map[string]Vendor)}
	r.Register(CDM{})
	return r
}

// Register adds a vendor, replacing any previous one with the same name.
func (r *Registry) Register(v Vendor) {
	name := v.Name()
	if _, exists := r.vendors[name]; !exists {
		r.order = append(r.order, name)
	}
	r.vendors[name] = v
}

// Get returns a vendor by name. An empty name selects DefaultVendor.
func (r *Registry) Get(name string) (Vendor, error) {
	if name == "" {
		name = DefaultVendor
	}
	v, ok := r.vendors[name]
	if !ok {
		return nil, eris.Errorf("builder: unknown vendor %q", name)
	}
	return v, nil
}

// AllNames returns the registered vendor names in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
