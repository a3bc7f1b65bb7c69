package edr

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Deps are the process-wide settings handed to a vendor factory.
type Deps struct {
	Logger             *zap.Logger
	HTTPTimeout        time.Duration
	InsecureSkipVerify bool
	UserAgent          string
	// PollTimeout overrides the vendor's poll budget where the vendor
	// allows it. Zero keeps the default.
	PollTimeout time.Duration
}

// Factory builds a vendor for one invocation.
type Factory func(Deps) Vendor

// Registry selects a vendor implementation by name once at startup.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds a factory. Names are stored upper-case; registering a name
// twice replaces the earlier factory.
func (r *Registry) Register(name string, f Factory) {
	r.factories[strings.ToUpper(name)] = f
}

// Names returns the registered vendor names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the vendor registered under name, matched case-insensitively.
func (r *Registry) New(name string, d Deps) (Vendor, error) {
	f, ok := r.factories[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("unknown vendor %q (must be one of %s)", name, strings.Join(r.Names(), ", "))
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return f(d), nil
}
