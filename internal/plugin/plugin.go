// Package plugin holds the registry of provisioning backends. Each
// offering type registers its processors and component defaults here at
// process start; dispatch resolves the processor per order item.
package plugin

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/fx"

	orderdomain "github.com/stackbay/agora/internal/order/domain"
)

// ErrNotImplemented from a Validate hook means the backend has no
// validation and the item proceeds unchecked.
var ErrNotImplemented = errors.New("not_implemented")

// RemoteOfferingType marks offerings fulfilled by a remote deployment.
// Their order items are pulled by the remote side instead of being
// pushed onto the local task queue.
const RemoteOfferingType = "remote"

// Processor fulfills a single order item against a backend.
type Processor func(ctx context.Context, item orderdomain.OrderItem) error

// Validator inspects an order item before it is accepted.
type Validator func(ctx context.Context, item orderdomain.OrderItem) error

// ComponentSpec describes a billing component an offering type ships
// with by default.
type ComponentSpec struct {
	Type         string
	Name         string
	MeasuredUnit string
	BillingType  string
	// Factor divides reported amounts when converting to billed units,
	// for example bytes to gigabytes. Zero means 1.
	Factor int64
}

// Registration binds an offering type to its processors.
type Registration struct {
	OfferingType    string
	CreateProcessor Processor
	UpdateProcessor Processor
	DeleteProcessor Processor
	Validate        Validator
	CanUpdateLimits bool
	// SecretAttributeKeys lists attribute keys stripped from API output.
	SecretAttributeKeys []string
	Components          []ComponentSpec
}

// Registry maps offering types to their registrations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register installs or replaces the registration for an offering type.
func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[reg.OfferingType] = reg
}

// Get returns the registration for an offering type.
func (r *Registry) Get(offeringType string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.entries[offeringType]
	return reg, ok
}

// ProcessorFor resolves the processor for an offering type and request
// type. A missing registration or a registration without a processor
// for the request type both return false.
func (r *Registry) ProcessorFor(offeringType string, requestType orderdomain.OrderItemType) (Processor, bool) {
	reg, ok := r.Get(offeringType)
	if !ok {
		return nil, false
	}

	var p Processor
	switch requestType {
	case orderdomain.OrderItemTypeCreate:
		p = reg.CreateProcessor
	case orderdomain.OrderItemTypeUpdate:
		p = reg.UpdateProcessor
	case orderdomain.OrderItemTypeTerminate:
		p = reg.DeleteProcessor
	}
	if p == nil {
		return nil, false
	}
	return p, true
}

var Module = fx.Module("plugin",
	fx.Provide(NewRegistry),
)
