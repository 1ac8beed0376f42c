// ABOUTME: Bridge from tool registration to the shared service registry.
// ABOUTME: Publishes a matching ServiceRecord for every tool that carries metadata.

package dispatch

import (
	"context"

	"github.com/tonklabs/toolmesh/internal/registry"
)

// RegistryPublisher implements Publisher on top of the service registry,
// advertising this provider's tools under its mesh address.
type RegistryPublisher struct {
	registry *registry.Registry
	provider string // this peer's mesh address
}

// NewRegistryPublisher creates a publisher registering services as provider.
func NewRegistryPublisher(reg *registry.Registry, providerAddress string) *RegistryPublisher {
	return &RegistryPublisher{registry: reg, provider: providerAddress}
}

// Publish writes a service record derived from the tool metadata. The
// service id defaults to the method name when the metadata names none.
// Errors (AlreadyExists from a replayed registration, store failures) go
// back to the dispatcher, which logs and swallows them: tool registration
// never fails because publication failed.
func (p *RegistryPublisher) Publish(ctx context.Context, method string, meta Metadata) error {
	serviceID := meta.ServiceID
	if serviceID == "" {
		serviceID = method
	}

	_, err := p.registry.Register(ctx, p.provider, registry.RegisterParams{
		ServiceID:   serviceID,
		Method:      method,
		Description: meta.Description,
		PriceInTNK:  meta.PriceInTNK,
		Category:    meta.Category,
	})
	return err
}
