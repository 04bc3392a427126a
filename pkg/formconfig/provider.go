package formconfig

import (
	"context"
	"errors"
)

// ErrNotFound is returned by providers when no configuration matches a ref.
var ErrNotFound = errors.New("formconfig: configuration not found")

// Ref identifies a configuration either directly by id or by the entity type
// it is the default configuration for. ID wins when both are set.
type Ref struct {
	ID             string
	EntityTypeName string
}

// Provider resolves form configurations. Implementations own storage and
// transport; the engine only consumes the resolved configuration.
type Provider interface {
	Configuration(ctx context.Context, ref Ref) (FormConfiguration, error)
}

// ProviderFunc adapts a function into a Provider.
type ProviderFunc func(ctx context.Context, ref Ref) (FormConfiguration, error)

// Configuration delegates to the underlying function.
func (fn ProviderFunc) Configuration(ctx context.Context, ref Ref) (FormConfiguration, error) {
	return fn(ctx, ref)
}
