package storage

import (
	"context"

	"github.com/platformkit/composer/internal/app/domain/definition"
	"github.com/platformkit/composer/internal/app/domain/instance"
	"github.com/platformkit/composer/internal/app/domain/platform"
)

// DefinitionStore persists the component definition catalog.
type DefinitionStore interface {
	CreateDefinition(ctx context.Context, def definition.Definition) (definition.Definition, error)
	UpdateDefinition(ctx context.Context, def definition.Definition) (definition.Definition, error)
	GetDefinition(ctx context.Context, id string) (definition.Definition, error)
	ListDefinitions(ctx context.Context) ([]definition.Definition, error)
	DeleteDefinition(ctx context.Context, id string) error
}

// PlatformStore persists platform aggregates.
type PlatformStore interface {
	CreatePlatform(ctx context.Context, p platform.Platform) (platform.Platform, error)
	UpdatePlatform(ctx context.Context, p platform.Platform) (platform.Platform, error)
	GetPlatform(ctx context.Context, id string) (platform.Platform, error)
	ListPlatforms(ctx context.Context, tenantID string) ([]platform.Platform, error)
}

// LayoutStore persists layouts.
type LayoutStore interface {
	CreateLayout(ctx context.Context, l platform.Layout) (platform.Layout, error)
	UpdateLayout(ctx context.Context, l platform.Layout) (platform.Layout, error)
	GetLayout(ctx context.Context, id string) (platform.Layout, error)
	ListLayouts(ctx context.Context, platformID string) ([]platform.Layout, error)
}

// InstanceSubscription streams the ordered instance set of one layout. Every
// push is a complete authoritative replacement of the previous one.
type InstanceSubscription interface {
	Updates() <-chan []instance.Instance
	Close()
}

// InstanceStore persists placed component instances. ReplaceOrder must commit
// every rank write atomically; UpdateValue merges a single configured property
// without touching siblings.
type InstanceStore interface {
	CreateInstance(ctx context.Context, in instance.Instance) (instance.Instance, error)
	GetInstance(ctx context.Context, id string) (instance.Instance, error)
	UpdateValue(ctx context.Context, id, property string, value any) (instance.Instance, error)
	DeleteInstance(ctx context.Context, id string) error
	ListByLayout(ctx context.Context, layoutID string) ([]instance.Instance, error)
	CountByLayout(ctx context.Context, layoutID string) (int, error)
	ReplaceOrder(ctx context.Context, orders map[string]int) error
	WatchLayout(ctx context.Context, layoutID string) (InstanceSubscription, error)
}
