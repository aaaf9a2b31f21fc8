package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	storageconfig "github.com/tigerroll/chunkflow/pkg/batch/adapter/storage/config"
	config "github.com/tigerroll/chunkflow/pkg/batch/core/config"
	"github.com/tigerroll/chunkflow/pkg/batch/support/util/logger"
)

// OpenFunc creates a connection from its configuration.
type OpenFunc func(cfg storageconfig.StorageConfig, name string) (StorageConnection, error)

// BaseProvider opens connections of one storage type with open and caches
// them by name.
type BaseProvider struct {
	cfg         *config.Config
	storageType string
	open        OpenFunc
	connections map[string]StorageConnection
	mu          sync.Mutex
}

var _ StorageProvider = (*BaseProvider)(nil)

func NewBaseProvider(cfg *config.Config, storageType string, open OpenFunc) *BaseProvider {
	return &BaseProvider{
		cfg:         cfg,
		storageType: storageType,
		open:        open,
		connections: make(map[string]StorageConnection),
	}
}

func (p *BaseProvider) Type() string {
	return p.storageType
}

func (p *BaseProvider) GetConnection(name string) (StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}
	return p.connect(name)
}

func (p *BaseProvider) ForceReconnect(name string) (StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.connections[name]; ok {
		if err := existing.Close(); err != nil {
			logger.Warnf("Failed to close storage connection '%s' before reconnect: %v", name, err)
		}
		delete(p.connections, name)
	}
	return p.connect(name)
}

func (p *BaseProvider) connect(name string) (StorageConnection, error) {
	storageCfg, ok := p.cfg.Chunkflow.Storage[name]
	if !ok {
		return nil, fmt.Errorf("storage configuration '%s' not found", name)
	}
	if storageCfg.Type != p.storageType {
		return nil, fmt.Errorf("storage config type mismatch for '%s': expected '%s', got '%s'", name, p.storageType, storageCfg.Type)
	}
	conn, err := p.open(storageCfg, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage '%s': %w", p.storageType, name, err)
	}
	p.connections[name] = conn
	logger.Infof("Established storage connection: %s (%s)", name, p.storageType)
	return conn, nil
}

func (p *BaseProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

// Resolver picks the provider by the configured type of a storage name.
type Resolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

var _ StorageConnectionResolver = (*Resolver)(nil)

// ResolverParams collects the providers of the storage_providers group.
type ResolverParams struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}

func NewResolverFromGroup(p ResolverParams) *Resolver {
	return NewResolver(p.Cfg, p.Providers...)
}

// NewResolver builds a resolver without fx.
func NewResolver(cfg *config.Config, providers ...StorageProvider) *Resolver {
	byType := make(map[string]StorageProvider, len(providers))
	for _, provider := range providers {
		byType[provider.Type()] = provider
	}
	return &Resolver{providers: byType, cfg: cfg}
}

func (r *Resolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	storageCfg, ok := r.cfg.Chunkflow.Storage[name]
	if !ok {
		return nil, fmt.Errorf("storage connection '%s' not found in configuration", name)
	}
	provider, ok := r.providers[storageCfg.Type]
	if !ok {
		return nil, fmt.Errorf("no storage provider for type '%s' (connection '%s')", storageCfg.Type, name)
	}
	return provider.GetConnection(name)
}

// CloseAll closes the connections of every provider.
func (r *Resolver) CloseAll() error {
	var result *multierror.Error
	for _, p := range r.providers {
		if err := p.CloseAll(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// Module provides the resolver over the storage_providers group. Backend
// modules (local, gcs, s3) contribute the providers.
var Module = fx.Options(
	fx.Provide(NewResolverFromGroup),
	fx.Provide(func(r *Resolver) StorageConnectionResolver { return r }),
	fx.Invoke(func(lc fx.Lifecycle, r *Resolver) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error { return r.CloseAll() },
		})
	}),
)
