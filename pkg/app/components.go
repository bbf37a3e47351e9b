package app

import (
	"context"

	"github.com/oetiker/auto-ssl/pkg/common"
	"github.com/oetiker/auto-ssl/pkg/manager"
)

// ComponentFactory builds the real collaborators of each target. API
// clients come from the registry, so entries sharing credentials share
// clients.
type ComponentFactory struct {
	Registry *manager.ClientRegistry
	Names    *manager.CertNameGenerator
	Logger   common.LoggerInterface
}

var _ manager.ComponentFactory = (*ComponentFactory)(nil)

// NewComponentFactory creates a factory over registry
func NewComponentFactory(registry *manager.ClientRegistry, logger common.LoggerInterface) *ComponentFactory {
	return &ComponentFactory{
		Registry: registry,
		Names:    manager.NewCertNameGenerator(),
		Logger:   logger,
	}
}

// ObjectStoreComponents implements manager.ComponentFactory.
func (f *ComponentFactory) ObjectStoreComponents(ctx context.Context, entry *manager.DomainConfig, target *manager.ObjectStoreTarget) (*manager.Components, error) {
	store, err := f.Registry.Store(ctx, target)
	if err != nil {
		return nil, common.NewProviderAPIError(err, "open object store", target.Bucket)
	}
	clients := f.Registry.Provider(target)
	log := f.Logger.With("cn", entry.CommonName)

	return &manager.Components{
		Provisioner: &manager.ObjectStoreProvisioner{Store: store},
		Deployer: &manager.CDNDeployer{
			API:    clients.CDN,
			Names:  f.Names,
			Logger: log,
		},
		Archiver: &manager.CDNArchiver{
			Domains: entry.Domains,
			API:     clients.CDN,
			Keys:    clients.CAS,
			Logger:  log,
		},
	}, nil
}

// FilesystemComponents implements manager.ComponentFactory.
func (f *ComponentFactory) FilesystemComponents(_ context.Context, entry *manager.DomainConfig, target *manager.FilesystemTarget) (*manager.Components, error) {
	log := f.Logger.With("cn", entry.CommonName)
	return &manager.Components{
		Provisioner: &manager.FilesystemProvisioner{WebRoot: target.WebRoot},
		Deployer: &manager.FilesystemDeployer{
			CertPath:   target.CertPath,
			CommonName: entry.CommonName,
			Reloader:   &manager.CommandReloader{Command: target.ReloadCommand},
			Logger:     log,
		},
		Archiver: &manager.FilesystemArchiver{
			CertPath:   target.CertPath,
			CommonName: entry.CommonName,
			Logger:     log,
		},
	}, nil
}
