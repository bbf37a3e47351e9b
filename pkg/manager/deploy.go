package manager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oetiker/auto-ssl/internal/aliyun"
	"github.com/oetiker/auto-ssl/pkg/common"
)

// Deployer installs a certificate chain and key for the given domains
type Deployer interface {
	Deploy(ctx context.Context, domains []string, chainPEM, keyPEM []byte) error
}

// CertificateBinder uploads a certificate and enables it on a CDN domain
type CertificateBinder interface {
	SetDomainServerCertificate(ctx context.Context, req aliyun.SetCertificateRequest) error
}

// CertNameGenerator hands out {domain}-{unixMillis} names. Stamps are
// strictly increasing, so two calls within one millisecond still differ.
type CertNameGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewCertNameGenerator returns a generator driven by the wall clock
func NewCertNameGenerator() *CertNameGenerator {
	return &CertNameGenerator{now: time.Now}
}

// Next returns a fresh certificate name for domain
func (g *CertNameGenerator) Next(domain string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now
	if g.now != nil {
		now = g.now
	}
	stamp := now().UnixMilli()
	if stamp <= g.last {
		stamp = g.last + 1
	}
	g.last = stamp
	return fmt.Sprintf("%s-%d", domain, stamp)
}

// CDNDeployer binds the certificate to every domain through the CDN API.
// A failing domain is logged and skipped, the call fails only when no
// domain could be bound.
type CDNDeployer struct {
	API    CertificateBinder
	Names  *CertNameGenerator
	Logger common.LoggerInterface
}

var _ Deployer = (*CDNDeployer)(nil)

// Deploy implements Deployer.
func (d *CDNDeployer) Deploy(ctx context.Context, domains []string, chainPEM, keyPEM []byte) error {
	var errs []error
	for _, domain := range domains {
		name := d.Names.Next(domain)
		err := d.API.SetDomainServerCertificate(ctx, aliyun.SetCertificateRequest{
			DomainName:        domain,
			CertName:          name,
			ServerCertificate: string(chainPEM),
			PrivateKey:        string(keyPEM),
		})
		if err != nil {
			appErr := common.NewProviderAPIError(err, "bind certificate", domain).AddContext("cert_name", name)
			d.Logger.Warn("Binding certificate failed, continuing with next domain", "domain", domain, "error", appErr)
			errs = append(errs, appErr)
			continue
		}
		d.Logger.Info("Bound certificate to CDN domain", "domain", domain, "cert_name", name)
	}

	if len(domains) > 0 && len(errs) == len(domains) {
		return common.WrapError(errors.Join(errs...), common.ErrorTypeProviderAPI, "deploy certificate",
			"certificate could not be bound to any domain").
			AddContext("domains", domains)
	}
	return nil
}

// Reloader makes a server pick up new certificate files
type Reloader interface {
	Reload(ctx context.Context) error
}

// CommandReloader runs a command, success is judged by its exit code
type CommandReloader struct {
	Command []string
}

// Reload implements Reloader.
func (r *CommandReloader) Reload(ctx context.Context) error {
	command := r.Command
	if len(command) == 0 {
		command = DefaultReloadCommand
	}
	// #nosec G204 -- the command comes from the operator's configuration
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", strings.Join(command, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// FilesystemDeployer writes {cn}.pem and {cn}.key below CertPath and
// reloads the local server
type FilesystemDeployer struct {
	CertPath   string
	CommonName string
	Reloader   Reloader
	Logger     common.LoggerInterface
}

var _ Deployer = (*FilesystemDeployer)(nil)

// CertificateFile returns the path of the deployed chain
func (d *FilesystemDeployer) CertificateFile() string {
	return filepath.Join(d.CertPath, d.CommonName+".pem")
}

// KeyFile returns the path of the deployed key
func (d *FilesystemDeployer) KeyFile() string {
	return filepath.Join(d.CertPath, d.CommonName+".key")
}

// Deploy implements Deployer. A failing reload is only logged.
func (d *FilesystemDeployer) Deploy(ctx context.Context, _ []string, chainPEM, keyPEM []byte) error {
	if err := os.MkdirAll(d.CertPath, DirPermissions); err != nil {
		return common.NewStorageError(err, "create certificate directory", d.CertPath)
	}
	if err := os.WriteFile(d.KeyFile(), keyPEM, PrivateKeyPermissions); err != nil {
		return common.NewStorageError(err, "write private key", d.KeyFile())
	}
	// #nosec G306 -- certificates are public
	if err := os.WriteFile(d.CertificateFile(), chainPEM, CertificatePermissions); err != nil {
		return common.NewStorageError(err, "write certificate", d.CertificateFile())
	}
	d.Logger.Infof("Saved certificate to %s", d.CertificateFile())

	if d.Reloader == nil {
		return nil
	}
	if err := d.Reloader.Reload(ctx); err != nil {
		d.Logger.Warnf("Reloading the web server failed: %v", err)
	}
	return nil
}
