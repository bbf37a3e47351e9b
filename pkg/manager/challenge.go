package manager

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/http01"

	"github.com/oetiker/auto-ssl/pkg/common"
)

// ChallengeProvisioner publishes and withdraws HTTP-01 responses
type ChallengeProvisioner interface {
	CreateChallenge(ctx context.Context, token, keyAuth string) error
	RemoveChallenge(ctx context.Context, token string) error
}

// ChallengeKey returns the object key / relative path of a token's response
func ChallengeKey(token string) string {
	return strings.TrimPrefix(http01.ChallengePath(token), "/")
}

// ObjectStoreProvisioner serves challenges from a bucket whose root is the
// web root of the validated domains.
type ObjectStoreProvisioner struct {
	Store ObjectStore
}

// CreateChallenge implements ChallengeProvisioner.
func (p *ObjectStoreProvisioner) CreateChallenge(ctx context.Context, token, keyAuth string) error {
	key := ChallengeKey(token)
	if err := p.Store.Put(ctx, key, []byte(keyAuth)); err != nil {
		return common.NewProviderAPIError(err, "create challenge", key)
	}
	return nil
}

// RemoveChallenge implements ChallengeProvisioner. Removing an absent
// object is not an error.
func (p *ObjectStoreProvisioner) RemoveChallenge(ctx context.Context, token string) error {
	key := ChallengeKey(token)
	if err := p.Store.Delete(ctx, key); err != nil {
		return common.NewProviderAPIError(err, "remove challenge", key)
	}
	return nil
}

// FilesystemProvisioner writes challenge files below a local web root
type FilesystemProvisioner struct {
	WebRoot string
}

func (p *FilesystemProvisioner) path(token string) string {
	return filepath.Join(p.WebRoot, filepath.FromSlash(ChallengeKey(token)))
}

// CreateChallenge implements ChallengeProvisioner.
func (p *FilesystemProvisioner) CreateChallenge(_ context.Context, token, keyAuth string) error {
	path := p.path(token)
	if err := os.MkdirAll(filepath.Dir(path), DirPermissions); err != nil {
		return common.NewStorageError(err, "create challenge directory", filepath.Dir(path))
	}
	// #nosec G306 -- the web server must be able to read the response
	if err := os.WriteFile(path, []byte(keyAuth), CertificatePermissions); err != nil {
		return common.NewStorageError(err, "create challenge", path)
	}
	return nil
}

// RemoveChallenge implements ChallengeProvisioner.
func (p *FilesystemProvisioner) RemoveChallenge(_ context.Context, token string) error {
	path := p.path(token)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return common.NewStorageError(err, "remove challenge", path)
	}
	return nil
}

// legoProvider adapts a ChallengeProvisioner to lego's HTTP-01 provider
type legoProvider struct {
	ctx         context.Context
	provisioner ChallengeProvisioner
	logger      common.LoggerInterface
}

var _ challenge.Provider = (*legoProvider)(nil)

// Present implements challenge.Provider.
func (p *legoProvider) Present(domain, token, keyAuth string) error {
	p.logger.Debugf("Presenting HTTP-01 challenge for %s at %s", domain, ChallengeKey(token))
	return p.provisioner.CreateChallenge(p.ctx, token, keyAuth)
}

// CleanUp implements challenge.Provider.
func (p *legoProvider) CleanUp(domain, token, _ string) error {
	p.logger.Debugf("Removing HTTP-01 challenge for %s", domain)
	return p.provisioner.RemoveChallenge(p.ctx, token)
}
