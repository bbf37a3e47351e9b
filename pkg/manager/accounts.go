package manager

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/go-acme/lego/v4/certcrypto"

	"github.com/oetiker/auto-ssl/pkg/common"
)

// AccountCredential is the ACME account of one common name. An empty
// AccountURL means the account has not been registered yet.
type AccountCredential struct {
	PrivateKey []byte
	AccountURL string
}

// Registered reports whether the credential carries an account URL
func (c *AccountCredential) Registered() bool {
	return c.AccountURL != ""
}

// KeyGenerator returns a new PEM encoded account key
type KeyGenerator func() ([]byte, error)

// GenerateAccountKey creates an EC P-256 account key
func GenerateAccountKey() ([]byte, error) {
	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return nil, fmt.Errorf("generating account key: %w", err)
	}
	return certcrypto.PEMEncode(key), nil
}

// AccountStore keeps ACME accounts and issued material below
// {BaseDir}/{environment}/{commonName}/
type AccountStore struct {
	BaseDir      string
	KeyGenerator KeyGenerator
	Logger       common.LoggerInterface
}

// NewAccountStore returns a store generating EC P-256 keys
func NewAccountStore(baseDir string, logger common.LoggerInterface) *AccountStore {
	return &AccountStore{BaseDir: baseDir, KeyGenerator: GenerateAccountKey, Logger: logger}
}

// AccountDir returns the directory of a common name in an environment
func (s *AccountStore) AccountDir(env, commonName string) string {
	return filepath.Join(s.BaseDir, env, commonName)
}

// Load returns the stored credential. When either file is missing both
// are removed and a fresh, unregistered credential is returned.
func (s *AccountStore) Load(env, commonName string) (*AccountCredential, error) {
	dir := s.AccountDir(env, commonName)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return nil, common.NewStorageError(err, "create account directory", dir)
	}

	keyPath := filepath.Join(dir, AccountKeyFile)
	urlPath := filepath.Join(dir, AccountURLFile)

	key, keyErr := os.ReadFile(keyPath)
	url, urlErr := os.ReadFile(urlPath)
	if keyErr == nil && urlErr == nil {
		s.Logger.Infof("Using existing ACME account for %s", commonName)
		return &AccountCredential{PrivateKey: key, AccountURL: string(url)}, nil
	}
	for _, err := range []error{keyErr, urlErr} {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, common.NewStorageError(err, "read account", dir)
		}
	}

	s.Logger.Infof("Discarding incomplete account files for %s", commonName)
	for _, path := range []string{keyPath, urlPath} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, common.NewStorageError(err, "remove stale account file", path)
		}
	}

	generate := s.KeyGenerator
	if generate == nil {
		generate = GenerateAccountKey
	}
	s.Logger.Infof("Creating new account key for %s", commonName)
	key, err := generate()
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeIssuance, "create account key", "cannot generate account key").
			WithResource(commonName)
	}
	return &AccountCredential{PrivateKey: key}, nil
}

// Save persists the credential after a successful issuance
func (s *AccountStore) Save(env, commonName string, cred *AccountCredential) error {
	dir := s.AccountDir(env, commonName)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return common.NewStorageError(err, "create account directory", dir)
	}
	files := []struct {
		name string
		data []byte
	}{
		{AccountURLFile, []byte(cred.AccountURL)},
		{AccountKeyFile, cred.PrivateKey},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, PrivateKeyPermissions); err != nil {
			return common.NewStorageError(err, "save account", path)
		}
	}
	return nil
}

// SaveBundle keeps the latest CSR, key and chain next to the account
func (s *AccountStore) SaveBundle(env, commonName string, bundle *CertificateBundle) error {
	dir := s.AccountDir(env, commonName)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return common.NewStorageError(err, "create account directory", dir)
	}
	files := []struct {
		name string
		data []byte
		perm os.FileMode
	}{
		{DomainCSRFile, bundle.CSR, CertificatePermissions},
		{DomainKeyFile, bundle.PrivateKey, PrivateKeyPermissions},
		{DomainCertFile, bundle.CertificateChain, CertificatePermissions},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, f.perm); err != nil {
			return common.NewStorageError(err, "save certificate bundle", path)
		}
	}
	s.Logger.Debugf("Saved certificate bundle for %s to %s", commonName, dir)
	return nil
}
