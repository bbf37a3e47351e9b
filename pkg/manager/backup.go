package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oetiker/auto-ssl/internal/aliyun"
	"github.com/oetiker/auto-ssl/pkg/common"
)

// BackupEntry is one certificate and key pair about to be replaced
type BackupEntry struct {
	ServerCertificate string `json:"serverCertificate"`
	Key               string `json:"key"`
}

// BackupRecord describes a written snapshot file
type BackupRecord struct {
	Path    string
	Entries []BackupEntry
}

// Archiver snapshots the currently deployed material into accountDir.
// A nil record means there was nothing to back up.
type Archiver interface {
	Backup(ctx context.Context, accountDir string) (*BackupRecord, error)
}

// CertificateLookup resolves the certificate currently bound to a domain
type CertificateLookup interface {
	DescribeDomainCertificateInfo(ctx context.Context, domain string) ([]aliyun.CertInfo, error)
	DescribeCdnCertificateDetail(ctx context.Context, certName string) (*aliyun.CertificateDetail, error)
}

// KeyRetriever reads the private key of a certificate by id
type KeyRetriever interface {
	DescribeUserCertificateDetail(ctx context.Context, certID int64) (*aliyun.UserCertificateDetail, error)
}

// CDNArchiver backs up the certificates bound to CDN domains. The CDN
// detail call does not return the key, so it is fetched from CAS by id.
type CDNArchiver struct {
	Domains []string
	API     CertificateLookup
	Keys    KeyRetriever
	Logger  common.LoggerInterface
	Now     func() time.Time
}

var _ Archiver = (*CDNArchiver)(nil)

// Backup implements Archiver. Domains whose lookup fails are left out.
func (a *CDNArchiver) Backup(ctx context.Context, accountDir string) (*BackupRecord, error) {
	var entries []BackupEntry
	for _, domain := range a.Domains {
		entry, err := a.lookup(ctx, domain)
		if err != nil {
			a.Logger.Warn("Skipping backup of domain", "domain", domain, "error", err)
			continue
		}
		entries = append(entries, *entry)
	}
	return writeBackup(accountDir, entries, nowOr(a.Now))
}

func (a *CDNArchiver) lookup(ctx context.Context, domain string) (*BackupEntry, error) {
	infos, err := a.API.DescribeDomainCertificateInfo(ctx, domain)
	if err != nil {
		return nil, common.NewLookupError(err, "describe domain certificate", domain)
	}
	var certName string
	for _, info := range infos {
		if info.CertName != "" {
			certName = info.CertName
			break
		}
	}
	if certName == "" {
		return nil, common.NewLookupError(errors.New("no certificate bound"), "describe domain certificate", domain)
	}

	detail, err := a.API.DescribeCdnCertificateDetail(ctx, certName)
	if err != nil {
		return nil, common.NewLookupError(err, "describe certificate detail", domain).AddContext("cert_name", certName)
	}

	key, err := a.Keys.DescribeUserCertificateDetail(ctx, detail.CertID)
	if err != nil {
		return nil, common.NewLookupError(err, "read certificate key", domain).AddContext("cert_id", detail.CertID)
	}

	a.Logger.Debug("Resolved current certificate", "domain", domain, "cert_name", certName, "cert_id", detail.CertID)
	return &BackupEntry{ServerCertificate: detail.Cert, Key: key.Key}, nil
}

// FilesystemArchiver backs up the files a FilesystemDeployer wrote
type FilesystemArchiver struct {
	CertPath   string
	CommonName string
	Logger     common.LoggerInterface
	Now        func() time.Time
}

var _ Archiver = (*FilesystemArchiver)(nil)

// Backup implements Archiver. Missing files mean first issuance.
func (a *FilesystemArchiver) Backup(_ context.Context, accountDir string) (*BackupRecord, error) {
	certFile := filepath.Join(a.CertPath, a.CommonName+".pem")
	keyFile := filepath.Join(a.CertPath, a.CommonName+".key")

	cert, err := os.ReadFile(certFile)
	if errors.Is(err, fs.ErrNotExist) {
		a.Logger.Infof("No deployed certificate at %s, nothing to back up", certFile)
		return nil, nil
	}
	if err != nil {
		return nil, common.NewStorageError(err, "read deployed certificate", certFile)
	}
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, common.NewStorageError(err, "read deployed key", keyFile)
	}

	return writeBackup(accountDir, []BackupEntry{{ServerCertificate: string(cert), Key: string(key)}}, nowOr(a.Now))
}

// BackupFileName returns the snapshot name for t in UTC. Names sort by time.
func BackupFileName(t time.Time) string {
	return strings.ReplaceAll(t.UTC().Format(BackupStampFormat), ".", "") + ".json"
}

func writeBackup(accountDir string, entries []BackupEntry, now time.Time) (*BackupRecord, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	dir := filepath.Join(accountDir, BackupDirName)
	if err := os.MkdirAll(dir, DirPermissions); err != nil {
		return nil, common.NewStorageError(err, "create backup directory", dir)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling backup: %w", err)
	}

	path := filepath.Join(dir, BackupFileName(now))
	if err := os.WriteFile(path, data, PrivateKeyPermissions); err != nil {
		return nil, common.NewStorageError(err, "write backup", path)
	}
	return &BackupRecord{Path: path, Entries: entries}, nil
}

func nowOr(now func() time.Time) time.Time {
	if now != nil {
		return now()
	}
	return time.Now()
}
