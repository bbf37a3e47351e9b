package manager

import "time"

// Constants for file permissions
const (
	// DirPermissions defines permissions for directories (0750)
	DirPermissions = 0750

	// PrivateKeyPermissions defines permissions for private key files (0600)
	PrivateKeyPermissions = 0600

	// CertificatePermissions defines permissions for certificate files (0644)
	CertificatePermissions = 0644
)

const (
	// DefaultExpireTimeThreshold is the renewal window in days
	DefaultExpireTimeThreshold = 15

	// DefaultProbePort is the port the live certificate is read from
	DefaultProbePort = "443"

	// DefaultVerifyAttempts bounds the post-deploy verification loop
	DefaultVerifyAttempts = 5
	// DefaultVerifyDelay is the pause between verification attempts
	DefaultVerifyDelay = 2 * time.Second

	// DefaultHTTPTimeout is the default timeout for HTTP requests to the ACME server and provider APIs
	DefaultHTTPTimeout = 30 * time.Second
	// DefaultChallengeTimeout is the default timeout for ACME challenge validation
	DefaultChallengeTimeout = 2 * time.Minute
)

// Account directory layout
const (
	AccountKeyFile    = "account.key"
	AccountURLFile    = "accountUrl"
	DomainCSRFile     = "domain.csr"
	DomainKeyFile     = "domain.key"
	DomainCertFile    = "domain.cer"
	BackupDirName     = "backup"
	BackupStampFormat = "20060102150405.000"
)

// Environments select the ACME directory and the account subtree
const (
	EnvironmentStaging    = "staging"
	EnvironmentProduction = "production"
)

// DefaultReloadCommand restarts the reverse proxy after a filesystem deploy
var DefaultReloadCommand = []string{"systemctl", "restart", "nginx"}
