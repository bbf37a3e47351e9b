package manager

import (
	"context"
	"crypto"
	"crypto/x509"
	"net/http"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"

	"github.com/oetiker/auto-ssl/pkg/common"
)

// CertificateBundle is the material produced by one issuance
type CertificateBundle struct {
	CSR              []byte
	PrivateKey       []byte
	CertificateChain []byte
}

// IssueRequest carries everything one issuance needs
type IssueRequest struct {
	Environment string
	CommonName  string
	Domains     []string
	Credential  *AccountCredential
	Provisioner ChallengeProvisioner
}

// IssueResult is a successful issuance. AccountURL is the (possibly newly
// registered) account the certificate was ordered with.
type IssueResult struct {
	Bundle     CertificateBundle
	AccountURL string
}

// Issuer obtains certificates from an ACME authority
type Issuer interface {
	Issue(ctx context.Context, req IssueRequest) (*IssueResult, error)
}

// DirectoryURL returns the Let's Encrypt directory of an environment
func DirectoryURL(env string) string {
	if env == EnvironmentProduction {
		return lego.LEDirectoryProduction
	}
	return lego.LEDirectoryStaging
}

// acmeUser implements lego's registration.User
type acmeUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *acmeUser) GetEmail() string                        { return u.email }
func (u *acmeUser) GetRegistration() *registration.Resource { return u.registration }
func (u *acmeUser) GetPrivateKey() crypto.PrivateKey        { return u.key }

// LegoIssuer drives lego through an HTTP-01 order
type LegoIssuer struct {
	// DirectoryURL overrides the environment's directory, e.g. for pebble
	DirectoryURL     string
	Email            string
	CertKeyType      certcrypto.KeyType
	HTTPTimeout      time.Duration
	ChallengeTimeout time.Duration
	HTTPClient       *http.Client
	Logger           common.LoggerInterface
}

var _ Issuer = (*LegoIssuer)(nil)

// Issue implements Issuer.
func (i *LegoIssuer) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.GetContextError(ctx, "issue certificate")
	}
	if len(req.Domains) == 0 {
		return nil, common.NewValidationError("issue certificate", "no domains to issue for")
	}

	accountKey, err := certcrypto.ParsePEMPrivateKey(req.Credential.PrivateKey)
	if err != nil {
		return nil, common.NewIssuanceError(err, "parse account key").WithResource(req.CommonName)
	}
	user := &acmeUser{email: i.Email, key: accountKey}
	if req.Credential.Registered() {
		user.registration = &registration.Resource{URI: req.Credential.AccountURL}
	}

	legoConfig := lego.NewConfig(user)
	legoConfig.CADirURL = i.DirectoryURL
	if legoConfig.CADirURL == "" {
		legoConfig.CADirURL = DirectoryURL(req.Environment)
	}
	legoConfig.Certificate.Timeout = durationOr(i.ChallengeTimeout, DefaultChallengeTimeout)
	if i.HTTPClient != nil {
		own := *i.HTTPClient
		legoConfig.HTTPClient = &own
	}
	legoConfig.HTTPClient.Timeout = durationOr(i.HTTPTimeout, DefaultHTTPTimeout)
	log := i.Logger.With("cn", req.CommonName)

	log.Infof("Initializing ACME client for %s (%s)", req.CommonName, legoConfig.CADirURL)
	client, err := lego.NewClient(legoConfig)
	if err != nil {
		return nil, common.NewIssuanceError(err, "create ACME client").WithResource(req.CommonName)
	}

	provider := &legoProvider{ctx: ctx, provisioner: req.Provisioner, logger: log}
	if err := client.Challenge.SetHTTP01Provider(provider); err != nil {
		return nil, common.NewIssuanceError(err, "set HTTP-01 provider").WithResource(req.CommonName)
	}

	if user.registration == nil {
		log.Info("No existing ACME registration found. Registering...")
		reg, err := client.Registration.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
		if err != nil {
			return nil, common.NewIssuanceError(err, "register account").WithResource(req.CommonName)
		}
		user.registration = reg
		log.Infof("Registered ACME account %s", reg.URI)
	}

	keyType := i.CertKeyType
	if keyType == "" {
		keyType = certcrypto.RSA2048
	}
	certKey, err := certcrypto.GeneratePrivateKey(keyType)
	if err != nil {
		return nil, common.NewIssuanceError(err, "generate certificate key").WithResource(req.CommonName)
	}
	csr, err := buildCSR(certKey, req.CommonName, req.Domains)
	if err != nil {
		return nil, common.NewIssuanceError(err, "create CSR").WithResource(req.CommonName)
	}

	log.Infof("Requesting certificate for %v", req.Domains)
	resource, err := client.Certificate.ObtainForCSR(certificate.ObtainForCSRRequest{
		CSR:    csr,
		Bundle: true,
	})
	if err != nil {
		return nil, common.NewIssuanceError(err, "obtain certificate").
			WithResource(req.CommonName).
			AddContext("domains", req.Domains)
	}

	return &IssueResult{
		Bundle: CertificateBundle{
			CSR:              certcrypto.PEMEncode(csr),
			PrivateKey:       certcrypto.PEMEncode(certKey),
			CertificateChain: resource.Certificate,
		},
		AccountURL: user.registration.URI,
	}, nil
}

// buildCSR creates a request with the common name as subject and every
// domain as SAN
func buildCSR(key crypto.PrivateKey, commonName string, domains []string) (*x509.CertificateRequest, error) {
	san := append([]string{}, domains...)
	if !contains(san, commonName) {
		san = append([]string{commonName}, san...)
	}
	der, err := certcrypto.GenerateCSR(key, commonName, san, false)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificateRequest(der)
}

// contains checks if a string is in a slice
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
