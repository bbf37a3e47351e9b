package app

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oetiker/auto-ssl/pkg/common"
	"github.com/oetiker/auto-ssl/pkg/manager"
)

type mockLogger struct {
	mu            sync.Mutex
	debugMessages []string
	infoMessages  []string
	warnMessages  []string
	errorMessages []string

	// loggers from With write to root and append their tags
	root *mockLogger
	tags string
}

func render(msg string, args []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}

func (m *mockLogger) add(pick func(*mockLogger) *[]string, s string) {
	root := m
	if m.root != nil {
		root = m.root
	}
	root.mu.Lock()
	defer root.mu.Unlock()
	dst := pick(root)
	*dst = append(*dst, s+m.tags)
}

func debugLines(m *mockLogger) *[]string { return &m.debugMessages }
func infoLines(m *mockLogger) *[]string  { return &m.infoMessages }
func warnLines(m *mockLogger) *[]string  { return &m.warnMessages }
func errorLines(m *mockLogger) *[]string { return &m.errorMessages }

func (m *mockLogger) With(args ...interface{}) common.LoggerInterface {
	root := m
	if m.root != nil {
		root = m.root
	}
	return &mockLogger{root: root, tags: m.tags + render("", args)}
}

func (m *mockLogger) Debug(msg string, args ...interface{}) { m.add(debugLines, render(msg, args)) }
func (m *mockLogger) Info(msg string, args ...interface{})  { m.add(infoLines, render(msg, args)) }
func (m *mockLogger) Warn(msg string, args ...interface{})  { m.add(warnLines, render(msg, args)) }
func (m *mockLogger) Error(msg string, args ...interface{}) { m.add(errorLines, render(msg, args)) }
func (m *mockLogger) Debugf(format string, args ...interface{}) {
	m.add(debugLines, fmt.Sprintf(format, args...))
}
func (m *mockLogger) Infof(format string, args ...interface{}) {
	m.add(infoLines, fmt.Sprintf(format, args...))
}
func (m *mockLogger) Warnf(format string, args ...interface{}) {
	m.add(warnLines, fmt.Sprintf(format, args...))
}
func (m *mockLogger) Errorf(format string, args ...interface{}) {
	m.add(errorLines, fmt.Sprintf(format, args...))
}
func (m *mockLogger) Importantf(format string, args ...interface{}) {
	m.add(infoLines, fmt.Sprintf(format, args...))
}

func (m *mockLogger) contains(messages []string, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range messages {
		if strings.Contains(msg, substr) {
			return true
		}
	}
	return false
}

// generateCert creates a self-signed certificate and returns cert and key PEM
func generateCert(t *testing.T, commonName string, dnsNames []string, notAfter time.Time) ([]byte, []byte) {
	t.Helper()

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		t.Fatalf("generating serial: %v", err)
	}
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             notAfter.Add(-90 * 24 * time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("creating certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		t.Fatalf("marshalling key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
}

// servedProber answers with whatever a domain currently serves. A domain
// can be backed by a deployed file, an in-memory value or a fixed error.
type servedProber struct {
	mu     sync.Mutex
	served map[string][]byte
	files  map[string]string
	errs   map[string]error
}

func newServedProber() *servedProber {
	return &servedProber{served: map[string][]byte{}, files: map[string]string{}, errs: map[string]error{}}
}

func (p *servedProber) set(domain string, certPEM []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.served[domain] = certPEM
}

func (p *servedProber) Probe(_ context.Context, domain string) (*manager.ProbeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.errs[domain]; err != nil {
		return nil, err
	}
	certPEM := p.served[domain]
	if path, ok := p.files[domain]; ok {
		if data, err := os.ReadFile(path); err == nil {
			certPEM = data
		}
	}
	if certPEM == nil {
		return nil, errors.New("connection refused")
	}
	cert, err := manager.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	return &manager.ProbeResult{
		CertificatePEM: certPEM,
		NotBefore:      cert.NotBefore,
		NotAfter:       cert.NotAfter,
		DNSNames:       cert.DNSNames,
	}, nil
}

// fakeIssuer plays the certificate authority. It publishes a challenge
// through the provisioner and asks check to confirm it is reachable.
type fakeIssuer struct {
	t        *testing.T
	mu       sync.Mutex
	requests []manager.IssueRequest
	check    func(token, keyAuth string) error
	onIssue  func(ctx context.Context) error
	err      error
}

func (i *fakeIssuer) Issue(ctx context.Context, req manager.IssueRequest) (*manager.IssueResult, error) {
	i.mu.Lock()
	i.requests = append(i.requests, req)
	i.mu.Unlock()
	if i.err != nil {
		return nil, i.err
	}
	if i.onIssue != nil {
		if err := i.onIssue(ctx); err != nil {
			return nil, err
		}
	}

	token := fmt.Sprintf("token-%d", len(i.requests))
	keyAuth := token + ".thumbprint"
	if err := req.Provisioner.CreateChallenge(ctx, token, keyAuth); err != nil {
		return nil, err
	}
	if i.check != nil {
		if err := i.check(token, keyAuth); err != nil {
			return nil, err
		}
	}
	if err := req.Provisioner.RemoveChallenge(ctx, token); err != nil {
		return nil, err
	}

	domains := []string{req.CommonName}
	for _, d := range req.Domains {
		if d != req.CommonName {
			domains = append(domains, d)
		}
	}
	chain, key := generateCert(i.t, req.CommonName, domains, time.Now().Add(90*24*time.Hour))
	accountURL := req.Credential.AccountURL
	if accountURL == "" {
		accountURL = "https://acme.test/acct/1"
	}
	return &manager.IssueResult{
		Bundle:     manager.CertificateBundle{CSR: []byte("csr"), PrivateKey: key, CertificateChain: chain},
		AccountURL: accountURL,
	}, nil
}

func (i *fakeIssuer) calls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.requests)
}

// memoryStore is an in-memory bucket
type memoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    []string
}

func newMemoryStore() *memoryStore { return &memoryStore{objects: map[string][]byte{}} }

func (s *memoryStore) Put(_ context.Context, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), body...)
	s.puts = append(s.puts, key)
	return nil
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.objects[key]
	if !ok {
		return nil, manager.ErrObjectNotFound
	}
	return body, nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// stubFactory hands out fixed components, optionally per common name
type stubFactory struct {
	components *manager.Components
	byName     map[string]*manager.Components
	err        error
	panicMsg   string
}

func (f *stubFactory) lookup(entry *manager.DomainConfig) (*manager.Components, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if c, ok := f.byName[entry.CommonName]; ok {
		return c, nil
	}
	return f.components, f.err
}

func (f *stubFactory) ObjectStoreComponents(_ context.Context, entry *manager.DomainConfig, _ *manager.ObjectStoreTarget) (*manager.Components, error) {
	return f.lookup(entry)
}

func (f *stubFactory) FilesystemComponents(_ context.Context, entry *manager.DomainConfig, _ *manager.FilesystemTarget) (*manager.Components, error) {
	return f.lookup(entry)
}

type failingDeployer struct{ err error }

func (d *failingDeployer) Deploy(context.Context, []string, []byte, []byte) error { return d.err }

type noBackup struct{}

func (noBackup) Backup(context.Context, string) (*manager.BackupRecord, error) { return nil, nil }

type nopProvisioner struct{}

func (nopProvisioner) CreateChallenge(context.Context, string, string) error { return nil }
func (nopProvisioner) RemoveChallenge(context.Context, string) error         { return nil }
