package manager

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oetiker/auto-ssl/pkg/common"
)

// mockLogger records messages per level
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
	if len(args) == 0 {
		return msg
	}
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

func (m *mockLogger) warnings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.warnMessages...)
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

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}
