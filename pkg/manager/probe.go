package manager

import (
	"context"
	"crypto/tls"
	"encoding/pem"
	"fmt"
	"net"
	"time"

	"github.com/oetiker/auto-ssl/pkg/common"
)

// ProbeResult describes the certificate a host currently serves
type ProbeResult struct {
	CertificatePEM []byte
	NotBefore      time.Time
	NotAfter       time.Time
	DNSNames       []string
}

// Prober reads the leaf certificate a host presents over TLS
type Prober interface {
	Probe(ctx context.Context, domain string) (*ProbeResult, error)
}

// TLSProber opens a TLS connection with SNI set to the probed domain. Chain
// validation is skipped so expired or self-signed certificates can still be
// inspected.
type TLSProber struct {
	Timeout time.Duration
	Port    string
	// Address overrides the dialled host:port, the SNI name stays the domain
	Address string
}

// NewTLSProber returns a prober with the default port and timeout
func NewTLSProber() *TLSProber {
	return &TLSProber{Timeout: common.DefaultProbeTimeout, Port: DefaultProbePort}
}

// Probe implements Prober.
func (p *TLSProber) Probe(ctx context.Context, domain string) (*ProbeResult, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = common.DefaultProbeTimeout
	}
	port := p.Port
	if port == "" {
		port = DefaultProbePort
	}
	addr := p.Address
	if addr == "" {
		addr = net.JoinHostPort(domain, port)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config: &tls.Config{
			ServerName:         domain,
			InsecureSkipVerify: true, // #nosec G402 -- only the presented certificate is read
		},
	}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, common.WrapError(err, common.ErrorTypeNetwork, "probe certificate", "TLS handshake failed").
			WithResource(domain).
			AddContext("address", addr)
	}
	defer func() { _ = conn.Close() }()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, common.NewNetworkError("probe certificate", fmt.Sprintf("unexpected connection type %T", conn)).
			WithResource(domain)
	}
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, common.NewNetworkError("probe certificate", "server presented no certificate").
			WithResource(domain)
	}

	leaf := certs[0]
	return &ProbeResult{
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw}),
		NotBefore:      leaf.NotBefore,
		NotAfter:       leaf.NotAfter,
		DNSNames:       leaf.DNSNames,
	}, nil
}

// NeedsRenewal reports whether the probed certificate expires within
// thresholdDays of now, together with the remaining validity.
func NeedsRenewal(result *ProbeResult, thresholdDays int, now time.Time) (bool, time.Duration) {
	remaining := result.NotAfter.Sub(now)
	threshold := time.Duration(thresholdDays) * 24 * time.Hour
	return remaining < threshold, remaining
}
