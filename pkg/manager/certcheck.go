package manager

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// ParseCertificatePEM parses the first certificate of a PEM chain
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	der := firstCertificateDER(data)
	if der == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// MissingDomains returns the requested domains the certificate does not
// cover. Wildcard SANs count.
func MissingDomains(cert *x509.Certificate, requestedDomains []string) []string {
	var missing []string
	for _, domain := range requestedDomains {
		if err := cert.VerifyHostname(domain); err != nil {
			missing = append(missing, domain)
		}
	}
	return missing
}

// firstCertificateDER returns the DER bytes of the first CERTIFICATE block
func firstCertificateDER(data []byte) []byte {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil
		}
		if block.Type == "CERTIFICATE" {
			return block.Bytes
		}
	}
}
