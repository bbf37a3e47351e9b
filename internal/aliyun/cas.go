package aliyun

import "context"

const (
	casEndpoint = "https://cas.aliyuncs.com"
	casVersion  = "2018-07-13"
)

// CAS wraps the certificate management service
type CAS struct {
	client *Client
}

// NewCAS creates a CAS client
func NewCAS(creds Credentials, opts ...Option) *CAS {
	return &CAS{client: NewClient(casEndpoint, casVersion, creds, opts...)}
}

// UserCertificateDetail is a certificate held by CAS, key included
type UserCertificateDetail struct {
	ID   int64  `json:"Id"`
	Name string `json:"Name"`
	Cert string `json:"Cert"`
	Key  string `json:"Key"`
}

// DescribeUserCertificateDetail reads a certificate with its private key
func (c *CAS) DescribeUserCertificateDetail(ctx context.Context, certID int64) (*UserCertificateDetail, error) {
	var detail UserCertificateDetail
	if err := c.client.Call(ctx, "DescribeUserCertificateDetail", map[string]string{
		"CertId": FormatCertID(certID),
	}, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}
