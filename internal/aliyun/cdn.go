package aliyun

import (
	"context"
	"strconv"
)

const (
	cdnEndpoint = "https://cdn.aliyuncs.com"
	cdnVersion  = "2018-05-10"
)

// CDN wraps the CDN certificate APIs
type CDN struct {
	client *Client
}

// NewCDN creates a CDN client
func NewCDN(creds Credentials, opts ...Option) *CDN {
	return &CDN{client: NewClient(cdnEndpoint, cdnVersion, creds, opts...)}
}

// SetCertificateRequest uploads and enables a certificate for a domain
type SetCertificateRequest struct {
	DomainName        string
	CertName          string
	ServerCertificate string
	PrivateKey        string
}

// SetDomainServerCertificate binds an uploaded certificate to a CDN domain
func (c *CDN) SetDomainServerCertificate(ctx context.Context, req SetCertificateRequest) error {
	return c.client.Call(ctx, "SetDomainServerCertificate", map[string]string{
		"DomainName":              req.DomainName,
		"CertName":                req.CertName,
		"CertType":                "upload",
		"ServerCertificateStatus": "on",
		"ServerCertificate":       req.ServerCertificate,
		"PrivateKey":              req.PrivateKey,
	}, nil)
}

// CertInfo is one certificate bound to a CDN domain
type CertInfo struct {
	DomainName string `json:"DomainName"`
	CertName   string `json:"CertName"`
	CertType   string `json:"CertType"`
	Status     string `json:"ServerCertificateStatus"`
}

type describeDomainCertificateInfoResponse struct {
	RequestID string `json:"RequestId"`
	CertInfos struct {
		CertInfo []CertInfo `json:"CertInfo"`
	} `json:"CertInfos"`
}

// DescribeDomainCertificateInfo lists the certificates bound to a domain
func (c *CDN) DescribeDomainCertificateInfo(ctx context.Context, domain string) ([]CertInfo, error) {
	var resp describeDomainCertificateInfoResponse
	if err := c.client.Call(ctx, "DescribeDomainCertificateInfo", map[string]string{
		"DomainName": domain,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.CertInfos.CertInfo, nil
}

// CertificateDetail is a certificate stored by the CDN. Key is documented
// but not filled in by the service, use CAS to read the key.
type CertificateDetail struct {
	CertID   int64  `json:"CertId"`
	CertName string `json:"CertName"`
	Cert     string `json:"Cert"`
	Key      string `json:"Key"`
}

// DescribeCdnCertificateDetail resolves a certificate name
func (c *CDN) DescribeCdnCertificateDetail(ctx context.Context, certName string) (*CertificateDetail, error) {
	var detail CertificateDetail
	if err := c.client.Call(ctx, "DescribeCdnCertificateDetail", map[string]string{
		"CertName": certName,
	}, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FormatCertID renders a certificate id the way the APIs expect it
func FormatCertID(id int64) string {
	return strconv.FormatInt(id, 10)
}
