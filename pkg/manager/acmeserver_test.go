package manager

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// jwsEnvelope is the flattened JWS serialization lego posts
type jwsEnvelope struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// jwsHeader holds the protected header fields the server looks at
type jwsHeader struct {
	Nonce string          `json:"nonce"`
	URL   string          `json:"url"`
	Kid   string          `json:"kid"`
	JWK   json.RawMessage `json:"jwk"`
}

// acmePost is a decoded POST to the server
type acmePost struct {
	path    string
	header  jwsHeader
	payload []byte
}

// acmeServer is a minimal RFC 8555 server. It trusts every signature and
// validates an HTTP-01 challenge by asking published for the key
// authorization of the token.
type acmeServer struct {
	t         *testing.T
	server    *httptest.Server
	published func(token string) (string, bool)

	caKey  *ecdsa.PrivateKey
	caCert *x509.Certificate
	caPEM  []byte

	mu          sync.Mutex
	nonce       int
	posts       []acmePost
	identifiers []string
	chainPEM    []byte
	csr         *x509.CertificateRequest
}

func newACMEServer(t *testing.T, published func(token string) (string, bool)) *acmeServer {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test ACME CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	caCert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}

	s := &acmeServer{
		t:         t,
		published: published,
		caKey:     key,
		caCert:    caCert,
		caPEM:     pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
	s.server = httptest.NewServer(s)
	t.Cleanup(s.server.Close)
	return s
}

func (s *acmeServer) url(path string) string { return s.server.URL + path }

func (s *acmeServer) directoryURL() string { return s.url("/directory") }

// receivedCSR returns the request the last order was finalized with
func (s *acmeServer) receivedCSR() *x509.CertificateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.csr
}

// postsTo returns the decoded posts whose path starts with prefix
func (s *acmeServer) postsTo(prefix string) []acmePost {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []acmePost
	for _, p := range s.posts {
		if strings.HasPrefix(p.path, prefix) {
			out = append(out, p)
		}
	}
	return out
}

func (s *acmeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.nonce++
	w.Header().Set("Replay-Nonce", "nonce-"+strconv.Itoa(s.nonce))
	s.mu.Unlock()

	if r.URL.Path == "/directory" {
		s.writeJSON(w, http.StatusOK, map[string]string{
			"newNonce":   s.url("/new-nonce"),
			"newAccount": s.url("/new-account"),
			"newOrder":   s.url("/new-order"),
			"revokeCert": s.url("/revoke-cert"),
			"keyChange":  s.url("/key-change"),
		})
		return
	}
	if r.URL.Path == "/new-nonce" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "unexpected method", http.StatusMethodNotAllowed)
		return
	}

	post, err := decodePost(r)
	if err != nil {
		s.problem(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}
	s.mu.Lock()
	s.posts = append(s.posts, post)
	s.mu.Unlock()

	switch {
	case post.path == "/new-account":
		w.Header().Set("Location", s.url("/acct/1"))
		s.writeJSON(w, http.StatusCreated, map[string]interface{}{"status": "valid", "contact": []string{}})
	case post.path == "/new-order":
		s.newOrder(w, post)
	case strings.HasPrefix(post.path, "/authz/"):
		s.authorization(w, post.path)
	case strings.HasPrefix(post.path, "/chall/"):
		s.challenge(w, post.path)
	case post.path == "/finalize":
		s.finalize(w, post)
	case post.path == "/cert":
		s.mu.Lock()
		chain := s.chainPEM
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/pem-certificate-chain")
		_, _ = w.Write(chain)
	default:
		s.problem(w, http.StatusNotFound, "malformed", "unknown resource "+post.path)
	}
}

func decodePost(r *http.Request) (acmePost, error) {
	var env jwsEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		return acmePost{}, err
	}
	rawHeader, err := base64.RawURLEncoding.DecodeString(env.Protected)
	if err != nil {
		return acmePost{}, err
	}
	var header jwsHeader
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return acmePost{}, err
	}
	payload, err := base64.RawURLEncoding.DecodeString(env.Payload)
	if err != nil {
		return acmePost{}, err
	}
	return acmePost{path: r.URL.Path, header: header, payload: payload}, nil
}

func (s *acmeServer) newOrder(w http.ResponseWriter, post acmePost) {
	var req struct {
		Identifiers []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"identifiers"`
	}
	if err := json.Unmarshal(post.payload, &req); err != nil {
		s.problem(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}
	var authz []string
	s.mu.Lock()
	s.identifiers = nil
	for i, id := range req.Identifiers {
		s.identifiers = append(s.identifiers, id.Value)
		authz = append(authz, s.url(fmt.Sprintf("/authz/%d", i)))
	}
	s.mu.Unlock()

	w.Header().Set("Location", s.url("/order/1"))
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"status":         "pending",
		"identifiers":    req.Identifiers,
		"authorizations": authz,
		"finalize":       s.url("/finalize"),
	})
}

func (s *acmeServer) index(path, prefix string) (int, string, bool) {
	i, err := strconv.Atoi(strings.TrimPrefix(path, prefix))
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil || i < 0 || i >= len(s.identifiers) {
		return 0, "", false
	}
	return i, s.identifiers[i], true
}

func (s *acmeServer) challengeObject(i int, status string) map[string]interface{} {
	return map[string]interface{}{
		"type":   "http-01",
		"status": status,
		"url":    s.url(fmt.Sprintf("/chall/%d", i)),
		"token":  fmt.Sprintf("token-%d", i),
	}
}

func (s *acmeServer) authorization(w http.ResponseWriter, path string) {
	i, domain, ok := s.index(path, "/authz/")
	if !ok {
		s.problem(w, http.StatusNotFound, "malformed", "unknown authorization")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "pending",
		"identifier": map[string]string{"type": "dns", "value": domain},
		"challenges": []interface{}{s.challengeObject(i, "pending")},
	})
}

func (s *acmeServer) challenge(w http.ResponseWriter, path string) {
	i, _, ok := s.index(path, "/chall/")
	if !ok {
		s.problem(w, http.StatusNotFound, "malformed", "unknown challenge")
		return
	}
	token := fmt.Sprintf("token-%d", i)
	keyAuth, found := s.published(token)
	if !found || !strings.HasPrefix(keyAuth, token+".") {
		s.problem(w, http.StatusForbidden, "unauthorized", "key authorization not published for "+token)
		return
	}
	w.Header().Add("Link", fmt.Sprintf(`<%s>;rel="up"`, s.url(fmt.Sprintf("/authz/%d", i))))
	s.writeJSON(w, http.StatusOK, s.challengeObject(i, "valid"))
}

func (s *acmeServer) finalize(w http.ResponseWriter, post acmePost) {
	var req struct {
		CSR string `json:"csr"`
	}
	if err := json.Unmarshal(post.payload, &req); err != nil {
		s.problem(w, http.StatusBadRequest, "malformed", err.Error())
		return
	}
	der, err := base64.RawURLEncoding.DecodeString(req.CSR)
	if err != nil {
		s.problem(w, http.StatusBadRequest, "badCSR", err.Error())
		return
	}
	csr, err := x509.ParseCertificateRequest(der)
	if err != nil {
		s.problem(w, http.StatusBadRequest, "badCSR", err.Error())
		return
	}
	leaf := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      csr.Subject,
		DNSNames:     csr.DNSNames,
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(90 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leaf, s.caCert, csr.PublicKey, s.caKey)
	if err != nil {
		s.problem(w, http.StatusInternalServerError, "serverInternal", err.Error())
		return
	}

	s.mu.Lock()
	s.csr = csr
	s.chainPEM = append(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER}), s.caPEM...)
	ids := append([]string(nil), s.identifiers...)
	s.mu.Unlock()

	identifiers := make([]map[string]string, 0, len(ids))
	for _, id := range ids {
		identifiers = append(identifiers, map[string]string{"type": "dns", "value": id})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "valid",
		"identifiers": identifiers,
		"finalize":    s.url("/finalize"),
		"certificate": s.url("/cert"),
	})
}

func (s *acmeServer) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.t.Errorf("encoding response: %v", err)
	}
}

func (s *acmeServer) problem(w http.ResponseWriter, status int, kind, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"type":   "urn:ietf:params:acme:error:" + kind,
		"detail": detail,
		"status": status,
	})
}

// liveProvisioner publishes challenges in memory and records the order of
// create and remove calls
type liveProvisioner struct {
	mu     sync.Mutex
	live   map[string]string
	events []string
}

func newLiveProvisioner() *liveProvisioner {
	return &liveProvisioner{live: make(map[string]string)}
}

func (p *liveProvisioner) CreateChallenge(_ context.Context, token, keyAuth string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.live[token] = keyAuth
	p.events = append(p.events, "create "+token)
	return nil
}

func (p *liveProvisioner) RemoveChallenge(_ context.Context, token string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, token)
	p.events = append(p.events, "remove "+token)
	return nil
}

func (p *liveProvisioner) lookup(token string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keyAuth, ok := p.live[token]
	return keyAuth, ok
}
