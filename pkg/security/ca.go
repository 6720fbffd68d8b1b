// Package security provides the mTLS certificate authority used between the
// Commission Coordinator / Storage Façade and a remote Quotaholder reached
// over HTTP (spec §6's client/server RPC). There is no container fleet here,
// so only two identities ever need certificates: a handful of named services
// (quotaholder, facade) and CLI/admin clients — the root CA and its
// certificate issuance are otherwise unchanged from the teacher's shape.
//
// Grounded on the teacher's pkg/security/ca.go (CertAuthority, root +
// service/client certificate issuance, verification). The teacher's
// storage.Store-backed persistence and cluster-encryption-key-at-rest scheme
// are dropped: with only one CA per deployment (not one per multi-tenant
// cluster), the root key is persisted the same way certs.go already persists
// service keys — a 0600 PEM file — rather than through a bbolt-backed,
// encrypted-at-rest store keyed by a derived cluster secret.
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"sync"
	"time"
)

// CertAuthority issues and verifies certificates for Synnefo services and
// CLI clients.
type CertAuthority struct {
	rootCert  *x509.Certificate
	rootKey   *rsa.PrivateKey
	certCache map[string]*CachedCert
	mu        sync.RWMutex
}

// CachedCert is a previously issued certificate kept in memory to avoid
// re-issuing one for the same identity on every call.
type CachedCert struct {
	Cert      *x509.Certificate
	Key       *rsa.PrivateKey
	IssuedAt  time.Time
	ExpiresAt time.Time
}

const (
	// rootCAValidity is the root CA certificate's lifetime: 10 years.
	rootCAValidity = 10 * 365 * 24 * time.Hour
	// serviceCertValidity is a service or client certificate's lifetime: 90 days.
	serviceCertValidity = 90 * 24 * time.Hour
	// rootKeySize is the root CA's RSA key size.
	rootKeySize = 4096
	// serviceKeySize is a service/client certificate's RSA key size.
	serviceKeySize = 2048
)

// NewCertAuthority creates an uninitialized CertAuthority.
func NewCertAuthority() *CertAuthority {
	return &CertAuthority{certCache: make(map[string]*CachedCert)}
}

// Initialize generates a new self-signed root CA certificate and key.
func (ca *CertAuthority) Initialize() error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootKey, err := rsa.GenerateKey(rand.Reader, rootKeySize)
	if err != nil {
		return fmt.Errorf("failed to generate root key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Synnefo"},
			CommonName:   "Synnefo Root CA",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(rootCAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
		MaxPathLenZero:        false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &rootKey.PublicKey, rootKey)
	if err != nil {
		return fmt.Errorf("failed to create root certificate: %w", err)
	}

	rootCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("failed to parse root certificate: %w", err)
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// LoadFromFiles loads a previously initialized root CA from the cert/key
// files written by SaveToFiles, under certDir ("ca.crt"/"ca.key").
func (ca *CertAuthority) LoadFromFiles(certDir string) error {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	rootCert, err := LoadCACertFromFile(certDir)
	if err != nil {
		return err
	}
	rootKey, err := loadRSAKeyFromFile(certDir, "ca.key")
	if err != nil {
		return err
	}

	ca.rootCert = rootCert
	ca.rootKey = rootKey
	return nil
}

// SaveToFiles persists the root CA's certificate and private key under
// certDir.
func (ca *CertAuthority) SaveToFiles(certDir string) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return fmt.Errorf("CA not initialized")
	}
	if err := SaveCACertToFile(ca.rootCert.Raw, certDir); err != nil {
		return err
	}
	return saveRSAKeyToFile(ca.rootKey, certDir, "ca.key")
}

// IssueServiceCertificate issues a server+client-auth certificate for a
// named Synnefo service (e.g. "quotaholder", "facade") bound to the given
// DNS names and IP addresses.
func (ca *CertAuthority) IssueServiceCertificate(serviceID, role string, dnsNames []string, ipAddresses []net.IP) (*tls.Certificate, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("CA not initialized")
	}

	serviceKey, err := rsa.GenerateKey(rand.Reader, serviceKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate service key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Synnefo"},
			CommonName:   fmt.Sprintf("%s-%s", role, serviceID),
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(serviceCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:    dnsNames,
		IPAddresses: ipAddresses,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &serviceKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create service certificate: %w", err)
	}

	serviceCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service certificate: %w", err)
	}

	tlsCert := &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  serviceKey,
		Leaf:        serviceCert,
	}
	ca.cacheCertificate(serviceID, serviceCert, serviceKey)
	return tlsCert, nil
}

// IssueClientCertificate issues a client-auth-only certificate for a CLI or
// admin client identity.
func (ca *CertAuthority) IssueClientCertificate(clientID string) (*tls.Certificate, error) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil || ca.rootKey == nil {
		return nil, fmt.Errorf("CA not initialized")
	}

	clientKey, err := rsa.GenerateKey(rand.Reader, serviceKeySize)
	if err != nil {
		return nil, fmt.Errorf("failed to generate client key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{"Synnefo"},
			CommonName:   fmt.Sprintf("cli-%s", clientID),
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(serviceCertValidity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, ca.rootCert, &clientKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create client certificate: %w", err)
	}

	clientCert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client certificate: %w", err)
	}

	tlsCert := &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  clientKey,
		Leaf:        clientCert,
	}
	ca.cacheCertificate(clientID, clientCert, clientKey)
	return tlsCert, nil
}

// VerifyCertificate verifies cert chains to this CA's root.
func (ca *CertAuthority) VerifyCertificate(cert *x509.Certificate) error {
	ca.mu.RLock()
	defer ca.mu.RUnlock()

	if ca.rootCert == nil {
		return fmt.Errorf("CA not initialized")
	}

	roots := x509.NewCertPool()
	roots.AddCert(ca.rootCert)

	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

// GetRootCACert returns the root CA certificate in DER format.
func (ca *CertAuthority) GetRootCACert() []byte {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	if ca.rootCert == nil {
		return nil
	}
	return ca.rootCert.Raw
}

// IsInitialized reports whether the CA has a root certificate and key.
func (ca *CertAuthority) IsInitialized() bool {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	return ca.rootCert != nil && ca.rootKey != nil
}

func (ca *CertAuthority) cacheCertificate(id string, cert *x509.Certificate, key *rsa.PrivateKey) {
	ca.certCache[id] = &CachedCert{
		Cert:      cert,
		Key:       key,
		IssuedAt:  cert.NotBefore,
		ExpiresAt: cert.NotAfter,
	}
}

// GetCachedCert retrieves a previously issued certificate by identity.
func (ca *CertAuthority) GetCachedCert(id string) (*CachedCert, bool) {
	ca.mu.RLock()
	defer ca.mu.RUnlock()
	cert, exists := ca.certCache[id]
	return cert, exists
}
