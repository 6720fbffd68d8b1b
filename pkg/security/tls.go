package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// ClientTLSConfig builds a tls.Config for dialing a Synnefo service secured
// by ca: cert authenticates this client, and the returned config trusts only
// ca's root for verifying the server's certificate (spec §6's mTLS between
// the Commission Coordinator and a remote Quotaholder).
func (ca *CertAuthority) ClientTLSConfig(cert *tls.Certificate) (*tls.Config, error) {
	pool, err := ca.rootPool()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
	}, nil
}

// ServerTLSConfig builds a tls.Config for a Synnefo service presenting cert
// and requiring a client certificate signed by ca's root.
func (ca *CertAuthority) ServerTLSConfig(cert *tls.Certificate) (*tls.Config, error) {
	pool, err := ca.rootPool()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}, nil
}

func (ca *CertAuthority) rootPool() (*x509.CertPool, error) {
	der := ca.GetRootCACert()
	if der == nil {
		return nil, fmt.Errorf("CA not initialized")
	}
	root, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse root certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(root)
	return pool, nil
}
