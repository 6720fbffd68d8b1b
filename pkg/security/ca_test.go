package security

import (
	"crypto/x509"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitializeCA(t *testing.T) {
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())

	require.True(t, ca.IsInitialized())
	require.NotNil(t, ca.rootCert)
	require.NotNil(t, ca.rootKey)
	require.True(t, ca.rootCert.IsCA)
	require.WithinDuration(t, time.Now().Add(rootCAValidity), ca.rootCert.NotAfter, time.Hour)
}

func TestSaveLoadCAFiles(t *testing.T) {
	certDir := t.TempDir()

	ca1 := NewCertAuthority()
	require.NoError(t, ca1.Initialize())
	require.NoError(t, ca1.SaveToFiles(certDir))

	ca2 := NewCertAuthority()
	require.NoError(t, ca2.LoadFromFiles(certDir))

	require.True(t, ca2.IsInitialized())
	require.True(t, ca1.rootCert.Equal(ca2.rootCert))
	require.Zero(t, ca1.rootKey.N.Cmp(ca2.rootKey.N))
}

func TestIssueServiceCertificate(t *testing.T) {
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())

	tests := []struct {
		serviceID string
		role      string
	}{
		{"pithos-1", "facade"},
		{"quota-1", "quotaholder"},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			cert, err := ca.IssueServiceCertificate(tt.serviceID, tt.role, nil, nil)
			require.NoError(t, err)
			require.NotNil(t, cert.Leaf)
			require.Equal(t, tt.role+"-"+tt.serviceID, cert.Leaf.Subject.CommonName)
			require.WithinDuration(t, time.Now().Add(serviceCertValidity), cert.Leaf.NotAfter, time.Hour)
			require.NotZero(t, cert.Leaf.KeyUsage&x509.KeyUsageDigitalSignature)

			var hasClientAuth, hasServerAuth bool
			for _, u := range cert.Leaf.ExtKeyUsage {
				hasClientAuth = hasClientAuth || u == x509.ExtKeyUsageClientAuth
				hasServerAuth = hasServerAuth || u == x509.ExtKeyUsageServerAuth
			}
			require.True(t, hasClientAuth)
			require.True(t, hasServerAuth)
		})
	}
}

func TestIssueServiceCertificateWithSANs(t *testing.T) {
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())

	cert, err := ca.IssueServiceCertificate("quota-1", "quotaholder",
		[]string{"quotaholder.internal"}, []net.IP{net.ParseIP("10.0.0.5")})
	require.NoError(t, err)
	require.Contains(t, cert.Leaf.DNSNames, "quotaholder.internal")
	require.Len(t, cert.Leaf.IPAddresses, 1)
}

func TestIssueClientCertificate(t *testing.T) {
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())

	cert, err := ca.IssueClientCertificate("admin@host")
	require.NoError(t, err)
	require.Equal(t, "cli-admin@host", cert.Leaf.Subject.CommonName)

	var hasClientAuth, hasServerAuth bool
	for _, u := range cert.Leaf.ExtKeyUsage {
		hasClientAuth = hasClientAuth || u == x509.ExtKeyUsageClientAuth
		hasServerAuth = hasServerAuth || u == x509.ExtKeyUsageServerAuth
	}
	require.True(t, hasClientAuth)
	require.False(t, hasServerAuth)
}

func TestVerifyCertificate(t *testing.T) {
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())

	cert, err := ca.IssueServiceCertificate("facade-1", "facade", nil, nil)
	require.NoError(t, err)
	require.NoError(t, ca.VerifyCertificate(cert.Leaf))
}

func TestVerifyCertificateFailsAgainstForeignCA(t *testing.T) {
	ca1 := NewCertAuthority()
	require.NoError(t, ca1.Initialize())
	ca2 := NewCertAuthority()
	require.NoError(t, ca2.Initialize())

	cert, err := ca1.IssueServiceCertificate("facade-1", "facade", nil, nil)
	require.NoError(t, err)
	require.Error(t, ca2.VerifyCertificate(cert.Leaf))
}

func TestGetRootCACert(t *testing.T) {
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())

	der := ca.GetRootCACert()
	require.NotNil(t, der)

	parsed, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	require.True(t, parsed.Equal(ca.rootCert))
}

func TestCertCache(t *testing.T) {
	ca := NewCertAuthority()
	require.NoError(t, ca.Initialize())

	_, err := ca.IssueServiceCertificate("facade-1", "facade", nil, nil)
	require.NoError(t, err)

	cached, ok := ca.GetCachedCert("facade-1")
	require.True(t, ok)
	require.Equal(t, "facade-facade-1", cached.Cert.Subject.CommonName)
}

func TestSaveToFilesFailsUninitialized(t *testing.T) {
	ca := NewCertAuthority()
	require.Error(t, ca.SaveToFiles(filepath.Join(t.TempDir(), "ca")))
}
