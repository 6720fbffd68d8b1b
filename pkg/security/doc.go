// See ca.go for the CertAuthority (root CA generation, service/client
// certificate issuance, verification) and certs.go for the on-disk PEM
// layout used to persist and load them.
package security
