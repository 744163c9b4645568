// Package cert mints the X.509 identities the proxy needs: a long-lived
// self-signed CA and, on demand, per-host leaf certificates signed by it.
package cert

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

const (
	commonNameCA = "bridgeburner"
	rsaKeyBits   = 2048
	validity     = 2048 * 24 * time.Hour
	serialBits   = 32
)

// Identity is a (certificate, private key) pair. A CA identity is
// self-signed; a leaf identity is signed by a CA identity and carries a
// DNS subjectAltName for the host it was minted for.
type Identity struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
	DER  []byte // raw DER of Cert, used by TLSCertificate and CertificatePEM
}

// NewCA generates a fresh self-signed CA identity.
func NewCA() (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("cert: generate CA key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonNameCA},
		NotBefore:    now,
		NotAfter:     now.Add(validity),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("cert: self-sign CA: %w", err)
	}

	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("cert: parse CA certificate: %w", err)
	}

	return &Identity{Cert: parsed, Key: key, DER: der}, nil
}

// Leaf mints a certificate for host ("host:port", per spec.md §4.1),
// signed by ca, with a subjectAltName of DNS:host. host also becomes the
// certificate's CommonName.
func Leaf(ca *Identity, host string) (*Identity, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return nil, fmt.Errorf("cert: generate leaf key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: host},
		DNSNames:              []string{host},
		NotBefore:             now,
		NotAfter:              now.Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		return nil, fmt.Errorf("cert: sign leaf for %s: %w", host, err)
	}

	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("cert: parse leaf certificate: %w", err)
	}

	return &Identity{Cert: parsed, Key: key, DER: der}, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), serialBits)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("cert: generate serial: %w", err)
	}
	return serial, nil
}

// TLSCertificate adapts the identity into a tls.Certificate suitable for
// tls.Config.Certificates, for serving TLS as this identity.
func (id *Identity) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{id.DER},
		PrivateKey:  id.Key,
		Leaf:        id.Cert,
	}
}

// CertificatePEM PEM-encodes the certificate only (never the private
// key), so it can be exported for installation in a client trust store.
func (id *Identity) CertificatePEM() []byte {
	var buf bytes.Buffer
	_ = pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: id.DER})
	return buf.Bytes()
}
