package acme

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math"
	"time"
)

// Certificate is a certificate chain and its private key, both PEM encoded,
// as persisted after download.
type Certificate struct {
	privateKey  string
	certificate string
}

func NewCertificate(privateKey, certificate string) *Certificate {
	return &Certificate{
		privateKey:  privateKey,
		certificate: certificate,
	}
}

func (c *Certificate) PrivateKeyPEM() string {
	return c.privateKey
}

func (c *Certificate) CertificatePEM() string {
	return c.certificate
}

// Chain decodes the certificate chain, leaf certificate first.
func (c *Certificate) Chain() ([]*x509.Certificate, error) {
	chain, err := decodePEMCertificateChain([]byte(c.certificate))
	if err != nil {
		return nil, err
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("empty certificate chain")
	}

	return chain, nil
}

func (c *Certificate) TLSCertificate() (*tls.Certificate, error) {
	cert, err := tls.X509KeyPair([]byte(c.certificate), []byte(c.privateKey))
	if err != nil {
		return nil, fmt.Errorf("cannot load key pair: %w", err)
	}

	return &cert, nil
}

// ValidDaysLeft returns the number of whole days until the leaf certificate
// expires. The result is negative for expired certificates.
func (c *Certificate) ValidDaysLeft(now time.Time) (int, error) {
	chain, err := c.Chain()
	if err != nil {
		return 0, err
	}

	left := chain[0].NotAfter.Sub(now)
	return int(math.Floor(left.Hours() / 24)), nil
}

func decodePEMCertificateChain(data []byte) ([]*x509.Certificate, error) {
	var chain []*x509.Certificate

	for {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}

		if block.Type != "CERTIFICATE" {
			return nil, fmt.Errorf("unknown PEM block %q", block.Type)
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cannot parse certificate: %w", err)
		}

		chain = append(chain, cert)

		data = rest
	}

	return chain, nil
}
