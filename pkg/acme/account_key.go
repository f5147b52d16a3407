package acme

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

type AccountKeyGenerationFunc func() (*AccountKey, error)

// AccountKey is the private key used to sign every request sent on behalf of
// an account. Only elliptic curve keys are supported: signed requests stay
// small and the public key is always derived from the private key.
type AccountKey struct {
	privateKey *ecdsa.PrivateKey
}

func GenerateAccountKey() (*AccountKey, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cannot generate ECDSA key: %w", err)
	}

	return &AccountKey{privateKey: privateKey}, nil
}

func NewAccountKey(privateKey *ecdsa.PrivateKey) (*AccountKey, error) {
	if privateKey == nil {
		return nil, fmt.Errorf("missing private key")
	}

	return &AccountKey{privateKey: privateKey}, nil
}

// ParseAccountKeyPEM decodes a PEM block containing either a PKCS #8 or a
// SEC 1 elliptic curve private key.
func ParseAccountKeyPEM(data []byte) (*AccountKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "PRIVATE KEY":
		privateKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cannot parse PKCS #8 data: %w", err)
		}

		ecKey, ok := privateKey.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key of type %T is not an ECDSA key",
				privateKey)
		}

		return &AccountKey{privateKey: ecKey}, nil

	case "EC PRIVATE KEY":
		ecKey, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("cannot parse SEC 1 data: %w", err)
		}

		return &AccountKey{privateKey: ecKey}, nil

	default:
		return nil, fmt.Errorf("unknown PEM block %q", block.Type)
	}
}

func (k *AccountKey) Signer() crypto.Signer {
	return k.privateKey
}

func (k *AccountKey) Public() crypto.PublicKey {
	return k.privateKey.Public()
}

func (k *AccountKey) PEM() ([]byte, error) {
	data, err := x509.MarshalPKCS8PrivateKey(k.privateKey)
	if err != nil {
		return nil, fmt.Errorf("cannot encode private key: %w", err)
	}

	block := pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: data,
	}

	return pem.EncodeToMemory(&block), nil
}

// Thumbprint returns the RFC 7638 thumbprint of the public key, as used in
// key authorizations.
func (k *AccountKey) Thumbprint() (string, error) {
	key := jose.JSONWebKey{Key: k.Public()}

	thumbprint, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}

	return base64.RawURLEncoding.EncodeToString(thumbprint), nil
}

func (k *AccountKey) signatureAlgorithm() (jose.SignatureAlgorithm, error) {
	var algorithm jose.SignatureAlgorithm

	switch curve := k.privateKey.Curve; curve {
	case elliptic.P256():
		algorithm = jose.ES256
	case elliptic.P384():
		algorithm = jose.ES384
	case elliptic.P521():
		algorithm = jose.ES512
	default:
		return "", fmt.Errorf("unknown elliptic curve %v", curve.Params().Name)
	}

	return algorithm, nil
}
