package acme

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// RequestSigner produces the JWS envelope of signed requests. When KeyID is
// empty, the public key is embedded as a "jwk" header instead, which is only
// valid for newAccount requests.
type RequestSigner struct {
	Key   *AccountKey
	KeyID string
}

// Sign returns the flattened JWS serialization of data. A nil or empty data
// slice is serialized as an empty "payload" member, as required for
// POST-as-GET requests.
func (s *RequestSigner) Sign(data []byte, uri, nonce string) ([]byte, error) {
	// RFC 8555 6.2. Request Authentication

	if s.Key == nil {
		return nil, fmt.Errorf("%w: missing account key", ErrSigning)
	}

	algorithm, err := s.Key.signatureAlgorithm()
	if err != nil {
		return nil, fmt.Errorf("%w: cannot identify signature algorithm: %w",
			ErrSigning, err)
	}

	jwk := jose.JSONWebKey{
		Key:   s.Key.privateKey,
		KeyID: s.KeyID,
	}

	signingKey := jose.SigningKey{
		Algorithm: algorithm,
		Key:       &jwk,
	}

	options := jose.SignerOptions{
		NonceSource:  &staticNonceSource{nonce: nonce},
		ExtraHeaders: make(map[jose.HeaderKey]any),
	}

	options.ExtraHeaders["url"] = uri

	if jwk.KeyID == "" {
		options.EmbedJWK = true // set the "jwk" claim
	}

	signer, err := jose.NewSigner(signingKey, &options)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot create signer: %w", ErrSigning, err)
	}

	if data == nil {
		data = []byte{}
	}

	signedData, err := signer.Sign(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}

	return []byte(signedData.FullSerialize()), nil
}

type staticNonceSource struct {
	nonce string
}

func (s *staticNonceSource) Nonce() (string, error) {
	if s.nonce == "" {
		return "", fmt.Errorf("nonce already used")
	}

	nonce := s.nonce
	s.nonce = ""

	return nonce, nil
}
