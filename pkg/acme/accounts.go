package acme

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"go.n16f.net/log"
)

type AccountStatus string

const (
	AccountStatusValid       AccountStatus = "valid"
	AccountStatusDeactivated AccountStatus = "deactivated"
	AccountStatusRevoked     AccountStatus = "revoked"
)

type NewAccount struct {
	Contact                []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed   bool            `json:"termsOfServiceAgreed,omitempty"`
	OnlyReturnExisting     bool            `json:"onlyReturnExisting,omitempty"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
}

// RFC 8555 7.1.2. Account Objects
type AccountObject struct {
	Status                 AccountStatus   `json:"status"`
	Contact                []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed   bool            `json:"termsOfServiceAgreed,omitempty"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
	Orders                 string          `json:"orders,omitempty"`
}

// Account is an account registered with an ACME server. It consists of a
// contact email address, used as namespace for persisted data, and of the
// private key signing all requests sent on behalf of the account.
//
// Accounts are never modified once created and are safe for concurrent use.
type Account struct {
	Log *log.Logger

	directory    *Directory
	contactEmail string
	key          *AccountKey
	uri          string
	object       AccountObject
}

// Account loads the account key associated with a contact email address,
// generating and storing it the first time, and registers it with the ACME
// server. Registration is idempotent: the server returns the existing account
// for a known key.
//
// Key bootstrap is not synchronized: concurrent first calls for the same
// contact may each generate and store a different key, the last one stored
// winning. Callers must create an account once before sharing it.
func (d *Directory) Account(ctx context.Context, contactEmail string) (*Account, error) {
	if contactEmail == "" {
		return nil, fmt.Errorf("missing contact email")
	}

	key, err := d.loadAccountKey(contactEmail)
	if err != nil {
		return nil, err
	}

	return d.AccountWithKey(ctx, contactEmail, key)
}

func (d *Directory) AccountWithKey(ctx context.Context, contactEmail string, key *AccountKey) (*Account, error) {
	d.Log.Debug(1, "registering account for %q", contactEmail)

	newAccount := NewAccount{
		Contact:              []string{"mailto:" + contactEmail},
		TermsOfServiceAgreed: true,
	}

	// The account URI is not known yet: the key is embedded instead.
	signer := RequestSigner{Key: key}

	build := func(nonce string) (*SignedRequest, error) {
		req := SignedRequest{
			URI:     d.endpoints.NewAccount,
			Payload: &newAccount,
		}

		return &req, nil
	}

	var object AccountObject

	res, err := d.executor.Send(ctx, &signer, build, &object)
	if err != nil {
		return nil, fmt.Errorf("cannot register account: %w", err)
	}

	location := res.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("%w: missing or empty Location header field",
			ErrProtocolViolation)
	}

	d.Log.Info("using account %q", location)

	a := Account{
		Log: d.Log.Child("account", log.Data{"account": location}),

		directory:    d,
		contactEmail: contactEmail,
		key:          key,
		uri:          location,
		object:       object,
	}

	return &a, nil
}

func (d *Directory) loadAccountKey(contactEmail string) (*AccountKey, error) {
	pkey := PersistKey{
		Realm: contactEmail,
		Kind:  PersistKindAccountPrivateKey,
		Name:  contactEmail,
	}

	data, err := d.persist.Get(pkey)
	if err == nil {
		key, err := ParseAccountKeyPEM(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse account key %q: %w", pkey, err)
		}

		return key, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("cannot load account key %q: %w", pkey, err)
	}

	d.Log.Debug(1, "generating account key for %q", contactEmail)

	key, err := d.Cfg.GenerateAccountKey()
	if err != nil {
		return nil, fmt.Errorf("cannot generate account key: %w", err)
	}

	keyData, err := key.PEM()
	if err != nil {
		return nil, err
	}

	if err := d.persist.Put(pkey, keyData); err != nil {
		return nil, fmt.Errorf("cannot store account key %q: %w", pkey, err)
	}

	return key, nil
}

func (a *Account) ContactEmail() string {
	return a.contactEmail
}

// URI returns the account URL, used as key identifier in signed requests.
func (a *Account) URI() string {
	return a.uri
}

func (a *Account) Object() AccountObject {
	return a.object
}

func (a *Account) Directory() *Directory {
	return a.directory
}

// PrivateKeyPEM returns the account key encoded as a PKCS #8 PEM block.
func (a *Account) PrivateKeyPEM() (string, error) {
	data, err := a.key.PEM()
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func (a *Account) signer() *RequestSigner {
	return &RequestSigner{Key: a.key, KeyID: a.uri}
}

// Certificate returns a certificate previously downloaded and persisted for
// a primary name. It only reads the persistent store and never contacts the
// ACME server. The certificate is returned only if both its private key and
// its certificate chain are available as text; if either is missing, the
// function returns nil without error.
func (a *Account) Certificate(primaryName string) (*Certificate, error) {
	persist := a.directory.persist

	keyData, err := a.readPersistedText(persist, PersistKey{
		Realm: a.contactEmail,
		Kind:  PersistKindPrivateKey,
		Name:  primaryName,
	})
	if err != nil {
		return nil, err
	}

	certData, err := a.readPersistedText(persist, PersistKey{
		Realm: a.contactEmail,
		Kind:  PersistKindCertificate,
		Name:  primaryName,
	})
	if err != nil {
		return nil, err
	}

	if keyData == nil || certData == nil {
		return nil, nil
	}

	return NewCertificate(*keyData, *certData), nil
}

func (a *Account) readPersistedText(persist Persist, key PersistKey) (*string, error) {
	a.Log.Debug(1, "reading %q", key)

	data, err := persist.Get(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("cannot read %q: %w", key, err)
	}

	if !utf8.Valid(data) {
		return nil, nil
	}

	s := string(data)
	return &s, nil
}
