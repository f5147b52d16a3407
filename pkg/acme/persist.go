package acme

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var ErrNotFound = errors.New("entry not found in persistent store")

type PersistKind string

const (
	PersistKindAccountPrivateKey PersistKind = "acct"
	PersistKindPrivateKey        PersistKind = "key"
	PersistKindCertificate       PersistKind = "crt"
)

// PersistKey identifies a persisted value. The realm is the contact email of
// the account owning the value; the name is either the contact email itself
// (account keys) or the primary name of a certificate.
type PersistKey struct {
	Realm string
	Kind  PersistKind
	Name  string
}

func (k PersistKey) String() string {
	return fmt.Sprintf("%s_%s_%s", k.Realm, k.Kind, k.Name)
}

// Persist is a byte store for account keys, certificate keys and certificate
// chains. Get returns ErrNotFound when there is no value for a key; any other
// error is a storage failure. Implementations must be safe for concurrent use.
type Persist interface {
	Get(PersistKey) ([]byte, error)
	Put(PersistKey, []byte) error
}

type MemoryPersist struct {
	values      map[PersistKey][]byte
	valuesMutex sync.RWMutex
}

func NewMemoryPersist() *MemoryPersist {
	return &MemoryPersist{
		values: make(map[PersistKey][]byte),
	}
}

func (p *MemoryPersist) Get(key PersistKey) ([]byte, error) {
	p.valuesMutex.RLock()
	value, found := p.values[key]
	p.valuesMutex.RUnlock()

	if !found {
		return nil, ErrNotFound
	}

	return slices.Clone(value), nil
}

func (p *MemoryPersist) Put(key PersistKey, value []byte) error {
	p.valuesMutex.Lock()
	p.values[key] = slices.Clone(value)
	p.valuesMutex.Unlock()

	return nil
}
