package acme

import (
	"context"
	"fmt"
	"slices"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusReady      OrderStatus = "ready"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusValid      OrderStatus = "valid"
	OrderStatusInvalid    OrderStatus = "invalid"
)

type IdentifierType string

const (
	IdentifierTypeDNS IdentifierType = "dns"
)

type Identifier struct {
	Type  IdentifierType `json:"type"`
	Value string         `json:"value"`
}

func DNSIdentifier(value string) Identifier {
	return Identifier{Type: IdentifierTypeDNS, Value: value}
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s:%s", id.Type, id.Value)
}

type NewOrder struct {
	Identifiers []Identifier `json:"identifiers"`
	NotBefore   *time.Time   `json:"notBefore,omitempty"`
	NotAfter    *time.Time   `json:"notAfter,omitempty"`
}

// RFC 8555 7.1.3. Order Objects
//
// Status, Identifiers, Authorizations and Finalize are always set by the
// server. Other fields are optional and left to their zero value when absent.
type OrderObject struct {
	Status         OrderStatus     `json:"status"`
	Expires        *time.Time      `json:"expires,omitempty"`
	Identifiers    []Identifier    `json:"identifiers"`
	NotBefore      *time.Time      `json:"notBefore,omitempty"`
	NotAfter       *time.Time      `json:"notAfter,omitempty"`
	Error          *ProblemDetails `json:"error,omitempty"`
	Authorizations []string        `json:"authorizations"`
	Finalize       string          `json:"finalize"`
	Certificate    *string         `json:"certificate,omitempty"`
}

// Order is a handle on an order created on the ACME server. It keeps a
// reference to the account which created it so that subsequent requests are
// signed with the same key.
type Order struct {
	Account *Account
	URI     string
	Object  OrderObject
}

func (o *Order) Identifiers() []Identifier {
	return slices.Clone(o.Object.Identifiers)
}

// NewOrder creates a new order for a primary name and optional alternative
// names. The primary name is always the first identifier of the order.
//
// Each call creates a distinct order on the server, even when called
// repeatedly with the same names.
func (a *Account) NewOrder(ctx context.Context, primaryName string, altNames ...string) (*Order, error) {
	newOrder := NewOrder{
		Identifiers: make([]Identifier, 0, 1+len(altNames)),
	}

	newOrder.Identifiers = append(newOrder.Identifiers,
		DNSIdentifier(primaryName))
	for _, name := range altNames {
		newOrder.Identifiers = append(newOrder.Identifiers, DNSIdentifier(name))
	}

	uri := a.directory.endpoints.NewOrder

	build := func(nonce string) (*SignedRequest, error) {
		a.Log.Debug(1, "creating order for %d identifier(s) at %q",
			len(newOrder.Identifiers), uri)

		req := SignedRequest{
			URI:     uri,
			Payload: &newOrder,
		}

		return &req, nil
	}

	var object OrderObject

	res, err := a.directory.executor.Send(ctx, a.signer(), build, &object)
	if err != nil {
		return nil, err
	}

	location := res.Header.Get("Location")
	if location == "" {
		return nil, fmt.Errorf("%w: missing or empty Location header field",
			ErrProtocolViolation)
	}

	order := Order{
		Account: a,
		URI:     location,
		Object:  object,
	}

	return &order, nil
}

// Refresh fetches the current state of the order with a POST-as-GET request
// and returns an updated copy of the order.
func (o *Order) Refresh(ctx context.Context) (*Order, error) {
	a := o.Account

	build := func(nonce string) (*SignedRequest, error) {
		return &SignedRequest{URI: o.URI}, nil
	}

	var object OrderObject

	if _, err := a.directory.executor.Send(ctx, a.signer(), build, &object); err != nil {
		return nil, fmt.Errorf("cannot fetch order: %w", err)
	}

	order := Order{
		Account: a,
		URI:     o.URI,
		Object:  object,
	}

	return &order, nil
}
