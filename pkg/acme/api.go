package acme

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

var (
	ErrProtocolViolation = errors.New("protocol violation")
	ErrSigning           = errors.New("signing failure")
)

type ErrorType string

const (
	ErrorTypeAccountDoesNotExist     ErrorType = "urn:ietf:params:acme:error:accountDoesNotExist"
	ErrorTypeAlreadyRevoked          ErrorType = "urn:ietf:params:acme:error:alreadyRevoked"
	ErrorTypeBadCSR                  ErrorType = "urn:ietf:params:acme:error:badCSR"
	ErrorTypeBadNonce                ErrorType = "urn:ietf:params:acme:error:badNonce"
	ErrorTypeBadPublicKey            ErrorType = "urn:ietf:params:acme:error:badPublicKey"
	ErrorTypeBadRevocationReason     ErrorType = "urn:ietf:params:acme:error:badRevocationReason"
	ErrorTypeBadSignatureAlgorithm   ErrorType = "urn:ietf:params:acme:error:badSignatureAlgorithm"
	ErrorTypeCAA                     ErrorType = "urn:ietf:params:acme:error:caa"
	ErrorTypeCompound                ErrorType = "urn:ietf:params:acme:error:compound"
	ErrorTypeConnection              ErrorType = "urn:ietf:params:acme:error:connection"
	ErrorTypeDNS                     ErrorType = "urn:ietf:params:acme:error:dns"
	ErrorTypeExternalAccountRequired ErrorType = "urn:ietf:params:acme:error:externalAccountRequired"
	ErrorTypeIncorrectResponse       ErrorType = "urn:ietf:params:acme:error:incorrectResponse"
	ErrorTypeInvalidContact          ErrorType = "urn:ietf:params:acme:error:invalidContact"
	ErrorTypeMalformed               ErrorType = "urn:ietf:params:acme:error:malformed"
	ErrorTypeOrderNotReady           ErrorType = "urn:ietf:params:acme:error:orderNotReady"
	ErrorTypeRateLimited             ErrorType = "urn:ietf:params:acme:error:rateLimited"
	ErrorTypeRejectedIdentifier      ErrorType = "urn:ietf:params:acme:error:rejectedIdentifier"
	ErrorTypeServerInternal          ErrorType = "urn:ietf:params:acme:error:serverInternal"
	ErrorTypeTLS                     ErrorType = "urn:ietf:params:acme:error:tls"
	ErrorTypeUnauthorized            ErrorType = "urn:ietf:params:acme:error:unauthorized"
	ErrorTypeUnsupportedContact      ErrorType = "urn:ietf:params:acme:error:unsupportedContact"
	ErrorTypeUnsupportedIdentifier   ErrorType = "urn:ietf:params:acme:error:unsupportedIdentifier"
	ErrorTypeUserActionRequired      ErrorType = "urn:ietf:params:acme:error:userActionRequired"
)

type ProblemDetails struct {
	// RFC 7807 3.1. Members of a Problem Details Object
	Type     ErrorType `json:"type,omitempty"`
	Title    string    `json:"title,omitempty"`
	Status   int       `json:"status,omitempty"`
	Detail   string    `json:"detail,omitempty"`
	Instance string    `json:"instance,omitempty"`

	// RFC 8555 6.7.1. Subproblems
	Subproblems []ProblemDetails `json:"subproblems,omitempty"`
}

// IsBadNonce reports whether the server rejected the request because its
// nonce was stale or already consumed (RFC 8555 6.5).
func (err *ProblemDetails) IsBadNonce() bool {
	return err.Type == ErrorTypeBadNonce
}

// FormatErrorString renders the problem and its subproblems, one per line,
// each nested level indented by two more spaces than its parent.
func (err *ProblemDetails) FormatErrorString(buf *bytes.Buffer, indent string) {
	buf.WriteString(indent)

	switch {
	case err.Type != "":
		buf.WriteString(string(err.Type))
	case err.Status != 0:
		fmt.Fprintf(buf, "status %d", err.Status)
	default:
		buf.WriteString("unknown problem")
	}

	if err.Type != "" && err.Status != 0 {
		fmt.Fprintf(buf, " (%d)", err.Status)
	}

	if err.Title != "" {
		buf.WriteString(": ")
		buf.WriteString(err.Title)
	}

	if err.Detail != "" {
		buf.WriteString(": ")
		buf.WriteString(err.Detail)
	}

	for _, subproblem := range err.Subproblems {
		buf.WriteByte('\n')
		subproblem.FormatErrorString(buf, indent+"  ")
	}
}

func (err *ProblemDetails) Error() string {
	var buf bytes.Buffer
	err.FormatErrorString(&buf, "")
	return buf.String()
}

// NewHTTPClient returns a client suitable for ACME servers. A nil pool means
// the system certificate pool.
func NewHTTPClient(caCertPool *x509.CertPool) *http.Client {
	dialer := net.Dialer{
		Timeout:   15 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	tlsCfg := tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}

	transport := http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,

		TLSClientConfig:     &tlsCfg,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,

		MaxIdleConns:          10,
		IdleConnTimeout:       60 * time.Second,
		ResponseHeaderTimeout: 20 * time.Second,
	}

	client := http.Client{
		Timeout:   30 * time.Second,
		Transport: &transport,
	}

	return &client
}
