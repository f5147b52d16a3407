package acme

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.n16f.net/log"
)

var (
	defaultExecutorLogger = log.DefaultLogger("acme")
	defaultHTTPClient     = NewHTTPClient(nil)
)

type NonceSource interface {
	NewNonce(context.Context) (string, error)
}

// SignedRequest is the content of a signed POST request. A nil payload
// results in an empty JWS payload, i.e. a POST-as-GET request (RFC 8555 6.3).
type SignedRequest struct {
	URI     string
	Payload any
}

// RequestBuilder is called once per attempt with the nonce which will protect
// the request.
type RequestBuilder func(nonce string) (*SignedRequest, error)

// Executor sends signed requests, retrying those rejected with a badNonce
// error. Each attempt consumes its own fresh nonce; nonces are never shared
// between attempts or between calls. Log and HTTPClient are optional.
type Executor struct {
	Log         *log.Logger
	HTTPClient  *http.Client
	Nonces      NonceSource
	UserAgent   string
	MaxAttempts int
}

func (e *Executor) Send(ctx context.Context, signer *RequestSigner, build RequestBuilder, resBody any) (*http.Response, error) {
	if e.Nonces == nil {
		return nil, fmt.Errorf("missing nonce source")
	}

	nbAttempts := e.MaxAttempts
	if nbAttempts <= 0 {
		nbAttempts = DefaultMaxRequestAttempts
	}

	var lastBadNonceError error

	for i := 0; i < nbAttempts; i++ {
		nonce, err := e.Nonces.NewNonce(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot obtain nonce: %w", err)
		}

		req, err := build(nonce)
		if err != nil {
			return nil, err
		}

		res, err := e.sendWithNonce(ctx, signer, req, resBody, nonce)
		if err == nil {
			return res, nil
		}

		var details *ProblemDetails
		if !errors.As(err, &details) || !details.IsBadNonce() {
			return res, err
		}

		e.logger().Debug(1, "nonce rejected for %s (attempt %d/%d)", req.URI,
			i+1, nbAttempts)

		lastBadNonceError = err
	}

	return nil, lastBadNonceError
}

func (e *Executor) sendWithNonce(ctx context.Context, signer *RequestSigner, sreq *SignedRequest, resBody any, nonce string) (*http.Response, error) {
	payload := []byte{}
	if sreq.Payload != nil {
		data, err := json.Marshal(sreq.Payload)
		if err != nil {
			return nil, fmt.Errorf("cannot encode request body: %w", err)
		}

		payload = data
	}

	signedData, err := signer.Sign(payload, sreq.URI, nonce)
	if err != nil {
		return nil, fmt.Errorf("cannot sign request body data: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", sreq.URI,
		bytes.NewReader(signedData))
	if err != nil {
		return nil, fmt.Errorf("cannot create request: %w", err)
	}

	req.Header.Set("User-Agent", e.UserAgent)
	req.Header.Set("Content-Type", "application/jose+json")

	res, err := e.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot send request: %w", err)
	}
	defer res.Body.Close()

	e.logger().Debug(2, "POST %s %d", sreq.URI, res.StatusCode)

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res, fmt.Errorf("cannot read response body: %w", err)
	}

	if err := checkResponseStatus(res, data); err != nil {
		return res, err
	}

	if resBody != nil {
		switch dest := resBody.(type) {
		case *[]byte:
			*dest = data

		default:
			if err := json.Unmarshal(data, dest); err != nil {
				return res, fmt.Errorf("%w: cannot decode response body: %w",
					ErrProtocolViolation, err)
			}
		}
	}

	return res, nil
}

func (e *Executor) logger() *log.Logger {
	if e.Log == nil {
		return defaultExecutorLogger
	}

	return e.Log
}

func (e *Executor) httpClient() *http.Client {
	if e.HTTPClient == nil {
		return defaultHTTPClient
	}

	return e.HTTPClient
}

func checkResponseStatus(res *http.Response, data []byte) error {
	status := res.StatusCode
	if status >= 200 && status < 300 {
		return nil
	}

	var details ProblemDetails
	if err := json.Unmarshal(data, &details); err == nil && details.Type != "" {
		if details.Status == 0 {
			details.Status = status
		}

		return &details
	}

	return fmt.Errorf("request failed with status %d: %s", status, data)
}
