package acme

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.n16f.net/log"
)

const (
	LetsEncryptDirectoryURI        = "https://acme-v02.api.letsencrypt.org/directory"
	LetsEncryptStagingDirectoryURI = "https://acme-staging-v02.api.letsencrypt.org/directory"
)

const DefaultMaxRequestAttempts = 3

// RFC 8555 7.1.1. Directory
type Endpoints struct {
	NewNonce   string `json:"newNonce"`
	NewAccount string `json:"newAccount"`
	NewOrder   string `json:"newOrder"`
	NewAuthz   string `json:"newAuthz,omitempty"`
	RevokeCert string `json:"revokeCert"`
	KeyChange  string `json:"keyChange"`

	Meta DirectoryMetadata `json:"meta"`
}

type DirectoryMetadata struct {
	TermsOfService          string   `json:"termsOfService,omitempty"`
	Website                 string   `json:"website,omitempty"`
	CAAIdentities           []string `json:"caaIdentities,omitempty"`
	ExternalAccountRequired bool     `json:"externalAccountRequired,omitempty"`
}

type DirectoryCfg struct {
	Log                *log.Logger              `json:"-"`
	HTTPClient         *http.Client             `json:"-"`
	Persist            Persist                  `json:"-"`
	GenerateAccountKey AccountKeyGenerationFunc `json:"-"`

	UserAgent          string `json:"user_agent"`
	URI                string `json:"uri"`
	MaxRequestAttempts int    `json:"max_request_attempts"`
}

// Directory is the entry point to an ACME server. It is immutable once
// created and can be shared by any number of accounts and goroutines.
type Directory struct {
	Log *log.Logger
	Cfg DirectoryCfg

	httpClient *http.Client
	persist    Persist
	endpoints  *Endpoints
	executor   *Executor
}

func NewDirectory(ctx context.Context, cfg DirectoryCfg) (*Directory, error) {
	if cfg.Log == nil {
		cfg.Log = log.DefaultLogger("acme")
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(nil)
	}

	if cfg.Persist == nil {
		return nil, fmt.Errorf("missing persistent store")
	}

	if cfg.GenerateAccountKey == nil {
		cfg.GenerateAccountKey = GenerateAccountKey
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = "go-acme-core"
	}

	if cfg.URI == "" {
		return nil, fmt.Errorf("missing directory URI")
	}

	if cfg.MaxRequestAttempts <= 0 {
		cfg.MaxRequestAttempts = DefaultMaxRequestAttempts
	}

	d := Directory{
		Log: cfg.Log,
		Cfg: cfg,

		httpClient: cfg.HTTPClient,
		persist:    cfg.Persist,
	}

	d.executor = &Executor{
		Log:         cfg.Log.Child("executor", nil),
		HTTPClient:  cfg.HTTPClient,
		Nonces:      &d,
		UserAgent:   cfg.UserAgent,
		MaxAttempts: cfg.MaxRequestAttempts,
	}

	endpoints, err := d.fetchEndpoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch directory: %w", err)
	}
	d.endpoints = endpoints

	return &d, nil
}

func (d *Directory) Endpoints() *Endpoints {
	return d.endpoints
}

func (d *Directory) Persist() Persist {
	return d.persist
}

// NewNonce obtains a fresh nonce from the newNonce endpoint (RFC 8555 7.2).
// Nonces are never cached: every call results in a new request.
func (d *Directory) NewNonce(ctx context.Context) (string, error) {
	res, err := d.sendUnsignedRequest(ctx, "HEAD", d.endpoints.NewNonce, nil)
	if err != nil {
		return "", err
	}

	nonce := res.Header.Get("Replay-Nonce")
	if nonce == "" {
		return "", fmt.Errorf("%w: missing or empty Replay-Nonce header field",
			ErrProtocolViolation)
	}

	return nonce, nil
}

func (d *Directory) fetchEndpoints(ctx context.Context) (*Endpoints, error) {
	d.Log.Debug(1, "fetching directory from %q", d.Cfg.URI)

	var endpoints Endpoints
	if _, err := d.sendUnsignedRequest(ctx, "GET", d.Cfg.URI, &endpoints); err != nil {
		return nil, err
	}

	if endpoints.NewNonce == "" || endpoints.NewAccount == "" ||
		endpoints.NewOrder == "" {
		return nil, fmt.Errorf("%w: incomplete directory object",
			ErrProtocolViolation)
	}

	return &endpoints, nil
}

func (d *Directory) sendUnsignedRequest(ctx context.Context, method, uri string, resBody any) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("cannot create request: %w", err)
	}

	req.Header.Set("User-Agent", d.Cfg.UserAgent)

	res, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot send request: %w", err)
	}
	defer res.Body.Close()

	d.Log.Debug(2, "%s %s %d", method, uri, res.StatusCode)

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return res, fmt.Errorf("cannot read response body: %w", err)
	}

	if err := checkResponseStatus(res, data); err != nil {
		return res, err
	}

	if resBody != nil {
		if err := json.Unmarshal(data, resBody); err != nil {
			return res, fmt.Errorf("%w: cannot decode response body: %w",
				ErrProtocolViolation, err)
		}
	}

	return res, nil
}
