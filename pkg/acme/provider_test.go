package acme

import (
	"context"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"go.n16f.net/log"
)

// testProvider is a minimal in-process ACME server. It issues single-use
// nonces, verifies request signatures and records what clients send.
type testProvider struct {
	t      *testing.T
	server *httptest.Server

	mutex sync.Mutex

	nbNonces      int
	pendingNonces map[string]struct{}
	usedNonces    []string
	nbNonceGets   int

	accountKeys        map[string]*jose.JSONWebKey // account URI -> key
	accountsByKey      map[string]string           // thumbprint -> account URI
	orders             map[string]*OrderObject
	orderRequests      []NewOrder
	orderRequestNonces []string

	badNonceRejections int
	omitOrderLocation  bool
	corruptOrderBody   bool
	extendOrderBody    bool
	orderProblem       *ProblemDetails
}

type testSignedRequest struct {
	Payload []byte
	Nonce   string
	KeyID   string
	URL     string
	JWK     *jose.JSONWebKey
}

func newTestProvider(t *testing.T) *testProvider {
	p := testProvider{
		t: t,

		pendingNonces: make(map[string]struct{}),
		accountKeys:   make(map[string]*jose.JSONWebKey),
		accountsByKey: make(map[string]string),
		orders:        make(map[string]*OrderObject),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /directory", p.hDirectory)
	mux.HandleFunc("HEAD /new-nonce", p.hNewNonce)
	mux.HandleFunc("POST /new-account", p.hNewAccount)
	mux.HandleFunc("POST /new-order", p.hNewOrder)
	mux.HandleFunc("POST /order/{id}", p.hOrder)

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	return &p
}

func (p *testProvider) DirectoryURI() string {
	return p.server.URL + "/directory"
}

func (p *testProvider) RejectNonces(n int) {
	p.mutex.Lock()
	p.badNonceRejections = n
	p.mutex.Unlock()
}

func (p *testProvider) OmitOrderLocation() {
	p.mutex.Lock()
	p.omitOrderLocation = true
	p.mutex.Unlock()
}

// CorruptOrderBody makes order creation succeed with a body which is not a
// JSON document.
func (p *testProvider) CorruptOrderBody() {
	p.mutex.Lock()
	p.corruptOrderBody = true
	p.mutex.Unlock()
}

// ExtendOrderBody adds members unknown to RFC 8555 to order objects.
func (p *testProvider) ExtendOrderBody() {
	p.mutex.Lock()
	p.extendOrderBody = true
	p.mutex.Unlock()
}

func (p *testProvider) FailOrders(details *ProblemDetails) {
	p.mutex.Lock()
	p.orderProblem = details
	p.mutex.Unlock()
}

func (p *testProvider) NbNonceGets() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.nbNonceGets
}

func (p *testProvider) OrderRequests() []NewOrder {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]NewOrder(nil), p.orderRequests...)
}

func (p *testProvider) OrderRequestNonces() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.orderRequestNonces...)
}

func (p *testProvider) UsedNonces() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return append([]string(nil), p.usedNonces...)
}

func (p *testProvider) hDirectory(w http.ResponseWriter, req *http.Request) {
	endpoints := Endpoints{
		NewNonce:   p.server.URL + "/new-nonce",
		NewAccount: p.server.URL + "/new-account",
		NewOrder:   p.server.URL + "/new-order",
		RevokeCert: p.server.URL + "/revoke-cert",
		KeyChange:  p.server.URL + "/key-change",
	}

	p.replyJSON(w, 200, &endpoints)
}

func (p *testProvider) hNewNonce(w http.ResponseWriter, req *http.Request) {
	p.mutex.Lock()
	p.nbNonces++
	p.nbNonceGets++
	nonce := base64.RawURLEncoding.EncodeToString(
		[]byte("nonce-" + strconv.Itoa(p.nbNonces)))
	p.pendingNonces[nonce] = struct{}{}
	p.mutex.Unlock()

	w.Header().Set("Replay-Nonce", nonce)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(200)
}

func (p *testProvider) hNewAccount(w http.ResponseWriter, req *http.Request) {
	sreq, ok := p.readSignedRequest(w, req)
	if !ok {
		return
	}

	if sreq.JWK == nil {
		p.replyProblem(w, 400, ErrorTypeMalformed, "missing jwk header")
		return
	}

	var newAccount NewAccount
	if err := json.Unmarshal(sreq.Payload, &newAccount); err != nil {
		p.replyProblem(w, 400, ErrorTypeMalformed, err.Error())
		return
	}

	thumbprint, err := sreq.JWK.Thumbprint(crypto.SHA256)
	if err != nil {
		p.replyProblem(w, 400, ErrorTypeBadPublicKey, err.Error())
		return
	}

	p.mutex.Lock()
	status := 200
	uri, found := p.accountsByKey[string(thumbprint)]
	if !found {
		status = 201
		uri = fmt.Sprintf("%s/account/%d", p.server.URL, len(p.accountKeys)+1)
		p.accountsByKey[string(thumbprint)] = uri
		p.accountKeys[uri] = sreq.JWK
	}
	p.mutex.Unlock()

	account := AccountObject{
		Status:               AccountStatusValid,
		Contact:              newAccount.Contact,
		TermsOfServiceAgreed: newAccount.TermsOfServiceAgreed,
		Orders:               uri + "/orders",
	}

	w.Header().Set("Location", uri)
	p.replyJSON(w, status, &account)
}

func (p *testProvider) hNewOrder(w http.ResponseWriter, req *http.Request) {
	sreq, ok := p.readSignedRequest(w, req)
	if !ok {
		return
	}

	var newOrder NewOrder
	if err := json.Unmarshal(sreq.Payload, &newOrder); err != nil {
		p.replyProblem(w, 400, ErrorTypeMalformed, err.Error())
		return
	}

	p.mutex.Lock()
	p.orderRequests = append(p.orderRequests, newOrder)
	p.orderRequestNonces = append(p.orderRequestNonces, sreq.Nonce)

	if details := p.orderProblem; details != nil {
		p.mutex.Unlock()
		p.replyProblem(w, details.Status, details.Type, details.Detail)
		return
	}

	id := strconv.Itoa(len(p.orders) + 1)
	uri := p.server.URL + "/order/" + id

	order := OrderObject{
		Status:      OrderStatusPending,
		Identifiers: newOrder.Identifiers,
		Finalize:    uri + "/finalize",
	}

	for i := range newOrder.Identifiers {
		order.Authorizations = append(order.Authorizations,
			fmt.Sprintf("%s/authz/%s-%d", p.server.URL, id, i))
	}

	p.orders[id] = &order
	omitLocation := p.omitOrderLocation
	corruptBody := p.corruptOrderBody
	extendBody := p.extendOrderBody
	p.mutex.Unlock()

	if !omitLocation {
		w.Header().Set("Location", uri)
	}

	switch {
	case corruptBody:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(201)
		w.Write([]byte("<html><body>order created</body></html>"))

	case extendBody:
		extendedOrder := struct {
			OrderObject
			Profile string         `json:"profile"`
			Meta    map[string]any `json:"x-meta"`
		}{
			OrderObject: order,
			Profile:     "classic",
			Meta:        map[string]any{"shard": 3},
		}

		p.replyJSON(w, 201, &extendedOrder)

	default:
		p.replyJSON(w, 201, &order)
	}
}

func (p *testProvider) hOrder(w http.ResponseWriter, req *http.Request) {
	sreq, ok := p.readSignedRequest(w, req)
	if !ok {
		return
	}

	if len(sreq.Payload) > 0 {
		p.replyProblem(w, 400, ErrorTypeMalformed,
			"POST-as-GET request with a non-empty payload")
		return
	}

	p.mutex.Lock()
	order := p.orders[req.PathValue("id")]
	p.mutex.Unlock()

	if order == nil {
		p.replyProblem(w, 404, ErrorTypeMalformed, "unknown order")
		return
	}

	p.replyJSON(w, 200, order)
}

func (p *testProvider) readSignedRequest(w http.ResponseWriter, req *http.Request) (*testSignedRequest, bool) {
	if ct := req.Header.Get("Content-Type"); ct != "application/jose+json" {
		p.replyProblem(w, 415, ErrorTypeMalformed,
			fmt.Sprintf("invalid content type %q", ct))
		return nil, false
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		p.replyProblem(w, 400, ErrorTypeMalformed, err.Error())
		return nil, false
	}

	jws, err := jose.ParseSigned(string(body),
		[]jose.SignatureAlgorithm{jose.ES256, jose.ES384, jose.ES512})
	if err != nil {
		p.replyProblem(w, 400, ErrorTypeMalformed, err.Error())
		return nil, false
	}

	if len(jws.Signatures) != 1 {
		p.replyProblem(w, 400, ErrorTypeMalformed, "invalid number of signatures")
		return nil, false
	}

	header := jws.Signatures[0].Protected

	sreq := testSignedRequest{
		Nonce: header.Nonce,
		KeyID: header.KeyID,
		JWK:   header.JSONWebKey,
	}

	sreq.URL, _ = header.ExtraHeaders["url"].(string)
	if sreq.URL != p.server.URL+req.URL.Path {
		p.replyProblem(w, 401, ErrorTypeUnauthorized,
			fmt.Sprintf("invalid url header %q", sreq.URL))
		return nil, false
	}

	if (sreq.KeyID == "") == (sreq.JWK == nil) {
		p.replyProblem(w, 400, ErrorTypeMalformed,
			"exactly one of kid and jwk must be set")
		return nil, false
	}

	p.mutex.Lock()

	p.usedNonces = append(p.usedNonces, sreq.Nonce)

	_, pending := p.pendingNonces[sreq.Nonce]
	delete(p.pendingNonces, sreq.Nonce)

	reject := !pending
	if p.badNonceRejections > 0 {
		p.badNonceRejections--
		reject = true
	}

	key := sreq.JWK
	if key == nil {
		key = p.accountKeys[sreq.KeyID]
	}

	p.mutex.Unlock()

	if reject {
		p.replyProblem(w, 400, ErrorTypeBadNonce, "invalid nonce")
		return nil, false
	}

	if key == nil {
		p.replyProblem(w, 400, ErrorTypeAccountDoesNotExist,
			fmt.Sprintf("unknown account %q", sreq.KeyID))
		return nil, false
	}

	payload, err := jws.Verify(key)
	if err != nil {
		p.replyProblem(w, 401, ErrorTypeUnauthorized, err.Error())
		return nil, false
	}
	sreq.Payload = payload

	return &sreq, true
}

func (p *testProvider) replyJSON(w http.ResponseWriter, status int, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		p.t.Errorf("cannot encode response body: %v", err)
		w.WriteHeader(500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func (p *testProvider) replyProblem(w http.ResponseWriter, status int, errType ErrorType, detail string) {
	details := ProblemDetails{
		Type:   errType,
		Detail: detail,
		Status: status,
	}

	data, _ := json.Marshal(&details)

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	w.Write(data)
}

func newTestLogger() *log.Logger {
	return log.DefaultLogger("test")
}

func newTestDirectory(t *testing.T, p *testProvider, persist Persist) *Directory {
	if persist == nil {
		persist = NewMemoryPersist()
	}

	cfg := DirectoryCfg{
		Log:     newTestLogger(),
		Persist: persist,
		URI:     p.DirectoryURI(),
	}

	d, err := NewDirectory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("cannot create directory: %v", err)
	}

	return d
}

func newTestAccount(t *testing.T, p *testProvider) *Account {
	d := newTestDirectory(t, p, nil)

	a, err := d.Account(context.Background(), "foo@bar.com")
	if err != nil {
		t.Fatalf("cannot create account: %v", err)
	}

	return a
}
