package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"vaulttoken/core/runtime"
	"vaulttoken/core/types"
	"vaulttoken/gateway/middleware"
	"vaulttoken/indexer"
	"vaulttoken/native/receiver"
	"vaulttoken/native/vault"
	"vaulttoken/storage"
)

const tokenAccount = types.AccountID("token")

type fakeEvents struct {
	last    indexer.Filter
	entries []indexer.Entry
}

func (f *fakeEvents) List(_ context.Context, filter indexer.Filter) ([]indexer.Entry, error) {
	f.last = filter
	return f.entries, nil
}

type testServer struct {
	t       *testing.T
	handler http.Handler
	rt      *runtime.Runtime
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()
	rt, err := runtime.New(storage.NewMemDB(), runtime.DefaultConfig())
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if err := rt.Deploy(tokenAccount, vault.NewContract(vault.DefaultConfig())); err != nil {
		t.Fatalf("deploy token: %v", err)
	}
	claimer := receiver.NewClaimer(tokenAccount, 6_000)
	if err := rt.Deploy("shop", claimer); err != nil {
		t.Fatalf("deploy receiver: %v", err)
	}
	for _, account := range []types.AccountID{"owner", "shop"} {
		if err := rt.CreditNative(account, uint256.MustFromDecimal("1000000000000000000000000")); err != nil {
			t.Fatalf("fund %s: %v", account, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	cfg.Runtime = rt
	cfg.Token = tokenAccount
	if cfg.AwaitTimeout == 0 {
		cfg.AwaitTimeout = 5 * time.Second
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return &testServer{t: t, handler: handler, rt: rt}
}

func (s *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	res := httptest.NewRecorder()
	s.handler.ServeHTTP(res, req)
	return res
}

func (s *testServer) get(path string) *httptest.ResponseRecorder {
	return s.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (s *testServer) tx(caller types.AccountID, body map[string]any) *httptest.ResponseRecorder {
	s.t.Helper()
	encoded, err := json.Marshal(body)
	if err != nil {
		s.t.Fatalf("encode: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/tx", bytes.NewReader(encoded))
	if caller != "" {
		req.Header.Set(middleware.HeaderAccountID, caller.String())
	}
	return s.do(req)
}

func (s *testServer) mustSucceed(res *httptest.ResponseRecorder) outcomeView {
	s.t.Helper()
	if res.Code != http.StatusOK {
		s.t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	var out outcomeView
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		s.t.Fatalf("decode outcome: %v", err)
	}
	if out.Status != runtime.StatusSuccess {
		s.t.Fatalf("expected success, got %s (%s)", out.Status, out.Error)
	}
	return out
}

func (s *testServer) initialize() {
	s.t.Helper()
	s.mustSucceed(s.tx("owner", map[string]any{
		"method": vault.MethodNew,
		"args":   map[string]any{"owner_id": "owner", "total_supply": "1000"},
	}))
}

func decodeString(t *testing.T, raw []byte) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return s
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Config{})
	res := s.get("/healthz")
	if res.Code != http.StatusOK || res.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", res.Code, res.Body.String())
	}
}

func TestNewRequiresRuntime(t *testing.T) {
	if _, err := New(Config{Token: tokenAccount}); err == nil {
		t.Fatalf("expected an error without a runtime")
	}
}

func TestSubmitRequiresCaller(t *testing.T) {
	s := newTestServer(t, Config{})
	res := s.tx("", map[string]any{"method": vault.MethodTotalSupply})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
}

func TestSubmitRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t, Config{})
	res := s.tx("owner", map[string]any{"method": vault.MethodNew, "signer": "someone"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestSafeTransferOverHTTP(t *testing.T) {
	s := newTestServer(t, Config{})
	s.initialize()

	s.mustSucceed(s.tx("shop", map[string]any{
		"method":  vault.MethodRegisterAccount,
		"deposit": "10000000000000000000000",
	}))
	out := s.mustSucceed(s.tx("owner", map[string]any{
		"method": vault.MethodTransferWithVault,
		"args":   map[string]any{"receiver_id": "shop", "amount": "100", "payload": ""},
	}))
	if got := decodeString(t, out.Result); got != "40" {
		t.Fatalf("expected 40 refunded, got %s", got)
	}

	res := s.get("/v1/accounts/shop/balance")
	if res.Code != http.StatusOK {
		t.Fatalf("balance: %d %s", res.Code, res.Body.String())
	}
	if got := decodeString(t, res.Body.Bytes()); got != "60" {
		t.Fatalf("expected shop balance 60, got %s", got)
	}
	res = s.get("/v1/accounts/owner/balance")
	if got := decodeString(t, res.Body.Bytes()); got != "940" {
		t.Fatalf("expected owner balance 940, got %s", got)
	}
	res = s.get("/v1/token")
	if got := decodeString(t, res.Body.Bytes()); got != "1000" {
		t.Fatalf("expected supply 1000, got %s", got)
	}
	if res := s.get("/v1/vaults/0"); res.Code != http.StatusNotFound {
		t.Fatalf("resolved vault should be gone, got %d", res.Code)
	}
	res = s.get("/v1/receipts/" + out.ReceiptID)
	if res.Code != http.StatusOK {
		t.Fatalf("receipt lookup: %d", res.Code)
	}
}

func TestFailedCallReportsOutcome(t *testing.T) {
	s := newTestServer(t, Config{})
	s.initialize()

	res := s.tx("owner", map[string]any{
		"method": vault.MethodTransfer,
		"args":   map[string]any{"receiver_id": "nobody", "amount": "5"},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected the outcome to be returned, got %d", res.Code)
	}
	var out outcomeView
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != runtime.StatusFailed || out.Error == "" {
		t.Fatalf("expected a failed outcome, got %+v", out)
	}
}

func TestSubmitRejectsTokenAccountAsSigner(t *testing.T) {
	s := newTestServer(t, Config{})
	s.initialize()

	res := s.tx(tokenAccount, map[string]any{
		"method": vault.MethodResolveVault,
		"args":   map[string]any{"vault_id": "0", "sender_id": "owner"},
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a call signed by the token account, got %d: %s", res.Code, res.Body.String())
	}
}

func TestSubmitAsync(t *testing.T) {
	s := newTestServer(t, Config{})
	res := s.tx("owner", map[string]any{
		"method": vault.MethodNew,
		"args":   map[string]any{"owner_id": "owner", "total_supply": "10"},
		"async":  true,
	})
	if res.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", res.Code)
	}
	var out outcomeView
	if err := json.Unmarshal(res.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Header().Get("Location") != "/v1/receipts/"+out.ReceiptID {
		t.Fatalf("unexpected location %q", res.Header().Get("Location"))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	final, err := s.rt.Await(ctx, out.ReceiptID)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if final.Status != runtime.StatusSuccess {
		t.Fatalf("expected success, got %s", final.Status)
	}
}

func TestReadErrors(t *testing.T) {
	s := newTestServer(t, Config{})
	cases := map[string]int{
		"/v1/token":                   http.StatusServiceUnavailable,
		"/v1/vaults/abc":              http.StatusBadRequest,
		"/v1/receipts/missing":        http.StatusNotFound,
		"/v1/accounts/A!/balance":     http.StatusBadRequest,
		"/v1/accounts/owner/native":   http.StatusOK,
		"/v1/accounts/owner/storage":  http.StatusOK,
		"/v1/events":                  http.StatusServiceUnavailable,
		"/v1/events/stream":           http.StatusNotFound,
		"/v1/accounts/owner/unknown/": http.StatusNotFound,
	}
	for path, want := range cases {
		if res := s.get(path); res.Code != want {
			t.Fatalf("%s: expected %d, got %d (%s)", path, want, res.Code, res.Body.String())
		}
	}
}

func TestNativeBalance(t *testing.T) {
	s := newTestServer(t, Config{})
	res := s.get("/v1/accounts/owner/native")
	var body struct {
		Account types.AccountID `json:"account"`
		Balance types.Amount    `json:"balance"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Account != "owner" || body.Balance.Dec() != "1000000000000000000000000" {
		t.Fatalf("unexpected native balance %+v", body)
	}
}

func TestListEventsParsesFilter(t *testing.T) {
	events := &fakeEvents{entries: []indexer.Entry{{Sequence: 4, Type: "vault.opened"}}}
	s := newTestServer(t, Config{Events: events})

	res := s.get("/v1/events?type=vault.opened&vault=7&account=alice&after=3&limit=5")
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if events.last.Type != "vault.opened" || events.last.VaultID == nil || *events.last.VaultID != 7 ||
		events.last.Account != "alice" || events.last.After != 3 || events.last.Limit != 5 {
		t.Fatalf("unexpected filter %+v", events.last)
	}
	var body struct {
		Events []indexer.Entry `json:"events"`
	}
	if err := json.Unmarshal(res.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Sequence != 4 {
		t.Fatalf("unexpected events %+v", body.Events)
	}

	if res := s.get("/v1/events?limit=-1"); res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a negative limit, got %d", res.Code)
	}
}

func TestAuthenticatedSubmit(t *testing.T) {
	auth := middleware.NewAuthenticator(middleware.AuthConfig{Enabled: true, HMACSecret: "secret"}, nil)
	s := newTestServer(t, Config{Authenticator: auth})

	body := []byte(`{"method":"new","args":{"owner_id":"owner","total_supply":"10"}}`)
	readOnly, err := auth.IssueToken("owner", []string{"read"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/tx", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+readOnly)
	if res := s.do(req); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without the tx scope, got %d", res.Code)
	}

	token, err := auth.IssueToken("owner", []string{ScopeTx}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/v1/tx", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(middleware.HeaderAccountID, "mallory")
	s.mustSucceed(s.do(req))
}

func TestRateLimitedReads(t *testing.T) {
	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		RateLimitRead: {RatePerSecond: 0.001, Burst: 1},
	}, nil)
	s := newTestServer(t, Config{RateLimiter: limiter})
	if res := s.get("/v1/accounts/owner/native"); res.Code != http.StatusOK {
		t.Fatalf("first read should pass, got %d", res.Code)
	}
	if res := s.get("/v1/accounts/owner/native"); res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", res.Code)
	}
	if res := s.get("/healthz"); res.Code != http.StatusOK {
		t.Fatalf("health must not be limited, got %d", res.Code)
	}
}
