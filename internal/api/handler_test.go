package api

import (
	"bytes"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mtds-alfa/kipu-bank-v2/internal/access"
	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
	"github.com/mtds-alfa/kipu-bank-v2/internal/ledger"
	"github.com/mtds-alfa/kipu-bank-v2/internal/pricing"
	"github.com/mtds-alfa/kipu-bank-v2/internal/registry"
	"github.com/mtds-alfa/kipu-bank-v2/internal/transfer/memory"
	"github.com/mtds-alfa/kipu-bank-v2/pkg/crypto"
	"github.com/mtds-alfa/kipu-bank-v2/pkg/metrics"
)

type testEnv struct {
	server *httptest.Server
	vault  *memory.Vault
	bank   *ledger.Ledger
	signer *crypto.Signer
}

type nopNotifier struct{}

func (nopNotifier) Publish(domain.Event) {}

func setupTestEnv(t *testing.T, signer *crypto.Signer) *testEnv {
	t.Helper()

	vault := memory.NewVault()
	notifier := nopNotifier{}

	nativeSrc := pricing.NewStaticSource("static:native", big.NewInt(2000_00000000), pricing.QuoteDecimals)
	reg, err := registry.NewRegistry("native", nativeSrc, 18, notifier, nil)
	if err != nil {
		t.Fatalf("registry setup failed: %v", err)
	}
	tokSrc := pricing.NewStaticSource("static:tok", big.NewInt(2_00000000), pricing.QuoteDecimals)
	if err := reg.Add("tok", tokSrc, 6); err != nil {
		t.Fatalf("token registration failed: %v", err)
	}

	bank := ledger.NewLedger(
		ledger.Params{
			Admin:              "admin",
			BankCapUSD:         big.NewInt(1_000_000_000_000), // 1,000,000 USD
			WithdrawalLimitUSD: big.NewInt(10_000_000_000),    // 10,000 USD
		},
		reg,
		pricing.NewConverter(nil),
		access.NewRoleSet("admin"),
		vault,
		notifier,
		nil,
	)

	handler := NewAPIHandler(bank, vault, metrics.NewCollector(nil), signer, nil, Options{})
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testEnv{server: server, vault: vault, bank: bank, signer: signer}
}

func (env *testEnv) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	return env.do(t, http.MethodPost, path, body)
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func TestAPI_DepositAndBalance(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.vault.Mint("tok", "alice", big.NewInt(100_000000))

	resp := env.post(t, "/api/v1/deposits", DepositRequest{
		Caller: "alice", Asset: "tok", Amount: "100000000", // 100 tok
	})
	expectStatus(t, resp, http.StatusCreated)
	op := decode[OperationResponse](t, resp)
	if op.UsdValue != "200000000" { // 200 USD
		t.Errorf("expected usd_value 200000000, got %s", op.UsdValue)
	}

	resp = env.do(t, http.MethodGet, "/api/v1/balances?asset=tok&holder=alice", nil)
	expectStatus(t, resp, http.StatusOK)
	balance := decode[map[string]string](t, resp)
	if balance["balance"] != "100000000" {
		t.Errorf("expected balance 100000000, got %s", balance["balance"])
	}
	if balance["usd_balance"] != "200000000" {
		t.Errorf("expected usd_balance 200000000, got %s", balance["usd_balance"])
	}
}

func TestAPI_NativeDepositRoundTrip(t *testing.T) {
	env := setupTestEnv(t, nil)
	one := "1000000000000000000" // 1.0 native
	env.vault.Mint("native", "alice", mustBigInt(t, one))

	resp := env.post(t, "/api/v1/deposits", DepositRequest{
		Caller: "alice", Asset: "native", Amount: one, Payment: one,
	})
	expectStatus(t, resp, http.StatusCreated)
	op := decode[OperationResponse](t, resp)
	if op.UsdValue != "2000000000" { // 2000 USD
		t.Errorf("expected usd_value 2000000000, got %s", op.UsdValue)
	}

	// The payment moved into custody.
	if got := env.vault.BalanceOf("native", "alice"); got.Sign() != 0 {
		t.Errorf("expected empty alice vault balance, got %s", got)
	}
}

func TestAPI_NativeDepositRefundOnRejection(t *testing.T) {
	env := setupTestEnv(t, nil)
	one := "1000000000000000000"
	env.vault.Mint("native", "alice", mustBigInt(t, one))

	// Payment differs from amount: the ledger rejects and the handler must
	// refund the already-delivered payment.
	resp := env.post(t, "/api/v1/deposits", DepositRequest{
		Caller: "alice", Asset: "native", Amount: "1", Payment: one,
	})
	expectStatus(t, resp, http.StatusBadRequest)

	if got := env.vault.BalanceOf("native", "alice"); got.Cmp(mustBigInt(t, one)) != 0 {
		t.Errorf("payment not refunded: alice holds %s", got)
	}
}

func TestAPI_WithdrawFlow(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.vault.Mint("tok", "alice", big.NewInt(100_000000))
	resp := env.post(t, "/api/v1/deposits", DepositRequest{Caller: "alice", Asset: "tok", Amount: "100000000"})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = env.post(t, "/api/v1/withdrawals", WithdrawRequest{Caller: "alice", Asset: "tok", Amount: "40000000"})
	expectStatus(t, resp, http.StatusOK)
	op := decode[OperationResponse](t, resp)
	if op.UsdValue != "80000000" { // 80 USD
		t.Errorf("expected usd_value 80000000, got %s", op.UsdValue)
	}
	if got := env.vault.BalanceOf("tok", "alice"); got.Cmp(big.NewInt(40_000000)) != 0 {
		t.Errorf("expected alice to receive 40 tok, got %s", got)
	}
}

func TestAPI_WithdrawInsufficientBalance(t *testing.T) {
	env := setupTestEnv(t, nil)

	resp := env.post(t, "/api/v1/withdrawals", WithdrawRequest{Caller: "alice", Asset: "tok", Amount: "1"})
	expectStatus(t, resp, http.StatusConflict)
	errResp := decode[ErrorResponse](t, resp)
	if errResp.Code != "INSUFFICIENT_BALANCE" {
		t.Errorf("expected code INSUFFICIENT_BALANCE, got %s", errResp.Code)
	}
}

func TestAPI_DepositValidation(t *testing.T) {
	env := setupTestEnv(t, nil)

	cases := []struct {
		name string
		req  DepositRequest
	}{
		{"zero amount", DepositRequest{Caller: "alice", Asset: "tok", Amount: "0"}},
		{"negative amount", DepositRequest{Caller: "alice", Asset: "tok", Amount: "-5"}},
		{"non-numeric amount", DepositRequest{Caller: "alice", Asset: "tok", Amount: "ten"}},
		{"empty caller", DepositRequest{Asset: "tok", Amount: "1"}},
		{"bad asset chars", DepositRequest{Caller: "alice", Asset: "to k!", Amount: "1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.post(t, "/api/v1/deposits", tc.req)
			expectStatus(t, resp, http.StatusBadRequest)
			resp.Body.Close()
		})
	}
}

func TestAPI_UnknownAssetIs404(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.vault.Mint("ghost", "alice", big.NewInt(10))

	resp := env.post(t, "/api/v1/deposits", DepositRequest{Caller: "alice", Asset: "ghost", Amount: "10"})
	expectStatus(t, resp, http.StatusNotFound)
	errResp := decode[ErrorResponse](t, resp)
	if errResp.Code != "ASSET_NOT_SUPPORTED" {
		t.Errorf("expected code ASSET_NOT_SUPPORTED, got %s", errResp.Code)
	}
}

func TestAPI_AdminToken(t *testing.T) {
	env := setupTestEnv(t, nil)

	resp := env.post(t, "/api/v1/admin/tokens", AddTokenRequest{
		Caller: "admin", Asset: "dai", Decimals: 18, PriceUSD: "100000000",
	})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/v1/assets", nil)
	expectStatus(t, resp, http.StatusOK)
	assets := decode[struct {
		Assets []string `json:"assets"`
		Count  int      `json:"count"`
	}](t, resp)
	if assets.Count != 3 {
		t.Errorf("expected 3 assets, got %d", assets.Count)
	}

	resp = env.do(t, http.MethodDelete, "/api/v1/admin/tokens/dai?caller=admin", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAPI_AdminTokenUnauthorized(t *testing.T) {
	env := setupTestEnv(t, nil)

	resp := env.post(t, "/api/v1/admin/tokens", AddTokenRequest{
		Caller: "mallory", Asset: "dai", Decimals: 18, PriceUSD: "100000000",
	})
	expectStatus(t, resp, http.StatusForbidden)
	errResp := decode[ErrorResponse](t, resp)
	if errResp.Code != "UNAUTHORIZED" {
		t.Errorf("expected code UNAUTHORIZED, got %s", errResp.Code)
	}
}

func TestAPI_SignedAdminRequests(t *testing.T) {
	signer := crypto.NewSigner("test-secret", nil)
	env := setupTestEnv(t, signer)

	path := "/api/v1/admin/bank-cap"
	timestamp := int64(1700000000)

	// Unsigned request is rejected outright.
	resp := env.do(t, http.MethodPut, path, SetParamRequest{Caller: "admin", ValueUSD: "500"})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// Wrong signature is rejected.
	resp = env.do(t, http.MethodPut, path, SetParamRequest{
		Caller: "admin", ValueUSD: "500", Timestamp: timestamp, Signature: "bogus",
	})
	expectStatus(t, resp, http.StatusUnauthorized)
	resp.Body.Close()

	// Correctly signed request goes through.
	sig := signer.SignRequest("admin", http.MethodPut, path, timestamp)
	resp = env.do(t, http.MethodPut, path, SetParamRequest{
		Caller: "admin", ValueUSD: "500", Timestamp: timestamp, Signature: sig,
	})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	if got := env.bank.BankCap(); got.Cmp(big.NewInt(500)) != 0 {
		t.Errorf("expected cap 500, got %s", got)
	}
}

func TestAPI_RoleChangeAndEmergencyWithdraw(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.vault.Mint("tok", "alice", big.NewInt(50_000000))
	resp := env.post(t, "/api/v1/deposits", DepositRequest{Caller: "alice", Asset: "tok", Amount: "50000000"})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = env.post(t, "/api/v1/admin/roles", RoleChangeRequest{
		Caller: "admin", Address: "admin2", Role: "admin", Granted: true,
	})
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// The freshly granted admin can sweep.
	resp = env.post(t, "/api/v1/admin/emergency-withdrawals", EmergencyWithdrawRequest{
		Caller: "admin2", Asset: "tok",
	})
	expectStatus(t, resp, http.StatusOK)
	sweep := decode[map[string]string](t, resp)
	if sweep["swept"] != "50000000" {
		t.Errorf("expected swept 50000000, got %s", sweep["swept"])
	}
	if got := env.vault.BalanceOf("tok", "admin2"); got.Cmp(big.NewInt(50_000000)) != 0 {
		t.Errorf("swept funds missing from admin2, got %s", got)
	}
}

func TestAPI_QueryEndpoints(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.vault.Mint("tok", "alice", big.NewInt(25_000000))
	resp := env.post(t, "/api/v1/deposits", DepositRequest{Caller: "alice", Asset: "tok", Amount: "25000000"})
	expectStatus(t, resp, http.StatusCreated)
	resp.Body.Close()

	resp = env.do(t, http.MethodGet, "/api/v1/assets/tok/price", nil)
	expectStatus(t, resp, http.StatusOK)
	price := decode[map[string]any](t, resp)
	if price["price"] != "200000000" {
		t.Errorf("expected price 200000000, got %v", price["price"])
	}

	resp = env.do(t, http.MethodGet, "/api/v1/tvl", nil)
	expectStatus(t, resp, http.StatusOK)
	tvl := decode[map[string]string](t, resp)
	if tvl["total_value_locked_usd"] != "50000000" { // 50 USD
		t.Errorf("expected TVL 50000000, got %s", tvl["total_value_locked_usd"])
	}

	resp = env.do(t, http.MethodGet, "/api/v1/holders/alice/usd-balance", nil)
	expectStatus(t, resp, http.StatusOK)
	total := decode[map[string]string](t, resp)
	if total["total_usd_balance"] != "50000000" {
		t.Errorf("expected total 50000000, got %s", total["total_usd_balance"])
	}

	resp = env.do(t, http.MethodGet, "/api/v1/usd-value?asset=tok&amount=1000000", nil)
	expectStatus(t, resp, http.StatusOK)
	calc := decode[map[string]string](t, resp)
	if calc["usd_value"] != "2000000" { // 2 USD
		t.Errorf("expected usd_value 2000000, got %s", calc["usd_value"])
	}

	resp = env.do(t, http.MethodGet, "/api/health", nil)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestAPI_RateLimiting(t *testing.T) {
	env := setupTestEnvWithOptions(t, Options{RateLimitRPS: 1, RateLimitBurst: 2})
	env.vault.Mint("tok", "alice", big.NewInt(1_000_000000))

	limited := false
	for i := 0; i < 5; i++ {
		resp := env.post(t, "/api/v1/deposits", DepositRequest{Caller: "alice", Asset: "tok", Amount: "1000000"})
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
			resp.Body.Close()
			break
		}
		resp.Body.Close()
	}
	if !limited {
		t.Error("expected at least one rate-limited response")
	}
}

func setupTestEnvWithOptions(t *testing.T, opts Options) *testEnv {
	t.Helper()

	vault := memory.NewVault()
	nativeSrc := pricing.NewStaticSource("static:native", big.NewInt(2000_00000000), pricing.QuoteDecimals)
	reg, err := registry.NewRegistry("native", nativeSrc, 18, nopNotifier{}, nil)
	if err != nil {
		t.Fatalf("registry setup failed: %v", err)
	}
	tokSrc := pricing.NewStaticSource("static:tok", big.NewInt(2_00000000), pricing.QuoteDecimals)
	if err := reg.Add("tok", tokSrc, 6); err != nil {
		t.Fatalf("token registration failed: %v", err)
	}

	bank := ledger.NewLedger(
		ledger.Params{Admin: "admin", BankCapUSD: big.NewInt(1_000_000_000_000), WithdrawalLimitUSD: big.NewInt(10_000_000_000)},
		reg, pricing.NewConverter(nil), access.NewRoleSet("admin"), vault, nopNotifier{}, nil,
	)

	handler := NewAPIHandler(bank, vault, metrics.NewCollector(nil), nil, nil, opts)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return &testEnv{server: server, vault: vault, bank: bank}
}

func mustBigInt(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad big int literal %q", s)
	}
	return v
}
