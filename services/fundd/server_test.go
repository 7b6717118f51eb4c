package fundd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"invfund/config"
	"invfund/native/accounting"
	"invfund/native/fees"
	"invfund/storage"
)

const testToken = "test-token"

var (
	testUser = "0x0000000000000000000000000000000000000001"
	testPool = [20]byte{19: 0xaa}
	testOrch = [20]byte{19: 0x07}
)

func wadStr(units int64) string {
	w, _ := new(big.Int).SetString("1000000000000000000", 10)
	return new(big.Int).Mul(big.NewInt(units), w).String()
}

func newTestServer(t *testing.T) (*httptest.Server, *Node) {
	t.Helper()
	schedule, err := fees.NewSchedule(big.NewInt(0))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	userAddr, err := parseAddr(testUser)
	if err != nil {
		t.Fatalf("user address: %v", err)
	}
	wad, _ := new(big.Int).SetString("1000000000000000000", 10)
	params := &config.FundParams{
		Orchestrator: testOrch,
		Pool:         testPool,
		Accounting: &accounting.Config{
			MinRebalanceAmount: new(big.Int).Set(wad),
			ManagementFee:      big.NewInt(0),
			MinimumMintingFee:  big.NewInt(0),
			MinimumTrade:       big.NewInt(0),
			BalancePrecision:   18,
			Schedule:           schedule,
		},
		Assets:    map[string]uint8{"USDC": 6},
		Whitelist: [][20]byte{userAddr},
		Genesis: &config.GenesisParams{
			Price:           mulWad(1000),
			CashPerToken:    mulWad(2000),
			BalancePerToken: new(big.Int).Set(wad),
			LendingFee:      mulWad(365),
			InitialSupply:   mulWad(1000),
			InitialHolder:   testPool,
		},
	}
	node, err := NewNode(storage.NewMemDB(), params)
	if err != nil {
		t.Fatalf("node: %v", err)
	}
	srv := NewServer(node, NewAuthenticator(testToken), RateLimitConfig{PerSecond: 1000, Burst: 1000}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, node
}

func mulWad(units int64) *big.Int {
	w, _ := new(big.Int).SetString("1000000000000000000", 10)
	return new(big.Int).Mul(big.NewInt(units), w)
}

func postJSON(t *testing.T, url string, payload any, token string) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestServerQuoteAndCreateOrder(t *testing.T) {
	ts, node := newTestServer(t)

	quoteURL := fmt.Sprintf("%s/api/v1/quotes/create?cash=%s&price=%s", ts.URL, wadStr(5000), wadStr(1000))
	resp, err := http.Get(quoteURL)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("quote status: %d", resp.StatusCode)
	}
	var quote map[string]string
	decodeBody(t, resp, &quote)
	if quote["tokens"] != wadStr(5) {
		t.Fatalf("unexpected quote: %s", quote["tokens"])
	}

	resp = postJSON(t, ts.URL+"/api/v1/orders/create", orderRequest{
		Success:        true,
		User:           testUser,
		TokensGiven:    wadStr(5000),
		TokensReceived: quote["tokens"],
		ExecutionPrice: wadStr(1000),
		Stablecoin:     "USDC",
	}, testToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status: %d", resp.StatusCode)
	}
	var order orderResponse
	decodeBody(t, resp, &order)
	if order.Type != "CREATE" || order.Status != "SUCCESS" {
		t.Fatalf("unexpected order: %+v", order)
	}

	userAddr, _ := parseAddr(testUser)
	balance, err := node.token.BalanceOf(userAddr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.String() != wadStr(5) {
		t.Fatalf("tokens not minted: %s", balance)
	}

	resp, err = http.Get(ts.URL + "/api/v1/orders/" + testUser)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var list []orderResponse
	decodeBody(t, resp, &list)
	if len(list) != 1 || list[0].Index != 0 {
		t.Fatalf("unexpected order list: %+v", list)
	}
}

func TestServerRequiresBearerToken(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/orders/create", orderRequest{
		Success:     true,
		User:        testUser,
		TokensGiven: wadStr(5000),
	}, "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/api/v1/orders/create", orderRequest{
		Success:     true,
		User:        testUser,
		TokensGiven: wadStr(5000),
	}, "wrong-token")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", resp.StatusCode)
	}
}

func TestServerRejectsUnknownUser(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/orders/create", orderRequest{
		Success:        true,
		User:           "0x00000000000000000000000000000000000000ff",
		TokensGiven:    wadStr(5000),
		TokensReceived: wadStr(5),
		ExecutionPrice: wadStr(1000),
		Stablecoin:     "USDC",
	}, testToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestServerDailyRebalanceSteadyState(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/rebalance/daily", rebalanceRequest{
		Price:           wadStr(1000),
		LendingFeeRate:  wadStr(365),
		EndCashPosition: wadStr(2_000_000),
		EndBalance:      wadStr(1000),
		TotalSupply:     wadStr(1000),
		TotalFeeRate:    wadStr(365),
	}, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rebalance status: %d", resp.StatusCode)
	}
	var result rebalanceResponse
	decodeBody(t, resp, &result)
	if result.EndCashPosition != wadStr(2_000_000) {
		t.Fatalf("unexpected end cash: %s", result.EndCashPosition)
	}

	resp, err := http.Get(ts.URL + "/api/v1/accounting/current")
	if err != nil {
		t.Fatalf("accounting: %v", err)
	}
	var snapshot snapshotResponse
	decodeBody(t, resp, &snapshot)
	if snapshot.CashPerToken != wadStr(2000) {
		t.Fatalf("unexpected cash per token: %s", snapshot.CashPerToken)
	}
}

func TestServerDailyRebalanceMismatchConflicts(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/rebalance/daily", rebalanceRequest{
		Price:           wadStr(1000),
		LendingFeeRate:  wadStr(365),
		EndCashPosition: wadStr(1_999_999),
		EndBalance:      wadStr(1000),
		TotalSupply:     wadStr(1000),
		TotalFeeRate:    wadStr(365),
	}, testToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestServerPoolDepositAndRedeem(t *testing.T) {
	ts, node := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/admin/pool/deposit", depositRequest{
		Asset:  "USDC",
		Amount: "10000000000", // 10,000 USDC at 6 decimals
	}, testToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deposit status: %d", resp.StatusCode)
	}

	// Redeeming 5 pooled tokens pays out against the funded inventory.
	resp = postJSON(t, ts.URL+"/api/v1/orders/redeem", orderRequest{
		Success:        true,
		User:           testUser,
		TokensGiven:    wadStr(5),
		TokensReceived: wadStr(5000),
		ExecutionPrice: wadStr(1000),
		Stablecoin:     "USDC",
	}, testToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("redeem status: %d", resp.StatusCode)
	}
	var order orderResponse
	decodeBody(t, resp, &order)
	if order.Status != "SETTLED" {
		t.Fatalf("unexpected redeem status: %s", order.Status)
	}

	remaining, err := node.pool.Balance("USDC")
	if err != nil {
		t.Fatalf("pool balance: %v", err)
	}
	if remaining.String() != "5000000000" {
		t.Fatalf("unexpected pool balance: %s", remaining)
	}
}
