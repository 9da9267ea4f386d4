package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"dropmarket/core"
	marketerrors "dropmarket/core/errors"
	"dropmarket/core/pricing"
	"dropmarket/native/assets"
	"dropmarket/native/assets/assetstest"
	"dropmarket/native/bank"
	"dropmarket/native/catalog"
	"dropmarket/native/coupon"
	"dropmarket/native/settlement"
	"dropmarket/storage"
)

var (
	owner     = common.HexToAddress("0x0000000000000000000000000000000000000100")
	treasury  = common.HexToAddress("0x0000000000000000000000000000000000000200")
	producer  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	publisher = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

// One cent at $2000 per native unit.
func wei(cents int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(cents), big.NewInt(5_000_000_000_000))
}

type apiHarness struct {
	t       *testing.T
	op      *core.Operator
	handler http.Handler
	round   uint64
}

func newAPIHarness(t *testing.T, auth AuthConfig) *apiHarness {
	t.Helper()
	clock := time.Unix(1_700_000_000, 0)
	op, err := core.NewOperator(storage.NewMemDB(), core.Options{
		Owner:    owner,
		Treasury: treasury,
		Caller:   assetstest.NewChain(),
		Verifier: coupon.PreimageVerifier{},
		Now:      func() time.Time { return clock },
	})
	require.NoError(t, err)
	round, err := op.PublishRound(owner, big.NewInt(2000_0000_0000))
	require.NoError(t, err)
	srv := New(Config{Operator: op, Auth: auth, ServiceName: "marketd-test"})
	return &apiHarness{t: t, op: op, handler: srv.Handler(), round: round}
}

func (h *apiHarness) do(method, path string, caller *common.Address, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set(CallerHeader, caller.Hex())
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func addr(a common.Address) *common.Address { return &a }

func (h *apiHarness) mint(uri string, price uint64) uint64 {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/v1/products", addr(producer), map[string]any{
		"uri":           uri,
		"price":         price,
		"commissionBps": 2000,
		"quantity":      5,
		"publishable":   true,
		"royaltyBps":    500,
	})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[tokenIDResult](h.t, rec).TokenID
}

func (h *apiHarness) fund(holder common.Address, amount *big.Int) {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/v1/admin/fund", addr(owner), map[string]any{
		"holder": holder,
		"amount": amount,
	})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealthzAndMetrics(t *testing.T) {
	h := newAPIHarness(t, AuthConfig{})

	rec := h.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	h.do(http.MethodGet, "/v1/admin", nil, nil)
	rec = h.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "dropmarket_api_requests_total")
}

func TestRequestIDIsEchoed(t *testing.T) {
	h := newAPIHarness(t, AuthConfig{})
	req := httptest.NewRequest(http.MethodGet, "/v1/admin", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	require.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestAdminEndpoints(t *testing.T) {
	h := newAPIHarness(t, AuthConfig{})

	admin := decode[adminResult](t, h.do(http.MethodGet, "/v1/admin", nil, nil))
	require.Equal(t, owner, admin.Owner)
	require.Equal(t, treasury, admin.Treasury)
	require.Equal(t, core.DefaultFeeBps, admin.FeeBps)

	rec := h.do(http.MethodPut, "/v1/admin/fee", addr(producer), map[string]any{"feeBps": 250})
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "forbidden", decode[ErrorBody](t, rec).Error.Code)

	rec = h.do(http.MethodPut, "/v1/admin/fee", addr(owner), map[string]any{"feeBps": 250})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, uint64(250), decode[adminResult](t, rec).FeeBps)

	rec = h.do(http.MethodPut, "/v1/admin/fee", addr(owner), map[string]any{"feeBps": 10_001})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/v1/admin/heartbeat", addr(owner), map[string]any{"seconds": 3600})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, uint64(3600), decode[adminResult](t, rec).HeartbeatSeconds)

	rec = h.do(http.MethodPut, "/v1/admin/owner", addr(owner), map[string]any{"owner": publisher})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, publisher, decode[adminResult](t, rec).Owner)

	rec = h.do(http.MethodPut, "/v1/admin/treasury", addr(owner), map[string]any{"treasury": buyer})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMutationsRequireCaller(t *testing.T) {
	h := newAPIHarness(t, AuthConfig{})
	rec := h.do(http.MethodPost, "/v1/products", nil, map[string]any{"uri": "ipfs://a", "quantity": 1})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/products", bytes.NewBufferString(`{}`))
	req.Header.Set(CallerHeader, "not-an-address")
	out := httptest.NewRecorder()
	h.handler.ServeHTTP(out, req)
	require.Equal(t, http.StatusUnauthorized, out.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	h := newAPIHarness(t, AuthConfig{})
	tokenID := h.mint("ipfs://shirt", 100)
	require.Equal(t, uint64(1), tokenID)

	product := decode[catalog.Product](t, h.do(http.MethodGet, "/v1/products/1", nil, nil))
	require.Equal(t, producer, product.Issuer)
	require.Equal(t, uint64(5), product.Supply)

	require.Equal(t, tokenID, decode[tokenIDResult](t, h.do(http.MethodGet, "/v1/tokens?uri=ipfs://shirt", nil, nil)).TokenID)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/tokens?uri=ipfs://none", nil, nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/products/9", nil, nil).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/products/abc", nil, nil).Code)

	listing := decode[catalog.Listing](t, h.do(http.MethodGet, "/v1/products/1/listings/"+producer.Hex(), nil, nil))
	require.Equal(t, uint64(100), listing.Price)
	require.True(t, listing.Publishable)

	units := decode[unitBalanceResult](t, h.do(http.MethodGet, "/v1/products/1/units/"+producer.Hex(), nil, nil))
	require.Equal(t, uint64(5), units.Units)

	rec := h.do(http.MethodPost, "/v1/products/1/transfers", addr(producer), map[string]any{"to": buyer, "quantity": 2})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	units = decode[unitBalanceResult](t, h.do(http.MethodGet, "/v1/products/1/units/"+buyer.Hex(), nil, nil))
	require.Equal(t, uint64(2), units.Units)

	rec = h.do(http.MethodPost, "/v1/products", addr(producer), map[string]any{"uri": "", "quantity": 1})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodPost, "/v1/products", addr(producer), map[string]any{"uri": "ipfs://x", "quantity": 1, "kind": "VINYL"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodDelete, "/v1/products/1/listing", addr(producer), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/products/1/listings/"+producer.Hex(), nil, nil).Code)
}

func TestPurchaseEndpoint(t *testing.T) {
	h := newAPIHarness(t, AuthConfig{})
	tokenID := h.mint("ipfs://mug", 100)
	h.fund(buyer, wei(500))

	body := map[string]any{
		"shop":    producer,
		"roundId": h.round,
		"items":   []map[string]any{{"tokenId": tokenID, "quantity": 1}},
		"payment": wei(100),
	}
	quote := h.do(http.MethodPost, "/v1/quotes", addr(buyer), body)
	require.Equal(t, http.StatusOK, quote.Code, quote.Body.String())
	plan := decode[settlement.Plan](t, quote)
	require.Zero(t, wei(100).Cmp(plan.Total))

	rec := h.do(http.MethodPost, "/v1/purchases", addr(buyer), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	receipt := decode[settlement.Receipt](t, rec)
	require.Equal(t, buyer, receipt.Buyer)
	require.Zero(t, wei(100).Cmp(receipt.Total))

	stored := decode[settlement.Receipt](t, h.do(http.MethodGet, "/v1/receipts/1", nil, nil))
	require.Equal(t, receipt.ID, stored.ID)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/receipts/77", nil, nil).Code)

	fee := decode[balanceResult](t, h.do(http.MethodGet, "/v1/accounts/"+treasury.Hex()+"/balances/native", nil, nil))
	require.Zero(t, wei(1).Cmp(fee.Balance))
	seller := decode[balanceResult](t, h.do(http.MethodGet, "/v1/accounts/"+producer.Hex()+"/balances/native", nil, nil))
	require.Zero(t, wei(99).Cmp(seller.Balance))

	body["payment"] = wei(90)
	rec = h.do(http.MethodPost, "/v1/purchases", addr(buyer), body)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "unprocessable", decode[ErrorBody](t, rec).Error.Code)

	body["payment"] = wei(100)
	body["roundId"] = h.round + 10
	rec = h.do(http.MethodPost, "/v1/purchases", addr(buyer), body)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCouponEndpoints(t *testing.T) {
	h := newAPIHarness(t, AuthConfig{})
	tokenID := h.mint("ipfs://poster", 200)
	h.fund(buyer, wei(500))

	secret := []byte("spring-sale")
	hash := coupon.HashSecret(secret)
	rec := h.do(http.MethodPost, "/v1/coupons", addr(producer), map[string]any{
		"secretHash":   hash,
		"isPercentage": false,
		"value":        50,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, producer, decode[coupon.Coupon](t, rec).Producer)

	rec = h.do(http.MethodPost, "/v1/coupons", addr(producer), map[string]any{"secretHash": hash, "value": 50})
	require.Equal(t, http.StatusConflict, rec.Code)

	body := map[string]any{
		"shop":    producer,
		"roundId": h.round,
		"items":   []map[string]any{{"tokenId": tokenID, "quantity": 1}},
		"coupon":  map[string]any{"secretHash": hash, "payload": "0x" + common.Bytes2Hex(secret)},
		"payment": wei(150),
	}
	rec = h.do(http.MethodPost, "/v1/purchases", addr(buyer), body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/v1/purchases", addr(buyer), body)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodDelete, "/v1/coupons/"+hash.Hex(), addr(buyer), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(http.MethodDelete, "/v1/coupons/"+hash.Hex(), addr(producer), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/coupons/"+hash.Hex(), nil, nil).Code)
	require.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/coupons/0x1234", nil, nil).Code)
}

func TestAffiliateRequestEndpoints(t *testing.T) {
	h := newAPIHarness(t, AuthConfig{})
	tokenID := h.mint("ipfs://cap", 100)

	rec := h.do(http.MethodPost, "/v1/requests", addr(publisher), map[string]any{"producer": producer, "tokenId": tokenID})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode[idResult](t, rec).ID

	rec = h.do(http.MethodPost, "/v1/requests", addr(publisher), map[string]any{"producer": producer, "tokenId": tokenID})
	require.Equal(t, http.StatusConflict, rec.Code)

	incoming := decode[idsResult](t, h.do(http.MethodGet, "/v1/accounts/"+producer.Hex()+"/requests/incoming", nil, nil))
	require.Equal(t, []uint64{id}, incoming.IDs)
	outgoing := decode[idsResult](t, h.do(http.MethodGet, "/v1/accounts/"+buyer.Hex()+"/requests/outgoing", nil, nil))
	require.Empty(t, outgoing.IDs)

	member := decode[membershipResult](t, h.do(http.MethodGet, "/v1/accounts/"+publisher.Hex()+"/requests/outgoing/1", nil, nil))
	require.True(t, member.Requested)

	require.Equal(t, http.StatusNotFound, h.do(http.MethodPost, "/v1/requests/1/approve", addr(buyer), nil).Code)
	require.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/v1/requests/1/approve", addr(producer), nil).Code)

	request := decode[map[string]any](t, h.do(http.MethodGet, "/v1/requests/1", nil, nil))
	require.Equal(t, true, request["accepted"])

	require.Equal(t, http.StatusConflict, h.do(http.MethodDelete, "/v1/requests/1", addr(publisher), nil).Code)
	require.Equal(t, http.StatusNoContent, h.do(http.MethodPost, "/v1/requests/1/disapprove", addr(producer), nil).Code)
	require.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/v1/requests/1", addr(publisher), nil).Code)
	require.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/requests/1", nil, nil).Code)
}

func TestAssetEndpoints(t *testing.T) {
	chain := assetstest.NewChain()
	token := common.HexToAddress("0x0000000000000000000000000000000000005d00")
	chain.Deploy(token, assetstest.Token{Symbol: "USDX", Decimals: 6, TotalSupply: big.NewInt(1_000_000)})

	op, err := core.NewOperator(storage.NewMemDB(), core.Options{Owner: owner, Caller: chain})
	require.NoError(t, err)
	h := &apiHarness{t: t, op: op, handler: New(Config{Operator: op}).Handler()}

	rec := h.do(http.MethodPost, "/v1/assets", addr(owner), map[string]any{"address": token})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "USDX", decode[map[string]any](t, rec)["symbol"])

	rec = h.do(http.MethodPost, "/v1/assets", addr(owner), map[string]any{"address": token})
	require.Equal(t, http.StatusConflict, rec.Code)

	list := decode[[]map[string]any](t, h.do(http.MethodGet, "/v1/assets", nil, nil))
	require.Len(t, list, 1)

	rec = h.do(http.MethodPost, "/v1/assets", addr(owner), map[string]any{"address": buyer})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	require.Equal(t, http.StatusNoContent, h.do(http.MethodDelete, "/v1/assets/"+token.Hex(), addr(owner), nil).Code)
	list = decode[[]map[string]any](t, h.do(http.MethodGet, "/v1/assets", nil, nil))
	require.Empty(t, list)
}

func TestStateRootEndpoint(t *testing.T) {
	h := newAPIHarness(t, AuthConfig{})
	before := decode[rootResult](t, h.do(http.MethodGet, "/v1/state/root", nil, nil))
	h.mint("ipfs://lamp", 100)
	after := decode[rootResult](t, h.do(http.MethodGet, "/v1/state/root", nil, nil))
	require.NotEqual(t, before.Root, after.Root)
	require.Equal(t, h.op.StateRoot(), after.Root)
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: decode", errBadRequest), http.StatusBadRequest},
		{marketerrors.ErrUnauthorized, http.StatusForbidden},
		{catalog.ErrProductNotFound, http.StatusNotFound},
		{coupon.ErrCouponAlreadyUsed, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", bank.ErrInsufficientFunds), http.StatusUnprocessableEntity},
		{pricing.ErrPriceUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("mint: %w", catalog.ErrSupplyOverflow), http.StatusUnprocessableEntity},
		{settlement.ErrPriceOverflow, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: 0x01", assets.ErrAssetNotAllowed), http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, statusOf(tc.err), tc.err.Error())
	}
}

func TestPurchaseBodyCarriesPhasedRoundIDs(t *testing.T) {
	// phase 2, aggregator round 9
	raw := `{"shop":"0x0000000000000000000000000000000000000300","roundId":36893488147419103241,"items":[{"tokenId":1,"quantity":1}]}`
	var body purchaseBody
	require.NoError(t, json.Unmarshal([]byte(raw), &body))
	want := new(big.Int).Or(new(big.Int).Lsh(big.NewInt(2), 64), big.NewInt(9))
	req := body.request(buyer)
	require.Equal(t, 0, req.RoundID.Cmp(want))
	require.Equal(t, buyer, req.Buyer)
}
