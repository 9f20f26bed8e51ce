package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/core/types"
	"intentlend/crypto"
	"intentlend/gateway/middleware"
	nativecommon "intentlend/native/common"
	"intentlend/native/escrow"
	"intentlend/native/intents"
	"intentlend/native/lending"
	"intentlend/storage"
)

func addr(fill byte) crypto.Address {
	return crypto.MustAddress(bytes.Repeat([]byte{fill}, 20))
}

var (
	collateralAsset = addr(0xC1)
	operator        = addr(0x12)
	user            = addr(0x01)
)

type apiFixture struct {
	t      *testing.T
	engine *lending.Engine
	hub    *Hub
	srv    *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	hub := NewHub(nil)
	mgr.SetEmitter(hub)

	oracle := lending.NewStaticOracle()
	oracle.Set(collateralAsset, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	opts := lending.Options{
		Config: lending.DefaultConfig(),
		Accounts: lending.Accounts{
			Pool:            addr(0xA0),
			CollateralVault: addr(0xA1),
			Platform:        addr(0xA2),
			Reserve:         addr(0xA3),
		},
		Domain:        intents.Domain{Name: "IntentLend", Version: "1", ChainID: 8453, VerifyingContract: addr(0xCC)},
		Oracle:        oracle,
		Authorization: nativecommon.RoleSet{operator: nativecommon.RoleOperator},
	}
	reg, err := lending.NewRegistry(mgr, opts)
	require.NoError(t, err)
	engine, err := lending.NewEngine(mgr, reg, opts.Config, opts.Accounts)
	require.NoError(t, err)

	handler, err := New(Config{
		Engine:        engine,
		Hub:           hub,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{}, nil),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{Enabled: true}, nil),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &apiFixture{t: t, engine: engine, hub: hub, srv: srv}
}

func (f *apiFixture) do(method, path string, caller crypto.Address, body any) (int, map[string]any) {
	f.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(f.t, err)
	if !caller.IsZero() {
		req.Header.Set(middleware.CallerHeader, caller.Hex())
	}
	res, err := f.srv.Client().Do(req)
	require.NoError(f.t, err)
	defer res.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)
	res, err := f.srv.Client().Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NotEmpty(t, res.Header.Get(middleware.RequestIDHeader))

	res, err = f.srv.Client().Get(f.srv.URL + "/metrics")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestDepositFlow(t *testing.T) {
	f := newAPIFixture(t)

	status, _ := f.do(http.MethodPost, "/v1/deposit", crypto.Address{}, map[string]any{"asset": collateralAsset.Hex(), "amount": "10"})
	require.Equal(t, http.StatusUnauthorized, status)

	status, body := f.do(http.MethodPost, "/v1/admin/credit", user, map[string]any{"owner": user.Hex(), "asset": collateralAsset.Hex(), "amount": "500"})
	require.Equal(t, http.StatusForbidden, status, body)

	status, body = f.do(http.MethodPost, "/v1/admin/credit", operator, map[string]any{"owner": user.Hex(), "asset": collateralAsset.Hex(), "amount": "500"})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "500", body["balance"])

	status, body = f.do(http.MethodPost, "/v1/deposit", user, map[string]any{"asset": collateralAsset.Hex(), "amount": 300})
	require.Equal(t, http.StatusOK, status, body)

	status, body = f.do(http.MethodPost, "/v1/withdraw", user, map[string]any{"asset": collateralAsset.Hex(), "amount": "301"})
	require.Equal(t, http.StatusConflict, status, body)

	status, body = f.do(http.MethodGet, "/v1/positions/"+user.Hex()+"?asset="+collateralAsset.Hex(), crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 300, body["collateral"])

	status, body = f.do(http.MethodGet, "/v1/totals/"+collateralAsset.Hex(), crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 300, body["collateral"])

	status, body = f.do(http.MethodGet, "/v1/views/digest", crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 2, body["entries"])

	status, body = f.do(http.MethodGet, "/v1/views/stats/"+collateralAsset.Hex(), crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 300, body["collateral"])
}

func TestErrorMapping(t *testing.T) {
	f := newAPIFixture(t)

	status, _ := f.do(http.MethodGet, "/v1/orders/7", crypto.Address{}, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(http.MethodGet, "/v1/orders/abc", crypto.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(http.MethodGet, "/v1/views/orders/7", crypto.Address{}, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, _ = f.do(http.MethodGet, "/v1/views/orders/abc", crypto.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = f.do(http.MethodPost, "/v1/orders/7/liquidate", user, nil)
	require.Equal(t, http.StatusForbidden, status)

	status, _ = f.do(http.MethodPost, "/v1/deposit", user, map[string]any{"asset": collateralAsset.Hex(), "amount": "ten"})
	require.Equal(t, http.StatusBadRequest, status)

	hash := strings.Repeat("ab", 32)
	status, _ = f.do(http.MethodGet, "/v1/reservations/0x"+hash, crypto.Address{}, nil)
	require.Equal(t, http.StatusNotFound, status)

	status, body := f.do(http.MethodGet, "/v1/intents/0x"+hash, crypto.Address{}, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, body["consumed"])
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("wrap: %w", lending.ErrMissingAuthorization), http.StatusForbidden},
		{intents.ErrIntentConsumed, http.StatusConflict},
		{intents.ErrBadSignature, http.StatusBadRequest},
		{escrow.ErrReservationInactive, http.StatusConflict},
		{nativecommon.ErrModulePaused, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, statusFor(tc.err), "%v", tc.err)
	}
}

func TestStreamDeliversCommittedEvents(t *testing.T) {
	f := newAPIFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/stream?types=" + events.TypeLoanClosed
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	f.hub.Emit(events.PenaltySettled{Amount: big.NewInt(1)})
	f.hub.Emit(events.LoanClosed{OrderID: 3, Status: "repaid"})

	var got types.Event
	require.NoError(t, wsjson.Read(ctx, conn, &got))
	require.Equal(t, events.TypeLoanClosed, got.Type)
	require.Equal(t, "3", got.Attr("orderId"))
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
