package lending

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intentlend/core/events"
	"intentlend/core/state"
	"intentlend/crypto"
	"intentlend/gateway/middleware"
	"intentlend/gateway/routes"
	nativecommon "intentlend/native/common"
	"intentlend/native/intents"
	"intentlend/native/lending"
	"intentlend/storage"
)

func addr(fill byte) crypto.Address {
	return crypto.MustAddress(bytes.Repeat([]byte{fill}, 20))
}

var (
	asset    = addr(0xC1)
	operator = addr(0x12)
	user     = addr(0x01)
	domain   = intents.Domain{Name: "IntentLend", Version: "1", ChainID: 8453, VerifyingContract: addr(0xCC)}
)

func newServer(t *testing.T) *httptest.Server {
	srv, _ := newServerWithHub(t)
	return srv
}

func newServerWithHub(t *testing.T) (*httptest.Server, *routes.Hub) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	hub := routes.NewHub(nil)
	mgr.SetEmitter(hub)

	oracle := lending.NewStaticOracle()
	oracle.Set(asset, new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	opts := lending.Options{
		Config: lending.DefaultConfig(),
		Accounts: lending.Accounts{
			Pool:            addr(0xA0),
			CollateralVault: addr(0xA1),
			Platform:        addr(0xA2),
			Reserve:         addr(0xA3),
		},
		Domain:        domain,
		Oracle:        oracle,
		Authorization: nativecommon.RoleSet{operator: nativecommon.RoleOperator},
	}
	reg, err := lending.NewRegistry(mgr, opts)
	require.NoError(t, err)
	engine, err := lending.NewEngine(mgr, reg, opts.Config, opts.Accounts)
	require.NoError(t, err)

	handler, err := routes.New(routes.Config{
		Engine:        engine,
		Hub:           hub,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{}, nil),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, hub
}

func TestNewRejectsBadScheme(t *testing.T) {
	_, err := New("ftp://example.com")
	require.Error(t, err)
}

func TestClientDepositAndQueries(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	admin, err := New(srv.URL, WithCaller(operator))
	require.NoError(t, err)
	bal, err := admin.Credit(ctx, user, asset, big.NewInt(500))
	require.NoError(t, err)
	require.Equal(t, int64(500), bal.Int64())

	client, err := New(srv.URL, WithCaller(user))
	require.NoError(t, err)
	pos, err := client.Deposit(ctx, asset, big.NewInt(300))
	require.NoError(t, err)
	require.Equal(t, int64(300), pos.Collateral.Int64())

	pos, err = client.Position(ctx, user, asset)
	require.NoError(t, err)
	require.Equal(t, user, pos.User)

	all, err := client.Positions(ctx, user)
	require.NoError(t, err)
	require.Len(t, all, 1)

	totals, err := client.Totals(ctx, asset)
	require.NoError(t, err)
	require.Equal(t, int64(300), totals.Collateral.Int64())

	bal, err = client.Balance(ctx, user, asset)
	require.NoError(t, err)
	require.Equal(t, int64(200), bal.Int64())

	entry, err := client.ViewEntry(ctx, crypto.Address{}, asset)
	require.NoError(t, err)
	require.Equal(t, int64(300), entry.Collateral.Int64())

	digest, entries, err := client.ViewDigest(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, entries)
	require.Len(t, digest, 66)

	got, err := client.Domain(ctx)
	require.NoError(t, err)
	require.True(t, got.Equal(domain))

	orders, err := client.OrdersByBorrower(ctx, user)
	require.NoError(t, err)
	require.Empty(t, orders)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := newServer(t)
	ctx := context.Background()

	client, err := New(srv.URL, WithCaller(user))
	require.NoError(t, err)
	_, err = client.Credit(ctx, user, asset, big.NewInt(1))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.Status)

	_, err = client.Order(ctx, 42)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)

	_, err = client.OrderView(ctx, 42)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusNotFound, apiErr.Status)

	consumed, err := client.IntentConsumed(ctx, [32]byte{1})
	require.NoError(t, err)
	require.False(t, consumed)
}

func TestSubscribeDeliversCommittedEvents(t *testing.T) {
	srv, hub := newServerWithHub(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	admin, err := New(srv.URL, WithCaller(operator))
	require.NoError(t, err)
	_, err = admin.Credit(ctx, user, asset, big.NewInt(100))
	require.NoError(t, err)

	client, err := New(srv.URL, WithCaller(user))
	require.NoError(t, err)
	sub, err := client.Subscribe(ctx, events.TypePositionUpdated)
	require.NoError(t, err)
	defer sub.Close()
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err = client.Deposit(ctx, asset, big.NewInt(40))
	require.NoError(t, err)

	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, events.TypePositionUpdated, ev.Type)
	require.Equal(t, "40", ev.Attr("collateral"))
}
