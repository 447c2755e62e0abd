package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type gatewayCall struct {
	Fn   string        `json:"fn"`
	Args []interface{} `json:"args"`
}

type fakeGateway struct {
	mux      *http.ServeMux
	logins   int
	evaluate []gatewayCall
	submit   []gatewayCall

	balanceBody  string
	submitStatus int
}

func newFakeGateway() *fakeGateway {
	gw := &fakeGateway{balanceBody: "0", submitStatus: http.StatusOK}
	gw.mux = http.NewServeMux()
	gw.mux.HandleFunc("/user/login", func(w http.ResponseWriter, r *http.Request) {
		gw.logins++
		http.SetCookie(w, &http.Cookie{Name: "connect.sid", Value: "session"})
	})
	gw.mux.HandleFunc("/transaction/evaluate", func(w http.ResponseWriter, r *http.Request) {
		var call gatewayCall
		_ = json.NewDecoder(r.Body).Decode(&call)
		gw.evaluate = append(gw.evaluate, call)
		_, _ = w.Write([]byte(gw.balanceBody))
	})
	gw.mux.HandleFunc("/transaction/submit", func(w http.ResponseWriter, r *http.Request) {
		var call gatewayCall
		_ = json.NewDecoder(r.Body).Decode(&call)
		gw.submit = append(gw.submit, call)
		w.WriteHeader(gw.submitStatus)
		_, _ = w.Write([]byte("txid-1"))
	})
	return gw
}

func newTestFabricClient(t *testing.T, gw *fakeGateway) (*FabricClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(gw.mux)
	t.Cleanup(srv.Close)

	client, err := NewFabricClient(context.Background(), FabricConfig{
		LoginURL:       srv.URL + "/user/login",
		TransactionURL: srv.URL + "/transaction",
		User:           "admin",
		Password:       "secret",
	})
	require.NoError(t, err)
	return client, srv
}

func TestFabricLoginOnce(t *testing.T) {
	gw := newFakeGateway()
	client, _ := newTestFabricClient(t, gw)
	require.Equal(t, 1, gw.logins)

	gw.balanceBody = "1500"
	_, _ = client.BalanceOf(context.Background(), "0xaa")
	_, _ = client.BalanceOf(context.Background(), "0xaa")
	require.Equal(t, 1, gw.logins, "session is established once at process start")
}

func TestFabricBalanceOf(t *testing.T) {
	gw := newFakeGateway()
	client, _ := newTestFabricClient(t, gw)

	gw.balanceBody = "2550"
	balance, err := client.BalanceOf(context.Background(), "0x00aa")
	require.NoError(t, err)
	require.Equal(t, int64(2550), balance)

	require.Len(t, gw.evaluate, 1)
	require.Equal(t, "balanceOf", gw.evaluate[0].Fn)
	require.Equal(t, []interface{}{"0x00aa"}, gw.evaluate[0].Args)
}

func TestFabricBalanceOfDegradesToZero(t *testing.T) {
	gw := newFakeGateway()
	client, srv := newTestFabricClient(t, gw)

	gw.balanceBody = "not-a-number"
	balance, err := client.BalanceOf(context.Background(), "0x00aa")
	require.NoError(t, err)
	require.Zero(t, balance)

	srv.Close()
	balance, err = client.BalanceOf(context.Background(), "0x00aa")
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestFabricMutatingOps(t *testing.T) {
	gw := newFakeGateway()
	client, _ := newTestFabricClient(t, gw)

	txID, err := client.Mint(context.Background(), "caller", "key", "0x00bb", 1000)
	require.NoError(t, err)
	require.Equal(t, "txid-1", txID)

	_, err = client.Burn(context.Background(), "caller", "key", "0x00bb", 500)
	require.NoError(t, err)

	_, err = client.ProcessAction(context.Background(), "caller", "key", "0x00aa", "0x00bb", "action-1", 1500, 1700000000, "0x12")
	require.NoError(t, err)

	require.Len(t, gw.submit, 3)
	require.Equal(t, "mint", gw.submit[0].Fn)
	// The chaincode exports Burn with a capital B.
	require.Equal(t, "Burn", gw.submit[1].Fn)
	require.Equal(t, "processAction", gw.submit[2].Fn)
	require.Len(t, gw.submit[2].Args, 6)
}

func TestFabricSubmitSoftFailure(t *testing.T) {
	gw := newFakeGateway()
	client, srv := newTestFabricClient(t, gw)

	gw.submitStatus = http.StatusInternalServerError
	txID, err := client.Mint(context.Background(), "caller", "key", "0x00bb", 1000)
	require.NoError(t, err)
	require.Empty(t, txID)

	srv.Close()
	txID, err = client.Transfer(context.Background(), "caller", "key", "0x00bb", 1000)
	require.NoError(t, err)
	require.Empty(t, txID)
}
