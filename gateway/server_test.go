package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"socialcoin/proofs"
	"socialcoin/rewards"
	"socialcoin/storage"
)

const adminAddr = "0x00000000000000000000000000000000000000ad"

type fakeLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	seq      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: make(map[string]int64)}
}

func (l *fakeLedger) Backend() string { return "fake" }

func (l *fakeLedger) txID(op string) string {
	l.seq++
	return fmt.Sprintf("0x%s%04d", op, l.seq)
}

func (l *fakeLedger) BalanceOf(ctx context.Context, address string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address], nil
}

func (l *fakeLedger) Mint(ctx context.Context, caller, callerKey, to string, amount int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] += amount
	return l.txID("mint"), nil
}

func (l *fakeLedger) Burn(ctx context.Context, caller, callerKey, from string, amount int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[from] -= amount
	return l.txID("burn"), nil
}

func (l *fakeLedger) Transfer(ctx context.Context, caller, callerKey, to string, amount int64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[caller] -= amount
	l.balances[to] += amount
	return l.txID("transfer"), nil
}

func (l *fakeLedger) ProcessAction(ctx context.Context, caller, callerKey, promoter, to, actionID string, reward int64, timestamp int64, proofHash string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[promoter] -= reward
	l.balances[to] += reward
	return l.txID("processAction"), nil
}

func (l *fakeLedger) balanceOf(address string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address]
}

type apiFixture struct {
	ts     *httptest.Server
	ledger *fakeLedger
	store  *storage.Store
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrate(db))
	store := storage.New(db)

	fl := newFakeLedger()
	svc := rewards.NewService(fl, store, rewards.Admin{Address: adminAddr, Key: "adminkey"})
	srv := New(store, svc, proofs.NewClient("", false), NewTokenIssuer("test-secret", time.Hour))

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return &apiFixture{ts: ts, ledger: fl, store: store}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &payload))
	}
	return resp, payload
}

// register creates a participant through the public endpoint and returns the
// session token plus the generated ledger address.
func (f *apiFixture) register(t *testing.T, name, email, role string) (string, string) {
	t.Helper()
	resp, payload := f.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"name": name, "email": email, "role": role,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token, _ := payload["token"].(string)
	require.NotEmpty(t, token)
	user := payload["user"].(map[string]interface{})
	address, _ := user["address"].(string)
	require.NotEmpty(t, address)
	return token, address
}

func (f *apiFixture) createAction(t *testing.T, token, reward string, target int64) string {
	t.Helper()
	resp, payload := f.do(t, http.MethodPost, "/api/actions", token, map[string]interface{}{
		"name":       "plant trees",
		"reward":     reward,
		"kpi_target": target,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	action := payload["action"].(map[string]interface{})
	return action["id"].(string)
}

func (f *apiFixture) registerCompletion(t *testing.T, token, actionID, kpi string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("kpi", kpi))
	require.NoError(t, writer.WriteField("verification_url", "https://example.com/p"))
	require.NoError(t, writer.Close())

	req, err := http.NewRequest(http.MethodPost, f.ts.URL+"/api/actions/"+actionID+"/register", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload := map[string]interface{}{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return resp, payload
}

func TestRegisterIssuesIdentityWithoutLeakingKey(t *testing.T) {
	f := newAPIFixture(t)

	resp, payload := f.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"name": "Ada", "email": "Ada@Example.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	user := payload["user"].(map[string]interface{})
	require.Equal(t, "ada@example.com", user["email"])
	require.Equal(t, storage.RoleCollaborator, user["role"])
	require.Contains(t, user["address"], "0x")
	_, leaked := user["private_key"]
	require.False(t, leaked)
	_, leaked = user["PrivateKey"]
	require.False(t, leaked)

	// the key exists in the store, it just never crosses the wire
	stored, err := f.store.GetUserByEmail(context.Background(), "ada@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, stored.PrivateKey)

	resp, _ = f.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"name": "Ada again", "email": "ada@example.com",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)

	resp, _ := f.do(t, http.MethodGet, "/api/users/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/users/me", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginUnknownParticipant(t *testing.T) {
	f := newAPIFixture(t)
	resp, _ := f.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": "ghost@example.com"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCollaboratorCannotManageActions(t *testing.T) {
	f := newAPIFixture(t)
	token, _ := f.register(t, "Ada", "ada@example.com", storage.RoleCollaborator)

	resp, _ := f.do(t, http.MethodPost, "/api/actions", token, map[string]interface{}{
		"name": "nope", "reward": "1", "kpi_target": 1,
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestActionLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	promoter, companyAddr := f.register(t, "ACME", "acme@example.com", storage.RolePromoter)
	collaborator, collabAddr := f.register(t, "Ada", "ada@example.com", storage.RoleCollaborator)

	actionID := f.createAction(t, promoter, "5", 20)
	require.Equal(t, int64(10000), f.ledger.balanceOf(companyAddr))

	resp, payload := f.registerCompletion(t, collaborator, actionID, "3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1500), payload["reward"])
	require.Equal(t, float64(3), payload["units"])
	require.Equal(t, float64(1500), payload["new_balance"])
	require.Equal(t, int64(8500), f.ledger.balanceOf(companyAddr))
	require.Equal(t, int64(1500), f.ledger.balanceOf(collabAddr))

	// shrinking the target below completed units is rejected before any burn
	resp, _ = f.do(t, http.MethodPut, "/api/actions/"+actionID, promoter, map[string]interface{}{
		"name": "plant trees", "reward": "5", "kpi_target": 2,
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// deleting burns the remaining escrow
	resp, _ = f.do(t, http.MethodDelete, "/api/actions/"+actionID, promoter, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, int64(0), f.ledger.balanceOf(companyAddr))
}

func TestPromoterCannotTouchForeignAction(t *testing.T) {
	f := newAPIFixture(t)
	owner, _ := f.register(t, "ACME", "acme@example.com", storage.RolePromoter)
	rival, _ := f.register(t, "Globex", "globex@example.com", storage.RolePromoter)

	actionID := f.createAction(t, owner, "2", 5)
	resp, _ := f.do(t, http.MethodDelete, "/api/actions/"+actionID, rival, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestOfferRedemptionOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	promoter, _ := f.register(t, "ACME", "acme@example.com", storage.RolePromoter)
	collaborator, collabAddr := f.register(t, "Ada", "ada@example.com", storage.RoleCollaborator)

	actionID := f.createAction(t, promoter, "5", 20)
	resp, payload := f.do(t, http.MethodPost, "/api/offers", promoter, map[string]interface{}{
		"name": "coffee", "price": "10.00",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	offerID := payload["id"].(string)

	// broke collaborator is refused before the ledger is touched
	resp, _ = f.do(t, http.MethodPost, "/api/offers/"+offerID+"/redeem", collaborator, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	_, _ = f.registerCompletion(t, collaborator, actionID, "3")
	require.Equal(t, int64(1500), f.ledger.balanceOf(collabAddr))

	resp, _ = f.do(t, http.MethodPost, "/api/offers/"+offerID+"/redeem", collaborator, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int64(500), f.ledger.balanceOf(collabAddr))
}

func TestTransferValidation(t *testing.T) {
	f := newAPIFixture(t)
	sender, _ := f.register(t, "Ada", "ada@example.com", storage.RoleCollaborator)
	_, _ = f.register(t, "Grace", "grace@example.com", storage.RoleCollaborator)

	resp, _ := f.do(t, http.MethodPost, "/api/transfers", sender, map[string]string{
		"destination_email": "grace@example.com", "amount": "5",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/transfers", sender, map[string]string{
		"destination_email": "grace@example.com", "amount": "abc",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/api/transfers", sender, map[string]string{
		"destination_email": "ghost@example.com", "amount": "5",
	})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTransactionVisibility(t *testing.T) {
	f := newAPIFixture(t)
	admin, _ := f.register(t, "Root", "root@example.com", storage.RoleAdministrator)
	promoter, _ := f.register(t, "ACME", "acme@example.com", storage.RolePromoter)
	collaborator, _ := f.register(t, "Ada", "ada@example.com", storage.RoleCollaborator)
	bystander, _ := f.register(t, "Bob", "bob@example.com", storage.RoleCollaborator)

	actionID := f.createAction(t, promoter, "5", 20)
	_, _ = f.registerCompletion(t, collaborator, actionID, "3")

	listFor := func(token string) []interface{} {
		req, err := http.NewRequest(http.MethodGet, f.ts.URL+"/api/transactions", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := f.ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var rows []interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
		return rows
	}

	// the collaborator sees exactly the settlement row, a bystander sees none,
	// the administrator sees every row including the escrow mint
	require.Len(t, listFor(collaborator), 1)
	require.Empty(t, listFor(bystander))
	require.GreaterOrEqual(t, len(listFor(admin)), 2)
}

func TestBalanceEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	promoter, _ := f.register(t, "ACME", "acme@example.com", storage.RolePromoter)
	f.createAction(t, promoter, "2,50", 4)

	resp, payload := f.do(t, http.MethodGet, "/api/users/me/balance", promoter, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, float64(1000), payload["minor_units"])
	require.Equal(t, "10", payload["balance"])
}
