package api_test

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-ledger/api"
	"github.com/warp/rewards-ledger/auth"
	"github.com/warp/rewards-ledger/ledger"
	"github.com/warp/rewards-ledger/ledger/store"
)

const testBotToken = "12345:test-bot-token"

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router   http.Handler
	engine   *ledger.Engine
	sessions *auth.Sessions
}

func newTestServer(t *testing.T, staticAdmins ...string) *testServer {
	t.Helper()

	engine := ledger.NewEngine(store.NewMemory())
	gate := auth.NewGate(engine.Store, staticAdmins)
	sessions, err := auth.NewSessions("test-secret", time.Hour)
	require.NoError(t, err)

	h := api.NewHandler(engine, gate, sessions, testBotToken)
	return &testServer{
		router:   api.NewRouter(h, []string{"*"}),
		engine:   engine,
		sessions: sessions,
	}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func (ts *testServer) adminToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := ts.sessions.Issue(userID, time.Now())
	require.NoError(t, err)
	return token
}

// =============================================================================
// ACCOUNT
// =============================================================================

func TestAPI_GetAccount_AutoCreates(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/account?userId=user-1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[api.AccountSummaryResponse](t, rec)
	assert.Equal(t, "user-1", resp.User.UserID)
	assert.Equal(t, "0.00", resp.User.Balance)
	assert.Empty(t, resp.Transactions)
	assert.Equal(t, 0, resp.ReferralCount)
}

func TestAPI_GetAccount_RequiresUserID(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/account", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_AccountFlow_TopupConfirmWithdraw(t *testing.T) {
	// GIVEN: A fresh account and an admin session
	// WHEN: The user tops up 1000, the admin confirms, the user withdraws
	// THEN: The overdraft attempt fails and the valid withdrawal lands

	ts := newTestServer(t, "admin")
	admin := ts.adminToken(t, "admin")

	// Topup request comes back pending.
	rec := ts.do(t, http.MethodPost, "/api/account", "", map[string]any{
		"action": "topup", "userId": "user-1", "amount": "1000",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	topup := decode[api.ActionResponse](t, rec)
	require.NotNil(t, topup.Transaction)
	assert.Equal(t, "pending", topup.Transaction.Status)

	// Pending funds are not spendable.
	rec = ts.do(t, http.MethodPost, "/api/account", "", map[string]any{
		"action": "withdraw", "userId": "user-1", "amount": "100",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Admin confirms the transfer.
	rec = ts.do(t, http.MethodPost, "/api/admin", admin, map[string]any{
		"action": "confirm_topup", "transactionId": topup.Transaction.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Overdraft is rejected.
	rec = ts.do(t, http.MethodPost, "/api/account", "", map[string]any{
		"action": "withdraw", "userId": "user-1", "amount": "1500",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[api.ErrorResponse](t, rec)
	assert.False(t, errResp.Success)
	assert.Contains(t, errResp.Error, "insufficient funds")

	// Valid withdrawal.
	rec = ts.do(t, http.MethodPost, "/api/account", "", map[string]any{
		"action": "withdraw", "userId": "user-1", "amount": "500",
		"phone": "+15550001", "bank": "acme",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	summary := decode[api.AccountSummaryResponse](t,
		ts.do(t, http.MethodGet, "/api/account?userId=user-1", "", nil))
	assert.Equal(t, "500.00", summary.User.Balance)
	require.Len(t, summary.Transactions, 2)
	assert.Equal(t, "withdraw", summary.Transactions[0].Type)
}

func TestAPI_CardBonus_SecondClaimRejected(t *testing.T) {
	ts := newTestServer(t)

	body := map[string]any{"action": "card_bonus", "userId": "user-1"}
	ts.do(t, http.MethodGet, "/api/account?userId=user-1", "", nil)

	rec := ts.do(t, http.MethodPost, "/api/account", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/account", "", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	summary := decode[api.AccountSummaryResponse](t,
		ts.do(t, http.MethodGet, "/api/account?userId=user-1", "", nil))
	assert.Equal(t, "500.00", summary.User.Balance)
	assert.Equal(t, "500.00", summary.User.CardEarnings)
}

func TestAPI_Referral_CreditsReferrer(t *testing.T) {
	ts := newTestServer(t)

	ts.do(t, http.MethodGet, "/api/account?userId=referrer", "", nil)

	rec := ts.do(t, http.MethodPost, "/api/account", "", map[string]any{
		"action": "referral", "userId": "referee", "referrerId": "referrer",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Repeat attribution is rejected.
	rec = ts.do(t, http.MethodPost, "/api/account", "", map[string]any{
		"action": "referral", "userId": "referee", "referrerId": "referrer",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	summary := decode[api.AccountSummaryResponse](t,
		ts.do(t, http.MethodGet, "/api/account?userId=referrer", "", nil))
	assert.Equal(t, "200.00", summary.User.Balance)
	assert.Equal(t, 1, summary.ReferralCount)
}

func TestAPI_AccountAction_UnknownAction(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/account", "", map[string]any{
		"action": "mint", "userId": "user-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// AUTH
// =============================================================================

func signedLogin(id string) map[string]string {
	fields := map[string]string{
		"id":         id,
		"first_name": "Ada",
		"username":   "ada",
		"auth_date":  "1717000000",
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s=%s", k, fields[k])
	}
	secret := sha256.Sum256([]byte(testBotToken))
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(strings.Join(pairs, "\n")))
	fields["hash"] = hex.EncodeToString(mac.Sum(nil))
	return fields
}

func TestAPI_TelegramLogin_IssuesSession(t *testing.T) {
	// GIVEN: A statically allow-listed chat id
	// WHEN: The user logs in with a correctly signed widget payload
	// THEN: The account is created with the admin flag and the returned
	//       token opens the admin surface

	ts := newTestServer(t, "TG7216781")

	rec := ts.do(t, http.MethodPost, "/api/auth", "", map[string]any{
		"action": "telegram_login", "authData": signedLogin("7216781"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[api.LoginResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "TG7216781", resp.User.UserID)
	assert.Equal(t, "Ada", resp.User.FirstName)
	assert.True(t, resp.User.IsAdmin)
	require.NotEmpty(t, resp.Token)

	rec = ts.do(t, http.MethodGet, "/api/admin?action=stats", resp.Token, nil)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAPI_TelegramLogin_ForgedPayloadRejected(t *testing.T) {
	ts := newTestServer(t)

	fields := signedLogin("7216781")
	fields["id"] = "9999999"

	rec := ts.do(t, http.MethodPost, "/api/auth", "", map[string]any{
		"action": "telegram_login", "authData": fields,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_CheckAdmin(t *testing.T) {
	ts := newTestServer(t, "admin")

	resp := decode[api.CheckAdminResponse](t,
		ts.do(t, http.MethodPost, "/api/auth", "", map[string]any{
			"action": "check_admin", "userId": "admin",
		}))
	assert.True(t, resp.IsAdmin)

	resp = decode[api.CheckAdminResponse](t,
		ts.do(t, http.MethodPost, "/api/auth", "", map[string]any{
			"action": "check_admin", "userId": "mortal",
		}))
	assert.False(t, resp.IsAdmin)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_Admin_RequiresValidSession(t *testing.T) {
	// No token, garbage token, and a valid token for a non-admin must all
	// bounce off the gate without side effects.

	ts := newTestServer(t, "admin")
	ts.do(t, http.MethodGet, "/api/account?userId=user-1", "", nil)

	mortal := ts.adminToken(t, "mortal")
	for name, token := range map[string]string{
		"no token":     "",
		"garbage":      "not-a-jwt",
		"not an admin": mortal,
	} {
		rec := ts.do(t, http.MethodPost, "/api/admin", token, map[string]any{
			"action": "add_bonus", "userId": "user-1", "amount": "100",
		})
		assert.Equal(t, http.StatusForbidden, rec.Code, name)
	}

	summary := decode[api.AccountSummaryResponse](t,
		ts.do(t, http.MethodGet, "/api/account?userId=user-1", "", nil))
	assert.Equal(t, "0.00", summary.User.Balance, "rejected requests must not credit")
	assert.Empty(t, summary.Transactions)
}

func TestAPI_Admin_AddBonus(t *testing.T) {
	ts := newTestServer(t, "admin")
	admin := ts.adminToken(t, "admin")
	ts.do(t, http.MethodGet, "/api/account?userId=user-1", "", nil)

	// Default bonus type is the card bonus.
	rec := ts.do(t, http.MethodPost, "/api/admin", admin, map[string]any{
		"action": "add_bonus", "userId": "user-1", "amount": "300",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.ActionResponse](t, rec)
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, "card_bonus", resp.Transaction.Type)

	// Withdrawals cannot be smuggled through the bonus endpoint.
	rec = ts.do(t, http.MethodPost, "/api/admin", admin, map[string]any{
		"action": "add_bonus", "userId": "user-1", "amount": "300", "type": "withdraw",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	summary := decode[api.AccountSummaryResponse](t,
		ts.do(t, http.MethodGet, "/api/account?userId=user-1", "", nil))
	assert.Equal(t, "300.00", summary.User.Balance)
}

func TestAPI_Admin_Queries(t *testing.T) {
	ts := newTestServer(t, "admin")
	admin := ts.adminToken(t, "admin")

	ts.do(t, http.MethodGet, "/api/account?userId=user-1", "", nil)
	ts.do(t, http.MethodGet, "/api/account?userId=user-2", "", nil)
	rec := ts.do(t, http.MethodPost, "/api/admin", admin, map[string]any{
		"action": "add_bonus", "userId": "user-1", "amount": "100",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	stats := decode[api.StatsDTO](t,
		ts.do(t, http.MethodGet, "/api/admin?action=stats", admin, nil))
	assert.Equal(t, 2, stats.TotalUsers)
	assert.Equal(t, "100.00", stats.TotalBalance)

	users := decode[map[string][]api.AccountDTO](t,
		ts.do(t, http.MethodGet, "/api/admin?action=users", admin, nil))
	assert.Len(t, users["users"], 2)

	txs := decode[map[string][]api.TransactionDTO](t,
		ts.do(t, http.MethodGet, "/api/admin?action=transactions&limit=1", admin, nil))
	require.Len(t, txs["transactions"], 1)
	assert.Equal(t, "card_bonus", txs["transactions"][0].Type)
}

func TestAPI_Admin_ConfirmTopup_UnknownTransaction(t *testing.T) {
	ts := newTestServer(t, "admin")
	admin := ts.adminToken(t, "admin")

	rec := ts.do(t, http.MethodPost, "/api/admin", admin, map[string]any{
		"action": "confirm_topup", "transactionId": "ghost",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
