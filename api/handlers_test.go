/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Authentication (login, check, logout, protected routes)
- Customer, debt and payment endpoints end to end
- Error mapping (400 / 404 / 409) and the exceeds-remaining body
- Health check
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/debt-ledger/auth"
	"github.com/warp/debt-ledger/ledger"
	"github.com/warp/debt-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testNow = time.Date(2025, time.June, 15, 12, 0, 0, 0, time.UTC)

const operatorPhone = "+998901234567"

type testEnv struct {
	t      *testing.T
	router *chi.Mux
	h      *Handler
	hook   *logtest.Hook
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	logger, hook := logtest.NewNullLogger()
	clock := func() time.Time { return testNow }
	ledgerSvc := ledger.NewService(store, logger, ledger.WithClock(clock))
	authSvc := auth.NewService(store, logger, time.Hour, auth.WithClock(clock))

	_, err = authSvc.EnsureUser(context.Background(), operatorPhone, "Operator", auth.RoleAdmin)
	require.NoError(t, err)

	h := NewHandler(ledgerSvc, authSvc, logger)
	h.Ping = store.Ping
	return &testEnv{
		t:      t,
		h:      h,
		hook:   hook,
		router: NewRouter(h, RouterOptions{RequestTimeout: 5 * time.Second}),
	}
}

// login authenticates the env; later requests carry the token.
func (e *testEnv) login() *testEnv {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/auth/login", map[string]string{"telefon": operatorPhone})
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[LoginResponse](e.t, rec)
	e.token = resp.SessionID
	return e
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	e.t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(e.t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) createCustomer(name string) CustomerDTO {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/customers", map[string]any{"ism": name, "telefon": "+998907776655"})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[CustomerDTO](e.t, rec)
}

func (e *testEnv) createDebt(customerID int64, total any, due string) DebtDTO {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/api/debts", map[string]any{
		"mijozId":          customerID,
		"tovarNomi":        "Televizor",
		"umumiySumma":      total,
		"berilganSana":     "2025-06-01",
		"qaytarishMuddati": due,
	})
	require.Equal(e.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[DebtDTO](e.t, rec)
}

func (e *testEnv) pay(debtID int64, amount any) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.do(http.MethodPost, "/api/payments", map[string]any{"qarzId": debtID, "summa": amount})
}

// =============================================================================
// AUTH TESTS
// =============================================================================

func TestProtectedRoutes_RequireSession(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/customers", "/api/debts", "/api/payments", "/api/stats"} {
		rec := env.do(http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}

	env.token = "not-a-session"
	rec := env.do(http.MethodGet, "/api/customers", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_AttachesUser(t *testing.T) {
	env := newTestEnv(t).login()
	var (
		got *auth.User
		ok  bool
	)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec := httptest.NewRecorder()

	env.h.RequireAuth(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, ok)
	assert.Equal(t, operatorPhone, got.Phone)
	assert.Equal(t, auth.RoleAdmin, got.Role)
}

func TestLogin_UnknownPhone(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodPost, "/api/auth/login", map[string]string{"telefon": "+998900000000"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/api/auth/login", map[string]string{"telefon": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthCheckAndLogout(t *testing.T) {
	env := newTestEnv(t)

	// GIVEN: no token
	check := decode[AuthCheckResponse](t, env.do(http.MethodGet, "/api/auth/check", nil))
	assert.False(t, check.Authenticated)

	// WHEN: logged in
	env.login()
	check = decode[AuthCheckResponse](t, env.do(http.MethodGet, "/api/auth/check", nil))
	assert.True(t, check.Authenticated)

	// THEN: logout ends the session
	rec := env.do(http.MethodPost, "/api/auth/logout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	check = decode[AuthCheckResponse](t, env.do(http.MethodGet, "/api/auth/check", nil))
	assert.False(t, check.Authenticated)
	assert.Equal(t, http.StatusUnauthorized, env.do(http.MethodGet, "/api/stats", nil).Code)
}

// =============================================================================
// CUSTOMER TESTS
// =============================================================================

func TestCustomerLifecycle(t *testing.T) {
	env := newTestEnv(t).login()

	// GIVEN: a customer without address or note
	rec := env.do(http.MethodPost, "/api/customers", map[string]any{"ism": "Aziz", "telefon": "+998901112233"})
	require.Equal(t, http.StatusCreated, rec.Code)
	raw := decode[map[string]any](t, rec)
	assert.Nil(t, raw["manzil"])
	assert.Nil(t, raw["izoh"])
	assert.Equal(t, true, raw["faol"])
	id := int64(raw["id"].(float64))

	// WHEN: updating the address
	rec = env.do(http.MethodPatch, "/api/customers/"+itoa(id), map[string]any{"manzil": "Toshkent"})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[CustomerDTO](t, rec)
	require.NotNil(t, updated.Manzil)
	assert.Equal(t, "Toshkent", *updated.Manzil)
	assert.Equal(t, "Aziz", updated.Ism)

	// WHEN: deleting
	rec = env.do(http.MethodDelete, "/api/customers/"+itoa(id), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// THEN: the customer still exists but is inactive
	got := decode[CustomerDTO](t, env.do(http.MethodGet, "/api/customers/"+itoa(id), nil))
	assert.False(t, got.Faol)
	all := decode[[]CustomerDTO](t, env.do(http.MethodGet, "/api/customers", nil))
	assert.Len(t, all, 1)
	active := decode[[]CustomerDTO](t, env.do(http.MethodGet, "/api/customers?faol=true", nil))
	assert.Empty(t, active)
}

func TestCreateCustomer_Validation(t *testing.T) {
	env := newTestEnv(t).login()

	rec := env.do(http.MethodPost, "/api/customers", map[string]any{"ism": "", "telefon": "+998901112233"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Invalid customer data", resp.Error)
	assert.Equal(t, "ism", resp.Field)
}

func TestNotFoundMessages(t *testing.T) {
	env := newTestEnv(t).login()

	rec := env.do(http.MethodGet, "/api/customers/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Customer not found", decode[ErrorResponse](t, rec).Error)

	rec = env.do(http.MethodGet, "/api/debts/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Debt not found", decode[ErrorResponse](t, rec).Error)

	rec = env.do(http.MethodDelete, "/api/debts/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.pay(999, "10")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t).login()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"non-numeric id", http.MethodGet, "/api/debts/abc", nil},
		{"malformed json", http.MethodPost, "/api/debts", "{"},
		{"bad amount", http.MethodPost, "/api/payments", `{"qarzId":1,"summa":"abc"}`},
		{"bad date", http.MethodPost, "/api/debts", `{"mijozId":1,"tovarNomi":"x","umumiySumma":1,"qaytarishMuddati":"15/06/2025"}`},
		{"bad customer filter", http.MethodGet, "/api/debts?mijozId=x", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestOversizedBodyRejected(t *testing.T) {
	env := newTestEnv(t).login()

	// GIVEN: a customer payload just over the body limit
	body := `{"ism":"` + strings.Repeat("a", maxBodyBytes) + `","telefon":"+998907776655"}`

	rec := env.do(http.MethodPost, "/api/customers", body)

	// THEN: 413 and nothing stored
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "Request body too large", decode[ErrorResponse](t, rec).Error)
	customers := decode[[]CustomerDTO](t, env.do(http.MethodGet, "/api/customers", nil))
	assert.Empty(t, customers)
}

// =============================================================================
// DEBT & PAYMENT TESTS
// =============================================================================

func TestPaymentFlow(t *testing.T) {
	env := newTestEnv(t).login()
	c := env.createCustomer("Dilnoza")

	// GIVEN: a 100000 debt, amount sent as a JSON number
	d := env.createDebt(c.ID, 100000, "2025-07-01")
	assert.Equal(t, "100000.00", d.UmumiySumma)
	assert.Equal(t, "0.00", d.TolanganSumma)
	assert.Equal(t, string(ledger.StatusUnpaid), d.Holati)

	// WHEN: paying 60000
	rec := env.pay(d.ID, "60000")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[PaymentDTO](t, rec)
	assert.Equal(t, "60000.00", p.Summa)
	assert.Equal(t, d.ID, p.QarzID)

	// THEN: the debt is partial and lists the payment
	got := decode[DebtWithCustomerDTO](t, env.do(http.MethodGet, "/api/debts/"+itoa(d.ID), nil))
	assert.Equal(t, "60000.00", got.TolanganSumma)
	assert.Equal(t, "40000.00", got.QolganSumma)
	assert.Equal(t, string(ledger.StatusPartial), got.Holati)
	assert.Equal(t, "Dilnoza", got.Mijoz.Ism)
	require.Len(t, got.Tolovlar, 1)

	// WHEN: overpaying
	rec = env.pay(d.ID, 50000)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Payment amount exceeds remaining debt", errResp.Error)
	assert.Equal(t, "40000.00", errResp.Remaining)

	// WHEN: paying the rest
	rec = env.pay(d.ID, "40000")
	require.Equal(t, http.StatusCreated, rec.Code)
	got = decode[DebtWithCustomerDTO](t, env.do(http.MethodGet, "/api/debts/"+itoa(d.ID), nil))
	assert.Equal(t, string(ledger.StatusPaid), got.Holati)
	assert.Equal(t, "0.00", got.QolganSumma)

	// THEN: payments list newest first with debt and customer
	payments := decode[[]PaymentWithDebtDTO](t, env.do(http.MethodGet, "/api/payments", nil))
	require.Len(t, payments, 2)
	assert.Equal(t, "Dilnoza", payments[0].Qarz.Mijoz.Ism)
	assert.Equal(t, d.ID, payments[0].Qarz.ID)
}

func TestAmountWithExtremeExponentRejected(t *testing.T) {
	env := newTestEnv(t).login()
	c := env.createCustomer("Dilnoza")
	d := env.createDebt(c.ID, 100000, "2025-07-01")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		field  string
	}{
		{"payment", http.MethodPost, "/api/payments", `{"qarzId":` + itoa(d.ID) + `,"summa":"1e-10000000"}`, "summa"},
		{"new debt", http.MethodPost, "/api/debts", `{"mijozId":` + itoa(c.ID) + `,"tovarNomi":"x","umumiySumma":"1e-10000000","qaytarishMuddati":"2025-07-01"}`, "umumiySumma"},
		{"debt edit", http.MethodPatch, "/api/debts/" + itoa(d.ID), `{"umumiySumma":1e-10000000}`, "umumiySumma"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			rec := env.do(tt.method, tt.path, tt.body)

			assert.Less(t, time.Since(start), time.Second)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, "validation", resp.Code)
			assert.Equal(t, tt.field, resp.Field)
		})
	}

	got := decode[DebtWithCustomerDTO](t, env.do(http.MethodGet, "/api/debts/"+itoa(d.ID), nil))
	assert.Equal(t, "100000.00", got.UmumiySumma)
	assert.Empty(t, got.Tolovlar)
}

func TestArchiveDebt(t *testing.T) {
	env := newTestEnv(t).login()
	c := env.createCustomer("Bobur")
	d := env.createDebt(c.ID, "500", "2025-07-01")

	// GIVEN: an unpaid debt cannot be archived
	rec := env.do(http.MethodPatch, "/api/debts/"+itoa(d.ID)+"/archive", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// WHEN: fully paid and archived
	require.Equal(t, http.StatusCreated, env.pay(d.ID, "500").Code)
	rec = env.do(http.MethodPatch, "/api/debts/"+itoa(d.ID)+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[DebtDTO](t, rec).Arxivlangan)

	// THEN: hidden by default, visible with ?arxiv=true
	assert.Empty(t, decode[[]DebtWithCustomerDTO](t, env.do(http.MethodGet, "/api/debts", nil)))
	assert.Len(t, decode[[]DebtWithCustomerDTO](t, env.do(http.MethodGet, "/api/debts?arxiv=true", nil)), 1)

	// Archived debts are still readable by id.
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/debts/"+itoa(d.ID), nil).Code)
}

func TestUpdateDebt(t *testing.T) {
	env := newTestEnv(t).login()
	c := env.createCustomer("Sardor")
	other := env.createCustomer("Malika")
	d := env.createDebt(c.ID, "1000", "2025-07-01")
	require.Equal(t, http.StatusCreated, env.pay(d.ID, "400").Code)

	rec := env.do(http.MethodPatch, "/api/debts/"+itoa(d.ID), map[string]any{"umumiySumma": "400"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[DebtDTO](t, rec)
	assert.Equal(t, string(ledger.StatusPaid), updated.Holati)

	rec = env.do(http.MethodPatch, "/api/debts/"+itoa(d.ID), map[string]any{"umumiySumma": "300"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "umumiySumma", decode[ErrorResponse](t, rec).Field)

	rec = env.do(http.MethodPatch, "/api/debts/"+itoa(d.ID), map[string]any{"mijozId": other.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "mijozId", decode[ErrorResponse](t, rec).Field)
}

func TestDeleteDebt(t *testing.T) {
	env := newTestEnv(t).login()
	c := env.createCustomer("Aziz")
	d := env.createDebt(c.ID, "1000", "2025-07-01")
	require.Equal(t, http.StatusCreated, env.pay(d.ID, "100").Code)

	rec := env.do(http.MethodDelete, "/api/debts/"+itoa(d.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/api/debts/"+itoa(d.ID), nil).Code)
	assert.Empty(t, decode[[]PaymentWithDebtDTO](t, env.do(http.MethodGet, "/api/payments", nil)))
}

func TestListDebts_Filters(t *testing.T) {
	env := newTestEnv(t).login()
	a := env.createCustomer("Aziz")
	b := env.createCustomer("Bobur")
	late := env.createDebt(a.ID, "1000", "2025-06-10")
	env.createDebt(b.ID, "2000", "2025-07-01")

	byCustomer := decode[[]DebtWithCustomerDTO](t, env.do(http.MethodGet, "/api/debts?mijozId="+itoa(b.ID), nil))
	require.Len(t, byCustomer, 1)
	assert.Equal(t, b.ID, byCustomer[0].MijozID)

	overdue := decode[[]DebtWithCustomerDTO](t, env.do(http.MethodGet, "/api/debts/overdue", nil))
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)
}

func TestGetStats(t *testing.T) {
	env := newTestEnv(t).login()
	c := env.createCustomer("Aziz")
	late := env.createDebt(c.ID, "1000", "2025-06-10")
	env.createDebt(c.ID, "2000.50", "2025-07-01")
	require.Equal(t, http.StatusCreated, env.pay(late.ID, "250").Code)

	rec := env.do(http.MethodGet, "/api/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsDTO](t, rec)
	assert.Equal(t, 1, stats.JamiMijozlar)
	assert.Equal(t, 1, stats.FaolMijozlar)
	assert.Equal(t, 2, stats.JamiQarzlar)
	assert.Equal(t, 1, stats.QismanTolanganQarzlar)
	assert.Equal(t, 1, stats.TolanmaganQarzlar)
	assert.Equal(t, 1, stats.KechikkanQarzlar)
	assert.Equal(t, "3000.50", stats.JamiQarzSumma)
	assert.Equal(t, "250.00", stats.TolanganSumma)
	assert.Equal(t, "2750.50", stats.QolganSumma)
}

// =============================================================================
// HEALTH & ERROR MAPPING
// =============================================================================

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.h.Ping = func(context.Context) error { return errors.New("db gone") }
	rec = env.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWriteDomainError_StoreFailureIsGeneric(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()

	env.h.writeDomainError(rec, req, "Failed", &ledger.StoreError{Op: "compute stats", Err: errors.New("disk I/O error")})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Internal server error", resp.Error)
	assert.Empty(t, resp.Details)
	require.NotNil(t, env.hook.LastEntry())
	assert.Equal(t, "Failed", env.hook.LastEntry().Message)
}

func TestWriteInternal_LogsAuthenticatedUser(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req = req.WithContext(context.WithValue(req.Context(), userKey, &auth.User{ID: 7, Role: auth.RoleOperator}))
	rec := httptest.NewRecorder()

	env.h.writeInternal(rec, req, "Failed to compute stats", errors.New("disk I/O error"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	entry := env.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, int64(7), entry.Data["user_id"])
	assert.Equal(t, "/api/stats", entry.Data["path"])
}

func TestWriteInternal_AnonymousHasNoUser(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)

	env.h.writeInternal(httptest.NewRecorder(), req, "Login failed", errors.New("boom"))

	require.NotNil(t, env.hook.LastEntry())
	assert.NotContains(t, env.hook.LastEntry().Data, "user_id")
}

func TestWriteDomainError_ConcurrentModification(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/payments", nil)
	rec := httptest.NewRecorder()

	env.h.writeDomainError(rec, req, "Invalid payment data", ledger.ErrConcurrentModification)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "concurrent_modification", decode[ErrorResponse](t, rec).Code)
}

func TestRequestLogger_LogsEachRequest(t *testing.T) {
	env := newTestEnv(t)
	env.hook.Reset()

	env.do(http.MethodGet, "/healthz", nil)

	require.NotNil(t, env.hook.LastEntry())
	entry := env.hook.LastEntry()
	assert.Equal(t, "request", entry.Message)
	assert.Equal(t, http.StatusOK, entry.Data["status"])
	assert.Equal(t, "/healthz", entry.Data["path"])
	assert.NotEmpty(t, entry.Data["request_id"])
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
