/*
handlers.go - HTTP API handlers for the debt ledger

PURPOSE:
  Exposes the ledger service over a JSON REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Customers:
    GET    /api/customers              List customers (?faol=true: active only)
    POST   /api/customers              Create customer
    GET    /api/customers/{id}         Get customer
    PATCH  /api/customers/{id}         Update customer
    DELETE /api/customers/{id}         Deactivate customer (soft delete)

  Debts:
    GET    /api/debts                  List debts (?arxiv=true, ?mijozId=)
    POST   /api/debts                  Record debt
    GET    /api/debts/overdue          Overdue debts, earliest due first
    GET    /api/debts/{id}             Debt with customer and payments
    PATCH  /api/debts/{id}             Update debt
    PATCH  /api/debts/{id}/archive     Archive a fully paid debt
    DELETE /api/debts/{id}             Delete debt and its payments

  Payments:
    GET    /api/payments               List payments, newest first
    POST   /api/payments               Apply payment

  Stats:
    GET    /api/stats                  Dashboard aggregates

  Auth:
    POST   /api/auth/login             Phone login, returns a session token
    POST   /api/auth/logout            Delete the caller's session
    GET    /api/auth/check             Whether the Bearer token is valid

REQUEST FLOW:
  1. Parse HTTP request
  2. Call the ledger service (it validates)
  3. Serialize response
  4. Map domain errors to status codes

ERROR HANDLING:
  - 400: Validation errors, invalid body, payment exceeds remaining
  - 401: Missing or expired session
  - 404: Customer / debt not found
  - 409: Entity state forbids the operation, or lost a write race
  - 500: Store failures (details are logged, not returned)

SEE ALSO:
  - dto.go: Request/response data structures
  - middleware.go: Request logging and authentication
  - server.go: Router setup
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/debt-ledger/auth"
	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Service
	Auth   *auth.Service

	// Ping reports store health for /healthz. Optional.
	Ping func(ctx context.Context) error

	log logrus.FieldLogger
}

// NewHandler creates a handler over the ledger and auth services.
func NewHandler(l *ledger.Service, a *auth.Service, logger logrus.FieldLogger) *Handler {
	return &Handler{Ledger: l, Auth: a, log: logger}
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			h.log.WithError(err).Error("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// CUSTOMER ENDPOINTS
// =============================================================================

// ListCustomers returns customers newest-first.
// GET /api/customers
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	filter := ledger.CustomerFilter{ActiveOnly: r.URL.Query().Get("faol") == "true"}

	customers, err := h.Ledger.ListCustomers(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCustomer returns a single customer.
// GET /api/customers/{id}
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	c, err := h.Ledger.GetCustomer(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*c))
}

// CreateCustomer creates an active customer.
// POST /api/customers
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if !decodeBody(w, r, &req, "Invalid customer data") {
		return
	}

	c, err := h.Ledger.CreateCustomer(r.Context(), ledger.CustomerInput{
		Name:    req.Ism,
		Phone:   req.Telefon,
		Address: deref(req.Manzil),
		Note:    deref(req.Izoh),
	})
	if err != nil {
		h.writeDomainError(w, r, "Invalid customer data", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(*c))
}

// UpdateCustomer applies a partial update.
// PATCH /api/customers/{id}
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateCustomerRequest
	if !decodeBody(w, r, &req, "Invalid customer data") {
		return
	}

	c, err := h.Ledger.UpdateCustomer(r.Context(), id, ledger.CustomerPatch{
		Name:    req.Ism,
		Phone:   req.Telefon,
		Address: req.Manzil,
		Note:    req.Izoh,
	})
	if err != nil {
		h.writeDomainError(w, r, "Invalid customer data", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(*c))
}

// DeactivateCustomer soft-deletes a customer.
// DELETE /api/customers/{id}
func (h *Handler) DeactivateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.Ledger.DeactivateCustomer(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Failed to delete customer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// DEBT ENDPOINTS
// =============================================================================

// ListDebts returns debts with their customers and payments.
// GET /api/debts
func (h *Handler) ListDebts(w http.ResponseWriter, r *http.Request) {
	q := ledger.DebtQuery{IncludeArchived: r.URL.Query().Get("arxiv") == "true"}
	if v := r.URL.Query().Get("mijozId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid mijozId", err)
			return
		}
		q.CustomerID = &id
	}

	debts, err := h.Ledger.ListDebts(r.Context(), q)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list debts", err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtDTOs(debts))
}

// ListOverdueDebts returns unpaid, unarchived debts past their due date.
// GET /api/debts/overdue
func (h *Handler) ListOverdueDebts(w http.ResponseWriter, r *http.Request) {
	debts, err := h.Ledger.ListOverdueDebts(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list overdue debts", err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtDTOs(debts))
}

// GetDebt returns a debt with its customer and payment history.
// GET /api/debts/{id}
func (h *Handler) GetDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.Ledger.GetDebt(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get debt", err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtWithCustomerDTO(*d))
}

// CreateDebt records a new debt.
// POST /api/debts
func (h *Handler) CreateDebt(w http.ResponseWriter, r *http.Request) {
	var req CreateDebtRequest
	if !decodeBody(w, r, &req, "Invalid debt data") {
		return
	}

	d, err := h.Ledger.CreateDebt(r.Context(), ledger.DebtInput{
		CustomerID:  req.MijozID,
		Product:     req.TovarNomi,
		TotalAmount: req.UmumiySumma,
		IssuedAt:    req.BerilganSana.value(),
		DueAt:       req.QaytarishMuddati.value(),
	})
	if err != nil {
		h.writeDomainError(w, r, "Invalid debt data", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDebtDTO(*d))
}

// UpdateDebt applies a partial update.
// PATCH /api/debts/{id}
func (h *Handler) UpdateDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req UpdateDebtRequest
	if !decodeBody(w, r, &req, "Invalid debt data") {
		return
	}

	patch := ledger.DebtPatch{
		CustomerID:  req.MijozID,
		Product:     req.TovarNomi,
		TotalAmount: req.UmumiySumma,
	}
	if req.BerilganSana != nil {
		patch.IssuedAt = &req.BerilganSana.Time
	}
	if req.QaytarishMuddati != nil {
		patch.DueAt = &req.QaytarishMuddati.Time
	}

	d, err := h.Ledger.UpdateDebt(r.Context(), id, patch)
	if err != nil {
		h.writeDomainError(w, r, "Invalid debt data", err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtDTO(*d))
}

// ArchiveDebt archives a fully paid debt.
// PATCH /api/debts/{id}/archive
func (h *Handler) ArchiveDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	d, err := h.Ledger.ArchiveDebt(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to archive debt", err)
		return
	}
	writeJSON(w, http.StatusOK, toDebtDTO(*d))
}

// DeleteDebt deletes a debt and its payments.
// DELETE /api/debts/{id}
func (h *Handler) DeleteDebt(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := h.Ledger.DeleteDebt(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Failed to delete debt", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toDebtDTOs(debts []ledger.DebtWithCustomer) []DebtWithCustomerDTO {
	dtos := make([]DebtWithCustomerDTO, len(debts))
	for i, d := range debts {
		dtos[i] = toDebtWithCustomerDTO(d)
	}
	return dtos
}

// =============================================================================
// PAYMENT ENDPOINTS
// =============================================================================

// ListPayments returns payments newest-first with debt and customer.
// GET /api/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := h.Ledger.ListPayments(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list payments", err)
		return
	}

	dtos := make([]PaymentWithDebtDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentWithDebtDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApplyPayment records a payment against a debt.
// POST /api/payments
func (h *Handler) ApplyPayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if !decodeBody(w, r, &req, "Invalid payment data") {
		return
	}

	p, err := h.Ledger.ApplyPayment(r.Context(), ledger.PaymentInput{
		DebtID: req.QarzID,
		Amount: req.Summa,
		Note:   deref(req.Izoh),
		PaidAt: req.TolovSanasi.value(),
	})
	if err != nil {
		h.writeDomainError(w, r, "Invalid payment data", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(*p))
}

// =============================================================================
// STATS
// =============================================================================

// GetStats returns dashboard aggregates.
// GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Ledger.ComputeStats(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Login starts a session for an active operator.
// POST /api/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req, "Invalid login data") {
		return
	}

	session, user, err := h.Auth.Login(r.Context(), req.Telefon)
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Phone number is required", nil)
		return
	case errors.Is(err, auth.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "Invalid phone number", nil)
		return
	case err != nil:
		h.writeInternal(w, r, "Login failed", err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		SessionID: session.Token,
		ExpiresAt: formatTime(session.ExpiresAt),
		User:      toUserDTO(*user),
	})
}

// Logout deletes the caller's session. Unknown tokens are not an error.
// POST /api/auth/logout
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Unauthorized", nil)
		return
	}
	if err := h.Auth.Logout(r.Context(), token); err != nil {
		h.writeInternal(w, r, "Logout failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// CheckAuth reports whether the Bearer token belongs to a live session.
// GET /api/auth/check
func (h *Handler) CheckAuth(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, AuthCheckResponse{Authenticated: false})
		return
	}

	_, err := h.Auth.Authenticate(r.Context(), token)
	if err != nil && !errors.Is(err, auth.ErrUnauthenticated) {
		h.writeInternal(w, r, "Session check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, AuthCheckResponse{Authenticated: err == nil})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps ledger errors to HTTP responses. message is used for
// validation failures; other categories carry their own message.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var (
		exceeds  *ledger.ExceedsRemainingError
		invalid  *ledger.ValidationError
		notFound *ledger.NotFoundError
	)
	switch {
	case errors.As(err, &exceeds):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:     "Payment amount exceeds remaining debt",
			Code:      "exceeds_remaining",
			Remaining: ledger.FormatAmount(exceeds.Remaining),
		})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   message,
			Code:    "validation",
			Field:   invalid.Field,
			Details: invalid.Message,
		})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error: notFoundMessage(notFound.Entity),
			Code:  "not_found",
		})
	case ledger.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "Operation not allowed",
			Code:    "conflict",
			Details: err.Error(),
		})
	case ledger.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "Debt was modified concurrently, please retry",
			Code:  "concurrent_modification",
		})
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "Request timed out", nil)
	default:
		h.writeInternal(w, r, message, err)
	}
}

// writeInternal logs the cause and returns a generic 500.
func (h *Handler) writeInternal(w http.ResponseWriter, r *http.Request, message string, err error) {
	fields := logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"path":       r.URL.Path,
	}
	if user, ok := UserFromContext(r.Context()); ok {
		fields["user_id"] = user.ID
	}
	h.log.WithFields(fields).WithError(err).Error(message)
	writeError(w, http.StatusInternalServerError, "Internal server error", nil)
}

func notFoundMessage(entity string) string {
	switch entity {
	case "customer":
		return "Customer not found"
	case "debt":
		return "Debt not found"
	default:
		return "Not found"
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

// maxBodyBytes caps every JSON request body.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, message string) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large", nil)
			return false
		}
		writeError(w, http.StatusBadRequest, message, err)
		return false
	}
	return true
}
