/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Field names follow the
  web client's contract (Uzbek camelCase), so the Go domain types can keep
  English names.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

ENCODING:
  Amounts:  JSON strings with two decimals ("60000.00"). Requests accept
            strings or numbers.
  Dates:    RFC3339 in responses. Requests accept RFC3339 or YYYY-MM-DD.
  Optional: manzil / izoh are null when empty.

VALIDATION:
  Validation is done in the ledger service, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/debt-ledger/auth"
	"github.com/warp/debt-ledger/ledger"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

// CustomerDTO represents a customer in API responses.
type CustomerDTO struct {
	ID             int64   `json:"id"`
	Ism            string  `json:"ism"`
	Telefon        string  `json:"telefon"`
	Manzil         *string `json:"manzil"`
	Izoh           *string `json:"izoh"`
	Faol           bool    `json:"faol"`
	YaratilganSana string  `json:"yaratilganSana"`
}

// CreateCustomerRequest is the request to create a customer.
type CreateCustomerRequest struct {
	Ism     string  `json:"ism"`
	Telefon string  `json:"telefon"`
	Manzil  *string `json:"manzil"`
	Izoh    *string `json:"izoh"`
}

// UpdateCustomerRequest is a partial customer update.
type UpdateCustomerRequest struct {
	Ism     *string `json:"ism"`
	Telefon *string `json:"telefon"`
	Manzil  *string `json:"manzil"`
	Izoh    *string `json:"izoh"`
}

// =============================================================================
// DEBTS
// =============================================================================

// DebtDTO represents a debt in API responses.
type DebtDTO struct {
	ID               int64  `json:"id"`
	MijozID          int64  `json:"mijozId"`
	TovarNomi        string `json:"tovarNomi"`
	UmumiySumma      string `json:"umumiySumma"`
	TolanganSumma    string `json:"tolanganSumma"`
	QolganSumma      string `json:"qolganSumma"`
	BerilganSana     string `json:"berilganSana"`
	QaytarishMuddati string `json:"qaytarishMuddati"`
	Holati           string `json:"holati"`
	Arxivlangan      bool   `json:"arxivlangan"`
	YaratilganSana   string `json:"yaratilganSana"`
}

// DebtWithCustomerDTO is a debt with its customer and payment history.
type DebtWithCustomerDTO struct {
	DebtDTO
	Mijoz    CustomerDTO  `json:"mijoz"`
	Tolovlar []PaymentDTO `json:"tolovlar"`
}

// CreateDebtRequest is the request to record a debt.
type CreateDebtRequest struct {
	MijozID          int64           `json:"mijozId"`
	TovarNomi        string          `json:"tovarNomi"`
	UmumiySumma      decimal.Decimal `json:"umumiySumma"`
	BerilganSana     *Date           `json:"berilganSana"`
	QaytarishMuddati *Date           `json:"qaytarishMuddati"`
}

// UpdateDebtRequest is a partial debt update. Paid amount, status and the
// archive flag cannot be set through it.
type UpdateDebtRequest struct {
	MijozID          *int64           `json:"mijozId"`
	TovarNomi        *string          `json:"tovarNomi"`
	UmumiySumma      *decimal.Decimal `json:"umumiySumma"`
	BerilganSana     *Date            `json:"berilganSana"`
	QaytarishMuddati *Date            `json:"qaytarishMuddati"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID          int64   `json:"id"`
	QarzID      int64   `json:"qarzId"`
	Summa       string  `json:"summa"`
	TolovSanasi string  `json:"tolovSanasi"`
	Izoh        *string `json:"izoh"`
}

// PaymentWithDebtDTO is a payment with its debt and the debt's customer.
type PaymentWithDebtDTO struct {
	PaymentDTO
	Qarz PaymentDebtDTO `json:"qarz"`
}

// PaymentDebtDTO is the debt embedded in a payment listing.
type PaymentDebtDTO struct {
	DebtDTO
	Mijoz CustomerDTO `json:"mijoz"`
}

// CreatePaymentRequest is the request to apply a payment.
type CreatePaymentRequest struct {
	QarzID      int64           `json:"qarzId"`
	Summa       decimal.Decimal `json:"summa"`
	Izoh        *string         `json:"izoh"`
	TolovSanasi *Date           `json:"tolovSanasi"`
}

// =============================================================================
// STATS & AUTH
// =============================================================================

// StatsDTO is the dashboard summary.
type StatsDTO struct {
	JamiMijozlar          int    `json:"jamiMijozlar"`
	FaolMijozlar          int    `json:"faolMijozlar"`
	JamiQarzlar           int    `json:"jamiQarzlar"`
	TolanganQarzlar       int    `json:"tolanganQarzlar"`
	TolanmaganQarzlar     int    `json:"tolanmaganQarzlar"`
	QismanTolanganQarzlar int    `json:"qismanTolanganQarzlar"`
	KechikkanQarzlar      int    `json:"kechikkanQarzlar"`
	JamiQarzSumma         string `json:"jamiQarzSumma"`
	TolanganSumma         string `json:"tolanganSumma"`
	QolganSumma           string `json:"qolganSumma"`
}

// UserDTO represents an operator.
type UserDTO struct {
	ID             int64  `json:"id"`
	Telefon        string `json:"telefon"`
	Ism            string `json:"ism"`
	Rol            string `json:"rol"`
	Faol           bool   `json:"faol"`
	YaratilganSana string `json:"yaratilganSana"`
}

// LoginRequest is the login body.
type LoginRequest struct {
	Telefon string `json:"telefon"`
}

// LoginResponse carries the session token to send as a Bearer token.
type LoginResponse struct {
	SessionID string  `json:"sessionId"`
	ExpiresAt string  `json:"expiresAt"`
	User      UserDTO `json:"user"`
}

// AuthCheckResponse is returned by GET /api/auth/check.
type AuthCheckResponse struct {
	Authenticated bool `json:"authenticated"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	Remaining string `json:"remaining,omitempty"`
	Details   string `json:"details,omitempty"`
}

// =============================================================================
// DATE
// =============================================================================

// Date accepts "2006-01-02" or RFC3339 in requests.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	t, err := ParseDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// ParseDate parses a calendar date (midnight UTC) or an RFC3339 timestamp.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD or RFC3339)", s)
	}
	return t.UTC(), nil
}

func (d *Date) value() time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func toCustomerDTO(c ledger.Customer) CustomerDTO {
	return CustomerDTO{
		ID:             c.ID,
		Ism:            c.Name,
		Telefon:        c.Phone,
		Manzil:         optional(c.Address),
		Izoh:           optional(c.Note),
		Faol:           c.Active,
		YaratilganSana: formatTime(c.CreatedAt),
	}
}

func toDebtDTO(d ledger.Debt) DebtDTO {
	return DebtDTO{
		ID:               d.ID,
		MijozID:          d.CustomerID,
		TovarNomi:        d.Product,
		UmumiySumma:      ledger.FormatAmount(d.TotalAmount),
		TolanganSumma:    ledger.FormatAmount(d.PaidAmount),
		QolganSumma:      ledger.FormatAmount(d.Remaining()),
		BerilganSana:     formatTime(d.IssuedAt),
		QaytarishMuddati: formatTime(d.DueAt),
		Holati:           string(d.Status),
		Arxivlangan:      d.Archived,
		YaratilganSana:   formatTime(d.CreatedAt),
	}
}

func toDebtWithCustomerDTO(d ledger.DebtWithCustomer) DebtWithCustomerDTO {
	payments := make([]PaymentDTO, len(d.Payments))
	for i, p := range d.Payments {
		payments[i] = toPaymentDTO(p)
	}
	return DebtWithCustomerDTO{
		DebtDTO:  toDebtDTO(d.Debt),
		Mijoz:    toCustomerDTO(d.Customer),
		Tolovlar: payments,
	}
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:          p.ID,
		QarzID:      p.DebtID,
		Summa:       ledger.FormatAmount(p.Amount),
		TolovSanasi: formatTime(p.PaidAt),
		Izoh:        optional(p.Note),
	}
}

func toPaymentWithDebtDTO(p ledger.PaymentWithDebt) PaymentWithDebtDTO {
	return PaymentWithDebtDTO{
		PaymentDTO: toPaymentDTO(p.Payment),
		Qarz: PaymentDebtDTO{
			DebtDTO: toDebtDTO(p.Debt),
			Mijoz:   toCustomerDTO(p.Customer),
		},
	}
}

func toStatsDTO(s ledger.Stats) StatsDTO {
	return StatsDTO{
		JamiMijozlar:          s.TotalCustomers,
		FaolMijozlar:          s.ActiveCustomers,
		JamiQarzlar:           s.TotalDebts,
		TolanganQarzlar:       s.PaidDebts,
		TolanmaganQarzlar:     s.UnpaidDebts,
		QismanTolanganQarzlar: s.PartialDebts,
		KechikkanQarzlar:      s.OverdueDebts,
		JamiQarzSumma:         ledger.FormatAmount(s.TotalAmount),
		TolanganSumma:         ledger.FormatAmount(s.PaidAmount),
		QolganSumma:           ledger.FormatAmount(s.RemainingAmount),
	}
}

func toUserDTO(u auth.User) UserDTO {
	return UserDTO{
		ID:             u.ID,
		Telefon:        u.Phone,
		Ism:            u.Name,
		Rol:            u.Role,
		Faol:           u.Active,
		YaratilganSana: formatTime(u.CreatedAt),
	}
}
