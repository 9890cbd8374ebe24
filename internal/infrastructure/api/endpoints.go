package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"expensync/internal/domain/queue"
)

// Entry types accepted by the backend.
const (
	TypeDebit  = "debit"
	TypeCredit = "credit"
)

// ExpenseInput is the body of an expense create or edit.
type ExpenseInput struct {
	Amount   decimal.Decimal
	Type     string
	Category string
	Details  string
	Date     time.Time
}

type expenseWire struct {
	Amount   json.Number `json:"amount"`
	Type     string      `json:"type"`
	Category string      `json:"category,omitempty"`
	Details  string      `json:"details,omitempty"`
	Date     string      `json:"date,omitempty"`
}

func (in ExpenseInput) Validate() error {
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	if in.Type != TypeDebit && in.Type != TypeCredit {
		return fmt.Errorf("%w: type must be %q or %q", ErrInvalidInput, TypeDebit, TypeCredit)
	}
	return nil
}

func (in ExpenseInput) MarshalJSON() ([]byte, error) {
	w := expenseWire{
		Amount:   json.Number(in.Amount.String()),
		Type:     in.Type,
		Category: in.Category,
		Details:  in.Details,
	}
	if !in.Date.IsZero() {
		w.Date = in.Date.UTC().Format(time.RFC3339)
	}
	return json.Marshal(w)
}

// BalanceInput is the body of an admin balance assignment.
type BalanceInput struct {
	Amount decimal.Decimal
	Note   string
}

func (in BalanceInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount json.Number `json:"amount"`
		Note   string      `json:"note,omitempty"`
	}{json.Number(in.Amount.String()), in.Note})
}

// ReportInput asks the backend to build a report for a date range.
type ReportInput struct {
	From   time.Time `json:"from"`
	To     time.Time `json:"to"`
	Format string    `json:"format,omitempty"`
	UserID string    `json:"userId,omitempty"`
}

func pathID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	return url.PathEscape(id), nil
}

func jsonBody(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return b, nil
}

// AddExpense builds POST /expense/add for an entry cached under localID.
func AddExpense(localID string, in ExpenseInput) (Request, error) {
	if err := in.Validate(); err != nil {
		return Request{}, err
	}
	body, err := jsonBody(in)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method: http.MethodPost,
		Path:   "/expense/add",
		Body:   body,
		Meta: queue.Meta{
			LocalEntityID: localID,
			EntityKind:    queue.EntityExpense,
			ActionKind:    queue.ActionAdd,
		},
	}, nil
}

// EditExpense builds PATCH /expense/{id}.
func EditExpense(id string, in ExpenseInput) (Request, error) {
	p, err := pathID(id)
	if err != nil {
		return Request{}, err
	}
	if err := in.Validate(); err != nil {
		return Request{}, err
	}
	body, err := jsonBody(in)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method: http.MethodPatch,
		Path:   "/expense/" + p,
		Body:   body,
		Meta: queue.Meta{
			LocalEntityID: id,
			EntityKind:    queue.EntityExpense,
			ActionKind:    queue.ActionEdit,
		},
	}, nil
}

// DeleteExpense builds DELETE /expense/{id}.
func DeleteExpense(id string) (Request, error) {
	p, err := pathID(id)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method: http.MethodDelete,
		Path:   "/expense/" + p,
		Meta: queue.Meta{
			LocalEntityID: id,
			EntityKind:    queue.EntityExpense,
			ActionKind:    queue.ActionDelete,
		},
	}, nil
}

// AdminEditExpense builds PATCH /admin/expense/{userId}/{id}.
func AdminEditExpense(userID, id string, in ExpenseInput) (Request, error) {
	u, err := pathID(userID)
	if err != nil {
		return Request{}, err
	}
	p, err := pathID(id)
	if err != nil {
		return Request{}, err
	}
	if err := in.Validate(); err != nil {
		return Request{}, err
	}
	body, err := jsonBody(in)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method: http.MethodPatch,
		Path:   "/admin/expense/" + u + "/" + p,
		Body:   body,
		Meta: queue.Meta{
			LocalEntityID: id,
			OwnerUserID:   userID,
			EntityKind:    queue.EntityAdminExpense,
			ActionKind:    queue.ActionEdit,
		},
	}, nil
}

// AdminDeleteExpense builds DELETE /admin/expense/{userId}/{id}.
func AdminDeleteExpense(userID, id string) (Request, error) {
	u, err := pathID(userID)
	if err != nil {
		return Request{}, err
	}
	p, err := pathID(id)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method: http.MethodDelete,
		Path:   "/admin/expense/" + u + "/" + p,
		Meta: queue.Meta{
			LocalEntityID: id,
			OwnerUserID:   userID,
			EntityKind:    queue.EntityAdminExpense,
			ActionKind:    queue.ActionDelete,
		},
	}, nil
}

// AssignBalance builds POST /admin/assignBalance/{userId}. The assignment
// is cached as a credit entry under localID.
func AssignBalance(userID, localID string, in BalanceInput) (Request, error) {
	u, err := pathID(userID)
	if err != nil {
		return Request{}, err
	}
	if !in.Amount.IsPositive() {
		return Request{}, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	body, err := jsonBody(in)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method: http.MethodPost,
		Path:   "/admin/assignBalance/" + u,
		Body:   body,
		Meta: queue.Meta{
			LocalEntityID: localID,
			OwnerUserID:   userID,
			EntityKind:    queue.EntityAdminBalance,
			ActionKind:    queue.ActionAdd,
		},
	}, nil
}

// GenerateReport builds the fire-and-forget report request. It is never
// queued.
func GenerateReport(in ReportInput) (Request, error) {
	if in.From.IsZero() || in.To.IsZero() || in.To.Before(in.From) {
		return Request{}, fmt.Errorf("%w: report range is invalid", ErrInvalidInput)
	}
	body, err := jsonBody(in)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method: http.MethodPost,
		Path:   "/report/generate",
		Body:   body,
		Meta:   queue.Meta{EntityKind: queue.EntityOther, ActionKind: queue.ActionOther},
		Replay: true,
	}, nil
}

// ListExpenses builds GET /expense/get-expense/ for the signed-in user.
func ListExpenses() Request {
	return Request{Method: http.MethodGet, Path: "/expense/get-expense/"}
}

// AdminListExpenses builds GET /admin/expenses/{userId}.
func AdminListExpenses(userID string) (Request, error) {
	u, err := pathID(userID)
	if err != nil {
		return Request{}, err
	}
	return Request{Method: http.MethodGet, Path: "/admin/expenses/" + u}, nil
}

// ServerExpense is one entry of a backend expense listing.
type ServerExpense struct {
	ID       string
	Amount   decimal.Decimal
	Type     string
	Category string
	Details  string
	Date     time.Time
}

func (e *ServerExpense) UnmarshalJSON(data []byte) error {
	var w struct {
		ID       string          `json:"id"`
		MongoID  string          `json:"_id"`
		Amount   decimal.Decimal `json:"amount"`
		Type     string          `json:"type"`
		Category string          `json:"category"`
		Details  string          `json:"details"`
		Date     string          `json:"date"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*e = ServerExpense{
		ID:       w.ID,
		Amount:   w.Amount,
		Type:     strings.ToLower(w.Type),
		Category: w.Category,
		Details:  w.Details,
	}
	if e.ID == "" {
		e.ID = w.MongoID
	}
	if w.Date != "" {
		for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
			if t, err := time.Parse(layout, w.Date); err == nil {
				e.Date = t.UTC()
				break
			}
		}
	}
	return nil
}

// ParseExpenseList decodes a listing body of the form {"expenses": [...]}.
func ParseExpenseList(body []byte) ([]ServerExpense, error) {
	var list struct {
		Expenses []ServerExpense `json:"expenses"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode expense listing: %w", err)
	}
	return list.Expenses, nil
}
