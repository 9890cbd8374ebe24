package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"expensync/internal/domain/expense"
	"expensync/internal/domain/ledger"
	"expensync/internal/infrastructure/api"
)

// MockExpenseService implements ExpenseService for testing
type MockExpenseService struct {
	AddExpenseFunc           func(ctx context.Context, d expense.Draft) (expense.Result, error)
	EditExpenseFunc          func(ctx context.Context, id string, d expense.Draft) (expense.Result, error)
	DeleteExpenseFunc        func(ctx context.Context, id string) (expense.Result, error)
	AssignBalanceFunc        func(ctx context.Context, userID string, amount decimal.Decimal, note string) (expense.Result, error)
	EditManagedExpenseFunc   func(ctx context.Context, userID, id string, d expense.Draft) (expense.Result, error)
	DeleteManagedExpenseFunc func(ctx context.Context, userID, id string) (expense.Result, error)
	RequestReportFunc        func(ctx context.Context, in api.ReportInput) error
	RefreshFunc              func(ctx context.Context, owner string) error
}

func (m *MockExpenseService) AddExpense(ctx context.Context, d expense.Draft) (expense.Result, error) {
	if m.AddExpenseFunc != nil {
		return m.AddExpenseFunc(ctx, d)
	}
	return expense.Result{}, nil
}

func (m *MockExpenseService) EditExpense(ctx context.Context, id string, d expense.Draft) (expense.Result, error) {
	if m.EditExpenseFunc != nil {
		return m.EditExpenseFunc(ctx, id, d)
	}
	return expense.Result{}, nil
}

func (m *MockExpenseService) DeleteExpense(ctx context.Context, id string) (expense.Result, error) {
	if m.DeleteExpenseFunc != nil {
		return m.DeleteExpenseFunc(ctx, id)
	}
	return expense.Result{}, nil
}

func (m *MockExpenseService) AssignBalance(ctx context.Context, userID string, amount decimal.Decimal, note string) (expense.Result, error) {
	if m.AssignBalanceFunc != nil {
		return m.AssignBalanceFunc(ctx, userID, amount, note)
	}
	return expense.Result{}, nil
}

func (m *MockExpenseService) EditManagedExpense(ctx context.Context, userID, id string, d expense.Draft) (expense.Result, error) {
	if m.EditManagedExpenseFunc != nil {
		return m.EditManagedExpenseFunc(ctx, userID, id, d)
	}
	return expense.Result{}, nil
}

func (m *MockExpenseService) DeleteManagedExpense(ctx context.Context, userID, id string) (expense.Result, error) {
	if m.DeleteManagedExpenseFunc != nil {
		return m.DeleteManagedExpenseFunc(ctx, userID, id)
	}
	return expense.Result{}, nil
}

func (m *MockExpenseService) RequestReport(ctx context.Context, in api.ReportInput) error {
	if m.RequestReportFunc != nil {
		return m.RequestReportFunc(ctx, in)
	}
	return nil
}

func (m *MockExpenseService) Refresh(ctx context.Context, owner string) error {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx, owner)
	}
	return nil
}

type stubLedger struct {
	entries  map[string][]ledger.Entry
	balances map[string]decimal.Decimal
}

func (s *stubLedger) Entries(owner string) []ledger.Entry  { return s.entries[owner] }
func (s *stubLedger) Balance(owner string) decimal.Decimal { return s.balances[owner] }
func (s *stubLedger) TotalManagedBalance() decimal.Decimal { return s.balances["user-7"] }
func (s *stubLedger) ManagedOwners() []string              { return []string{"user-7"} }

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	return bytes.NewReader(b)
}

func TestExpenseHandler_HandleCreate(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		result         expense.Result
		err            error
		expectedStatus int
	}{
		{
			name:           "Synced",
			body:           `{"amount":"12.50","type":"debit","details":"lunch"}`,
			result:         expense.Result{Entry: ledger.Entry{ID: "srv1"}},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "Queued offline",
			body:           `{"amount":12.5}`,
			result:         expense.Result{Entry: ledger.Entry{ID: "tmp1"}, Pending: true},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "Invalid body",
			body:           `{"amount":`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Invalid date",
			body:           `{"amount":1,"date":"yesterday"}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Invalid draft",
			body:           `{"amount":0}`,
			err:            fmt.Errorf("%w: amount must be positive", expense.ErrInvalidDraft),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Backend rejects",
			body:           `{"amount":1}`,
			err:            &api.StatusError{Code: http.StatusUnprocessableEntity, Message: "category unknown"},
			expectedStatus: http.StatusUnprocessableEntity,
		},
		{
			name:           "Session expired",
			body:           `{"amount":1}`,
			err:            api.ErrAuthExpired,
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got expense.Draft
			svc := &MockExpenseService{AddExpenseFunc: func(_ context.Context, d expense.Draft) (expense.Result, error) {
				got = d
				return tt.result, tt.err
			}}
			handler := NewExpenseHandler(svc, &stubLedger{}, quietLogger())

			req := httptest.NewRequest(http.MethodPost, "/api/expenses", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			handler.HandleCreate(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Fatalf("handler returned wrong status code: got %v want %v (%s)", rr.Code, tt.expectedStatus, rr.Body.String())
			}
			if tt.name == "Synced" {
				if !got.Amount.Equal(decimal.RequireFromString("12.50")) || got.Kind != ledger.KindDebit {
					t.Errorf("draft = %+v", got)
				}
			}
			if tt.name == "Queued offline" && got.Kind != ledger.KindDebit {
				t.Errorf("default kind = %q, want debit", got.Kind)
			}
		})
	}
}

func TestExpenseHandler_HandleEditAndDelete(t *testing.T) {
	var editedID, deletedID string
	svc := &MockExpenseService{
		EditExpenseFunc: func(_ context.Context, id string, d expense.Draft) (expense.Result, error) {
			editedID = id
			return expense.Result{Entry: ledger.Entry{ID: id}}, nil
		},
		DeleteExpenseFunc: func(_ context.Context, id string) (expense.Result, error) {
			deletedID = id
			if id == "gone" {
				return expense.Result{}, &api.StatusError{Code: http.StatusInternalServerError}
			}
			return expense.Result{Pending: true}, nil
		},
	}
	handler := NewExpenseHandler(svc, &stubLedger{}, quietLogger())

	req := httptest.NewRequest(http.MethodPatch, "/api/expenses/e1", jsonBody(t, map[string]any{"amount": 3, "type": "credit", "date": "2026-02-01"}))
	req.SetPathValue("id", "e1")
	rr := httptest.NewRecorder()
	handler.HandleEdit(rr, req)
	if rr.Code != http.StatusOK || editedID != "e1" {
		t.Errorf("edit: status %d id %q", rr.Code, editedID)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/expenses/e1", nil)
	req.SetPathValue("id", "e1")
	rr = httptest.NewRecorder()
	handler.HandleDelete(rr, req)
	if rr.Code != http.StatusAccepted || deletedID != "e1" {
		t.Errorf("delete: status %d id %q", rr.Code, deletedID)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/expenses/gone", nil)
	req.SetPathValue("id", "gone")
	rr = httptest.NewRecorder()
	handler.HandleDelete(rr, req)
	if rr.Code != http.StatusBadGateway {
		t.Errorf("upstream 5xx: status %d, want 502", rr.Code)
	}
}

func TestExpenseHandler_HandleList(t *testing.T) {
	lg := &stubLedger{
		entries: map[string][]ledger.Entry{
			ledger.SelfOwner: {{ID: "e1", Amount: decimal.NewFromInt(5), Kind: ledger.KindDebit}},
		},
		balances: map[string]decimal.Decimal{
			ledger.SelfOwner: decimal.NewFromInt(-5),
			"user-7":         decimal.NewFromInt(100),
		},
	}
	handler := NewExpenseHandler(&MockExpenseService{}, lg, quietLogger())

	rr := httptest.NewRecorder()
	handler.HandleList(rr, httptest.NewRequest(http.MethodGet, "/api/expenses", nil))
	var resp ledgerResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Entries) != 1 || !resp.Balance.Equal(decimal.NewFromInt(-5)) {
		t.Errorf("list = %+v", resp)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/managed/nobody/expenses", nil)
	req.SetPathValue("userId", "nobody")
	rr = httptest.NewRecorder()
	handler.HandleListManagedExpenses(rr, req)
	if rr.Body.String() == "" || bytes.Contains(rr.Body.Bytes(), []byte(`"entries":null`)) {
		t.Errorf("empty owner listing = %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	handler.HandleListManaged(rr, httptest.NewRequest(http.MethodGet, "/api/managed", nil))
	var managed managedResponse
	json.NewDecoder(rr.Body).Decode(&managed)
	if len(managed.Users) != 1 || !managed.Total.Equal(decimal.NewFromInt(100)) {
		t.Errorf("managed = %+v", managed)
	}
}

func TestExpenseHandler_Managed(t *testing.T) {
	var calls []string
	svc := &MockExpenseService{
		AssignBalanceFunc: func(_ context.Context, userID string, amount decimal.Decimal, note string) (expense.Result, error) {
			calls = append(calls, "assign:"+userID+":"+amount.String()+":"+note)
			return expense.Result{}, nil
		},
		EditManagedExpenseFunc: func(_ context.Context, userID, id string, d expense.Draft) (expense.Result, error) {
			calls = append(calls, "edit:"+userID+":"+id)
			return expense.Result{}, nil
		},
		DeleteManagedExpenseFunc: func(_ context.Context, userID, id string) (expense.Result, error) {
			calls = append(calls, "delete:"+userID+":"+id)
			return expense.Result{}, nil
		},
	}
	handler := NewExpenseHandler(svc, &stubLedger{}, quietLogger())

	req := httptest.NewRequest(http.MethodPost, "/api/managed/user-7/balance", jsonBody(t, map[string]any{"amount": "250", "note": " top up "}))
	req.SetPathValue("userId", "user-7")
	rr := httptest.NewRecorder()
	handler.HandleAssignBalance(rr, req)
	if rr.Code != http.StatusCreated {
		t.Errorf("assign: status %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPatch, "/api/managed/user-7/expenses/e1", jsonBody(t, map[string]any{"amount": 1}))
	req.SetPathValue("userId", "user-7")
	req.SetPathValue("id", "e1")
	handler.HandleEditManaged(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodDelete, "/api/managed/user-7/expenses/e1", nil)
	req.SetPathValue("userId", "user-7")
	req.SetPathValue("id", "e1")
	handler.HandleDeleteManaged(httptest.NewRecorder(), req)

	want := []string{"assign:user-7:250:top up", "edit:user-7:e1", "delete:user-7:e1"}
	if len(calls) != len(want) {
		t.Fatalf("calls = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, calls[i], want[i])
		}
	}
}

func TestExpenseHandler_HandleReport(t *testing.T) {
	var got api.ReportInput
	svc := &MockExpenseService{RequestReportFunc: func(_ context.Context, in api.ReportInput) error {
		got = in
		if in.From.IsZero() {
			return fmt.Errorf("%w: report range is invalid", api.ErrInvalidInput)
		}
		return nil
	}}
	handler := NewExpenseHandler(svc, &stubLedger{}, quietLogger())

	rr := httptest.NewRecorder()
	handler.HandleReport(rr, httptest.NewRequest(http.MethodPost, "/api/reports",
		jsonBody(t, map[string]string{"from": "2026-01-01", "to": "2026-01-31", "format": "pdf"})))
	if rr.Code != http.StatusAccepted || got.Format != "pdf" || got.To.Day() != 31 {
		t.Errorf("report: status %d input %+v", rr.Code, got)
	}

	rr = httptest.NewRecorder()
	handler.HandleReport(rr, httptest.NewRequest(http.MethodPost, "/api/reports", jsonBody(t, map[string]string{"to": "2026-01-31"})))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing from: status %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	handler.HandleReport(rr, httptest.NewRequest(http.MethodPost, "/api/reports", jsonBody(t, map[string]string{"from": "01/01/2026"})))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bad date: status %d, want 400", rr.Code)
	}

	svc.RequestReportFunc = func(context.Context, api.ReportInput) error {
		return fmt.Errorf("failed to request report: %w", api.ErrNetworkUnreachable)
	}
	rr = httptest.NewRecorder()
	handler.HandleReport(rr, httptest.NewRequest(http.MethodPost, "/api/reports",
		jsonBody(t, map[string]string{"from": "2026-01-01", "to": "2026-01-31"})))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("offline report: status %d, want 503", rr.Code)
	}
}

func TestExpenseHandler_HandleRefresh(t *testing.T) {
	lg := &stubLedger{
		entries: map[string][]ledger.Entry{
			ledger.SelfOwner: {{ID: "s1", Amount: decimal.NewFromInt(100), Kind: ledger.KindCredit}},
			"user-7":         {{ID: "m1", Amount: decimal.NewFromInt(40), Kind: ledger.KindDebit}},
		},
		balances: map[string]decimal.Decimal{
			ledger.SelfOwner: decimal.NewFromInt(100),
			"user-7":         decimal.NewFromInt(-40),
		},
	}

	tests := []struct {
		name       string
		owner      string
		err        error
		wantStatus int
		wantID     string
	}{
		{"own listing", ledger.SelfOwner, nil, http.StatusOK, "s1"},
		{"managed listing", "user-7", nil, http.StatusOK, "m1"},
		{"backend unreachable", ledger.SelfOwner, fmt.Errorf("failed to fetch expenses: %w", api.ErrNetworkUnreachable), http.StatusServiceUnavailable, ""},
		{"backend forbids", "user-7", &api.StatusError{Code: http.StatusForbidden}, http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var refreshed []string
			svc := &MockExpenseService{
				RefreshFunc: func(_ context.Context, owner string) error {
					refreshed = append(refreshed, owner)
					return tt.err
				},
			}
			handler := NewExpenseHandler(svc, lg, quietLogger())

			rr := httptest.NewRecorder()
			if tt.owner == ledger.SelfOwner {
				handler.HandleRefresh(rr, httptest.NewRequest(http.MethodPost, "/api/expenses/refresh", nil))
			} else {
				req := httptest.NewRequest(http.MethodPost, "/api/managed/"+tt.owner+"/expenses/refresh", nil)
				req.SetPathValue("userId", tt.owner)
				handler.HandleRefreshManaged(rr, req)
			}

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if len(refreshed) != 1 || refreshed[0] != tt.owner {
				t.Errorf("refreshed owners = %q, want [%q]", refreshed, tt.owner)
			}
			if tt.wantID == "" {
				return
			}
			var resp ledgerResponse
			json.NewDecoder(rr.Body).Decode(&resp)
			if len(resp.Entries) != 1 || resp.Entries[0].ID != tt.wantID {
				t.Errorf("listing = %+v, want %s", resp, tt.wantID)
			}
		})
	}
}
