package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expensync/internal/domain/queue"
)

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal.NewFromString(%q) failed: %v", s, err)
	}
	return d
}

func TestAddExpense_Body(t *testing.T) {
	req, err := AddExpense("tmp1", ExpenseInput{
		Amount:   mustDecimal(t, "12.50"),
		Type:     TypeDebit,
		Category: "Food",
		Details:  "lunch",
		Date:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("AddExpense() failed: %v", err)
	}

	if req.Method != http.MethodPost || req.Path != "/expense/add" {
		t.Errorf("request = %s %s, want POST /expense/add", req.Method, req.Path)
	}

	var body map[string]any
	if err := json.Unmarshal(req.Body, &body); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if body["amount"] != 12.5 {
		t.Errorf("amount = %v (%T), want JSON number 12.5", body["amount"], body["amount"])
	}
	if body["type"] != "debit" || body["category"] != "Food" || body["date"] != "2026-03-01T12:00:00Z" {
		t.Errorf("body = %v", body)
	}

	want := queue.Meta{LocalEntityID: "tmp1", EntityKind: queue.EntityExpense, ActionKind: queue.ActionAdd}
	if req.Meta != want {
		t.Errorf("Meta = %+v, want %+v", req.Meta, want)
	}
	if req.Replay {
		t.Error("mutations must be eligible for queueing")
	}
}

func TestEndpoints_PathsAndMeta(t *testing.T) {
	in := ExpenseInput{Amount: decimal.NewFromInt(5), Type: TypeCredit}

	edit, _ := EditExpense("e 1", in)
	del, _ := DeleteExpense("e1")
	adminEdit, _ := AdminEditExpense("u7", "e1", in)
	adminDel, _ := AdminDeleteExpense("u7", "e1")
	assign, _ := AssignBalance("u7", "tmp-a", BalanceInput{Amount: decimal.NewFromInt(100)})

	tests := []struct {
		name   string
		req    Request
		method string
		path   string
		meta   queue.Meta
	}{
		{"edit", edit, http.MethodPatch, "/expense/e%201", queue.Meta{LocalEntityID: "e 1", EntityKind: queue.EntityExpense, ActionKind: queue.ActionEdit}},
		{"delete", del, http.MethodDelete, "/expense/e1", queue.Meta{LocalEntityID: "e1", EntityKind: queue.EntityExpense, ActionKind: queue.ActionDelete}},
		{"admin edit", adminEdit, http.MethodPatch, "/admin/expense/u7/e1", queue.Meta{LocalEntityID: "e1", OwnerUserID: "u7", EntityKind: queue.EntityAdminExpense, ActionKind: queue.ActionEdit}},
		{"admin delete", adminDel, http.MethodDelete, "/admin/expense/u7/e1", queue.Meta{LocalEntityID: "e1", OwnerUserID: "u7", EntityKind: queue.EntityAdminExpense, ActionKind: queue.ActionDelete}},
		{"assign balance", assign, http.MethodPost, "/admin/assignBalance/u7", queue.Meta{LocalEntityID: "tmp-a", OwnerUserID: "u7", EntityKind: queue.EntityAdminBalance, ActionKind: queue.ActionAdd}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.req.Method != tt.method || tt.req.Path != tt.path {
				t.Errorf("request = %s %s, want %s %s", tt.req.Method, tt.req.Path, tt.method, tt.path)
			}
			if tt.req.Meta != tt.meta {
				t.Errorf("Meta = %+v, want %+v", tt.req.Meta, tt.meta)
			}
		})
	}
}

func TestEndpoints_Validation(t *testing.T) {
	good := ExpenseInput{Amount: decimal.NewFromInt(1), Type: TypeDebit}

	tests := []struct {
		name string
		err  error
	}{
		{"zero amount", func() error { _, err := AddExpense("t", ExpenseInput{Type: TypeDebit}); return err }()},
		{"bad type", func() error {
			_, err := AddExpense("t", ExpenseInput{Amount: decimal.NewFromInt(1), Type: "refund"})
			return err
		}()},
		{"edit missing id", func() error { _, err := EditExpense(" ", good); return err }()},
		{"delete missing id", func() error { _, err := DeleteExpense(""); return err }()},
		{"admin missing user", func() error { _, err := AdminDeleteExpense("", "e1"); return err }()},
		{"assign non-positive", func() error {
			_, err := AssignBalance("u1", "t", BalanceInput{Amount: decimal.NewFromInt(-3)})
			return err
		}()},
		{"report inverted range", func() error {
			now := time.Now()
			_, err := GenerateReport(ReportInput{From: now, To: now.Add(-time.Hour)})
			return err
		}()},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, ErrInvalidInput) {
			t.Errorf("%s: error = %v, want %v", tt.name, tt.err, ErrInvalidInput)
		}
	}
}

func TestGenerateReport_NeverQueued(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	req, err := GenerateReport(ReportInput{From: from, To: from.AddDate(0, 1, 0)})
	if err != nil {
		t.Fatalf("GenerateReport() failed: %v", err)
	}
	if !req.Replay {
		t.Error("report request must opt out of queueing")
	}
}

func TestListEndpoints(t *testing.T) {
	own := ListExpenses()
	if own.Method != http.MethodGet || own.Path != "/expense/get-expense/" {
		t.Errorf("ListExpenses() = %s %s", own.Method, own.Path)
	}

	managed, err := AdminListExpenses("u 7")
	if err != nil {
		t.Fatalf("AdminListExpenses() failed: %v", err)
	}
	if managed.Method != http.MethodGet || managed.Path != "/admin/expenses/u%207" {
		t.Errorf("AdminListExpenses() = %s %s", managed.Method, managed.Path)
	}

	if _, err := AdminListExpenses(" "); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("AdminListExpenses(blank) error = %v, want %v", err, ErrInvalidInput)
	}
}

func TestParseExpenseList(t *testing.T) {
	body := []byte(`{
		"expenses": [
			{"_id": "srv1", "amount": 120.5, "type": "debit", "category": "Food", "details": "lunch", "date": "2026-02-03T10:00:00.000Z"},
			{"id": "srv2", "amount": "40", "type": "Credit", "date": "2026-02-04"}
		],
		"totalBalance": -80.5
	}`)

	got, err := ParseExpenseList(body)
	if err != nil {
		t.Fatalf("ParseExpenseList() failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ParseExpenseList() returned %d entries, want 2", len(got))
	}

	if got[0].ID != "srv1" || !got[0].Amount.Equal(mustDecimal(t, "120.5")) || got[0].Type != TypeDebit || got[0].Category != "Food" {
		t.Errorf("entry 0 = %+v", got[0])
	}
	if want := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC); !got[0].Date.Equal(want) {
		t.Errorf("entry 0 date = %v, want %v", got[0].Date, want)
	}
	if got[1].ID != "srv2" || !got[1].Amount.Equal(decimal.NewFromInt(40)) || got[1].Type != TypeCredit {
		t.Errorf("entry 1 = %+v", got[1])
	}
	if want := time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC); !got[1].Date.Equal(want) {
		t.Errorf("entry 1 date = %v, want %v", got[1].Date, want)
	}

	if _, err := ParseExpenseList([]byte(`[`)); err == nil {
		t.Error("ParseExpenseList() expected error for malformed body, got nil")
	}
}
