package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"expensync/internal/domain/expense"
	"expensync/internal/domain/ledger"
	"expensync/internal/infrastructure/api"
)

// ExpenseService is the mutation facade.
type ExpenseService interface {
	AddExpense(ctx context.Context, d expense.Draft) (expense.Result, error)
	EditExpense(ctx context.Context, id string, d expense.Draft) (expense.Result, error)
	DeleteExpense(ctx context.Context, id string) (expense.Result, error)
	AssignBalance(ctx context.Context, userID string, amount decimal.Decimal, note string) (expense.Result, error)
	EditManagedExpense(ctx context.Context, userID, id string, d expense.Draft) (expense.Result, error)
	DeleteManagedExpense(ctx context.Context, userID, id string) (expense.Result, error)
	RequestReport(ctx context.Context, in api.ReportInput) error
	Refresh(ctx context.Context, owner string) error
}

// LedgerReader is the read side of the local cache.
type LedgerReader interface {
	Entries(owner string) []ledger.Entry
	Balance(owner string) decimal.Decimal
	ManagedOwners() []string
	TotalManagedBalance() decimal.Decimal
}

type ExpenseHandler struct {
	service ExpenseService
	ledger  LedgerReader
	logger  *slog.Logger
}

func NewExpenseHandler(service ExpenseService, ledger LedgerReader, logger *slog.Logger) *ExpenseHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpenseHandler{service: service, ledger: ledger, logger: logger}
}

// ExpenseRequest is the body of create and edit calls. Type is "debit" or
// "credit" and defaults to debit.
type ExpenseRequest struct {
	Amount   decimal.Decimal `json:"amount"`
	Type     string          `json:"type,omitempty"`
	Category string          `json:"category,omitempty"`
	Details  string          `json:"details,omitempty"`
	Date     string          `json:"date,omitempty"`
}

func (req ExpenseRequest) draft() (expense.Draft, error) {
	date, err := parseDate(req.Date)
	if err != nil {
		return expense.Draft{}, api.ErrInvalidInput
	}
	kind := ledger.Kind(strings.ToLower(strings.TrimSpace(req.Type)))
	if kind == "" {
		kind = ledger.KindDebit
	}
	return expense.Draft{
		Amount:   req.Amount,
		Kind:     kind,
		Category: strings.TrimSpace(req.Category),
		Details:  strings.TrimSpace(req.Details),
		Date:     date,
	}, nil
}

type BalanceRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

type ReportRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Format string `json:"format,omitempty"`
	UserID string `json:"userId,omitempty"`
}

type ledgerResponse struct {
	Entries []ledger.Entry  `json:"entries"`
	Balance decimal.Decimal `json:"balance"`
}

type managedUser struct {
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
}

type managedResponse struct {
	Users []managedUser   `json:"users"`
	Total decimal.Decimal `json:"total"`
}

func (h *ExpenseHandler) listFor(w http.ResponseWriter, owner string) {
	entries := h.ledger.Entries(owner)
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, ledgerResponse{Entries: entries, Balance: h.ledger.Balance(owner)})
}

// HandleList returns the signed-in user's cached entries and balance.
func (h *ExpenseHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	h.listFor(w, ledger.SelfOwner)
}

// HandleRefresh pulls the backend listing into the cache and returns it.
func (h *ExpenseHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	h.refresh(w, r, ledger.SelfOwner)
}

func (h *ExpenseHandler) HandleRefreshManaged(w http.ResponseWriter, r *http.Request) {
	h.refresh(w, r, r.PathValue("userId"))
}

func (h *ExpenseHandler) refresh(w http.ResponseWriter, r *http.Request, owner string) {
	if err := h.service.Refresh(r.Context(), owner); err != nil {
		writeError(w, h.logger, "failed to refresh expenses", err)
		return
	}
	h.listFor(w, owner)
}

func (h *ExpenseHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	d, ok := h.decodeDraft(w, r)
	if !ok {
		return
	}
	res, err := h.service.AddExpense(r.Context(), d)
	h.respond(w, http.StatusCreated, res, err, "failed to add expense")
}

func (h *ExpenseHandler) HandleEdit(w http.ResponseWriter, r *http.Request) {
	d, ok := h.decodeDraft(w, r)
	if !ok {
		return
	}
	res, err := h.service.EditExpense(r.Context(), r.PathValue("id"), d)
	h.respond(w, http.StatusOK, res, err, "failed to edit expense")
}

func (h *ExpenseHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.DeleteExpense(r.Context(), r.PathValue("id"))
	h.respond(w, http.StatusOK, res, err, "failed to delete expense")
}

// HandleListManaged summarises every admin-managed user held in the cache.
func (h *ExpenseHandler) HandleListManaged(w http.ResponseWriter, r *http.Request) {
	owners := h.ledger.ManagedOwners()
	users := make([]managedUser, 0, len(owners))
	for _, owner := range owners {
		users = append(users, managedUser{UserID: owner, Balance: h.ledger.Balance(owner)})
	}
	writeJSON(w, http.StatusOK, managedResponse{Users: users, Total: h.ledger.TotalManagedBalance()})
}

func (h *ExpenseHandler) HandleListManagedExpenses(w http.ResponseWriter, r *http.Request) {
	h.listFor(w, r.PathValue("userId"))
}

func (h *ExpenseHandler) HandleAssignBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	res, err := h.service.AssignBalance(r.Context(), r.PathValue("userId"), req.Amount, strings.TrimSpace(req.Note))
	h.respond(w, http.StatusCreated, res, err, "failed to assign balance")
}

func (h *ExpenseHandler) HandleEditManaged(w http.ResponseWriter, r *http.Request) {
	d, ok := h.decodeDraft(w, r)
	if !ok {
		return
	}
	res, err := h.service.EditManagedExpense(r.Context(), r.PathValue("userId"), r.PathValue("id"), d)
	h.respond(w, http.StatusOK, res, err, "failed to edit managed expense")
}

func (h *ExpenseHandler) HandleDeleteManaged(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.DeleteManagedExpense(r.Context(), r.PathValue("userId"), r.PathValue("id"))
	h.respond(w, http.StatusOK, res, err, "failed to delete managed expense")
}

// HandleReport forwards a report request; it is never queued.
func (h *ExpenseHandler) HandleReport(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	from, err := parseDate(req.From)
	if err != nil {
		http.Error(w, "Invalid from date (use YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	to, err := parseDate(req.To)
	if err != nil {
		http.Error(w, "Invalid to date (use YYYY-MM-DD)", http.StatusBadRequest)
		return
	}

	in := api.ReportInput{From: from, To: to, Format: req.Format, UserID: req.UserID}
	if err := h.service.RequestReport(r.Context(), in); err != nil {
		writeError(w, h.logger, "failed to request report", err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *ExpenseHandler) decodeDraft(w http.ResponseWriter, r *http.Request) (expense.Draft, bool) {
	var req ExpenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return expense.Draft{}, false
	}
	d, err := req.draft()
	if err != nil {
		http.Error(w, "Invalid date (use YYYY-MM-DD)", http.StatusBadRequest)
		return expense.Draft{}, false
	}
	return d, true
}

// respond answers 202 instead of the success status when the mutation was
// queued for sync.
func (h *ExpenseHandler) respond(w http.ResponseWriter, status int, res expense.Result, err error, msg string) {
	if err != nil {
		writeError(w, h.logger, msg, err)
		return
	}
	if res.Pending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}
