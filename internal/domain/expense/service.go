// Package expense is the UI-facing entry point for financial mutations. Each
// operation updates the local cache before it returns and hands the request
// to the queueing transport.
package expense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"expensync/internal/domain/ledger"
	"expensync/internal/domain/queue"
	"expensync/internal/infrastructure/api"
)

// BalanceCategory labels cached balance assignments.
const BalanceCategory = "Balance"

var ErrInvalidDraft = errors.New("invalid expense")

// Cache is the optimistic store the service writes to.
type Cache interface {
	ApplyOptimistic(ctx context.Context, owner string, entry ledger.Entry) error
	ApplyEdit(ctx context.Context, owner string, entry ledger.Entry) (ledger.Entry, error)
	ApplyRemoval(ctx context.Context, owner, id string) (ledger.Entry, error)
	Reconcile(ctx context.Context, meta queue.Meta, serverID string)
	Replace(ctx context.Context, owner string, entries []ledger.Entry) error
	Entry(owner, id string) (ledger.Entry, bool)
}

// Classifier suggests a category from free text.
type Classifier interface {
	Classify(ctx context.Context, text string) string
}

// Draft is what the user typed into the expense form.
type Draft struct {
	Amount   decimal.Decimal `json:"amount"`
	Kind     ledger.Kind     `json:"kind"`
	Category string          `json:"category,omitempty"`
	Details  string          `json:"details,omitempty"`
	Date     time.Time       `json:"date,omitempty"`
}

func (d Draft) Validate() error {
	if !d.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidDraft)
	}
	if d.Kind != ledger.KindDebit && d.Kind != ledger.KindCredit {
		return fmt.Errorf("%w: kind must be debit or credit", ErrInvalidDraft)
	}
	return nil
}

// Result is the cached entry after the call, and whether the server has
// yet to see it.
type Result struct {
	Entry   ledger.Entry `json:"entry"`
	Pending bool         `json:"pending"`
}

type Service struct {
	cache      Cache
	sender     api.Sender
	classifier Classifier
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// NewService wires the facade. sender is expected to be the queueing
// interceptor; classifier may be nil.
func NewService(cache Cache, sender api.Sender, classifier Classifier, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		cache:      cache,
		sender:     sender,
		classifier: classifier,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddExpense caches a new entry under a temporary id and sends it.
func (s *Service) AddExpense(ctx context.Context, d Draft) (Result, error) {
	if err := d.Validate(); err != nil {
		return Result{}, err
	}
	d = s.complete(ctx, d)

	entry := s.entry(s.newID(), d)
	req, err := api.AddExpense(entry.ID, toInput(d))
	if err != nil {
		return Result{}, err
	}
	return s.create(ctx, ledger.SelfOwner, entry, req)
}

// AssignBalance credits a managed user's account.
func (s *Service) AssignBalance(ctx context.Context, userID string, amount decimal.Decimal, note string) (Result, error) {
	entry := ledger.Entry{
		ID:       s.newID(),
		Amount:   amount,
		Kind:     ledger.KindCredit,
		Category: BalanceCategory,
		Details:  note,
		Date:     s.now().UTC(),
	}
	req, err := api.AssignBalance(userID, entry.ID, api.BalanceInput{Amount: amount, Note: note})
	if err != nil {
		return Result{}, err
	}
	return s.create(ctx, userID, entry, req)
}

func (s *Service) EditExpense(ctx context.Context, id string, d Draft) (Result, error) {
	return s.edit(ctx, ledger.SelfOwner, id, d, func(in api.ExpenseInput) (api.Request, error) {
		return api.EditExpense(id, in)
	})
}

func (s *Service) EditManagedExpense(ctx context.Context, userID, id string, d Draft) (Result, error) {
	return s.edit(ctx, userID, id, d, func(in api.ExpenseInput) (api.Request, error) {
		return api.AdminEditExpense(userID, id, in)
	})
}

func (s *Service) DeleteExpense(ctx context.Context, id string) (Result, error) {
	req, err := api.DeleteExpense(id)
	if err != nil {
		return Result{}, err
	}
	return s.remove(ctx, ledger.SelfOwner, id, req)
}

func (s *Service) DeleteManagedExpense(ctx context.Context, userID, id string) (Result, error) {
	req, err := api.AdminDeleteExpense(userID, id)
	if err != nil {
		return Result{}, err
	}
	return s.remove(ctx, userID, id, req)
}

// RequestReport asks the backend to build a report. It bypasses the queue
// and is not retried.
func (s *Service) RequestReport(ctx context.Context, in api.ReportInput) error {
	req, err := api.GenerateReport(in)
	if err != nil {
		return err
	}
	if _, err := s.sender.Send(ctx, req); err != nil {
		return fmt.Errorf("failed to request report: %w", err)
	}
	s.logger.Info("report requested", "from", in.From, "to", in.To, "format", in.Format)
	return nil
}

// Refresh pulls owner's listing from the backend and installs it in the
// cache, newest first. Entries still awaiting sync are kept. Listed entries
// the cache cannot hold are skipped.
func (s *Service) Refresh(ctx context.Context, owner string) error {
	req := api.ListExpenses()
	if owner != ledger.SelfOwner {
		var err error
		if req, err = api.AdminListExpenses(owner); err != nil {
			return err
		}
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to fetch expenses: %w", err)
	}
	if resp == nil || resp.Offline {
		return fmt.Errorf("failed to fetch expenses: %w", api.ErrNetworkUnreachable)
	}

	listed, err := api.ParseExpenseList(resp.Body)
	if err != nil {
		return err
	}

	entries := make([]ledger.Entry, 0, len(listed))
	for _, e := range listed {
		entry := ledger.Entry{
			ID:        e.ID,
			Amount:    e.Amount,
			Kind:      ledger.Kind(e.Type),
			Category:  e.Category,
			Details:   e.Details,
			Date:      e.Date,
			SyncState: ledger.SyncSynced,
		}
		if err := entry.Validate(); err != nil {
			s.logger.Warn("skipping listed expense", "id", e.ID, "owner", owner, "error", err)
			continue
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.After(entries[j].Date)
	})

	if err := s.cache.Replace(ctx, owner, entries); err != nil {
		return fmt.Errorf("failed to install expense listing: %w", err)
	}
	s.logger.Info("expenses refreshed", "owner", owner, "count", len(entries))
	return nil
}

func (s *Service) create(ctx context.Context, owner string, entry ledger.Entry, req api.Request) (Result, error) {
	if err := s.cache.ApplyOptimistic(ctx, owner, entry); err != nil {
		return Result{}, fmt.Errorf("failed to cache entry: %w", err)
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		if _, rerr := s.cache.ApplyRemoval(ctx, owner, entry.ID); rerr != nil {
			s.logger.Error("failed to roll back entry", "id", entry.ID, "owner", owner, "error", rerr)
		}
		return Result{}, err
	}

	return s.settle(ctx, owner, entry.ID, req.Meta, resp), nil
}

func (s *Service) edit(ctx context.Context, owner, id string, d Draft, build func(api.ExpenseInput) (api.Request, error)) (Result, error) {
	if err := d.Validate(); err != nil {
		return Result{}, err
	}
	d = s.complete(ctx, d)

	req, err := build(toInput(d))
	if err != nil {
		return Result{}, err
	}

	entry := s.entry(id, d)
	old, err := s.cache.ApplyEdit(ctx, owner, entry)
	cached := err == nil
	if err != nil && !errors.Is(err, ledger.ErrEntryNotFound) {
		return Result{}, fmt.Errorf("failed to cache edit: %w", err)
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		if cached {
			if _, rerr := s.cache.ApplyEdit(ctx, owner, old); rerr != nil {
				s.logger.Error("failed to roll back edit", "id", id, "owner", owner, "error", rerr)
			}
		}
		return Result{}, err
	}

	return s.settle(ctx, owner, id, req.Meta, resp), nil
}

func (s *Service) remove(ctx context.Context, owner, id string, req api.Request) (Result, error) {
	removed, err := s.cache.ApplyRemoval(ctx, owner, id)
	cached := err == nil
	if err != nil && !errors.Is(err, ledger.ErrEntryNotFound) {
		return Result{}, fmt.Errorf("failed to cache removal: %w", err)
	}

	resp, err := s.sender.Send(ctx, req)
	if err != nil {
		// Restored entries go back to the top of the list.
		if cached {
			if rerr := s.cache.ApplyOptimistic(ctx, owner, removed); rerr != nil {
				s.logger.Error("failed to roll back removal", "id", id, "owner", owner, "error", rerr)
			}
		}
		return Result{}, err
	}

	return Result{Entry: removed, Pending: resp != nil && resp.Offline}, nil
}

// settle reconciles a real server response at once. A queued call stays
// pending until the processor replays it.
func (s *Service) settle(ctx context.Context, owner, id string, meta queue.Meta, resp *api.Response) Result {
	if resp != nil && resp.Offline {
		e, _ := s.cache.Entry(owner, id)
		return Result{Entry: e, Pending: true}
	}

	serverID := ""
	if resp != nil {
		serverID = resp.ID
	}
	s.cache.Reconcile(ctx, meta, serverID)

	if serverID == "" || meta.ActionKind != queue.ActionAdd {
		serverID = id
	}
	e, _ := s.cache.Entry(owner, serverID)
	return Result{Entry: e}
}

// complete fills a missing category from the details and a missing date
// with today.
func (s *Service) complete(ctx context.Context, d Draft) Draft {
	if strings.TrimSpace(d.Category) == "" && s.classifier != nil {
		d.Category = s.classifier.Classify(ctx, d.Details)
	}
	if d.Date.IsZero() {
		d.Date = s.now().UTC()
	}
	return d
}

func (s *Service) entry(id string, d Draft) ledger.Entry {
	return ledger.Entry{
		ID:        id,
		Amount:    d.Amount,
		Kind:      d.Kind,
		Category:  d.Category,
		Details:   d.Details,
		Date:      d.Date,
		SyncState: ledger.SyncPending,
	}
}

func toInput(d Draft) api.ExpenseInput {
	typ := api.TypeDebit
	if d.Kind == ledger.KindCredit {
		typ = api.TypeCredit
	}
	return api.ExpenseInput{
		Amount:   d.Amount,
		Type:     typ,
		Category: d.Category,
		Details:  d.Details,
		Date:     d.Date,
	}
}
