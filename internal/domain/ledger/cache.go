package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"expensync/internal/domain/queue"
)

// Storage is the durable key-value collaborator the cache snapshots into.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Cache holds per-owner entries with incrementally maintained balances.
// Mutations apply in memory, then persist the snapshot; none of them touch
// the network.
type Cache struct {
	storage Storage
	logger  *slog.Logger

	mu       sync.Mutex
	accounts map[string]*Account
}

func NewCache(storage Storage, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		storage:  storage,
		logger:   logger,
		accounts: make(map[string]*Account),
	}
}

type snapshot struct {
	Owners map[string]*Account `json:"owners"`
}

// Load restores the persisted snapshot. An unreadable snapshot leaves the
// cache empty; balances are re-folded from entries.
func (c *Cache) Load(ctx context.Context) error {
	data, found, err := c.storage.Get(ctx, CacheKey)
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.accounts = make(map[string]*Account)
	if !found || len(data) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Error("discarding unreadable cache snapshot", "error", err)
		return nil
	}

	for owner, acct := range snap.Owners {
		if acct == nil {
			continue
		}
		acct.Balance = Fold(acct.Entries)
		c.accounts[owner] = acct
	}
	return nil
}

func (c *Cache) account(owner string) *Account {
	acct, ok := c.accounts[owner]
	if !ok {
		acct = &Account{Balance: decimal.Zero}
		c.accounts[owner] = acct
	}
	return acct
}

func indexOf(entries []Entry, id string) int {
	for i := range entries {
		if entries[i].ID == id {
			return i
		}
	}
	return -1
}

// ApplyOptimistic prepends entry to owner's collection and adds its signed
// amount to the balance. An entry whose id is already cached replaces it
// and only the delta is applied.
func (c *Cache) ApplyOptimistic(ctx context.Context, owner string, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.SyncState == "" {
		entry.SyncState = SyncPending
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	acct := c.account(owner)
	if idx := indexOf(acct.Entries, entry.ID); idx >= 0 {
		old := acct.Entries[idx]
		acct.Entries[idx] = entry
		acct.Balance = acct.Balance.Add(entry.Signed().Sub(old.Signed()))
	} else {
		acct.Entries = append([]Entry{entry}, acct.Entries...)
		acct.Balance = acct.Balance.Add(entry.Signed())
	}

	c.persist(ctx)
	return nil
}

// ApplyEdit replaces the cached entry with the same id and applies the
// difference between the new and old signed amounts. It returns the
// entry as it was before the edit.
func (c *Cache) ApplyEdit(ctx context.Context, owner string, entry Entry) (Entry, error) {
	if err := entry.Validate(); err != nil {
		return Entry{}, err
	}
	if entry.SyncState == "" {
		entry.SyncState = SyncPending
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	acct := c.account(owner)
	idx := indexOf(acct.Entries, entry.ID)
	if idx < 0 {
		return Entry{}, ErrEntryNotFound
	}

	old := acct.Entries[idx]
	acct.Entries[idx] = entry
	acct.Balance = acct.Balance.Add(entry.Signed().Sub(old.Signed()))

	c.persist(ctx)
	return old, nil
}

// ApplyRemoval removes the entry with id and reverses its signed effect.
func (c *Cache) ApplyRemoval(ctx context.Context, owner, id string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct := c.account(owner)
	idx := indexOf(acct.Entries, id)
	if idx < 0 {
		return Entry{}, ErrEntryNotFound
	}

	removed := acct.Entries[idx]
	acct.Entries = append(acct.Entries[:idx], acct.Entries[idx+1:]...)
	acct.Balance = acct.Balance.Sub(removed.Signed())

	c.persist(ctx)
	return removed, nil
}

// RemapID swaps a temporary id for the server id and marks the entry synced.
// An absent tempID is a silent no-op, so repeated reconciliation is safe.
// If serverID is already cached, that copy is kept and the temporary entry
// and its amount are dropped.
func (c *Cache) RemapID(ctx context.Context, tempID, serverID, owner string) {
	if serverID == "" {
		serverID = tempID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	acct, ok := c.accounts[owner]
	if !ok {
		return
	}
	idx := indexOf(acct.Entries, tempID)
	if idx < 0 {
		return
	}

	if dup := indexOf(acct.Entries, serverID); serverID != tempID && dup >= 0 {
		temp := acct.Entries[idx]
		acct.Entries[dup].SyncState = SyncSynced
		acct.Entries = append(acct.Entries[:idx], acct.Entries[idx+1:]...)
		acct.Balance = acct.Balance.Sub(temp.Signed())

		c.logger.Debug("cache entry merged into server copy", "temp_id", tempID, "server_id", serverID, "owner", owner)
		c.persist(ctx)
		return
	}

	acct.Entries[idx].ID = serverID
	acct.Entries[idx].SyncState = SyncSynced

	c.logger.Debug("cache entry reconciled", "temp_id", tempID, "server_id", serverID, "owner", owner)
	c.persist(ctx)
}

// MarkPending flags a cached entry as still awaiting queued mutations.
func (c *Cache) MarkPending(ctx context.Context, owner, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct, ok := c.accounts[owner]
	if !ok {
		return
	}
	idx := indexOf(acct.Entries, id)
	if idx < 0 || acct.Entries[idx].SyncState == SyncPending {
		return
	}
	acct.Entries[idx].SyncState = SyncPending
	c.persist(ctx)
}

// Reconcile maps a succeeded mutation onto the cache: an add takes the
// server id, an edit is marked synced, a delete needs nothing.
func (c *Cache) Reconcile(ctx context.Context, meta queue.Meta, serverID string) {
	if meta.LocalEntityID == "" {
		return
	}

	switch meta.EntityKind {
	case queue.EntityExpense, queue.EntityAdminExpense, queue.EntityAdminBalance:
	default:
		return
	}

	switch meta.ActionKind {
	case queue.ActionAdd:
		c.RemapID(ctx, meta.LocalEntityID, serverID, meta.OwnerUserID)
	case queue.ActionEdit:
		c.RemapID(ctx, meta.LocalEntityID, meta.LocalEntityID, meta.OwnerUserID)
	}
}

// Replace installs a fresh server listing for owner. Cached entries still
// pending sync win over the listing: one with a listed id replaces the
// server copy, one the server has not seen stays at the top.
func (c *Cache) Replace(ctx context.Context, owner string, entries []Entry) error {
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entry %q: %w", e.ID, err)
		}
	}

	fresh := make([]Entry, len(entries))
	copy(fresh, entries)
	for i := range fresh {
		if fresh[i].SyncState == "" {
			fresh[i].SyncState = SyncSynced
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var unseen []Entry
	if acct, ok := c.accounts[owner]; ok {
		for _, e := range acct.Entries {
			if e.SyncState != SyncPending {
				continue
			}
			if idx := indexOf(fresh, e.ID); idx >= 0 {
				fresh[idx] = e
			} else {
				unseen = append(unseen, e)
			}
		}
	}
	fresh = append(unseen, fresh...)

	c.accounts[owner] = &Account{Entries: fresh, Balance: Fold(fresh)}
	c.persist(ctx)
	return nil
}

func (c *Cache) Balance(owner string) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if acct, ok := c.accounts[owner]; ok {
		return acct.Balance
	}
	return decimal.Zero
}

// Entries returns a copy of owner's entries, newest first.
func (c *Cache) Entries(owner string) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct, ok := c.accounts[owner]
	if !ok {
		return []Entry{}
	}
	out := make([]Entry, len(acct.Entries))
	copy(out, acct.Entries)
	return out
}

func (c *Cache) Entry(owner, id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acct, ok := c.accounts[owner]
	if !ok {
		return Entry{}, false
	}
	if idx := indexOf(acct.Entries, id); idx >= 0 {
		return acct.Entries[idx], true
	}
	return Entry{}, false
}

// ManagedOwners lists the admin-managed owners present in the cache.
func (c *Cache) ManagedOwners() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	owners := make([]string, 0, len(c.accounts))
	for owner := range c.accounts {
		if owner != SelfOwner {
			owners = append(owners, owner)
		}
	}
	sort.Strings(owners)
	return owners
}

// TotalManagedBalance sums the balances of every admin-managed owner.
func (c *Cache) TotalManagedBalance() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := decimal.Zero
	for owner, acct := range c.accounts {
		if owner != SelfOwner {
			total = total.Add(acct.Balance)
		}
	}
	return total
}

// persist writes the snapshot; c.mu must be held. A failed write is logged:
// the in-memory view stays authoritative until the next successful write.
func (c *Cache) persist(ctx context.Context) {
	data, err := json.Marshal(snapshot{Owners: c.accounts})
	if err != nil {
		c.logger.Error("failed to encode cache snapshot", "error", err)
		return
	}
	if err := c.storage.Set(ctx, CacheKey, data); err != nil {
		c.logger.Error("failed to persist cache snapshot", "error", err)
	}
}
