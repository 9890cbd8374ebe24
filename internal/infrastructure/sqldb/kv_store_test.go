package sqldb

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func openTestSQLite(t *testing.T) *KVStore {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		if strings.Contains(err.Error(), "CGO_ENABLED=0") {
			t.Skip("sqlite3 requires cgo")
		}
		t.Fatalf("OpenSQLite() failed: %v", err)
	}

	store, err := NewKVStore(context.Background(), db)
	if err != nil {
		db.Close()
		t.Fatalf("NewKVStore() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestKVStore_SQLiteRoundtrip(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	if _, found, err := store.Get(ctx, "@offline_api_queue"); err != nil || found {
		t.Fatalf("Get(missing) = found %v, err %v; want false, nil", found, err)
	}

	if err := store.Set(ctx, "@offline_api_queue", []byte(`[{"id":"a"}]`)); err != nil {
		t.Fatalf("Set() failed: %v", err)
	}
	if err := store.Set(ctx, "@offline_api_queue", []byte(`[]`)); err != nil {
		t.Fatalf("Set() overwrite failed: %v", err)
	}

	got, found, err := store.Get(ctx, "@offline_api_queue")
	if err != nil || !found {
		t.Fatalf("Get() = found %v, err %v", found, err)
	}
	if !bytes.Equal(got, []byte(`[]`)) {
		t.Errorf("Get() = %q, want %q", got, "[]")
	}

	if err := store.Delete(ctx, "@offline_api_queue"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, found, _ := store.Get(ctx, "@offline_api_queue"); found {
		t.Error("Get() after Delete() still found the key")
	}
}

func TestKVStore_SQLiteEmptyValue(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	if err := store.Set(ctx, "k", nil); err != nil {
		t.Fatalf("Set(nil) failed: %v", err)
	}
	got, found, err := store.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get() = found %v, err %v", found, err)
	}
	if len(got) != 0 {
		t.Errorf("Get() = %q, want empty", got)
	}
}
