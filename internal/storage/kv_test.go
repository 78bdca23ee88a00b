package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "profile.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestKVSet(t *testing.T) {
	db := openTestDB(t)

	if err := db.KVSet("session_id", "session_abc", 0); err != nil {
		t.Fatalf("KVSet failed: %v", err)
	}
	value, err := db.KVGet("session_id")
	if err != nil || value != "session_abc" {
		t.Errorf("KVGet = %q, %v; want session_abc, nil", value, err)
	}
}

func TestKVSet_Overwrite(t *testing.T) {
	db := openTestDB(t)

	_ = db.KVSet("key1", "value1", 0)
	_ = db.KVSet("key1", "value2", 0)
	value, _ := db.KVGet("key1")
	if value != "value2" {
		t.Errorf("value = %q, want value2", value)
	}
}

func TestKVGet_NotFound(t *testing.T) {
	db := openTestDB(t)

	_, err := db.KVGet("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestKVGet_Expired(t *testing.T) {
	db := openTestDB(t)

	_ = db.KVSet("expired", "value", time.Nanosecond)
	time.Sleep(time.Millisecond)
	_, err := db.KVGet("expired")
	if !errors.Is(err, ErrNotFound) {
		t.Error("expired key should not be found")
	}
}

func TestKVDelete(t *testing.T) {
	db := openTestDB(t)

	_ = db.KVSet("del_key", "value", 0)
	if err := db.KVDelete("del_key"); err != nil {
		t.Fatalf("KVDelete failed: %v", err)
	}
	if _, err := db.KVGet("del_key"); !errors.Is(err, ErrNotFound) {
		t.Error("key should be deleted")
	}
	if err := db.KVDelete("del_key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestKV_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.KVSet("session_id", "session_persisted", 0); err != nil {
		t.Fatalf("KVSet failed: %v", err)
	}
	db.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	value, err := reopened.KVGet("session_id")
	if err != nil || value != "session_persisted" {
		t.Errorf("KVGet after reopen = %q, %v", value, err)
	}
}
