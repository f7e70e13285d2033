package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestOpenUsesWAL(t *testing.T) {
	db := testDB(t)
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
	if filepath.Base(db.Path()) != "test.db" {
		t.Errorf("Path() = %q", db.Path())
	}
}

func TestOpenMissingDir(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "nope", "talk.db")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestKVSetGetDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, ok, err := db.Get(ctx, "user_token"); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
	}

	if err := db.Set(ctx, "user_token", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := db.Set(ctx, "user_token", "def"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.Get(ctx, "user_token")
	if err != nil || !ok {
		t.Fatalf("Get() ok %v, err %v", ok, err)
	}
	if v != "def" {
		t.Errorf("value = %q, want def (overwrite)", v)
	}

	if err := db.Delete(ctx, "user_token"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := db.Get(ctx, "user_token"); ok {
		t.Error("key still present after Delete")
	}
	if err := db.Delete(ctx, "user_token"); err != nil {
		t.Errorf("Delete(missing) error = %v", err)
	}
}

func TestKVPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talk.db")
	ctx := context.Background()

	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.Set(ctx, "local_chats", `[{"id":"1"}]`); err != nil {
		t.Fatal(err)
	}
	_ = db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	v, ok, err := db.Get(ctx, "local_chats")
	if err != nil || !ok || v != `[{"id":"1"}]` {
		t.Errorf("after reopen Get() = %q, %v, %v", v, ok, err)
	}
}

// TestRedis runs only against a real server.
func TestRedis(t *testing.T) {
	addr := os.Getenv("TALK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TALK_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := OpenRedis(ctx, RedisOptions{Addr: addr, Prefix: "securetalk:test:" + t.Name() + ":"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = r.Close() }()

	if err := r.Set(ctx, "k", "v"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := r.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Errorf("Get() = %q, %v, %v", v, ok, err)
	}
	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.Get(ctx, "k"); ok {
		t.Error("key still present after Delete")
	}
}
