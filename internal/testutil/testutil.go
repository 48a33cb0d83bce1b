// Package testutil builds in-process backends for tests: an embedded
// database, a miniredis-backed Redis client and a temp-dir blob store.
package testutil

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"apk-portal/internal/database"
	"apk-portal/internal/redis"
	"apk-portal/internal/storage"
)

// Logger discards everything
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewDB opens a migrated database in t's temp dir
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.Open("sqlite://"+filepath.Join(t.TempDir(), "portal.db"), Logger())
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close(db) })
	return db
}

// NewRedis starts a miniredis server and returns a client for it
func NewRedis(t testing.TB) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })
	return client, mr
}

// NewStorage creates a LocalStorage under t's temp dir and returns it with
// its root directory.
func NewStorage(t testing.TB) (*storage.LocalStorage, string) {
	t.Helper()

	root := t.TempDir()
	store, err := storage.NewLocalStorage(filepath.Join(root, "apk"), filepath.Join(root, "tmp"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	return store, root
}

// APK returns a payload that passes the package signature check
func APK(body string) []byte {
	return append([]byte("PK\x03\x04"), body...)
}
