package drive_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tgdrive/internal/cache"
	"tgdrive/internal/drive"
	"tgdrive/internal/testutil"
	"tgdrive/internal/transport"
)

const storageChat drive.ChatID = -1001000

// env bundles a Service with its fakes so tests can reach behind it.
type env struct {
	svc   *drive.Service
	db    drive.Database
	tr    *transport.MemoryTransport
	cache *cache.Cache
}

// testParams shrinks the retry schedule so failure paths finish fast.
func testParams() drive.Params {
	return drive.Params{
		CaptionRetryDelay: time.Millisecond,
		ExistsRetryDelays: []time.Duration{time.Millisecond, time.Millisecond},
		SearchPageCap:     8,
		SearchPageSize:    100,
	}
}

func newTestEnv(t *testing.T) *env {
	t.Helper()

	db := testutil.NewTestDatabase(t)
	tr := transport.NewMemoryTransport()
	c := cache.New(t.TempDir())
	svc := drive.NewService(db, tr, storageChat, c,
		drive.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator(), testParams())
	return &env{svc: svc, db: db, tr: tr, cache: c}
}

// writeLocalFile creates a throwaway source file for upload tests.
func writeLocalFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing local file: %v", err)
	}
	return path
}

// mustCreateDir creates a directory through the service.
func (e *env) mustCreateDir(t *testing.T, parentID, name string) string {
	t.Helper()
	id, err := e.svc.CreateDirectory(context.Background(), parentID, name)
	if err != nil {
		t.Fatalf("CreateDirectory(%q) error = %v", name, err)
	}
	return id
}

// mustUpload uploads a small file through the service.
func (e *env) mustUpload(t *testing.T, dirID, name, content string) string {
	t.Helper()
	id, err := e.svc.UploadFile(context.Background(), dirID, writeLocalFile(t, name, content))
	if err != nil {
		t.Fatalf("UploadFile(%q) error = %v", name, err)
	}
	return id
}

func (e *env) mustGetDir(t *testing.T, id string) *drive.Directory {
	t.Helper()
	d, err := e.db.GetDirectory(id)
	if err != nil {
		t.Fatalf("GetDirectory(%q) error = %v", id, err)
	}
	if d == nil {
		t.Fatalf("GetDirectory(%q) = nil", id)
	}
	return d
}

func (e *env) mustGetFile(t *testing.T, id string) *drive.File {
	t.Helper()
	f, err := e.db.GetFile(id)
	if err != nil {
		t.Fatalf("GetFile(%q) error = %v", id, err)
	}
	if f == nil {
		t.Fatalf("GetFile(%q) = nil", id)
	}
	return f
}
