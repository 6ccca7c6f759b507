package database

import (
	"path/filepath"
	"testing"

	"tgdrive/internal/drive"
)

// newTestDB creates a migrated database backed by a temp file.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func sampleDirectory(id, parentID, name string) *drive.Directory {
	return &drive.Directory{
		ID:        id,
		ParentID:  parentID,
		Name:      name,
		UpdatedAt: 1700000000,
	}
}

func sampleFile(id, dirID, name string) *drive.File {
	return &drive.File{
		ID:        id,
		DirID:     dirID,
		Name:      name,
		Size:      1024,
		Hash:      "abcd1234",
		ChatID:    -100,
		MessageID: 7,
		CreatedAt: 1700000000,
	}
}

func TestSQLiteDatabase_GetDirectory(t *testing.T) {
	t.Run("returns nil when directory not found", func(t *testing.T) {
		db := newTestDB(t)

		dir, err := db.GetDirectory("missing")
		if err != nil {
			t.Fatalf("GetDirectory() error = %v", err)
		}
		if dir != nil {
			t.Errorf("GetDirectory() = %v, want nil", dir)
		}
	})

	t.Run("finds inserted directory", func(t *testing.T) {
		db := newTestDB(t)

		want := sampleDirectory("dir-1", "", "Documents")
		want.MessageID = 42
		if err := db.InsertDirectory(want); err != nil {
			t.Fatalf("InsertDirectory() error = %v", err)
		}

		got, err := db.GetDirectory("dir-1")
		if err != nil {
			t.Fatalf("GetDirectory() error = %v", err)
		}
		if got == nil {
			t.Fatal("GetDirectory() returned nil, want directory")
		}
		if got.Name != "Documents" {
			t.Errorf("Name = %q, want %q", got.Name, "Documents")
		}
		if got.ParentID != "" {
			t.Errorf("ParentID = %q, want empty", got.ParentID)
		}
		if got.MessageID != 42 {
			t.Errorf("MessageID = %d, want 42", got.MessageID)
		}
	})

	t.Run("round-trips empty parent and unpublished message", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.InsertDirectory(sampleDirectory("dir-2", "", "Inbox")); err != nil {
			t.Fatalf("InsertDirectory() error = %v", err)
		}

		got, err := db.GetDirectory("dir-2")
		if err != nil {
			t.Fatalf("GetDirectory() error = %v", err)
		}
		if got.ParentID != "" {
			t.Errorf("ParentID = %q, want empty", got.ParentID)
		}
		if got.MessageID != 0 {
			t.Errorf("MessageID = %d, want 0", got.MessageID)
		}
	})
}

func TestSQLiteDatabase_FindDirectoryByName(t *testing.T) {
	t.Run("matches case-insensitively", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.InsertDirectory(sampleDirectory("dir-1", "", "Photos")); err != nil {
			t.Fatalf("InsertDirectory() error = %v", err)
		}

		got, err := db.FindDirectoryByName("photos")
		if err != nil {
			t.Fatalf("FindDirectoryByName() error = %v", err)
		}
		if got == nil || got.ID != "dir-1" {
			t.Fatalf("FindDirectoryByName() = %v, want dir-1", got)
		}
	})

	t.Run("prefers root-level directories", func(t *testing.T) {
		db := newTestDB(t)

		nested := sampleDirectory("dir-nested", "dir-parent", "Music")
		nested.UpdatedAt = 1700000100
		if err := db.InsertDirectory(nested); err != nil {
			t.Fatalf("InsertDirectory() error = %v", err)
		}
		if err := db.InsertDirectory(sampleDirectory("dir-root", "", "Music")); err != nil {
			t.Fatalf("InsertDirectory() error = %v", err)
		}

		got, err := db.FindDirectoryByName("Music")
		if err != nil {
			t.Fatalf("FindDirectoryByName() error = %v", err)
		}
		if got == nil || got.ID != "dir-root" {
			t.Fatalf("FindDirectoryByName() = %v, want dir-root", got)
		}
	})

	t.Run("returns nil when no match", func(t *testing.T) {
		db := newTestDB(t)

		got, err := db.FindDirectoryByName("Nothing")
		if err != nil {
			t.Fatalf("FindDirectoryByName() error = %v", err)
		}
		if got != nil {
			t.Errorf("FindDirectoryByName() = %v, want nil", got)
		}
	})
}

func TestSQLiteDatabase_UpsertDirectory(t *testing.T) {
	t.Run("inserts new row", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.UpsertDirectory(sampleDirectory("dir-1", "", "Old")); err != nil {
			t.Fatalf("UpsertDirectory() error = %v", err)
		}

		got, err := db.GetDirectory("dir-1")
		if err != nil {
			t.Fatalf("GetDirectory() error = %v", err)
		}
		if got == nil || got.Name != "Old" {
			t.Fatalf("GetDirectory() = %v, want name Old", got)
		}
	})

	t.Run("updates existing row and clears broken flag", func(t *testing.T) {
		db := newTestDB(t)

		if err := db.InsertDirectory(sampleDirectory("dir-1", "", "Old")); err != nil {
			t.Fatalf("InsertDirectory() error = %v", err)
		}
		if err := db.SetDirectoryBroken("dir-1", true); err != nil {
			t.Fatalf("SetDirectoryBroken() error = %v", err)
		}

		updated := sampleDirectory("dir-1", "dir-parent", "New")
		updated.MessageID = 99
		if err := db.UpsertDirectory(updated); err != nil {
			t.Fatalf("UpsertDirectory() error = %v", err)
		}

		got, err := db.GetDirectory("dir-1")
		if err != nil {
			t.Fatalf("GetDirectory() error = %v", err)
		}
		if got.Name != "New" {
			t.Errorf("Name = %q, want %q", got.Name, "New")
		}
		if got.ParentID != "dir-parent" {
			t.Errorf("ParentID = %q, want %q", got.ParentID, "dir-parent")
		}
		if got.MessageID != 99 {
			t.Errorf("MessageID = %d, want 99", got.MessageID)
		}
		if got.IsBroken {
			t.Error("IsBroken = true, want false after upsert")
		}
	})
}

func TestSQLiteDatabase_EnsureDirectoryPlaceholder(t *testing.T) {
	db := newTestDB(t)

	created, err := db.EnsureDirectoryPlaceholder("dir-ph", 1700000000)
	if err != nil {
		t.Fatalf("EnsureDirectoryPlaceholder() error = %v", err)
	}
	if !created {
		t.Error("first EnsureDirectoryPlaceholder() = false, want true")
	}

	got, err := db.GetDirectory("dir-ph")
	if err != nil {
		t.Fatalf("GetDirectory() error = %v", err)
	}
	if got == nil || got.Name != drive.PlaceholderDirName {
		t.Fatalf("placeholder row = %v, want name %q", got, drive.PlaceholderDirName)
	}

	created, err = db.EnsureDirectoryPlaceholder("dir-ph", 1700000001)
	if err != nil {
		t.Fatalf("second EnsureDirectoryPlaceholder() error = %v", err)
	}
	if created {
		t.Error("second EnsureDirectoryPlaceholder() = true, want false")
	}
}

func TestSQLiteDatabase_CountDirectoryChildren(t *testing.T) {
	db := newTestDB(t)

	if err := db.InsertDirectory(sampleDirectory("dir-1", "", "Top")); err != nil {
		t.Fatalf("InsertDirectory() error = %v", err)
	}
	if err := db.InsertDirectory(sampleDirectory("dir-2", "dir-1", "Sub")); err != nil {
		t.Fatalf("InsertDirectory() error = %v", err)
	}
	if err := db.InsertFile(sampleFile("file-1", "dir-1", "a.txt")); err != nil {
		t.Fatalf("InsertFile() error = %v", err)
	}
	if err := db.InsertFile(sampleFile("file-2", "dir-1", "b.txt")); err != nil {
		t.Fatalf("InsertFile() error = %v", err)
	}

	dirs, files, err := db.CountDirectoryChildren("dir-1")
	if err != nil {
		t.Fatalf("CountDirectoryChildren() error = %v", err)
	}
	if dirs != 1 {
		t.Errorf("dirs = %d, want 1", dirs)
	}
	if files != 2 {
		t.Errorf("files = %d, want 2", files)
	}
}

func TestSQLiteDatabase_DirectoriesWithMessageAtLeast(t *testing.T) {
	db := newTestDB(t)

	low := sampleDirectory("dir-low", "", "Low")
	low.MessageID = 5
	high := sampleDirectory("dir-high", "", "High")
	high.MessageID = 50
	unpublished := sampleDirectory("dir-none", "", "None")

	for _, d := range []*drive.Directory{low, high, unpublished} {
		if err := db.InsertDirectory(d); err != nil {
			t.Fatalf("InsertDirectory(%s) error = %v", d.ID, err)
		}
	}

	got, err := db.DirectoriesWithMessageAtLeast(10)
	if err != nil {
		t.Fatalf("DirectoriesWithMessageAtLeast() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1", len(got))
	}
	if got[0].ID != "dir-high" {
		t.Errorf("ID = %q, want dir-high", got[0].ID)
	}
}

func TestSQLiteDatabase_FindFileByLocation(t *testing.T) {
	db := newTestDB(t)

	f := sampleFile("file-1", "dir-1", "a.txt")
	if err := db.InsertFile(f); err != nil {
		t.Fatalf("InsertFile() error = %v", err)
	}

	got, err := db.FindFileByLocation(-100, 7)
	if err != nil {
		t.Fatalf("FindFileByLocation() error = %v", err)
	}
	if got == nil || got.ID != "file-1" {
		t.Fatalf("FindFileByLocation() = %v, want file-1", got)
	}

	got, err = db.FindFileByLocation(-100, 8)
	if err != nil {
		t.Fatalf("FindFileByLocation() error = %v", err)
	}
	if got != nil {
		t.Errorf("FindFileByLocation() = %v, want nil", got)
	}
}

func TestSQLiteDatabase_UpsertFile(t *testing.T) {
	db := newTestDB(t)

	if err := db.InsertFile(sampleFile("file-1", "dir-1", "a.txt")); err != nil {
		t.Fatalf("InsertFile() error = %v", err)
	}
	if err := db.SetFileBroken("file-1", true); err != nil {
		t.Fatalf("SetFileBroken() error = %v", err)
	}

	updated := sampleFile("file-1", "dir-2", "b.txt")
	updated.MessageID = 21
	if err := db.UpsertFile(updated); err != nil {
		t.Fatalf("UpsertFile() error = %v", err)
	}

	got, err := db.GetFile("file-1")
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if got.DirID != "dir-2" {
		t.Errorf("DirID = %q, want dir-2", got.DirID)
	}
	if got.Name != "b.txt" {
		t.Errorf("Name = %q, want b.txt", got.Name)
	}
	if got.MessageID != 21 {
		t.Errorf("MessageID = %d, want 21", got.MessageID)
	}
	if got.IsBroken {
		t.Error("IsBroken = true, want false after upsert")
	}
}

func TestSQLiteDatabase_SearchFiles(t *testing.T) {
	db := newTestDB(t)

	seed := []*drive.File{
		sampleFile("file-1", "dir-1", "report.pdf"),
		sampleFile("file-2", "dir-1", "notes.txt"),
		sampleFile("file-3", "dir-2", "summary report.txt"),
	}
	for _, f := range seed {
		if err := db.InsertFile(f); err != nil {
			t.Fatalf("InsertFile(%s) error = %v", f.ID, err)
		}
	}

	t.Run("filters by name substring", func(t *testing.T) {
		got, err := db.SearchFiles(drive.FileFilter{Name: "Report"})
		if err != nil {
			t.Fatalf("SearchFiles() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
	})

	t.Run("filters by extension", func(t *testing.T) {
		got, err := db.SearchFiles(drive.FileFilter{Extension: ".txt"})
		if err != nil {
			t.Fatalf("SearchFiles() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
	})

	t.Run("filters by directory", func(t *testing.T) {
		got, err := db.SearchFiles(drive.FileFilter{DirID: "dir-2"})
		if err != nil {
			t.Fatalf("SearchFiles() error = %v", err)
		}
		if len(got) != 1 || got[0].ID != "file-3" {
			t.Fatalf("got = %v, want file-3 only", got)
		}
	})

	t.Run("applies limit", func(t *testing.T) {
		got, err := db.SearchFiles(drive.FileFilter{Limit: 1})
		if err != nil {
			t.Fatalf("SearchFiles() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("len = %d, want 1", len(got))
		}
	})
}

func TestSQLiteDatabase_SyncState(t *testing.T) {
	db := newTestDB(t)

	got, err := db.GetSyncState("watermark")
	if err != nil {
		t.Fatalf("GetSyncState() error = %v", err)
	}
	if got != "" {
		t.Errorf("GetSyncState() = %q, want empty for unset key", got)
	}

	if err := db.SetSyncState("watermark", "41"); err != nil {
		t.Fatalf("SetSyncState() error = %v", err)
	}
	if err := db.SetSyncState("watermark", "42"); err != nil {
		t.Fatalf("second SetSyncState() error = %v", err)
	}

	got, err = db.GetSyncState("watermark")
	if err != nil {
		t.Fatalf("GetSyncState() error = %v", err)
	}
	if got != "42" {
		t.Errorf("GetSyncState() = %q, want 42", got)
	}
}

func TestSQLiteDatabase_UpdateFileSize(t *testing.T) {
	db := newTestDB(t)

	if err := db.InsertFile(sampleFile("file-1", "dir-1", "a.txt")); err != nil {
		t.Fatalf("InsertFile() error = %v", err)
	}
	if err := db.UpdateFileSize("file-1", 4096); err != nil {
		t.Fatalf("UpdateFileSize() error = %v", err)
	}

	got, err := db.GetFile("file-1")
	if err != nil {
		t.Fatalf("GetFile() error = %v", err)
	}
	if got.Size != 4096 {
		t.Errorf("Size = %d, want 4096", got.Size)
	}
}
