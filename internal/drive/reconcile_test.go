package drive_test

import (
	"context"
	"testing"

	"tgdrive/internal/cache"
	"tgdrive/internal/drive"
	"tgdrive/internal/testutil"
)

func TestService_ReconcileWindow(t *testing.T) {
	t.Run("clean channel flags nothing", func(t *testing.T) {
		e := newTestEnv(t)
		dir := e.mustCreateDir(t, "", "Docs")
		e.mustUpload(t, dir, "a.txt", "x")

		stats, err := e.svc.ReconcileWindow(context.Background(), 100)
		if err != nil {
			t.Fatalf("ReconcileWindow() error = %v", err)
		}
		if stats.Scanned != 2 {
			t.Errorf("Scanned = %d, want 2", stats.Scanned)
		}
		if stats.MarkedDirs != 0 || stats.MarkedFiles != 0 {
			t.Errorf("marked = %d dirs, %d files, want none", stats.MarkedDirs, stats.MarkedFiles)
		}
		if stats.Failed != 0 {
			t.Errorf("Failed = %d, want 0", stats.Failed)
		}
	})

	t.Run("flags entries whose message vanished", func(t *testing.T) {
		e := newTestEnv(t)
		dir := e.mustCreateDir(t, "", "Docs")
		fileID := e.mustUpload(t, dir, "a.txt", "x")
		keepID := e.mustUpload(t, dir, "b.txt", "y")

		// Remove the first file's message behind the index's back.
		if err := e.tr.Delete(context.Background(), storageChat, []drive.MessageID{e.mustGetFile(t, fileID).MessageID}, true); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}

		stats, err := e.svc.ReconcileWindow(context.Background(), 100)
		if err != nil {
			t.Fatalf("ReconcileWindow() error = %v", err)
		}
		if stats.MarkedFiles != 1 {
			t.Errorf("MarkedFiles = %d, want 1", stats.MarkedFiles)
		}
		if !e.mustGetFile(t, fileID).IsBroken {
			t.Error("vanished file not flagged")
		}
		if e.mustGetFile(t, keepID).IsBroken {
			t.Error("healthy file flagged")
		}
	})

	t.Run("clears stale flags when the message is seen", func(t *testing.T) {
		e := newTestEnv(t)
		dir := e.mustCreateDir(t, "", "Docs")
		fileID := e.mustUpload(t, dir, "a.txt", "x")
		if err := e.db.SetFileBroken(fileID, true); err != nil {
			t.Fatalf("SetFileBroken() error = %v", err)
		}
		if err := e.db.SetDirectoryBroken(dir, true); err != nil {
			t.Fatalf("SetDirectoryBroken() error = %v", err)
		}

		stats, err := e.svc.ReconcileWindow(context.Background(), 100)
		if err != nil {
			t.Fatalf("ReconcileWindow() error = %v", err)
		}
		if stats.ClearedFiles != 1 || stats.ClearedDirs != 1 {
			t.Errorf("cleared = %d dirs, %d files, want 1 and 1", stats.ClearedDirs, stats.ClearedFiles)
		}
		if e.mustGetFile(t, fileID).IsBroken {
			t.Error("file flag not cleared")
		}
		if e.mustGetDir(t, dir).IsBroken {
			t.Error("directory flag not cleared")
		}
	})

	t.Run("second run flips nothing", func(t *testing.T) {
		e := newTestEnv(t)
		dir := e.mustCreateDir(t, "", "Docs")
		id := e.mustUpload(t, dir, "a.txt", "x")
		if err := e.tr.Delete(context.Background(), storageChat, []drive.MessageID{e.mustGetFile(t, id).MessageID}, true); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}

		if _, err := e.svc.ReconcileWindow(context.Background(), 100); err != nil {
			t.Fatalf("first ReconcileWindow() error = %v", err)
		}
		stats, err := e.svc.ReconcileWindow(context.Background(), 100)
		if err != nil {
			t.Fatalf("second ReconcileWindow() error = %v", err)
		}
		if stats.MarkedFiles != 0 || stats.ClearedFiles != 0 {
			t.Errorf("second run flipped flags: %+v", stats)
		}
	})

	t.Run("entries outside the window are untouched", func(t *testing.T) {
		e := newTestEnv(t)
		dir := e.mustCreateDir(t, "", "Docs")
		oldID := e.mustUpload(t, dir, "old.txt", "x")
		if err := e.tr.Delete(context.Background(), storageChat, []drive.MessageID{e.mustGetFile(t, oldID).MessageID}, true); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		for i := 0; i < 3; i++ {
			e.mustUpload(t, dir, "new.txt", "y")
		}

		// A window of 2 never reaches the deleted old message, so its
		// row must not be flagged.
		if _, err := e.svc.ReconcileWindow(context.Background(), 2); err != nil {
			t.Fatalf("ReconcileWindow() error = %v", err)
		}
		if e.mustGetFile(t, oldID).IsBroken {
			t.Error("entry outside the window was flagged")
		}
	})

	t.Run("watermark advances monotonically", func(t *testing.T) {
		e := newTestEnv(t)
		dir := e.mustCreateDir(t, "", "Docs")
		e.mustUpload(t, dir, "a.txt", "x")

		if _, err := e.svc.ReconcileWindow(context.Background(), 100); err != nil {
			t.Fatalf("ReconcileWindow() error = %v", err)
		}
		first, err := e.svc.Watermark()
		if err != nil {
			t.Fatalf("Watermark() error = %v", err)
		}
		if first == 0 {
			t.Fatal("watermark = 0 after a scan")
		}

		// A higher watermark planted by hand survives a rescan of older
		// messages.
		if err := e.db.SetSyncState(drive.SyncKeyWatermark, "999999"); err != nil {
			t.Fatalf("SetSyncState() error = %v", err)
		}
		if _, err := e.svc.ReconcileWindow(context.Background(), 100); err != nil {
			t.Fatalf("rescan error = %v", err)
		}
		after, _ := e.svc.Watermark()
		if after != 999999 {
			t.Errorf("watermark = %d, want unchanged 999999", after)
		}
	})

	t.Run("records the completion timestamp", func(t *testing.T) {
		e := newTestEnv(t)
		e.mustCreateDir(t, "", "Docs")

		if _, err := e.svc.ReconcileWindow(context.Background(), 100); err != nil {
			t.Fatalf("ReconcileWindow() error = %v", err)
		}
		stamp, err := e.db.GetSyncState(drive.SyncKeyReconcileDone)
		if err != nil {
			t.Fatalf("GetSyncState() error = %v", err)
		}
		if stamp == "" {
			t.Error("reconcile timestamp not recorded")
		}
	})
}

func TestService_RebuildIndex(t *testing.T) {
	t.Run("rebuilds a fresh index from the channel", func(t *testing.T) {
		e := newTestEnv(t)
		docs := e.mustCreateDir(t, "", "Docs")
		pics := e.mustCreateDir(t, docs, "Pics")
		e.mustUpload(t, docs, "a.txt", "x")
		e.mustUpload(t, pics, "b.png", "y")

		// A second service with an empty index shares the channel.
		freshDB := testutil.NewTestDatabase(t)
		fresh := drive.NewService(freshDB, e.tr, storageChat, cache.New(t.TempDir()),
			drive.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator(), testParams())

		stats, err := fresh.RebuildIndex(context.Background())
		if err != nil {
			t.Fatalf("RebuildIndex() error = %v", err)
		}
		if stats.Processed != 4 {
			t.Errorf("Processed = %d, want 4", stats.Processed)
		}
		if stats.Dirs != 2 || stats.Files != 2 {
			t.Errorf("indexed %d dirs, %d files, want 2 and 2", stats.Dirs, stats.Files)
		}

		d, err := freshDB.GetDirectory(pics)
		if err != nil || d == nil {
			t.Fatalf("GetDirectory() = %v, %v, want rebuilt row", d, err)
		}
		if d.ParentID != docs {
			t.Errorf("ParentID = %q, want %q", d.ParentID, docs)
		}

		files, err := freshDB.SearchFiles(drive.FileFilter{})
		if err != nil {
			t.Fatalf("SearchFiles() error = %v", err)
		}
		if len(files) != 2 {
			t.Errorf("rebuilt %d files, want 2", len(files))
		}
	})

	t.Run("contains per-message failures", func(t *testing.T) {
		e := newTestEnv(t)
		dir := e.mustCreateDir(t, "", "Docs")
		e.mustUpload(t, dir, "a.txt", "x")

		// Plain chatter in the channel is skipped, not fatal.
		if _, err := e.tr.PublishText(context.Background(), storageChat, "hello everyone"); err != nil {
			t.Fatalf("PublishText() error = %v", err)
		}

		stats, err := e.svc.RebuildIndex(context.Background())
		if err != nil {
			t.Fatalf("RebuildIndex() error = %v", err)
		}
		if stats.Processed != 3 {
			t.Errorf("Processed = %d, want 3", stats.Processed)
		}
		if stats.Failed != 0 {
			t.Errorf("Failed = %d, want 0 for plain chatter", stats.Failed)
		}
	})

	t.Run("records sync timestamp and watermark", func(t *testing.T) {
		e := newTestEnv(t)
		e.mustCreateDir(t, "", "Docs")

		if _, err := e.svc.RebuildIndex(context.Background()); err != nil {
			t.Fatalf("RebuildIndex() error = %v", err)
		}
		stamp, err := e.db.GetSyncState(drive.SyncKeySyncDone)
		if err != nil || stamp == "" {
			t.Fatalf("sync timestamp = %q, %v, want recorded", stamp, err)
		}
		wm, err := e.svc.Watermark()
		if err != nil || wm == 0 {
			t.Fatalf("watermark = %d, %v, want advanced", wm, err)
		}
	})
}

// TestService_EndToEnd walks the primary flow: build a tree, upload,
// move, let a message vanish, reconcile, repair.
func TestService_EndToEnd(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	docs := e.mustCreateDir(t, "", "Documents")
	taxes := e.mustCreateDir(t, docs, "Taxes")
	fileID := e.mustUpload(t, taxes, "return 2023.pdf", "tax return content")

	if err := e.svc.MoveFile(ctx, fileID, docs); err != nil {
		t.Fatalf("MoveFile() error = %v", err)
	}
	if got := e.mustGetFile(t, fileID).DirID; got != docs {
		t.Fatalf("DirID = %q, want %q", got, docs)
	}

	// The message vanishes behind the index's back; reconciliation
	// notices and flags the row.
	if err := e.tr.Delete(ctx, storageChat, []drive.MessageID{e.mustGetFile(t, fileID).MessageID}, true); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	stats, err := e.svc.ReconcileWindow(ctx, 100)
	if err != nil {
		t.Fatalf("ReconcileWindow() error = %v", err)
	}
	if stats.MarkedFiles != 1 {
		t.Fatalf("MarkedFiles = %d, want 1", stats.MarkedFiles)
	}

	// Repair republishes from a kept local copy; the next pass clears
	// the flag.
	source := writeLocalFile(t, "return 2023.pdf", "tax return content")
	result, err := e.svc.RepairFile(ctx, fileID, source)
	if err != nil {
		t.Fatalf("RepairFile() error = %v", err)
	}
	if result != drive.Repaired {
		t.Fatalf("result = %v, want Repaired", result)
	}
	if e.mustGetFile(t, fileID).IsBroken {
		t.Fatal("IsBroken = true after repair")
	}

	stats, err = e.svc.ReconcileWindow(ctx, 100)
	if err != nil {
		t.Fatalf("final ReconcileWindow() error = %v", err)
	}
	if stats.MarkedFiles != 0 {
		t.Fatalf("MarkedFiles = %d after repair, want 0", stats.MarkedFiles)
	}
}
