// Package app is the application layer between the CLI and the drive
// service: it constructs all dependencies from config and manages their
// lifecycle on Close.
package app

import (
	"context"
	"fmt"
	"io"

	"tgdrive/internal/cache"
	"tgdrive/internal/config"
	"tgdrive/internal/database"
	"tgdrive/internal/drive"
	"tgdrive/internal/transport"
)

// App wires the drive service from config and exposes the high-level
// operations the CLI calls.
type App struct {
	cfg     *config.Config
	db      drive.Database
	tr      drive.Transport
	service *drive.Service
	logOut  io.Closer
}

// NewApp creates a fully wired App from the given config. operation
// identifies the CLI command being run (e.g. "Upload", "Reconcile") and
// tags every log line. The caller must call Close when done.
func NewApp(cfg *config.Config, operation string) (*App, error) {
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("chat_id not configured")
	}
	if cfg.CacheDir == "" {
		return nil, fmt.Errorf("cache_dir not configured")
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	tr, err := transport.NewTransportFromConfig(cfg.Transport)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating transport: %w", err)
	}

	logger, logOut, err := newLogger(cfg.LogDir, operation)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	svc := drive.NewService(db, tr, cfg.ChatID, cache.New(cfg.CacheDir),
		&slogAdapter{l: logger}, drive.RealClock{}, drive.UUIDv7Generator{}, drive.DefaultParams())

	return &App{cfg: cfg, db: db, tr: tr, service: svc, logOut: logOut}, nil
}

// Mkdir creates a directory and returns its id.
func (a *App) Mkdir(ctx context.Context, parentID, name string) (string, error) {
	return a.service.CreateDirectory(ctx, parentID, name)
}

// Rename changes a directory's name.
func (a *App) Rename(ctx context.Context, dirID, name string) error {
	return a.service.RenameDirectory(ctx, dirID, name)
}

// MoveDir reparents a directory.
func (a *App) MoveDir(ctx context.Context, dirID, newParentID string) error {
	return a.service.MoveDirectory(ctx, dirID, newParentID)
}

// Rmdir removes an empty directory.
func (a *App) Rmdir(ctx context.Context, dirID string) error {
	return a.service.DeleteDirectory(ctx, dirID)
}

// Tree returns the whole directory tree.
func (a *App) Tree() (*drive.DirNode, error) {
	return a.service.ListTree()
}

// Upload publishes a local file into a directory and returns its id.
func (a *App) Upload(ctx context.Context, dirID, localPath string) (string, error) {
	return a.service.UploadFile(ctx, dirID, localPath)
}

// Move reassigns a file to another directory.
func (a *App) Move(ctx context.Context, fileID, newDirID string) error {
	return a.service.MoveFile(ctx, fileID, newDirID)
}

// Remove deletes files by id.
func (a *App) Remove(ctx context.Context, fileIDs []string) error {
	return a.service.DeleteFiles(ctx, fileIDs)
}

// Download fetches a file into the cache and returns the local path.
func (a *App) Download(ctx context.Context, fileID string, overwrite bool) (string, error) {
	return a.service.Download(ctx, fileID, overwrite)
}

// List returns the files of a directory with local cache state.
func (a *App) List(dirID string) ([]*drive.FileItem, error) {
	return a.service.ListFiles(dirID)
}

// Search returns files matching the filter with local cache state.
func (a *App) Search(filter drive.FileFilter) ([]*drive.FileItem, error) {
	return a.service.SearchFiles(filter)
}

// RepairDir republishes a directory's metadata message.
func (a *App) RepairDir(ctx context.Context, dirID string) error {
	return a.service.RepairDirectory(ctx, dirID)
}

// RepairFile restores a file's backing message, from sourcePath when
// given, otherwise from the cache.
func (a *App) RepairFile(ctx context.Context, fileID, sourcePath string) (drive.RepairResult, error) {
	return a.service.RepairFile(ctx, fileID, sourcePath)
}

// Reconcile scans the most recent window of the channel and fixes up
// drift annotations.
func (a *App) Reconcile(ctx context.Context, limit int64) (*drive.ReconcileStats, error) {
	return a.service.ReconcileWindow(ctx, limit)
}

// Rebuild re-indexes the full channel history.
func (a *App) Rebuild(ctx context.Context) (*drive.RebuildStats, error) {
	return a.service.RebuildIndex(ctx)
}

// Close releases the database and the log writer.
func (a *App) Close() error {
	var firstErr error
	if err := a.db.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logOut != nil {
		if err := a.logOut.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log writer: %w", err)
		}
	}
	return firstErr
}
