package drive

// Database provides typed access to the local index. Lookups return nil
// (not an error) when the row is absent; mutators that require the row
// return store errors as-is. The store is assumed reliable: its errors
// are fatal and never retried.
type Database interface {
	// Directory operations

	// GetDirectory returns a directory by id, or nil when unknown.
	GetDirectory(id string) (*Directory, error)

	// DirectoryExists reports whether a directory row exists.
	DirectoryExists(id string) (bool, error)

	// FindDirectoryByName returns the best directory with the given
	// name, case-insensitive, preferring root-level and recently
	// updated rows. Returns nil when none matches.
	FindDirectoryByName(name string) (*Directory, error)

	// InsertDirectory creates a directory row.
	InsertDirectory(d *Directory) error

	// UpsertDirectory inserts a directory or, on id conflict, updates
	// parent, name, backing message, and timestamp, clearing is_broken.
	UpsertDirectory(d *Directory) error

	// UpdateDirectory rewrites the mutable columns of an existing row.
	UpdateDirectory(d *Directory) error

	// EnsureDirectoryPlaceholder inserts a placeholder row for an id
	// unless one already exists. Returns true when a row was created.
	EnsureDirectoryPlaceholder(id string, updatedAt int64) (bool, error)

	// DeleteDirectory removes a directory row.
	DeleteDirectory(id string) error

	// ListDirectories returns all directories ordered by name.
	ListDirectories() ([]*Directory, error)

	// CountDirectoryChildren returns the number of child directories
	// and files under a directory.
	CountDirectoryChildren(id string) (dirs, files int64, err error)

	// DirectoriesWithMessageAtLeast returns directories whose backing
	// message id is at least min. Rows without a backing message are
	// excluded.
	DirectoriesWithMessageAtLeast(min MessageID) ([]*Directory, error)

	// SetDirectoryBroken sets or clears the drift flag.
	SetDirectoryBroken(id string, broken bool) error

	// File operations

	// GetFile returns a file by id, or nil when unknown.
	GetFile(id string) (*File, error)

	// FindFileByLocation returns the file backed by the given message,
	// or nil. This is the idempotence guard for imports.
	FindFileByLocation(chat ChatID, msg MessageID) (*File, error)

	// InsertFile creates a file row.
	InsertFile(f *File) error

	// UpsertFile inserts a file or, on id conflict, updates everything
	// but created_at.
	UpsertFile(f *File) error

	// UpdateFile rewrites the mutable columns of an existing row.
	UpdateFile(f *File) error

	// UpdateFileSize corrects the indexed size after a confirmed read.
	UpdateFileSize(id string, size int64) error

	// DeleteFile removes a file row.
	DeleteFile(id string) error

	// ListFilesInDirectory returns the files of a directory by name.
	ListFilesInDirectory(dirID string) ([]*File, error)

	// SearchFiles returns files matching the filter, ordered by name.
	SearchFiles(filter FileFilter) ([]*File, error)

	// FilesInChatWithMessageAtLeast returns files in a chat whose
	// backing message id is at least min.
	FilesInChatWithMessageAtLeast(chat ChatID, min MessageID) ([]*File, error)

	// SetFileBroken sets or clears the drift flag.
	SetFileBroken(id string, broken bool) error

	// Sync state

	// GetSyncState returns the value for a key, or "" when unset.
	GetSyncState(key string) (string, error)

	// SetSyncState stores a key/value pair, replacing any prior value.
	SetSyncState(key, value string) error

	// Close closes the database connection.
	Close() error
}
