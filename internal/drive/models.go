package drive

// PlaceholderDirName is the sentinel name of auto-created directories
// standing in for a parent that has not been seen yet. Placeholder rows
// are overwritten once the real directory message is processed and are
// skipped when materializing cache paths.
const PlaceholderDirName = "unknown directory"

// UnassignedDirName is the well-known directory that receives imported
// files whose caption carries no usable folder hashtag.
const UnassignedDirName = "Unsorted"

// Directory is one node of the remote folder tree as known locally.
type Directory struct {
	ID        string
	ParentID  string // empty means root
	Name      string
	MessageID int64 // backing message; 0 only transiently before first publish
	IsBroken  bool
	UpdatedAt int64 // unix seconds
}

// File is one stored file as known locally. ChatID may differ from the
// storage chat in degenerate or legacy cases; both are kept so the
// backing message stays addressable.
type File struct {
	ID        string
	DirID     string
	Name      string
	Size      int64 // may lag the true remote value until confirmed
	Hash      string // 8 hex chars, identity hint, not integrity proof
	ChatID    int64
	MessageID int64
	CreatedAt int64 // unix seconds
	IsBroken  bool
}

// DirNode is a directory with its children resolved, as returned by
// ListTree. The root node is synthetic.
type DirNode struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	ParentID string     `json:"parent_id,omitempty"`
	IsBroken bool       `json:"is_broken"`
	Children []*DirNode `json:"children"`
}

// FileItem is a File annotated with local-cache state for listings.
type FileItem struct {
	File
	IsDownloaded bool
	LocalSize    int64 // 0 when not downloaded
}

// FileFilter narrows SearchFiles. Zero values mean "any".
type FileFilter struct {
	DirID     string
	Name      string // substring, case-insensitive
	Extension string // without the leading dot
	Limit     int64  // defaults to 500
}
