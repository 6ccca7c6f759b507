// Package drive implements the synchronization and mutation engine that
// keeps the local index consistent with the remote message store. It
// depends on small capability interfaces (Transport, Database, Logger,
// Clock, IDGenerator) so every collaborator can be replaced in tests.
package drive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"tgdrive/internal/cache"
)

// Sync state keys owned by this package.
const (
	// SyncKeyWatermark holds the highest message id already fully
	// processed; incremental sync starts above it.
	SyncKeyWatermark = "storage_last_message_id"
	// SyncKeyReconcileDone holds the timestamp of the last completed
	// reconciliation pass.
	SyncKeyReconcileDone = "storage_reconcile_done"
	// SyncKeySyncDone holds the timestamp of the last completed full
	// index rebuild.
	SyncKeySyncDone = "storage_sync_done"
)

// ancestorWalkCap bounds parent-chain walks so a pathological tree (or a
// cycle introduced by external tampering) cannot hang an operation.
const ancestorWalkCap = 64

// Params tunes the bounded retry behavior. Retries are local and fixed;
// there is no unbounded backoff anywhere in the engine.
type Params struct {
	// CaptionRetryDelay is the pause before the single caption-edit
	// retry during import.
	CaptionRetryDelay time.Duration
	// ExistsRetryDelays is the increasing backoff schedule used to
	// confirm a message survived propagation lag.
	ExistsRetryDelays []time.Duration
	// SearchPageCap bounds how many pages a message search may fetch.
	SearchPageCap int
	// SearchPageSize is the per-page limit for message searches.
	SearchPageSize int
}

// DefaultParams returns the production retry schedule.
func DefaultParams() Params {
	return Params{
		CaptionRetryDelay: 600 * time.Millisecond,
		ExistsRetryDelays: []time.Duration{150 * time.Millisecond, 500 * time.Millisecond, time.Second, 1500 * time.Millisecond},
		SearchPageCap:     8,
		SearchPageSize:    100,
	}
}

// Service is the mutation and synchronization engine. One instance
// serves all operations; independent entities may mutate concurrently,
// but two concurrent mutations of the same entity id race last-write-wins.
type Service struct {
	db     Database
	tr     Transport
	chat   ChatID
	cache  *cache.Cache
	logger Logger
	clock  Clock
	idgen  IDGenerator
	params Params
}

// NewService wires a Service from its collaborators. chat is the storage
// channel all metadata messages live in.
func NewService(db Database, tr Transport, chat ChatID, c *cache.Cache, logger Logger, clock Clock, idgen IDGenerator, params Params) *Service {
	return &Service{
		db:     db,
		tr:     tr,
		chat:   chat,
		cache:  c,
		logger: logger,
		clock:  clock,
		idgen:  idgen,
		params: params,
	}
}

// fetchDirectory loads a directory or reports ErrNotFound.
func (s *Service) fetchDirectory(id string) (*Directory, error) {
	dir, err := s.db.GetDirectory(id)
	if err != nil {
		return nil, fmt.Errorf("loading directory: %w", err)
	}
	if dir == nil {
		return nil, fmt.Errorf("directory %s: %w", id, ErrNotFound)
	}
	return dir, nil
}

// fetchFile loads a file or reports ErrNotFound.
func (s *Service) fetchFile(id string) (*File, error) {
	f, err := s.db.GetFile(id)
	if err != nil {
		return nil, fmt.Errorf("loading file: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	return f, nil
}

// dirPath materializes the cache-relative path of a directory by walking
// parent links root to leaf. Each component is sanitized against the
// local filesystem; placeholder segments are skipped. The walk is capped
// so damaged parent chains terminate.
func (s *Service) dirPath(dirID string) (string, error) {
	var names []string
	current := dirID
	for guard := 0; current != "" && guard < ancestorWalkCap; guard++ {
		dir, err := s.db.GetDirectory(current)
		if err != nil {
			return "", fmt.Errorf("walking directory path: %w", err)
		}
		if dir == nil {
			break
		}
		name := strings.TrimSpace(dir.Name)
		if name != "" && name != PlaceholderDirName {
			if component := cache.SanitizeComponent(name); component != "" {
				names = append(names, component)
			}
		}
		current = dir.ParentID
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return path.Join(names...), nil
}

// directoryName returns the name of a directory, or "" when unknown.
func (s *Service) directoryName(dirID string) (string, error) {
	dir, err := s.db.GetDirectory(dirID)
	if err != nil {
		return "", fmt.Errorf("loading directory name: %w", err)
	}
	if dir == nil {
		return "", nil
	}
	return dir.Name, nil
}

// hashShortFromPath fingerprints file content: the first 8 hex chars of
// its SHA-256. A naming and identity hint only, never an integrity check.
func hashShortFromPath(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", fmt.Errorf("opening file for fingerprint: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("reading file for fingerprint: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil))[:8], nil
}

// hashShortFromSeed fingerprints a synthetic seed for imported files
// whose content is never read locally.
func hashShortFromSeed(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:8]
}

func (s *Service) now() int64 { return s.clock.Now().Unix() }
