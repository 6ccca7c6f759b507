package drive

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"tgdrive/internal/fsmeta"
)

// CreateDirectory allocates an id, inserts the row, publishes the
// encoded message, and stores the returned message id. If publishing
// fails the row survives with no backing message and stays repairable
// via rename or repair.
func (s *Service) CreateDirectory(ctx context.Context, parentID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if err := validateEntryName(name); err != nil {
		return "", err
	}
	parentID = normalizeParentID(parentID)
	if parentID != "" {
		exists, err := s.db.DirectoryExists(parentID)
		if err != nil {
			return "", fmt.Errorf("checking parent directory: %w", err)
		}
		if !exists {
			return "", fmt.Errorf("parent directory %s: %w", parentID, ErrNotFound)
		}
	}

	id := s.idgen.New()
	now := s.now()
	dir := &Directory{ID: id, ParentID: parentID, Name: name, UpdatedAt: now}
	if err := s.db.InsertDirectory(dir); err != nil {
		return "", fmt.Errorf("inserting directory: %w", err)
	}

	text := fsmeta.EncodeDir(fsmeta.DirMeta{DirID: id, ParentID: wireParentID(parentID), Name: name})
	published, err := s.tr.PublishText(ctx, s.chat, text)
	if err != nil {
		return "", fmt.Errorf("publishing directory message: %w", err)
	}

	dir.MessageID = published.MessageID
	if err := s.db.UpdateDirectory(dir); err != nil {
		return "", fmt.Errorf("storing directory message id: %w", err)
	}

	s.logger.Info("directory created", "dir_id", id, "name", name)
	return id, nil
}

// RenameDirectory changes a directory's name, keeping its backing
// message in sync. A no-op when the name is unchanged and the message
// already exists.
func (s *Service) RenameDirectory(ctx context.Context, dirID, name string) error {
	name = strings.TrimSpace(name)
	if err := validateEntryName(name); err != nil {
		return err
	}
	dir, err := s.fetchDirectory(dirID)
	if err != nil {
		return err
	}
	if dir.Name == name && dir.MessageID != 0 {
		return nil
	}

	msgID, err := s.ensureDirMessage(ctx, dir, dir.ParentID, name)
	if err != nil {
		return err
	}
	dir.Name = name
	dir.MessageID = msgID
	dir.IsBroken = false
	dir.UpdatedAt = s.now()
	if err := s.db.UpdateDirectory(dir); err != nil {
		return fmt.Errorf("storing renamed directory: %w", err)
	}
	return nil
}

// MoveDirectory reparents a directory. Moving a directory into itself or
// into any of its descendants is refused with a validation error; the
// descendant check is an iterative ancestor walk with a hard cap.
func (s *Service) MoveDirectory(ctx context.Context, dirID, newParentID string) error {
	dir, err := s.fetchDirectory(dirID)
	if err != nil {
		return err
	}
	newParentID = normalizeParentID(newParentID)

	if newParentID != "" {
		if newParentID == dirID {
			return validationf("cannot move a directory into itself")
		}
		exists, err := s.db.DirectoryExists(newParentID)
		if err != nil {
			return fmt.Errorf("checking parent directory: %w", err)
		}
		if !exists {
			return fmt.Errorf("parent directory %s: %w", newParentID, ErrNotFound)
		}
		descendant, err := s.hasAncestor(newParentID, dirID)
		if err != nil {
			return err
		}
		if descendant {
			return validationf("cannot move a directory into its own subdirectory")
		}
	}

	if dir.ParentID == newParentID && dir.MessageID != 0 {
		return nil
	}

	msgID, err := s.ensureDirMessage(ctx, dir, newParentID, dir.Name)
	if err != nil {
		return err
	}
	dir.ParentID = newParentID
	dir.MessageID = msgID
	dir.IsBroken = false
	dir.UpdatedAt = s.now()
	if err := s.db.UpdateDirectory(dir); err != nil {
		return fmt.Errorf("storing moved directory: %w", err)
	}
	return nil
}

// DeleteDirectory removes an empty directory. Non-empty directories are
// refused with a ConflictError reporting the child counts. The backing
// message plus any duplicate historical messages found by search are
// deleted best-effort; the row is removed even if remote deletion failed.
func (s *Service) DeleteDirectory(ctx context.Context, dirID string) error {
	dir, err := s.fetchDirectory(dirID)
	if err != nil {
		return err
	}

	childDirs, childFiles, err := s.db.CountDirectoryChildren(dirID)
	if err != nil {
		return fmt.Errorf("counting directory children: %w", err)
	}
	if childDirs > 0 || childFiles > 0 {
		return &ConflictError{ChildDirs: childDirs, ChildFiles: childFiles}
	}

	var msgIDs []MessageID
	if dir.MessageID != 0 {
		msgIDs = append(msgIDs, dir.MessageID)
	}
	if found, err := s.findDirMessages(ctx, dirID); err == nil {
		msgIDs = append(msgIDs, found...)
	}
	msgIDs = dedupMessageIDs(msgIDs)
	if len(msgIDs) > 0 {
		if err := s.tr.Delete(ctx, s.chat, msgIDs, true); err != nil {
			s.logger.Warn("directory message delete failed", "dir_id", dirID, "error", err)
		}
	}

	if err := s.db.DeleteDirectory(dirID); err != nil {
		return fmt.Errorf("deleting directory row: %w", err)
	}
	return nil
}

// RepairDirectory republishes a directory's metadata, reusing the
// in-place edit with replacement fallback.
func (s *Service) RepairDirectory(ctx context.Context, dirID string) error {
	dir, err := s.fetchDirectory(dirID)
	if err != nil {
		return err
	}
	msgID, err := s.ensureDirMessage(ctx, dir, dir.ParentID, dir.Name)
	if err != nil {
		return err
	}
	dir.MessageID = msgID
	dir.IsBroken = false
	dir.UpdatedAt = s.now()
	if err := s.db.UpdateDirectory(dir); err != nil {
		return fmt.Errorf("storing repaired directory: %w", err)
	}
	return nil
}

// ListTree returns the whole directory tree under a synthetic root node.
func (s *Service) ListTree() (*DirNode, error) {
	dirs, err := s.db.ListDirectories()
	if err != nil {
		return nil, fmt.Errorf("listing directories: %w", err)
	}

	nodes := make(map[string]*DirNode, len(dirs))
	for _, d := range dirs {
		nodes[d.ID] = &DirNode{ID: d.ID, Name: d.Name, ParentID: d.ParentID, IsBroken: d.IsBroken}
	}

	root := &DirNode{ID: fsmeta.RootParentID, Name: fsmeta.RootParentID}
	for _, d := range dirs {
		node := nodes[d.ID]
		if d.ParentID == "" {
			root.Children = append(root.Children, node)
			continue
		}
		if parent, ok := nodes[d.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			// Orphaned by a missing parent row; surface at the root
			// rather than hide the subtree.
			root.Children = append(root.Children, node)
		}
	}
	return root, nil
}

// ensureDirMessage brings the backing message in line with the desired
// parent and name: edit in place when one exists, otherwise publish. On
// a failed edit a replacement is published and the stale message is
// deleted best-effort.
func (s *Service) ensureDirMessage(ctx context.Context, dir *Directory, parentID, name string) (MessageID, error) {
	text := fsmeta.EncodeDir(fsmeta.DirMeta{DirID: dir.ID, ParentID: wireParentID(parentID), Name: name})

	if dir.MessageID != 0 {
		err := s.tr.EditText(ctx, s.chat, dir.MessageID, text)
		if err == nil {
			return dir.MessageID, nil
		}
		s.logger.Warn("directory message edit failed, publishing replacement", "dir_id", dir.ID, "error", err)
		published, pubErr := s.tr.PublishText(ctx, s.chat, text)
		if pubErr != nil {
			return 0, fmt.Errorf("publishing replacement directory message (edit failed: %v): %w", err, pubErr)
		}
		if delErr := s.tr.Delete(ctx, s.chat, []MessageID{dir.MessageID}, true); delErr != nil {
			s.logger.Warn("stale directory message delete failed", "dir_id", dir.ID, "error", delErr)
		}
		return published.MessageID, nil
	}

	published, err := s.tr.PublishText(ctx, s.chat, text)
	if err != nil {
		return 0, fmt.Errorf("publishing directory message: %w", err)
	}
	return published.MessageID, nil
}

// findDirMessages searches the storage chat for messages carrying this
// directory's id tag, paging a bounded number of times. Search failures
// end the sweep quietly; the caller deletes whatever was found.
func (s *Service) findDirMessages(ctx context.Context, dirID string) ([]MessageID, error) {
	query := "d=" + dirID
	var from MessageID
	var out []MessageID

	for page := 0; page < s.params.SearchPageCap; page++ {
		batch, err := s.tr.Search(ctx, s.chat, query, from, s.params.SearchPageSize)
		if err != nil {
			break
		}
		for i := range batch.Messages {
			msg := &batch.Messages[i]
			if msg.Text == "" {
				continue
			}
			meta, err := fsmeta.DecodeDir(msg.Text)
			if err == nil && meta.DirID == dirID {
				out = append(out, msg.ID)
			}
		}
		if batch.NextFrom == 0 {
			break
		}
		from = batch.NextFrom
	}
	return out, nil
}

// hasAncestor reports whether target appears in start's parent chain
// (including start itself). Iterative with a hard cap.
func (s *Service) hasAncestor(startID, targetID string) (bool, error) {
	current := startID
	for guard := 0; current != "" && guard < ancestorWalkCap; guard++ {
		if current == targetID {
			return true, nil
		}
		dir, err := s.db.GetDirectory(current)
		if err != nil {
			return false, fmt.Errorf("walking ancestors: %w", err)
		}
		if dir == nil {
			return false, nil
		}
		current = dir.ParentID
	}
	return false, nil
}

// normalizeParentID maps the wire sentinel and blanks to the local
// empty-means-root convention.
func normalizeParentID(parentID string) string {
	parentID = strings.TrimSpace(parentID)
	if parentID == fsmeta.RootParentID {
		return ""
	}
	return parentID
}

// wireParentID maps a local parent id to its wire form.
func wireParentID(parentID string) string {
	if parentID == "" {
		return fsmeta.RootParentID
	}
	return parentID
}

func dedupMessageIDs(ids []MessageID) []MessageID {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	var last MessageID = -1
	for _, id := range ids {
		if id != last {
			out = append(out, id)
			last = id
		}
	}
	return out
}
