package drive

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tgdrive/internal/fsmeta"
)

// Outcome reports how one inbound message was classified and applied.
// The flags are not mutually exclusive: an auto-imported attachment sets
// both IsFile and Imported.
type Outcome struct {
	IsDir    bool
	IsFile   bool
	Imported bool
	Skipped  bool
	Failed   bool
}

// importMemo caches the unassigned-directory lookup for the duration of
// one batch run so a scan does not re-resolve it per message.
type importMemo struct {
	unassignedID   string
	unassignedName string
}

// ClassifyAndApply classifies one inbound message and applies it to the
// index: a decodable directory body upserts a Directory, a decodable
// file caption upserts a File, a bare attachment is auto-imported, and
// everything else is skipped.
func (s *Service) ClassifyAndApply(ctx context.Context, msg *Message) (Outcome, error) {
	return s.classifyAndApply(ctx, msg, &importMemo{})
}

func (s *Service) classifyAndApply(ctx context.Context, msg *Message, memo *importMemo) (Outcome, error) {
	var out Outcome

	if msg.Text != "" {
		if meta, err := fsmeta.DecodeDir(msg.Text); err == nil {
			if err := s.upsertDirMeta(meta, msg.ID, msg.Date); err != nil {
				return out, err
			}
			out.IsDir = true
			return out, nil
		}
	}

	if msg.Caption != "" {
		if meta, err := fsmeta.DecodeFile(msg.Caption); err == nil {
			if err := s.upsertFileMeta(meta, msg.ID, msg.Date, msg.FileSize); err != nil {
				return out, err
			}
			out.IsFile = true
			return out, nil
		}
	}

	if !msg.HasAttachment() {
		out.Skipped = true
		return out, nil
	}

	imported, err := s.importUntaggedFile(ctx, msg, memo)
	if err != nil {
		return out, err
	}
	if imported {
		out.Imported = true
		out.IsFile = true
	} else {
		out.Skipped = true
	}
	return out, nil
}

// upsertDirMeta applies a decoded directory record, creating a parent
// placeholder first when the parent is not yet known.
func (s *Service) upsertDirMeta(meta fsmeta.DirMeta, msgID MessageID, date int64) error {
	parentID := normalizeParentID(meta.ParentID)
	if parentID != "" {
		if err := s.ensurePlaceholder(parentID, date); err != nil {
			return err
		}
	}
	err := s.db.UpsertDirectory(&Directory{
		ID:        meta.DirID,
		ParentID:  parentID,
		Name:      meta.Name,
		MessageID: msgID,
		UpdatedAt: date,
	})
	if err != nil {
		return fmt.Errorf("upserting directory: %w", err)
	}
	return nil
}

// upsertFileMeta applies a decoded file record, creating a directory
// placeholder when its directory is not yet known.
func (s *Service) upsertFileMeta(meta fsmeta.FileMeta, msgID MessageID, date, size int64) error {
	if err := s.ensurePlaceholder(meta.DirID, date); err != nil {
		return err
	}
	err := s.db.UpsertFile(&File{
		ID:        meta.FileID,
		DirID:     meta.DirID,
		Name:      meta.Name,
		Size:      size,
		Hash:      meta.HashShort,
		ChatID:    s.chat,
		MessageID: msgID,
		CreatedAt: date,
	})
	if err != nil {
		return fmt.Errorf("upserting file: %w", err)
	}
	return nil
}

// ensurePlaceholder inserts a placeholder row for a directory id seen
// out of order. The real directory message overwrites it later.
func (s *Service) ensurePlaceholder(dirID string, date int64) error {
	if strings.TrimSpace(dirID) == "" {
		return nil
	}
	created, err := s.db.EnsureDirectoryPlaceholder(dirID, date)
	if err != nil {
		return fmt.Errorf("ensuring directory placeholder: %w", err)
	}
	if created {
		s.logger.Debug("directory placeholder created", "dir_id", dirID)
	}
	return nil
}

// importUntaggedFile adopts an attachment that carries no recognized
// metadata tag. Returns false when the message was skipped.
func (s *Service) importUntaggedFile(ctx context.Context, msg *Message, memo *importMemo) (bool, error) {
	// Idempotence guard: a row already backed by this exact message
	// means the import happened before.
	existing, err := s.db.FindFileByLocation(s.chat, msg.ID)
	if err != nil {
		return false, fmt.Errorf("checking for existing import: %w", err)
	}
	if existing != nil {
		return false, nil
	}

	targetID, targetName, err := s.resolveImportTarget(ctx, msg.Caption, memo)
	if err != nil {
		return false, err
	}

	fileID := s.idgen.New()
	name := strings.TrimSpace(msg.FileName)
	if name == "" {
		name = fmt.Sprintf("file_%d", msg.ID)
	}
	hash := hashShortFromSeed(fmt.Sprintf("%d:%d:%s:%d", s.chat, msg.ID, name, msg.FileSize))
	caption := fsmeta.EncodeFileWithTag(fsmeta.FileMeta{
		DirID:     targetID,
		FileID:    fileID,
		Name:      name,
		HashShort: hash,
	}, targetName)

	// Rewriting the caption in place is best effort: losing the race
	// leaves the original caption, which a later scan re-imports
	// through the location guard above.
	if err := s.editCaptionWithRetry(ctx, msg.ID, caption); err != nil {
		s.logger.Warn("import caption rewrite failed, keeping original", "message_id", msg.ID, "error", err)
	}

	// The platform propagates lazily; confirm the message still exists
	// before trusting it with a row. Gone means skipped, not failed.
	if !s.messageExistsWithRetry(ctx, msg.ID) {
		s.logger.Warn("imported message vanished, skipping", "message_id", msg.ID)
		return false, nil
	}

	createdAt := msg.Date
	if createdAt <= 0 {
		createdAt = s.now()
	}
	err = s.db.InsertFile(&File{
		ID:        fileID,
		DirID:     targetID,
		Name:      name,
		Size:      msg.FileSize,
		Hash:      hash,
		ChatID:    s.chat,
		MessageID: msg.ID,
		CreatedAt: createdAt,
	})
	if err != nil {
		s.logger.Warn("import row insert failed", "file_id", fileID, "error", err)
		return false, nil
	}
	return true, nil
}

// resolveImportTarget picks the directory for an untagged attachment:
// the first caption hashtag naming a known directory wins, then a new
// directory named after the first hashtag, then the well-known
// unassigned directory.
func (s *Service) resolveImportTarget(ctx context.Context, caption string, memo *importMemo) (string, string, error) {
	var preferred string
	for _, tag := range fsmeta.ExtractFolderTags(caption) {
		name := fsmeta.NormalizeTagName(tag)
		if name == "" {
			continue
		}
		if preferred == "" {
			preferred = name
		}
		dir, err := s.db.FindDirectoryByName(name)
		if err != nil {
			return "", "", fmt.Errorf("resolving folder tag: %w", err)
		}
		if dir != nil {
			return dir.ID, dir.Name, nil
		}
	}

	if preferred != "" {
		return s.ensureDirByName(ctx, preferred)
	}

	if memo.unassignedID == "" {
		id, name, err := s.ensureDirByName(ctx, UnassignedDirName)
		if err != nil {
			return "", "", err
		}
		memo.unassignedID, memo.unassignedName = id, name
	}
	return memo.unassignedID, memo.unassignedName, nil
}

func (s *Service) ensureDirByName(ctx context.Context, name string) (string, string, error) {
	dir, err := s.db.FindDirectoryByName(name)
	if err != nil {
		return "", "", fmt.Errorf("finding directory by name: %w", err)
	}
	if dir != nil {
		return dir.ID, dir.Name, nil
	}
	id, err := s.CreateDirectory(ctx, "", name)
	if err != nil {
		return "", "", fmt.Errorf("creating import directory: %w", err)
	}
	return id, name, nil
}

// editCaptionWithRetry attempts a caption edit with a single bounded
// retry, joining both failure reasons on exhaustion.
func (s *Service) editCaptionWithRetry(ctx context.Context, msgID MessageID, caption string) error {
	first := s.tr.EditCaption(ctx, s.chat, msgID, caption)
	if first == nil {
		return nil
	}
	if err := sleepCtx(ctx, s.params.CaptionRetryDelay); err != nil {
		return first
	}
	second := s.tr.EditCaption(ctx, s.chat, msgID, caption)
	if second == nil {
		return nil
	}
	return fmt.Errorf("%v; %v", first, second)
}

// messageExistsWithRetry confirms a message is visible, retrying on the
// increasing backoff schedule to ride out propagation lag.
func (s *Service) messageExistsWithRetry(ctx context.Context, msgID MessageID) bool {
	for i, delay := range s.params.ExistsRetryDelays {
		ok, err := s.tr.Exists(ctx, s.chat, msgID)
		if err == nil && ok {
			return true
		}
		if err != nil && i == len(s.params.ExistsRetryDelays)-1 {
			s.logger.Debug("message existence check failed", "message_id", msgID, "error", err)
		}
		if sleepCtx(ctx, delay) != nil {
			return false
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
