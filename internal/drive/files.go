package drive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"tgdrive/internal/fsmeta"
)

// RepairResult distinguishes the outcomes of RepairFile. NeedsSourceFile
// is a normal result, not an error: the backing message is gone and no
// local copy exists to republish from.
type RepairResult int

const (
	Repaired RepairResult = iota
	NeedsSourceFile
)

// UploadFile publishes a local file into a directory and indexes it.
func (s *Service) UploadFile(ctx context.Context, dirID, localPath string) (string, error) {
	exists, err := s.db.DirectoryExists(dirID)
	if err != nil {
		return "", fmt.Errorf("checking directory: %w", err)
	}
	if !exists {
		return "", fmt.Errorf("directory %s: %w", dirID, ErrNotFound)
	}
	info, err := os.Stat(localPath)
	if err != nil || !info.Mode().IsRegular() {
		return "", validationf("source is not a regular file: %s", localPath)
	}

	name := baseName(localPath)
	size := info.Size()
	hash, err := hashShortFromPath(localPath)
	if err != nil {
		return "", err
	}
	id := s.idgen.New()

	dirName, err := s.directoryName(dirID)
	if err != nil {
		return "", err
	}
	caption := fsmeta.EncodeFileWithTag(fsmeta.FileMeta{
		DirID:     dirID,
		FileID:    id,
		Name:      name,
		HashShort: hash,
	}, dirName)

	published, err := s.tr.PublishFile(ctx, s.chat, localPath, caption)
	if err != nil {
		return "", fmt.Errorf("publishing file: %w", err)
	}

	f := &File{
		ID:        id,
		DirID:     dirID,
		Name:      name,
		Size:      size,
		Hash:      hash,
		ChatID:    published.ChatID,
		MessageID: published.MessageID,
		CreatedAt: s.now(),
	}
	if err := s.db.UpsertFile(f); err != nil {
		return "", fmt.Errorf("indexing uploaded file: %w", err)
	}

	s.logger.Info("file uploaded", "file_id", id, "name", name, "size", size)
	return id, nil
}

// MoveFile reassigns a file to another directory. The caption rewrite is
// attempted through an ordered fallback chain, stopping at the first
// step that succeeds:
//
//  1. edit the caption in place;
//  2. re-resolve the backing message by search, update the cached
//     location, retry the edit;
//  3. resend the content as a new message under the new caption and
//     delete the old one;
//  4. duplicate the message, edit the duplicate's caption, delete the
//     original.
//
// Only the exhausted chain surfaces an error, annotated with every
// step's failure reason.
func (s *Service) MoveFile(ctx context.Context, fileID, newDirID string) error {
	exists, err := s.db.DirectoryExists(newDirID)
	if err != nil {
		return fmt.Errorf("checking directory: %w", err)
	}
	if !exists {
		return fmt.Errorf("directory %s: %w", newDirID, ErrNotFound)
	}
	f, err := s.fetchFile(fileID)
	if err != nil {
		return err
	}
	if f.DirID == newDirID {
		return nil
	}

	dirName, err := s.directoryName(newDirID)
	if err != nil {
		return err
	}
	caption := fsmeta.EncodeFileWithTag(fsmeta.FileMeta{
		DirID:     newDirID,
		FileID:    fileID,
		Name:      f.Name,
		HashShort: f.Hash,
	}, dirName)

	commit := func(chat ChatID, msg MessageID) error {
		f.DirID = newDirID
		f.ChatID = chat
		f.MessageID = msg
		f.IsBroken = false
		if err := s.db.UpdateFile(f); err != nil {
			return fatal(fmt.Errorf("storing moved file: %w", err))
		}
		return nil
	}

	steps := []fallbackStep{
		{"edit caption", func() error {
			if err := s.tr.EditCaption(ctx, f.ChatID, f.MessageID, caption); err != nil {
				return err
			}
			return commit(f.ChatID, f.MessageID)
		}},
		{"re-resolve and edit", func() error {
			chat, msg, err := s.findFileMessage(ctx, f.ChatID, fileID)
			if err != nil {
				return err
			}
			if msg == 0 {
				return errors.New("backing message not found by search")
			}
			if chat != f.ChatID || msg != f.MessageID {
				f.ChatID = chat
				f.MessageID = msg
				f.IsBroken = false
				if err := s.db.UpdateFile(f); err != nil {
					return fatal(fmt.Errorf("storing re-resolved location: %w", err))
				}
			}
			if err := s.tr.EditCaption(ctx, chat, msg, caption); err != nil {
				return err
			}
			return commit(chat, msg)
		}},
		{"resend as new", func() error {
			published, err := s.tr.ResendAsNew(ctx, f.ChatID, f.MessageID, caption)
			if err != nil {
				return err
			}
			if err := s.tr.Delete(ctx, f.ChatID, []MessageID{f.MessageID}, true); err != nil {
				s.logger.Warn("stale file message delete failed", "file_id", fileID, "error", err)
			}
			return commit(published.ChatID, published.MessageID)
		}},
		{"duplicate and edit", func() error {
			newMsg, err := s.tr.Duplicate(ctx, f.ChatID, f.MessageID)
			if err != nil {
				return err
			}
			if newMsg == 0 {
				return errors.New("platform returned no id for the duplicate; the channel may have content protection enabled")
			}
			if err := s.tr.EditCaption(ctx, f.ChatID, newMsg, caption); err != nil {
				if delErr := s.tr.Delete(ctx, f.ChatID, []MessageID{newMsg}, true); delErr != nil {
					s.logger.Warn("orphaned duplicate delete failed", "file_id", fileID, "error", delErr)
				}
				return fmt.Errorf("editing duplicate caption: %w", err)
			}
			if err := s.tr.Delete(ctx, f.ChatID, []MessageID{f.MessageID}, true); err != nil {
				s.logger.Warn("stale file message delete failed", "file_id", fileID, "error", err)
			}
			return commit(f.ChatID, newMsg)
		}},
	}
	if err := s.runFallbackChain("moving file", fileID, steps); err != nil {
		return err
	}
	return nil
}

// DeleteFile removes a file: best-effort remote delete, best-effort
// cache removal, unconditional row removal. A failed remote delete is
// logged, not surfaced; local and remote may disagree until the next
// reconciliation.
func (s *Service) DeleteFile(ctx context.Context, fileID string) error {
	f, err := s.fetchFile(fileID)
	if err != nil {
		return err
	}
	if err := s.tr.Delete(ctx, f.ChatID, []MessageID{f.MessageID}, true); err != nil {
		s.logger.Warn("file message delete failed", "file_id", fileID, "error", err)
	}
	s.removeCachedCopy(f)
	if err := s.db.DeleteFile(fileID); err != nil {
		return fmt.Errorf("deleting file row: %w", err)
	}
	return nil
}

// DeleteFiles removes a batch of files, grouping remote deletions per
// chat. Entities are processed independently; one failure never blocks
// the rest.
func (s *Service) DeleteFiles(ctx context.Context, fileIDs []string) error {
	if len(fileIDs) == 0 {
		return nil
	}

	var files []*File
	grouped := make(map[ChatID][]MessageID)
	for _, id := range fileIDs {
		f, err := s.db.GetFile(id)
		if err != nil {
			return fmt.Errorf("loading file: %w", err)
		}
		if f == nil {
			continue
		}
		grouped[f.ChatID] = append(grouped[f.ChatID], f.MessageID)
		files = append(files, f)
	}

	for chat, msgs := range grouped {
		if err := s.tr.Delete(ctx, chat, msgs, true); err != nil {
			s.logger.Warn("file messages delete failed", "chat_id", chat, "count", len(msgs), "error", err)
		}
	}
	for _, f := range files {
		s.removeCachedCopy(f)
		if err := s.db.DeleteFile(f.ID); err != nil {
			return fmt.Errorf("deleting file row: %w", err)
		}
	}
	return nil
}

// RepairFile restores the backing message of a broken file: in-place
// caption edit first, then re-resolution by search, then a fresh publish
// from sourcePath or a cached copy. When no source is available the
// distinguished NeedsSourceFile result is returned.
func (s *Service) RepairFile(ctx context.Context, fileID, sourcePath string) (RepairResult, error) {
	f, err := s.fetchFile(fileID)
	if err != nil {
		return Repaired, err
	}
	dirName, err := s.directoryName(f.DirID)
	if err != nil {
		return Repaired, err
	}
	caption := fsmeta.EncodeFileWithTag(fsmeta.FileMeta{
		DirID:     f.DirID,
		FileID:    fileID,
		Name:      f.Name,
		HashShort: f.Hash,
	}, dirName)

	commit := func(chat ChatID, msg MessageID) error {
		f.ChatID = chat
		f.MessageID = msg
		f.IsBroken = false
		if err := s.db.UpdateFile(f); err != nil {
			return fmt.Errorf("storing repaired file: %w", err)
		}
		return nil
	}

	if s.tr.EditCaption(ctx, f.ChatID, f.MessageID, caption) == nil {
		return Repaired, commit(f.ChatID, f.MessageID)
	}

	if chat, msg, err := s.findFileMessage(ctx, f.ChatID, fileID); err == nil && msg != 0 {
		if s.tr.EditCaption(ctx, chat, msg, caption) == nil {
			return Repaired, commit(chat, msg)
		}
	}

	source := sourcePath
	if source == "" {
		dirPath, err := s.dirPath(f.DirID)
		if err != nil {
			return Repaired, err
		}
		source = s.cache.Find(dirPath, f.Name, f.Size)
	}
	if source == "" {
		return NeedsSourceFile, nil
	}
	if info, err := os.Stat(source); err != nil || !info.Mode().IsRegular() {
		return Repaired, validationf("source is not a regular file: %s", source)
	}

	published, err := s.tr.PublishFile(ctx, s.chat, source, caption)
	if err != nil {
		return Repaired, fmt.Errorf("republishing file: %w", err)
	}
	return Repaired, commit(published.ChatID, published.MessageID)
}

// Download fetches a file's content into the cache and returns the local
// path. An existing cached copy is reused unless overwrite is set. On a
// failed download the backing message is re-resolved by search once and
// the download retried; the confirmed local size corrects the index.
func (s *Service) Download(ctx context.Context, fileID string, overwrite bool) (string, error) {
	f, err := s.fetchFile(fileID)
	if err != nil {
		return "", err
	}
	dirPath, err := s.dirPath(f.DirID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.cache.Dir(dirPath), 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}

	existing := s.cache.Find(dirPath, f.Name, f.Size)
	if existing != "" && !overwrite {
		return existing, nil
	}
	var target string
	if overwrite {
		target = existing
		if target == "" {
			target = s.cache.PreferredPath(dirPath, f.Name)
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("clearing cache target: %w", err)
		}
	} else {
		target = s.cache.TargetPath(dirPath, f.Name, f.Size)
	}

	if path, err := s.tr.Download(ctx, f.ChatID, f.MessageID, target); err == nil {
		s.confirmLocalSize(fileID, path)
		return path, nil
	}

	if chat, msg, err := s.findFileMessage(ctx, f.ChatID, fileID); err == nil && msg != 0 {
		if chat != f.ChatID || msg != f.MessageID {
			f.ChatID = chat
			f.MessageID = msg
			f.IsBroken = false
			if err := s.db.UpdateFile(f); err != nil {
				return "", fmt.Errorf("storing re-resolved location: %w", err)
			}
		}
	}

	path, err := s.tr.Download(ctx, f.ChatID, f.MessageID, target)
	if err != nil {
		return "", fmt.Errorf("downloading file: %w", err)
	}
	s.confirmLocalSize(fileID, path)
	return path, nil
}

// ListFiles returns the files of a directory annotated with local cache
// state.
func (s *Service) ListFiles(dirID string) ([]*FileItem, error) {
	files, err := s.db.ListFilesInDirectory(dirID)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	dirPath, err := s.dirPath(dirID)
	if err != nil {
		return nil, err
	}
	out := make([]*FileItem, 0, len(files))
	for _, f := range files {
		out = append(out, s.annotate(f, dirPath))
	}
	return out, nil
}

// SearchFiles returns files matching the filter, annotated with local
// cache state.
func (s *Service) SearchFiles(filter FileFilter) ([]*FileItem, error) {
	files, err := s.db.SearchFiles(filter)
	if err != nil {
		return nil, fmt.Errorf("searching files: %w", err)
	}
	dirPaths := make(map[string]string)
	out := make([]*FileItem, 0, len(files))
	for _, f := range files {
		dirPath, ok := dirPaths[f.DirID]
		if !ok {
			dirPath, err = s.dirPath(f.DirID)
			if err != nil {
				return nil, err
			}
			dirPaths[f.DirID] = dirPath
		}
		out = append(out, s.annotate(f, dirPath))
	}
	return out, nil
}

func (s *Service) annotate(f *File, dirPath string) *FileItem {
	item := &FileItem{File: *f}
	if path := s.cache.Find(dirPath, f.Name, f.Size); path != "" {
		if info, err := os.Stat(path); err == nil {
			item.IsDownloaded = true
			item.LocalSize = info.Size()
		}
	}
	return item
}

// findFileMessage searches for the message carrying this file's id tag,
// first in the chat the index points at, then in the storage chat when
// that differs. Returns (0, 0) without error when nothing matches.
func (s *Service) findFileMessage(ctx context.Context, ownerChat ChatID, fileID string) (ChatID, MessageID, error) {
	if msg := s.searchFileTag(ctx, ownerChat, fileID); msg != 0 {
		return ownerChat, msg, nil
	}
	if ownerChat != s.chat {
		if msg := s.searchFileTag(ctx, s.chat, fileID); msg != 0 {
			return s.chat, msg, nil
		}
	}
	return 0, 0, nil
}

func (s *Service) searchFileTag(ctx context.Context, chat ChatID, fileID string) MessageID {
	query := "f=" + fileID
	var from MessageID

	for page := 0; page < s.params.SearchPageCap; page++ {
		batch, err := s.tr.Search(ctx, chat, query, from, s.params.SearchPageSize)
		if err != nil {
			return 0
		}
		for i := range batch.Messages {
			msg := &batch.Messages[i]
			if msg.Caption == "" {
				continue
			}
			meta, err := fsmeta.DecodeFile(msg.Caption)
			if err == nil && meta.FileID == fileID {
				return msg.ID
			}
		}
		if batch.NextFrom == 0 {
			return 0
		}
		from = batch.NextFrom
	}
	return 0
}

func (s *Service) removeCachedCopy(f *File) {
	dirPath, err := s.dirPath(f.DirID)
	if err != nil {
		s.logger.Warn("cache path resolution failed", "file_id", f.ID, "error", err)
		return
	}
	s.cache.Remove(dirPath, f.Name)
}

func (s *Service) confirmLocalSize(fileID, path string) {
	info, err := os.Stat(path)
	if err != nil || info.Size() <= 0 {
		return
	}
	if err := s.db.UpdateFileSize(fileID, info.Size()); err != nil {
		s.logger.Warn("size correction failed", "file_id", fileID, "error", err)
	}
}

// fallbackStep is one attempt of an ordered recovery chain.
type fallbackStep struct {
	name string
	run  func() error
}

// fatalError aborts a fallback chain immediately. Store failures use it:
// the local index is assumed reliable, so its errors are never retried
// through later transport steps.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// runFallbackChain evaluates steps in order, stopping at the first
// success. Transport failures accumulate, and only the exhausted chain
// surfaces them, each step's reason included; a fatalError aborts the
// chain at once.
func (s *Service) runFallbackChain(op, entityID string, steps []fallbackStep) error {
	var reasons []string
	for _, step := range steps {
		err := step.run()
		if err == nil {
			return nil
		}
		var fe *fatalError
		if errors.As(err, &fe) {
			return fe.err
		}
		s.logger.Warn(op+" step failed", "step", step.name, "entity_id", entityID, "error", err)
		reasons = append(reasons, fmt.Sprintf("%s: %v", step.name, err))
	}
	return fmt.Errorf("%s %s: all fallbacks exhausted: %s", op, entityID, strings.Join(reasons, "; "))
}

func baseName(p string) string {
	p = strings.TrimRight(p, "/\\")
	if i := strings.LastIndexAny(p, "/\\"); i >= 0 {
		p = p[i+1:]
	}
	if p == "" {
		return "file"
	}
	return p
}
