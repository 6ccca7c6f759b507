package drive

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	Scanned      int64
	DirsSeen     int64
	FilesSeen    int64
	Imported     int64
	Failed       int64
	MarkedDirs   int64
	MarkedFiles  int64
	ClearedDirs  int64
	ClearedFiles int64
	MinMessageID MessageID
	MaxMessageID MessageID
}

// RebuildStats summarizes a full index rebuild.
type RebuildStats struct {
	Processed int64
	Dirs      int64
	Files     int64
	Imported  int64
	Failed    int64
}

// ReconcileWindow scans up to limit most recent messages, classifies
// each through the indexer, and reconciles drift: every local entry
// whose backing message id falls inside the scanned window gets
// is_broken set when its message was not seen, or cleared when it was.
// Entries are only annotated, never deleted. A single message's indexing
// failure is counted and contained, never aborting the scan. The
// watermark advances to the window maximum, monotonically.
func (s *Service) ReconcileWindow(ctx context.Context, limit int64) (*ReconcileStats, error) {
	if limit < 1 {
		limit = 1
	}
	messages, err := s.fetchRecent(ctx, limit)
	if err != nil {
		return nil, err
	}
	stats := &ReconcileStats{}
	if len(messages) == 0 {
		return stats, nil
	}

	seenDirs := make(map[MessageID]bool)
	seenFiles := make(map[MessageID]bool)
	memo := &importMemo{}

	for i := range messages {
		msg := &messages[i]
		stats.Scanned++
		out, err := s.classifyAndApply(ctx, msg, memo)
		if err != nil {
			s.logger.Warn("message indexing failed", "message_id", msg.ID, "error", err)
			stats.Failed++
			continue
		}
		if out.IsDir {
			seenDirs[msg.ID] = true
			stats.DirsSeen++
		}
		if out.IsFile {
			seenFiles[msg.ID] = true
			stats.FilesSeen++
		}
		if out.Imported {
			stats.Imported++
		}
	}

	minID, maxID := messages[0].ID, messages[0].ID
	for i := range messages {
		if messages[i].ID < minID {
			minID = messages[i].ID
		}
		if messages[i].ID > maxID {
			maxID = messages[i].ID
		}
	}
	stats.MinMessageID, stats.MaxMessageID = minID, maxID

	if minID > 0 {
		stats.MarkedDirs, stats.ClearedDirs, err = s.reconcileDirs(minID, seenDirs)
		if err != nil {
			return nil, err
		}
		stats.MarkedFiles, stats.ClearedFiles, err = s.reconcileFiles(minID, seenFiles)
		if err != nil {
			return nil, err
		}
	}

	if maxID > 0 {
		if err := s.advanceWatermark(maxID); err != nil {
			return nil, err
		}
	}
	if err := s.db.SetSyncState(SyncKeyReconcileDone, s.clock.Now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("storing reconcile timestamp failed", "error", err)
	}

	return stats, nil
}

// RebuildIndex walks the full chat history and indexes every message
// into the (presumed fresh) local index. Per-message failures are
// counted and contained.
func (s *Service) RebuildIndex(ctx context.Context) (*RebuildStats, error) {
	stats := &RebuildStats{}
	memo := &importMemo{}
	var from MessageID
	var newest MessageID

	for {
		batch, err := s.tr.FetchHistory(ctx, s.chat, from, s.params.SearchPageSize)
		if err != nil {
			return nil, fmt.Errorf("fetching chat history: %w", err)
		}
		if len(batch.Messages) == 0 {
			break
		}
		for i := range batch.Messages {
			msg := &batch.Messages[i]
			stats.Processed++
			if newest == 0 {
				newest = msg.ID
			}
			out, err := s.classifyAndApply(ctx, msg, memo)
			if err != nil {
				s.logger.Warn("message indexing failed", "message_id", msg.ID, "error", err)
				stats.Failed++
				continue
			}
			if out.IsDir {
				stats.Dirs++
			}
			if out.IsFile {
				stats.Files++
			}
			if out.Imported {
				stats.Imported++
			}
		}
		if batch.NextFrom == 0 || batch.NextFrom == from {
			break
		}
		from = batch.NextFrom
	}

	if newest > 0 {
		if err := s.advanceWatermark(newest); err != nil {
			return nil, err
		}
	}
	if err := s.db.SetSyncState(SyncKeySyncDone, s.clock.Now().UTC().Format(time.RFC3339)); err != nil {
		s.logger.Warn("storing sync timestamp failed", "error", err)
	}
	return stats, nil
}

// advanceWatermark moves the sync watermark forward, never backward.
func (s *Service) advanceWatermark(candidate MessageID) error {
	raw, err := s.db.GetSyncState(SyncKeyWatermark)
	if err != nil {
		return fmt.Errorf("reading watermark: %w", err)
	}
	current, _ := strconv.ParseInt(raw, 10, 64)
	if candidate <= current {
		return nil
	}
	if err := s.db.SetSyncState(SyncKeyWatermark, strconv.FormatInt(candidate, 10)); err != nil {
		return fmt.Errorf("advancing watermark: %w", err)
	}
	return nil
}

// Watermark returns the highest message id already fully processed.
func (s *Service) Watermark() (MessageID, error) {
	raw, err := s.db.GetSyncState(SyncKeyWatermark)
	if err != nil {
		return 0, fmt.Errorf("reading watermark: %w", err)
	}
	v, _ := strconv.ParseInt(raw, 10, 64)
	return v, nil
}

func (s *Service) reconcileDirs(minID MessageID, seen map[MessageID]bool) (marked, cleared int64, err error) {
	dirs, err := s.db.DirectoriesWithMessageAtLeast(minID)
	if err != nil {
		return 0, 0, fmt.Errorf("loading directories for reconciliation: %w", err)
	}
	for _, d := range dirs {
		shouldBreak := !seen[d.MessageID]
		switch {
		case shouldBreak && !d.IsBroken:
			if err := s.db.SetDirectoryBroken(d.ID, true); err != nil {
				return marked, cleared, fmt.Errorf("flagging directory: %w", err)
			}
			marked++
		case !shouldBreak && d.IsBroken:
			if err := s.db.SetDirectoryBroken(d.ID, false); err != nil {
				return marked, cleared, fmt.Errorf("clearing directory flag: %w", err)
			}
			cleared++
		}
	}
	return marked, cleared, nil
}

func (s *Service) reconcileFiles(minID MessageID, seen map[MessageID]bool) (marked, cleared int64, err error) {
	files, err := s.db.FilesInChatWithMessageAtLeast(s.chat, minID)
	if err != nil {
		return 0, 0, fmt.Errorf("loading files for reconciliation: %w", err)
	}
	for _, f := range files {
		shouldBreak := !seen[f.MessageID]
		switch {
		case shouldBreak && !f.IsBroken:
			if err := s.db.SetFileBroken(f.ID, true); err != nil {
				return marked, cleared, fmt.Errorf("flagging file: %w", err)
			}
			marked++
		case !shouldBreak && f.IsBroken:
			if err := s.db.SetFileBroken(f.ID, false); err != nil {
				return marked, cleared, fmt.Errorf("clearing file flag: %w", err)
			}
			cleared++
		}
	}
	return marked, cleared, nil
}

// fetchRecent pages the chat history newest-first until limit messages
// are collected or the history ends.
func (s *Service) fetchRecent(ctx context.Context, limit int64) ([]Message, error) {
	var out []Message
	var from MessageID
	remaining := limit

	for remaining > 0 {
		pageSize := s.params.SearchPageSize
		if int64(pageSize) > remaining {
			pageSize = int(remaining)
		}
		batch, err := s.tr.FetchHistory(ctx, s.chat, from, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetching chat history: %w", err)
		}
		if len(batch.Messages) == 0 {
			break
		}
		for i := range batch.Messages {
			out = append(out, batch.Messages[i])
			remaining--
			if remaining <= 0 {
				break
			}
		}
		if remaining <= 0 || batch.NextFrom == 0 || batch.NextFrom == from {
			break
		}
		from = batch.NextFrom
	}
	return out, nil
}
