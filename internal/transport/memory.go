// Package transport implements the drive.Transport interface.
package transport

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"tgdrive/internal/drive"
)

// memMessage is one stored message. Content holds the attachment bytes
// when the message carries one.
type memMessage struct {
	id       drive.MessageID
	date     int64
	text     string
	caption  string
	fileName string
	content  []byte
}

func (m *memMessage) hasAttachment() bool {
	return m.fileName != "" || len(m.content) > 0
}

// memChat is one chat: its messages plus a monotonically growing id
// counter, matching how real platforms number messages per chat.
type memChat struct {
	messages map[drive.MessageID]*memMessage
	nextID   drive.MessageID
}

// MemoryTransport is an in-memory implementation of the Transport
// interface for tests and local development. It is safe for concurrent
// use, except for the failure-injection fields, which must be set
// before the transport is shared.
type MemoryTransport struct {
	chats map[drive.ChatID]*memChat
	mu    sync.Mutex

	// Failure injection for tests. A positive count makes that many
	// subsequent calls fail before the call succeeds again.
	EditCaptionFailures int
	ResendFailures      int
	EditTextFailures    int
	PublishFailures     int
	// DuplicateReturnsNoID makes Duplicate report success with no new
	// message id, as protected channels do.
	DuplicateReturnsNoID bool
	// DroppedMessages makes Exists and lookups treat these ids as gone
	// without actually deleting them.
	DroppedMessages map[drive.MessageID]bool
}

// NewMemoryTransport creates a new in-memory transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		chats:           make(map[drive.ChatID]*memChat),
		DroppedMessages: make(map[drive.MessageID]bool),
	}
}

func (t *MemoryTransport) chatFor(chat drive.ChatID) *memChat {
	c, ok := t.chats[chat]
	if !ok {
		c = &memChat{messages: make(map[drive.MessageID]*memMessage), nextID: 1}
		t.chats[chat] = c
	}
	return c
}

func (t *MemoryTransport) lookup(chat drive.ChatID, msg drive.MessageID) (*memMessage, bool) {
	if t.DroppedMessages[msg] {
		return nil, false
	}
	c, ok := t.chats[chat]
	if !ok {
		return nil, false
	}
	m, ok := c.messages[msg]
	return m, ok
}

func (t *MemoryTransport) append(chat drive.ChatID, m *memMessage) drive.MessageID {
	c := t.chatFor(chat)
	m.id = c.nextID
	if m.date == 0 {
		m.date = time.Now().Unix()
	}
	c.messages[m.id] = m
	c.nextID++
	return m.id
}

func countdown(remaining *int, what string) error {
	if *remaining > 0 {
		*remaining--
		return fmt.Errorf("injected %s failure", what)
	}
	return nil
}

// PublishText posts a text message and returns its location.
func (t *MemoryTransport) PublishText(ctx context.Context, chat drive.ChatID, text string) (drive.Published, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := countdown(&t.PublishFailures, "publish"); err != nil {
		return drive.Published{}, err
	}
	id := t.append(chat, &memMessage{text: text})
	return drive.Published{ChatID: chat, MessageID: id}, nil
}

// PublishFile uploads the file at path with the given caption.
func (t *MemoryTransport) PublishFile(ctx context.Context, chat drive.ChatID, path, caption string) (drive.Published, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return drive.Published{}, fmt.Errorf("reading source file: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := countdown(&t.PublishFailures, "publish"); err != nil {
		return drive.Published{}, err
	}
	id := t.append(chat, &memMessage{
		caption:  caption,
		fileName: filepath.Base(path),
		content:  data,
	})
	return drive.Published{ChatID: chat, MessageID: id}, nil
}

// EditText replaces the body of an existing text message.
func (t *MemoryTransport) EditText(ctx context.Context, chat drive.ChatID, msg drive.MessageID, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := countdown(&t.EditTextFailures, "edit text"); err != nil {
		return err
	}
	m, ok := t.lookup(chat, msg)
	if !ok {
		return fmt.Errorf("message %d not found in chat %d", msg, chat)
	}
	if m.hasAttachment() {
		return fmt.Errorf("message %d is not a text message", msg)
	}
	m.text = text
	return nil
}

// EditCaption replaces the caption of an existing attachment message.
func (t *MemoryTransport) EditCaption(ctx context.Context, chat drive.ChatID, msg drive.MessageID, caption string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := countdown(&t.EditCaptionFailures, "edit caption"); err != nil {
		return err
	}
	m, ok := t.lookup(chat, msg)
	if !ok {
		return fmt.Errorf("message %d not found in chat %d", msg, chat)
	}
	if !m.hasAttachment() {
		return fmt.Errorf("message %d has no attachment", msg)
	}
	m.caption = caption
	return nil
}

// ResendAsNew re-posts the attachment of an existing message as a
// fresh message with a new caption.
func (t *MemoryTransport) ResendAsNew(ctx context.Context, chat drive.ChatID, msg drive.MessageID, caption string) (drive.Published, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := countdown(&t.ResendFailures, "resend"); err != nil {
		return drive.Published{}, err
	}
	m, ok := t.lookup(chat, msg)
	if !ok {
		return drive.Published{}, fmt.Errorf("message %d not found in chat %d", msg, chat)
	}
	if !m.hasAttachment() {
		return drive.Published{}, fmt.Errorf("message %d has no attachment", msg)
	}
	id := t.append(chat, &memMessage{
		caption:  caption,
		fileName: m.fileName,
		content:  m.content,
	})
	return drive.Published{ChatID: chat, MessageID: id}, nil
}

// Duplicate copies a message within a chat. Returns id 0 without error
// when DuplicateReturnsNoID is set.
func (t *MemoryTransport) Duplicate(ctx context.Context, chat drive.ChatID, msg drive.MessageID) (drive.MessageID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.DuplicateReturnsNoID {
		return 0, nil
	}
	m, ok := t.lookup(chat, msg)
	if !ok {
		return 0, fmt.Errorf("message %d not found in chat %d", msg, chat)
	}
	copied := *m
	return t.append(chat, &copied), nil
}

// Delete removes messages. Missing ids are ignored.
func (t *MemoryTransport) Delete(ctx context.Context, chat drive.ChatID, msgs []drive.MessageID, revoke bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.chats[chat]
	if !ok {
		return nil
	}
	for _, msg := range msgs {
		delete(c.messages, msg)
	}
	return nil
}

// Forward re-posts a message into another chat.
func (t *MemoryTransport) Forward(ctx context.Context, from, to drive.ChatID, msg drive.MessageID) (drive.MessageID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.lookup(from, msg)
	if !ok {
		return 0, fmt.Errorf("message %d not found in chat %d", msg, from)
	}
	copied := *m
	return t.append(to, &copied), nil
}

// Search pages through messages matching the query, newest first.
// Matching is a case-insensitive substring check on text and caption.
func (t *MemoryTransport) Search(ctx context.Context, chat drive.ChatID, query string, from drive.MessageID, limit int) (drive.MessagePage, error) {
	needle := strings.ToLower(query)
	match := func(m *memMessage) bool {
		return strings.Contains(strings.ToLower(m.text), needle) ||
			strings.Contains(strings.ToLower(m.caption), needle)
	}
	return t.page(chat, from, limit, match)
}

// FetchHistory pages through the chat history, newest first.
func (t *MemoryTransport) FetchHistory(ctx context.Context, chat drive.ChatID, from drive.MessageID, limit int) (drive.MessagePage, error) {
	return t.page(chat, from, limit, func(*memMessage) bool { return true })
}

// page returns up to limit matching messages older than from (all when
// from is 0), newest first. NextFrom is the oldest returned id, or 0
// when nothing older matches.
func (t *MemoryTransport) page(chat drive.ChatID, from drive.MessageID, limit int, match func(*memMessage) bool) (drive.MessagePage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if limit < 1 {
		limit = 1
	}

	c, ok := t.chats[chat]
	if !ok {
		return drive.MessagePage{}, nil
	}

	var candidates []*memMessage
	for id, m := range c.messages {
		if t.DroppedMessages[id] {
			continue
		}
		if from != 0 && id >= from {
			continue
		}
		if match(m) {
			candidates = append(candidates, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id > candidates[j].id })

	var page drive.MessagePage
	for i, m := range candidates {
		if i >= limit {
			page.NextFrom = page.Messages[len(page.Messages)-1].ID
			break
		}
		page.Messages = append(page.Messages, drive.Message{
			ID:       m.id,
			Date:     m.date,
			Text:     m.text,
			Caption:  m.caption,
			FileName: m.fileName,
			FileSize: int64(len(m.content)),
		})
	}
	return page, nil
}

// Exists reports whether a message is still present.
func (t *MemoryTransport) Exists(ctx context.Context, chat drive.ChatID, msg drive.MessageID) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.lookup(chat, msg)
	return ok, nil
}

// Download fetches the attachment of a message into target and returns
// the final local path.
func (t *MemoryTransport) Download(ctx context.Context, chat drive.ChatID, msg drive.MessageID, target string) (string, error) {
	t.mu.Lock()
	m, ok := t.lookup(chat, msg)
	var content []byte
	if ok {
		content = append([]byte(nil), m.content...)
	}
	t.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("message %d not found in chat %d", msg, chat)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("creating download directory: %w", err)
	}
	if err := os.WriteFile(target, content, 0644); err != nil {
		return "", fmt.Errorf("writing download: %w", err)
	}
	return target, nil
}

// MessageCount returns the number of live messages in a chat. Test helper.
func (t *MemoryTransport) MessageCount(chat drive.ChatID) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.chats[chat]
	if !ok {
		return 0
	}
	return len(c.messages)
}

// Compile-time check that MemoryTransport implements the interface.
var _ drive.Transport = (*MemoryTransport)(nil)
