package drive

import "context"

// ChatID identifies a chat on the messaging platform.
type ChatID = int64

// MessageID identifies a message within a chat. IDs grow over time, so
// comparing them orders messages.
type MessageID = int64

// Published describes a message the transport just created.
type Published struct {
	ChatID    ChatID
	MessageID MessageID
}

// Message is one message as seen when reading a chat. Text and Caption
// are empty when absent; FileName/FileSize are set when the message
// carries an attachment.
type Message struct {
	ID       MessageID
	Date     int64 // unix seconds
	Text     string
	Caption  string
	FileName string
	FileSize int64
}

// HasAttachment reports whether the message carries attachment metadata.
func (m *Message) HasAttachment() bool {
	return m.FileSize > 0 || m.FileName != ""
}

// MessagePage is one batch of a paginated chat read. NextFrom is the
// cursor for the following page; 0 means the history is exhausted.
type MessagePage struct {
	Messages []Message
	NextFrom MessageID
}

// Transport is the capability the core needs from the messaging
// platform. There is a single production implementation (the native
// driver, an external collaborator) and an in-memory one for tests and
// local development; the core never inspects the concrete type.
//
// Calls are expected to apply their own per-call timeouts. Cancellation
// is by context; side effects of calls already in flight are never
// rolled back.
type Transport interface {
	// PublishText posts a text message and returns its location.
	PublishText(ctx context.Context, chat ChatID, text string) (Published, error)

	// PublishFile uploads the file at path with the given caption.
	PublishFile(ctx context.Context, chat ChatID, path, caption string) (Published, error)

	// EditText replaces the body of an existing text message.
	EditText(ctx context.Context, chat ChatID, msg MessageID, text string) error

	// EditCaption replaces the caption of an existing attachment message.
	EditCaption(ctx context.Context, chat ChatID, msg MessageID, caption string) error

	// ResendAsNew re-posts the attachment of an existing message as a
	// fresh message with a new caption.
	ResendAsNew(ctx context.Context, chat ChatID, msg MessageID, caption string) (Published, error)

	// Duplicate copies a message within a chat. The returned id is 0
	// when the platform accepted the call but reported no new message,
	// which happens on protected channels.
	Duplicate(ctx context.Context, chat ChatID, msg MessageID) (MessageID, error)

	// Delete removes messages. With revoke the removal applies to all
	// members, not just the local view.
	Delete(ctx context.Context, chat ChatID, msgs []MessageID, revoke bool) error

	// Forward re-posts a message into another chat.
	Forward(ctx context.Context, from, to ChatID, msg MessageID) (MessageID, error)

	// Search pages through messages matching the query, newest first.
	// from is the cursor from a previous page, 0 for the newest.
	Search(ctx context.Context, chat ChatID, query string, from MessageID, limit int) (MessagePage, error)

	// FetchHistory pages through the chat history, newest first.
	FetchHistory(ctx context.Context, chat ChatID, from MessageID, limit int) (MessagePage, error)

	// Exists reports whether a message is still present.
	Exists(ctx context.Context, chat ChatID, msg MessageID) (bool, error)

	// Download fetches the attachment of a message into target and
	// returns the final local path.
	Download(ctx context.Context, chat ChatID, msg MessageID, target string) (string, error)
}
