package notify

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/go-order-relay/internal/render"
)

// ErrMessageNotFound is returned by a Messenger when a message (or the
// channel holding it) no longer exists on the platform.
var ErrMessageNotFound = errors.New("message not found")

// Message is what the dispatcher needs to know about an existing message.
type Message struct {
	ID        string
	ChannelID string
	CreatedAt time.Time
	// EditedAt is zero when the message was never edited.
	EditedAt time.Time
}

// LastChange is the most recent of creation and edit time.
func (m Message) LastChange() time.Time {
	if m.EditedAt.After(m.CreatedAt) {
		return m.EditedAt
	}
	return m.CreatedAt
}

// Messenger is the outward messaging channel the dispatcher drives. The
// Discord adapter is the production implementation; tests use a fake.
//
// Implementations must report deleted messages as ErrMessageNotFound
// (wrapped is fine) so the dispatcher can tell them apart from transient
// failures.
type Messenger interface {
	// Connect opens the session and blocks until the platform reports it
	// ready or ctx is done.
	Connect(ctx context.Context) error
	SendMessage(ctx context.Context, channelID string, n render.Notification) (string, error)
	EditMessage(ctx context.Context, channelID, messageID string, n render.Notification) error
	FetchMessage(ctx context.Context, channelID, messageID string) (Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	// CreateThread starts a thread attached to messageID.
	CreateThread(ctx context.Context, channelID, messageID, title string) (string, error)
	PostToThread(ctx context.Context, threadID, content string) error
	PostToChannel(ctx context.Context, channelID, content string) error
	// FindThread returns the id of an active thread in channelID whose name
	// contains titleSubstring, or "" when there is none.
	FindThread(ctx context.Context, channelID, titleSubstring string) (string, error)
}
