// Package notifytest provides an in-memory notify.Messenger for tests. It
// models the handful of platform behaviors the relay depends on: messages
// belong to one channel, fetching from the wrong channel finds nothing, and
// threads are attached to a message and searchable by name.
package notifytest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tbourn/go-order-relay/internal/domain"
	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/render"
)

// Message is a stored fake message.
type Message struct {
	ID        string
	ChannelID string
	Content   render.Notification
	CreatedAt time.Time
	EditedAt  time.Time
	Edits     int
}

// Thread is a stored fake thread.
type Thread struct {
	ID        string
	ChannelID string
	MessageID string
	Title     string
	Posts     []string
}

// Messenger is a concurrency-safe fake platform.
type Messenger struct {
	// Now stamps created/edited times; nil means time.Now.
	Now func() time.Time

	// Injected failures, returned by the matching method when set.
	ConnectErr error
	SendErr    error
	EditErr    error
	FetchErr   error
	ThreadErr  error

	mu           sync.Mutex
	seq          int
	connects     int
	messages     map[string]*Message
	threads      map[string]*Thread
	channelPosts map[string][]string
}

// New returns an empty fake.
func New() *Messenger {
	return &Messenger{
		messages:     map[string]*Message{},
		threads:      map[string]*Thread{},
		channelPosts: map[string][]string{},
	}
}

var _ notify.Messenger = (*Messenger)(nil)

func (m *Messenger) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Messenger) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

// Connect implements notify.Messenger.
func (m *Messenger) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connects++
	return m.ConnectErr
}

// SendMessage implements notify.Messenger.
func (m *Messenger) SendMessage(_ context.Context, channelID string, n render.Notification) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SendErr != nil {
		return "", m.SendErr
	}
	id := m.nextID("msg")
	m.messages[id] = &Message{ID: id, ChannelID: channelID, Content: n, CreatedAt: m.now()}
	return id, nil
}

// EditMessage implements notify.Messenger.
func (m *Messenger) EditMessage(_ context.Context, channelID, messageID string, n render.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.EditErr != nil {
		return m.EditErr
	}
	msg, ok := m.messages[messageID]
	if !ok || msg.ChannelID != channelID {
		return notify.ErrMessageNotFound
	}
	msg.Content = n
	msg.EditedAt = m.now()
	msg.Edits++
	return nil
}

// FetchMessage implements notify.Messenger.
func (m *Messenger) FetchMessage(_ context.Context, channelID, messageID string) (notify.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return notify.Message{}, m.FetchErr
	}
	msg, ok := m.messages[messageID]
	if !ok || msg.ChannelID != channelID {
		return notify.Message{}, notify.ErrMessageNotFound
	}
	return notify.Message{ID: msg.ID, ChannelID: msg.ChannelID, CreatedAt: msg.CreatedAt, EditedAt: msg.EditedAt}, nil
}

// DeleteMessage implements notify.Messenger.
func (m *Messenger) DeleteMessage(_ context.Context, channelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.ChannelID != channelID {
		return notify.ErrMessageNotFound
	}
	delete(m.messages, messageID)
	return nil
}

// CreateThread implements notify.Messenger.
func (m *Messenger) CreateThread(_ context.Context, channelID, messageID, title string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ThreadErr != nil {
		return "", m.ThreadErr
	}
	if msg, ok := m.messages[messageID]; !ok || msg.ChannelID != channelID {
		return "", notify.ErrMessageNotFound
	}
	id := m.nextID("thr")
	m.threads[id] = &Thread{ID: id, ChannelID: channelID, MessageID: messageID, Title: title}
	return id, nil
}

// PostToThread implements notify.Messenger.
func (m *Messenger) PostToThread(_ context.Context, threadID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[threadID]
	if !ok {
		return notify.ErrMessageNotFound
	}
	th.Posts = append(th.Posts, content)
	return nil
}

// PostToChannel implements notify.Messenger.
func (m *Messenger) PostToChannel(_ context.Context, channelID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelPosts[channelID] = append(m.channelPosts[channelID], content)
	return nil
}

// FindThread implements notify.Messenger.
func (m *Messenger) FindThread(_ context.Context, channelID, titleSubstring string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, th := range m.threads {
		if th.ChannelID == channelID && strings.Contains(th.Title, titleSubstring) {
			return th.ID, nil
		}
	}
	return "", nil
}

// --- inspection helpers ---

// Connects returns how many times Connect was called.
func (m *Messenger) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// Message returns a copy of a stored message.
func (m *Messenger) Message(id string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return Message{}, false
	}
	return *msg, true
}

// MessagesIn returns the ids of messages stored in channelID.
func (m *Messenger) MessagesIn(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, msg := range m.messages {
		if msg.ChannelID == channelID {
			out = append(out, id)
		}
	}
	return out
}

// Thread returns a copy of a stored thread.
func (m *Messenger) Thread(id string) (Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	th, ok := m.threads[id]
	if !ok {
		return Thread{}, false
	}
	cp := *th
	cp.Posts = append([]string(nil), th.Posts...)
	return cp, true
}

// ChannelPosts returns plain posts made to channelID.
func (m *Messenger) ChannelPosts(channelID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.channelPosts[channelID]...)
}

// Remove deletes a message out of band, as a moderator would.
func (m *Messenger) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, id)
}

// Put stores a message directly, e.g. one left in an old channel.
func (m *Messenger) Put(channelID string, n render.Notification, createdAt time.Time) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID("msg")
	m.messages[id] = &Message{ID: id, ChannelID: channelID, Content: n, CreatedAt: createdAt}
	return id
}

// Store is an in-memory notify.Store.
type Store struct {
	mu   sync.Mutex
	refs map[uint]domain.NotificationRef
}

// NewStore returns an empty Store.
func NewStore() *Store { return &Store{refs: map[uint]domain.NotificationRef{}} }

var _ notify.Store = (*Store)(nil)

// SaveNotification implements notify.Store.
func (s *Store) SaveNotification(_ context.Context, id uint, ref domain.NotificationRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs[id] = ref
	return nil
}

// SaveThread implements notify.Store.
func (s *Store) SaveThread(_ context.Context, id uint, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.refs[id]
	r.ThreadID = threadID
	s.refs[id] = r
	return nil
}

// Get returns the stored reference for id.
func (s *Store) Get(id uint) domain.NotificationRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs[id]
}
