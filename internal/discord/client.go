// Package discord is the production messaging channel: it implements
// notify.Messenger over a discordgo session and routes button presses to
// the interaction handler.
package discord

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-order-relay/internal/interaction"
	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/render"
)

// InteractionHandler consumes decoded button presses.
type InteractionHandler interface {
	Handle(ctx context.Context, in interaction.Interaction, r interaction.Responder) interaction.Outcome
}

// DefaultInteractionTimeout bounds the processing of one button press.
const DefaultInteractionTimeout = 30 * time.Second

// Client is a notify.Messenger backed by a Discord bot session.
type Client struct {
	Token string
	// Interactions receives button presses; nil disables inbound routing
	// (e.g. for the notify-test command).
	Interactions       InteractionHandler
	InteractionTimeout time.Duration
	Log                *zerolog.Logger

	mu      sync.Mutex
	session *discordgo.Session
	guilds  sync.Map // channel id -> guild id
}

var _ notify.Messenger = (*Client)(nil)

func (c *Client) logger() *zerolog.Logger {
	if c.Log != nil {
		return c.Log
	}
	return &log.Logger
}

func (c *Client) current() (*discordgo.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, errors.New("discord session not connected")
	}
	return c.session, nil
}

// Connect implements notify.Messenger. It opens the gateway and waits for
// the Ready event.
func (c *Client) Connect(ctx context.Context) error {
	if strings.TrimSpace(c.Token) == "" {
		return errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + c.Token)
	if err != nil {
		return errors.Wrap(err, "discord session")
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages

	ready := make(chan struct{})
	var once sync.Once
	s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		c.logger().Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("discord session ready")
		once.Do(func() { close(ready) })
	})
	if c.Interactions != nil {
		s.AddHandler(c.onInteraction)
	}

	if err := s.Open(); err != nil {
		return errors.Wrap(err, "discord open")
	}
	select {
	case <-ready:
	case <-ctx.Done():
		_ = s.Close()
		return errors.Wrap(ctx.Err(), "waiting for discord ready")
	}

	c.mu.Lock()
	old := c.session
	c.session = s
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Close ends the gateway session.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// SendMessage implements notify.Messenger.
func (c *Client) SendMessage(ctx context.Context, channelID string, n render.Notification) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	m, err := s.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     []*discordgo.MessageEmbed{toEmbed(n)},
		Components: toComponents(n.Buttons),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", errors.Wrapf(classify(err), "send message to %s", channelID)
	}
	return m.ID, nil
}

// EditMessage implements notify.Messenger.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, n render.Notification) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	embeds := []*discordgo.MessageEmbed{toEmbed(n)}
	components := toComponents(n.Buttons)
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.Embeds = &embeds
	edit.Components = &components
	if _, err := s.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(classify(err), "edit message %s", messageID)
	}
	return nil
}

// FetchMessage implements notify.Messenger.
func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (notify.Message, error) {
	s, err := c.current()
	if err != nil {
		return notify.Message{}, err
	}
	m, err := s.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return notify.Message{}, errors.Wrapf(classify(err), "fetch message %s", messageID)
	}
	return toMessage(m), nil
}

// DeleteMessage implements notify.Messenger.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if err := s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(classify(err), "delete message %s", messageID)
	}
	return nil
}

// CreateThread implements notify.Messenger.
func (c *Client) CreateThread(ctx context.Context, channelID, messageID, title string) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	th, err := s.MessageThreadStart(channelID, messageID, threadName(title), threadArchiveM, discordgo.WithContext(ctx))
	if err != nil {
		return "", errors.Wrapf(classify(err), "start thread on %s", messageID)
	}
	return th.ID, nil
}

// PostToThread implements notify.Messenger.
func (c *Client) PostToThread(ctx context.Context, threadID, content string) error {
	return c.post(ctx, threadID, content)
}

// PostToChannel implements notify.Messenger.
func (c *Client) PostToChannel(ctx context.Context, channelID, content string) error {
	return c.post(ctx, channelID, content)
}

func (c *Client) post(ctx context.Context, channelID, content string) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if _, err := s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(classify(err), "post to %s", channelID)
	}
	return nil
}

// FindThread implements notify.Messenger. Only active threads are searched.
func (c *Client) FindThread(ctx context.Context, channelID, titleSubstring string) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	guildID, err := c.guildOf(ctx, s, channelID)
	if err != nil {
		return "", err
	}
	list, err := s.GuildThreadsActive(guildID, discordgo.WithContext(ctx))
	if err != nil {
		return "", errors.Wrapf(classify(err), "list active threads of %s", guildID)
	}
	for _, th := range list.Threads {
		if th.ParentID == channelID && strings.Contains(th.Name, titleSubstring) {
			return th.ID, nil
		}
	}
	return "", nil
}

func (c *Client) guildOf(ctx context.Context, s *discordgo.Session, channelID string) (string, error) {
	if v, ok := c.guilds.Load(channelID); ok {
		return v.(string), nil
	}
	ch, err := s.State.Channel(channelID)
	if err != nil {
		ch, err = s.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return "", errors.Wrapf(classify(err), "resolve channel %s", channelID)
		}
	}
	c.guilds.Store(channelID, ch.GuildID)
	return ch.GuildID, nil
}
