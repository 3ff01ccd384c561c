package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// responder answers one interaction with private (ephemeral) messages.
type responder struct {
	s *discordgo.Session
	i *discordgo.Interaction
}

// Defer implements interaction.Responder.
func (r responder) Defer(ctx context.Context) error {
	err := r.s.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return errors.Wrap(classifyInteraction(err), "defer interaction")
	}
	return nil
}

// Reply implements interaction.Responder.
func (r responder) Reply(ctx context.Context, content string) error {
	_, err := r.s.InteractionResponseEdit(r.i, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx))
	if err != nil {
		return errors.Wrap(classifyInteraction(err), "edit interaction response")
	}
	return nil
}

// onInteraction runs on a discordgo event goroutine.
func (c *Client) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	in, ok := toInteraction(i)
	if !ok {
		return
	}
	timeout := c.InteractionTimeout
	if timeout <= 0 {
		timeout = DefaultInteractionTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	c.Interactions.Handle(ctx, in, responder{s: s, i: i.Interaction})
}
