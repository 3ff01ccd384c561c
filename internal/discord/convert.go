package discord

import (
	"errors"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/tbourn/go-order-relay/internal/interaction"
	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/render"
)

// JSON error codes returned by the Discord API.
// https://discord.com/developers/docs/topics/opcodes-and-status-codes#json
const (
	codeUnknownChannel          = 10003
	codeUnknownMessage          = 10008
	codeUnknownInteraction      = 10062
	codeInteractionAcknowledged = 40060
)

// Discord caps.
const (
	maxFieldValue  = 1024
	maxThreadName  = 100
	threadArchiveM = 1440
)

func restCode(err error) int {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Message != nil {
		return rest.Message.Code
	}
	return 0
}

// classify maps "gone" API errors onto notify.ErrMessageNotFound so the
// dispatcher can recreate instead of retrying.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch restCode(err) {
	case codeUnknownMessage, codeUnknownChannel:
		return errors.Join(notify.ErrMessageNotFound, err)
	}
	return err
}

// classifyInteraction maps dead interaction tokens onto
// interaction.ErrExpired.
func classifyInteraction(err error) error {
	if err == nil {
		return nil
	}
	switch restCode(err) {
	case codeUnknownInteraction, codeInteractionAcknowledged:
		return errors.Join(interaction.ErrExpired, err)
	}
	return err
}

func buttonStyle(s render.Style) discordgo.ButtonStyle {
	switch s {
	case render.StylePrimary:
		return discordgo.PrimaryButton
	case render.StyleSuccess:
		return discordgo.SuccessButton
	case render.StyleDanger:
		return discordgo.DangerButton
	default:
		return discordgo.SecondaryButton
	}
}

func toEmbed(n render.Notification) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title: n.Title,
		Color: n.Color,
	}
	for _, f := range n.Fields {
		v := f.Value
		if v == "" {
			// Discord rejects empty field values.
			v = "\u200b"
		}
		if r := []rune(v); len(r) > maxFieldValue {
			v = string(r[:maxFieldValue-1]) + "…"
		}
		e.Fields = append(e.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: v, Inline: f.Inline})
	}
	if n.Footer != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: n.Footer}
	}
	if !n.Timestamp.IsZero() {
		e.Timestamp = n.Timestamp.UTC().Format(time.RFC3339)
	}
	return e
}

func toComponents(rows [][]render.Button) []discordgo.MessageComponent {
	out := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		ar := discordgo.ActionsRow{}
		for _, b := range row {
			ar.Components = append(ar.Components, discordgo.Button{
				Label:    b.Label,
				Style:    buttonStyle(b.Style),
				CustomID: b.CustomID(),
				Disabled: b.Disabled,
			})
		}
		out = append(out, ar)
	}
	return out
}

func toMessage(m *discordgo.Message) notify.Message {
	msg := notify.Message{ID: m.ID, ChannelID: m.ChannelID, CreatedAt: m.Timestamp}
	if m.EditedTimestamp != nil {
		msg.EditedAt = *m.EditedTimestamp
	}
	return msg
}

func threadName(title string) string {
	if r := []rune(title); len(r) > maxThreadName {
		return string(r[:maxThreadName])
	}
	return title
}

// toInteraction decodes a button press. ok is false for any other kind of
// interaction.
func toInteraction(i *discordgo.InteractionCreate) (interaction.Interaction, bool) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return interaction.Interaction{}, false
	}
	in := interaction.Interaction{
		ID:        i.ID,
		CustomID:  i.MessageComponentData().CustomID,
		ChannelID: i.ChannelID,
	}
	if ts, err := discordgo.SnowflakeTimestamp(i.ID); err == nil {
		in.CreatedAt = ts
	}

	var u *discordgo.User
	switch {
	case i.Member != nil && i.Member.User != nil:
		u = i.Member.User
		in.UserName = i.Member.Nick
	case i.User != nil:
		u = i.User
	}
	if u != nil {
		in.UserID = u.ID
		if in.UserName == "" {
			in.UserName = u.GlobalName
		}
		if in.UserName == "" {
			in.UserName = u.Username
		}
	}
	return in, true
}
