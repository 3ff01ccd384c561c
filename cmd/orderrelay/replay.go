package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-order-relay/internal/config"
	"github.com/tbourn/go-order-relay/internal/domain"
	"github.com/tbourn/go-order-relay/internal/interaction"
	"github.com/tbourn/go-order-relay/internal/lifecycle"
	"github.com/tbourn/go-order-relay/internal/notify/notifytest"
	"github.com/tbourn/go-order-relay/internal/services"
)

var replayMode string

var replayCmd = &cobra.Command{
	Use:   "replay-lifecycle",
	Short: "Walk a sample order through every button press offline",
	Long: `Create a sample order in a throwaway in-memory store, press each lifecycle
button through the real interaction handler against an in-memory chat, and
print what every press did. No network access is needed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return replayLifecycle(cmd.Context(), cmd.OutOrStdout(), cfg, domain.DeliveryMode(replayMode))
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayMode, "mode", string(domain.ModeDelivery), "delivery mode of the sample order (delivery|pickup)")
	rootCmd.AddCommand(replayCmd)
}

// replayPress is one scripted button press.
type replayPress struct {
	action lifecycle.Action
	actor  string
}

var replayScript = []replayPress{
	{lifecycle.ActionClaim, "Alice"},
	{lifecycle.ActionClaim, "Bruno"},
	{lifecycle.ActionPrepare, "Alice"},
	{lifecycle.ActionReady, "Alice"},
	{lifecycle.ActionDeliver, "Bruno"},
	{lifecycle.ActionCancel, "Bruno"},
}

// replayResponder keeps the last private reply of a press.
type replayResponder struct{ reply string }

func (r *replayResponder) Defer(context.Context) error { return nil }

func (r *replayResponder) Reply(_ context.Context, content string) error {
	r.reply = content
	return nil
}

// offline rewrites cfg so the app runs entirely in process.
func offline(cfg config.Config) config.Config {
	cfg.DBDriver = "sqlite"
	cfg.DBPath = fmt.Sprintf("file:replay_%s?mode=memory&cache=shared", uuid.NewString())
	cfg.Redis = config.RedisConfig{}
	cfg.AMQP = config.AMQPConfig{}
	cfg.Discord.Token = ""
	cfg.Discord.DeliveryChannelID = "replay-delivery"
	cfg.Discord.PickupChannelID = "replay-pickup"
	return cfg
}

func replayLifecycle(ctx context.Context, w io.Writer, cfg config.Config, mode domain.DeliveryMode) error {
	if !mode.Valid() {
		return errors.Errorf("unknown delivery mode %q", mode)
	}
	chat := notifytest.New()
	a, err := newApp(ctx, offline(cfg), chat)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.orders.Create(ctx, "replay", "", services.Cart{
		DeliveryMode: mode,
		CustomerName: "Client test",
		ContactPhone: "0600000000",
		Items: []services.CartLine{
			{ID: 1, Name: "Pizza margherita", Quantity: 2, UnitPrice: decimal.RequireFromString("11.50")},
		},
	})
	if err != nil {
		return err
	}
	if !res.Notified {
		return errors.New("sample order was not posted to the in-memory chat")
	}
	o := res.Order
	fmt.Fprintf(w, "order %s posted to %s (message %s)\n\n", o.Numero, o.Notification.ChannelID, o.Notification.MessageID)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRESS\tACTOR\tOUTCOME\tSTATUS\tMESSAGE\tREPLY")
	for _, p := range replayScript {
		r := &replayResponder{}
		out := a.interactions.Handle(ctx, interaction.Interaction{
			ID:        uuid.NewString(),
			CustomID:  lifecycle.Ref{Action: p.action, OrderID: o.ID}.String(),
			ChannelID: o.Notification.ChannelID,
			UserID:    strings.ToLower(p.actor),
			UserName:  p.actor,
			CreatedAt: time.Now(),
		}, r)

		cur, err := a.orders.Get(ctx, o.ID)
		if err != nil {
			return err
		}
		title := ""
		if m, ok := chat.Message(cur.Notification.MessageID); ok {
			title = m.Content.Title
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.action, p.actor, out, cur.Status, title, r.reply)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	cur, err := a.orders.Get(ctx, o.ID)
	if err != nil {
		return err
	}
	if th, ok := chat.Thread(cur.Notification.ThreadID); ok {
		fmt.Fprintf(w, "\nactivity thread %q:\n", th.Title)
		for _, line := range th.Posts {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return nil
}
