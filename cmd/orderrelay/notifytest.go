package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-order-relay/internal/discord"
	"github.com/tbourn/go-order-relay/internal/domain"
	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/notify/notifytest"
	"github.com/tbourn/go-order-relay/internal/render"
)

var (
	notifyTestMode  string
	notifyTestKeep  bool
	notifyTestDelay time.Duration
)

var notifyTestCmd = &cobra.Command{
	Use:   "notify-test",
	Short: "Post a sample order message to check the Discord setup",
	Long: `Connect with the configured bot token, post a sample order to the channel
configured for the chosen delivery mode, then delete it unless --keep is set.
Nothing is written to the order store.`,
	RunE: runNotifyTest,
}

func init() {
	notifyTestCmd.Flags().StringVar(&notifyTestMode, "mode", string(domain.ModePickup), "delivery mode of the sample order (delivery|pickup)")
	notifyTestCmd.Flags().BoolVar(&notifyTestKeep, "keep", false, "leave the sample message in the channel")
	notifyTestCmd.Flags().DurationVar(&notifyTestDelay, "delay", 10*time.Second, "how long the sample message stays before it is deleted")
	rootCmd.AddCommand(notifyTestCmd)
}

func runNotifyTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Discord.Enabled() {
		return errors.New("DISCORD_TOKEN is required")
	}
	mode := domain.DeliveryMode(notifyTestMode)
	if !mode.Valid() {
		return errors.Errorf("unknown delivery mode %q", notifyTestMode)
	}

	client := &discord.Client{Token: cfg.Discord.Token}
	defer client.Close()

	refs := notifytest.NewStore()
	d := &notify.Dispatcher{
		Messenger: client,
		Resolver: notify.Resolver{
			DeliveryChannelID: cfg.Discord.DeliveryChannelID,
			PickupChannelID:   cfg.Discord.PickupChannelID,
		},
		Store:        refs,
		ReadyTimeout: cfg.Discord.ReadyTimeout,
	}
	return sendSample(cmd.Context(), d, client, refs, sampleOrder(mode, time.Now()))
}

// sendSample posts o through d and removes the message again unless the
// --keep flag is set.
func sendSample(ctx context.Context, d *notify.Dispatcher, m notify.Messenger, refs *notifytest.Store, o *domain.Order) error {
	if !d.NotifyCreated(ctx, o) {
		return errors.New("sample notification was not delivered, see the log above")
	}
	ref := refs.Get(o.ID)
	log.Info().Str("channel_id", ref.ChannelID).Str("message_id", ref.MessageID).Msg("Sample order posted")

	if notifyTestKeep {
		return nil
	}
	select {
	case <-ctx.Done():
	case <-time.After(notifyTestDelay):
	}
	if err := m.DeleteMessage(context.Background(), ref.ChannelID, ref.MessageID); err != nil {
		return errors.Wrap(err, "delete sample message")
	}
	log.Info().Str("message_id", ref.MessageID).Msg("Sample order removed")
	return nil
}

// sampleOrder builds an unsaved order that renders like a real one.
func sampleOrder(mode domain.DeliveryMode, now time.Time) *domain.Order {
	o := &domain.Order{
		ID:             1,
		Numero:         fmt.Sprintf("TEST-%d", now.UnixMilli()),
		Status:         domain.StatusPending,
		DeliveryMode:   mode,
		DeliveryWindow: sampleWindow(now.Add(time.Hour)),
		CustomerName:   "Client test",
		ContactPhone:   "0600000000",
		Items: []domain.OrderItem{
			{ProductID: 1, ProductName: "Pizza margherita", Quantity: 2, UnitPrice: decimal.RequireFromString("11.50")},
		},
		Packages: []domain.OrderPackage{
			{PackageID: 1, PackageName: "Menu découverte", Quantity: 1, UnitPrice: decimal.RequireFromString("19.90")},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.Total = o.LinesTotal()
	return o
}

// sampleWindow encodes a one-hour slot starting at from the way the
// storefront stores it.
func sampleWindow(from time.Time) string {
	raw, _ := json.Marshal([]render.Slot{{
		Date:      from.Format("02/01/2006"),
		StartTime: from.Format("15:04"),
		EndTime:   from.Add(time.Hour).Format("15:04"),
	}})
	return string(raw)
}
