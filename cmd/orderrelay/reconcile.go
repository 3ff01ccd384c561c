package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/utils"
)

var reconcileAll bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [order-id]",
	Short: "Repair the chat message of one order, or run one sweeper pass",
	Long: `With an order id, force a re-render of that order's message and recreate it
when it is missing or in the wrong channel. With --all, run a single
reconciliation pass over every active order and exit.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if reconcileAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileAll, "all", false, "run one sweeper pass over every active order")
	rootCmd.AddCommand(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Discord.Enabled() {
		return errors.New("DISCORD_TOKEN is required")
	}
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if reconcileAll {
		rep := a.sweeper().Run(ctx)
		if rep.Skipped {
			return errors.Errorf("sweep skipped: %s", rep.Reason)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checked=%d touched=%d up_to_date=%d edited=%d recreated=%d failed=%d purged=%d\n",
			rep.Checked, rep.Touched, rep.UpToDate, rep.Edited, rep.Recreated, rep.Failed, rep.Purged)
		return nil
	}

	id, ok := utils.ParseID(args[0])
	if !ok {
		return errors.Errorf("invalid order id %q", args[0])
	}
	o, res, err := a.orders.Reconcile(ctx, id)
	if err != nil {
		return err
	}
	log.Info().Uint("order_id", o.ID).Str("numero", o.Numero).Str("result", res.String()).Msg("Reconcile finished")
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s/%s\n", o.Numero, res, o.Notification.ChannelID, o.Notification.MessageID)
	if res == notify.Failed || res == notify.Unavailable {
		return errors.Errorf("order %s could not be reconciled", o.Numero)
	}
	return nil
}
