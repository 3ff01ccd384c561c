package main

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-order-relay/internal/config"
	"github.com/tbourn/go-order-relay/internal/discord"
	"github.com/tbourn/go-order-relay/internal/events"
	"github.com/tbourn/go-order-relay/internal/interaction"
	"github.com/tbourn/go-order-relay/internal/notify"
	"github.com/tbourn/go-order-relay/internal/repo"
	"github.com/tbourn/go-order-relay/internal/services"
	"github.com/tbourn/go-order-relay/internal/sweep"
	"github.com/tbourn/go-order-relay/internal/ttlset"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg config.Config
	db  *gorm.DB

	dedup   ttlset.Set
	touched ttlset.Set
	events  events.Publisher
	chat    *discord.Client

	dispatcher   *notify.Dispatcher
	interactions *interaction.Handler
	orders       *services.OrderService

	closers []func() error
}

// newApp opens the store, the shared sets and the broker, then wires the
// dispatcher, interaction handler and order service on top of them.
// messenger overrides the Discord client when non-nil.
func newApp(ctx context.Context, cfg config.Config, messenger notify.Messenger) (*app, error) {
	a := &app{cfg: cfg}

	db, err := repo.Open(cfg.DBDriver, storeDSN(cfg))
	if err != nil {
		return nil, err
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	if err := repo.AutoMigrate(db); err != nil {
		a.Close()
		return nil, err
	}

	if err := a.openSets(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.openEvents()
	a.wire(messenger)
	return a, nil
}

// storeDSN picks the connection string matching the configured driver.
func storeDSN(cfg config.Config) string {
	if cfg.DBDriver == "postgres" {
		return cfg.DatabaseURL
	}
	return cfg.DBPath
}

func (a *app) openSets(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		a.dedup, a.touched = ttlset.NewMemory(), ttlset.NewMemory()
		return nil
	}
	client, err := ttlset.NewRedisClient(ctx, ttlset.RedisOptions{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)
	if a.dedup, err = newRedisSet(client, "orderrelay:dedup:"); err != nil {
		return err
	}
	a.touched, err = newRedisSet(client, "orderrelay:touched:")
	return err
}

func newRedisSet(client *redis.Client, prefix string) (ttlset.Set, error) {
	s, err := ttlset.NewRedis(client, prefix)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// openEvents falls back to the no-op publisher when the broker is not
// configured or not reachable; events are best-effort.
func (a *app) openEvents() {
	a.events = events.Nop{}
	if a.cfg.AMQP.URL == "" {
		return
	}
	p, err := events.DialAMQP(a.cfg.AMQP.URL, a.cfg.AMQP.Exchange)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to the event broker, continuing without events")
		return
	}
	a.events = p
	a.closers = append(a.closers, p.Close)
}

func (a *app) wire(messenger notify.Messenger) {
	store := repo.OrderStore{DB: a.db}
	resolver := notify.Resolver{
		DeliveryChannelID: a.cfg.Discord.DeliveryChannelID,
		PickupChannelID:   a.cfg.Discord.PickupChannelID,
	}
	eng := a.cfg.Engine

	a.dispatcher = &notify.Dispatcher{
		Resolver:        resolver,
		Store:           store,
		Touched:         a.touched,
		ReadyTimeout:    a.cfg.Discord.ReadyTimeout,
		SkipWindow:      eng.SkipWindow,
		TouchProtection: eng.TouchProtection,
	}
	a.interactions = &interaction.Handler{
		Store:    store,
		Notifier: a.dispatcher,
		Channels: resolver,
		Dedup:    a.dedup,
		Events:   a.events,
		MaxAge:   eng.MaxInteractionAge,
		DedupTTL: eng.DedupMaxAge,
	}

	switch {
	case messenger != nil:
		a.dispatcher.Messenger = messenger
	case a.cfg.Discord.Enabled():
		a.chat = &discord.Client{Token: a.cfg.Discord.Token, Interactions: a.interactions}
		a.dispatcher.Messenger = a.chat
		a.closers = append(a.closers, a.chat.Close)
	}

	a.orders = services.NewOrderService(a.db, a.dispatcher, a.events)
	a.orders.NumberPrefix = eng.OrderNumberPrefix
	if a.cfg.IdempotencyTTL > 0 {
		a.orders.IdempotencyTTL = a.cfg.IdempotencyTTL
	}
}

// sweeper returns the reconciliation sweeper bound to the app's components.
func (a *app) sweeper() *sweep.Sweeper {
	eng := a.cfg.Engine
	return &sweep.Sweeper{
		Store:         repo.OrderStore{DB: a.db},
		Notifier:      a.dispatcher,
		Activity:      a.interactions,
		Dedup:         a.dedup,
		Touched:       a.touched,
		Interval:      eng.SweepInterval,
		DedupMaxAge:   eng.DedupMaxAge,
		BaseDelay:     eng.SweepBaseDelay,
		PerOrderDelay: eng.SweepPerOrderDelay,
		MaxDelay:      eng.SweepMaxDelay,
	}
}

// Close releases everything newApp opened, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close resource")
		}
	}
	a.closers = nil
}
