package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/example/cita-sniper/internal/booking"
	"github.com/example/cita-sniper/internal/browser"
	"github.com/example/cita-sniper/internal/claim"
	"github.com/example/cita-sniper/internal/config"
	"github.com/example/cita-sniper/internal/db"
	"github.com/example/cita-sniper/internal/logging"
	"github.com/example/cita-sniper/internal/migrate"
	"github.com/example/cita-sniper/internal/monitor"
	"github.com/example/cita-sniper/internal/notify"
	"github.com/example/cita-sniper/internal/obs"
	"github.com/example/cita-sniper/internal/profile"
	"github.com/example/cita-sniper/internal/qmatic"
	"github.com/example/cita-sniper/internal/queue"
	"github.com/example/cita-sniper/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the availability monitor, acquisition engine, and operator web surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromEnv()
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.DevMode)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			d, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer d.Close()
			if err := d.Ping(ctx); err != nil {
				return fmt.Errorf("db ping: %w", err)
			}
			if migrateUp {
				if err := migrate.Up(ctx, d); err != nil {
					return err
				}
			}

			queueRepo := queue.NewRepo(d)
			profileRepo := profile.NewRepo(d)
			metrics := obs.NewMetrics()

			var claimer claim.Claimer
			if cfg.RedisAddr != "" {
				rdb := redis.NewClient(&redis.Options{
					Addr:     cfg.RedisAddr,
					Password: cfg.RedisPassword,
					DB:       cfg.RedisDB,
				})
				defer rdb.Close()
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis ping: %w", err)
				}
				claimer = claim.NewRedis(rdb, time.Minute)
			} else {
				claimer = claim.NewMemory(time.Minute)
			}

			var notifier notify.Notifier
			if cfg.TelegramToken != "" {
				notifier = notify.NewTelegram(cfg.TelegramToken, logger)
			} else {
				notifier = notify.Log{Logger: logger}
			}

			client := qmatic.New(cfg, logger)
			if err := client.Warmup(ctx); err != nil {
				logger.Warn().Err(err).Msg("warmup failed, first burst pays the handshake")
			}

			httpStrategy := &booking.HTTPStrategy{Client: client}
			var strategy booking.Strategy = httpStrategy
			var slots booking.SlotSource = httpStrategy
			if cfg.Strategy == config.StrategyBrowser {
				bs := &browser.Strategy{
					FormURL: "https://citaprevia.ciencia.gob.es/qmaticwebbooking/#/",
					Log:     logger,
				}
				defer bs.Close()
				strategy = bs
				slots = bs
			}

			engine := &booking.Engine{
				Queue:    queueRepo,
				Profiles: profileRepo,
				Strategy: strategy,
				Slots:    slots,
				Notifier: notifier,
				Claims:   claimer,
				Metrics:  metrics,
				Cfg:      cfg,
				Log:      logger.With().Str("component", "engine").Logger(),
			}

			mon := &monitor.Monitor{
				Checker: client,
				OnAvailable: func(ctx context.Context, dates []string) {
					out := engine.Acquire(ctx, dates)
					if waiting, err := queueRepo.CountWaiting(ctx); err == nil {
						metrics.QueueWaiting.Set(float64(waiting))
					}
					logger.Info().Str("outcome", string(out.Kind)).Msg("acquisition cycle finished")
				},
				Cfg:     cfg,
				Metrics: metrics,
				Log:     logger.With().Str("component", "monitor").Logger(),
			}
			go func() { _ = mon.Run(ctx) }()

			ws := &web.Server{Monitor: mon, Queue: queueRepo, Cfg: cfg, Log: logger}
			logger.Info().Str("addr", cfg.ListenAddr).Str("strategy", strategy.Name()).Msg("citasniper started")
			return web.Start(ctx, cfg.ListenAddr, ws.Routes())
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}
