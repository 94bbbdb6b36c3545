package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nla-consultoria/leadrelay/internal/api"
	"github.com/nla-consultoria/leadrelay/internal/config"
	"github.com/nla-consultoria/leadrelay/internal/delivery"
	"github.com/nla-consultoria/leadrelay/internal/events"
	"github.com/nla-consultoria/leadrelay/internal/funnel"
	"github.com/nla-consultoria/leadrelay/internal/logger"
	"github.com/nla-consultoria/leadrelay/internal/meta"
	"github.com/nla-consultoria/leadrelay/internal/storage"
	"github.com/nla-consultoria/leadrelay/internal/storage/redis"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "leadrelay",
		Short: "LeadRelay: lead funnel and webhook delivery service",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(replayCmd(&configPath))
	rootCmd.AddCommand(failuresCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the LeadRelay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := logger.New(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info().Msg("database migrations completed")

			claims, closeClaims, err := setupClaims(cfg, log)
			if err != nil {
				return fmt.Errorf("failed to setup claims: %w", err)
			}
			defer closeClaims()

			publisher := setupPublisher(cfg.Kafka, log)
			defer publisher.Close()

			if cfg.Delivery.WebhookURL == "" {
				log.Warn().Msg("delivery.webhook_url is empty, leads will only be persisted as failures")
			}

			client := delivery.NewClient(
				delivery.NewSender(cfg.Delivery.Timeout, cfg.Delivery.SigningSecret),
				store,
				cfg.Delivery.MaxAttempts,
				cfg.Delivery.BaseDelay,
				log,
			)
			replayer := delivery.NewReplayer(client, store, log)
			worker := delivery.NewWorker(client, replayer, log)

			pool := delivery.NewPool(cfg.Delivery, replayer, log)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			metaClient := meta.NewClient(cfg.Meta, log)
			if !metaClient.Enabled() {
				log.Info().Msg("meta pixel id or access token missing, conversion events disabled")
			}
			tracker := meta.NewTracker(metaClient, pool, log)

			svc := funnel.NewService(cfg.Funnel, cfg.Delivery.WebhookURL, funnel.Deps{
				Store:      store,
				Claims:     claims,
				Deliverer:  worker,
				Replayer:   replayer,
				Dispatcher: pool,
				Tracker:    tracker,
				Publisher:  publisher,
			}, log)

			server := api.NewServer(cfg.Server, api.Deps{
				Store:       store,
				Funnel:      svc,
				Replayer:    replayer,
				Conversions: metaClient,
				PageViews:   meta.NewPageViews(claims, cfg.Meta.PageViewTTL, log),
			}, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Delivery.Workers).
				Str("storage", cfg.Storage.Driver).
				Str("claims", cfg.Funnel.Claims).
				Bool("kafka", cfg.Kafka.Enabled).
				Msg("LeadRelay is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			svc.Close()
			pool.Stop()

			log.Info().Msg("LeadRelay stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := logger.New(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func replayCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Resend every stored failed delivery once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			log := logger.New(cfg.Logging)
			client := delivery.NewClient(
				delivery.NewSender(cfg.Delivery.Timeout, cfg.Delivery.SigningSecret),
				store,
				cfg.Delivery.MaxAttempts,
				cfg.Delivery.BaseDelay,
				log,
			)
			res, err := delivery.NewReplayer(client, store, log).ReplayFailures(cmd.Context())
			if err != nil {
				return fmt.Errorf("replay failed: %w", err)
			}

			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func failuresCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "failures",
		Short: "Inspect failed deliveries",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List failed deliveries waiting for replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			failures, err := store.ListFailures(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list failed deliveries: %w", err)
			}

			if len(failures) == 0 {
				fmt.Println("No failed deliveries.")
				return nil
			}

			for _, f := range failures {
				fmt.Printf("  %s  %s  %s  (failed %s)\n", f.ID, f.Token, f.URL, f.FailedAt.Format(time.RFC3339))
			}
			return nil
		},
	}

	cmd.AddCommand(listCmd)
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show funnel and delivery stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("LeadRelay v%s\n", version)
		},
	}
}

func setupStorage(cfg config.StorageConfig, log zerolog.Logger) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite storage")
		return storage.NewSQLite(cfg.SQLite.Path)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

func setupClaims(cfg *config.Config, log zerolog.Logger) (storage.Claims, func(), error) {
	switch cfg.Funnel.Claims {
	case "", "memory":
		return storage.NewMemoryClaims(), func() {}, nil
	case "redis":
		client := redis.NewClient(cfg.Redis)
		claims := redis.NewClaims(client)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := claims.Ping(ctx); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis unreachable at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using Redis delivery claims")
		return claims, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported claims backend: %s", cfg.Funnel.Claims)
	}
}

func setupPublisher(cfg config.KafkaConfig, log zerolog.Logger) events.Publisher {
	if !cfg.Enabled {
		return events.NopPublisher{}
	}
	log.Info().Strs("brokers", cfg.Brokers).Str("topic", cfg.Topic).Msg("publishing lead events to Kafka")
	return events.NewKafkaPublisher(cfg, log)
}

func storeFromConfig(configPath string) (*config.Config, storage.Storage, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(cfg.Logging)
	store, err := setupStorage(cfg.Storage, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to setup storage: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return cfg, store, func() { store.Close() }, nil
}
