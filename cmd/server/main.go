package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/npezzotti/geochat/internal/api"
	"github.com/npezzotti/geochat/internal/bus"
	"github.com/npezzotti/geochat/internal/config"
	"github.com/npezzotti/geochat/internal/database"
	"github.com/npezzotti/geochat/internal/presence"
	"github.com/npezzotti/geochat/internal/server"
	"github.com/npezzotti/geochat/internal/stats"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shutdownTimeout = 10 * time.Second

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:          "geochat",
	Short:        "Real-time chat server for geographic rooms and direct messages",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(newLogger())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(v)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		return database.Migrate(cfg.DatabaseDSN, newLogger())
	},
}

func init() {
	config.SetDefaults(v)

	flags := rootCmd.PersistentFlags()
	flags.String(config.KeyServerAddr, "localhost:8000", "server address")
	flags.String(config.KeyDatabaseDSN, "", "database connection string")
	flags.String(config.KeySigningKey, "", "base64 encoded key shared with the token issuer (required)")
	flags.StringSlice(config.KeyAllowedOrigins, nil, "comma-separated list of allowed origins for CORS")
	flags.String(config.KeyRedisAddr, "localhost:6379", "redis address used for presence and the redis bus")
	flags.String(config.KeyRedisPassword, "", "redis password")
	flags.Int(config.KeyRedisDB, 0, "redis database number")
	flags.String(config.KeyBusBackend, config.BusRedis, "fan-out bus backend (redis or nats)")
	flags.String(config.KeyNatsURL, "nats://localhost:4222", "nats server url for the nats bus")
	flags.Duration(config.KeyPresenceWindow, 120*time.Second, "time after which a silent user is considered offline")
	flags.Duration(config.KeyHeartbeatInterval, 30*time.Second, "interval of server side presence refresh")
	flags.Int(config.KeyMaxMessageLength, 2000, "maximum message length in characters")
	flags.Int(config.KeyAPIMaxInflight, 100, "maximum concurrent requests served under /api")
	rootCmd.Flags().Bool(config.KeyRunMigrations, false, "apply database migrations on startup")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}
	if err := v.BindPFlags(rootCmd.Flags()); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(migrateCmd)
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "[geochat] ", log.LstdFlags)
}

func newBus(cfg *config.Config, rdb redis.UniversalClient, logger *log.Logger) (bus.Bus, error) {
	switch cfg.BusBackend {
	case config.BusNats:
		nc, err := bus.ConnectNats(cfg.NatsURL, "geochat", logger)
		if err != nil {
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		return bus.NewNatsBus(nc, "", logger), nil
	default:
		return bus.NewRedisBus(rdb, "", logger), nil
	}
}

func serve(logger *log.Logger) error {
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if cfg.RunMigrations {
		if err := database.Migrate(cfg.DatabaseDSN, logger); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	dbConn, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		// presence degrades without redis; only the redis bus needs it to start
		logger.Println("redis ping:", err)
		if cfg.BusBackend == config.BusRedis {
			return fmt.Errorf("redis ping: %w", err)
		}
	}

	fanout, err := newBus(cfg, rdb, logger)
	if err != nil {
		return err
	}

	statsUpdater := stats.NewStatsUpdater()
	statsUpdater.Run()
	defer statsUpdater.Stop()

	chatServer, err := server.NewChatServer(logger, dbConn, presence.NewStore(rdb, cfg.PresenceWindow),
		fanout, statsUpdater, server.Options{
			HeartbeatInterval: cfg.HeartbeatInterval,
			MaxMessageLength:  cfg.MaxMessageLength,
		})
	if err != nil {
		fanout.Close()
		return fmt.Errorf("new chat server: %w", err)
	}

	app := api.NewGoChatApp(logger, chatServer, dbConn, statsUpdater.Handler, cfg)

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	if err := fanout.Close(); err != nil {
		logger.Println("bus close:", err)
	}

	logger.Println("shutdown complete")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
