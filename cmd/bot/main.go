package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"diet-bot/config"
	"diet-bot/internal/assistant"
	"diet-bot/internal/bot"
	"diet-bot/internal/db"
	"diet-bot/internal/gpt"
	"diet-bot/internal/payment"
	"diet-bot/internal/server"
	"diet-bot/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var cfgFile string

func main() {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:           "diet-bot",
		Short:         "Nutrition assistant API and Telegram bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}
	setupFlags(rootCmd, v)

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and, when configured, the Telegram bot",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), v)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database schema and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMigrate(cmd.Context(), v)
			},
		},
	)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("port", v.GetString("server.port"), "HTTP listen port")
	flags.String("log-level", v.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("db-driver", v.GetString("db.driver"), "Database driver (sqlite, postgres)")
	flags.String("db-path", v.GetString("db.path"), "SQLite database path")

	bindFlag(cmd, v, "server.port", "port")
	bindFlag(cmd, v, "log.level", "log-level")
	bindFlag(cmd, v, "db.driver", "db-driver")
	bindFlag(cmd, v, "db.path", "db-path")
}

func bindFlag(cmd *cobra.Command, v *viper.Viper, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func newLogger(cfg *config.Config) *logger.Logger {
	if cfg.Log.Development {
		return logger.NewDevelopment()
	}
	return logger.New(cfg.Log.Level)
}

func runMigrate(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.DB.Validate(); err != nil {
		return err
	}

	l := newLogger(cfg)
	defer l.Sync() //nolint:errcheck

	store, err := db.Open(cfg.DB, l)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	l.Infow("Schema applied", "driver", cfg.DB.Driver)
	return nil
}

func runServe(ctx context.Context, v *viper.Viper) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l := newLogger(cfg)
	defer l.Sync() //nolint:errcheck
	l.Info("Starting Diet Bot...")

	store, err := db.Open(cfg.DB, l)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}

	gptClient := gpt.NewClient(cfg.GPT)

	service, err := assistant.NewService(assistant.ServiceConfig{
		Store:         store,
		Generator:     gptClient,
		Analyzer:      gptClient,
		Transcriber:   gptClient,
		Logger:        l.With("component", "assistant"),
		FreeMessages:  cfg.Assistant.FreeMessages,
		HistoryWindow: cfg.Assistant.HistoryWindow,
		CompactEvery:  cfg.Assistant.CompactEvery,
		CompactWindow: cfg.Assistant.CompactWindow,
		CallTimeout:   cfg.GPT.Timeout,
	})
	if err != nil {
		return err
	}

	// Both the router and the bot take the interface; a nil *StripeClient must stay out of them.
	var (
		payments server.Payments
		checkout bot.Checkout
	)
	if cfg.Stripe.Enabled() {
		stripeClient := payment.NewStripeClient(cfg.Stripe)
		payments, checkout = stripeClient, stripeClient
	} else {
		l.Info("Stripe is not configured, checkout routes disabled")
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	handler, err := server.NewRouter(server.Dependencies{
		Service:       service,
		Payments:      payments,
		Logger:        l.With("component", "http"),
		MaxMediaBytes: cfg.Server.MaxMediaBytes,
	})
	if err != nil {
		return err
	}
	httpServer := server.NewServer(cfg.Server.Port, handler, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, l)

	var telegramBot *bot.TelegramBot
	if cfg.Telegram.Token != "" {
		telegramBot, err = bot.NewTelegramBot(cfg.Telegram.Token, service, checkout, l)
		if err != nil {
			return err
		}
	} else {
		l.Info("Telegram token is not configured, bot disabled")
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(signalCtx)

	g.Go(func() error {
		if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if telegramBot != nil {
		if err := telegramBot.Start(gctx); err != nil {
			stop()
			_ = httpServer.Stop(context.Background())
			return err
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		l.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			l.Errorw("Error during HTTP server shutdown", "error", err)
		}
		if telegramBot != nil {
			if err := telegramBot.Stop(shutdownCtx); err != nil {
				l.Errorw("Error during bot shutdown", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	l.Info("Diet Bot stopped")
	return nil
}
