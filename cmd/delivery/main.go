package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/vasiliy-maslov/food-delivery/internal/catalog"
	"github.com/vasiliy-maslov/food-delivery/internal/config"
	"github.com/vasiliy-maslov/food-delivery/internal/db"
	"github.com/vasiliy-maslov/food-delivery/internal/iiko"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
	"github.com/vasiliy-maslov/food-delivery/internal/organization"
	"github.com/vasiliy-maslov/food-delivery/internal/stoplist"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "delivery",
		Short:         "Food delivery backend synchronized with iiko",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(syncMenuCmd())
	rootCmd.AddCommand(activateMenuCmd())
	rootCmd.AddCommand(syncTerminalsCmd())
	rootCmd.AddCommand(syncPaymentTypesCmd())
	rootCmd.AddCommand(syncDiscountsCmd())
	rootCmd.AddCommand(syncStopListsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", "delivery").Logger()
}

// app: общие зависимости всех команд.
type app struct {
	cfg  *config.Config
	db   *db.Postgres
	iiko *iiko.Factory

	organizations organization.Repository
	orgService    organization.Service
	catalogRepo   catalog.Repository
	catalog       catalog.Service
	stopLists     stoplist.Service
	orders        order.Repository
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	setupLogger(cfg.App)

	pg, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	window, err := stoplist.ParseWindow(cfg.StopList.WorkingStart, cfg.StopList.WorkingEnd)
	if err != nil {
		pg.Close()
		return nil, fmt.Errorf("invalid stop-list working window: %w", err)
	}

	factory := iiko.NewFactory(cfg.Iiko.BaseURL, cfg.Iiko.Timeout, cfg.Iiko.RateLimit, cfg.Iiko.Burst)

	a := &app{cfg: cfg, db: pg, iiko: factory}
	a.organizations = organization.NewRepository(pg.Pool)
	a.orgService = organization.NewService(a.organizations, func(key string) organization.Gateway { return factory.ForAPIKey(key) })
	a.catalogRepo = catalog.NewRepository(pg.Pool)
	a.catalog = catalog.NewService(a.catalogRepo, a.organizations, func(key string) catalog.Gateway { return factory.ForAPIKey(key) })
	a.stopLists = stoplist.NewService(
		stoplist.NewRepository(pg.Pool),
		a.organizations,
		func(key string) stoplist.Gateway { return factory.ForAPIKey(key) },
		stoplist.Policy{
			Global:          &window,
			DefaultInterval: time.Duration(cfg.StopList.DefaultIntervalMin) * time.Minute,
			Location:        cfg.StopList.Location(),
		},
	)
	a.orders = order.NewRepository(pg.Pool)
	return a, nil
}

func (a *app) orderService(enqueuer order.Enqueuer) order.Service {
	return order.NewService(a.orders, a.organizations, a.catalogRepo, a.stopLists,
		func(key string) order.Gateway { return a.iiko.ForAPIKey(key) }, enqueuer)
}

func (a *app) Close() {
	a.db.Close()
}
