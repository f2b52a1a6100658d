package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/svirmi/coursepay/internal/config"
	"github.com/svirmi/coursepay/internal/gateway"
	"github.com/svirmi/coursepay/internal/helpers"
	"github.com/svirmi/coursepay/internal/repository"
	"github.com/svirmi/coursepay/internal/repository/memstore"
	"github.com/svirmi/coursepay/internal/service"
)

type application struct {
	config config.Config
	logger *slog.Logger
	db     *sql.DB

	gateway     *gateway.Client
	settlement  *service.SettlementEngine
	withdrawals *service.WithdrawalEngine
	wallets     *service.WalletService
	reconciler  *service.Reconciler
}

type stores struct {
	purchases   service.PurchaseStore
	wallets     service.WalletStore
	courses     service.CourseCatalog
	withdrawals service.WithdrawalStore
}

func newApplication(ctx context.Context, cfg config.Config, logger *slog.Logger) (*application, error) {
	var (
		st stores
		db *sql.DB
	)

	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("using in-memory stores, data is lost on restart")
		st = memoryStores()
	default:
		var err error
		db, err = helpers.OpenDB(ctx, helpers.DBConfig{
			Host:     cfg.DB.Host,
			Port:     cfg.DB.Port,
			User:     cfg.DB.User,
			Password: cfg.DB.Password,
			Name:     cfg.DB.Name,
			SSLMode:  cfg.DB.SSLMode,
		}, logger)
		if err != nil {
			return nil, err
		}
		if err := repository.Migrate(db, logger); err != nil {
			db.Close()
			return nil, err
		}
		st = stores{
			purchases:   repository.NewPurchaseRepository(db),
			wallets:     repository.NewWalletRepository(db),
			courses:     repository.NewCourseRepository(db),
			withdrawals: repository.NewWithdrawalRepository(db),
		}
	}

	gw := gateway.New(gateway.Config{
		BaseURL:           cfg.Gateway.BaseURL,
		SecretKey:         cfg.Gateway.SecretKey,
		Currency:          cfg.Gateway.Currency,
		Timeout:           cfg.Gateway.Timeout,
		RequestsPerSecond: cfg.Gateway.RequestsPerSecond,
		Burst:             cfg.Gateway.Burst,
		MaxRetryElapsed:   cfg.Gateway.MaxRetryElapsed,
	}, logger.With("component", "gateway"))

	app, err := buildApplication(cfg, logger, st, gw)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, err
	}
	app.db = db
	return app, nil
}

func memoryStores() stores {
	return stores{
		purchases:   memstore.NewPurchaseStore(),
		wallets:     memstore.NewWalletStore(),
		courses:     memstore.NewCourseStore(),
		withdrawals: memstore.NewWithdrawalStore(),
	}
}

func buildApplication(cfg config.Config, logger *slog.Logger, st stores, gw *gateway.Client) (*application, error) {
	s := cfg.Settlement
	courses := service.NewCachedCatalog(st.courses, 0, s.PricingCacheTTL)

	settlement, err := service.NewSettlementEngine(st.purchases, st.wallets, courses, gw, service.SettlementConfig{
		CallbackURL:         cfg.Gateway.CallbackURL,
		PlatformPrincipalID: s.PlatformPrincipalID,
		Fees: service.FeePolicy{
			Percent:       decimal.NewFromFloat(s.FeePercent),
			Flat:          s.FeeFlat,
			FlatThreshold: s.FeeFlatThreshold,
			Cap:           s.FeeCap,
		},
		Split: service.SplitPolicy{EducatorPercent: decimal.NewFromFloat(s.EducatorSharePercent)},
	}, logger.With("component", "settlement"))
	if err != nil {
		return nil, fmt.Errorf("settlement engine: %w", err)
	}

	return &application{
		config:      cfg,
		logger:      logger,
		gateway:     gw,
		settlement:  settlement,
		withdrawals: service.NewWithdrawalEngine(st.wallets, st.withdrawals, gw, logger.With("component", "withdrawal")),
		wallets:     service.NewWalletService(st.wallets),
		reconciler:  service.NewReconciler(settlement, s.PendingExpiry, logger.With("component", "reconciler")),
	}, nil
}

func (app *application) close() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Warn("closing database failed", "error", err)
		}
	}
}
