package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/companionspay/ledgerd/internal/db"
	"github.com/companionspay/ledgerd/internal/handlers"
	"github.com/companionspay/ledgerd/internal/logger"
	"github.com/companionspay/ledgerd/internal/repository/postgres"
	"github.com/companionspay/ledgerd/internal/service/ledger"
	"github.com/companionspay/ledgerd/internal/service/paypal"
	"github.com/companionspay/ledgerd/internal/service/reaper"
	"github.com/companionspay/ledgerd/internal/service/reconcile"
	"github.com/companionspay/ledgerd/internal/service/stripe"
)

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	reaper *reaper.Reaper
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize provider clients
	paypalClient := paypal.NewClient(c.PayPalAPIBase, c.PayPalClientID, c.PayPalSecret, logger)
	stripeClient := stripe.NewClient("", c.StripeSecretKey, logger)

	// Initialize services
	ledgerService := ledger.NewService(storage, logger)
	reconcileService, err := reconcile.NewService(reconcile.Config{
		StripeWebhookSecret: c.StripeWebhookSecret,
		InsecureWebhooks:    c.InsecureWebhooks,
		StripeSuccessURL:    c.StripeSuccessURL,
		StripeCancelURL:     c.StripeCancelURL,
		PayPalReturnURL:     c.PayPalReturnURL,
		PayPalCancelURL:     c.PayPalCancelURL,
	}, ledgerService, paypalClient, stripeClient, logger)
	if err != nil {
		return nil, fmt.Errorf("error while creating reconcile service. Err: %w", err)
	}

	mux := handlers.NewRouter(
		reconcileService,
		ledgerService,
		logger,
	)

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    mux,
		reaper:     reaper.New(storage, logger),
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	// Expire abandoned pending transactions in the background
	reaperStopped := s.reaper.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); err == context.DeadlineExceeded {
			slog.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		slog.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	slog.Info("Starting server", "addr", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-reaperStopped

	return err
}
