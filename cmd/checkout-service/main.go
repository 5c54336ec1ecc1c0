package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stackmart/checkout-service/internal/account"
	"github.com/stackmart/checkout-service/internal/cart"
	"github.com/stackmart/checkout-service/internal/config"
	"github.com/stackmart/checkout-service/internal/db"
	"github.com/stackmart/checkout-service/internal/gateway"
	checkoutHttp "github.com/stackmart/checkout-service/internal/handler/http"
	"github.com/stackmart/checkout-service/internal/notification"
	"github.com/stackmart/checkout-service/internal/order"
	"github.com/stackmart/checkout-service/internal/payment"
	"github.com/stackmart/checkout-service/internal/product"
	"github.com/stackmart/checkout-service/internal/transport"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "checkout-service").Logger()

	log.Info().Msg("Checkout service starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	database, err := db.New(cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer database.Close()

	var publisher notification.Publisher
	rabbit, err := notification.NewRabbitPublisher(cfg.Rabbit.URL, cfg.Rabbit.Exchange)
	if err != nil {
		// Notifications are fire-and-forget; the engine runs without them.
		log.Warn().Err(err).Msg("RabbitMQ unavailable, notification events disabled")
	} else {
		publisher = rabbit
		defer rabbit.Close()
	}

	paymentGateway := gateway.NewRazorpay(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret)

	cartRepo := cart.NewRepository()
	productRepo := product.NewRepository()
	accountRepo := account.NewRepository(database.Pool)
	orderRepo := order.NewRepository(database.Pool, cartRepo, productRepo)
	paymentRepo := payment.NewRepository(database.Pool, cartRepo, productRepo)

	orderService := order.NewService(orderRepo)
	paymentService := payment.NewService(paymentRepo, orderRepo, paymentGateway, cfg.Razorpay.KeyID)
	reconciler := payment.NewReconciler(paymentRepo, paymentGateway, publisher, cfg.Razorpay.WebhookSecret)

	sweeperCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sweeper := payment.NewSweeper(paymentRepo, cfg.Sweeper.Interval, cfg.Sweeper.PendingTimeout)
	sweeper.Start(sweeperCtx)

	orderHandler := checkoutHttp.NewOrderHandler(orderService)
	paymentHandler := checkoutHttp.NewPaymentHandler(paymentService, reconciler)
	router := transport.NewRouter(orderHandler, paymentHandler, accountRepo)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down...")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}

	log.Info().Msg("Checkout service stopped")
}
