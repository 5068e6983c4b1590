package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibast-solutions/ms-go-momo/app/controller"
	"github.com/vibast-solutions/ms-go-momo/app/fanout"
	"github.com/vibast-solutions/ms-go-momo/app/provider"
	"github.com/vibast-solutions/ms-go-momo/app/repository"
	"github.com/vibast-solutions/ms-go-momo/app/service"
	"github.com/vibast-solutions/ms-go-momo/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP server: payment initiation, provider webhook, status queries, and the websocket status stream.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, deps, cleanup := mustCreateService()
	defer cleanup()

	paymentController := controller.NewPaymentController(deps.paymentService, deps.hub)
	e := setupHTTPServer(paymentController)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(paymentController *controller.PaymentController) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(echomiddleware.RequestID())

	e.GET("/health", paymentController.Health)

	payments := e.Group("/payments")
	payments.POST("/initiate", paymentController.InitiatePayment)
	payments.POST("/webhook", paymentController.HandleProviderWebhook)
	payments.GET("/status/:orderId", paymentController.GetOrderStatus)
	payments.GET("/ws", paymentController.Subscribe)
	payments.GET("/:reference", paymentController.GetPayment)

	return e
}

type serviceDeps struct {
	paymentService *service.PaymentService
	hub            *fanout.Hub
}

func mustCreateService() (*config.Config, *serviceDeps, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	recordRepo := repository.NewPaymentRecordRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	eventRepo := repository.NewPaymentEventRepository(db)

	momoProvider := provider.NewMomoProvider(provider.MomoConfig{
		BaseURL:       cfg.Momo.BaseURL,
		APIKey:        cfg.Momo.APIKey,
		WebhookSecret: cfg.Momo.WebhookSecret,
		HTTPTimeout:   cfg.Momo.HTTPTimeout,
	})

	providerRegistry := provider.NewRegistry(momoProvider)
	hub := fanout.NewHub()

	paymentService := service.NewPaymentService(
		recordRepo,
		orderRepo,
		eventRepo,
		providerRegistry,
		hub,
		cfg.Payments,
	)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, &serviceDeps{paymentService: paymentService, hub: hub}, cleanup
}
