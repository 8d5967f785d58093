package cmd

import (
	"context"
	"crypto/subtle"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/controller"
	paymentgrpc "github.com/vibast-solutions/ms-go-payment-gateway/app/grpc"
	"github.com/vibast-solutions/ms-go-payment-gateway/app/types"
	"google.golang.org/grpc"
)

const (
	headerAPIKey        = "X-API-Key"
	healthCheckInterval = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	Long:  "Start the HTTP (Echo) API with the MercadoPago webhook endpoint and the gRPC health server.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	gw, cleanup := mustCreateGateway()
	defer cleanup()
	cfg := gw.cfg

	paymentController := controller.NewPaymentController(gw.payments)
	webhookController := controller.NewWebhookController(gw.webhooks)

	e := setupHTTPServer(paymentController, webhookController, cfg.App.APIKey)

	healthServer := gw.newHealthServer()
	grpcSrv, lis := setupGRPCServer(net.JoinHostPort(cfg.GRPC.Host, cfg.GRPC.Port), healthServer)

	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	go healthServer.Run(healthCtx, healthCheckInterval)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	go func() {
		logrus.WithField("addr", lis.Addr().String()).Info("Starting gRPC server")
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Fatal("gRPC server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	stopHealth()
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}
	grpcSrv.GracefulStop()

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	paymentController *controller.PaymentController,
	webhookController *controller.WebhookController,
	apiKey string,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(ensureRequestID())
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
				"request_id": v.RequestID,
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

	e.GET("/health", paymentController.Health)

	e.POST("/webhooks/mercadopago", webhookController.HandleMercadoPago)

	payments := e.Group("/payments")
	if apiKey != "" {
		payments.Use(requireAPIKey(apiKey))
	} else {
		logrus.Warn("APP_API_KEY is empty; /payments endpoints are unauthenticated")
	}
	payments.POST("/preferences", paymentController.CreatePreference)
	payments.GET("/:id", paymentController.GetPayment)
	payments.POST("/:id/refunds", paymentController.CreateRefund)

	return e
}

// ensureRequestID keeps the caller's X-Request-Id or assigns a new one, and
// echoes it back on the response.
func ensureRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req := ctx.Request()
			requestID := strings.TrimSpace(req.Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				requestID = uuid.NewString()
				req.Header.Set(echo.HeaderXRequestID, requestID)
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func requireAPIKey(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			provided := strings.TrimSpace(ctx.Request().Header.Get(headerAPIKey))
			if subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				return ctx.JSON(http.StatusUnauthorized, &types.ErrorResponse{Error: "invalid api key"})
			}
			return next(ctx)
		}
	}
}

func setupGRPCServer(addr string, healthServer *paymentgrpc.Server) (*grpc.Server, net.Listener) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to listen on gRPC port")
	}

	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			paymentgrpc.RecoveryInterceptor(),
			paymentgrpc.RequestIDInterceptor(),
			paymentgrpc.LoggingInterceptor(),
		),
	)
	healthServer.Register(grpcSrv)

	return grpcSrv, lis
}
