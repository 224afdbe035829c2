package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/app"
	"github.com/imrishuroy/foodie-orderflow/internal/aws"
	"github.com/imrishuroy/foodie-orderflow/internal/config"
	"github.com/imrishuroy/foodie-orderflow/internal/handlers"
	"github.com/imrishuroy/foodie-orderflow/internal/logger"
)

const shutdownTimeout = 10 * time.Second

func setupRouter(a *app.App) *gin.Engine {
	return handlers.NewRouter(handlers.HandlerConfig{
		Service:     a.Service,
		Idempotency: a.Idempotency,
		Verifier:    a.Verifier,
		Limiter:     a.Limiter,
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	if err := cfg.ValidateAPI(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		log.Fatal("failed to init aws clients", zap.Error(err))
	}
	a, err := app.New(cfg, clients)
	if err != nil {
		log.Fatal("failed to wire app", zap.Error(err))
	}
	defer a.Close()
	go a.Run(ctx)

	r := setupRouter(a)

	// if RUN_LOCAL is set, run a local HTTP server for development.
	if cfg.RunLocal {
		srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("running local server", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
