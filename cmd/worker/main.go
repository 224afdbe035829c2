package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/foodie-orderflow/internal/app"
	"github.com/imrishuroy/foodie-orderflow/internal/aws"
	"github.com/imrishuroy/foodie-orderflow/internal/config"
	"github.com/imrishuroy/foodie-orderflow/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	// the worker only ever delivers timeouts through SQS
	cfg.RunLocal = false
	logger.Init(cfg.AppEnv)
	defer logger.Sync()
	log := logger.L()

	if err := cfg.ValidateWorker(); err != nil {
		log.Fatal("invalid config", zap.Error(err))
	}

	ctx := context.Background()
	clients, err := aws.NewAWSClients(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		log.Fatal("failed to init aws clients", zap.Error(err))
	}
	a, err := app.New(cfg, clients)
	if err != nil {
		log.Fatal("failed to wire app", zap.Error(err))
	}
	defer a.Close()

	p := NewProcessor(a.Service, a.Queue)

	// LOCAL_SQS_BODY runs a single message through the processor for local testing.
	if body := os.Getenv("LOCAL_SQS_BODY"); body != "" {
		resp, err := p.Handle(ctx, events.SQSEvent{Records: []events.SQSMessage{{MessageId: "local", Body: body}}})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			log.Fatal("local handler failed", zap.Error(err))
		}
		return
	}

	lambda.Start(p.Handle)
}
