package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/RezaEskandarii/gofire/custom_errors"
	"github.com/RezaEskandarii/gofire/jobmanager"
	"github.com/RezaEskandarii/gofire/types"
	"github.com/RezaEskandarii/gofire/types/config"
)

const defaultPostgresURL = "host=localhost port=5432 user=postgres password=postgres dbname=gofire sslmode=disable"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	opts := []config.ContainerOption{
		config.WithLogger(logger),
		config.WithQueues("sms:4;reports:1;-sms,reports:2"),
		config.WithConcurrencyLimit("reports", 1),
		config.WithHealthAddr(":8080"),
		config.WithCronEntries(
			types.CronEntry{Key: "daily-sales", Schedule: "0 0 * * *", JobClass: "GenerateDailySalesReport", Queue: "reports"},
			types.CronEntry{Key: "cache-refresh", Schedule: "@every 5m", JobClass: "RefreshCache", Args: []any{"us-east-1"}},
		),
	}
	if os.Getenv("GOFIRE_INSTANCE") == "" {
		opts = append(opts, config.WithInstance("west-canada"))
	}
	if os.Getenv("GOFIRE_DATABASE_URL") == "" {
		opts = append(opts, config.WithPostgresConfig(config.PostgresConfig{ConnectionUrl: defaultPostgresURL}))
	}

	cfg, err := config.FromEnv(opts...)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := cfg.RegisterHandlers([]config.MethodHandler{
		{JobName: "send_sms", Func: sendSms},
		{JobName: "GenerateDailySalesReport", Func: generateReport},
		{JobName: "RefreshCache", Func: refreshCache},
	}); err != nil {
		logger.Error("failed to register handlers", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	gofire, err := jobmanager.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to start gofire", "error", err)
		os.Exit(1)
	}

	for i := 0; i < 20; i++ {
		params := types.EnqueueParams{
			JobClass: "send_sms",
			Args:     []any{fmt.Sprintf("phone-%d", i), "your code is 1234"},
			Queue:    "sms",
			Priority: i % 3,
		}
		if _, err := gofire.Enqueue(ctx, params); err != nil {
			logger.Error("failed to enqueue", "error", err)
		}
	}

	runAt := time.Now().Add(time.Minute)
	if _, err := gofire.Enqueue(ctx, types.EnqueueParams{JobClass: "GenerateDailySalesReport", Queue: "reports", ScheduledAt: &runAt, ConcurrencyKey: "reports"}); err != nil {
		logger.Error("failed to enqueue", "error", err)
	}

	if err := gofire.GracefulExit(); err != nil {
		logger.Error("shutdown finished with errors", "error", err)
		os.Exit(1)
	}
}

func sendSms(ctx context.Context, args ...any) error {
	if len(args) != 2 {
		return custom_errors.Fatal(fmt.Errorf("send_sms expects 2 arguments, got %d", len(args)))
	}
	to, _ := args[0].(string)
	message, _ := args[1].(string)
	if strings.HasPrefix(to, "phone-1") {
		return errors.New("sms gateway timeout")
	}
	slog.InfoContext(ctx, "sending sms", "to", to, "message", message)
	return nil
}

func generateReport(ctx context.Context, args ...any) error {
	select {
	case <-time.After(2 * time.Second):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func refreshCache(ctx context.Context, args ...any) error {
	slog.InfoContext(ctx, "refreshing cache", "region", args)
	return nil
}
