package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vagasapp/cachecore/config"
	logger "github.com/vagasapp/cachecore/logging"
	"github.com/vagasapp/cachecore/model"
	"github.com/vagasapp/cachecore/orchestrator"
	"github.com/vagasapp/cachecore/syncqueue"
	"github.com/vagasapp/cachecore/util"
)

// Demo entry point. Wires the orchestrator from configuration, runs a few
// reads and an offline mutation, and keeps the background machinery alive
// until interrupted. Real hosts embed the orchestrator directly.
func main() {
	// Initialize configuration
	if err := config.InitConfig(); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}

	// Initialize logger
	logger.InitLogger(config.GetString("log.dir"))
	defer logger.Sync()

	// The executor is the host's bridge to the remote API. The demo one
	// just logs and succeeds.
	executor := syncqueue.ExecutorFunc(func(ctx context.Context, op model.SyncOperation) error {
		logger.Info("Executing remote mutation",
			zap.String("operationID", op.ID),
			zap.String("type", string(op.Type)),
			zap.String("resource", op.Resource))
		return nil
	})

	conn := syncqueue.NewConnectivity(false)

	o, err := orchestrator.FromConfig(executor, conn)
	if err != nil {
		logger.Fatal("Failed to build cache orchestrator", zap.Error(err))
	}
	defer o.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	notifier := util.NewNotificationService()
	unsubscribe := o.AddListener(notifier.HandleEvent)
	defer unsubscribe()

	if err := o.SetCurrentUser(ctx, &model.User{ID: "demo-user", Role: model.RoleAdmin}); err != nil {
		logger.Fatal("Failed to set current user", zap.Error(err))
	}

	// First read fetches, second is served from cache.
	fetcher := func(ctx context.Context) (any, error) {
		return map[string]any{"vagas": []string{"Dev Go", "Analista RH"}, "total": 2}, nil
	}
	for i := 0; i < 2; i++ {
		if _, err := o.Get(ctx, "lista", fetcher, orchestrator.GetOptions{Resource: "vagas"}); err != nil {
			logger.Error("Read failed", zap.Error(err))
		}
	}

	// Queue a mutation while offline, then reconnect and let it drain.
	if _, err := o.AddSyncOperation(ctx, model.OperationCreate, "vagas",
		map[string]any{"titulo": "Pessoa Desenvolvedora Go"},
		syncqueue.AddOptions{Priority: model.PriorityHigh}); err != nil {
		logger.Error("Failed to queue operation", zap.Error(err))
	}
	time.Sleep(100 * time.Millisecond)
	conn.SetOnline(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")
}
