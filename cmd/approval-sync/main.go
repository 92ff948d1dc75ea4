// cmd/approval-sync/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"approval-sync/internal/approval"
	"approval-sync/internal/approval/api"
	"approval-sync/internal/approval/backend"
	"approval-sync/internal/approval/broadcast"
	"approval-sync/internal/approval/eventbus"
	"approval-sync/internal/approval/notifications"
	"approval-sync/internal/approval/overrides"
	"approval-sync/internal/common/aws"
	"approval-sync/internal/common/config"
	commonhttp "approval-sync/internal/common/http"
	"approval-sync/internal/common/logger"
	"approval-sync/internal/common/observability"
	"approval-sync/internal/models"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	bootLog := logger.New("info", "console")
	bootLog.Info("Starting approval-sync...")

	cfg, err := config.Load()
	if err != nil {
		bootLog.Fatal("config load failed", zap.Error(err))
	}
	_ = bootLog.Sync()

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	})

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("otel meter unavailable, refresh metrics disabled", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Override store with retry ---
	var backing *overrides.Backing
	err = retryWithBackoff(func() error {
		var err error
		backing, err = overrides.Open(ctx, cfg.Overrides, cfg.Database)
		return err
	}, 10, 2*time.Second, zapLog, "Override store connection")
	if err != nil {
		zapLog.Fatal("override store failed after retries", zap.Error(err))
	}
	defer backing.Close()
	log.Info("override store connected", backing.Stats())

	store := overrides.NewStore(backing.KV, cfg.Overrides.Namespace, log)

	// --- Backend client ---
	httpClient := commonhttp.NewClient(cfg.Backend.BaseURL, cfg.Backend.AuthToken, config.GetDuration(cfg.Backend.Timeout))
	client := backend.NewClient(backend.NewConfig(cfg.Backend), httpClient, log)

	bus := eventbus.New(log)
	svc := approval.NewService(client, store, bus, approval.Options{
		Reconciler:    cfg.Reconciler,
		Notifications: notifications.NewConfig(cfg.Notifications),
		Observability: obs,
	}, log)

	// --- SNS broadcast ---
	var forwarder *broadcast.Forwarder
	if cfg.Broadcast.SNS.Enabled {
		snsClient, err := aws.NewSNSClient(ctx, cfg.Broadcast.SNS.Region, cfg.Broadcast.SNS.TopicARN)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		forwarder = broadcast.NewForwarder(snsClient, bus, log)
		forwarder.Start(ctx)
		zapLog.Info("Broadcasting approval events", zap.String("topicArn", cfg.Broadcast.SNS.TopicARN))
	}

	// --- Views ---
	feeds := make(map[models.EntityKind]api.FeedView)
	views := make(map[models.EntityKind]api.EntityView)
	for _, kind := range models.Kinds() {
		removed, err := svc.CollectOverrides(ctx, kind)
		if err != nil {
			zapLog.Warn("override collection skipped", zap.String("kind", kind.String()), zap.Error(err))
		} else if removed > 0 {
			zapLog.Info("collected orphaned overrides", zap.String("kind", kind.String()), zap.Int("removed", removed))
		}

		feed, _, err := svc.MountFeed(ctx, kind)
		if err != nil {
			zapLog.Fatal("feed mount failed", zap.String("kind", kind.String()), zap.Error(err))
		}
		feeds[kind] = feed

		view, _, err := svc.MountAdminView(ctx, kind)
		if err != nil {
			zapLog.Fatal("view mount failed", zap.String("kind", kind.String()), zap.Error(err))
		}
		views[kind] = view
	}
	zapLog.Info("Views mounted", zap.Int("kinds", len(models.Kinds())))

	// --- HTTP API ---
	owners := api.NewOwnerViews(ctx, func(ctx context.Context, kind models.EntityKind, ownerID string) (api.EntityView, func(), error) {
		view, unmount, err := svc.MountOwnerView(ctx, kind, ownerID)
		if err != nil {
			return nil, nil, err
		}
		return view, unmount, nil
	}, cfg.Reconciler.MaxOwnerViews, log)
	handlers := api.NewHandlers(svc, feeds, views, log).WithOwnerViews(owners)
	router := api.NewRouter(handlers, backing.Ping, log)
	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		zapLog.Info("API server listening", zap.String("address", cfg.Server.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("API server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, unmounting views...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping API server", zap.Error(err))
	}
	owners.Close()
	svc.Close()
	if forwarder != nil {
		forwarder.Stop()
	}

	zapLog.Info("approval-sync stopped gracefully")
}
