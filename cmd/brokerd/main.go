// Command brokerd runs the interaction coordination broker: it wires
// InteractionStore, SessionIndex, Broker, the fanout Registry/Router, and the
// WebSocket server together and serves until a shutdown signal arrives.
//
// Grounded on the teacher's cmd/scriptschnell/main.go bootstrap (config load,
// logger init, lockfile acquisition, signal-driven graceful shutdown).
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/humanloop/ibroker/internal/actor"
	"github.com/humanloop/ibroker/internal/audit"
	"github.com/humanloop/ibroker/internal/broker"
	"github.com/humanloop/ibroker/internal/config"
	"github.com/humanloop/ibroker/internal/fanout"
	"github.com/humanloop/ibroker/internal/interaction"
	"github.com/humanloop/ibroker/internal/lockfile"
	"github.com/humanloop/ibroker/internal/logger"
	"github.com/humanloop/ibroker/internal/ownership"
	"github.com/humanloop/ibroker/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "brokerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.GetConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := logger.ParseLevel(cfg.LogLevel)
	if err := logger.Init(logLevel, cfg.LogPath); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "brokerd: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("interaction broker starting")

	lockPath := filepath.Join(cfg.StateDir, ".ibroker.lock")
	lf := lockfile.New(lockPath)
	if err := lf.TryAcquire(); err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			return fmt.Errorf("another broker instance is already running: %w", err)
		}
		return fmt.Errorf("acquire lockfile: %w", err)
	}
	defer func() {
		if releaseErr := lf.Release(); releaseErr != nil {
			logger.Warn("failed to release lockfile: %v", releaseErr)
		}
	}()
	logger.Info("lockfile acquired: %s", lockPath)

	verifier := ownership.NewInMemory()
	auditSink := audit.NewLoggingSink()

	sessions := store.NewSessionIndex(cfg.MaxSessions, cfg.MaxInteractionsPerSession, cfg.SessionTTL)
	registry := fanout.NewRegistry(verifier, auditSink, cfg.MaxSubscribers, cfg.MaxSubscriptionsPerSubscriber, cfg.MaxQueuePerSubscriber, cfg.NonceCacheSize, cfg.NonceWindow, cfg.SubscribeRatePerMinute)

	// Router and InteractionStore reference each other (Router resolves
	// against the store, the store notifies the router of lifecycle events);
	// wire the router first with a nil resolver, then complete the circle.
	router := fanout.NewRouter(registry, nil, auditSink)
	interactionStore := store.New(sessions, router, timeoutForKind(cfg))
	router.SetResolver(interactionStore)

	actors := actor.NewSystem()
	actorCtx, cancelActors := context.WithCancel(context.Background())
	defer cancelActors()
	if _, err := actors.Spawn(actorCtx, router.ID(), router, 256); err != nil {
		return fmt.Errorf("spawn fanout router: %w", err)
	}
	defer func() {
		if err := actors.StopAll(actorCtx); err != nil {
			logger.Warn("error stopping actor system: %v", err)
		}
	}()

	// broker.Broker is the facade an in-process agent runtime imports and
	// calls directly; this process only needs it constructed so its timers
	// and store share the same lifecycle as everything else wired here.
	_ = broker.New(interactionStore)

	sessions.StartSweeper(cfg.SessionSweepInterval)
	defer sessions.Stop()

	authToken, err := generateAuthToken()
	if err != nil {
		return fmt.Errorf("generate auth token: %w", err)
	}
	logger.Info("websocket auth token: %s", authToken)

	srv := fanout.NewServer(cfg, router, registry, authToken, interactionStore.LookupKind)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	interactionStore.Shutdown()
	if err := srv.Stop(); err != nil {
		logger.Error("error stopping server: %v", err)
	}
	logger.Info("interaction broker stopped")

	return nil
}

func timeoutForKind(cfg *config.Config) func(interaction.Kind) time.Duration {
	return func(kind interaction.Kind) time.Duration {
		switch kind {
		case interaction.KindPermission:
			return cfg.PermissionTimeout
		case interaction.KindPlanApproval:
			return cfg.PlanApprovalTimeout
		case interaction.KindAskUser:
			return cfg.AskUserTimeout
		default:
			return cfg.PermissionTimeout
		}
	}
}

func generateAuthToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
