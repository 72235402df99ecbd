package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"rebalancer/internal/handlers"
	"rebalancer/internal/middleware"
	"rebalancer/internal/portfolio"
	"rebalancer/internal/recovery"
	"rebalancer/internal/risk"
	"rebalancer/internal/routes"
	"rebalancer/internal/signal"
	"rebalancer/internal/statemachine"
	"rebalancer/pkg/config"
	"rebalancer/pkg/jupiter"
	"rebalancer/pkg/logger"
	"rebalancer/pkg/quant"
	mcsolana "rebalancer/pkg/solana"
)

func main() {
	settings := config.Load()
	logger.Init(settings.LoggerOptions())

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	st := config.OpenStore(settings)

	// Transitions go to the audit worker through RabbitMQ; without a broker they are
	// written inline.
	publisher := statemachine.StorePublisher(st)
	if config.RabbitMQConfigured() {
		config.InitRabbitMQ()
		defer config.RabbitMQ.Close()

		pub, err := config.NewPublisher()
		if err != nil {
			log.Fatal("Create publisher failed: ", err)
		}
		defer pub.Close()
		publisher = statemachine.PublisherFunc(func(rec statemachine.TransitionRecord) error {
			return pub.Publish(config.TransitionQueue, rec)
		})
	} else {
		log.Info("RabbitMQ not configured, audit logs are written inline")
	}

	jup := jupiter.NewClient(settings.JupiterURL,
		jupiter.WithQuoteTimeout(settings.QuoteTimeout),
		jupiter.WithSlippageBps(settings.SlippageBps),
		jupiter.WithStableMint(settings.USDCMint),
		jupiter.WithPriceMaxAge(settings.PriceMaxAge),
	)
	ledger := mcsolana.NewLedger(settings.SolanaRPC, settings.StatusTimeout)
	watcher := mcsolana.NewSignatureWatcher(settings.SolanaWSS)
	keys := mcsolana.NewKeyManager(settings.KeystoreDir)
	signer := mcsolana.NewSwapSigner(jup, mcsolana.KeystoreLoader(keys, settings.KeyPassword))
	allocations := signal.NewCachedSource(quant.NewClient(settings.QuantURL, settings.QuantAPIKey), settings.AllocationCacheMaxAge)

	kill := risk.NewKillSwitch(settings.TradingHalted)
	gate := risk.NewGate(jup, jup, ledger, st, kill, settings.RiskLimits())
	generator := signal.NewGenerator(allocations, ledger, jup, st, settings.SignalConfig())
	procedure := recovery.NewProcedure(st, ledger, settings.RecoveryConfig())

	registry := statemachine.NewRegistry(statemachine.Deps{
		Store:     st,
		Signals:   generator,
		Gate:      gate,
		Builder:   signer,
		Ledger:    ledger,
		Watcher:   watcher,
		Recovery:  procedure,
		Publisher: publisher,
	}, settings.StateMachineConfig())

	kill.OnActivate(func(reason string) {
		n := registry.PauseAll(context.Background(), "kill switch: "+reason)
		log.WithField("paused", n).Warn("kill switch paused bots")
	})

	// Startup recovery runs before any cycle or request can touch a bot.
	statuses, err := registry.RestoreEnabled(ctx)
	if err != nil {
		log.Fatal("Startup recovery failed: ", err)
	}
	for _, s := range statuses {
		log.WithFields(log.Fields{
			"user_id":          s.UserID,
			"vault":            s.VaultAddress,
			"previous_state":   s.PreviousState,
			"recovered_state":  s.RecoveredState,
			"trades_confirmed": s.TradesConfirmed,
			"trades_failed":    s.TradesFailed,
			"trades_pending":   s.TradesPending,
			"partial":          s.Partial,
		}).Info("bot restored")
	}

	if config.RabbitMQ != nil {
		commands, err := config.NewConsumer(config.CommandQueue)
		if err != nil {
			log.Fatal("Create consumer failed: ", err)
		}
		defer commands.Close()
		go func() {
			err := commands.Consume(ctx, func(msg []byte) error {
				return registry.HandleCommand(ctx, msg)
			})
			if err != nil {
				log.WithError(err).Error("command consumer stopped")
			}
		}()
	}

	recorder := portfolio.NewRecorder(st, ledger, jup)
	c := cron.New(cron.WithSeconds())
	addJob(c, "trading cycle", settings.CycleSchedule, func() {
		registry.RunCycles(ctx)
	})
	addJob(c, "portfolio snapshot", settings.SnapshotSchedule, func() {
		n, err := recorder.RecordAll(ctx)
		if err != nil {
			log.WithError(err).Error("portfolio snapshot failed")
			return
		}
		log.WithField("recorded", n).Info("portfolio snapshots recorded")
	})
	addJob(c, "reconciliation sweep", settings.SweepSchedule, func() {
		rep, err := procedure.Sweep(ctx)
		if err != nil {
			log.WithError(err).Error("reconciliation sweep failed")
			return
		}
		log.WithFields(log.Fields{
			"bots":             rep.Bots,
			"trades_confirmed": rep.TradesConfirmed,
			"trades_failed":    rep.TradesFailed,
			"trades_pending":   rep.TradesPending,
			"jobs_orphaned":    rep.JobsOrphaned,
			"trades_deleted":   rep.TradesDeleted,
		}).Debug("reconciliation sweep finished")
	})
	c.Start()
	defer c.Stop()

	// Set up router
	r := routes.SetupRouter(routes.Handlers{
		Bots:       handlers.NewBotHandler(registry),
		KillSwitch: handlers.NewKillSwitchHandler(kill),
		Trades:     handlers.NewTradeHandler(st),
		Health:     handlers.NewHealthHandler(settings.SolanaRPC),
	}, routes.Options{
		AllowedOrigins: settings.AllowedOrigins,
		RateLimit: middleware.RateLimiterConfig{
			RequestsPerSecond: settings.RateLimitPerSecond,
			Burst:             settings.RateLimitBurst,
		},
	})

	srv := &http.Server{Addr: ":" + settings.Port, Handler: r}
	go func() {
		log.WithField("port", settings.Port).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("HTTP server shutdown failed")
	}
}

func addJob(c *cron.Cron, name, spec string, fn func()) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		log.Fatalf("Failed to schedule %s (%q): %v", name, spec, err)
	}
	log.WithFields(log.Fields{"job": name, "schedule": spec}).Info("scheduled job")
}
