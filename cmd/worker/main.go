package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"rebalancer/internal/statemachine"
	"rebalancer/pkg/config"
	"rebalancer/pkg/logger"
)

func main() {
	purge := flag.String("purge", "", "purge the named queues (comma separated, or \"all\") and exit")
	flag.Parse()

	settings := config.Load()
	logger.Init(settings.LoggerOptions())

	// Stale operator commands left behind by a stopped engine are dropped here.
	if *purge != "" {
		queues, err := config.ParseQueues(*purge)
		if err != nil {
			log.Fatal("Invalid -purge: ", err)
		}
		config.InitRabbitMQ()
		defer config.RabbitMQ.Close()
		for _, q := range queues {
			if err := config.PurgeQueue(q); err != nil {
				log.Fatal("Purge failed: ", err)
			}
		}
		return
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	st := config.OpenStore(settings)

	// Initialize RabbitMQ
	config.InitRabbitMQ()
	defer config.RabbitMQ.Close()

	msgConsumer, err := config.NewConsumer(config.TransitionQueue)
	if err != nil {
		log.Fatal("Failed to create consumer: ", err)
	}
	defer msgConsumer.Close()

	log.Info("Audit worker started, waiting for transitions...")

	audit := statemachine.AuditConsumer(st)
	if err := msgConsumer.Consume(ctx, func(msg []byte) error {
		return audit(ctx, msg)
	}); err != nil {
		log.Fatal("Consume failed: ", err)
	}
	log.Info("Audit worker stopped")
}
