// Command worker relays queued notification tasks to RabbitMQ and runs the
// log sink that consumes them.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/reservation-admin/internal/config"
	"github.com/iliyamo/reservation-admin/internal/database"
	"github.com/iliyamo/reservation-admin/internal/logging"
	"github.com/iliyamo/reservation-admin/internal/queue"
	"github.com/iliyamo/reservation-admin/internal/repository"
)

func main() {
	_ = godotenv.Load()
	qcfg := config.LoadQueueConfig()

	db, err := database.Open(config.DatabaseURL())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	pub := queue.NewAMQPPublisher(qcfg.URL, qcfg.QueueName)
	defer pub.Close()
	relay := queue.NewRelay(repository.NewTaskRepo(db), pub, qcfg, logging.NewStdLogger(nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(ctx) })
	if os.Getenv("TASK_LOG_SINK") != "off" {
		g.Go(func() error { return queue.StartNotificationConsumer(ctx, qcfg) })
	}
	log.Printf("worker started (queue=%s batch=%d)", qcfg.QueueName, qcfg.BatchSize)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker: %v", err)
	}
}
