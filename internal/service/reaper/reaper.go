// Package reaper expires abandoned purchase intents: pending transactions
// whose provider confirmation never arrived. Balances are never touched here,
// an abandoned top-up is incomplete, not an error.
package reaper

import (
	"context"
	"sync"
	"time"

	"github.com/companionspay/ledgerd/internal/logger"
	"github.com/companionspay/ledgerd/internal/models"
	"github.com/companionspay/ledgerd/internal/repository"
)

const (
	defaultCountWorkers  = 4
	defaultSweepInterval = 10 * time.Minute
	defaultPendingTTL    = 24 * time.Hour
	defaultBatchSize     = 100
)

type Reaper struct {
	producer *producer
	consumer *consumer
}

func New(storage repository.Storage, l logger.Logger) *Reaper {
	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Reaper{
		producer: &producer{
			interval:     defaultSweepInterval,
			pendingTTL:   defaultPendingTTL,
			batchSize:    defaultBatchSize,
			transactions: storage.Transaction(),
			logger:       l,
		},
		consumer: &consumer{
			countWorkers: defaultCountWorkers,
			transactions: storage.Transaction(),
			logger:       l,
		},
	}
}

// Run starts the sweep loop and workers; the returned channel closes when
// both have fully stopped after context cancellation
func (r *Reaper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	staleChan := make(chan models.Transaction)

	producerStopped := r.producer.produce(ctx, staleChan)
	consumerStopped := r.consumer.consume(ctx, staleChan)

	go func() {
		defer close(idleStopped)
		defer close(staleChan)
		<-producerStopped
		<-consumerStopped
		r.consumer.logger.Debug("Reaper stopped")
	}()

	return idleStopped
}

type producer struct {
	interval   time.Duration
	pendingTTL time.Duration
	batchSize  int

	transactions repository.TransactionRepo
	logger       logger.Logger
}

func (p *producer) produce(ctx context.Context, out chan<- models.Transaction) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting reaper sweep loop", "interval", p.interval, "pending_ttl", p.pendingTTL)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Reaper sweep loop stopped by context")
				return

			case <-ticker.C:
				stale, err := p.transactions.ListStalePending(ctx, time.Now().Add(-p.pendingTTL), p.batchSize)
				if err != nil {
					p.logger.Error("Failed to list stale pending transactions", "error", err)
					continue
				}

				for _, tr := range stale {
					select {
					case <-ctx.Done():
						p.logger.Debug("Reaper sweep loop stopped by context while sending")
						return
					case out <- tr:
					}
				}
			}
		}
	}()

	return idleStopped
}

type consumer struct {
	countWorkers int

	transactions repository.TransactionRepo
	logger       logger.Logger
}

func (c *consumer) consume(ctx context.Context, in <-chan models.Transaction) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < c.countWorkers; i++ {
		wg.Add(1)
		go func() {
			c.worker(ctx, in)
			wg.Done()
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Reaper workers stopped")
	}()

	return idleStopped
}

func (c *consumer) worker(ctx context.Context, in <-chan models.Transaction) {
	for {
		select {
		case <-ctx.Done():
			return

		case tr, ok := <-in:
			if !ok {
				return
			}

			failed, err := c.transactions.MarkFailed(ctx, tr.ID)
			if err != nil {
				// Raced with a late capture: the transaction completed, leave it be
				c.logger.Debug("Skipping stale pending transaction", "transaction_id", tr.ID, "error", err)
				continue
			}

			c.logger.Info("Expired abandoned pending transaction",
				"transaction_id", failed.ID,
				"user_id", failed.UserID,
				"type", failed.Type,
				"amount", failed.Amount,
			)
		}
	}
}
