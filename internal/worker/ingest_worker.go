package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"docuchat/internal/platform/rabbitmq"
)

// Ingestor runs the ingestion pipeline for one document. Failures are
// recorded on the document row, so the worker only needs to know the
// run ended.
type Ingestor interface {
	Ingest(ctx context.Context, documentID uint) error
}

// IngestWorker consumes ingest jobs and drives the pipeline. Prefetch
// bounds how many documents are processed concurrently on one node;
// distinct documents never block each other.
type IngestWorker struct {
	conn       *amqp.Connection
	ingestor   Ingestor
	queueName  string
	prefetch   int
	jobTimeout time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, ingestor Ingestor, queueName string, prefetch int, jobTimeout time.Duration) *IngestWorker {
	if prefetch <= 0 {
		prefetch = 1
	}
	if jobTimeout <= 0 {
		jobTimeout = 5 * time.Minute
	}
	return &IngestWorker{
		conn:       conn,
		ingestor:   ingestor,
		queueName:  queueName,
		prefetch:   prefetch,
		jobTimeout: jobTimeout,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	_, err = ch.QueueDeclare(
		w.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	var job rabbitmq.IngestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Printf("worker decode ingest job failed: %v", err)
		_ = d.Nack(false, false)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	err := w.ingestor.Ingest(jobCtx, job.DocumentID)
	cancel()
	if err != nil {
		// The pipeline already marked the document failed; requeueing
		// would just rerun a failure the user can see and retrigger.
		log.Printf("worker ingest document %d failed: %v", job.DocumentID, err)
	}
	_ = d.Ack(false)
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
