package inmemory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dvloznov/cashflow-ledger/internal/jobs"
	"github.com/dvloznov/cashflow-ledger/internal/logger"
	"github.com/rs/zerolog"
)

// Queue is an in-memory implementation of job publisher and consumer.
// Job IDs travel over a buffered channel; the job state itself lives in a
// JobStore, so a lost queue only loses the trigger, never the job.
type Queue struct {
	jobChan   chan string
	closeChan chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	workers   int
	log       zerolog.Logger
	closed    bool
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before PublishImport blocks.
func NewQueue(bufferSize, workers int, log zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = 5
	}
	return &Queue{
		jobChan:   make(chan string, bufferSize),
		closeChan: make(chan struct{}),
		workers:   workers,
		log:       log,
	}
}

// PublishImport implements the Publisher interface.
func (q *Queue) PublishImport(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return fmt.Errorf("queue is closed")
	}

	select {
	case q.jobChan <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return fmt.Errorf("queue is closed")
	}
}

// Start implements the Consumer interface.
// It starts the configured number of workers, each calling handler for
// the jobs it receives.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return fmt.Errorf("queue is closed")
	}
	q.mu.RUnlock()

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	return nil
}

// worker processes jobs from the queue.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closeChan:
			return
		case jobID := <-q.jobChan:
			log := q.log.With().Str("job_id", jobID).Logger()
			if err := handler(logger.WithContext(ctx, log), jobID); err != nil {
				log.Error().Err(err).Msg("Import job handler returned an error")
			}
		}
	}
}

// Stop implements the Consumer interface.
// It stops the queue and waits for all in-flight jobs to complete.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.closeChan)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
