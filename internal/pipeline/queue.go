package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"saledrop-pipeline/internal/fetcher"
	"saledrop-pipeline/internal/metrics"
)

// ErrQueueFull is returned when a trigger arrives while every slot is taken.
// The next scheduled run picks the mail up.
var ErrQueueFull = errors.New("pipeline: job queue full")

// ErrQueueClosed is returned after Stop
var ErrQueueClosed = errors.New("pipeline: job queue closed")

// Runner processes mail for one mailbox
type Runner interface {
	Mailbox(address string) (fetcher.Mailbox, bool)
	RunForMailbox(ctx context.Context, mb fetcher.Mailbox) (Stats, error)
}

// Queue runs triggered mailbox jobs on a fixed pool of workers
type Queue struct {
	runner  Runner
	metrics *metrics.Metrics
	jobs    chan fetcher.Mailbox
	workers int

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewQueue creates a queue holding up to size pending jobs
func NewQueue(runner Runner, m *metrics.Metrics, size, workers int) *Queue {
	if size <= 0 {
		size = 16
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		runner:  runner,
		metrics: m,
		jobs:    make(chan fetcher.Mailbox, size),
		workers: workers,
	}
}

// Start launches the workers. They exit when Stop is called or ctx is done.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx, i)
	}
	logrus.Infof("Job queue started with %d workers", q.workers)
}

func (q *Queue) work(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case mb, ok := <-q.jobs:
			if !ok {
				return
			}
			q.metrics.QueueDepth.Set(float64(len(q.jobs)))

			stats, err := q.runner.RunForMailbox(ctx, mb)
			log := logrus.WithFields(logrus.Fields{"worker": id, "mailbox": mb.Address()})
			if err != nil {
				log.Errorf("Triggered run failed: %v", err)
				continue
			}
			log.WithField("analyzed", stats.Analyzed).Info("Triggered run completed")
		}
	}
}

// EnqueueForAddress schedules a run for the mailbox receiving at address
func (q *Queue) EnqueueForAddress(address string) error {
	mb, ok := q.runner.Mailbox(address)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownMailbox, address)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- mb:
		q.metrics.QueueDepth.Set(float64(len(q.jobs)))
		return nil
	default:
		logrus.WithField("mailbox", mb.Address()).Warn("Job queue full, dropping trigger")
		return ErrQueueFull
	}
}

// Stop stops accepting jobs and waits for the workers to drain the queue
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
