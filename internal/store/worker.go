package store

import "context"

// Job is a unit of database work executed on the worker goroutine.
type Job func(db *DB)

// Worker owns the database handle after hydration. Every later read or
// write goes through Do, so exactly one goroutine ever touches the
// connection and the store needs no internal locking.
type Worker struct {
	db     *DB
	jobs   chan Job
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker wraps an opened database. Call Start before Do.
func NewWorker(db *DB) *Worker {
	return &Worker{
		db:   db,
		jobs: make(chan Job, 128),
		done: make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go func() {
		defer close(w.done)
		for {
			select {
			case job := <-w.jobs:
				job(w.db)
			case <-ctx.Done():
				// Drain what is already queued so accepted writes land.
				for {
					select {
					case job := <-w.jobs:
						job(w.db)
					default:
						return
					}
				}
			}
		}
	}()
}

// Do queues a job. Blocks only when the queue is full, which bounds the
// memory held by pending writes.
func (w *Worker) Do(job Job) {
	w.jobs <- job
}

// Stop cancels the worker, waits for queued jobs to finish and closes the
// database.
func (w *Worker) Stop() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	return w.db.Close()
}
