package ocr

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// crashCooldown is the fixed delay between crash detection and a respawn
// attempt. Named per spec.md §4.2 ("schedule a 2 s cooldown").
const crashCooldown = 2 * time.Second

// Metrics is the subset of Prometheus collectors the Pool reports against.
// Accepting an interface here (rather than importing internal/metrics
// directly) keeps the supervisor free of any particular metrics backend.
type Metrics interface {
	IncRestart()
	IncOverloaded()
	SetQueueDepth(n int)
	ObserveJobDuration(d time.Duration)
	SetWorkersReady(n int)
	SetWorkersBusy(n int)
}

// Config carries the pool-wide settings read from the environment (see
// internal/config).
type Config struct {
	WorkerCount   int
	WorkerBinPath string
	WorkerArgs    []string
	QueueMaxSize  int
	OCRTimeout    time.Duration
	ReadyTimeout  time.Duration
}

// WorkerStat is a point-in-time snapshot of one Worker, returned by Stats.
type WorkerStat struct {
	ID    int
	Ready bool
	Busy  bool
}

// PoolStats drives the health endpoint and any operator tooling.
type PoolStats struct {
	Workers    []WorkerStat
	QueueDepth int
}

// Pool is the Supervisor from spec.md §4.2: it owns a fixed set of Workers,
// dispatches jobs first-fit by id, manages the bounded admission queue, and
// recovers from Worker crashes with a cooldown before respawn.
type Pool struct {
	cfg     Config
	metrics Metrics

	mu         sync.Mutex
	workers    []*Worker
	queue      *fifoQueue
	restarting map[int]bool
}

// NewPool constructs the fixed-size Worker table. Workers are created here
// but not started; call Init to bring them up.
func NewPool(cfg Config, m Metrics) *Pool {
	p := &Pool{
		cfg:        cfg,
		metrics:    m,
		queue:      newFIFOQueue(cfg.QueueMaxSize),
		restarting: make(map[int]bool),
	}
	p.workers = make([]*Worker, cfg.WorkerCount)
	for i := range p.workers {
		p.workers[i] = NewWorker(i, cfg.WorkerBinPath, cfg.WorkerArgs, p, cfg.ReadyTimeout, cfg.OCRTimeout)
	}
	return p
}

// Init starts every Worker concurrently and returns as soon as at least one
// reaches readiness. The remaining starts continue in the background. If
// every Worker fails to start, Init returns a KindFatalStartup error.
func (p *Pool) Init() error {
	n := len(p.workers)
	if n == 0 {
		return newError(KindFatalStartup, errors.New("worker count is zero"))
	}

	success := make(chan struct{}, n)
	failure := make(chan struct{}, n)
	for _, w := range p.workers {
		w := w
		go func() {
			if err := w.Start(); err != nil {
				log.Error().Int("worker_id", w.ID()).Err(err).Msg("worker: failed to start")
				failure <- struct{}{}
				return
			}
			log.Info().Int("worker_id", w.ID()).Msg("worker: ready")
			success <- struct{}{}
		}()
	}

	failed := 0
	for {
		select {
		case <-success:
			return nil
		case <-failure:
			failed++
			if failed == n {
				return newError(KindFatalStartup, errors.New("no worker reached readiness"))
			}
		}
	}
}

// AnyReady reports whether at least one Worker currently has ready=true.
// Used by the health endpoint: false means pool-not-ready (§7).
func (p *Pool) AnyReady() bool {
	for _, w := range p.workers {
		if w.Ready() {
			return true
		}
	}
	return false
}

// Stats returns a snapshot used by the health endpoint and operator CLI.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	qd := p.queue.len()
	p.mu.Unlock()

	stats := make([]WorkerStat, len(p.workers))
	ready, busy := 0, 0
	for i, w := range p.workers {
		r, b := w.Ready(), w.Busy()
		stats[i] = WorkerStat{ID: w.ID(), Ready: r, Busy: b}
		if r {
			ready++
		}
		if b {
			busy++
		}
	}
	if p.metrics != nil {
		p.metrics.SetWorkersReady(ready)
		p.metrics.SetWorkersBusy(busy)
	}
	return PoolStats{Workers: stats, QueueDepth: qd}
}

// Run dispatches one PDF to a free Worker, or enqueues it if none are free
// and the queue has spare capacity, or fails immediately with
// KindOverloaded. It blocks until the job completes, times out, is
// rejected, or (if queued) its own queue-scoped timeout fires.
func (p *Pool) Run(pdfPath, clientRequestID string) (Result, error) {
	start := time.Now()

	p.mu.Lock()
	for _, w := range p.workers {
		if w.tryAcquire() {
			p.mu.Unlock()
			res, err := w.Execute(pdfPath)
			p.observeJob(start, err)
			return res, err
		}
	}

	if !p.queue.hasCapacity() {
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.IncOverloaded()
		}
		return Result{}, newError(KindOverloaded, nil)
	}

	entry := &queueEntry{
		pdfPath:         pdfPath,
		clientRequestID: clientRequestID,
		resultCh:        make(chan jobOutcome, 1),
	}
	entry.timer = time.AfterFunc(p.cfg.OCRTimeout, func() { p.timeoutQueueEntry(entry) })
	p.queue.pushBack(entry)
	qlen := p.queue.len()
	p.mu.Unlock()
	p.setQueueDepth(qlen)

	outcome := <-entry.resultCh
	p.observeJob(start, outcome.err)
	return outcome.result, outcome.err
}

func (p *Pool) observeJob(start time.Time, err error) {
	if p.metrics == nil {
		return
	}
	if err == nil {
		p.metrics.ObserveJobDuration(time.Since(start))
	}
}

func (p *Pool) setQueueDepth(n int) {
	if p.metrics != nil {
		p.metrics.SetQueueDepth(n)
	}
}

// timeoutQueueEntry fires when a queued entry's own dequeue timer expires.
// It is a no-op if the entry was already dispatched or removed.
func (p *Pool) timeoutQueueEntry(e *queueEntry) {
	p.mu.Lock()
	if e.elem == nil {
		p.mu.Unlock()
		return
	}
	p.queue.remove(e)
	qlen := p.queue.len()
	p.mu.Unlock()
	p.setQueueDepth(qlen)
	e.resultCh <- jobOutcome{err: newError(KindQueuedTooLong, nil)}
}

// onFree implements the notifier callback a Worker uses to report it has
// become free. If the queue is non-empty, the head entry is dispatched to
// workerID — unless that Worker has stopped being ready between the
// callback and the dispatch (spec.md §4.2's "Stale free signal" scenario),
// in which case the entry is pushed back to preserve FIFO order.
func (p *Pool) onFree(workerID int) {
	p.mu.Lock()
	entry, ok := p.queue.popFront()
	if !ok {
		p.mu.Unlock()
		return
	}
	w := p.workers[workerID]
	if !w.tryAcquire() {
		p.queue.pushFront(entry)
		p.mu.Unlock()
		return
	}
	qlen := p.queue.len()
	p.mu.Unlock()

	entry.timer.Stop()
	p.setQueueDepth(qlen)
	go p.dispatchQueued(w, entry)
}

// onCrash implements the notifier callback a Worker uses to report its
// child process exited. Idempotent per Worker id via the restarting set.
func (p *Pool) onCrash(workerID int, exitCode int) {
	p.mu.Lock()
	if p.restarting[workerID] {
		p.mu.Unlock()
		return
	}
	p.restarting[workerID] = true
	p.mu.Unlock()

	log.Warn().Int("worker_id", workerID).Int("exit_code", exitCode).Msg("worker: crashed, scheduling restart")
	if p.metrics != nil {
		p.metrics.IncRestart()
	}
	go p.restartWorker(workerID)
}

func (p *Pool) restartWorker(workerID int) {
	time.Sleep(crashCooldown)

	w := p.workers[workerID]
	err := w.Start()

	p.mu.Lock()
	delete(p.restarting, workerID)
	p.mu.Unlock()

	if err != nil {
		log.Error().Int("worker_id", workerID).Err(err).Msg("worker: restart failed")
		return
	}
	log.Info().Int("worker_id", workerID).Msg("worker: restarted")
	p.drainIdleWorkers()
}

// drainIdleWorkers dispatches queued entries to any ready∧¬busy Worker,
// first-fit by id, until the queue empties or none are free. Called after
// a successful restart since a respawned Worker's readiness is not itself
// an onFree event.
func (p *Pool) drainIdleWorkers() {
	for {
		p.mu.Lock()
		entry, ok := p.queue.popFront()
		if !ok {
			p.mu.Unlock()
			return
		}

		var target *Worker
		for _, w := range p.workers {
			if w.tryAcquire() {
				target = w
				break
			}
		}
		if target == nil {
			p.queue.pushFront(entry)
			p.mu.Unlock()
			return
		}
		qlen := p.queue.len()
		p.mu.Unlock()

		entry.timer.Stop()
		p.setQueueDepth(qlen)
		go p.dispatchQueued(target, entry)
	}
}

func (p *Pool) dispatchQueued(w *Worker, e *queueEntry) {
	res, err := w.Execute(e.pdfPath)
	e.resultCh <- jobOutcome{result: res, err: err}
}
