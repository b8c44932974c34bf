package ocr

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Result is what a successful OCR job produces.
type Result struct {
	Text      string
	PageCount *int
}

type jobOutcome struct {
	result Result
	err    error
}

type pendingEntry struct {
	requestID string
	resultCh  chan jobOutcome
	timer     *time.Timer
}

// notifier is the one-way capability a Worker holds to report back to its
// owning Pool without a back-pointer into Pool internals (see SPEC_FULL.md
// §9 / spec.md §9, "Cyclic reference").
type notifier interface {
	onFree(workerID int)
	onCrash(workerID int, exitCode int)
}

// Worker owns one child OCR process for its full lifetime: spawn, readiness
// handshake, one-job-at-a-time request/response multiplexing over
// line-delimited JSON, crash detection and termination.
type Worker struct {
	id       int
	binPath  string
	args     []string
	notifier notifier

	readyTimeout time.Duration
	jobTimeout   time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	ready   bool
	busy    bool
	pending map[string]*pendingEntry

	readyCh   chan error
	readyOnce sync.Once
	readyTmr  *time.Timer
}

// NewWorker constructs a Worker with a stable id. It does not spawn the
// child; call Start for that.
func NewWorker(id int, binPath string, args []string, n notifier, readyTimeout, jobTimeout time.Duration) *Worker {
	return &Worker{
		id:           id,
		binPath:      binPath,
		args:         args,
		notifier:     n,
		readyTimeout: readyTimeout,
		jobTimeout:   jobTimeout,
		pending:      make(map[string]*pendingEntry),
	}
}

// ID returns the Worker's stable, never-reused index within the Pool.
func (w *Worker) ID() int { return w.id }

// Start spawns the child process and blocks until it reports readiness (or
// fails to). It may be called again after a crash to respawn in place.
func (w *Worker) Start() error {
	cmd := exec.Command(w.binPath, w.args...)
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1", "PYTHONFAULTHANDLER=1")
	// No Setpgid: the child stays in our process group rather than being
	// detached into a group of its own.

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return newError(KindFatalStartup, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return newError(KindFatalStartup, err)
	}
	cmd.Stderr = &stderrLogger{workerID: w.id}

	w.mu.Lock()
	w.cmd = cmd
	w.stdin = stdin
	w.ready = false
	w.busy = false
	w.pending = make(map[string]*pendingEntry)
	w.readyCh = make(chan error, 1)
	w.readyOnce = sync.Once{}
	w.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return newError(KindFatalStartup, err)
	}

	w.readyTmr = time.AfterFunc(w.readyTimeout, func() {
		log.Warn().Int("worker_id", w.id).Msg("worker: ready timeout, killing child")
		w.killForce()
		w.resolveReady(false, errors.New("ready timeout exceeded"))
	})

	go w.readLoop(bufio.NewReader(stdout))
	go w.waitExit()

	return <-w.readyCh
}

// readLoop consumes the child's stdout one line at a time. Each line is
// either the one-time readiness message or a job response; malformed lines
// are logged and discarded without stalling the stream.
func (w *Worker) readLoop(r *bufio.Reader) {
	for {
		raw, err := r.ReadString('\n')
		if len(raw) > 0 {
			w.handleLine(raw)
		}
		if err != nil {
			return
		}
	}
}

func (w *Worker) handleLine(raw string) {
	var l line
	if err := json.Unmarshal([]byte(raw), &l); err != nil {
		log.Warn().Int("worker_id", w.id).Str("line", raw).Msg("worker: malformed stdout line, discarding")
		return
	}

	if l.Ready != nil {
		if *l.Ready {
			w.resolveReady(true, nil)
		} else {
			w.resolveReady(false, errors.New(l.Error))
		}
		return
	}

	if l.ID == "" {
		log.Warn().Int("worker_id", w.id).Str("line", raw).Msg("worker: malformed stdout line, discarding")
		return
	}

	w.handleResponse(l)
}

func (w *Worker) resolveReady(ready bool, err error) {
	w.readyOnce.Do(func() {
		if w.readyTmr != nil {
			w.readyTmr.Stop()
		}
		w.mu.Lock()
		w.ready = ready
		w.mu.Unlock()
		if ready {
			w.readyCh <- nil
		} else {
			w.readyCh <- newError(KindFatalStartup, err)
		}
	})
}

func (w *Worker) handleResponse(l line) {
	w.mu.Lock()
	entry, ok := w.pending[l.ID]
	if ok {
		delete(w.pending, l.ID)
		w.busy = false
	}
	w.mu.Unlock()

	if !ok {
		log.Info().Int("worker_id", w.id).Str("request_id", l.ID).Msg("worker: dropping response for unknown or expired request id")
		return
	}

	entry.timer.Stop()

	var outcome jobOutcome
	if l.Error != "" {
		outcome.err = newError(KindOCRFailed, errors.New(l.Error))
	} else {
		outcome.result = Result{Text: l.Text, PageCount: l.PageCount}
	}
	entry.resultCh <- outcome

	if w.notifier != nil {
		w.notifier.onFree(w.id)
	}
}

// waitExit blocks until the child process exits, then fails every pending
// job, resolves a still-unresolved readiness signal, and notifies the Pool.
func (w *Worker) waitExit() {
	err := w.cmd.Wait()
	exitCode := exitCodeOf(err)

	w.mu.Lock()
	w.ready = false
	w.busy = false
	pending := w.pending
	w.pending = make(map[string]*pendingEntry)
	w.mu.Unlock()

	crashErr := newCrashError(exitCode, err)
	for _, entry := range pending {
		entry.timer.Stop()
		entry.resultCh <- jobOutcome{err: crashErr}
	}

	w.resolveReady(false, errors.New("worker exited before reporting readiness"))

	if w.notifier != nil {
		w.notifier.onCrash(w.id, exitCode)
	}
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// tryAcquire atomically transitions the Worker from ready∧¬busy to busy. It
// is the sole enforcement point of the "execute precondition" in spec.md
// §4.1: the Pool must not write to a Worker's stdin while busy.
func (w *Worker) tryAcquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ready && !w.busy {
		w.busy = true
		return true
	}
	return false
}

// Ready reports the Worker's ready flag: its child has emitted readiness and
// has not exited since. A busy Worker still reports true; use tryAcquire to
// claim it for a dispatch.
func (w *Worker) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Busy reports whether the Worker has an outstanding job.
func (w *Worker) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.busy
}

// Execute submits one PDF to this Worker's child process and blocks until a
// response, a job timeout, or a crash resolves it. Callers must have
// already won tryAcquire (directly or via the Pool's dispatch policy).
func (w *Worker) Execute(pdfPath string) (Result, error) {
	requestID := randomHex(8)
	entry := &pendingEntry{
		requestID: requestID,
		resultCh:  make(chan jobOutcome, 1),
	}
	entry.timer = time.AfterFunc(w.jobTimeout, func() {
		w.timeoutJob(requestID)
	})

	w.mu.Lock()
	w.pending[requestID] = entry
	stdin := w.stdin
	w.mu.Unlock()

	payload, err := json.Marshal(requestMessage{ID: requestID, PDFPath: pdfPath})
	if err != nil {
		w.abandon(requestID)
		return Result{}, newError(KindWorkerCrashed, err)
	}
	if _, err := stdin.Write(append(payload, '\n')); err != nil {
		w.abandon(requestID)
		return Result{}, newError(KindWorkerCrashed, err)
	}

	outcome := <-entry.resultCh
	return outcome.result, outcome.err
}

// abandon clears bookkeeping for a request that failed before it could ever
// receive a response (e.g. the stdin write itself failed).
func (w *Worker) abandon(requestID string) {
	w.mu.Lock()
	if entry, ok := w.pending[requestID]; ok {
		entry.timer.Stop()
		delete(w.pending, requestID)
	}
	w.busy = false
	w.mu.Unlock()
	if w.notifier != nil {
		w.notifier.onFree(w.id)
	}
}

// timeoutJob fires when a job's timer expires before a response arrived. It
// frees the Worker for further dispatch without killing the child: the
// spec's design note resolves the ocr-timeout ambiguity by assuming the
// engine will eventually reply, just too slowly, and that late reply is
// safely dropped by handleResponse's map-lookup miss.
func (w *Worker) timeoutJob(requestID string) {
	w.mu.Lock()
	entry, ok := w.pending[requestID]
	if ok {
		delete(w.pending, requestID)
		w.busy = false
	}
	w.mu.Unlock()

	if !ok {
		// Already resolved by a response that won the race.
		return
	}
	entry.resultCh <- jobOutcome{err: newError(KindOCRTimeout, nil)}
	if w.notifier != nil {
		w.notifier.onFree(w.id)
	}
}

// Kill sends a graceful termination signal to the child, ignoring errors
// (the child may already be gone).
func (w *Worker) Kill() {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
}

// killForce is used only by the ready-timeout path, which per spec.md
// §4.1 must force-terminate a child that never became ready.
func (w *Worker) killForce() {
	w.mu.Lock()
	cmd := w.cmd
	w.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken,
		// which is unrecoverable for a service that needs unguessable ids.
		panic("ocr: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// stderrLogger adapts the child's free-form diagnostic stderr stream into
// structured log lines, one per write (the child writes line-buffered or
// unbuffered text, so each Write call is one diagnostic chunk).
type stderrLogger struct {
	workerID int
}

func (s *stderrLogger) Write(p []byte) (int, error) {
	log.Info().Int("worker_id", s.workerID).Str("stream", "stderr").Msg(string(p))
	return len(p), nil
}
