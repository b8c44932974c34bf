package ocr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_HappyPath(t *testing.T) {
	cfg := helperPoolConfig(2, 4, time.Second, time.Second, "ready", "pooled text")
	p := NewPool(cfg, nil)
	require.NoError(t, p.Init())
	require.True(t, p.AnyReady())

	res, err := p.Run("/tmp/a.pdf", "req-1")
	require.NoError(t, err)
	require.Equal(t, "pooled text", res.Text)

	stats := p.Stats()
	require.Equal(t, 0, stats.QueueDepth)
	require.Len(t, stats.Workers, 2)
}

func TestPool_BackpressureRejectsBeyondQueueCapacity(t *testing.T) {
	// One worker, permanently stalled; a queue that holds two. The fourth
	// concurrent request must be rejected immediately rather than wait.
	cfg := helperPoolConfig(1, 2, time.Second, 300*time.Millisecond, "stall")
	p := NewPool(cfg, nil)
	require.NoError(t, p.Init())

	go func() { _, _ = p.Run("/tmp/a.pdf", "A") }() // dispatched, occupies the sole worker
	time.Sleep(50 * time.Millisecond)

	go func() { _, _ = p.Run("/tmp/b.pdf", "B") }() // queued, position 1
	go func() { _, _ = p.Run("/tmp/c.pdf", "C") }() // queued, position 2
	time.Sleep(50 * time.Millisecond)

	require.Equal(t, 2, p.Stats().QueueDepth)

	_, err := p.Run("/tmp/d.pdf", "D")
	require.Error(t, err)
	var supErr *Error
	require.True(t, errors.As(err, &supErr))
	require.Equal(t, KindOverloaded, supErr.Kind)
}

func TestPool_QueuedEntryAndExecutingJobTimeOutIndependently(t *testing.T) {
	cfg := helperPoolConfig(1, 2, time.Second, 150*time.Millisecond, "stall")
	p := NewPool(cfg, nil)
	require.NoError(t, p.Init())

	executingErr := make(chan error, 1)
	go func() {
		_, err := p.Run("/tmp/a.pdf", "A")
		executingErr <- err
	}()
	time.Sleep(30 * time.Millisecond)

	// B sits at the queue head and is dispatched as soon as A's job timeout
	// frees the worker; C stays queued behind it until its own timer fires.
	nextErr := make(chan error, 1)
	go func() {
		_, err := p.Run("/tmp/b.pdf", "B")
		nextErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	queuedErr := make(chan error, 1)
	go func() {
		_, err := p.Run("/tmp/c.pdf", "C")
		queuedErr <- err
	}()

	select {
	case err := <-executingErr:
		var supErr *Error
		require.True(t, errors.As(err, &supErr))
		require.Equal(t, KindOCRTimeout, supErr.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected the dispatched job to resolve with ocr-timeout")
	}

	select {
	case err := <-queuedErr:
		var supErr *Error
		require.True(t, errors.As(err, &supErr))
		require.Equal(t, KindQueuedTooLong, supErr.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected the queued job to resolve with queued-too-long")
	}

	select {
	case err := <-nextErr:
		var supErr *Error
		require.True(t, errors.As(err, &supErr))
		require.Equal(t, KindOCRTimeout, supErr.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected the job dispatched from the queue to resolve with ocr-timeout")
	}
}

func TestPool_CrashIsDetectedAndWorkerRespawnsAfterCooldown(t *testing.T) {
	marker := t.TempDir() + "/marker"
	cfg := helperPoolConfig(1, 2, time.Second, 5*time.Second, "crash-once", marker, "9")
	p := NewPool(cfg, nil)
	require.NoError(t, p.Init())

	_, err := p.Run("/tmp/a.pdf", "A")
	require.Error(t, err)
	var supErr *Error
	require.True(t, errors.As(err, &supErr))
	require.Equal(t, KindWorkerCrashed, supErr.Kind)
	require.Equal(t, 9, supErr.ExitCode)

	// crashCooldown is a fixed 2s; give the restart a margin before retrying.
	time.Sleep(2500 * time.Millisecond)

	res, err := p.Run("/tmp/b.pdf", "B")
	require.NoError(t, err)
	require.Equal(t, "hello-after-restart", res.Text)
}

func TestPool_PartialInitSucceedsWhenOnlyOneWorkerBecomesReady(t *testing.T) {
	marker := t.TempDir() + "/marker"
	cfg := helperPoolConfig(3, 2, 300*time.Millisecond, time.Second, "exclusive-ready", marker)
	p := NewPool(cfg, nil)

	require.NoError(t, p.Init())
	require.True(t, p.AnyReady())

	res, err := p.Run("/tmp/a.pdf", "A")
	require.NoError(t, err)
	require.Equal(t, "winner", res.Text)
}

func TestPool_StaleFreeSignalNeverHangsOrCorruptsState(t *testing.T) {
	// One worker serves two requests (a warm-up job, then a queued job
	// dispatched the instant it frees up) and exits immediately after the
	// second response — the "worker responds, then crashes" race from
	// spec.md §4.2's stale free signal scenario. Whichever way the race
	// between the crash notification and the next dispatch resolves, the
	// still-queued third job must eventually resolve, never hang.
	cfg := helperPoolConfig(1, 2, time.Second, 2*time.Second, "respond-n-then-exit", "2", "0", "150")
	p := NewPool(cfg, nil)
	require.NoError(t, p.Init())

	warmupErr := make(chan error, 1)
	go func() {
		_, err := p.Run("/tmp/warmup.pdf", "warmup")
		warmupErr <- err
	}()
	time.Sleep(30 * time.Millisecond)

	type outcome struct {
		res Result
		err error
	}
	aCh := make(chan outcome, 1)
	go func() {
		res, err := p.Run("/tmp/a.pdf", "A")
		aCh <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	bCh := make(chan outcome, 1)
	go func() {
		res, err := p.Run("/tmp/b.pdf", "B")
		bCh <- outcome{res, err}
	}()

	select {
	case err := <-warmupErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected the warm-up job to complete")
	}

	select {
	case o := <-aCh:
		require.NoError(t, o.err)
		require.Equal(t, "ok", o.res.Text)
	case <-time.After(time.Second):
		t.Fatal("expected the dispatched-from-queue job to complete before the worker exits")
	}

	// B's fate depends on whether the Pool observed the worker as still
	// ready at the moment it tried to redispatch: either it is rejected
	// against the now-dead process (worker-crashed / ocr-timeout), or the
	// Pool notices the worker is no longer ready and re-queues B, which then
	// either fails queued-too-long when its 2s queue timer fires before the
	// respawn completes, or is delivered successfully by the post-restart
	// drain.
	select {
	case o := <-bCh:
		if o.err == nil {
			require.Equal(t, "ok", o.res.Text)
			return
		}
		var supErr *Error
		require.True(t, errors.As(o.err, &supErr))
		require.Contains(t, []Kind{KindWorkerCrashed, KindOCRTimeout, KindQueuedTooLong}, supErr.Kind)
	case <-time.After(4 * time.Second):
		t.Fatal("job B must eventually resolve, not hang forever")
	}
}
