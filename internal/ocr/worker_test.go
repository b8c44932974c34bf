package ocr

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorker_HappyPath(t *testing.T) {
	n := newNoopNotifier()
	w := newHelperWorker(0, n, time.Second, time.Second, "ready", "hello world")
	require.NoError(t, w.Start())
	require.True(t, w.Ready())

	res, err := w.Execute("/tmp/does-not-matter.pdf")
	require.NoError(t, err)
	require.Equal(t, "hello world", res.Text)
	require.NotNil(t, res.PageCount)
	require.Equal(t, 1, *res.PageCount)

	select {
	case id := <-n.free:
		require.Equal(t, 0, id)
	case <-time.After(time.Second):
		t.Fatal("expected onFree notification")
	}
	require.False(t, w.Busy())
	w.Kill()
}

func TestWorker_JobTimeoutDoesNotKillChild(t *testing.T) {
	n := newNoopNotifier()
	w := newHelperWorker(1, n, time.Second, 100*time.Millisecond, "stall")
	require.NoError(t, w.Start())

	_, err := w.Execute("/tmp/x.pdf")
	require.Error(t, err)
	var supErr *Error
	require.True(t, errors.As(err, &supErr))
	require.Equal(t, KindOCRTimeout, supErr.Kind)

	// The worker is freed for dispatch even though the child is still
	// running and stalled (spec.md §4.1: "the child process is not
	// killed on job timeout").
	require.False(t, w.Busy())
	select {
	case id := <-n.free:
		require.Equal(t, 1, id)
	case <-time.After(time.Second):
		t.Fatal("expected onFree notification after timeout")
	}
	select {
	case ev := <-n.crash:
		t.Fatalf("child must survive a job timeout, got exit code %d", ev.exitCode)
	case <-time.After(100 * time.Millisecond):
	}
	require.True(t, w.Ready())
	w.Kill()
}

func TestWorker_ReadyTimeoutKillsChild(t *testing.T) {
	n := newNoopNotifier()
	w := newHelperWorker(2, n, 100*time.Millisecond, time.Second, "never-ready")
	err := w.Start()
	require.Error(t, err)
	var supErr *Error
	require.True(t, errors.As(err, &supErr))
	require.Equal(t, KindFatalStartup, supErr.Kind)
	require.False(t, w.Ready())

	// The force-killed child's exit is reported like any other exit.
	select {
	case ev := <-n.crash:
		require.Equal(t, 2, ev.workerID)
	case <-time.After(time.Second):
		t.Fatal("expected the child to be killed after the ready timeout")
	}
}

func TestWorker_CrashWhilePendingFailsTheCaller(t *testing.T) {
	n := newNoopNotifier()
	marker := t.TempDir() + "/marker"
	w := newHelperWorker(3, n, time.Second, 5*time.Second, "crash-once", marker, "9")
	require.NoError(t, w.Start())

	_, err := w.Execute("/tmp/x.pdf")
	require.Error(t, err)
	var supErr *Error
	require.True(t, errors.As(err, &supErr))
	require.Equal(t, KindWorkerCrashed, supErr.Kind)
	require.Equal(t, 9, supErr.ExitCode)

	select {
	case ev := <-n.crash:
		require.Equal(t, 3, ev.workerID)
		require.Equal(t, 9, ev.exitCode)
	case <-time.After(time.Second):
		t.Fatal("expected onCrash notification")
	}
}

func TestWorker_LateResponseAfterTimeoutIsDropped(t *testing.T) {
	n := newNoopNotifier()
	// The child delays only its first response by 200ms, but the job
	// timeout is 50ms, so the caller sees ocr-timeout and the eventual
	// real response must be silently dropped rather than corrupt state.
	// Every later request gets an immediate reply, so the follow-up probe
	// below isn't itself at risk of timing out.
	w := newHelperWorker(4, n, time.Second, 50*time.Millisecond, "ready", "late", "200")

	require.NoError(t, w.Start())
	_, err := w.Execute("/tmp/x.pdf")
	require.Error(t, err)
	var supErr *Error
	require.True(t, errors.As(err, &supErr))
	require.Equal(t, KindOCRTimeout, supErr.Kind)

	// Let the late response actually arrive and be dropped, then confirm
	// no stale pending-map entry survived by running a second, unrelated
	// job end to end.
	time.Sleep(300 * time.Millisecond)
	require.False(t, w.Busy())

	res, err := w.Execute("/tmp/y.pdf")
	require.NoError(t, err)
	require.Equal(t, "late", res.Text)
}
