package logger

import (
	"bytes"
	"errors"
	"log"
	"strings"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	// runloop lives for the whole process.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("chicha-spectrum-seed/pkg/logger.runloop"))
}

// captureLog redirects the standard logger for the duration of fn. Tests in
// this package are sequential because they share the global logger.
func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	prevOut, prevFlags := log.Writer(), log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prevOut)
		log.SetFlags(prevFlags)
	}()
	fn()
	return buf.String()
}

func TestSuccessReplaysBufferInOrder(t *testing.T) {
	out := captureLog(t, func() {
		Begin("T1")
		Append("T1", "first")
		Append("T1", "second")
		Success("T1", "done")
	})

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines: %q", len(lines), out)
	}
	if lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("unexpected order: %q", lines)
	}
	if !strings.Contains(lines[2], "✔ done") {
		t.Fatalf("missing confirmation: %q", lines[2])
	}
}

func TestFlushErrorReplaysBufferAndError(t *testing.T) {
	out := captureLog(t, func() {
		Begin("T2")
		Append("T2", "Inserted marker at zoom 0 with ID 1")
		FlushError("T2", errors.New("disk full"))
	})

	if !strings.Contains(out, "Inserted marker at zoom 0 with ID 1") {
		t.Fatalf("buffer not replayed: %q", out)
	}
	if !strings.Contains(out, "[ERROR] disk full (run aborted)") {
		t.Fatalf("error line missing: %q", out)
	}
}

func TestAppendWithoutBeginPrintsImmediately(t *testing.T) {
	out := captureLog(t, func() {
		Append("none", "direct line")
		// Success acts as a barrier: every earlier command has been handled.
		Success("none", "barrier")
	})
	if !strings.HasPrefix(out, "direct line\n") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestBuffersAreIsolatedPerTrack(t *testing.T) {
	out := captureLog(t, func() {
		Begin("A")
		Begin("B")
		Append("A", "from A")
		Append("B", "from B")
		Success("A", "A ok")
	})
	if strings.Contains(out, "from B") {
		t.Fatalf("track B leaked into A output: %q", out)
	}
	// drop B so it does not affect later tests
	captureLog(t, func() { Success("B", "cleanup") })
}
