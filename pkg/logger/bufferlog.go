// Package logger implements a per-trackID in-memory log buffer.
//
// A seeding run logs every inserted id while its transaction is still open.
// Those ids only become real on commit, so lines are held in a buffer and
// printed when the run ends:
//   - Success prints the buffer followed by a short confirmation line.
//   - FlushError prints the buffer followed by the error, marking the ids as
//     rolled back.
//
// All buffers are owned by one logger goroutine fed through a command
// channel; there are no mutexes.
package logger

import (
	"bytes"
	"log"
	"strings"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
)

type cmd struct {
	act     action
	trackID string
	message string        // Append text or Success summary
	err     error         // FlushError cause
	done    chan struct{} // closed once Success/FlushError output is written
}

var ch = make(chan cmd, 128)

// Begin enables buffering for trackID, discarding any earlier buffer.
func Begin(trackID string) { ch <- cmd{act: actBegin, trackID: trackID} }

// Append adds one line to the buffer of trackID. Without Begin the line is
// printed immediately.
func Append(trackID, msg string) {
	ch <- cmd{act: actAppend, trackID: trackID, message: msg}
}

// Success prints the buffered lines and a confirmation, then drops the
// buffer. It returns after the output has been written.
func Success(trackID, summary string) {
	done := make(chan struct{})
	ch <- cmd{act: actSuccess, trackID: trackID, message: summary, done: done}
	<-done
}

// FlushError prints the buffered lines and err, then drops the buffer. It
// returns after the output has been written, so callers may exit right away.
func FlushError(trackID string, err error) {
	done := make(chan struct{})
	ch <- cmd{act: actFlushErr, trackID: trackID, err: err, done: done}
	<-done
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	replay := func(trackID string) {
		b := buffers[trackID]
		if b == nil {
			return
		}
		for _, ln := range strings.Split(strings.TrimRight(b.String(), "\n"), "\n") {
			if ln != "" {
				log.Print(ln)
			}
		}
		delete(buffers, trackID)
	}

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.trackID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.trackID]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Print(c.message)
			}

		case actSuccess:
			replay(c.trackID)
			log.Printf("[%-6s][Seed] ✔ %s", c.trackID, c.message)
			close(c.done)

		case actFlushErr:
			replay(c.trackID)
			log.Printf("[%-6s][ERROR] %v (run aborted)", c.trackID, c.err)
			close(c.done)
		}
	}
}
