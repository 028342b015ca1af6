// Package cliinput implements the optional interactive terminal adapter
// (enabled by --cli): keys 1-9 enqueue the Nth sequence, c clears the
// queue, s starts, x stops, q quits. Input is line-buffered via
// bufio.Scanner — the example corpus has no raw-terminal-mode precedent,
// so this follows the same stdlib-scanner idiom the config loader uses.
package cliinput

import (
	"bufio"
	"io"
	"log"
	"strings"

	"github.com/snapetech/splashcast/internal/queue"
	"github.com/snapetech/splashcast/internal/registry"
)

// Pipeline is the subset of the media pipeline the CLI drives.
type Pipeline interface {
	Start() error
	Stop() error
}

// Run reads commands from r until 'q' is entered, EOF, or ctx-like
// cancellation isn't needed — the caller simply stops reading by
// closing r's underlying source. Returns nil on a clean 'q' quit.
func Run(r io.Reader, reg *registry.Registry, q *queue.Engine, pipe Pipeline) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if quit := handleCommand(line[0], reg, q, pipe); quit {
			return nil
		}
	}
	return sc.Err()
}

// handleCommand executes a single keystroke command and reports whether
// it was a quit request.
func handleCommand(cmd byte, reg *registry.Registry, q *queue.Engine, pipe Pipeline) (quit bool) {
	switch {
	case cmd >= '1' && cmd <= '9':
		idx := int(cmd - '1')
		if idx >= reg.Len() {
			log.Printf("cli: no sequence #%d", idx+1)
			return false
		}
		if !q.EnqueueMany([]int{idx}) {
			log.Printf("cli: enqueue sequence #%d failed (queue full)", idx+1)
		}
	case cmd == 'c':
		q.Clear()
	case cmd == 's':
		if err := pipe.Start(); err != nil {
			log.Printf("cli: start: %v", err)
		}
	case cmd == 'x':
		if err := pipe.Stop(); err != nil {
			log.Printf("cli: stop: %v", err)
		}
	case cmd == 'q':
		return true
	default:
		log.Printf("cli: unrecognized command %q", string(cmd))
	}
	return false
}
