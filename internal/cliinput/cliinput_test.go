package cliinput

import (
	"strings"
	"testing"

	"github.com/snapetech/splashcast/internal/events"
	"github.com/snapetech/splashcast/internal/queue"
	"github.com/snapetech/splashcast/internal/registry"
)

type fakePipeline struct {
	startCalls int
	stopCalls  int
}

func (f *fakePipeline) Start() error { f.startCalls++; return nil }
func (f *fakePipeline) Stop() error  { f.stopCalls++; return nil }

func setup(t *testing.T) (*registry.Registry, *queue.Engine, *fakePipeline) {
	t.Helper()
	reg, err := registry.Build(30, []registry.SequenceDef{
		{Name: "a", StartFrame: 0, EndFrame: 9},
		{Name: "b", StartFrame: 10, EndFrame: 19},
	}, nil)
	if err != nil {
		t.Fatalf("registry.Build: %v", err)
	}
	q := queue.New(reg.Len(), events.Discard)
	return reg, q, &fakePipeline{}
}

func TestRun_digitEnqueuesNthSequence(t *testing.T) {
	reg, q, pipe := setup(t)
	if err := Run(strings.NewReader("1\nq\n"), reg, q, pipe); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q.PendingLen() != 1 {
		t.Fatalf("PendingLen() = %d, want 1", q.PendingLen())
	}
}

func TestRun_digitOutOfRangeIsIgnored(t *testing.T) {
	reg, q, pipe := setup(t)
	if err := Run(strings.NewReader("9\nq\n"), reg, q, pipe); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q.PendingLen() != 0 {
		t.Fatalf("PendingLen() = %d, want 0", q.PendingLen())
	}
}

func TestRun_clearEmptiesQueue(t *testing.T) {
	reg, q, pipe := setup(t)
	q.EnqueueMany([]int{0, 1})
	if err := Run(strings.NewReader("c\nq\n"), reg, q, pipe); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q.PendingLen() != 0 {
		t.Fatalf("PendingLen() = %d, want 0 after clear", q.PendingLen())
	}
}

func TestRun_startAndStopCallPipeline(t *testing.T) {
	reg, q, pipe := setup(t)
	if err := Run(strings.NewReader("s\nx\nq\n"), reg, q, pipe); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pipe.startCalls != 1 || pipe.stopCalls != 1 {
		t.Fatalf("startCalls=%d stopCalls=%d, want 1 and 1", pipe.startCalls, pipe.stopCalls)
	}
}

func TestRun_quitStopsReadingImmediately(t *testing.T) {
	reg, q, pipe := setup(t)
	if err := Run(strings.NewReader("q\n1\n"), reg, q, pipe); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if q.PendingLen() != 0 {
		t.Fatal("expected input after q to be unprocessed")
	}
}

func TestRun_eofReturnsNilWithoutQuitCommand(t *testing.T) {
	reg, q, pipe := setup(t)
	if err := Run(strings.NewReader("s\n"), reg, q, pipe); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pipe.startCalls != 1 {
		t.Fatal("expected start to have been processed before EOF")
	}
}
