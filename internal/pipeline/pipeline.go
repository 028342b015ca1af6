// Package pipeline implements the media pipeline: a reader
// performing segmented seeks over the configured input, a sample hot
// path that re-timestamps each access unit with a monotonic PTS, and a
// sender that emits RTP/UDP. A single mutex guards all shared state;
// the hot path only holds it long enough to read pts/streaming/target
// and advance next_pts_ns.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/snapetech/splashcast/internal/events"
	"github.com/snapetech/splashcast/internal/metrics"
	"github.com/snapetech/splashcast/internal/queue"
	"github.com/snapetech/splashcast/internal/reader"
	"github.com/snapetech/splashcast/internal/registry"
	"github.com/snapetech/splashcast/internal/rtph265"
)

// State is the pipeline's coarse lifecycle state.
type State int

const (
	StateConfigured State = iota
	StateStreaming
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Config parameterizes (re)configuration: input file, frame rate, and
// primary/optional-secondary RTP endpoints.
type Config struct {
	InputPath     string
	FPS           float64
	Host          string
	Port          int
	SecondaryHost string // "" = no secondary sender
	SecondaryPort int
}

// Pipeline is the media pipeline. Zero value is not usable; use New.
type Pipeline struct {
	mu sync.Mutex

	sink events.Sink

	state     State
	streaming bool

	nextPTSNS       int64
	frameDurationNS int64

	reg *registry.Registry
	q   *queue.Engine
	rd  *reader.Reader

	sender *rtph265.Sender

	activeIdx int // -1 before the first boundary advance
	seg       *reader.Segment
	caps      reader.Caps

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a pipeline in the Configured state with no subgraphs built.
func New(sink events.Sink) *Pipeline {
	if sink == nil {
		sink = events.Discard
	}
	return &Pipeline{sink: sink, state: StateConfigured, activeIdx: -1}
}

// State returns the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Streaming reports whether the streaming gate is currently open.
func (p *Pipeline) Streaming() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streaming
}

// ActiveIndex returns the currently-playing registry sequence index, or -1.
func (p *Pipeline) ActiveIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeIdx
}

// ApplyConfig stops and tears down any existing subgraphs, then rebuilds
// the reader and sender from cfg and resets next_pts_ns to 0. On success
// it leaves the pipeline in Configured (not streaming) regardless of the
// prior state; if the input cannot be opened or the sender cannot be
// built, it leaves the pipeline Faulted.
func (p *Pipeline) ApplyConfig(cfg Config, reg *registry.Registry, q *queue.Engine) error {
	p.teardown()

	rd, err := reader.Open(cfg.InputPath)
	if err != nil {
		p.mu.Lock()
		p.state = StateFaulted
		p.mu.Unlock()
		return fmt.Errorf("pipeline: apply config: %w", err)
	}

	var secondary *rtph265.Endpoint
	if cfg.SecondaryHost != "" {
		secondary = &rtph265.Endpoint{Host: cfg.SecondaryHost, Port: cfg.SecondaryPort}
	}
	ssrc := uint32(time.Now().UnixNano())
	sender, err := rtph265.NewSender(ssrc, rtph265.Endpoint{Host: cfg.Host, Port: cfg.Port}, secondary, cfg.FPS)
	if err != nil {
		p.mu.Lock()
		p.state = StateFaulted
		p.mu.Unlock()
		return fmt.Errorf("pipeline: apply config: %w", err)
	}

	frameDur := int64(math.Round(1e9 / cfg.FPS))

	p.mu.Lock()
	p.reg = reg
	p.q = q
	p.rd = rd
	p.sender = sender
	p.frameDurationNS = frameDur
	p.nextPTSNS = 0
	p.streaming = false
	p.activeIdx = -1
	p.seg = nil
	p.caps = rd.InitialCaps()
	p.state = StateConfigured
	p.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go p.runLoop(ctx)
	return nil
}

// teardown stops the running sample loop (if any) and releases the
// sender: all element ownership references are released as part of
// teardown.
func (p *Pipeline) teardown() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
		p.cancel = nil
	}
	p.mu.Lock()
	sender := p.sender
	p.sender = nil
	p.mu.Unlock()
	if sender != nil {
		sender.Close()
	}
}

// Start opens the streaming gate and resets next_pts_ns to 0 (R3),
// preserving active_idx (the currently selected sequence keeps playing,
// now actually emitting).
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rd == nil {
		return fmt.Errorf("pipeline: start: not configured")
	}
	if p.state == StateFaulted {
		return fmt.Errorf("pipeline: start: faulted")
	}
	p.nextPTSNS = 0
	p.streaming = true
	p.state = StateStreaming
	p.sink.Emit(events.Event{Type: events.Started})
	metrics.PTSResets.Inc()
	return nil
}

// Stop closes the streaming gate without tearing down the subgraphs;
// the sample hot path keeps running and dropping buffers.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.streaming {
		return nil
	}
	p.streaming = false
	if p.state != StateFaulted {
		p.state = StateConfigured
	}
	p.sink.Emit(events.Event{Type: events.Stopped})
	return nil
}

// Close tears down the pipeline permanently.
func (p *Pipeline) Close() {
	p.teardown()
}

// idlePollInterval is how often tick() re-checks the queue when there is
// nothing queued and no active sequence to play.
const idlePollInterval = 20 * time.Millisecond

// runLoop drives the sample hot path for as long as the pipeline is
// configured, independent of the streaming gate: next_pts_ns bookkeeping
// happens unconditionally and only emission is gated. Pacing comes from
// the sender's rate limiter, so ticks follow the frame cadence only while
// the gate is open; while it is closed they run back to back.
func (p *Pipeline) runLoop(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		idle, err := p.tick(ctx)
		if err != nil {
			p.mu.Lock()
			p.state = StateFaulted
			p.mu.Unlock()
			p.sink.Emit(events.Event{Type: events.Error, Msg: err.Error()})
			return
		}
		if idle {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
		}
	}
}

// tick processes exactly one access unit (or, if nothing is queued or
// active, returns idle=true so runLoop waits idlePollInterval).
func (p *Pipeline) tick(ctx context.Context) (idle bool, err error) {
	p.mu.Lock()

	if p.seg == nil || p.seg.Remaining() == 0 {
		// AdvanceAtBoundary emits SwitchedAtBoundary itself when the active
		// index changes, so tick does not emit it again here.
		newActive, _, _ := p.q.AdvanceAtBoundary()
		p.activeIdx = newActive
		if newActive == -1 {
			p.mu.Unlock()
			return true, nil
		}
		seq, ok := p.reg.Sequence(newActive)
		if !ok {
			p.mu.Unlock()
			return false, fmt.Errorf("pipeline: active index %d not in registry", newActive)
		}
		seg, serr := p.rd.Seek(seq.StartFrame, seq.EndFrame)
		if serr != nil {
			p.mu.Unlock()
			return false, fmt.Errorf("pipeline: seek sequence %q: %w", seq.Name, serr)
		}
		p.seg = seg
	}

	data, caps, capsChanged, _, ok := p.seg.Next()
	if !ok {
		p.seg = nil
		p.mu.Unlock()
		return true, nil
	}
	if capsChanged {
		p.caps = caps
	}

	// PTS bookkeeping happens regardless of the streaming gate; only the
	// send is conditional on it.
	pts := p.nextPTSNS
	p.nextPTSNS += p.frameDurationNS
	streaming := p.streaming
	sender := p.sender
	vps, sps, pps := p.caps.VPS, p.caps.SPS, p.caps.PPS
	p.mu.Unlock()

	if !streaming || sender == nil {
		return false, nil
	}
	if _, sendErr := sender.Send(ctx, vps, sps, pps, data, pts); sendErr != nil {
		return false, fmt.Errorf("pipeline: send: %w", sendErr)
	}
	metrics.FramesSent.Inc()
	return false, nil
}

// SelectSecondary and SelectPrimary switch which configured endpoint the
// sender currently writes to; exactly one of {primary, secondary} is
// selected at a time. Used by the control surface's /request/select/*
// endpoints.
func (p *Pipeline) SelectSecondary() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sender != nil {
		p.sender.SelectSecondary()
	}
}

func (p *Pipeline) SelectPrimary() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sender != nil {
		p.sender.SelectPrimary()
	}
}
