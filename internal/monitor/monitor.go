// Package monitor implements the passive UDP traffic monitor: a raw
// link-layer capture watches the configured port for traffic from a
// higher-priority external sender and pauses/resumes the media
// pipeline based on an idle timeout.
package monitor

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/snapetech/splashcast/internal/events"
	"github.com/snapetech/splashcast/internal/metrics"
)

// Controller is the subset of the media pipeline the monitor drives.
// *pipeline.Pipeline satisfies this directly.
type Controller interface {
	Streaming() bool
	Start() error
	Stop() error
}

// Config holds [monitor] settings, already defaulted/clamped.
type Config struct {
	Port            int
	Interface       string // "" = all interfaces
	IdleTimeoutMS   int
	CheckIntervalMS int
}

// capture is the platform-specific raw-socket backend.
type capture interface {
	Close() error
}

// Monitor polls last_packet_monotonic_us against idle_timeout_ms and
// drives Controller accordingly.
type Monitor struct {
	cfg  Config
	ctrl Controller
	sink events.Sink

	lastPacketUS   atomic.Int64
	externalActive atomic.Bool
	supported      bool

	cap capture

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New opens the raw capture socket (clamping idle/check timing to
// sane defaults) and starts the polling loop. On platforms without raw
// capture support it logs a warning and runs in a harmless,
// permanently-inactive mode rather than failing startup.
func New(cfg Config, ctrl Controller, sink events.Sink) *Monitor {
	if sink == nil {
		sink = events.Discard
	}
	if cfg.IdleTimeoutMS < 100 {
		cfg.IdleTimeoutMS = 100
	}
	if cfg.CheckIntervalMS < 25 {
		cfg.CheckIntervalMS = 25
	}
	m := &Monitor{cfg: cfg, ctrl: ctrl, sink: sink, stopCh: make(chan struct{})}

	c, err := startCapture(cfg.Interface, cfg.Port, m.onFrame)
	if err != nil {
		log.Printf("monitor: raw packet capture unavailable, disabling: %v", err)
	} else {
		m.cap = c
		m.supported = true
	}

	m.wg.Add(1)
	go m.pollLoop()
	return m
}

// Supported reports whether raw capture is active on this platform.
func (m *Monitor) Supported() bool {
	return m.supported
}

// ExternalActive reports whether a higher-priority external sender is
// currently considered to be addressing the monitored port.
func (m *Monitor) ExternalActive() bool {
	return m.externalActive.Load()
}

// onFrame is invoked by the platform capture backend for every
// Ethernet/IPv4/UDP frame whose destination port matches cfg.Port and
// whose direction is not outgoing.
func (m *Monitor) onFrame() {
	m.lastPacketUS.Store(nowMicros())
}

func nowMicros() int64 {
	return time.Now().UnixNano() / 1000
}

func (m *Monitor) pollLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(time.Duration(m.cfg.CheckIntervalMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.pollOnce()
		}
	}
}

// pollOnce implements the active/inactive transition table.
func (m *Monitor) pollOnce() {
	last := m.lastPacketUS.Load()
	var deltaMS int64
	if last == 0 {
		deltaMS = int64(m.cfg.IdleTimeoutMS) + 1
	} else {
		deltaMS = (nowMicros() - last) / 1000
	}
	active := deltaMS <= int64(m.cfg.IdleTimeoutMS)
	wasActive := m.externalActive.Load()

	switch {
	case !wasActive && active:
		m.externalActive.Store(true)
		metrics.ExternalActive.Set(1)
		if m.ctrl.Streaming() {
			m.reportErr(m.ctrl.Stop(), "stop")
		}
		log.Printf("monitor: external sender detected on port %d, yielding", m.cfg.Port)
	case wasActive && !active:
		m.externalActive.Store(false)
		metrics.ExternalActive.Set(0)
		m.reportErr(m.ctrl.Start(), "start")
		log.Printf("monitor: port %d idle, resuming", m.cfg.Port)
	case !wasActive && !active && !m.ctrl.Streaming():
		m.reportErr(m.ctrl.Start(), "start")
	}
}

func (m *Monitor) reportErr(err error, op string) {
	if err != nil {
		m.sink.Emit(events.Event{Type: events.Error, Msg: fmt.Sprintf("monitor: %s: %v", op, err)})
	}
}

// Close stops the polling loop and releases the capture socket, if any.
func (m *Monitor) Close() error {
	close(m.stopCh)
	m.wg.Wait()
	if m.cap != nil {
		return m.cap.Close()
	}
	return nil
}
