package rtph265

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/time/rate"
)

// Endpoint is a UDP destination for RTP packets.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Sender owns a primary UDP socket and an optional secondary one;
// exactly one of them is "selected" and receives packets at any instant.
// The other stays dialed but unused — the non-running state for RTP
// senders has no separate representation in Go beyond "not written to".
type Sender struct {
	primary   *net.UDPConn
	secondary *net.UDPConn
	selected  *net.UDPConn

	limiter *rate.Limiter
	pkt     *Packetizer
}

// NewSender dials the primary endpoint (and secondary, if non-nil) and
// returns a Sender with the primary selected. fps paces outgoing access
// units to the stream's own frame clock: each Send takes one limiter
// token, and the packets of one access unit are written back to back.
func NewSender(ssrc uint32, primary Endpoint, secondary *Endpoint, fps float64) (*Sender, error) {
	p, err := net.Dial("udp", primary.String())
	if err != nil {
		return nil, fmt.Errorf("rtph265: dial primary %s: %w", primary, err)
	}
	pConn := p.(*net.UDPConn)

	var sConn *net.UDPConn
	if secondary != nil {
		s, err := net.Dial("udp", secondary.String())
		if err != nil {
			pConn.Close()
			return nil, fmt.Errorf("rtph265: dial secondary %s: %w", *secondary, err)
		}
		sConn = s.(*net.UDPConn)
	}

	burst := 1 // one access unit per token
	limiter := rate.NewLimiter(rate.Limit(fps), burst)

	return &Sender{
		primary:   pConn,
		secondary: sConn,
		selected:  pConn,
		limiter:   limiter,
		pkt:       NewPacketizer(ssrc),
	}, nil
}

// SelectSecondary switches emission to the secondary endpoint; it is a
// no-op if no secondary was configured.
func (s *Sender) SelectSecondary() {
	if s.secondary != nil {
		s.selected = s.secondary
	}
}

// SelectPrimary switches emission back to the primary endpoint.
func (s *Sender) SelectPrimary() {
	s.selected = s.primary
}

// Send packetizes one access unit and writes every resulting RTP packet
// to the currently-selected endpoint, pacing writes against the
// configured frame rate. vps/sps/pps are the current parameter sets
// (any may be nil); per configuration-interval=1, they are prepended to
// every access unit rather than only on change. Returns the number of
// packets written.
func (s *Sender) Send(ctx context.Context, vps, sps, pps, auData []byte, ptsNS int64) (int, error) {
	ts := FramesToRTPTimestamp(ptsNS)
	payload := auData
	if cfgNALs, err := ConfigNALs(vps, sps, pps); err == nil {
		payload = append(append([]byte(nil), cfgNALs...), auData...)
	}
	packets := s.pkt.Packetize(payload, ts)
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rtph265: rate limiter: %w", err)
	}
	for _, pkt := range packets {
		if _, err := s.selected.Write(pkt); err != nil {
			return 0, fmt.Errorf("rtph265: write: %w", err)
		}
	}
	return len(packets), nil
}

// Close releases both UDP sockets.
func (s *Sender) Close() error {
	var err error
	if s.primary != nil {
		if e := s.primary.Close(); e != nil {
			err = e
		}
	}
	if s.secondary != nil {
		if e := s.secondary.Close(); e != nil {
			err = e
		}
	}
	return err
}
