//go:build linux
// +build linux

package monitor

import (
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// linuxCapture is an AF_PACKET raw socket bound to (optionally) one
// interface, with a kernel-side BPF filter pre-selecting UDP frames
// destined for the monitored port. The Go-level validation in
// parseUDPDestPort still runs on every accepted frame against its own
// explicit checklist — the BPF program is a performance pre-filter, not
// a substitute for it.
type linuxCapture struct {
	fd      int
	port    int
	onFrame func()
	stopCh  chan struct{}
	done    chan struct{}
}

func startCapture(iface string, port int, onFrame func()) (capture, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("monitor: AF_PACKET socket: %w", err)
	}

	var ifIndex int
	if iface != "" {
		ifi, err := net.InterfaceByName(iface)
		if err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("monitor: interface %q: %w", iface, err)
		}
		ifIndex = ifi.Index
	}
	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: ifIndex}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("monitor: bind: %w", err)
	}

	if err := attachFilter(fd, port); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("monitor: attach BPF filter: %w", err)
	}

	// Periodic receive timeout lets the read loop notice stopCh instead
	// of blocking forever in Recvfrom.
	tv := unix.Timeval{Sec: 0, Usec: 200_000}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("monitor: set receive timeout: %w", err)
	}

	c := &linuxCapture{
		fd:      fd,
		port:    port,
		onFrame: onFrame,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *linuxCapture) readLoop() {
	defer close(c.done)
	buf := make([]byte, 65536)
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		n, from, err := unix.Recvfrom(c.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
				continue
			}
			return
		}
		if sa, ok := from.(*unix.SockaddrLinklayer); ok && sa.Pkttype == unix.PACKET_OUTGOING {
			continue // self-echo guard
		}
		if destPort, ok := parseUDPDestPort(buf[:n]); ok && destPort == c.port {
			c.onFrame()
		}
	}
}

func (c *linuxCapture) Close() error {
	close(c.stopCh)
	<-c.done
	return unix.Close(c.fd)
}

// parseUDPDestPort validates an Ethernet/IPv4/UDP frame — Ethernet
// header present, IPv4 version, header length sane, protocol UDP,
// enough bytes remain for a UDP header — and returns the UDP
// destination port.
func parseUDPDestPort(frame []byte) (port int, ok bool) {
	const ethHeaderLen = 14
	if len(frame) < ethHeaderLen+20+8 {
		return 0, false
	}
	etherType := uint16(frame[12])<<8 | uint16(frame[13])
	if etherType != 0x0800 {
		return 0, false
	}
	ipStart := ethHeaderLen
	versionIHL := frame[ipStart]
	version := versionIHL >> 4
	ihl := int(versionIHL&0x0F) * 4
	if version != 4 || ihl < 20 {
		return 0, false
	}
	if len(frame) < ipStart+ihl+8 {
		return 0, false
	}
	protocol := frame[ipStart+9]
	if protocol != unix.IPPROTO_UDP {
		return 0, false
	}
	udpStart := ipStart + ihl
	dst := int(frame[udpStart+2])<<8 | int(frame[udpStart+3])
	return dst, true
}

// attachFilter compiles and installs a classic BPF program selecting
// Ethernet/IPv4/UDP frames whose destination port equals port.
func attachFilter(fd, port int) error {
	raw, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},                      // ethertype
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 6},
		bpf.LoadAbsolute{Off: 23, Size: 1},                      // IP protocol
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.IPPROTO_UDP, SkipFalse: 4},
		bpf.LoadMemShift{Off: 14},                               // X = IHL*4
		bpf.LoadIndirect{Off: 16, Size: 2},                      // UDP dest port (14+X+2)
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipFalse: 1},
		bpf.RetConstant{Val: 65535},
		bpf.RetConstant{Val: 0},
	})
	if err != nil {
		return err
	}
	filters := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filters[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	fprog := &unix.SockFprog{Len: uint16(len(filters)), Filter: &filters[0]}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, fprog)
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
