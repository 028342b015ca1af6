//go:build !linux
// +build !linux

package monitor

import "fmt"

// startCapture is unavailable on non-Linux builds: raw AF_PACKET
// capture is Linux-specific. Monitor logs a warning and runs inert
// rather than failing the whole process.
func startCapture(iface string, port int, onFrame func()) (capture, error) {
	return nil, fmt.Errorf("raw packet capture is only supported on linux builds")
}
