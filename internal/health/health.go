// Package health implements startup readiness checks for the two
// external surfaces this process depends on or exposes: the configured
// input elementary stream, and the control surface once it is listening.
package health

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/snapetech/splashcast/internal/reader"
)

// CheckSource opens path the same way the media pipeline does and
// confirms it contains at least one access unit.
func CheckSource(path string) error {
	if path == "" {
		return fmt.Errorf("no input path configured")
	}
	rd, err := reader.Open(path)
	if err != nil {
		return fmt.Errorf("source unreadable: %w", err)
	}
	if rd.NumAccessUnits() == 0 {
		return fmt.Errorf("source has no access units")
	}
	return nil
}

// CheckControl dials addr and issues GET /request/list, the one control
// endpoint with no side effects, and reports whether it returned 200.
func CheckControl(ctx context.Context, addr string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("control unreachable: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("GET /request/list HTTP/1.1\r\n\r\n")); err != nil {
		return fmt.Errorf("control write: %w", err)
	}
	r := bufio.NewReader(conn)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("control read: %w", err)
	}
	fields := strings.Fields(statusLine)
	if len(fields) < 2 {
		return fmt.Errorf("control: malformed status line %q", statusLine)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("control: malformed status code %q", fields[1])
	}
	if code != 200 {
		return fmt.Errorf("control: /request/list returned HTTP %d", code)
	}
	return nil
}
