// Package netx holds small socket helpers shared by the network servers.
package netx

import (
	"net"
	"time"
)

// TuneTCP disables Nagle's algorithm on TCP connections and applies the
// keep-alive period: negative disables keep-alive, zero keeps the system
// default. Other connection types are left alone.
func TuneTCP(conn net.Conn, keepAlive time.Duration) error {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	if err := tc.SetNoDelay(true); err != nil {
		return err
	}
	if keepAlive < 0 {
		return tc.SetKeepAlive(false)
	}
	if keepAlive > 0 {
		if err := tc.SetKeepAlive(true); err != nil {
			return err
		}
		return tc.SetKeepAlivePeriod(keepAlive)
	}
	return nil
}

// Backoff doubles a delay from Min up to Max. The zero value is not usable.
type Backoff struct {
	Min, Max time.Duration
	cur      time.Duration
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.Min
	} else {
		b.cur = min(b.cur*2, b.Max)
	}
	return b.cur
}

// Reset restarts the sequence after a success.
func (b *Backoff) Reset() { b.cur = 0 }
