package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultConnectTimeout bounds DialTCP when DialOptions leaves it unset.
const DefaultConnectTimeout = 10 * time.Second

// TCPOptions are socket options applied to both dialled and accepted
// connections.
type TCPOptions struct {
	NoDelay     bool
	ReadBuffer  int
	WriteBuffer int
}

// DialOptions configures DialTCP.
type DialOptions struct {
	ConnectTimeout time.Duration
	TCP            TCPOptions
	Stream         Options
}

// DialTCP connects to addr and wraps the connection in a Stream.
func DialTCP(ctx context.Context, addr string, opts DialOptions) (*Stream, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Op: "dial", Err: fmt.Errorf("%s: %w", addr, err)}
	}
	TuneTCP(conn, opts.TCP)

	logrus.WithFields(logrus.Fields{
		"function": "DialTCP",
		"remote":   conn.RemoteAddr().String(),
		"no_delay": opts.TCP.NoDelay,
	}).Debug("Connected")

	return NewStream(conn, opts.Stream), nil
}

// TuneTCP applies opts when conn is a *net.TCPConn. Failures are logged and
// otherwise ignored.
func TuneTCP(conn net.Conn, opts TCPOptions) {
	tc, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	fields := logrus.Fields{"function": "TuneTCP", "remote": conn.RemoteAddr().String()}
	if err := tc.SetNoDelay(opts.NoDelay); err != nil {
		logrus.WithFields(fields).WithError(err).Warn("Failed to set TCP_NODELAY")
	}
	if opts.ReadBuffer > 0 {
		if err := tc.SetReadBuffer(opts.ReadBuffer); err != nil {
			logrus.WithFields(fields).WithError(err).Warn("Failed to set read buffer")
		}
	}
	if opts.WriteBuffer > 0 {
		if err := tc.SetWriteBuffer(opts.WriteBuffer); err != nil {
			logrus.WithFields(fields).WithError(err).Warn("Failed to set write buffer")
		}
	}
}
