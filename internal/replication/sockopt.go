package replication

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// listenConfig sets SO_REUSEADDR on the listening socket so the
// reactor can rebind its port immediately after a restart, instead of
// waiting out TIME_WAIT. net.Listen alone doesn't expose this knob;
// ListenConfig.Control is the portable way to reach the raw fd before
// it's wrapped.
var listenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// dialer enables TCP keepalive on outbound connections, so a peer
// that silently stops responding (rather than resetting the
// connection) is still detected without waiting on the application
// heartbeat.
var dialer = net.Dialer{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}
