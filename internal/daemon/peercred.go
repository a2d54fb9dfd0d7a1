package daemon

import (
	"errors"
	"net"
)

var errNotUnixConn = errors.New("connection is not a unix socket")

// peerCredentials asks the kernel who is on the other end of conn. A nil
// result means the peer is unknown and must be treated as unauthorized.
func peerCredentials(conn net.Conn) (*PeerCredentials, error) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, errNotUnixConn
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return nil, err
	}

	var (
		creds   *PeerCredentials
		readErr error
	)
	if err := raw.Control(func(fd uintptr) {
		creds, readErr = readPeer(int(fd))
	}); err != nil {
		return nil, err
	}
	return creds, readErr
}
