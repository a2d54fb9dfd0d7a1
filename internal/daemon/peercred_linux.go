//go:build linux

package daemon

import "golang.org/x/sys/unix"

func readPeer(fd int) (*PeerCredentials, error) {
	cred, err := unix.GetsockoptUcred(fd, unix.SOL_SOCKET, unix.SO_PEERCRED)
	if err != nil {
		return nil, err
	}
	return &PeerCredentials{UID: cred.Uid, GID: cred.Gid, PID: cred.Pid}, nil
}
