//go:build darwin

package daemon

import "golang.org/x/sys/unix"

// localPeerPID is LOCAL_PEERPID from sys/un.h. Xucred carries no pid.
const localPeerPID = 0x002

func readPeer(fd int) (*PeerCredentials, error) {
	xu, err := unix.GetsockoptXucred(fd, unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	if err != nil {
		return nil, err
	}

	// A missing pid only weakens rate limiting, so it is not fatal.
	pid, err := unix.GetsockoptInt(fd, unix.SOL_LOCAL, localPeerPID)
	if err != nil {
		pid = 0
	}

	var gid uint32
	if xu.Ngroups > 0 {
		gid = xu.Groups[0]
	}
	return &PeerCredentials{UID: xu.Uid, GID: gid, PID: int32(pid)}, nil
}
