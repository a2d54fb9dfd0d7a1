package daemon

import (
	"fmt"
	"os/user"
	"slices"
	"strconv"
)

const (
	// GroupName is the group whose members may talk to the daemon.
	GroupName = "lolcaproxy"
	// DefaultGID is used when GroupName cannot be resolved.
	DefaultGID = 850
)

// PeerCredentials identify the process on the other end of a connection.
type PeerCredentials struct {
	UID uint32
	GID uint32
	PID int32
}

// memberOf reports whether uid lists gid among its groups, supplementary
// groups included.
func memberOf(uid, gid uint32) bool {
	u, err := user.LookupId(strconv.FormatUint(uint64(uid), 10))
	if err != nil {
		return false
	}
	ids, err := u.GroupIds()
	if err != nil {
		return false
	}
	return slices.Contains(ids, strconv.FormatUint(uint64(gid), 10))
}

// groupID resolves a group name to its numeric id.
func groupID(name string) (uint32, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, fmt.Errorf("failed to look up group %s: %w", name, err)
	}
	id, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("group %s has a non-numeric gid %q", name, g.Gid)
	}
	return uint32(id), nil
}

// daemonGID returns the gid of GroupName, or DefaultGID before install.
func daemonGID() uint32 {
	if id, err := groupID(GroupName); err == nil {
		return id
	}
	return DefaultGID
}
