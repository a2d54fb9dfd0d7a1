//go:build !linux && !darwin

package daemon

import (
	"fmt"
	"runtime"
)

func readPeer(int) (*PeerCredentials, error) {
	return nil, fmt.Errorf("peer credentials are not supported on %s", runtime.GOOS)
}
