package oracle

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo describes a running nginx process.
type ProcessInfo struct {
	PID  int32  `json:"pid"`
	Name string `json:"name"`
}

// FindProcesses lists running processes whose name matches the base name of bin.
func FindProcesses(ctx context.Context, bin string) ([]ProcessInfo, error) {
	want := filepath.Base(bin)
	if want == "" || want == "." {
		want = "nginx"
	}

	processes, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	var found []ProcessInfo
	for _, p := range processes {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if name == want {
			found = append(found, ProcessInfo{PID: p.Pid, Name: name})
		}
	}
	return found, nil
}
