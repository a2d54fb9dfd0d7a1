package nginx

import (
	"strings"
)

// LoopbackIP is the address every managed hosts line points at.
const LoopbackIP = "127.0.0.1"

// RenderHostsLine renders the hosts file line for host.
func RenderHostsLine(host string) string {
	return LoopbackIP + " " + host
}

// AddHostsLine appends line followed by a newline unless the exact line is
// already present.
func AddHostsLine(text, line string) string {
	for _, existing := range strings.Split(text, "\n") {
		if existing == line {
			return text
		}
	}

	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return text + line + "\n"
}

// RemoveHostsLine deletes every occurrence of the managed line for host
// together with one adjacent newline.
func RemoveHostsLine(text, host string) string {
	line := RenderHostsLine(host)
	lines := strings.Split(text, "\n")

	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		if l == line {
			continue
		}
		kept = append(kept, l)
	}
	if len(kept) == len(lines) {
		return text
	}
	return strings.Join(kept, "\n")
}

// ListHostsEntries returns the host of every active line mapping 127.0.0.1.
func ListHostsEntries(text string) []string {
	var hosts []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if !strings.Contains(trimmed, LoopbackIP) {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		hosts = append(hosts, fields[1])
	}
	return hosts
}
