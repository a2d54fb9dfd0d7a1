package nginx

import (
	"fmt"
	"strings"
)

const serverBlockTemplate = `    # Reverse proxy entry for %[1]s
    server {
        listen 80;
        server_name %[1]s;

        location / {
            proxy_pass http://127.0.0.1:%[2]d;
            proxy_set_header Host $host;
            proxy_set_header X-Real-IP $remote_addr;
            proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;
            proxy_set_header X-Forwarded-Proto $scheme;
            proxy_redirect off;
        }
    }`

// RenderServerBlock renders the managed server block proxying host to port.
func RenderServerBlock(host string, port uint16) string {
	return fmt.Sprintf(serverBlockTemplate, host, port)
}

// FindInsertionPoint returns the index of the line closing the top-level
// "http {" block. A new block inserted at that index lands just before it.
//
// Braces are counted per line, net, starting from depth 1 on the "http {"
// line.
func FindInsertionPoint(text string) (int, bool) {
	tracking := false
	depth := 0

	for i, line := range strings.Split(text, "\n") {
		if !tracking {
			if strings.TrimSpace(line) == "http {" {
				tracking = true
				depth = 1
			}
			continue
		}

		depth += braceDelta(line)
		if depth == 0 {
			return i, true
		}
	}

	return -1, false
}

// InsertBlock splices block into text as new line(s) at line index atLine.
func InsertBlock(text, block string, atLine int) string {
	lines := strings.Split(text, "\n")
	if atLine < 0 {
		atLine = 0
	}
	if atLine > len(lines) {
		atLine = len(lines)
	}

	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:atLine]...)
	out = append(out, block)
	out = append(out, lines[atLine:]...)
	return strings.Join(out, "\n")
}

// RemoveBlockFor deletes the managed block for host. Text without such a
// block is returned unchanged.
func RemoveBlockFor(text, host string) string {
	doc := ParseDocument(text)
	if !doc.Remove(host) {
		return text
	}
	return doc.String()
}

// HasEntry reports whether a "server_name <host>;" line exists.
func HasEntry(text, host string) bool {
	want := "server_name " + host + ";"
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == want {
			return true
		}
	}
	return false
}

// ListServerNames returns every server_name value in file order.
func ListServerNames(text string) []string {
	matches := serverNameRegex.FindAllStringSubmatch(text, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSpace(m[1]))
	}
	return names
}

// ListProxyEntries returns the managed blocks with their backend ports.
func ListProxyEntries(text string) []ProxyEntry {
	return ParseDocument(text).Entries()
}

// BraceBalance returns the net count of "{" over "}" in text.
func BraceBalance(text string) int {
	return braceDelta(text)
}
