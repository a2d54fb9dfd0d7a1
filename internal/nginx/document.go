// Package nginx renders, locates and removes managed reverse-proxy blocks in
// an nginx configuration and the matching lines in a hosts file.
//
// Text is handled as a sequence of lines split on "\n". Splitting and joining
// on the same separator is lossless, so every edit preserves the bytes of
// lines it does not touch.
package nginx

import (
	"regexp"
	"strconv"
	"strings"
)

// EntryCommentPrefix starts the comment line that identifies a managed block.
const EntryCommentPrefix = "# Reverse proxy entry for "

var (
	serverNameRegex = regexp.MustCompile(`server_name\s+([^;]+);`)
	proxyPassRegex  = regexp.MustCompile(`proxy_pass\s+http://127\.0\.0\.1:(\d+)\s*;`)
)

// ProxyEntry maps a host name to a local backend port.
type ProxyEntry struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// Span is a managed block occupying lines Start..End inclusive.
type Span struct {
	Host  string
	Start int
	End   int
}

// Document is a config file split into lines with its managed blocks identified.
type Document struct {
	Lines []string
	Spans []Span
}

// ParseDocument splits text into lines and locates every managed block.
//
// A managed block is an identifying comment line followed (after optional
// blank lines) by a "server {" line, running to the line that brings the
// brace depth back to zero. Comments not followed by a balanced server block
// are ignored.
func ParseDocument(text string) *Document {
	doc := &Document{Lines: strings.Split(text, "\n")}

	for i := 0; i < len(doc.Lines); i++ {
		host, ok := entryHost(doc.Lines[i])
		if !ok {
			continue
		}
		end, ok := serverBlockEnd(doc.Lines, i+1)
		if !ok {
			continue
		}
		doc.Spans = append(doc.Spans, Span{Host: host, Start: i, End: end})
		i = end
	}

	return doc
}

// String joins the lines back into text.
func (d *Document) String() string {
	return strings.Join(d.Lines, "\n")
}

// SpansFor returns the managed spans for host in file order.
func (d *Document) SpansFor(host string) []Span {
	var spans []Span
	for _, s := range d.Spans {
		if s.Host == host {
			spans = append(spans, s)
		}
	}
	return spans
}

// Remove deletes every managed span for host and reports whether anything changed.
func (d *Document) Remove(host string) bool {
	spans := d.SpansFor(host)
	if len(spans) == 0 {
		return false
	}

	// Walk backwards so earlier indices stay valid.
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		d.Lines = append(d.Lines[:s.Start], d.Lines[s.End+1:]...)
	}

	kept := d.Spans[:0]
	removed := 0
	for _, s := range d.Spans {
		if s.Host == host {
			removed += s.End - s.Start + 1
			continue
		}
		if removed > 0 {
			s.Start -= removed
			s.End -= removed
		}
		kept = append(kept, s)
	}
	d.Spans = kept

	return true
}

// Entries returns host and port for every managed block. Blocks whose
// proxy_pass line cannot be read report port 0.
func (d *Document) Entries() []ProxyEntry {
	entries := make([]ProxyEntry, 0, len(d.Spans))
	for _, s := range d.Spans {
		entry := ProxyEntry{Host: s.Host}
		for _, line := range d.Lines[s.Start : s.End+1] {
			m := proxyPassRegex.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			if port, err := strconv.ParseUint(m[1], 10, 16); err == nil {
				entry.Port = uint16(port)
			}
			break
		}
		entries = append(entries, entry)
	}
	return entries
}

func entryHost(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, EntryCommentPrefix) {
		return "", false
	}
	host := strings.TrimSpace(strings.TrimPrefix(trimmed, EntryCommentPrefix))
	if host == "" || strings.ContainsAny(host, " \t") {
		return "", false
	}
	return host, true
}

// serverBlockEnd finds the closing line of the server block starting at or
// after from.
func serverBlockEnd(lines []string, from int) (int, bool) {
	i := from
	for i < len(lines) && strings.TrimSpace(lines[i]) == "" {
		i++
	}
	if i >= len(lines) {
		return 0, false
	}

	opener := strings.TrimSpace(lines[i])
	if !strings.HasPrefix(opener, "server") || !strings.HasSuffix(opener, "{") ||
		strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(opener, "server"), "{")) != "" {
		return 0, false
	}

	depth := 0
	for ; i < len(lines); i++ {
		depth += braceDelta(lines[i])
		if depth <= 0 {
			return i, depth == 0
		}
	}
	return 0, false
}

func braceDelta(line string) int {
	return strings.Count(line, "{") - strings.Count(line, "}")
}
