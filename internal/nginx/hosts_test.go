package nginx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const sampleHosts = `##
# Host Database
##
127.0.0.1	localhost
255.255.255.255	broadcasthost
::1             localhost
`

func TestRenderHostsLine(t *testing.T) {
	assert.Equal(t, "127.0.0.1 example.com", RenderHostsLine("example.com"))
}

func TestAddHostsLine(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"empty file", "", "127.0.0.1 app.local\n"},
		{"trailing newline", "a\n", "a\n127.0.0.1 app.local\n"},
		{"missing trailing newline", "a", "a\n127.0.0.1 app.local\n"},
		{"already present", "a\n127.0.0.1 app.local\nb\n", "a\n127.0.0.1 app.local\nb\n"},
		{"similar line is not a match", "127.0.0.1 app.local.com\n", "127.0.0.1 app.local.com\n127.0.0.1 app.local\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddHostsLine(tt.text, RenderHostsLine("app.local")))
		})
	}
}

func TestRemoveHostsLine(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"middle", "a\n127.0.0.1 app.local\nb\n", "a\nb\n"},
		{"last", "a\n127.0.0.1 app.local\n", "a\n"},
		{"only", "127.0.0.1 app.local\n", ""},
		{"no trailing newline", "a\n127.0.0.1 app.local", "a"},
		{"duplicates", "127.0.0.1 app.local\na\n127.0.0.1 app.local\n", "a\n"},
		{"absent", "a\nb\n", "a\nb\n"},
		{"longer host untouched", "127.0.0.1 app.local.dev\n", "127.0.0.1 app.local.dev\n"},
		{"commented untouched", "# 127.0.0.1 app.local\n", "# 127.0.0.1 app.local\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemoveHostsLine(tt.text, "app.local"))
		})
	}
}

func TestAddRemoveHostsLine_RoundTrip(t *testing.T) {
	added := AddHostsLine(sampleHosts, RenderHostsLine("app.local"))
	assert.Equal(t, sampleHosts, RemoveHostsLine(added, "app.local"))
}

func TestListHostsEntries(t *testing.T) {
	text := sampleHosts +
		"# 127.0.0.1 commented.local\n" +
		"\n" +
		"127.0.0.1 app.local\n" +
		"   127.0.0.1   spaced.local   # trailing comment\n" +
		"10.0.0.1 remote.local\n" +
		"127.0.0.1\n"

	assert.Equal(t, []string{"localhost", "app.local", "spaced.local"}, ListHostsEntries(text))
	assert.Empty(t, ListHostsEntries(""))
}
