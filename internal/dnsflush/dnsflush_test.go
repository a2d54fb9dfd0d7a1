package dnsflush

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/lolcaproxy/internal/config"
)

type recorder struct {
	calls []string
	fail  map[string]bool
}

func (r *recorder) run(_ context.Context, name string, args ...string) error {
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	if r.fail[name] {
		return errors.New("exit status 1")
	}
	return nil
}

func lookPathOf(names ...string) LookPathFunc {
	return func(name string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
}

func TestFlusher_Darwin(t *testing.T) {
	tests := []struct {
		method config.FlushMethod
		want   []string
	}{
		{config.FlushMethodAuto, []string{"dscacheutil -flushcache", "killall -HUP mDNSResponder"}},
		{config.FlushMethodBoth, []string{"dscacheutil -flushcache", "killall -HUP mDNSResponder"}},
		{config.FlushMethodDscacheutil, []string{"dscacheutil -flushcache"}},
		{config.FlushMethodKillall, []string{"killall -HUP mDNSResponder"}},
		{config.FlushMethodNone, nil},
	}

	for _, tt := range tests {
		t.Run(string(tt.method), func(t *testing.T) {
			r := &recorder{}
			f := NewWithRunner(tt.method, "darwin", r.run, lookPathOf())
			require.NoError(t, f.Flush(context.Background()))
			assert.Equal(t, tt.want, r.calls)
		})
	}
}

func TestFlusher_Darwin_BothFail(t *testing.T) {
	r := &recorder{fail: map[string]bool{"dscacheutil": true, "killall": true}}
	f := NewWithRunner(config.FlushMethodBoth, "darwin", r.run, lookPathOf())

	err := f.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all DNS flush methods failed")
}

func TestFlusher_Linux(t *testing.T) {
	tests := []struct {
		name    string
		method  config.FlushMethod
		tools   []string
		fail    map[string]bool
		want    []string
		wantErr bool
	}{
		{
			name:   "auto detects systemd",
			method: config.FlushMethodAuto,
			tools:  []string{"resolvectl"},
			want:   []string{"resolvectl flush-caches"},
		},
		{
			name:   "systemd falls back to systemd-resolve",
			method: config.FlushMethodSystemd,
			fail:   map[string]bool{"resolvectl": true},
			want:   []string{"resolvectl flush-caches", "systemd-resolve --flush-caches"},
		},
		{
			name:   "auto detects nscd",
			method: config.FlushMethodAuto,
			tools:  []string{"nscd"},
			want:   []string{"nscd -i hosts"},
		},
		{
			name:    "nscd fails",
			method:  config.FlushMethodNscd,
			fail:    map[string]bool{"nscd": true, "service": true},
			want:    []string{"nscd -i hosts", "service nscd restart"},
			wantErr: true,
		},
		{
			name:   "nothing installed is not an error",
			method: config.FlushMethodAuto,
			fail:   map[string]bool{"resolvectl": true, "systemd-resolve": true, "nscd": true},
			want:   []string{"resolvectl flush-caches", "systemd-resolve --flush-caches", "nscd -i hosts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recorder{fail: tt.fail}
			f := NewWithRunner(tt.method, "linux", r.run, lookPathOf(tt.tools...))
			err := f.Flush(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, r.calls)
		})
	}
}

func TestFlusher_UnsupportedOS(t *testing.T) {
	r := &recorder{}
	f := NewWithRunner(config.FlushMethodAuto, "plan9", r.run, lookPathOf())
	err := f.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported operating system")
}

func TestNew(t *testing.T) {
	f := New(config.FlushMethodNone)
	assert.NotNil(t, f)
	assert.NoError(t, f.Flush(context.Background()))
}
