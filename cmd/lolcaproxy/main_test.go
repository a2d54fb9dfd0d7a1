package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
	"github.com/lukaszraczylo/lolcaproxy/internal/config"
	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/nginx"
)

const (
	testNginxConf = "worker_processes 1;\n\nevents {\n    worker_connections 1024;\n}\n\nhttp {\n    include mime.types;\n\n    server {\n        listen 8080;\n        server_name localhost;\n    }\n}\n"
	testHosts     = "##\n# Host Database\n##\n127.0.0.1\tlocalhost\n::1 localhost\n"
)

type cliEnv struct {
	dir        string
	configPath string
	nginxConf  string
	hostsFile  string
	backupDir  string
}

// newCLIEnv writes a settings file pointing at temp copies of the managed
// files and a shell script standing in for nginx. The script rejects any
// config mentioning rejected.local.
func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake nginx is a shell script")
	}

	dir := t.TempDir()
	env := &cliEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "settings.yaml"),
		nginxConf:  filepath.Join(dir, "nginx.conf"),
		hostsFile:  filepath.Join(dir, "hosts"),
		backupDir:  filepath.Join(dir, "backups"),
	}

	require.NoError(t, os.WriteFile(env.nginxConf, []byte(testNginxConf), 0644))
	require.NoError(t, os.WriteFile(env.hostsFile, []byte(testHosts), 0644))

	script := fmt.Sprintf(`#!/bin/sh
if [ "$1" = "-t" ]; then
  if grep -q "rejected.local" %[1]q; then
    echo "nginx: [emerg] host not found in upstream" >&2
    exit 1
  fi
  echo "nginx: the configuration file %[1]s syntax is ok" >&2
  echo "nginx: configuration file %[1]s test is successful" >&2
fi
exit 0
`, env.nginxConf)
	bin := filepath.Join(dir, "nginx")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))

	settings := fmt.Sprintf(`nginxConf: %s
hostsFile: %s
nginxBin: %s
localPort: 8004
backupDir: %s
escalation: direct
commandTimeout: 5s
flushDNS: none
log:
  level: error
  format: text
`, env.nginxConf, env.hostsFile, bin, env.backupDir)
	require.NoError(t, os.WriteFile(env.configPath, []byte(settings), 0644))

	return env
}

func (e *cliEnv) run(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = run(append([]string{"--config", e.configPath}, args...), &out, &errOut)
	return code, out.String(), errOut.String()
}

func (e *cliEnv) read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

var backupLine = regexp.MustCompile(`backup: (\S+)`)

func snapshotFrom(t *testing.T, out string) string {
	t.Helper()
	m := backupLine.FindStringSubmatch(out)
	require.Len(t, m, 2, "no backup line in %q", out)
	return m[1]
}

func TestCLI_AddListRemove(t *testing.T) {
	env := newCLIEnv(t)

	code, out, errOut := env.run("add", "app.local", "-p", "3000")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "✓ Successfully added proxy for app.local:3000")
	assert.Contains(t, out, "backup: ")
	assert.Contains(t, env.read(t, env.nginxConf), "server_name app.local;")
	assert.Contains(t, env.read(t, env.hostsFile), "app.local")

	code, out, _ = env.run("list", "--json")
	require.Equal(t, exitOK, code)
	var data engine.Data
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	assert.Contains(t, data.Proxies, nginx.ProxyEntry{Host: "app.local", Port: 3000})
	assert.Contains(t, data.HostsEntries, "app.local")

	code, out, _ = env.run("list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "HOST")
	assert.Contains(t, out, "app.local")
	assert.Contains(t, out, "3000")

	code, out, errOut = env.run("remove", "app.local")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Successfully removed proxy for app.local")
	assert.Equal(t, testNginxConf, env.read(t, env.nginxConf))
	assert.NotContains(t, env.read(t, env.hostsFile), "app.local")

	code, out, _ = env.run("history", "-n", "5")
	require.Equal(t, exitOK, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "remove")
	assert.Contains(t, lines[2], "add")
}

func TestCLI_AddUsesDefaultPort(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run("add", "api.local")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "api.local:8004")
	assert.Contains(t, env.read(t, env.nginxConf), "127.0.0.1:8004")
}

func TestCLI_Failures(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "invalid host",
			args: []string{"add", "bad host", "-p", "3000"},
			want: "✗",
		},
		{
			name: "port out of range",
			args: []string{"add", "app.local", "-p", "70000"},
			want: "✗",
		},
		{
			name: "remove unknown host",
			args: []string{"remove", "missing.local"},
			want: "No proxy entry found for missing.local",
		},
		{
			name: "remove unmanaged host",
			args: []string{"remove", "localhost"},
			want: "was not created by this tool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newCLIEnv(t)

			code, out, _ := env.run(tt.args...)
			assert.Equal(t, exitFailure, code)
			assert.Contains(t, out, tt.want)
			assert.Equal(t, testNginxConf, env.read(t, env.nginxConf))
			assert.Equal(t, testHosts, env.read(t, env.hostsFile))
		})
	}
}

func TestCLI_ValidationFailureRollsBack(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run("add", "rejected.local", "-p", "3000")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, out, "Nginx configuration test failed. Changes reverted.")
	assert.Contains(t, out, "host not found in upstream")
	assert.Equal(t, testNginxConf, env.read(t, env.nginxConf))
	assert.Equal(t, testHosts, env.read(t, env.hostsFile))
}

func TestCLI_Backups(t *testing.T) {
	env := newCLIEnv(t)

	code, out, _ := env.run("backups", "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "No backups found.")

	code, out, _ = env.run("add", "app.local", "-p", "3000")
	require.Equal(t, exitOK, code)
	ts := snapshotFrom(t, out)

	code, out, _ = env.run("backups", "list")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "TIMESTAMP")
	assert.Contains(t, out, ts)

	code, out, _ = env.run("backups", "show", ts, "--file", "hosts")
	require.Equal(t, exitOK, code)
	assert.Equal(t, testHosts, out)

	code, out, _ = env.run("backups", "show", ts)
	require.Equal(t, exitOK, code)
	assert.Equal(t, testNginxConf, out)

	code, _, errOut := env.run("backups", "show", ts, "--file", "passwd")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "unknown file")

	code, out, errOut = env.run("backups", "restore", ts, "--yes")
	require.Equal(t, exitOK, code, errOut)
	assert.Contains(t, out, "Restored backup "+ts)
	assert.Equal(t, testNginxConf, env.read(t, env.nginxConf))
	assert.Equal(t, testHosts, env.read(t, env.hostsFile))

	code, out, _ = env.run("backups", "prune", "--keep", "1")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Removed 1 backup(s)")

	code, _, errOut = env.run("--remote", "backups", "prune")
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut, "prune runs locally")
}

func TestCLI_Setup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")

	var out, errOut bytes.Buffer
	code := run([]string{"--config", path, "setup", "--non-interactive"}, &out, &errOut)
	require.Equal(t, exitOK, code, errOut.String())
	assert.Contains(t, out.String(), "Settings written to "+path)

	m := config.NewManager(path)
	require.NoError(t, m.Load())
	assert.Equal(t, config.Defaults().LocalPort, m.Get().LocalPort)
	assert.Equal(t, config.Defaults().BackupDir, m.Get().BackupDir)
}

func TestCLI_Version(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"version"}, &out, &errOut)
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "lolcaproxy version dev\n", out.String())
}

func TestCLI_UnknownCommand(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"frobnicate"}, &out, &errOut)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, errOut.String(), "Error:")
}

func TestResultError(t *testing.T) {
	tests := []struct {
		name     string
		res      *engine.Result
		wantCode int
	}{
		{"success", &engine.Result{Success: true}, exitOK},
		{"failure", &engine.Result{Code: engine.DuplicateEntry}, exitFailure},
		{"rollback failed", &engine.Result{Code: engine.RollbackFailed}, exitRollbackFailed},
		{"nil result", nil, exitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := resultError(tt.res)
			if tt.wantCode == exitOK {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)

			var exit *exitError
			if tt.res == nil {
				assert.NotErrorAs(t, err, &exit)
				return
			}
			require.ErrorAs(t, err, &exit)
			assert.Equal(t, tt.wantCode, exit.code)
		})
	}
}

func TestParseFile(t *testing.T) {
	f, err := parseFile("config")
	require.NoError(t, err)
	assert.Equal(t, backup.FileConfig, f)

	f, err = parseFile("hosts")
	require.NoError(t, err)
	assert.Equal(t, backup.FileHosts, f)

	_, err = parseFile("../etc/passwd")
	assert.Error(t, err)
}

func TestPrintResult(t *testing.T) {
	tests := []struct {
		name string
		res  *engine.Result
		want []string
	}{
		{
			name: "success with snapshot",
			res: &engine.Result{
				Success: true,
				Message: "Successfully added proxy for app.local:3000",
				Data:    &engine.Data{Snapshot: &backup.Snapshot{Timestamp: "2026-01-02T03-04-05"}},
			},
			want: []string{"✓ Successfully added proxy", "backup: 2026-01-02T03-04-05"},
		},
		{
			name: "failure with detail",
			res: &engine.Result{
				Code:        engine.ServerValidationFailed,
				Message:     "Nginx configuration test failed. Changes reverted.",
				ErrorDetail: "nginx: [emerg] unexpected \"}\"\n",
			},
			want: []string{"✗ Nginx configuration test failed", "  nginx: [emerg] unexpected \"}\"\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printResult(&buf, tt.res)
			for _, w := range tt.want {
				assert.Contains(t, buf.String(), w)
			}
		})
	}
}
