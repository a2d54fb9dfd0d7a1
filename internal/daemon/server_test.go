package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/journal"
	"github.com/lukaszraczylo/lolcaproxy/internal/oracle"
	"github.com/lukaszraczylo/lolcaproxy/internal/protocol"
)

const (
	testConf   = "/etc/nginx/nginx.conf"
	testHosts  = "/etc/hosts"
	testBackup = "/var/backups/lolcaproxy"

	testConfig    = "events {\n}\n\nhttp {\n    server {\n        listen 80;\n        server_name localhost;\n    }\n}\n"
	testHostsText = "127.0.0.1\tlocalhost\n"
)

type stubOracle struct {
	validateErr error
	reloadErr   error
}

func (s *stubOracle) Validate(context.Context) error { return s.validateErr }
func (s *stubOracle) Reload(context.Context) error   { return s.reloadErr }

type testEnv struct {
	server  *Server
	fs      afero.Fs
	oracle  *stubOracle
	journal *journal.Journal
}

func setupTestServer(t *testing.T) *testEnv {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, testConf, []byte(testConfig), 0644))
	require.NoError(t, afero.WriteFile(fs, testHosts, []byte(testHostsText), 0644))

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	orc := &stubOracle{}
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	eng, err := engine.New(engine.Options{
		Fs:        fs,
		Paths:     engine.Paths{Config: testConf, Hosts: testHosts},
		BackupDir: testBackup,
		Oracle:    orc,
		Recorder:  j,
		Clock: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	require.NoError(t, err)

	server := NewServer(filepath.Join(t.TempDir(), "test.sock"), eng, "nginx", j, nil)
	server.findProcs = func(context.Context, string) ([]oracle.ProcessInfo, error) {
		return []oracle.ProcessInfo{{PID: 42, Name: "nginx"}}, nil
	}
	t.Cleanup(func() { server.Stop() })

	return &testEnv{server: server, fs: fs, oracle: orc, journal: j}
}

func request(t *testing.T, reqType protocol.RequestType, payload interface{}) *protocol.Request {
	req, err := protocol.NewRequest(reqType, payload)
	require.NoError(t, err)
	return req
}

func root() *PeerCredentials {
	return &PeerCredentials{UID: 0, GID: 0, PID: 1}
}

func TestServer_HandlePing(t *testing.T) {
	env := setupTestServer(t)

	resp := env.server.handlePing()
	assert.Equal(t, "ok", resp.Status)
}

func TestServer_HandleStatus(t *testing.T) {
	env := setupTestServer(t)

	env.server.handleRequest(request(t, protocol.RequestAdd, protocol.AddPayload{Host: "app.local", Port: 3000}), root())

	resp := env.server.handleStatus()
	require.True(t, resp.IsOK())

	var data protocol.StatusData
	require.NoError(t, resp.ParseData(&data))

	assert.True(t, data.Running)
	assert.Equal(t, Version, data.Version)
	assert.Equal(t, testConf, data.ConfigPath)
	assert.Equal(t, testHosts, data.HostsPath)
	assert.Equal(t, testBackup, data.BackupDir)
	assert.Equal(t, 1, data.ProxyCount)
	assert.True(t, data.InSync)
	assert.Equal(t, []int32{42}, data.NginxPIDs)
}

func TestServer_HandleAdd(t *testing.T) {
	tests := []struct {
		name     string
		payload  interface{}
		status   string
		code     protocol.ErrorCode
		contains string
	}{
		{"valid", protocol.AddPayload{Host: "app.local", Port: 3000}, "ok", "", "Successfully added proxy for app.local:3000"},
		{"invalid host", protocol.AddPayload{Host: "bad host", Port: 3000}, "error", "INVALID_INPUT", "Invalid URL format"},
		{"invalid port", protocol.AddPayload{Host: "app.local", Port: 70000}, "error", "INVALID_INPUT", "Port must be a number between 1 and 65535"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)

			resp := env.server.handleAdd(request(t, protocol.RequestAdd, tt.payload))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, tt.code, resp.Code)
			assert.Contains(t, resp.Message, tt.contains)
		})
	}

	t.Run("duplicate", func(t *testing.T) {
		env := setupTestServer(t)
		req := request(t, protocol.RequestAdd, protocol.AddPayload{Host: "app.local", Port: 3000})

		require.True(t, env.server.handleAdd(req).IsOK())
		resp := env.server.handleAdd(req)
		assert.Equal(t, protocol.ErrorCode("DUPLICATE_ENTRY"), resp.Code)
	})

	t.Run("server validation failure carries detail", func(t *testing.T) {
		env := setupTestServer(t)
		env.oracle.validateErr = &oracle.TestError{Output: "nginx: [emerg] unexpected \"}\""}

		resp := env.server.handleAdd(request(t, protocol.RequestAdd, protocol.AddPayload{Host: "app.local", Port: 3000}))
		assert.Equal(t, protocol.ErrorCode("SERVER_VALIDATION_FAILED"), resp.Code)

		res, err := resp.Result()
		require.NoError(t, err)
		assert.Contains(t, res.ErrorDetail, "unexpected")

		conf, err := afero.ReadFile(env.fs, testConf)
		require.NoError(t, err)
		assert.Equal(t, testConfig, string(conf))
	})

	t.Run("invalid payload", func(t *testing.T) {
		env := setupTestServer(t)
		resp := env.server.handleAdd(&protocol.Request{Type: protocol.RequestAdd, Payload: json.RawMessage(`{invalid`)})
		assert.Equal(t, protocol.ErrCodeInvalidRequest, resp.Code)
	})
}

func TestServer_HandleRemove(t *testing.T) {
	env := setupTestServer(t)

	require.True(t, env.server.handleAdd(request(t, protocol.RequestAdd, protocol.AddPayload{Host: "app.local", Port: 3000})).IsOK())

	t.Run("existing", func(t *testing.T) {
		resp := env.server.handleRemove(request(t, protocol.RequestRemove, protocol.RemovePayload{Host: "app.local"}))
		assert.True(t, resp.IsOK())

		hosts, err := afero.ReadFile(env.fs, testHosts)
		require.NoError(t, err)
		assert.Equal(t, testHostsText, string(hosts))
	})

	t.Run("missing", func(t *testing.T) {
		resp := env.server.handleRemove(request(t, protocol.RequestRemove, protocol.RemovePayload{Host: "app.local"}))
		assert.Equal(t, protocol.ErrCodeNotFound, resp.Code)
		assert.Equal(t, "No proxy entry found for app.local", resp.Message)
	})

	t.Run("invalid payload", func(t *testing.T) {
		resp := env.server.handleRemove(&protocol.Request{Type: protocol.RequestRemove})
		assert.Equal(t, protocol.ErrCodeInvalidRequest, resp.Code)
	})
}

func TestServer_HandleList(t *testing.T) {
	env := setupTestServer(t)
	require.True(t, env.server.handleAdd(request(t, protocol.RequestAdd, protocol.AddPayload{Host: "app.local", Port: 3000})).IsOK())

	resp := env.server.handleList()
	require.True(t, resp.IsOK())

	res, err := resp.Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost", "app.local"}, res.Data.ConfigEntries)
	assert.Equal(t, []string{"localhost", "app.local"}, res.Data.HostsEntries)
	require.Len(t, res.Data.Proxies, 1)
	assert.Equal(t, uint16(3000), res.Data.Proxies[0].Port)
}

func TestServer_Backups(t *testing.T) {
	env := setupTestServer(t)
	require.True(t, env.server.handleAdd(request(t, protocol.RequestAdd, protocol.AddPayload{Host: "app.local", Port: 3000})).IsOK())

	resp := env.server.handleBackups()
	require.True(t, resp.IsOK())

	var data protocol.BackupsData
	require.NoError(t, resp.ParseData(&data))
	require.Len(t, data.Backups, 1)
	ts := data.Backups[0].Timestamp

	t.Run("content", func(t *testing.T) {
		resp := env.server.handleBackupContent(request(t, protocol.RequestBackupContent, protocol.BackupContentPayload{
			Timestamp: ts,
			File:      backup.FileHosts,
		}))
		require.True(t, resp.IsOK())

		var content protocol.BackupContentData
		require.NoError(t, resp.ParseData(&content))
		assert.Equal(t, testHostsText, content.Content)
	})

	t.Run("content errors", func(t *testing.T) {
		tests := []struct {
			name    string
			payload protocol.BackupContentPayload
			code    protocol.ErrorCode
		}{
			{"unknown file", protocol.BackupContentPayload{Timestamp: ts, File: "passwd"}, protocol.ErrCodeInvalidRequest},
			{"bad timestamp", protocol.BackupContentPayload{Timestamp: "../../etc", File: backup.FileHosts}, protocol.ErrCodeInvalidRequest},
			{"missing snapshot", protocol.BackupContentPayload{Timestamp: "2000-01-01T00-00-00", File: backup.FileHosts}, protocol.ErrCodeNotFound},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp := env.server.handleBackupContent(request(t, protocol.RequestBackupContent, tt.payload))
				assert.Equal(t, tt.code, resp.Code)
			})
		}
	})

	t.Run("restore", func(t *testing.T) {
		resp := env.server.handleRestore(request(t, protocol.RequestRestore, protocol.RestorePayload{Timestamp: ts}))
		require.True(t, resp.IsOK(), resp.Message)

		conf, err := afero.ReadFile(env.fs, testConf)
		require.NoError(t, err)
		assert.Equal(t, testConfig, string(conf))
	})

	t.Run("restore unknown", func(t *testing.T) {
		resp := env.server.handleRestore(request(t, protocol.RequestRestore, protocol.RestorePayload{Timestamp: "2000-01-01T00-00-00"}))
		assert.Equal(t, protocol.ErrCodeNotFound, resp.Code)
	})
}

func TestServer_HandleHistory(t *testing.T) {
	env := setupTestServer(t)
	env.server.handleRequest(request(t, protocol.RequestAdd, protocol.AddPayload{Host: "a.local", Port: 3000}), root())
	env.server.handleRequest(request(t, protocol.RequestRemove, protocol.RemovePayload{Host: "ghost.local"}), root())

	t.Run("default limit", func(t *testing.T) {
		resp := env.server.handleHistory(&protocol.Request{Type: protocol.RequestHistory})
		require.True(t, resp.IsOK())

		var data protocol.HistoryData
		require.NoError(t, resp.ParseData(&data))
		require.Len(t, data.Records, 2)
		assert.Equal(t, "remove", data.Records[0].Op)
		assert.False(t, data.Records[0].Success)
		assert.Equal(t, "add", data.Records[1].Op)
	})

	t.Run("limit", func(t *testing.T) {
		resp := env.server.handleHistory(request(t, protocol.RequestHistory, protocol.HistoryPayload{Limit: 1}))
		var data protocol.HistoryData
		require.NoError(t, resp.ParseData(&data))
		assert.Len(t, data.Records, 1)
	})

	t.Run("no journal", func(t *testing.T) {
		env.server.history = nil
		resp := env.server.handleHistory(&protocol.Request{Type: protocol.RequestHistory})
		assert.Equal(t, protocol.ErrCodeInternalError, resp.Code)
	})
}

func TestServer_SetEngine(t *testing.T) {
	env := setupTestServer(t)

	other := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(other, "/srv/nginx.conf", []byte(testConfig), 0644))
	require.NoError(t, afero.WriteFile(other, "/srv/hosts", []byte(testHostsText), 0644))
	eng, err := engine.New(engine.Options{
		Fs:        other,
		Paths:     engine.Paths{Config: "/srv/nginx.conf", Hosts: "/srv/hosts"},
		BackupDir: "/srv/backups",
		Oracle:    &stubOracle{},
	})
	require.NoError(t, err)

	env.server.SetEngine(eng, "/usr/sbin/nginx")

	resp := env.server.handleStatus()
	var data protocol.StatusData
	require.NoError(t, resp.ParseData(&data))
	assert.Equal(t, "/srv/nginx.conf", data.ConfigPath)
}

func TestServer_HandleRequest_UnknownType(t *testing.T) {
	env := setupTestServer(t)

	resp := env.server.handleRequest(&protocol.Request{Type: "unknown_type"}, root())
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, protocol.ErrCodeInvalidRequest, resp.Code)
}

func TestServer_ResultResponse(t *testing.T) {
	env := setupTestServer(t)

	resp := env.server.resultResponse(nil, errors.New("boom"))
	assert.Equal(t, protocol.ErrCodeInternalError, resp.Code)

	resp = env.server.resultResponse(&engine.Result{Code: engine.RollbackFailed, Message: "rollback failed"}, engine.ErrRollbackFailed)
	assert.Equal(t, protocol.ErrCodeRollbackFailed, resp.Code)
}

func TestServer_IsAuthorized(t *testing.T) {
	env := setupTestServer(t)

	t.Run("root user", func(t *testing.T) {
		assert.True(t, env.server.isAuthorized(root()))
	})

	t.Run("group member by primary gid", func(t *testing.T) {
		creds := &PeerCredentials{UID: 501, GID: env.server.groupGID, PID: 2}
		assert.True(t, env.server.isAuthorized(creds))
	})

	t.Run("nil credentials", func(t *testing.T) {
		assert.False(t, env.server.isAuthorized(nil))
	})
}

func TestServer_AcceptConnection(t *testing.T) {
	// Start chowns the socket
	if os.Getuid() != 0 {
		t.Skip("Test requires root privileges to create socket with proper ownership")
	}

	env := setupTestServer(t)
	require.NoError(t, env.server.Start())

	_, err := os.Stat(env.server.socketPath)
	require.NoError(t, err)

	conn, err := net.Dial("unix", env.server.socketPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(request(t, protocol.RequestPing, nil)))

	var resp protocol.Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)

	require.NoError(t, env.server.Stop())
	_, err = os.Stat(env.server.socketPath)
	assert.True(t, os.IsNotExist(err))
}

func BenchmarkServer_HandlePing(b *testing.B) {
	server := &Server{rateLimiter: NewRateLimiter(100000, time.Minute)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		server.handlePing()
	}
}
