// Package daemon provides the privileged Unix socket server that applies
// proxy changes on behalf of unprivileged clients.
package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/journal"
	"github.com/lukaszraczylo/lolcaproxy/internal/logging"
	"github.com/lukaszraczylo/lolcaproxy/internal/oracle"
	"github.com/lukaszraczylo/lolcaproxy/internal/protocol"
)

// Version is set by the main package at startup
var Version = "dev"

// DefaultHistoryLimit applies when a history request asks for zero records.
const DefaultHistoryLimit = 20

// History reads the operation journal.
type History interface {
	Recent(limit int) ([]journal.Record, error)
}

// ProcessFinder lists running nginx processes.
type ProcessFinder func(ctx context.Context, bin string) ([]oracle.ProcessInfo, error)

// Server is the daemon's Unix socket server.
type Server struct {
	socketPath   string
	listener     net.Listener
	engine       *engine.Engine
	nginxBin     string
	history      History
	findProcs    ProcessFinder
	rateLimiter  *RateLimiter
	auditor      *Auditor
	logger       *slog.Logger
	groupGID     uint32
	mu           sync.RWMutex
	running      bool
	stopCh       chan struct{}
	stopOnce     sync.Once
	ctx          context.Context
	cancel       context.CancelFunc
	requestCount int64
	startTime    time.Time
}

// NewServer creates a new daemon server around an engine. history may be nil.
func NewServer(socketPath string, eng *engine.Engine, nginxBin string, history History, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		socketPath:  socketPath,
		engine:      eng,
		nginxBin:    nginxBin,
		history:     history,
		findProcs:   oracle.FindProcesses,
		rateLimiter: NewRateLimiter(RateLimit, RateLimitWindow),
		logger:      logger.With("component", "server"),
		groupGID:    DefaultGID,
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		startTime:   time.Now(),
	}
}

// SetEngine swaps the engine used for new requests after a settings reload.
// Requests already running finish on the previous engine.
func (s *Server) SetEngine(eng *engine.Engine, nginxBin string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.engine = eng
	s.nginxBin = nginxBin
}

func (s *Server) current() (*engine.Engine, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine, s.nginxBin
}

// Start starts the server.
func (s *Server) Start() error {
	os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}

	// 0660 root:lolcaproxy
	if err := os.Chmod(s.socketPath, 0660); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.groupGID = daemonGID()
	if err := os.Chown(s.socketPath, 0, int(s.groupGID)); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket ownership: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	if a, err := OpenAuditor(AuditLogPath); err == nil {
		s.auditor = a
	} else {
		s.logger.Warn("audit log disabled", "error", err)
	}

	s.logger.Info("listening", "socket", s.socketPath, "gid", s.groupGID)
	go s.acceptLoop()

	return nil
}

// Stop stops the server.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()

		close(s.stopCh)
		s.cancel()

		if s.listener != nil {
			s.listener.Close()
		}

		os.Remove(s.socketPath)

		if s.auditor != nil {
			s.auditor.Close()
		}
	})
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				continue
			}
		}

		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()

	creds, err := peerCredentials(conn)
	if err != nil {
		s.logger.Debug("failed to read peer credentials", "error", err)
		creds = nil
	}

	if !s.isAuthorized(creds) {
		s.writeResponse(conn, protocol.NewErrorResponse(protocol.ErrCodeUnauthorized, "unauthorized: user not in "+GroupName+" group"))
		var uid uint32
		var pid int32
		if creds != nil {
			uid = creds.UID
			pid = creds.PID
		}
		s.logger.Warn("unauthorized connection", "uid", uid, "pid", pid)
		s.audit(AuditEvent{UID: uid, PID: pid, Action: "connect", Code: string(protocol.ErrCodeUnauthorized), Message: "unauthorized access attempt"})
		return
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req protocol.Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeResponse(conn, protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid JSON"))
			continue
		}

		if !s.rateLimiter.Allow(creds.PID) {
			s.writeResponse(conn, protocol.NewErrorResponse(protocol.ErrCodeRateLimited, "rate limit exceeded"))
			continue
		}

		s.mu.Lock()
		s.requestCount++
		s.mu.Unlock()

		resp := s.handleRequest(&req, creds)
		s.writeResponse(conn, resp)
	}
}

// isAuthorized allows root and members of the daemon group.
func (s *Server) isAuthorized(creds *PeerCredentials) bool {
	if creds == nil {
		return false
	}

	if creds.UID == 0 {
		return true
	}

	if creds.GID == s.groupGID {
		return true
	}

	return memberOf(creds.UID, s.groupGID)
}

func (s *Server) writeResponse(conn net.Conn, resp *protocol.Response) {
	data, _ := json.Marshal(resp)
	data = append(data, '\n')
	conn.Write(data)
}

func (s *Server) audit(ev AuditEvent) {
	if s.auditor != nil {
		s.auditor.Record(ev)
	}
}

// auditResponse fills the outcome of resp into ev and records it.
func (s *Server) auditResponse(ev AuditEvent, resp *protocol.Response) {
	ev.Success = resp.IsOK()
	ev.Code = string(resp.Code)
	ev.Message = resp.Message
	s.audit(ev)
}

func (s *Server) handleRequest(req *protocol.Request, creds *PeerCredentials) *protocol.Response {
	var ev AuditEvent
	if creds != nil {
		ev.UID, ev.PID = creds.UID, creds.PID
	}

	switch req.Type {
	case protocol.RequestPing:
		return s.handlePing()

	case protocol.RequestStatus:
		return s.handleStatus()

	case protocol.RequestList:
		return s.handleList()

	case protocol.RequestAdd:
		var payload protocol.AddPayload
		_ = req.ParsePayload(&payload)
		resp := s.handleAdd(req)
		ev.Action, ev.Host, ev.Port = "add", payload.Host, payload.Port
		s.auditResponse(ev, resp)
		return resp

	case protocol.RequestRemove:
		var payload protocol.RemovePayload
		_ = req.ParsePayload(&payload)
		resp := s.handleRemove(req)
		ev.Action, ev.Host = "remove", payload.Host
		s.auditResponse(ev, resp)
		return resp

	case protocol.RequestRestore:
		var payload protocol.RestorePayload
		_ = req.ParsePayload(&payload)
		resp := s.handleRestore(req)
		ev.Action, ev.Backup = "restore", payload.Timestamp
		s.auditResponse(ev, resp)
		return resp

	case protocol.RequestBackups:
		return s.handleBackups()

	case protocol.RequestBackupContent:
		return s.handleBackupContent(req)

	case protocol.RequestHistory:
		return s.handleHistory(req)

	default:
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, fmt.Sprintf("unknown request type: %s", req.Type))
	}
}

func (s *Server) handlePing() *protocol.Response {
	resp, _ := protocol.NewOKResponse(map[string]string{"pong": "ok"})
	return resp
}

func (s *Server) handleStatus() *protocol.Response {
	s.mu.RLock()
	reqCount := s.requestCount
	startTime := s.startTime
	s.mu.RUnlock()

	eng, bin := s.current()
	paths := eng.Paths()

	data := protocol.StatusData{
		Running:      true,
		Version:      Version,
		Uptime:       int64(time.Since(startTime).Seconds()),
		RequestCount: reqCount,
		ConfigPath:   paths.Config,
		HostsPath:    paths.Hosts,
		BackupDir:    eng.Backups().Dir(),
	}

	if res, _ := eng.List(s.ctx); res != nil && res.Success && res.Data != nil {
		data.ProxyCount = len(res.Data.Proxies)
		data.InSync = res.InSync()
	}

	if s.findProcs != nil {
		procs, err := s.findProcs(s.ctx, bin)
		if err != nil {
			s.logger.Debug("process lookup failed", "error", err)
		}
		for _, p := range procs {
			data.NginxPIDs = append(data.NginxPIDs, p.PID)
		}
	}

	resp, _ := protocol.NewOKResponse(data)
	return resp
}

func (s *Server) handleList() *protocol.Response {
	eng, _ := s.current()
	res, err := eng.List(s.ctx)
	return s.resultResponse(res, err)
}

func (s *Server) handleAdd(req *protocol.Request) *protocol.Response {
	var payload protocol.AddPayload
	if err := req.ParsePayload(&payload); err != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid payload")
	}

	eng, _ := s.current()
	res, err := eng.Add(s.ctx, payload.Host, payload.Port)
	return s.resultResponse(res, err)
}

func (s *Server) handleRemove(req *protocol.Request) *protocol.Response {
	var payload protocol.RemovePayload
	if err := req.ParsePayload(&payload); err != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid payload")
	}

	eng, _ := s.current()
	res, err := eng.Remove(s.ctx, payload.Host)
	return s.resultResponse(res, err)
}

func (s *Server) handleRestore(req *protocol.Request) *protocol.Response {
	var payload protocol.RestorePayload
	if err := req.ParsePayload(&payload); err != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid payload")
	}

	eng, _ := s.current()
	res, err := eng.Restore(s.ctx, payload.Timestamp)
	return s.resultResponse(res, err)
}

func (s *Server) handleBackups() *protocol.Response {
	eng, _ := s.current()
	backups, err := eng.Backups().List()
	if err != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInternalError, fmt.Sprintf("failed to list backups: %v", err))
	}

	resp, _ := protocol.NewOKResponse(protocol.BackupsData{Backups: backups})
	return resp
}

func (s *Server) handleBackupContent(req *protocol.Request) *protocol.Response {
	var payload protocol.BackupContentPayload
	if err := req.ParsePayload(&payload); err != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid payload")
	}

	if payload.File != backup.FileConfig && payload.File != backup.FileHosts {
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, fmt.Sprintf("unknown backup file: %q", payload.File))
	}

	eng, _ := s.current()
	content, err := eng.Backups().Read(payload.Timestamp, payload.File)
	switch {
	case errors.Is(err, backup.ErrInvalidTimestamp):
		return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, backup.ErrNotFound):
		return protocol.NewErrorResponse(protocol.ErrCodeNotFound, err.Error())
	case err != nil:
		return protocol.NewErrorResponse(protocol.ErrCodeInternalError, fmt.Sprintf("failed to read backup: %v", err))
	}

	resp, _ := protocol.NewOKResponse(protocol.BackupContentData{
		Timestamp: payload.Timestamp,
		File:      payload.File,
		Content:   string(content),
	})
	return resp
}

func (s *Server) handleHistory(req *protocol.Request) *protocol.Response {
	if s.history == nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInternalError, "journal is not available")
	}

	payload := protocol.HistoryPayload{Limit: DefaultHistoryLimit}
	if req.Payload != nil {
		if err := req.ParsePayload(&payload); err != nil {
			return protocol.NewErrorResponse(protocol.ErrCodeInvalidRequest, "invalid payload")
		}
	}
	if payload.Limit <= 0 {
		payload.Limit = DefaultHistoryLimit
	}

	records, err := s.history.Recent(payload.Limit)
	if err != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInternalError, fmt.Sprintf("failed to read journal: %v", err))
	}

	resp, _ := protocol.NewOKResponse(protocol.HistoryData{Records: records})
	return resp
}

// resultResponse turns an engine outcome into a wire response. A rollback
// failure also produces an error, which is logged loudly here since the
// client only sees the result.
func (s *Server) resultResponse(res *engine.Result, err error) *protocol.Response {
	if err != nil {
		s.logger.Error("managed files may be inconsistent", "error", err)
	}
	if res == nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInternalError, "operation returned no result")
	}
	resp, mErr := protocol.NewResultResponse(res)
	if mErr != nil {
		return protocol.NewErrorResponse(protocol.ErrCodeInternalError, mErr.Error())
	}
	return resp
}
