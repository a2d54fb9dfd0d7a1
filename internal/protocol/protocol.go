// Package protocol defines shared message types for client-daemon communication.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/journal"
)

// SocketPath is the Unix socket path for daemon communication.
const SocketPath = "/var/run/lolcaproxy.sock"

// RequestType defines the type of request.
type RequestType string

const (
	RequestPing          RequestType = "ping"
	RequestStatus        RequestType = "status"
	RequestList          RequestType = "list"
	RequestAdd           RequestType = "add"
	RequestRemove        RequestType = "remove"
	RequestBackups       RequestType = "backups"
	RequestBackupContent RequestType = "backup_content"
	RequestRestore       RequestType = "restore"
	RequestHistory       RequestType = "history"
)

// ErrorCode defines standard error codes.
type ErrorCode string

const (
	ErrCodeInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrCodeRateLimited     ErrorCode = "RATE_LIMITED"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeInternalError   ErrorCode = "INTERNAL_ERROR"
	ErrCodePermissionError ErrorCode = "PERMISSION_ERROR"
	ErrCodeRollbackFailed  ErrorCode = "ROLLBACK_FAILED"
)

// CodeForKind maps an engine error kind onto a wire error code.
func CodeForKind(kind engine.ErrorKind) ErrorCode {
	if kind == "" {
		return ""
	}
	return ErrorCode(strings.ToUpper(string(kind)))
}

// Request represents a client request to the daemon.
type Request struct {
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AddPayload is the payload for add requests.
type AddPayload struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// RemovePayload is the payload for remove requests.
type RemovePayload struct {
	Host string `json:"host"`
}

// RestorePayload is the payload for restore requests.
type RestorePayload struct {
	Timestamp string `json:"timestamp"`
}

// BackupContentPayload is the payload for backup_content requests.
type BackupContentPayload struct {
	Timestamp string      `json:"timestamp"`
	File      backup.File `json:"file"`
}

// HistoryPayload is the payload for history requests.
type HistoryPayload struct {
	Limit int `json:"limit"`
}

// Response represents a daemon response.
type Response struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    ErrorCode       `json:"code,omitempty"`
}

// StatusData is the data for status responses.
type StatusData struct {
	Running      bool    `json:"running"`
	Version      string  `json:"version"`
	Uptime       int64   `json:"uptime_seconds"`
	RequestCount int64   `json:"request_count"`
	ConfigPath   string  `json:"config_path"`
	HostsPath    string  `json:"hosts_path"`
	BackupDir    string  `json:"backup_dir"`
	ProxyCount   int     `json:"proxy_count"`
	InSync       bool    `json:"in_sync"`
	NginxPIDs    []int32 `json:"nginx_pids,omitempty"`
}

// BackupsData is the data for backups responses.
type BackupsData struct {
	Backups []backup.Info `json:"backups"`
}

// BackupContentData is the data for backup_content responses.
type BackupContentData struct {
	Timestamp string      `json:"timestamp"`
	File      backup.File `json:"file"`
	Content   string      `json:"content"`
}

// HistoryData is the data for history responses.
type HistoryData struct {
	Records []journal.Record `json:"records"`
}

// NewRequest creates a new request with the given type and payload.
func NewRequest(reqType RequestType, payload interface{}) (*Request, error) {
	req := &Request{Type: reqType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		req.Payload = data
	}
	return req, nil
}

// NewOKResponse creates a success response with optional data.
func NewOKResponse(data interface{}) (*Response, error) {
	resp := &Response{Status: "ok"}
	if data != nil {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}
		resp.Data = dataBytes
	}
	return resp, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(code ErrorCode, message string) *Response {
	return &Response{
		Status:  "error",
		Code:    code,
		Message: message,
	}
}

// NewResultResponse wraps an engine result. The full result travels as data
// so a failed operation keeps its detail and snapshot reference.
func NewResultResponse(res *engine.Result) (*Response, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	resp := &Response{Status: "ok", Data: data, Message: res.Message}
	if !res.Success {
		resp.Status = "error"
		resp.Code = CodeForKind(res.Code)
	}
	return resp, nil
}

// ParsePayload unmarshals the request payload into the given target.
func (r *Request) ParsePayload(target interface{}) error {
	if r.Payload == nil {
		return fmt.Errorf("no payload in request")
	}
	return json.Unmarshal(r.Payload, target)
}

// ParseData unmarshals the response data into the given target.
func (r *Response) ParseData(target interface{}) error {
	if r.Data == nil {
		return fmt.Errorf("no data in response")
	}
	return json.Unmarshal(r.Data, target)
}

// IsOK returns true if the response indicates success.
func (r *Response) IsOK() bool {
	return r.Status == "ok"
}

// Result decodes the engine result carried by an operation response.
func (r *Response) Result() (*engine.Result, error) {
	var res engine.Result
	if err := r.ParseData(&res); err != nil {
		return nil, err
	}
	return &res, nil
}
