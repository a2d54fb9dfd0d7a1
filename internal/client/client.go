// Package client provides a client library for communicating with the lolcaproxy daemon.
package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lukaszraczylo/lolcaproxy/internal/backup"
	"github.com/lukaszraczylo/lolcaproxy/internal/engine"
	"github.com/lukaszraczylo/lolcaproxy/internal/journal"
	"github.com/lukaszraczylo/lolcaproxy/internal/protocol"
)

// DefaultTimeout bounds a single request round trip.
const DefaultTimeout = 5 * time.Second

// Client is a client for the lolcaproxy daemon.
type Client struct {
	socketPath string
	conn       net.Conn
	reader     *bufio.Reader
	timeout    time.Duration
	mu         sync.Mutex
}

// New creates a new client.
func New(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    DefaultTimeout,
	}
}

// NewWithTimeout creates a new client with a custom timeout. Mutating
// requests wait on the nginx test and reload, so callers usually want more
// than the default.
func NewWithTimeout(socketPath string, timeout time.Duration) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
		c.reader = nil
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}

	c.conn = conn
	c.reader = bufio.NewReader(conn)
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.reader = nil
		return err
	}
	return nil
}

// send sends a request and receives a response.
func (c *Client) send(req *protocol.Request) (*protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	_ = c.conn.SetDeadline(time.Now().Add(c.timeout))

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	data = append(data, '\n')

	if _, err := c.conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp protocol.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &resp, nil
}

// operation sends a mutating or listing request and decodes the engine
// result. A failed operation is returned as a result, not an error; only
// transport and daemon-level rejections surface as errors.
func (c *Client) operation(reqType protocol.RequestType, payload any) (*engine.Result, error) {
	req, err := protocol.NewRequest(reqType, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if resp.Data == nil {
		if resp.IsOK() {
			return nil, fmt.Errorf("%s: empty response", reqType)
		}
		return nil, fmt.Errorf("%s: %s", resp.Code, resp.Message)
	}
	res, err := resp.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	return res, nil
}

// query sends a read-only request and decodes its data into a T. Any
// non-ok response is an error carrying the daemon's code.
func query[T any](c *Client, reqType protocol.RequestType, payload any) (*T, error) {
	req, err := protocol.NewRequest(reqType, payload)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	if !resp.IsOK() {
		return nil, fmt.Errorf("%s %s: %s", reqType, resp.Code, resp.Message)
	}

	var data T
	if resp.Data != nil {
		if err := resp.ParseData(&data); err != nil {
			return nil, fmt.Errorf("failed to parse %s data: %w", reqType, err)
		}
	}
	return &data, nil
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping() error {
	_, err := query[struct{}](c, protocol.RequestPing, nil)
	return err
}

// Status returns the daemon's status.
func (c *Client) Status() (*protocol.StatusData, error) {
	return query[protocol.StatusData](c, protocol.RequestStatus, nil)
}

// List returns the proxy entries found in both managed files.
func (c *Client) List() (*engine.Result, error) {
	return c.operation(protocol.RequestList, nil)
}

// Add registers a proxy for host on the given local port.
func (c *Client) Add(host string, port int) (*engine.Result, error) {
	return c.operation(protocol.RequestAdd, protocol.AddPayload{Host: host, Port: port})
}

// Remove deletes the proxy registered for host.
func (c *Client) Remove(host string) (*engine.Result, error) {
	return c.operation(protocol.RequestRemove, protocol.RemovePayload{Host: host})
}

// Restore rolls both managed files back to the snapshot taken at timestamp.
func (c *Client) Restore(timestamp string) (*engine.Result, error) {
	return c.operation(protocol.RequestRestore, protocol.RestorePayload{Timestamp: timestamp})
}

// Backups returns available snapshots, newest first.
func (c *Client) Backups() ([]backup.Info, error) {
	data, err := query[protocol.BackupsData](c, protocol.RequestBackups, nil)
	if err != nil {
		return nil, err
	}
	return data.Backups, nil
}

// BackupContent returns one file of a snapshot.
func (c *Client) BackupContent(timestamp string, file backup.File) (string, error) {
	data, err := query[protocol.BackupContentData](c, protocol.RequestBackupContent,
		protocol.BackupContentPayload{Timestamp: timestamp, File: file})
	if err != nil {
		return "", err
	}
	return data.Content, nil
}

// History returns recent journal records, newest first.
func (c *Client) History(limit int) ([]journal.Record, error) {
	data, err := query[protocol.HistoryData](c, protocol.RequestHistory, protocol.HistoryPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return data.Records, nil
}

// IsConnected checks if the daemon is reachable.
func IsConnected(socketPath string) bool {
	client := New(socketPath)
	if err := client.Connect(); err != nil {
		return false
	}
	defer client.Close()

	return client.Ping() == nil
}
