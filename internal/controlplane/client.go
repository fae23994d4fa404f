package controlplane

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client sends one request per connection to a daemon's control-plane
// socket and waits for its response.
type Client struct {
	SocketPath string
	Timeout    time.Duration // soft per-call timeout; defaults to 30s
}

func (c *Client) timeout() time.Duration {
	if c.Timeout == 0 {
		return 30 * time.Second
	}
	return c.Timeout
}

// Call sends req and returns the daemon's response.
func (c *Client) Call(req Request) (Response, error) {
	conn, err := net.DialTimeout("unix", c.SocketPath, c.timeout())
	if err != nil {
		return Response{}, fmt.Errorf("connect to daemon: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout())
	conn.SetDeadline(deadline)

	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	if err := writeFrame(conn, data); err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}

	raw, err := readFrame(conn)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if !resp.OK && resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

// Ping checks that a daemon is reachable and returns its version.
func (c *Client) Ping() (string, error) {
	resp, err := c.Call(Request{Type: ReqPing})
	if err != nil {
		return "", err
	}
	if resp.Pong == nil {
		return "", fmt.Errorf("daemon sent empty pong")
	}
	return resp.Pong.Version, nil
}

// Status requests the daemon's status summary.
func (c *Client) Status() (StatusInfo, error) {
	resp, err := c.Call(Request{Type: ReqStatus})
	if err != nil {
		return StatusInfo{}, err
	}
	if resp.Status == nil {
		return StatusInfo{}, fmt.Errorf("daemon sent empty status")
	}
	return *resp.Status, nil
}

// ExportSession asks the daemon to export a session, optionally on a
// specific port (0 lets the daemon choose).
func (c *Client) ExportSession(id string, port int) (ExportInfo, error) {
	resp, err := c.Call(Request{Type: ReqExportSession, ID: id, Port: port})
	if err != nil {
		return ExportInfo{}, err
	}
	if resp.Export == nil {
		return ExportInfo{}, fmt.Errorf("daemon sent empty export info")
	}
	return *resp.Export, nil
}

// UnexportSession asks the daemon to stop exporting a session.
func (c *Client) UnexportSession(id string) error {
	_, err := c.Call(Request{Type: ReqUnexportSession, ID: id})
	return err
}

// ListSessions requests a summary of every live session.
func (c *Client) ListSessions() ([]SessionSummary, error) {
	resp, err := c.Call(Request{Type: ReqListSessions})
	if err != nil {
		return nil, err
	}
	return resp.Sessions, nil
}

// Shutdown asks the daemon to terminate gracefully.
func (c *Client) Shutdown() error {
	_, err := c.Call(Request{Type: ReqShutdown})
	return err
}

// Spawn asks the daemon to spawn (or attach to) a session, exporting and
// mounting it in the same call.
func (c *Client) Spawn(id string, createOnly bool) (SpawnInfo, error) {
	resp, err := c.Call(Request{Type: ReqSpawn, ID: id, CreateOnly: createOnly})
	if err != nil {
		return SpawnInfo{}, err
	}
	if resp.Spawn == nil {
		return SpawnInfo{}, fmt.Errorf("daemon sent empty spawn info")
	}
	return *resp.Spawn, nil
}

// Kill asks the daemon to close and remove a session.
func (c *Client) Kill(id string, force bool) error {
	_, err := c.Call(Request{Type: ReqKill, ID: id, Force: force})
	return err
}

// Promote asks the daemon to promote one session's dirty set (or every
// session's, when id is empty and all is true).
func (c *Client) Promote(id string, all bool, only []string, message string) (PromoteInfo, error) {
	resp, err := c.Call(Request{Type: ReqPromote, ID: id, All: all, Only: only, Message: message})
	if err != nil {
		return PromoteInfo{}, err
	}
	if resp.Promote == nil {
		return PromoteInfo{}, fmt.Errorf("daemon sent empty promote info")
	}
	return *resp.Promote, nil
}

// Save asks the daemon to snapshot a session's current delta under name.
func (c *Client) Save(id, name string) error {
	_, err := c.Call(Request{Type: ReqSave, ID: id, Name: name})
	return err
}

// ArchiveSnapshot asks the daemon to upload an already-taken snapshot to
// the configured remote archiver.
func (c *Client) ArchiveSnapshot(id, name string) (ArchiveInfo, error) {
	resp, err := c.Call(Request{Type: ReqArchiveSnapshot, ID: id, Name: name})
	if err != nil {
		return ArchiveInfo{}, err
	}
	if resp.Archive == nil {
		return ArchiveInfo{}, fmt.Errorf("daemon sent empty archive info")
	}
	return *resp.Archive, nil
}

// Undo asks the daemon to restore a session's delta from a snapshot.
func (c *Client) Undo(id, name string, hard, noBackup bool) error {
	_, err := c.Call(Request{Type: ReqUndo, ID: id, Name: name, Hard: hard, NoBackup: noBackup})
	return err
}

// Rebase asks the daemon to advance a clean session's spawn commit to HEAD.
func (c *Client) Rebase(id string) error {
	_, err := c.Call(Request{Type: ReqRebase, ID: id})
	return err
}
