// Package controlplane implements ControlPlane: the local request/response
// channel bound to a unix-domain socket that mutating CLI commands use to
// talk to the running daemon. Requests and responses are length-prefixed
// JSON frames, a deliberately simple wire format: the daemon's ONC-RPC
// codec is specific to the NFS wire protocol and not a fit for an ad hoc
// local control channel.
package controlplane

import "time"

// RequestType names one of the control-plane operations. Ping through
// Shutdown are the base operations every daemon exposes; Spawn onward are
// the extension that gives every mutating CLI command an actual request to
// send, since the metadata store's writer lives inside the daemon process.
type RequestType string

const (
	ReqPing            RequestType = "Ping"
	ReqStatus          RequestType = "Status"
	ReqExportSession   RequestType = "ExportSession"
	ReqUnexportSession RequestType = "UnexportSession"
	ReqListSessions    RequestType = "ListSessions"
	ReqShutdown        RequestType = "Shutdown"

	ReqSpawn           RequestType = "Spawn"
	ReqKill            RequestType = "Kill"
	ReqPromote         RequestType = "Promote"
	ReqSave            RequestType = "Save"
	ReqArchiveSnapshot RequestType = "ArchiveSnapshot"
	ReqUndo            RequestType = "Undo"
	ReqRebase          RequestType = "Rebase"
)

// Request is the envelope every control-plane call sends.
type Request struct {
	Type RequestType `json:"type"`
	ID   string      `json:"id,omitempty"` // session id
	Port int         `json:"port,omitempty"`

	CreateOnly bool     `json:"create_only,omitempty"` // Spawn
	Force      bool     `json:"force,omitempty"`       // Kill
	Only       []string `json:"only,omitempty"`        // Promote
	Message    string   `json:"message,omitempty"`     // Promote
	All        bool     `json:"all,omitempty"`         // Promote
	Name       string   `json:"name,omitempty"`        // Save, ArchiveSnapshot, Undo
	Hard       bool     `json:"hard,omitempty"`        // Undo
	NoBackup   bool     `json:"no_backup,omitempty"`   // Undo
}

// Response is the envelope every control-plane call receives.
type Response struct {
	OK       bool             `json:"ok"`
	Error    string           `json:"error,omitempty"`
	Pong     *PongInfo        `json:"pong,omitempty"`
	Status   *StatusInfo      `json:"status,omitempty"`
	Export   *ExportInfo      `json:"export,omitempty"`
	Sessions []SessionSummary `json:"sessions,omitempty"`
	Spawn    *SpawnInfo       `json:"spawn,omitempty"`
	Promote  *PromoteInfo     `json:"promote,omitempty"`
	Archive  *ArchiveInfo     `json:"archive,omitempty"`
}

// SpawnInfo answers Spawn.
type SpawnInfo struct {
	ID          string `json:"id"`
	SpawnCommit string `json:"spawn_commit"`
	MountPoint  string `json:"mount_point"`
	Port        int    `json:"port"`
}

// PromoteInfo answers Promote.
type PromoteInfo struct {
	Commit    string   `json:"commit"`
	Promoted  []string `json:"promoted"`
	Skipped   []string `json:"skipped"`
	NoChanges bool     `json:"no_changes"`
}

// ArchiveInfo answers ArchiveSnapshot.
type ArchiveInfo struct {
	Key string `json:"key"`
}

// PongInfo answers Ping.
type PongInfo struct {
	Version string `json:"version"`
}

// StatusInfo answers Status.
type StatusInfo struct {
	RepoPath     string        `json:"repo_path"`
	Uptime       time.Duration `json:"uptime"`
	SessionCount int           `json:"session_count"`
	Version      string        `json:"version"`
}

// ExportInfo answers ExportSession.
type ExportInfo struct {
	Port       int    `json:"port"`
	MountPoint string `json:"mount_point"`
}

// SessionSummary is one entry of ListSessions' response.
type SessionSummary struct {
	ID         string        `json:"id"`
	Port       int           `json:"port"`
	MountPoint string        `json:"mount_point"`
	Uptime     time.Duration `json:"uptime"`
	DirtyCount int           `json:"dirty_count"`
	State      string        `json:"state"`
}
