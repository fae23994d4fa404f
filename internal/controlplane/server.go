package controlplane

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/vibefs/vibed/internal/logger"
	"github.com/vibefs/vibed/internal/sessionmanager"
)

var log = logger.With("controlplane")

// maxFrameSize bounds a single request/response frame; control-plane
// messages are small, fixed-shape records, never bulk data.
const maxFrameSize = 1 << 20

// Handler is what a Server dispatches requests to: the daemon's live
// session manager plus whatever it needs to answer Status.
type Handler interface {
	Manager() *sessionmanager.Manager
	RepoPath() string
	Version() string
	StartedAt() time.Time
}

// Server accepts connections on a unix socket and serves control-plane
// requests one per connection, each a single request/response round trip.
type Server struct {
	SocketPath string
	PidPath    string
	Handler    Handler

	mu       sync.Mutex
	listener net.Listener
	shutdown chan struct{}
}

// Listen creates the socket (after clearing any stale socket/pid from a
// prior daemon incarnation) and writes the pid file.
func (s *Server) Listen() error {
	if err := s.clearStale(); err != nil {
		return err
	}

	l, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.SocketPath, err)
	}
	s.mu.Lock()
	s.listener = l
	s.shutdown = make(chan struct{})
	s.mu.Unlock()

	if err := os.WriteFile(s.PidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		l.Close()
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// clearStale removes the socket and pid files left by a daemon that is no
// longer running.
func (s *Server) clearStale() error {
	data, err := os.ReadFile(s.PidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return nil
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return os.Remove(s.PidPath)
	}
	if processAlive(pid) {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	log.Warn("removing stale control socket and pid file (pid %d not running)", pid)
	os.Remove(s.SocketPath)
	os.Remove(s.PidPath)
	return nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Serve accepts connections until Stop is called or ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return fmt.Errorf("controlplane: Listen must be called before Serve")
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Stop(context.Background())
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listener and removes the socket and pid files.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	err := s.listener.Close()
	os.Remove(s.SocketPath)
	os.Remove(s.PidPath)
	s.listener = nil
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	req, err := readFrame(conn)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			log.Error("read control-plane frame: %v", err)
		}
		return
	}

	var request Request
	if err := json.Unmarshal(req, &request); err != nil {
		writeFrame(conn, mustJSON(Response{OK: false, Error: fmt.Sprintf("malformed request: %v", err)}))
		return
	}

	resp := s.dispatch(request)
	if err := writeFrame(conn, mustJSON(resp)); err != nil {
		log.Error("write control-plane response: %v", err)
	}
}

func (s *Server) dispatch(req Request) Response {
	ctx := context.Background()
	switch req.Type {
	case ReqPing:
		return Response{OK: true, Pong: &PongInfo{Version: s.Handler.Version()}}

	case ReqStatus:
		recs, err := s.Handler.Manager().List()
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Status: &StatusInfo{
			RepoPath:     s.Handler.RepoPath(),
			Uptime:       time.Since(s.Handler.StartedAt()),
			SessionCount: len(recs),
			Version:      s.Handler.Version(),
		}}

	case ReqExportSession:
		if req.ID == "" {
			return errResponse(fmt.Errorf("ExportSession requires id"))
		}
		mount, port, err := s.Handler.Manager().Export(ctx, req.ID, req.Port)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Export: &ExportInfo{Port: port, MountPoint: mount}}

	case ReqUnexportSession:
		if req.ID == "" {
			return errResponse(fmt.Errorf("UnexportSession requires id"))
		}
		if err := s.Handler.Manager().Unexport(ctx, req.ID); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case ReqListSessions:
		recs, err := s.Handler.Manager().List()
		if err != nil {
			return errResponse(err)
		}
		summaries := make([]SessionSummary, 0, len(recs))
		for _, r := range recs {
			port, _ := s.Handler.Manager().RunningPort(r.ID)
			summaries = append(summaries, SessionSummary{
				ID:         r.ID,
				Port:       port,
				MountPoint: r.MountPoint,
				State:      string(r.State),
			})
		}
		return Response{OK: true, Sessions: summaries}

	case ReqSpawn:
		rec, err := s.Handler.Manager().Spawn(ctx, sessionmanager.SpawnOptions{ID: req.ID, CreateOnly: req.CreateOnly})
		if err != nil {
			return errResponse(err)
		}
		mount, port, err := s.Handler.Manager().Export(ctx, rec.ID, req.Port)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Spawn: &SpawnInfo{ID: rec.ID, SpawnCommit: rec.SpawnCommit, MountPoint: mount, Port: port}}

	case ReqKill:
		if req.ID == "" {
			return errResponse(fmt.Errorf("Kill requires id"))
		}
		if !req.Force {
			dirty, err := s.Handler.Manager().Diff(ctx, req.ID)
			if err != nil {
				return errResponse(err)
			}
			if len(dirty) > 0 {
				return errResponse(fmt.Errorf("session %s has %d dirty path(s); pass --force to kill anyway", req.ID, len(dirty)))
			}
		}
		if err := s.Handler.Manager().Kill(ctx, req.ID); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case ReqPromote:
		opts := sessionmanager.PromoteOptions{Only: req.Only, Message: req.Message}
		if req.All {
			results, errs := s.Handler.Manager().PromoteAll(ctx, opts)
			info := &PromoteInfo{}
			for id, res := range results {
				if res.NoChanges {
					continue
				}
				info.Promoted = append(info.Promoted, id+":"+res.Commit)
			}
			for id, err := range errs {
				info.Skipped = append(info.Skipped, id+": "+err.Error())
			}
			return Response{OK: true, Promote: info}
		}
		if req.ID == "" {
			return errResponse(fmt.Errorf("Promote requires id unless --all"))
		}
		res, err := s.Handler.Manager().Promote(ctx, req.ID, opts)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Promote: &PromoteInfo{Commit: res.Commit, Promoted: res.Promoted, Skipped: res.Skipped, NoChanges: res.NoChanges}}

	case ReqSave:
		if req.ID == "" || req.Name == "" {
			return errResponse(fmt.Errorf("Save requires id and name"))
		}
		if err := s.Handler.Manager().Save(req.ID, req.Name); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case ReqArchiveSnapshot:
		if req.ID == "" || req.Name == "" {
			return errResponse(fmt.Errorf("ArchiveSnapshot requires id and name"))
		}
		key, err := s.Handler.Manager().ArchiveSnapshot(ctx, req.ID, req.Name)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Archive: &ArchiveInfo{Key: key}}

	case ReqUndo:
		if req.ID == "" || req.Name == "" {
			return errResponse(fmt.Errorf("Undo requires id and name"))
		}
		if req.Hard {
			if _, running := s.Handler.Manager().RunningPort(req.ID); running {
				if err := s.Handler.Manager().Unexport(ctx, req.ID); err != nil {
					return errResponse(err)
				}
			}
		}
		if err := s.Handler.Manager().Undo(ctx, req.ID, req.Name, req.NoBackup); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case ReqRebase:
		if req.ID == "" {
			return errResponse(fmt.Errorf("Rebase requires id"))
		}
		if err := s.Handler.Manager().Rebase(ctx, req.ID); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case ReqShutdown:
		go func() {
			time.Sleep(50 * time.Millisecond)
			s.Stop(context.Background())
		}()
		return Response{OK: true}

	default:
		return errResponse(fmt.Errorf("unknown request type %q", req.Type))
	}
}

func errResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("marshal control-plane response: %v", err)
		return []byte(`{"ok":false,"error":"internal: failed to marshal response"}`)
	}
	return data
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
