// Package nfs implements NfsExporter: a per-session NFSv3 server that
// mounts one session's overlay directly, speaking just enough of RFC 1813
// (and a minimal MOUNT responder, RFC 1813 Appendix I) for a loopback
// mount to come up. Unlike a production NFS server it has no connection
// limiting, no metrics, and no configurable timeouts — each export is
// bound to one session and torn down with it.
package nfs

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/vibefs/vibed/internal/logger"
	"github.com/vibefs/vibed/internal/nfs/rpc"
	"github.com/vibefs/vibed/internal/overlay"
)

var log = logger.With("nfs")

// maxFragmentSize bounds a single RPC record fragment; twice the 1 MiB
// wtmax FSINFO advertises, so a full-size WRITE plus its headers fits.
const maxFragmentSize = 2 << 20

// Server is one session's NFSv3 export. It satisfies
// sessionmanager.Exporter.
type Server struct {
	sessionID  string
	resolver   *overlay.Resolver
	handles    *HandleTable
	onActivity func(sessionID string)

	listener net.Listener
	port     int

	mu           sync.Mutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
	connWg       sync.WaitGroup
}

// NewServer binds a TCP listener on loopback immediately (port 0 lets the
// kernel pick one), so Port() is valid the instant NewServer returns —
// sessionmanager.Manager.Export relies on this to learn the export's port
// without waiting on Serve.
func NewServer(sessionID string, resolver *overlay.Resolver, port int, onActivity func(sessionID string)) (*Server, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("nfs: listen: %w", err)
	}
	actual := ln.Addr().(*net.TCPAddr).Port
	return &Server{
		sessionID:  sessionID,
		resolver:   resolver,
		handles:    NewHandleTable(),
		onActivity: onActivity,
		listener:   ln,
		port:       actual,
		shutdown:   make(chan struct{}),
	}, nil
}

// Port returns the TCP port this export is bound to.
func (s *Server) Port() int { return s.port }

// Serve accepts connections until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			s.Stop(context.Background())
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("nfs: accept: %w", err)
		}
		s.connWg.Add(1)
		go func() {
			defer s.connWg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Stop closes the listener and waits (up to ctx's deadline) for
// in-flight connections to finish.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.listener.Close()
	})

	done := make(chan struct{})
	go func() {
		s.connWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		msg, err := readRPCMessage(conn)
		if err != nil {
			if err != io.EOF {
				log.Debug("session %s: read rpc message: %v", s.sessionID, err)
			}
			return
		}

		if s.onActivity != nil {
			s.onActivity(s.sessionID)
		}

		reply, err := s.handleMessage(ctx, msg)
		if err != nil {
			log.Error("session %s: handle rpc message: %v", s.sessionID, err)
			return
		}
		if reply == nil {
			continue
		}
		if _, err := conn.Write(reply); err != nil {
			log.Debug("session %s: write rpc reply: %v", s.sessionID, err)
			return
		}
	}
}

func (s *Server) handleMessage(ctx context.Context, msg []byte) ([]byte, error) {
	call, err := rpc.ReadCall(msg)
	if err != nil {
		return nil, fmt.Errorf("read call: %w", err)
	}
	args, err := rpc.ReadData(msg, call)
	if err != nil {
		return nil, fmt.Errorf("read call data: %w", err)
	}

	switch call.Program {
	case rpc.ProgramNFS:
		return s.replyNFS(ctx, call, args)
	case rpc.ProgramMount:
		return s.replyMount(call, args)
	default:
		reply, err := rpc.MakeErrorReply(call.XID, rpc.RPCProgMismatch)
		if err != nil {
			return nil, err
		}
		return reply, nil
	}
}

func (s *Server) replyNFS(ctx context.Context, call *rpc.RPCCallMessage, args []byte) ([]byte, error) {
	handler, ok := dispatchTable[call.Procedure]
	if !ok {
		return rpc.MakeErrorReply(call.XID, rpc.RPCProcUnavail)
	}

	hc := &handlerCtx{ctx: ctx, resolver: s.resolver, handles: s.handles, session: s.sessionID}
	body, err := handler(hc, args)
	if err != nil {
		log.Error("session %s: proc %d: %v", s.sessionID, call.Procedure, err)
		return rpc.MakeErrorReply(call.XID, rpc.RPCSystemErr)
	}
	return rpc.MakeSuccessReply(call.XID, body)
}

func readRPCMessage(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		var header [4]byte
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return nil, err
		}
		word := binary.BigEndian.Uint32(header[:])
		last := word&0x80000000 != 0
		length := word & 0x7fffffff
		if length > maxFragmentSize {
			return nil, fmt.Errorf("nfs: fragment of %d bytes exceeds limit", length)
		}
		if _, err := io.CopyN(&buf, r, int64(length)); err != nil {
			return nil, err
		}
		if last {
			return buf.Bytes(), nil
		}
	}
}
