// Package sessionmanager implements SessionManager: the live session
// registry, the spawn/close/kill state machine, and the promote/diff/
// snapshot/restore operations that make a session's changes durable.
package sessionmanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vibefs/vibed/internal/gitodb"
	"github.com/vibefs/vibed/internal/logger"
	"github.com/vibefs/vibed/internal/metadata"
	"github.com/vibefs/vibed/internal/overlay"
	"github.com/vibefs/vibed/internal/session"
	"github.com/vibefs/vibed/internal/vibeerr"
	"github.com/vibefs/vibed/internal/vibeid"
)

var log = logger.With("sessionmanager")

// Exporter is the capability surface an NFS export must provide so the
// manager can start and stop it without depending on the nfs package
// directly. internal/nfs.Server satisfies this.
type Exporter interface {
	Serve(ctx context.Context) error
	Stop(ctx context.Context) error
	Port() int
}

// ExporterFactory builds an Exporter bound to one session's resolver,
// listening on the given port (0 lets the factory pick one).
type ExporterFactory func(sessionID string, resolver *overlay.Resolver, port int) (Exporter, error)

type export struct {
	exporter     Exporter
	resolver     *overlay.Resolver
	cancel       context.CancelFunc
	done         chan error
	started      time.Time
	lastActivity time.Time
}

// Manager owns the live session registry for one repository: the
// metadata store, the Git object database, on-disk session records, and
// whichever sessions currently have a running NFS export.
type Manager struct {
	mu          sync.RWMutex
	repo        *gitodb.Repo
	repoRoot    string
	meta        metadata.Store
	sessions    *session.Store
	ids         *vibeid.Generator
	newExporter ExporterFactory
	running     map[string]*export
	archiver    Archiver
}

// New builds a Manager. newExporter may be nil for read-only/CLI use
// (ls, diff, status) where no session is ever actually exported.
func New(repo *gitodb.Repo, repoRoot string, meta metadata.Store, sessions *session.Store, ids *vibeid.Generator, newExporter ExporterFactory) *Manager {
	return &Manager{
		repo:        repo,
		repoRoot:    repoRoot,
		meta:        meta,
		sessions:    sessions,
		ids:         ids,
		newExporter: newExporter,
		running:     make(map[string]*export),
	}
}

// SpawnOptions configures a new session.
type SpawnOptions struct {
	ID string // explicit id; empty to generate one

	// CreateOnly rejects an already-live session with the same id instead
	// of attaching to it. By default (false), spawning an id that already
	// has a non-killed record attaches to that session rather than erroring.
	CreateOnly bool
}

// Spawn captures the current HEAD as the session's spawn_commit, creates
// its on-disk record and delta directory, and records refs/vibes/<id> as
// the session's branch name; the ref itself is first written by Promote.
// Spawning an id that already names a live (non-
// killed) session attaches to it instead of creating a new one — the
// returned record's State tells the caller whether it still needs
// exporting (Offline) or is already mounted — unless opts.CreateOnly is
// set, in which case an existing live session is rejected outright.
func (m *Manager) Spawn(ctx context.Context, opts SpawnOptions) (session.Record, error) {
	id := opts.ID
	if id != "" {
		if !session.ValidID(id) {
			return session.Record{}, fmt.Errorf("invalid session id %q", id)
		}
		if existing, ok, err := m.sessions.Load(id); err != nil {
			return session.Record{}, err
		} else if ok && existing.State != session.StateKilled {
			if opts.CreateOnly {
				return session.Record{}, vibeerr.ErrSessionExists
			}
			return existing, nil
		}
	}

	head, err := m.repo.ResolveHead(ctx)
	if err != nil {
		return session.Record{}, vibeerr.Wrap("sessionmanager", fmt.Errorf("%w: resolve HEAD: %v", vibeerr.ErrOdb, err))
	}

	if id == "" {
		taken, err := m.takenIDs()
		if err != nil {
			return session.Record{}, err
		}
		id = m.ids.Next(taken)
	}

	branch := "refs/vibes/" + id
	rec := session.Record{
		ID:          id,
		SpawnCommit: head,
		SpawnBranch: branch,
		CreatedAt:   time.Now().UTC(),
		State:       session.StateExported,
	}
	if err := m.sessions.Create(rec); err != nil {
		return session.Record{}, err
	}
	if err := m.createArtifactSymlinks(ctx, rec); err != nil {
		log.Error("session %s: build-artifact symlink setup: %v", id, err)
	}
	log.Info("spawned session %s at %s", id, head)
	return rec, nil
}

// createArtifactSymlinks replaces any of overlay.ArtifactDirs present at
// the repository root with a symlink, in the session's delta, to a
// per-session scratch directory outside the NFS export — build tool
// output never has to round-trip through NFS, and the symlink's
// InodeRecord is marked Volatile so promote always skips it regardless of
// dirty state. Failures here are logged, not fatal: a session is still
// usable without them, just slower for whatever tool writes there.
func (m *Manager) createArtifactSymlinks(ctx context.Context, rec session.Record) error {
	deltaRoot := m.sessions.DeltaDir(rec.ID)
	scratchRoot := m.sessions.ScratchDir(rec.ID)

	var firstErr error
	for _, name := range overlay.ArtifactDirs {
		info, err := os.Stat(filepath.Join(m.repoRoot, name))
		if err != nil || !info.IsDir() {
			continue
		}

		scratch := filepath.Join(scratchRoot, name)
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("create scratch dir for %s: %w", name, err)
			}
			continue
		}

		link := filepath.Join(deltaRoot, name)
		os.Remove(link)
		if err := os.Symlink(scratch, link); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("symlink %s: %w", name, err)
			}
			continue
		}

		inodeID, err := m.meta.NextInode(ctx, rec.ID)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("allocate inode for %s: %w", name, err)
			}
			continue
		}
		artifactRec := metadata.InodeRecord{
			InodeID:  inodeID,
			Path:     name,
			Kind:     metadata.KindSymlink,
			Mode:     0o777,
			Volatile: true,
			Origin:   metadata.Origin{Kind: metadata.OriginSymlink, Target: scratch},
			ModTime:  time.Now(),
		}
		if err := m.meta.Put(ctx, rec.ID, artifactRec); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("persist inode for %s: %w", name, err)
			}
		}
	}
	return firstErr
}

func (m *Manager) takenIDs() (map[string]bool, error) {
	recs, err := m.sessions.List()
	if err != nil {
		return nil, err
	}
	taken := make(map[string]bool, len(recs))
	for _, r := range recs {
		taken[r.ID] = true
	}
	return taken, nil
}

// List returns every known session record, live or offline.
func (m *Manager) List() ([]session.Record, error) {
	return m.sessions.List()
}

// Get returns one session's record.
func (m *Manager) Get(id string) (session.Record, bool, error) {
	return m.sessions.Load(id)
}

// resolverFor builds the overlay.Resolver for a session, wired to this
// manager's shared metadata store and Git ODB.
func (m *Manager) resolverFor(rec session.Record) *overlay.Resolver {
	return &overlay.Resolver{
		Store:       m.meta,
		Odb:         m.repo,
		RepoRoot:    m.repoRoot,
		DeltaRoot:   func(string) string { return m.sessions.DeltaDir(rec.ID) },
		SpawnCommit: func(string) (string, error) { return rec.SpawnCommit, nil },
	}
}

// Export starts an NFS export for session id on the given port (0 to let
// the exporter choose) and transitions it to Mounted once the listener is
// up. Exporting an already-running session is a no-op that returns the
// existing port.
func (m *Manager) Export(ctx context.Context, id string, port int) (mountPoint string, actualPort int, err error) {
	if m.newExporter == nil {
		return "", 0, fmt.Errorf("sessionmanager: no exporter factory configured")
	}

	m.mu.Lock()
	if ex, ok := m.running[id]; ok {
		m.mu.Unlock()
		return m.sessions.DeltaDir(id), ex.exporter.Port(), nil
	}
	m.mu.Unlock()

	rec, ok, err := m.sessions.Load(id)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return "", 0, vibeerr.ErrSessionNotFound
	}

	resolver := m.resolverFor(rec)
	exp, err := m.newExporter(id, resolver, port)
	if err != nil {
		return "", 0, fmt.Errorf("start export for %s: %w", id, err)
	}

	exportCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- exp.Serve(exportCtx)
	}()

	m.mu.Lock()
	now := time.Now()
	m.running[id] = &export{exporter: exp, resolver: resolver, cancel: cancel, done: done, started: now, lastActivity: now}
	m.mu.Unlock()

	rec.State = session.StateMounted
	rec.NfsPort = exp.Port()
	rec.MountPoint = m.sessions.DeltaDir(id)
	if err := m.sessions.Save(rec); err != nil {
		log.Error("failed to persist session %s after export: %v", id, err)
	}

	return rec.MountPoint, exp.Port(), nil
}

// Unexport stops a session's running NFS export, if any, and marks it
// Offline. It is a no-op if the session has no running export.
func (m *Manager) Unexport(ctx context.Context, id string) error {
	m.mu.Lock()
	ex, ok := m.running[id]
	if ok {
		delete(m.running, id)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := ex.exporter.Stop(stopCtx); err != nil {
		log.Error("stopping export for %s: %v", id, err)
	}
	ex.cancel()
	<-ex.done

	rec, ok, err := m.sessions.Load(id)
	if err != nil {
		return err
	}
	if ok {
		rec.State = session.StateOffline
		if err := m.sessions.Save(rec); err != nil {
			return err
		}
	}
	return nil
}

// Kill unexports (if running) then permanently removes a session's
// record, delta directory, and snapshots. Killed sessions never resurface
// in List.
func (m *Manager) Kill(ctx context.Context, id string) error {
	if _, ok, err := m.sessions.Load(id); err != nil {
		return err
	} else if !ok {
		return vibeerr.ErrSessionNotFound
	}
	if err := m.Unexport(ctx, id); err != nil {
		return err
	}
	if err := m.meta.DropSession(ctx, id); err != nil {
		return fmt.Errorf("drop metadata for session %s: %w", id, err)
	}
	if err := m.sessions.Remove(id); err != nil {
		return err
	}
	log.Info("killed session %s", id)
	return nil
}

// Rebase advances a clean session's spawn_commit to the repository's
// current HEAD. Per spec, only a session with an empty dirty set may
// rebase this way; a dirty session must be promoted, snapshotted, or
// killed first.
func (m *Manager) Rebase(ctx context.Context, id string) error {
	rec, ok, err := m.sessions.Load(id)
	if err != nil {
		return err
	}
	if !ok {
		return vibeerr.ErrSessionNotFound
	}

	dirty, err := m.meta.List(ctx, id)
	if err != nil {
		return err
	}
	if len(dirty) > 0 {
		return fmt.Errorf("%w: rebase refused, %d dirty path(s)", vibeerr.ErrDirty, len(dirty))
	}

	head, err := m.repo.ResolveHead(ctx)
	if err != nil {
		return vibeerr.Wrap("sessionmanager", err)
	}
	rec.SpawnCommit = head
	return m.sessions.Save(rec)
}

// RunningPort returns the port a session is currently exported on, or
// ok=false if it has no running export.
func (m *Manager) RunningPort(id string) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ex, ok := m.running[id]
	if !ok {
		return 0, false
	}
	return ex.exporter.Port(), true
}

// Touch records NFS activity on session id, resetting its idle clock.
// NFS handlers call this on every operation; a session with no running
// export has nothing to touch.
func (m *Manager) Touch(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ex, ok := m.running[id]; ok {
		ex.lastActivity = time.Now()
	}
}

// IdleSessions returns the ids of every running session whose last NFS
// activity predates cutoff, for the idle-linger reaper.
func (m *Manager) IdleSessions(cutoff time.Time) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, ex := range m.running {
		if ex.lastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// StopAll unexports every running session, in no particular order,
// collecting errors rather than stopping at the first one. Called during
// daemon shutdown.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Unexport(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
