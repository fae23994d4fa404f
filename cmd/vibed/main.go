// Command vibed is the VibeFS daemon: one process per repository, holding
// the metadata store, the Git object database handle, and every session's
// NFSv3 export.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vibefs/vibed/internal/config"
	"github.com/vibefs/vibed/internal/controlplane"
	"github.com/vibefs/vibed/internal/gc"
	"github.com/vibefs/vibed/internal/gitodb"
	"github.com/vibefs/vibed/internal/logger"
	"github.com/vibefs/vibed/internal/metadata"
	metabadger "github.com/vibefs/vibed/internal/metadata/badger"
	metamemory "github.com/vibefs/vibed/internal/metadata/memory"
	"github.com/vibefs/vibed/internal/nfs"
	"github.com/vibefs/vibed/internal/overlay"
	"github.com/vibefs/vibed/internal/session"
	"github.com/vibefs/vibed/internal/sessionmanager"
	"github.com/vibefs/vibed/internal/snapshot"
	"github.com/vibefs/vibed/internal/vibeid"
)

// version is stamped at build time in a real release; a plain constant
// here since no build pipeline wires ldflags yet.
const version = "0.1.0-dev"

var log = logger.With("vibed")

func main() {
	var (
		repoPath   = flag.String("repo", "", "repository root (default: discover from cwd or $VIBE_REPO)")
		configPath = flag.String("config", "", "path to config file (default: $XDG_CONFIG_HOME/vibed/config.yaml)")
		ephemeral  = flag.Bool("ephemeral-meta", false, "keep session metadata in memory only, discarded on exit")
	)
	flag.Parse()

	if os.Getenv("VIBE_DEBUG") == "1" {
		logger.SetLevel("DEBUG")
	}

	if err := run(*repoPath, *configPath, *ephemeral); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(repoPath, configPath string, ephemeral bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.Logging.Level)
	if os.Getenv("VIBE_DEBUG") == "1" {
		logger.SetLevel("DEBUG")
	}
	config.Watch(configPath)

	root, err := resolveRepoRoot(repoPath)
	if err != nil {
		return err
	}

	vibeDir := filepath.Join(root, ".vibe")
	if _, err := os.Stat(vibeDir); err != nil {
		return fmt.Errorf("%s not initialized: run `vibe init` first", root)
	}

	repo, err := gitodb.Open(root)
	if err != nil {
		return fmt.Errorf("open repository: %w", err)
	}

	meta, err := openMetadataStore(vibeDir, ephemeral)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer meta.Close()

	sessions := session.NewStore(vibeDir)
	ids := vibeid.NewGenerator(adjectives, nouns)

	var mgr *sessionmanager.Manager
	factory := func(sessionID string, resolver *overlay.Resolver, port int) (sessionmanager.Exporter, error) {
		return nfs.NewServer(sessionID, resolver, port, mgr.Touch)
	}
	mgr = sessionmanager.New(repo, root, meta, sessions, ids, factory)

	if err := configureArchiver(mgr, cfg); err != nil {
		log.Warn("remote snapshot archival not configured: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := recoverSessions(ctx, mgr, cfg); err != nil {
		log.Error("session recovery: %v", err)
	}

	reaper := gc.New(mgr, gc.Config{
		Enabled:    true,
		Interval:   time.Minute,
		IdleLinger: cfg.Daemon.IdleLinger,
	})
	reaper.Start()

	handler := &daemonHandler{mgr: mgr, repoPath: root, startedAt: time.Now()}
	cp := &controlplane.Server{
		SocketPath: filepath.Join(vibeDir, "vibed.sock"),
		PidPath:    filepath.Join(vibeDir, "vibed.pid"),
		Handler:    handler,
	}
	if err := cp.Listen(); err != nil {
		return fmt.Errorf("start control plane: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- cp.Serve(ctx) }()

	log.Info("vibed started for %s (pid %d, socket %s)", root, os.Getpid(), cp.SocketPath)

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			log.Error("control plane serve: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownTimeout)
	defer cancel()

	if err := reaper.Stop(shutdownCtx); err != nil {
		log.Warn("idle reaper stop: %v", err)
	}
	if err := mgr.StopAll(shutdownCtx); err != nil {
		log.Warn("stop all sessions: %v", err)
	}
	if err := cp.Stop(shutdownCtx); err != nil {
		log.Warn("control plane stop: %v", err)
	}
	return nil
}

func resolveRepoRoot(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}
	if env := os.Getenv("VIBE_REPO"); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getwd: %w", err)
	}
	return gitodb.DiscoverRoot(cwd)
}

func openMetadataStore(vibeDir string, ephemeral bool) (metadata.Store, error) {
	if ephemeral {
		return metamemory.New(), nil
	}
	return metabadger.Open(metabadger.Config{Path: filepath.Join(vibeDir, "meta")})
}

func configureArchiver(mgr *sessionmanager.Manager, cfg *config.Config) error {
	if len(cfg.Snapshot.S3) == 0 {
		return nil
	}
	archiveCfg, ok, err := snapshot.DecodeArchiveConfig(cfg.Snapshot.S3)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	archiver, err := snapshot.NewArchiver(context.Background(), archiveCfg)
	if err != nil {
		return err
	}
	mgr.SetArchiver(archiver)
	log.Info("remote snapshot archival configured: bucket=%s prefix=%s", archiveCfg.Bucket, archiveCfg.Prefix)
	return nil
}

// recoverSessions re-exports, after a daemon restart, every session whose
// record says Mounted or Exported. Sessions recorded in any other state
// (Offline, Promoted, Killed) are left unexported; a later spawn of the
// same id attaches to a non-killed one and exports it again. Dirty state
// lives in the metadata store and needs no reconstruction; only the NFS
// export itself must come back.
func recoverSessions(ctx context.Context, mgr *sessionmanager.Manager, cfg *config.Config) error {
	recs, err := mgr.List()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.State != session.StateMounted && rec.State != session.StateExported {
			continue
		}
		if _, _, err := mgr.Export(ctx, rec.ID, 0); err != nil {
			log.Error("recover session %s: %v", rec.ID, err)
			continue
		}
		log.Info("recovered session %s", rec.ID)
	}
	return nil
}

// daemonHandler adapts sessionmanager.Manager and this process's identity
// to controlplane.Handler.
type daemonHandler struct {
	mgr       *sessionmanager.Manager
	repoPath  string
	startedAt time.Time
}

func (h *daemonHandler) Manager() *sessionmanager.Manager { return h.mgr }
func (h *daemonHandler) RepoPath() string                 { return h.repoPath }
func (h *daemonHandler) Version() string                  { return version }
func (h *daemonHandler) StartedAt() time.Time             { return h.startedAt }
