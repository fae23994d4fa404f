// Package gc implements the daemon's idle-linger reaper: a background
// ticker that unexports sessions with no NFS activity for longer than a
// configured interval.
package gc

import (
	"context"
	"time"

	"github.com/vibefs/vibed/internal/logger"
)

var log = logger.With("gc")

// Tracker is the subset of sessionmanager.Manager the reaper needs:
// enumerate sessions, find out when each last saw NFS activity, and
// unexport the ones that have been idle too long.
type Tracker interface {
	IdleSessions(cutoff time.Time) []string
	Unexport(ctx context.Context, id string) error
}

// Config controls the reaper's behavior.
type Config struct {
	// Enabled controls whether the reaper runs at all (default: true).
	Enabled bool

	// Interval is how often the reaper checks for idle sessions.
	Interval time.Duration

	// IdleLinger is how long a session may sit with no NFS activity
	// before the reaper unexports it. Zero disables idle reaping even if
	// Enabled is true.
	IdleLinger time.Duration
}

// Reaper periodically unexports idle sessions in the background.
type Reaper struct {
	tracker Tracker
	config  Config
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a Reaper. Call Start to begin the background ticker.
func New(tracker Tracker, config Config) *Reaper {
	if config.Interval == 0 {
		config.Interval = time.Minute
	}
	return &Reaper{
		tracker: tracker,
		config:  config,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins the background sweep. Safe to call at most once.
func (r *Reaper) Start() {
	if !r.config.Enabled || r.config.IdleLinger == 0 {
		log.Info("idle reaper disabled")
		close(r.doneCh)
		return
	}
	log.Info("starting idle reaper: interval=%s idle_linger=%s", r.config.Interval, r.config.IdleLinger)
	go r.worker()
}

// Stop signals the worker to stop and waits for it to finish or ctx to
// expire, whichever comes first.
func (r *Reaper) Stop(ctx context.Context) error {
	select {
	case <-r.doneCh:
		return nil
	default:
	}
	close(r.stopCh)
	select {
	case <-r.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reaper) worker() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reaper) sweep() {
	cutoff := time.Now().Add(-r.config.IdleLinger)
	ids := r.tracker.IdleSessions(cutoff)
	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := r.tracker.Unexport(ctx, id); err != nil {
			log.Error("idle reaper: unexport %s: %v", id, err)
		} else {
			log.Info("idle reaper: unexported %s after %s of inactivity", id, r.config.IdleLinger)
		}
		cancel()
	}
}
