package sessionmanager

import (
	"context"
	"fmt"
	"os"

	"github.com/vibefs/vibed/internal/gitodb"
	"github.com/vibefs/vibed/internal/metadata"
	"github.com/vibefs/vibed/internal/session"
)

// PromoteOptions configures one promote call.
type PromoteOptions struct {
	Only    []string // glob patterns; nil/empty means "everything dirty"
	Message string   // defaults to "VibeFS: Promote session '<id>'"
}

// PromoteResult reports what a promote did.
type PromoteResult struct {
	Commit    string
	Promoted  []string
	Skipped   []string // excluded by ignore rules, volatile, or --only
	NoChanges bool
}

// Promote rewrites the session's dirty set onto its spawn_commit's tree
// and records the result as a new commit under refs/vibes/<id>. Dirty
// marks are never cleared: a later promote starts from the same
// spawn_commit tree but chains its commit onto the previous promote,
// so the history under refs/vibes/<id> accumulates one commit per
// promote rather than amending in place.
func (m *Manager) Promote(ctx context.Context, id string, opts PromoteOptions) (PromoteResult, error) {
	rec, ok, err := m.sessions.Load(id)
	if err != nil {
		return PromoteResult{}, err
	}
	if !ok {
		return PromoteResult{}, fmt.Errorf("session %q not found", id)
	}

	records, err := m.meta.List(ctx, id)
	if err != nil {
		return PromoteResult{}, err
	}

	candidates := make([]metadata.InodeRecord, 0, len(records))
	var skipped []string
	for _, r := range records {
		if r.Volatile {
			skipped = append(skipped, r.Path)
			continue
		}
		if !matchOnly(opts.Only, r.Path) {
			skipped = append(skipped, r.Path)
			continue
		}
		candidates = append(candidates, r)
	}

	ignored, err := m.evaluateIgnore(ctx, candidates)
	if err != nil {
		return PromoteResult{}, err
	}

	deltaRoot := m.sessions.DeltaDir(id)
	var edits []gitodb.TreeEdit
	var promoted []string
	for _, r := range candidates {
		if ignored[r.Path] {
			skipped = append(skipped, r.Path)
			continue
		}
		edit, err := m.buildEdit(ctx, deltaRoot, r)
		if err != nil {
			return PromoteResult{}, fmt.Errorf("promote %s: %w", r.Path, err)
		}
		edits = append(edits, edit)
		promoted = append(promoted, r.Path)
	}

	if len(edits) == 0 {
		return PromoteResult{Skipped: skipped, NoChanges: true}, nil
	}

	tree, err := m.repo.RewriteTree(ctx, rec.SpawnCommit, edits)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("rewrite tree: %w", err)
	}

	parent := rec.SpawnCommit
	if prev, ok, err := m.repo.ResolveRef(ctx, rec.SpawnBranch); err != nil {
		return PromoteResult{}, fmt.Errorf("resolve %s: %w", rec.SpawnBranch, err)
	} else if ok {
		parent = prev
	}

	message := opts.Message
	if message == "" {
		message = fmt.Sprintf("VibeFS: Promote session '%s'", id)
	}

	commit, err := m.repo.WriteCommit(ctx, tree, parent, message)
	if err != nil {
		return PromoteResult{}, fmt.Errorf("commit tree: %w", err)
	}
	if err := m.repo.UpdateRef(ctx, rec.SpawnBranch, commit); err != nil {
		return PromoteResult{}, fmt.Errorf("update %s: %w", rec.SpawnBranch, err)
	}

	rec.State = session.StatePromoted
	rec.Promoted = true
	if err := m.sessions.Save(rec); err != nil {
		return PromoteResult{}, err
	}

	log.Info("promoted session %s -> %s (%d path(s))", id, commit, len(promoted))
	return PromoteResult{Commit: commit, Promoted: promoted, Skipped: skipped}, nil
}

func (m *Manager) evaluateIgnore(ctx context.Context, records []metadata.InodeRecord) (map[string]bool, error) {
	paths := make([]string, 0, len(records))
	for _, r := range records {
		if r.Kind != metadata.KindTombstone {
			paths = append(paths, r.Path)
		}
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return m.repo.EvaluateIgnore(ctx, paths)
}

// buildEdit turns one dirty InodeRecord into a gitodb.TreeEdit: a
// tombstone becomes a deletion, everything else is hashed into the
// object database and recorded with its blob mode.
func (m *Manager) buildEdit(ctx context.Context, deltaRoot string, r metadata.InodeRecord) (gitodb.TreeEdit, error) {
	if r.Kind == metadata.KindTombstone {
		return gitodb.TreeEdit{Path: r.Path, Delete: true}, nil
	}

	if r.Kind == metadata.KindSymlink {
		oid, err := m.repo.WriteBlob(ctx, []byte(r.Origin.Target))
		if err != nil {
			return gitodb.TreeEdit{}, err
		}
		return gitodb.TreeEdit{Path: r.Path, OID: oid, Mode: "120000"}, nil
	}

	content, err := os.ReadFile(fileInDelta(deltaRoot, r.Path))
	if err != nil {
		return gitodb.TreeEdit{}, fmt.Errorf("read delta file: %w", err)
	}
	oid, err := m.repo.WriteBlob(ctx, content)
	if err != nil {
		return gitodb.TreeEdit{}, err
	}
	mode := "100644"
	if r.Mode&0o111 != 0 {
		mode = "100755"
	}
	return gitodb.TreeEdit{Path: r.Path, OID: oid, Mode: mode}, nil
}

func fileInDelta(deltaRoot, path string) string {
	return deltaRoot + "/" + path
}

// PromoteAll runs Promote for every known session with a nonempty dirty
// set, reporting per-session results. A session with nothing promotable
// is reported as skipped rather than failed.
func (m *Manager) PromoteAll(ctx context.Context, opts PromoteOptions) (map[string]PromoteResult, map[string]error) {
	recs, err := m.sessions.List()
	if err != nil {
		return nil, map[string]error{"*": err}
	}

	results := make(map[string]PromoteResult, len(recs))
	errs := make(map[string]error)
	for _, rec := range recs {
		if rec.State == session.StateKilled {
			continue
		}
		res, err := m.Promote(ctx, rec.ID, opts)
		if err != nil {
			errs[rec.ID] = err
			continue
		}
		results[rec.ID] = res
	}
	return results, errs
}
