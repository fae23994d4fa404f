package sessionmanager

import (
	"context"
	"sort"

	"github.com/vibefs/vibed/internal/metadata"
	"github.com/vibefs/vibed/internal/session"
)

// Conflicts reports, for every path dirty in more than one live (non-
// killed) session, the set of session ids that have touched it: the
// multi-owner partition of the union of every session's dirty set — a
// path dirty in only one session never appears here.
func (m *Manager) Conflicts(ctx context.Context) (map[string][]string, error) {
	recs, err := m.sessions.List()
	if err != nil {
		return nil, err
	}

	owners := make(map[string][]string)
	for _, rec := range recs {
		if rec.State == session.StateKilled {
			continue
		}
		dirty, err := m.meta.List(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		for _, r := range dirty {
			if r.Kind == metadata.KindTombstone {
				continue
			}
			owners[r.Path] = append(owners[r.Path], rec.ID)
		}
	}

	conflicts := make(map[string][]string)
	for path, ids := range owners {
		if len(ids) > 1 {
			sort.Strings(ids)
			conflicts[path] = ids
		}
	}
	return conflicts, nil
}
