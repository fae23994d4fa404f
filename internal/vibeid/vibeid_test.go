package vibeid_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vibefs/vibed/internal/vibeid"
)

func TestNextAvoidsCollisions(t *testing.T) {
	g := vibeid.NewGenerator([]string{"brave"}, []string{"otter"})
	taken := map[string]bool{"brave-otter": true}

	id := g.Next(taken)
	require.Equal(t, "brave-otter-2", id)
}

func TestNextFallsBackWithoutWordLists(t *testing.T) {
	g := vibeid.NewGenerator(nil, nil)
	id := g.Next(nil)
	require.Contains(t, id, "session-")
}
